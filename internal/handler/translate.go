package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/signcast/api/internal/model"
	"github.com/signcast/api/internal/service"
	"github.com/signcast/api/pkg/response"
)

type TranslateHandler struct {
	service   *service.TranslateService
	validator *validator.Validate
}

func NewTranslateHandler(svc *service.TranslateService, v *validator.Validate) *TranslateHandler {
	return &TranslateHandler{
		service:   svc,
		validator: v,
	}
}

// Translate handles POST /translate_audio/
// @Summary      Submit audio for sign video synthesis
// @Description  Accepts base64 audio, records a job and queues it. Poll /video_status/{jobId} for the result.
// @Tags         Translate
// @Accept       json
// @Produce      json
// @Param        request body model.TranslateAudioRequest true "Audio submission"
// @Success      200 {object} model.TranslateAudioResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /translate_audio/ [post]
func (h *TranslateHandler) Translate(c *fiber.Ctx) error {
	var req model.TranslateAudioRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	jobID, err := h.service.Submit(c.UserContext(), req.Filename, req.ContentBase64)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			return response.Error(c, fiber.StatusBadRequest, response.CodeInvalidAudio, err.Error(),
				model.TranslateAudioResponse{JobID: jobID})
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.TranslateAudioResponse{JobID: jobID})
}

// Status handles GET /video_status/:jobId
// @Summary      Get job status
// @Description  processing, ready (video_url, transcript), error (error) or not_found
// @Tags         Translate
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.VideoStatusResponse
// @Router       /video_status/{jobId} [get]
func (h *TranslateHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, h.service.Status(c.UserContext(), c.Params("jobId")))
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
