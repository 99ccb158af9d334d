package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/signcast/api/internal/model"
)

const (
	minAudioBytes   = 1000
	defaultAudioExt = ".mp3"
)

// DecodeAudio accepts plain base64 or a data: URI, in either the standard
// or URL-safe alphabet, with or without padding. Percent-encoded payloads
// are unescaped and characters outside the alphabet are dropped.
func DecodeAudio(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URI")
		}
		s = s[comma+1:]
	}
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.Map(func(r rune) rune {
		if isBase64Char(r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, errors.New("empty audio payload")
	}

	data, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return data, nil
}

func isBase64Char(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	}
	return r == '+' || r == '/' || r == '='
}

// ValidateAudio checks that data looks like an audio or video container and
// returns the extension the temp file should carry.
func ValidateAudio(data []byte, filename string) (string, error) {
	if len(data) < minAudioBytes {
		return "", fmt.Errorf("audio too small (%d bytes)", len(data))
	}

	mt := mimetype.Detect(data)
	if !isMedia(mt) {
		return "", fmt.Errorf("unsupported content type %s", mt.String())
	}

	if ext := strings.ToLower(filepath.Ext(filename)); model.AllowedAudioExtensions[ext] {
		return ext, nil
	}
	if ext := mt.Extension(); ext != "" {
		return ext, nil
	}
	return defaultAudioExt, nil
}

func isMedia(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		s := m.String()
		if strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/") || s == "application/ogg" {
			return true
		}
	}
	return false
}
