package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/signcast/api/internal/model"
)

var (
	// ErrNoClips means no planned clip could be fetched and conformed
	ErrNoClips = errors.New("no sign clips available to merge")
	// ErrMerge means the final concatenation did not produce a usable file
	ErrMerge = errors.New("video merge failed")
)

const DefaultFetchConcurrency = 4

// Engine fetches, conforms and concatenates a video plan
type Engine struct {
	fetcher     Normalizer
	tool        *Tool
	profile     Profile
	concurrency int
	tempDir     string
}

// NewEngine creates a concatenation engine. tempDir "" uses the OS default.
func NewEngine(fetcher Normalizer, tool *Tool, profile Profile, concurrency int, tempDir string) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	return &Engine{
		fetcher:     fetcher,
		tool:        tool,
		profile:     profile,
		concurrency: concurrency,
		tempDir:     tempDir,
	}
}

// Merge writes the plan to outputPath as one audio-free MP4. Clips that
// fail to fetch or conform are skipped. outputPath is only ever created
// complete; on error it is left untouched.
func (e *Engine) Merge(ctx context.Context, plan []model.PlanEntry, outputPath string) error {
	if len(plan) == 0 {
		return ErrNoClips
	}

	scratch, err := os.MkdirTemp(e.tempDir, "merge-*")
	if err != nil {
		return fmt.Errorf("%w: create scratch dir: %v", ErrMerge, err)
	}
	defer os.RemoveAll(scratch)

	conformed := make([]string, len(plan))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, entry := range plan {
		g.Go(func() error {
			p, err := e.prepare(gctx, i, entry, scratch)
			if err != nil {
				log.Printf("[media] skip clip %s: %v", entry.Clip.URL, err)
				return nil
			}
			conformed[i] = p
			return nil
		})
	}
	// failed clips are skipped, so no goroutine reports an error
	g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	var survivors []string
	for _, p := range conformed {
		if p != "" {
			survivors = append(survivors, p)
		}
	}
	if len(survivors) == 0 {
		return ErrNoClips
	}
	if skipped := len(plan) - len(survivors); skipped > 0 {
		log.Printf("[media] %d of %d clips skipped", skipped, len(plan))
	}

	listPath := filepath.Join(scratch, "concat.txt")
	if err := writeConcatList(listPath, survivors); err != nil {
		return fmt.Errorf("%w: %v", ErrMerge, err)
	}

	partial := filepath.Join(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+"."+uuid.NewString()[:8]+".part")
	if err := e.tool.Concat(ctx, listPath, partial); err != nil {
		os.Remove(partial)
		return fmt.Errorf("%w: %v", ErrMerge, err)
	}

	info, err := os.Stat(partial)
	if err != nil || info.Size() == 0 {
		os.Remove(partial)
		return fmt.Errorf("%w: output not written or empty", ErrMerge)
	}
	if err := os.Rename(partial, outputPath); err != nil {
		os.Remove(partial)
		return fmt.Errorf("%w: %v", ErrMerge, err)
	}

	if d, err := e.tool.ProbeDuration(ctx, outputPath); err == nil {
		log.Printf("[media] wrote %s (%d bytes, %.2fs, %d clips)", outputPath, info.Size(), d.Seconds(), len(survivors))
	} else {
		log.Printf("[media] wrote %s (%d bytes, %d clips)", outputPath, info.Size(), len(survivors))
	}
	return nil
}

func (e *Engine) prepare(ctx context.Context, i int, entry model.PlanEntry, scratch string) (string, error) {
	fetched, err := e.fetcher.Fetch(ctx, entry.Clip, scratch)
	if err != nil {
		return "", err
	}
	defer os.Remove(fetched)

	out := filepath.Join(scratch, fmt.Sprintf("clip_%04d.mp4", i))
	if err := e.tool.Conform(ctx, fetched, out, entry.Duration, e.profile); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}

func writeConcatList(listPath string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("file '" + strings.ReplaceAll(f, "'", `'\''`) + "'\n")
	}
	return os.WriteFile(listPath, []byte(b.String()), 0o644)
}
