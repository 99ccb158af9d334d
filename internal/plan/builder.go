// Package plan turns a time-aligned transcript into an ordered video plan.
package plan

import (
	"context"
	"math"

	"github.com/signcast/api/internal/model"
	"github.com/signcast/api/internal/resolver"
)

const (
	DefaultWordFloor = 0.12 // seconds a word is shown at minimum
	DefaultClipFloor = 0.08 // seconds any single clip is shown at minimum
)

// Builder allocates playback time to the clips resolved for each word
type Builder struct {
	resolver  resolver.ClipResolver
	wordFloor float64
	clipFloor float64
}

// NewBuilder creates a plan builder. Non-positive floors fall back to the defaults.
func NewBuilder(r resolver.ClipResolver, wordFloor, clipFloor float64) *Builder {
	if wordFloor <= 0 {
		wordFloor = DefaultWordFloor
	}
	if clipFloor <= 0 {
		clipFloor = DefaultClipFloor
	}
	return &Builder{resolver: r, wordFloor: wordFloor, clipFloor: clipFloor}
}

// Build resolves every word in transcript order. A word with k clips gets k
// consecutive entries sharing its duration; words with no clips are dropped.
func (b *Builder) Build(ctx context.Context, words []model.Word) []model.PlanEntry {
	var entries []model.PlanEntry
	for _, w := range words {
		if ctx.Err() != nil {
			break
		}
		refs := b.resolver.Resolve(ctx, w.Text)
		if len(refs) == 0 {
			continue
		}

		duration := b.WordDuration(w)
		per := duration
		if len(refs) > 1 {
			per = math.Max(duration/float64(len(refs)), b.clipFloor)
		}
		for _, ref := range refs {
			entries = append(entries, model.PlanEntry{
				Clip:     ref,
				Duration: per,
				Token:    w.Text,
			})
		}
	}
	return entries
}

// WordDuration is the word's spoken span in seconds, never below the word floor
func (b *Builder) WordDuration(w model.Word) float64 {
	span := float64(w.End-w.Start) / 1000
	return math.Max(span, b.wordFloor)
}
