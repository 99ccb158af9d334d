// Package resolver maps transcript words to sign-language clip references.
package resolver

import (
	"context"
	"log"
	"strings"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/signcast/api/internal/client"
	"github.com/signcast/api/internal/model"
)

const (
	DefaultWordCap   = 2
	DefaultLetterCap = 6
)

// ClipResolver turns a word into zero or more playable clip references
type ClipResolver interface {
	Resolve(ctx context.Context, word string) []model.ClipRef
}

// SignResolver resolves whole words first and fingerspells when the word
// itself has no sign. Lookups are memoized per normalized token.
type SignResolver struct {
	lookup    client.SignLookup
	cache     Cache
	wordCap   int
	letterCap int
	group     singleflight.Group
}

// Option configures a SignResolver
type Option func(*SignResolver)

// WithCache replaces the default in-memory cache
func WithCache(c Cache) Option {
	return func(r *SignResolver) { r.cache = c }
}

// WithCaps bounds the clips taken for a whole word and for a fingerspelled word
func WithCaps(wordCap, letterCap int) Option {
	return func(r *SignResolver) {
		if wordCap > 0 {
			r.wordCap = wordCap
		}
		if letterCap > 0 {
			r.letterCap = letterCap
		}
	}
}

// New creates a resolver backed by lookup
func New(lookup client.SignLookup, opts ...Option) *SignResolver {
	r := &SignResolver{
		lookup:    lookup,
		cache:     NewMemoryCache(),
		wordCap:   DefaultWordCap,
		letterCap: DefaultLetterCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns up to wordCap clips for the whole word, or up to letterCap
// fingerspelled letter clips in letter order. A word with no clips at all
// yields nil; lookup failures count as misses.
func (r *SignResolver) Resolve(ctx context.Context, word string) []model.ClipRef {
	token := Normalize(word)
	if token == "" {
		return nil
	}

	if urls := r.lookupToken(ctx, token); len(urls) > 0 {
		if len(urls) > r.wordCap {
			urls = urls[:r.wordCap]
		}
		refs := make([]model.ClipRef, 0, len(urls))
		for _, u := range urls {
			refs = append(refs, model.ClipRef{URL: u, Token: token})
		}
		return refs
	}

	var refs []model.ClipRef
	for _, ch := range token {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) {
			continue
		}
		letter := string(ch)
		urls := r.lookupToken(ctx, letter)
		if len(urls) == 0 {
			continue
		}
		refs = append(refs, model.ClipRef{URL: urls[0], Token: letter})
		if len(refs) >= r.letterCap {
			break
		}
	}
	return refs
}

func (r *SignResolver) lookupToken(ctx context.Context, token string) []string {
	if urls, ok := r.cache.Get(ctx, token); ok {
		return urls
	}

	v, err, _ := r.group.Do(token, func() (interface{}, error) {
		urls, err := r.lookup.Lookup(ctx, token)
		if err != nil {
			return nil, err
		}
		r.cache.Set(ctx, token, urls)
		return urls, nil
	})
	if err != nil {
		// not cached: a later job may find the source reachable again
		log.Printf("[resolver] lookup failed for %q: %v", token, err)
		return nil
	}
	return v.([]string)
}

// Normalize lower-cases a word and strips punctuation and symbols.
func Normalize(word string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, word)
	return strings.Join(strings.Fields(stripped), " ")
}
