// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripMarkers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text untouched", in: "hello world", want: "hello world"},
		{name: "single marker removed", in: "see【4:0†source】 docs", want: "see docs"},
		{name: "adjacent markers removed", in: "a【1†x】【2†y】b", want: "ab"},
		{name: "marker only", in: "【4:0†source】", want: ""},
		{name: "empty marker removed", in: "a【】b", want: "ab"},
		{name: "unmatched open truncates", in: "tail【4:0†sou", want: "tail"},
		{name: "complete then unmatched", in: "a【1†x】b【2†", want: "ab"},
		{name: "stray close kept", in: "a】b", want: "a】b"},
		{name: "empty input", in: "", want: ""},
		{name: "multiline body", in: "line one【1†x】\nline two", want: "line one\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMarkers(tt.in))
		})
	}
}

func TestSanitizerWholeDelta(t *testing.T) {
	var s Sanitizer
	assert.Equal(t, "see docs", s.Feed("see【4:0†source】 docs"))
	assert.Equal(t, "see docs", s.Sent())
}

func TestSanitizerMarkerAcrossDeltas(t *testing.T) {
	var s Sanitizer

	assert.Equal(t, "Our pricing", s.Feed("Our pricing【4:0†pri"))
	// The marker tail arrives in the next chunk together with more text.
	assert.Equal(t, " starts at $9.", s.Feed("cing.md】 starts at $9."))
	assert.Equal(t, "Our pricing starts at $9.", s.Sent())
}

func TestSanitizerFeedNeverShrinks(t *testing.T) {
	var s Sanitizer
	total := 0
	for _, delta := range []string{"a【", "1†", "x", "】", "b"} {
		out := s.Feed(delta)
		assert.GreaterOrEqual(t, len(out), 0)
		total += len(out)
		assert.Equal(t, total, len(s.Sent()))
	}
	assert.Equal(t, "ab", s.Sent())
}

func TestSanitizerFinalizeFlushesRemainder(t *testing.T) {
	var s Sanitizer
	assert.Equal(t, "a", s.Feed("a【1†pend"))
	assert.Equal(t, "b", s.Finalize("a【1†pending】b"))
	assert.Equal(t, "ab", s.Sent())
}

func TestSanitizerFinalizeDivergentFinalText(t *testing.T) {
	var s Sanitizer
	require.Equal(t, "streamed prefix", s.Feed("streamed prefix"))

	// The authoritative text is shorter than what already went out. The
	// forwarded portion stands and nothing new is emitted.
	assert.Equal(t, "", s.Finalize("short"))
	assert.Equal(t, "streamed prefix", s.Sent())
}

func TestSanitizerFinalizeIsIdempotent(t *testing.T) {
	var s Sanitizer
	s.Feed("hello")
	assert.Equal(t, " world", s.Finalize("hello world"))
	assert.Equal(t, "", s.Finalize("hello world"))
}

// TestSanitizerArbitrarySplits re-chunks the same marked-up text at random
// boundaries and checks that the emitted stream is always the clean text.
func TestSanitizerArbitrarySplits(t *testing.T) {
	const text = "Plans start at $9【4:0†pricing.md】 per seat. " +
		"See【4:1†faq.md】【4:2†terms.md】 our FAQ for details【4:3†fo"
	want := StripMarkers(text)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		var s Sanitizer
		var got strings.Builder
		// Deltas arrive as decoded JSON strings, so splits land on rune
		// boundaries.
		rest := []rune(text)
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			got.WriteString(s.Feed(string(rest[:n])))
			rest = rest[n:]
		}
		got.WriteString(s.Finalize(text))
		require.Equal(t, want, got.String(), "trial %d", trial)
	}
}
