// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"regexp"
	"strings"
)

// citationMarker matches a complete 【...】 citation span, the bracket pair
// the provider uses to annotate retrieval sources inside assistant text.
var citationMarker = regexp.MustCompile(`【[^】]*】`)

const markerOpen = "【"

// StripMarkers removes every complete citation span from text, then
// truncates from the first remaining unmatched opening bracket. A marker
// split across a chunk boundary therefore never leaks its opening half.
func StripMarkers(text string) string {
	text = citationMarker.ReplaceAllString(text, "")
	if i := strings.Index(text, markerOpen); i >= 0 {
		return text[:i]
	}
	return text
}

// Sanitizer incrementally cleans a streamed assistant reply.
//
// Deltas arrive in arbitrary pieces, so a citation marker may straddle
// chunk boundaries. The sanitizer buffers the raw text it has seen,
// recomputes the clean projection after each delta, and forwards only the
// suffix beyond what it has already emitted. The forwarded length never
// decreases, so downstream writers can append blindly.
type Sanitizer struct {
	raw  strings.Builder
	sent string
}

// Feed absorbs one raw delta and returns the newly forwardable clean text,
// possibly empty while a partial marker is pending.
func (s *Sanitizer) Feed(delta string) string {
	s.raw.WriteString(delta)
	clean := StripMarkers(s.raw.String())
	if len(clean) <= len(s.sent) {
		return ""
	}
	out := clean[len(s.sent):]
	s.sent = clean
	return out
}

// Finalize reconciles the stream against the authoritative final text.
// It returns whatever clean suffix has not been forwarded yet. If the
// final text diverges from the streamed prefix the already-sent portion
// stands and only new trailing text is emitted.
func (s *Sanitizer) Finalize(finalText string) string {
	clean := StripMarkers(finalText)
	if len(clean) <= len(s.sent) {
		return ""
	}
	out := clean[len(s.sent):]
	s.sent = clean
	return out
}

// Sent reports the total clean text forwarded so far.
func (s *Sanitizer) Sent() string {
	return s.sent
}
