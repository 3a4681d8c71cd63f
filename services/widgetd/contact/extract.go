// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contact scans visitor messages for contact identifiers so
// operators can be notified about leads. Detection is best-effort: false
// positives and misses are acceptable, duplicate findings within one
// message are not.
package contact

import (
	"regexp"
	"strings"
)

// Contact identifier types.
const (
	TypeEmail  = "email"
	TypePhone  = "phone"
	TypeHandle = "handle"
	TypeLink   = "link"
)

// Contact is one identifier found in a message. Value keeps the text as it
// appeared; de-duplication uses a normalized form internally.
type Contact struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// Phone-like digit run: at least 8 digits total, optional leading +,
	// with spaces, dashes and parentheses allowed in between.
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}\d`)

	// @handle preceded by start of text or punctuation/whitespace, so
	// email local parts do not double-report as handles.
	handleRe = regexp.MustCompile(`(?:^|[\s.,;:!?(])@([A-Za-z0-9_]{3,32})\b`)

	linkRe = regexp.MustCompile(`(?i)\b(?:https?://)?(?:t\.me|wa\.me)/[A-Za-z0-9_+\-]+`)

	labeledRe = regexp.MustCompile(`(?i)\b(telegram|tg|whatsapp|viber|instagram|email)\s*[:\-]\s*(\S+)`)
)

// labelTypes maps labeled-mention labels to contact types.
var labelTypes = map[string]string{
	"telegram":  "telegram",
	"tg":        "telegram",
	"whatsapp":  "whatsapp",
	"viber":     "viber",
	"instagram": "instagram",
	"email":     TypeEmail,
}

// Extract scans text and returns the distinct contact identifiers found,
// in order of first appearance per detector. Duplicates are suppressed by
// case-insensitive (type, normalized value).
func Extract(text string) []Contact {
	if text == "" {
		return nil
	}

	var found []Contact
	seen := make(map[string]bool)
	add := func(typ, value string) {
		value = strings.TrimRight(value, ".,;:!?)")
		if value == "" {
			return
		}
		key := typ + "\x00" + normalize(typ, value)
		if seen[key] {
			return
		}
		seen[key] = true
		found = append(found, Contact{Type: typ, Value: value})
	}

	for _, m := range emailRe.FindAllString(text, -1) {
		add(TypeEmail, m)
	}
	for _, m := range linkRe.FindAllString(text, -1) {
		add(TypeLink, m)
	}
	for _, m := range phoneRe.FindAllString(text, -1) {
		if digitCount(m) >= 8 {
			add(TypePhone, strings.TrimSpace(m))
		}
	}
	for _, m := range handleRe.FindAllStringSubmatch(text, -1) {
		add(TypeHandle, "@"+m[1])
	}
	for _, m := range labeledRe.FindAllStringSubmatch(text, -1) {
		typ := labelTypes[strings.ToLower(m[1])]
		add(typ, m[2])
	}
	return found
}

// normalize collapses the forms a visitor might retype the same identifier
// in, per type.
func normalize(typ, value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch typ {
	case TypePhone:
		var b strings.Builder
		for i, r := range value {
			if r >= '0' && r <= '9' || r == '+' && i == 0 {
				b.WriteRune(r)
			}
		}
		return b.String()
	case TypeHandle:
		return strings.TrimPrefix(value, "@")
	case TypeLink:
		value = strings.TrimPrefix(value, "https://")
		value = strings.TrimPrefix(value, "http://")
		return value
	}
	return value
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
