// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aiwidget/server/services/widgetd/datatypes"
	"github.com/aiwidget/server/services/widgetd/store"
)

// ProjectReader is the slice of the store the origin gate needs.
type ProjectReader interface {
	GetProject(ctx context.Context, id string) (*datatypes.Project, error)
}

// OriginGate enforces a per-project allowlist of browser origins on the
// public widget routes.
//
// # Description
//
// Widget scripts are embedded on arbitrary third-party pages, so each
// project declares which origins may call its widget endpoints. Requests
// without an Origin header pass through unchecked (curl, server-side
// clients). Requests with one are matched against the project allowlist
// after normalization; an empty allowlist denies every browser request.
//
// On a match the response reflects the exact received Origin value,
// allows credentials, and varies the cache key on Origin. Preflight
// OPTIONS requests short-circuit with 204 once the origin is confirmed.
func OriginGate(projects ProjectReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		project, err := projects.GetProject(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		if !originAllowed(origin, project.AllowedOrigins) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "origin_not_allowed",
				"origin": origin,
			})
			return
		}

		// Reflect the origin exactly as received, not its normalized form.
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// originAllowed reports whether origin matches any allowlist entry, as a
// full origin or as a bare host.
func originAllowed(origin string, allowlist []string) bool {
	normalized := normalizeOrigin(origin)
	host := originHost(normalized)
	for _, entry := range allowlist {
		e := normalizeOrigin(entry)
		if e == "" {
			continue
		}
		if e == normalized {
			return true
		}
		// Operators may configure just a hostname.
		if host != "" && e == host {
			return true
		}
	}
	return false
}

// normalizeOrigin lowercases and strips whitespace and trailing slashes so
// "https://Example.com/" and "https://example.com" compare equal.
func normalizeOrigin(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/")
}

// originHost extracts the host (without port) from a normalized origin,
// or "" if it does not parse.
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}
