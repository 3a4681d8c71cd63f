// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the widget service.
//
// This package contains the session authentication middleware for the
// operator/admin API and the per-project origin gate for the public
// widget API.
//
// # Authentication Flow
//
// The auth middleware reads the session cookie, verifies it with the
// configured TokenAuthority, and stores the resulting Identity in the Gin
// context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	RequireAuth
//	   │
//	   ├─► Read "aiw_session" cookie
//	   │
//	   ├─► authority.Verify(token)
//	   │
//	   └─► Store Identity in context
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// Session Tokens
// =============================================================================

// SessionCookie is the cookie carrying the signed session token.
const SessionCookie = "aiw_session"

// Session roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// identityKey is the context key for storing Identity.
const identityKey = "aiw_identity"

// ErrInvalidToken is returned by Verify for any token that fails
// signature, shape, or expiry checks.
var ErrInvalidToken = errors.New("invalid session token")

// Identity is the authenticated caller of an operator/admin request.
//
// # Description
//
// Admin sessions issued from the environment credential carry an empty
// UserID; user sessions carry the user's store id so handlers can scope
// queries to resources the user owns.
type Identity struct {
	Login  string
	Role   string
	UserID string
}

type sessionClaims struct {
	Login  string `json:"login"`
	Role   string `json:"role"`
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthority issues and verifies signed session tokens.
type TokenAuthority struct {
	secret []byte
	ttl    time.Duration
}

// TokenTTL is how long an issued session stays valid.
const TokenTTL = 7 * 24 * time.Hour

func NewTokenAuthority(secret string) *TokenAuthority {
	return &TokenAuthority{secret: []byte(secret), ttl: TokenTTL}
}

// Issue signs a session token for the identity.
func (a *TokenAuthority) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Login:  id.Login,
		Role:   id.Role,
		UserID: id.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// Verify parses and validates a session token.
func (a *TokenAuthority) Verify(token string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return &Identity{Login: claims.Login, Role: claims.Role, UserID: claims.UserID}, nil
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetIdentity stores the authenticated caller in the Gin context.
func SetIdentity(c *gin.Context, id *Identity) {
	c.Set(identityKey, id)
}

// GetIdentity retrieves the authenticated caller, or nil for an
// unauthenticated request.
func GetIdentity(c *gin.Context) *Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(*Identity); ok {
			return id
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// authenticate verifies the session cookie and stores the Identity. On
// failure it aborts with 401 and returns nil.
func authenticate(c *gin.Context, authority *TokenAuthority) *Identity {
	token, err := c.Cookie(SessionCookie)
	if err != nil || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	id, err := authority.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	SetIdentity(c, id)
	return id
}

// RequireAuth authenticates the request from its session cookie.
//
// # Description
//
// Reads the session cookie, verifies it with the authority, and stores
// the Identity for downstream handlers. Requests without a valid session
// are aborted with 401.
func RequireAuth(authority *TokenAuthority) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, authority)
	}
}

// RequireRole authenticates the request and additionally requires the
// given role, aborting with 403 on mismatch.
func RequireRole(authority *TokenAuthority, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := authenticate(c, authority)
		if id == nil {
			return
		}
		if id.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
	}
}

// RequireAdmin gates routes to admin sessions.
func RequireAdmin(authority *TokenAuthority) gin.HandlerFunc {
	return RequireRole(authority, RoleAdmin)
}

// RequireUser gates routes to regular user sessions.
func RequireUser(authority *TokenAuthority) gin.HandlerFunc {
	return RequireRole(authority, RoleUser)
}
