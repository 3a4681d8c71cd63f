// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aiwidget/server/services/widgetd/middleware"
	"github.com/aiwidget/server/services/widgetd/store"
)

// ListUsersHandler lists operator accounts. Admin only.
func ListUsersHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := deps.Store.ListUsers(c.Request.Context())
		if err != nil {
			slog.Error("Listing users failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUserHandler creates an operator account with the "user" role.
func CreateUserHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		_ = c.ShouldBindJSON(&req)
		email := strings.ToLower(strings.TrimSpace(req.Email))
		password := strings.TrimSpace(req.Password)
		if email == "" || password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email_and_password_required"})
			return
		}

		hash, err := HashPassword(password)
		if err != nil {
			slog.Error("Hashing password failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		user, err := deps.Store.CreateUser(c.Request.Context(), email, hash, middleware.RoleUser)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "user_exists"})
				return
			}
			slog.Error("Creating user failed", "email", email, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

type updatePasswordRequest struct {
	Password string `json:"password"`
}

// UpdateUserPasswordHandler replaces a user's password.
func UpdateUserPasswordHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updatePasswordRequest
		_ = c.ShouldBindJSON(&req)
		password := strings.TrimSpace(req.Password)
		if password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password_required"})
			return
		}

		hash, err := HashPassword(password)
		if err != nil {
			slog.Error("Hashing password failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		if err := deps.Store.UpdateUserPassword(c.Request.Context(), c.Param("userId"), hash); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
				return
			}
			slog.Error("Updating password failed", "user_id", c.Param("userId"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// DeleteUserHandler removes an operator account. Projects the user owned
// remain, with their owner reference cleared by the store.
func DeleteUserHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Store.DeleteUser(c.Request.Context(), c.Param("userId")); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
				return
			}
			slog.Error("Deleting user failed", "user_id", c.Param("userId"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
