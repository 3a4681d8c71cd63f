// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cleanup closes widget chats that have gone quiet. A background
// sweeper periodically marks chats closed once their last visitor activity
// is older than the configured idle threshold.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/aiwidget/server/services/widgetd/observability"
)

// Store is the slice of the conversation store the sweeper needs.
type Store interface {
	CloseInactiveChats(ctx context.Context, lastSeenBefore time.Time) (int64, error)
}

// Clock abstracts time.Now so tests can sweep at a fixed instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config controls the sweeper.
type Config struct {
	// IdleAfter is how long a chat may sit without visitor activity
	// before it is closed. Default: 24h.
	IdleAfter time.Duration

	// Interval is the sweep period. Default: 1h.
	Interval time.Duration

	// Clock overrides the time source. Default: the system clock.
	Clock Clock
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.IdleAfter == 0 {
		cfg.IdleAfter = 24 * time.Hour
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return cfg
}

// Sweeper runs the periodic close-inactive-chats pass.
type Sweeper struct {
	store  Store
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(store Store, cfg Config) *Sweeper {
	return &Sweeper{store: store, cfg: applyConfigDefaults(cfg)}
}

// Start launches the sweep loop. The first sweep runs after one interval.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// RunOnce performs a single sweep and returns how many chats it closed.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	cutoff := s.cfg.Clock.Now().Add(-s.cfg.IdleAfter)
	closed, err := s.store.CloseInactiveChats(ctx, cutoff)
	if err != nil {
		slog.Error("Inactive chat sweep failed", "error", err)
		return 0
	}
	if closed > 0 {
		observability.ChatsClosedTotal.Add(float64(closed))
		slog.Info("Closed inactive chats", "count", closed, "idle_after", s.cfg.IdleAfter)
	}
	return closed
}
