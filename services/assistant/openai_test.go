// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSink captures everything a run pushes through the sink.
type recordSink struct {
	deltas []string
	tools  []ToolEvent
}

func (s *recordSink) OnTextDelta(text string)   { s.deltas = append(s.deltas, text) }
func (s *recordSink) OnToolEvent(ev ToolEvent) { s.tools = append(s.tools, ev) }

func pollClient(baseURL string) *OpenAIClient {
	return NewOpenAIClient(Config{
		Transport:    TransportPoll,
		BaseURL:      baseURL,
		PollInterval: 5 * time.Millisecond,
		RunDeadline:  time.Second,
	})
}

func TestCreateThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threads", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id":"thread_abc","object":"thread","created_at":1}`)
	}))
	defer srv.Close()

	id, err := pollClient(srv.URL).CreateThread(context.Background(), "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", id)
}

func TestCreateThreadEmptyKey(t *testing.T) {
	_, err := pollClient("http://unused").CreateThread(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestInjectOperatorTurnTagsMessage(t *testing.T) {
	var got struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/t1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"msg_1","object":"thread.message","role":"assistant","content":[]}`)
	}))
	defer srv.Close()

	err := pollClient(srv.URL).InjectOperatorTurn(context.Background(), "sk-test", "t1", "I will take it from here")
	require.NoError(t, err)
	assert.Equal(t, "assistant", got.Role)
	assert.Equal(t, "[OPERATOR] I will take it from here", got.Content)
}

func TestUpdateAssistantInstructionsKeepsModel(t *testing.T) {
	var modified struct {
		Model        string  `json:"model"`
		Instructions *string `json:"instructions"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/assistants/a1", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"id":"a1","object":"assistant","model":"gpt-4o","instructions":"old"}`)
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&modified))
			fmt.Fprint(w, `{"id":"a1","object":"assistant","model":"gpt-4o"}`)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	err := pollClient(srv.URL).UpdateAssistantInstructions(context.Background(), "sk-test", "a1", "new rules")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", modified.Model)
	require.NotNil(t, modified.Instructions)
	assert.Equal(t, "new rules", *modified.Instructions)
}

func TestAssistantInstructions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"a1","object":"assistant","model":"gpt-4o","instructions":"be helpful"}`)
	}))
	defer srv.Close()

	got, err := pollClient(srv.URL).AssistantInstructions(context.Background(), "sk-test", "a1")
	require.NoError(t, err)
	assert.Equal(t, "be helpful", got)
}

func TestPollRunCompletes(t *testing.T) {
	var retrieves atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","object":"thread.message","role":"user","content":[]}`)
	})
	mux.HandleFunc("POST /threads/t1/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","object":"thread.run","status":"queued"}`)
	})
	mux.HandleFunc("GET /threads/t1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		status := "in_progress"
		if retrieves.Add(1) >= 3 {
			status = "completed"
		}
		fmt.Fprintf(w, `{"id":"run_1","object":"thread.run","status":%q}`, status)
	})
	mux.HandleFunc("GET /threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		fmt.Fprint(w, `{"object":"list","data":[
			{"id":"m2","object":"thread.message","role":"assistant",
			 "content":[{"type":"text","text":{"value":"Hi, how can I help?","annotations":[]}}]},
			{"id":"m1","object":"thread.message","role":"user",
			 "content":[{"type":"text","text":{"value":"hello","annotations":[]}}]}
		]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink := &recordSink{}
	text, err := pollClient(srv.URL).RunTurn(context.Background(), TurnParams{
		APIKey:      "sk-test",
		ThreadID:    "t1",
		AssistantID: "a1",
		UserText:    "hello",
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, "Hi, how can I help?", text)
	// Poll mode delivers the whole reply as one delta.
	assert.Equal(t, []string{"Hi, how can I help?"}, sink.deltas)
	assert.GreaterOrEqual(t, retrieves.Load(), int32(3))
}

func TestPollRunFailedStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","object":"thread.message","role":"user","content":[]}`)
	})
	mux.HandleFunc("POST /threads/t1/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","object":"thread.run","status":"queued"}`)
	})
	mux.HandleFunc("GET /threads/t1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","object":"thread.run","status":"failed"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink := &recordSink{}
	_, err := pollClient(srv.URL).RunTurn(context.Background(), TurnParams{
		APIKey: "sk-test", ThreadID: "t1", AssistantID: "a1", UserText: "hello",
	}, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Empty(t, sink.deltas)
}

func TestPollRunDeadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","object":"thread.message","role":"user","content":[]}`)
	})
	mux.HandleFunc("POST /threads/t1/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","object":"thread.run","status":"queued"}`)
	})
	mux.HandleFunc("GET /threads/t1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","object":"thread.run","status":"in_progress"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewOpenAIClient(Config{
		Transport:    TransportPoll,
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
		RunDeadline:  30 * time.Millisecond,
	})
	_, err := client.RunTurn(context.Background(), TurnParams{
		APIKey: "sk-test", ThreadID: "t1", AssistantID: "a1", UserText: "hello",
	}, &recordSink{})
	assert.ErrorIs(t, err, ErrRunTimeout)
}

func sseBody(events ...[2]string) string {
	var body string
	for _, ev := range events {
		body += "event: " + ev[0] + "\ndata: " + ev[1] + "\n\n"
	}
	return body + "event: done\ndata: [DONE]\n\n"
}

func streamClient(baseURL string) *OpenAIClient {
	return NewOpenAIClient(Config{Transport: TransportStream, BaseURL: baseURL})
}

func TestStreamRunDeliversDeltas(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","object":"thread.message","role":"user","content":[]}`)
	})
	mux.HandleFunc("POST /threads/t1/runs", func(w http.ResponseWriter, r *http.Request) {
		var req runStreamRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "a1", req.AssistantID)
		assert.Equal(t, "keep it short", req.AdditionalInstructions)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			[2]string{"thread.run.created", `{"id":"run_1","status":"queued"}`},
			[2]string{"thread.run.step.created", `{"id":"step_1"}`},
			[2]string{"thread.message.delta", `{"delta":{"content":[{"type":"text","text":{"value":"Hel"}}]}}`},
			[2]string{"thread.message.delta", `{"delta":{"content":[{"type":"text","text":{"value":"lo!"}}]}}`},
			[2]string{"thread.message.completed", `{"content":[{"type":"text","text":{"value":"Hello!"}}]}`},
			[2]string{"thread.run.completed", `{"id":"run_1","status":"completed"}`},
		))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink := &recordSink{}
	text, err := streamClient(srv.URL).RunTurn(context.Background(), TurnParams{
		APIKey:                 "sk-test",
		ThreadID:               "t1",
		AssistantID:            "a1",
		AdditionalInstructions: "keep it short",
		UserText:               "hi",
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", text)
	assert.Equal(t, []string{"Hel", "lo!"}, sink.deltas)
	assert.Equal(t, []ToolEvent{{Event: "thread.run.step.created"}}, sink.tools)
}

func TestStreamRunFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","object":"thread.message","role":"user","content":[]}`)
	})
	mux.HandleFunc("POST /threads/t1/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			[2]string{"thread.run.failed", `{"status":"failed","last_error":{"code":"server_error","message":"model overloaded"}}`},
		))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := streamClient(srv.URL).RunTurn(context.Background(), TurnParams{
		APIKey: "sk-test", ThreadID: "t1", AssistantID: "a1", UserText: "hi",
	}, &recordSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestStreamRunUnauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","object":"thread.message","role":"user","content":[]}`)
	})
	mux.HandleFunc("POST /threads/t1/runs", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := streamClient(srv.URL).RunTurn(context.Background(), TurnParams{
		APIKey: "sk-bad", ThreadID: "t1", AssistantID: "a1", UserText: "hi",
	}, &recordSink{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStreamRunFallsBackToAccumulatedText(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","object":"thread.message","role":"user","content":[]}`)
	})
	mux.HandleFunc("POST /threads/t1/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			[2]string{"thread.message.delta", `{"delta":{"content":[{"type":"text","text":{"value":"partial"}}]}}`},
		))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	text, err := streamClient(srv.URL).RunTurn(context.Background(), TurnParams{
		APIKey: "sk-test", ThreadID: "t1", AssistantID: "a1", UserText: "hi",
	}, &recordSink{})
	require.NoError(t, err)
	assert.Equal(t, "partial", text)
}
