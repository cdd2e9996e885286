package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/juncture-dev/juncture/internal/bridge"
	"github.com/juncture-dev/juncture/internal/session"
	v1 "github.com/juncture-dev/juncture/pkg/api/v1"
)

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name string
		req  v1.PromptRequest
		want string
	}{
		{
			name: "plain text",
			req:  v1.PromptRequest{Text: "explain this"},
			want: "explain this",
		},
		{
			name: "template with placeholder",
			req: v1.PromptRequest{
				Text:    "the parser",
				Context: &v1.PromptContext{Template: "Review {input} carefully."},
			},
			want: "Review the parser carefully.",
		},
		{
			name: "template without placeholder is prepended",
			req: v1.PromptRequest{
				Text:    "what changed?",
				Context: &v1.PromptContext{Template: "You are a reviewer."},
			},
			want: "You are a reviewer.\n\nwhat changed?",
		},
		{
			name: "file block with path",
			req: v1.PromptRequest{
				Text:    "explain",
				Context: &v1.PromptContext{File: "func main() {}", FilePath: "main.go"},
			},
			want: "explain\n\nmain.go:\n```\nfunc main() {}\n```",
		},
		{
			name: "diff block",
			req: v1.PromptRequest{
				Text:    "review",
				Context: &v1.PromptContext{Diff: "-old\n+new"},
			},
			want: "review\n\n```diff\n-old\n+new\n```",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildPrompt(&tt.req))
		})
	}
}

func TestPromptStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "busy turn conflicts", err: bridge.ErrTurnInProgress, want: http.StatusConflict},
		{name: "disconnected agent is a bad gateway", err: bridge.ErrNotConnected, want: http.StatusBadGateway},
		{name: "missing session", err: session.ErrSessionNotFound, want: http.StatusNotFound},
		{name: "anything else is internal", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, promptStatus(tt.err))
		})
	}
}
