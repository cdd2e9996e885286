// Package v1 holds the request and response types of the HTTP API so
// clients can share them without importing server internals.
package v1

// PromptContext carries optional blocks merged into the prompt body.
type PromptContext struct {
	Diff     string `json:"diff,omitempty"`
	File     string `json:"file,omitempty"`
	FilePath string `json:"filePath,omitempty"`
	Template string `json:"template,omitempty"`
}

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Text      string         `json:"text" binding:"required"`
	SessionID string         `json:"sessionId,omitempty"`
	Model     string         `json:"model,omitempty"`
	Context   *PromptContext `json:"context,omitempty"`
}

// PromptResponse acknowledges an accepted prompt; the turn itself streams
// over the /events WebSocket.
type PromptResponse struct {
	TurnID string `json:"turnId"`
}

// RegenerateRequest is the body of POST /prompt/regenerate. An empty body
// regenerates the last turn of the active session.
type RegenerateRequest struct {
	TurnID    string `json:"turnId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}
