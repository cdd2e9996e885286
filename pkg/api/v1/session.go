package v1

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Title       string `json:"title,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`
}

// SelectSessionRequest is the body of POST /sessions/select.
type SelectSessionRequest struct {
	ID string `json:"id" binding:"required"`
}

// UpdateSessionRequest is the body of PATCH /sessions/:id. Nil fields are
// left unchanged.
type UpdateSessionRequest struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}
