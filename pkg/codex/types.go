// Package codex provides types and client for the Codex app-server protocol.
// The protocol is a JSON-RPC 2.0 variant over stdio that omits the
// "jsonrpc":"2.0" header. Two generations of server notifications exist: the
// modern item/turn schema and the legacy codex/event/* envelope; both are
// declared here so consumers can normalize either.
package codex

import (
	"encoding/json"
	"fmt"
)

// Request represents a JSON-RPC request (without jsonrpc field)
type Request struct {
	ID     interface{}     `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response
type Response struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Notification represents a notification (no id field)
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface so RPC errors can be wrapped and
// inspected with errors.As.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Client-to-server method names
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "initialized" // Notification
	MethodThreadStart   = "thread/start"
	MethodThreadResume  = "thread/resume"
	MethodTurnStart     = "turn/start"
	MethodTurnInterrupt = "turn/interrupt"
	MethodModelList     = "model/list"
)

// Modern notification methods (server -> client)
const (
	NotifyThreadStarted             = "thread/started"
	NotifyTurnStarted               = "turn/started"
	NotifyTurnCompleted             = "turn/completed"
	NotifyTurnFailed                = "turn/failed"
	NotifyTurnInterrupted           = "turn/interrupted"
	NotifyTurnCancelled             = "turn/cancelled"
	NotifyTurnDiffUpdated           = "turn/diff/updated"
	NotifyTurnPlanUpdated           = "turn/plan/updated"
	NotifyItemStarted               = "item/started"
	NotifyItemCompleted             = "item/completed"
	NotifyItemAgentMessageDelta     = "item/agentMessage/delta"
	NotifyItemReasoningSummaryDelta = "item/reasoning/summaryTextDelta"
	NotifyItemReasoningTextDelta    = "item/reasoning/textDelta"
	NotifyItemCmdExecOutputDelta    = "item/commandExecution/outputDelta"
	NotifyError                     = "error"
)

// Modern server-request methods (server -> client, carry an id)
const (
	RequestCmdExecApproval    = "item/commandExecution/requestApproval"
	RequestFileChangeApproval = "item/fileChange/requestApproval"
)

// LegacyEventPrefix wraps every legacy notification method:
// "codex/event/<type>" with params {msg:{type,payload}}.
const LegacyEventPrefix = "codex/event/"

// Legacy event types (the <type> part and msg.type field)
const (
	LegacyAgentMessage             = "agent_message"
	LegacyAgentMessageDelta        = "agent_message_delta"
	LegacyAgentMessageContentDelta = "agent_message_content_delta"
	LegacyAgentReasoning           = "agent_reasoning"
	LegacyAgentReasoningDelta      = "agent_reasoning_delta"
	LegacyAgentReasoningRawDelta   = "agent_reasoning_raw_content_delta"
	LegacyTaskStarted              = "task_started"
	LegacyTaskComplete             = "task_complete"
	LegacyTaskFailed               = "task_failed"
	LegacyTaskError                = "task_error"
	LegacyTaskInterrupted          = "task_interrupted"
	LegacyTaskCancelled            = "task_cancelled"
	LegacyExecApprovalRequest      = "exec_approval_request"
	LegacyExecCommandBegin         = "exec_command_begin"
	LegacyExecCommandEnd           = "exec_command_end"
	LegacyPatchApplyBegin          = "patch_apply_begin"
	LegacyPatchApplyEnd            = "patch_apply_end"
	LegacyMcpToolCallBegin         = "mcp_tool_call_begin"
	LegacyMcpToolCallEnd           = "mcp_tool_call_end"
	LegacyWebSearchBegin           = "web_search_begin"
	LegacyWebSearchEnd             = "web_search_end"
)

// LegacyEnvelope is the params shape of a codex/event/* notification.
type LegacyEnvelope struct {
	Msg *LegacyMsg `json:"msg"`
}

// LegacyMsg carries the event type and its free-form payload.
type LegacyMsg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitializeParams for initialize request
type InitializeParams struct {
	ClientInfo *ClientInfo `json:"clientInfo"`
}

// ClientInfo identifies the client
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// InitializeResult from initialize
type InitializeResult struct {
	UserAgent string `json:"userAgent,omitempty"`
}

// ThreadStartParams for thread/start
type ThreadStartParams struct {
	Model string `json:"model,omitempty"`
	Cwd   string `json:"cwd,omitempty"`
}

// ThreadResumeParams for thread/resume
type ThreadResumeParams struct {
	ThreadID string `json:"threadId"`
	Model    string `json:"model,omitempty"`
	Cwd      string `json:"cwd,omitempty"`
}

// Thread represents a server-side conversation handle
type Thread struct {
	ID        string `json:"id"`
	Preview   string `json:"preview,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// ThreadStartResult from thread/start
type ThreadStartResult struct {
	Thread *Thread `json:"thread"`
}

// UserInput represents input to a turn
type UserInput struct {
	Type string `json:"type"` // "text", "image", "localImage"
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// TurnStartParams for turn/start
type TurnStartParams struct {
	ThreadID string      `json:"threadId"`
	Model    string      `json:"model,omitempty"`
	Input    []UserInput `json:"input"`
}

// Turn represents a turn within a thread
type Turn struct {
	ID     string `json:"id"`
	Status string `json:"status"` // "inProgress", "completed", "failed"
	Error  *Error `json:"error,omitempty"`
}

// TurnStartResult from turn/start
type TurnStartResult struct {
	Turn *Turn `json:"turn"`
}

// TurnInterruptParams for turn/interrupt
type TurnInterruptParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
}

// Model describes one entry returned by model/list.
type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	IsDefault   bool   `json:"isDefault,omitempty"`
}

// ModelListResult from model/list
type ModelListResult struct {
	Models []Model `json:"models"`
}

// Item represents a turn item (message, command, file change, reasoning, ...)
type Item struct {
	ID     string `json:"id"`
	Type   string `json:"type"`   // "userMessage", "agentMessage", "commandExecution", "fileChange", "reasoning", "mcpToolCall"
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"` // "inProgress", "completed", "failed"
	Text   string `json:"text,omitempty"`

	// For commandExecution type
	Command          string `json:"command,omitempty"`
	Cwd              string `json:"cwd,omitempty"`
	AggregatedOutput string `json:"aggregatedOutput,omitempty"`
	ExitCode         *int   `json:"exitCode,omitempty"`

	// For fileChange type
	Changes []FileChange `json:"changes,omitempty"`

	// For reasoning type - content can be objects like [{type: "text", text: "..."}]
	// or plain strings. FlexibleContent handles both formats.
	Summary FlexibleContent `json:"summary,omitempty"`
	Content FlexibleContent `json:"content,omitempty"`

	// For mcpToolCall type
	Server string `json:"server,omitempty"`
	Tool   string `json:"tool,omitempty"`
}

// ContentPart represents a content part in an item.
type ContentPart struct {
	Type string `json:"type,omitempty"` // "text", "output_text", "input_text", ...
	Text string `json:"text,omitempty"`
}

// FlexibleContent is a type that can unmarshal from either a string or []ContentPart.
// The server sometimes sends summary/content as a plain string, other times as an array.
type FlexibleContent []ContentPart

// UnmarshalJSON handles both string and array formats.
func (fc *FlexibleContent) UnmarshalJSON(data []byte) error {
	// Try to unmarshal as array first (most common case)
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		*fc = parts
		return nil
	}

	// Try to unmarshal as string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*fc = []ContentPart{{Type: "text", Text: str}}
		return nil
	}

	// If both fail, return empty (don't fail parsing)
	*fc = nil
	return nil
}

// String returns the concatenated text of all parts.
func (fc FlexibleContent) String() string {
	var out string
	for _, p := range fc {
		out += p.Text
	}
	return out
}

// FileChange represents a file change in a fileChange item
type FileChange struct {
	Path string         `json:"path"`
	Kind FileChangeKind `json:"kind"`
	Diff string         `json:"diff,omitempty"`
}

// FileChangeKind represents the type of file change
type FileChangeKind struct {
	Type string `json:"type"` // "add", "modify", "delete"
}

// ItemCompletedParams for item/completed notification
type ItemCompletedParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Item     *Item  `json:"item"`
}

// AgentMessageDeltaParams for item/agentMessage/delta
type AgentMessageDeltaParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	ItemID   string `json:"itemId"`
	Delta    string `json:"delta"`
}

// ReasoningDeltaParams for item/reasoning/textDelta and summaryTextDelta
type ReasoningDeltaParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	ItemID   string `json:"itemId"`
	Delta    string `json:"delta"`
}

// TurnCompletedParams for turn/completed and its failure variants
type TurnCompletedParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Turn     *Turn  `json:"turn,omitempty"`
}

// CommandApprovalParams for item/commandExecution/requestApproval
type CommandApprovalParams struct {
	ThreadID  string `json:"threadId"`
	TurnID    string `json:"turnId"`
	ItemID    string `json:"itemId"`
	Command   string `json:"command"`
	Cwd       string `json:"cwd,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// FileChangeApprovalParams for item/fileChange/requestApproval
type FileChangeApprovalParams struct {
	ThreadID  string `json:"threadId"`
	TurnID    string `json:"turnId"`
	ItemID    string `json:"itemId"`
	Path      string `json:"path"`
	Diff      string `json:"diff,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ApprovalResponse answers an approval server-request.
// Decision values: "accept", "acceptForSession", "decline", "cancel"
type ApprovalResponse struct {
	Decision string `json:"decision"`
}

// ErrorParams for the error notification
type ErrorParams struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
