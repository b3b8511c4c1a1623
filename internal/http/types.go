package http

import (
	"github.com/fyrsmithlabs/ragd/internal/commands"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
)

// HeaderUserID identifies the conversation owner when the body does not.
const HeaderUserID = "X-User-ID"

// ChatRequest is the request body for POST /api/chat/send.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// ChatResponse is the response body for POST /api/chat/send.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// HistoryResponse is the response body for GET /api/chat/history.
type HistoryResponse struct {
	UserID string              `json:"user_id"`
	Turns  []conversation.Turn `json:"turns"`
}

// UploadAccepted is the 202 body for an async upload.
type UploadAccepted struct {
	OperationID string `json:"operation_id"`
}

// CommandResponse is the response body for POST /api/commands/:name.
type CommandResponse struct {
	Result string `json:"result"`
}

// CommandList is the response body for GET /api/commands.
type CommandList struct {
	Commands []*commands.Handler `json:"commands"`
}

// HealthResponse is the response body for GET /health and GET /ready.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
