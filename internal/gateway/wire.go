package gateway

import "github.com/tripweave/tripweave/pkg/models"

// clientMessage is the single inbound shape; Type selects which fields
// are meaningful.
type clientMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Inbound message types.
const (
	msgAuth   = "auth"
	msgChat   = "chat"
	msgCancel = "cancel"
)

// Outbound message types.
const (
	msgAuthOK  = "auth_ok"
	msgWarning = "warning"
	msgStart   = "start"
	msgChunk   = "chunk"
	msgEnd     = "end"
	msgError   = "error"
)

type wireToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type wireToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError"`
}

// serverMessage is the single outbound shape. A chunk carries exactly one
// of Content, ToolCall, or ToolResult.
type serverMessage struct {
	Type       string          `json:"type"`
	Message    string          `json:"message,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	Content    string          `json:"content,omitempty"`
	ToolCall   *wireToolCall   `json:"toolCall,omitempty"`
	ToolResult *wireToolResult `json:"toolResult,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func textChunk(messageID, text string) serverMessage {
	return serverMessage{Type: msgChunk, MessageID: messageID, Content: text}
}

func toolCallChunk(messageID string, call models.ToolCall) serverMessage {
	return serverMessage{Type: msgChunk, MessageID: messageID, ToolCall: &wireToolCall{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
	}}
}

func toolResultChunk(messageID string, result models.ToolResult) serverMessage {
	return serverMessage{Type: msgChunk, MessageID: messageID, ToolResult: &wireToolResult{
		ToolCallID: result.ToolCallID,
		Content:    result.Content,
		IsError:    result.IsError,
	}}
}

func errorMessage(messageID, text string) serverMessage {
	return serverMessage{Type: msgError, MessageID: messageID, Error: text}
}
