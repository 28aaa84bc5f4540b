// Package llm defines the provider-neutral contracts the agent uses to talk to
// language models: a tool-calling chat turn, schema-constrained extraction
// from an image, and speech transcription. Backends live in subpackages.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
)

var (
	// ErrModelInvoke wraps any transport or provider failure.
	ErrModelInvoke = errors.New("model invocation failed")
	// ErrSchemaViolation marks structured output that does not conform to
	// the requested schema.
	ErrSchemaViolation = errors.New("structured output does not match schema")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the model-facing conversation. Assistant messages
// may carry ToolCalls; tool messages carry the ToolResults answering them.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

type ToolDeclaration struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

type ChatRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDeclaration
}

// ChatResponse holds either final text, tool calls, or both.
type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
}

type ChatModel interface {
	Converse(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

type ExtractionRequest struct {
	Prompt   string
	Image    []byte
	MimeType string
}

// Extraction is the structured result of reading a prescription image.
type Extraction struct {
	Matches []string `json:"matches"`
	Others  []string `json:"others"`
}

type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (*Extraction, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error)
}

// UserText is shorthand for a plain user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}
