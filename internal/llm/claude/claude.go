// Package claude implements the llm contracts on the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/prescriptly/internal/llm"
)

const (
	chatMaxTokens       = 1024
	extractionMaxTokens = 1024
)

// MessagesClient is the subset of the go-anthropic client used here.
type MessagesClient interface {
	CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

type Client struct {
	msgs  MessagesClient
	model string
}

func New(apiKey, model string, opts ...anthropic.ClientOption) *Client {
	return NewWithClient(anthropic.NewClient(apiKey, opts...), model)
}

func NewWithClient(msgs MessagesClient, model string) *Client {
	return &Client{msgs: msgs, model: model}
}

func (c *Client) Converse(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	body := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    req.System,
		MaxTokens: chatMaxTokens,
		Messages:  encodeMessages(req.Messages),
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	resp, err := c.msgs.CreateMessages(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: claude: %w", llm.ErrModelInvoke, err)
	}

	out := &llm.ChatResponse{}
	var text []string
	for _, blk := range resp.Content {
		switch blk.Type {
		case anthropic.MessagesContentTypeText:
			if blk.Text != nil && *blk.Text != "" {
				text = append(text, *blk.Text)
			}
		case anthropic.MessagesContentTypeToolUse:
			if tu := blk.MessageContentToolUse; tu != nil {
				out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: tu.Input})
			}
		}
	}
	out.Text = strings.Join(text, "\n")
	return out, nil
}

// Extract forces the model to answer through a single tool whose input schema
// is the extraction schema, then validates the tool input.
func (c *Client) Extract(ctx context.Context, req llm.ExtractionRequest) (*llm.Extraction, error) {
	body := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: extractionMaxTokens,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(req.MimeType),
					base64.StdEncoding.EncodeToString(req.Image),
				)),
				anthropic.NewTextMessageContent(req.Prompt),
			},
		}},
		Tools: []anthropic.ToolDefinition{{
			Name:        llm.ExtractionToolName,
			Description: "Report the medicine names read from the prescription.",
			InputSchema: llm.ExtractionSchema(),
		}},
		ToolChoice: &anthropic.ToolChoice{Type: "tool", Name: llm.ExtractionToolName},
	}

	resp, err := c.msgs.CreateMessages(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: claude: %w", llm.ErrModelInvoke, err)
	}

	for _, blk := range resp.Content {
		if blk.Type != anthropic.MessagesContentTypeToolUse || blk.MessageContentToolUse == nil {
			continue
		}
		if blk.MessageContentToolUse.Name != llm.ExtractionToolName {
			continue
		}
		return llm.ParseExtraction(blk.MessageContentToolUse.Input)
	}
	return nil, fmt.Errorf("%w: claude returned no %s call", llm.ErrSchemaViolation, llm.ExtractionToolName)
}

func encodeMessages(msgs []llm.Message) []anthropic.Message {
	out := make([]anthropic.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleAssistant:
			var content []anthropic.MessageContent
			if m.Text != "" {
				content = append(content, anthropic.NewTextMessageContent(m.Text))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				content = append(content, anthropic.MessageContent{
					Type:                  anthropic.MessagesContentTypeToolUse,
					MessageContentToolUse: &anthropic.MessageContentToolUse{ID: tc.ID, Name: tc.Name, Input: input},
				})
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		case llm.RoleTool:
			content := make([]anthropic.MessageContent, 0, len(m.ToolResults))
			for _, r := range m.ToolResults {
				content = append(content, anthropic.NewToolResultMessageContent(r.CallID, r.Content, r.IsError))
			}
			// Anthropic carries tool results on a user turn.
			out = append(out, anthropic.Message{Role: anthropic.RoleUser, Content: content})
		default:
			out = append(out, anthropic.NewUserTextMessage(m.Text))
		}
	}
	return out
}

// normaliseMIME maps browser MIME types to the values the Anthropic API accepts.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
