// Package openai implements the llm contracts on the OpenAI API, or any
// OpenAI-compatible endpoint reachable through a base URL.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vbonduro/prescriptly/internal/llm"
)

// CompletionsClient is the subset of the chat completions service used here.
type CompletionsClient interface {
	New(ctx context.Context, body openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
}

// TranscriptionsClient is the subset of the audio transcription service used here.
type TranscriptionsClient interface {
	New(ctx context.Context, body openaisdk.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openaisdk.Transcription, error)
}

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	TranscribeModel string
}

type Client struct {
	completions     CompletionsClient
	transcriptions  TranscriptionsClient
	model           string
	transcribeModel string
}

// New builds a Client backed by the OpenAI SDK. Extra request options are
// appended after the ones derived from cfg.
func New(cfg Config, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	opts = append(opts, extra...)

	sdk := openaisdk.NewClient(opts...)
	return NewWithClients(&sdk.Chat.Completions, &sdk.Audio.Transcriptions, cfg.Model, cfg.TranscribeModel)
}

func NewWithClients(completions CompletionsClient, transcriptions TranscriptionsClient, model, transcribeModel string) *Client {
	if transcribeModel == "" {
		transcribeModel = string(openaisdk.AudioModelWhisper1)
	}
	return &Client{
		completions:     completions,
		transcriptions:  transcriptions,
		model:           model,
		transcribeModel: transcribeModel,
	}
}

func (c *Client) Converse(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.model),
		Messages: encodeMessages(req.System, req.Messages),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  openaisdk.FunctionParameters(t.Parameters),
			},
		})
	}

	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", llm.ErrModelInvoke)
	}

	msg := completion.Choices[0].Message
	out := &llm.ChatResponse{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Extract sends the image as a data URL and asks for a strict JSON schema
// response.
func (c *Client) Extract(ctx context.Context, req llm.ExtractionRequest) (*llm.Extraction, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", req.MimeType, base64.StdEncoding.EncodeToString(req.Image))
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.TextContentPart(req.Prompt),
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openaisdk.ResponseFormatJSONSchemaParam{
				JSONSchema: openaisdk.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   llm.ExtractionToolName,
					Schema: llm.ExtractionSchema(),
					Strict: openaisdk.Bool(true),
				},
			},
		},
	}

	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", llm.ErrSchemaViolation)
	}
	return llm.ParseExtraction([]byte(completion.Choices[0].Message.Content))
}

// Transcribe turns one recorded utterance into text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error) {
	if c.transcriptions == nil {
		return "", fmt.Errorf("%w: transcription not configured", llm.ErrModelInvoke)
	}
	res, err := c.transcriptions.New(ctx, openaisdk.AudioTranscriptionNewParams{
		File:     openaisdk.File(audio, "utterance"+audioExt(mimeType), mimeType),
		Model:    openaisdk.AudioModel(c.transcribeModel),
		Language: openaisdk.String("en"),
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return strings.TrimSpace(res.Text), nil
}

func encodeMessages(system string, msgs []llm.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openaisdk.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openaisdk.AssistantMessage(m.Text))
				continue
			}
			asst := &openaisdk.ChatCompletionAssistantMessageParam{}
			if m.Text != "" {
				asst.Content.OfString = openaisdk.String(m.Text)
			}
			for _, tc := range m.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				asst.ToolCalls = append(asst.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: asst})
		case llm.RoleTool:
			for _, r := range m.ToolResults {
				out = append(out, openaisdk.ToolMessage(r.Content, r.CallID))
			}
		default:
			out = append(out, openaisdk.UserMessage(m.Text))
		}
	}
	return out
}

func wrapErr(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: openai status %d: %w", llm.ErrModelInvoke, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%w: openai: %w", llm.ErrModelInvoke, err)
}

func audioExt(mimeType string) string {
	switch strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".webm"
	}
}
