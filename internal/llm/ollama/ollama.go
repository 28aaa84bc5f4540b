package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vbonduro/prescriptly/internal/llm"
)

// Extractor reads prescriptions with a local Ollama vision model. Ollama's
// "format" field constrains generation to the extraction schema.
type Extractor struct {
	host   string
	model  string
	client *http.Client
}

func NewExtractor(host, model string) *Extractor {
	return &Extractor{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{},
	}
}

type generateRequest struct {
	Model  string         `json:"model"`
	Prompt string         `json:"prompt"`
	Images []string       `json:"images"`
	Format map[string]any `json:"format"`
	Stream bool           `json:"stream"`
}

func (e *Extractor) Extract(ctx context.Context, req llm.ExtractionRequest) (*llm.Extraction, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  e.model,
		Prompt: req.Prompt,
		Images: []string{base64.StdEncoding.EncodeToString(req.Image)},
		Format: llm.ExtractionSchema(),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call ollama: %w", llm.ErrModelInvoke, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", llm.ErrModelInvoke, resp.StatusCode, errBody)
	}

	var respBody struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", llm.ErrModelInvoke, err)
	}

	return llm.ParseExtraction([]byte(respBody.Response))
}
