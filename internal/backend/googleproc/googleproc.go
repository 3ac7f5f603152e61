// Package googleproc implements backend.Adapter over Google's Gemini
// GenerateContent API.
package googleproc

import (
	"context"
	"time"

	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Adapter calls Gemini's GenerateContent with the node's prompt as the
// sole content part; a fresh client is opened per invocation since the
// genai SDK client is cheap and the orchestrator does not keep a
// long-lived conversation per node.
type Adapter struct {
	apiKey       string
	defaultModel string
}

// New builds an Adapter. defaultModel is used when Request.Model is
// empty.
func New(apiKey, defaultModel string) *Adapter {
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}
	return &Adapter{apiKey: apiKey, defaultModel: defaultModel}
}

// Invoke implements backend.Adapter.
func (a *Adapter) Invoke(ctx context.Context, req backend.Request) (backend.Result, error) {
	if a.apiKey == "" {
		return backend.Result{}, cherrors.New(cherrors.BackendConfig, "google API key is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(a.apiKey))
	if err != nil {
		return backend.Result{}, cherrors.Wrap(cherrors.BackendConfig, "failed to create google client", err)
	}
	defer client.Close()

	modelName := req.Model
	if modelName == "" {
		modelName = a.defaultModel
	}
	genModel := client.GenerativeModel(modelName)

	start := time.Now()
	resp, err := genModel.GenerateContent(ctx, genai.Text(req.Prompt))
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return backend.Result{}, cherrors.Wrap(cherrors.BackendTimeout, "google invoke exceeded timeout", err)
		}
		if ctx.Err() == context.Canceled {
			return backend.Result{}, cherrors.Wrap(cherrors.BackendCancelled, "google invoke cancelled", err)
		}
		return backend.Result{}, cherrors.Wrap(cherrors.BackendProcess, "google API error", err)
	}

	var text string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	if req.OnDelta != nil && text != "" {
		req.OnDelta(text)
	}

	return backend.Result{
		Response:      text,
		DurationAPIMs: elapsed.Milliseconds(),
	}, nil
}
