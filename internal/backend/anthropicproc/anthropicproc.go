// Package anthropicproc implements backend.Adapter over Anthropic's
// Messages API, one node-prompt per invocation.
package anthropicproc

import (
	"context"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/cherrors"
)

// Adapter calls Anthropic's Messages API with a single user turn built
// from the node's assembled prompt; it does not carry conversation state
// across nodes, since each node's prompt already has upstream outputs
// and drained messages woven in by the handler.
type Adapter struct {
	apiKey       string
	defaultModel string
	maxTokens    int64
}

// New builds an Adapter. defaultModel is used when Request.Model is
// empty.
func New(apiKey, defaultModel string) *Adapter {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-5-20250929"
	}
	return &Adapter{apiKey: apiKey, defaultModel: defaultModel, maxTokens: 8192}
}

// Invoke implements backend.Adapter.
func (a *Adapter) Invoke(ctx context.Context, req backend.Request) (backend.Result, error) {
	if a.apiKey == "" {
		return backend.Result{}, cherrors.New(cherrors.BackendConfig, "anthropic API key is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	modelName := req.Model
	if modelName == "" {
		modelName = a.defaultModel
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(a.apiKey))
	start := time.Now()
	resp, err := client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(modelName),
		MaxTokens: a.maxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
	})
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return backend.Result{}, cherrors.Wrap(cherrors.BackendTimeout, "anthropic invoke exceeded timeout", err)
		}
		if ctx.Err() == context.Canceled {
			return backend.Result{}, cherrors.Wrap(cherrors.BackendCancelled, "anthropic invoke cancelled", err)
		}
		return backend.Result{}, cherrors.Wrap(cherrors.BackendProcess, "anthropic API error", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if req.OnDelta != nil && text != "" {
		req.OnDelta(text)
	}

	return backend.Result{
		Response:      text,
		SessionID:     resp.ID,
		DurationAPIMs: elapsed.Milliseconds(),
	}, nil
}
