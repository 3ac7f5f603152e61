// Package openaiproc implements backend.Adapter over OpenAI's chat
// completions API.
package openaiproc

import (
	"context"
	"time"

	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/cherrors"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Adapter calls OpenAI's chat completions API with a single user turn.
type Adapter struct {
	apiKey       string
	defaultModel string
}

// New builds an Adapter. defaultModel is used when Request.Model is
// empty.
func New(apiKey, defaultModel string) *Adapter {
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &Adapter{apiKey: apiKey, defaultModel: defaultModel}
}

// Invoke implements backend.Adapter.
func (a *Adapter) Invoke(ctx context.Context, req backend.Request) (backend.Result, error) {
	if a.apiKey == "" {
		return backend.Result{}, cherrors.New(cherrors.BackendConfig, "openai API key is required")
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

	client := openaisdk.NewClient(option.WithAPIKey(a.apiKey))
	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(modelName),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(req.Prompt),
		},
	})
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return backend.Result{}, cherrors.Wrap(cherrors.BackendTimeout, "openai invoke exceeded timeout", err)
		}
		if ctx.Err() == context.Canceled {
			return backend.Result{}, cherrors.Wrap(cherrors.BackendCancelled, "openai invoke cancelled", err)
		}
		return backend.Result{}, cherrors.Wrap(cherrors.BackendProcess, "openai API error", err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
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
