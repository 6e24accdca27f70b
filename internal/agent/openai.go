package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/vibecodingbench/vcbench/internal/config"
	"github.com/vibecodingbench/vcbench/internal/task"
)

// OpenAI speaks the chat completions API used by OpenAI, DeepSeek, Qwen and
// GLM's native endpoint.
type OpenAI struct {
	cfg    config.ResolvedAgent
	client *openai.Client
}

// NewOpenAI creates an OpenAI-compatible agent. BaseURL is the prefix in
// front of /chat/completions.
func NewOpenAI(cfg config.ResolvedAgent, httpClient *http.Client) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return &OpenAI{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

func (o *OpenAI) Name() string  { return o.cfg.Name }
func (o *OpenAI) Model() string { return o.cfg.Model }

// Execute sends one chat completion and streams each choice as a text event.
func (o *OpenAI) Execute(ctx context.Context, t *task.Task, prompt string) <-chan Event {
	return Stream(ctx, func(ctx context.Context, em *Emitter) {
		if !em.Emit(Event{Type: EventThinking, Message: fmt.Sprintf("Connecting to %s API...", o.cfg.Name)}) {
			return
		}
		if o.cfg.APIKey == "" {
			em.Fail(fmt.Errorf("%s API key not set (%s)", o.cfg.Name, o.cfg.APIKeyEnv))
			return
		}

		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     o.cfg.Model,
			MaxTokens: o.cfg.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(t)},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			em.Fail(o.transportError(err))
			return
		}

		for _, choice := range resp.Choices {
			if choice.Message.Content == "" {
				continue
			}
			if !em.Emit(Event{Type: EventText, Message: choice.Message.Content}) {
				return
			}
		}

		em.Emit(doneEvent(Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
			Model:        o.cfg.Model,
		}))
	})
}

func (o *OpenAI) transportError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{Vendor: o.cfg.Name, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &TransportError{Vendor: o.cfg.Name, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	}
	return &TransportError{Vendor: o.cfg.Name, Err: err}
}
