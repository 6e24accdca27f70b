package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vibecodingbench/vcbench/internal/config"
	"github.com/vibecodingbench/vcbench/internal/task"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com/"

// Anthropic speaks the Messages API. Claude, MiniMax and GLM's
// Anthropic-compatible endpoint all use it.
type Anthropic struct {
	cfg    config.ResolvedAgent
	client anthropic.Client
}

// NewAnthropic creates an Anthropic-format agent. BaseURL is the prefix in
// front of v1/messages. The SDK never retries: a failed call is a failed run.
func NewAnthropic(cfg config.ResolvedAgent, httpClient *http.Client) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Anthropic{cfg: cfg, client: anthropic.NewClient(opts...)}
}

func (a *Anthropic) Name() string  { return a.cfg.Name }
func (a *Anthropic) Model() string { return a.cfg.Model }

// Execute sends one Messages request and streams its text blocks.
func (a *Anthropic) Execute(ctx context.Context, t *task.Task, prompt string) <-chan Event {
	return Stream(ctx, func(ctx context.Context, em *Emitter) {
		if !em.Emit(Event{Type: EventThinking, Message: fmt.Sprintf("Connecting to %s API...", a.cfg.Name)}) {
			return
		}
		if a.cfg.APIKey == "" {
			em.Fail(fmt.Errorf("%s API key not set (%s)", a.cfg.Name, a.cfg.APIKeyEnv))
			return
		}

		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.cfg.Model),
			MaxTokens: int64(a.cfg.MaxTokens),
			System:    []anthropic.TextBlockParam{{Text: SystemPrompt(t)}},
			Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		})
		if err != nil {
			em.Fail(a.transportError(err))
			return
		}

		for _, block := range msg.Content {
			if block.Type != "text" || block.Text == "" {
				continue
			}
			if !em.Emit(Event{Type: EventText, Message: block.Text}) {
				return
			}
		}

		in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
		em.Emit(doneEvent(Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out, Model: a.cfg.Model}))
	})
}

func (a *Anthropic) transportError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if body == "" {
			body = apiErr.Error()
		}
		return &TransportError{Vendor: a.cfg.Name, StatusCode: apiErr.StatusCode, Body: body, Err: err}
	}
	return &TransportError{Vendor: a.cfg.Name, Err: err}
}
