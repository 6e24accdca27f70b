package agent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/vibecodingbench/vcbench/internal/config"
	"github.com/vibecodingbench/vcbench/internal/task"
)

// Gemini talks to the Google AI generateContent API.
type Gemini struct {
	cfg        config.ResolvedAgent
	httpClient *http.Client
}

// NewGemini creates a Gemini agent.
func NewGemini(cfg config.ResolvedAgent, httpClient *http.Client) *Gemini {
	return &Gemini{cfg: cfg, httpClient: httpClient}
}

func (g *Gemini) Name() string  { return g.cfg.Name }
func (g *Gemini) Model() string { return g.cfg.Model }

// Execute sends one generateContent call and streams the text parts.
func (g *Gemini) Execute(ctx context.Context, t *task.Task, prompt string) <-chan Event {
	return Stream(ctx, func(ctx context.Context, em *Emitter) {
		if !em.Emit(Event{Type: EventThinking, Message: fmt.Sprintf("Connecting to %s API...", g.cfg.Name)}) {
			return
		}
		if g.cfg.APIKey == "" {
			em.Fail(fmt.Errorf("%s API key not set (%s)", g.cfg.Name, g.cfg.APIKeyEnv))
			return
		}

		opts := []option.ClientOption{option.WithAPIKey(g.cfg.APIKey)}
		if g.cfg.BaseURL != "" {
			opts = append(opts, option.WithEndpoint(g.cfg.BaseURL))
		}
		if g.httpClient != nil {
			opts = append(opts, option.WithHTTPClient(g.httpClient))
		}

		client, err := genai.NewClient(ctx, opts...)
		if err != nil {
			em.Fail(&TransportError{Vendor: g.cfg.Name, Err: err})
			return
		}
		defer func() { _ = client.Close() }()

		model := client.GenerativeModel(g.cfg.Model)
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(SystemPrompt(t))}}
		if g.cfg.MaxTokens > 0 {
			model.SetMaxOutputTokens(int32(g.cfg.MaxTokens))
		}

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			em.Fail(&TransportError{Vendor: g.cfg.Name, Err: err})
			return
		}

		for _, ev := range geminiEvents(resp, g.cfg.Model) {
			if !em.Emit(ev) {
				return
			}
		}
	})
}

// geminiEvents converts a response into text events followed by done.
func geminiEvents(resp *genai.GenerateContentResponse, model string) []Event {
	var events []Event
	if resp == nil {
		return []Event{doneEvent(Usage{Model: model})}
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok && text != "" {
				events = append(events, Event{Type: EventText, Message: string(text)})
			}
		}
	}

	u := Usage{Model: model}
	if md := resp.UsageMetadata; md != nil {
		u.InputTokens = int(md.PromptTokenCount)
		u.OutputTokens = int(md.CandidatesTokenCount)
		u.TotalTokens = int(md.TotalTokenCount)
	}
	return append(events, doneEvent(u))
}
