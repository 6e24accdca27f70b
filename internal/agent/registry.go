package agent

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/vibecodingbench/vcbench/internal/config"
)

// Factory builds an agent from resolved settings.
type Factory func(cfg config.ResolvedAgent) (Agent, error)

// Registry maps agent names and wire formats to factories.
type Registry struct {
	mu      sync.RWMutex
	names   map[string]Factory
	formats map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names:   make(map[string]Factory),
		formats: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry that knows every built-in wire format.
// httpClient may be nil.
func DefaultRegistry(httpClient *http.Client) *Registry {
	r := NewRegistry()
	r.RegisterFormat(config.FormatMock, func(cfg config.ResolvedAgent) (Agent, error) {
		return NewMock(cfg.Name, cfg.Model), nil
	})
	r.RegisterFormat(config.FormatAnthropic, func(cfg config.ResolvedAgent) (Agent, error) {
		return NewAnthropic(cfg, httpClient), nil
	})
	r.RegisterFormat(config.FormatOpenAI, func(cfg config.ResolvedAgent) (Agent, error) {
		return NewOpenAI(cfg, httpClient), nil
	})
	r.RegisterFormat(config.FormatGemini, func(cfg config.ResolvedAgent) (Agent, error) {
		return NewGemini(cfg, httpClient), nil
	})
	return r
}

// Register binds a factory to an agent name. Name bindings win over formats.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[strings.ToLower(name)] = f
}

// RegisterFormat binds a factory to a wire format.
func (r *Registry) RegisterFormat(format string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats[format] = f
}

// New builds the named agent. ac may be nil for agents registered by name.
func (r *Registry) New(name string, ac *config.AgentConfig) (Agent, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	f, ok := r.names[name]
	var resolved config.ResolvedAgent
	if ac != nil {
		resolved = ac.Resolve(name)
		if !ok {
			f, ok = r.formats[resolved.Format]
		}
	} else {
		resolved = config.ResolvedAgent{Name: name}
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return f(resolved)
}

// Names returns the agents registered by name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig builds the named agent from cfg, listing the available names
// when the agent is unknown.
func (r *Registry) FromConfig(cfg *config.Config, name string) (Agent, error) {
	ac := cfg.GetAgent(name)
	if ac == nil {
		r.mu.RLock()
		_, byName := r.names[strings.ToLower(name)]
		r.mu.RUnlock()
		if !byName {
			available := append(cfg.ListAgents(), r.Names()...)
			sort.Strings(available)
			return nil, fmt.Errorf("%w: %s (available: %s)", ErrUnknownAgent, name, strings.Join(slices.Compact(available), ", "))
		}
	}
	return r.New(name, ac)
}
