package responder

import (
	"context"
	"strings"
)

// Source identifies which stage of the chain produced a Result.
type Source string

const (
	SourceRemote        Source = "remote"
	SourceLocalFallback Source = "local_fallback"
)

// Result is the assistant answer for a single user utterance.
type Result struct {
	Text   string `json:"response"`
	Source Source `json:"source"`
}

// Strategy is a resolver that may fail; failure hands the input to the next
// stage of the chain.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, text string) (Result, error)
}

// Terminal is the last stage of a chain and must always produce an answer.
type Terminal interface {
	Respond(text string) Result
}

// Provider resolves user text through its strategies in order and falls back
// to the terminal stage, so GetResponse has no failure outcome.
type Provider struct {
	strategies []Strategy
	terminal   Terminal
}

func NewProvider(terminal Terminal, strategies ...Strategy) *Provider {
	if terminal == nil {
		terminal = NewRuleMatcher(DefaultRules())
	}
	kept := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Provider{strategies: kept, terminal: terminal}
}

// GetResponse returns a non-empty Result for any input.
func (p *Provider) GetResponse(ctx context.Context, text string) Result {
	for _, s := range p.strategies {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Resolve(ctx, text)
		if err == nil && strings.TrimSpace(res.Text) != "" {
			return res
		}
		if err != nil {
			logger.WarnContext(ctx, "response strategy failed, falling through", "strategy", s.Name(), "error", err)
		}
	}
	return p.terminal.Respond(text)
}
