package config

import (
	"context"
	"fmt"
	"os"

	"github.com/KamdynS/advisor/chat"
	"github.com/KamdynS/advisor/credit"
	"github.com/KamdynS/advisor/llm"
	"github.com/KamdynS/advisor/llm/anthropic"
	"github.com/KamdynS/advisor/llm/openai"
	"github.com/KamdynS/advisor/observability"
	"github.com/KamdynS/advisor/session"
)

// NewLedger builds the configured ledger. A memory ledger starts at
// InitialBalance. A positive MonthlyAllowance is applied to either kind.
func (c *Config) NewLedger(ctx context.Context) (credit.AllowanceLedger, error) {
	var l credit.AllowanceLedger
	switch c.Credits.Ledger {
	case "redis":
		rl, err := credit.NewRedisLedger(credit.RedisConfig{
			Addr:      c.Credits.Redis.Addr,
			Password:  c.Credits.Redis.Password,
			DB:        c.Credits.Redis.DB,
			Prefix:    c.Credits.Redis.Prefix,
			Account:   c.Credits.Account,
			FreeTrial: c.Credits.FreeTrial,
		})
		if err != nil {
			return nil, err
		}
		l = rl
	case "memory", "":
		ml := credit.NewMemoryLedger(c.Credits.InitialBalance)
		ml.FreeTrial = c.Credits.FreeTrial
		l = ml
	default:
		return nil, fmt.Errorf("unknown ledger %q", c.Credits.Ledger)
	}
	if c.Credits.MonthlyAllowance > 0 {
		if err := l.SetAllowance(ctx, c.Credits.MonthlyAllowance); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// NewStore builds the configured session store.
func (c *Config) NewStore(ctx context.Context) (session.Store, error) {
	switch c.Sessions.Store {
	case "redis":
		s, err := session.NewRedisStore(session.RedisConfig{
			Addr:     c.Sessions.Redis.Addr,
			Password: c.Sessions.Redis.Password,
			DB:       c.Sessions.Redis.DB,
			Prefix:   c.Sessions.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqs":
		s, err := session.NewSQSStore(ctx, session.SQSConfig{
			QueueURL: c.Sessions.SQS.QueueURL,
			Region:   c.Sessions.SQS.Region,
			FIFO:     c.Sessions.SQS.FIFO,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory", "":
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", c.Sessions.Store)
	}
}

// NewTransport builds the HTTP transport for the configured backend.
func (c *Config) NewTransport(hooks *observability.Hooks) (*chat.HTTPTransport, error) {
	return chat.NewHTTPTransport(chat.HTTPConfig{
		URL:           c.Backend.URL,
		Token:         c.Token(),
		HeaderTimeout: c.Backend.HeaderTimeout,
		Retry:         c.Backend.Retry,
		Hooks:         hooks,
	})
}

// NewLLMClient builds the relay's upstream client. When ResearchModel is set,
// web-research modes are routed to a second client using that model.
func (c *Config) NewLLMClient(hooks *observability.Hooks) (llm.Client, error) {
	primary, err := c.newProvider(c.Relay.Model, hooks)
	if err != nil {
		return nil, err
	}
	if c.Relay.ResearchModel == "" {
		return primary, nil
	}
	research, err := c.newProvider(c.Relay.ResearchModel, hooks)
	if err != nil {
		return nil, err
	}
	byMode := map[string]llm.Client{}
	for _, m := range credit.Modes {
		if m.WebResearch {
			byMode[m.ID] = research
		}
	}
	return llm.NewRouterClient(llm.ModePolicy{Default: primary, ByMode: byMode}, llm.RouterConfig{Fallback: primary}), nil
}

func (c *Config) newProvider(model string, hooks *observability.Hooks) (llm.Client, error) {
	key := ""
	if c.Relay.APIKeyEnv != "" {
		key = os.Getenv(c.Relay.APIKeyEnv)
	}
	switch c.Relay.Provider {
	case "anthropic":
		cl, err := anthropic.NewClient(anthropic.Config{APIKey: key, Model: model, Hooks: hooks})
		if err != nil {
			return nil, err
		}
		return cl, nil
	case "openai":
		cl, err := openai.NewClient(openai.Config{APIKey: key, Model: model, Hooks: hooks})
		if err != nil {
			return nil, err
		}
		return cl, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", c.Relay.Provider)
	}
}
