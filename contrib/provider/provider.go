// Package provider selects and constructs the model client backing the team.
package provider

import (
	"context"
	"fmt"

	"github.com/acauret/infrastructure-agent/contrib/provider/claude"
	"github.com/acauret/infrastructure-agent/contrib/provider/gemini"
	"github.com/acauret/infrastructure-agent/contrib/provider/openai"
	"github.com/acauret/infrastructure-agent/team"
)

// Config names a model provider and carries its connection settings.
type Config struct {
	Name       string // "azure-openai", "openai", "claude", "gemini"
	APIKey     string
	Endpoint   string // Azure OpenAI resource endpoint
	BaseURL    string
	APIVersion string
	Model      string
}

// New constructs the model client for the named provider.
func New(ctx context.Context, cfg Config) (team.ModelClient, error) {
	switch cfg.Name {
	case "azure-openai":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("provider: azure-openai requires an endpoint")
		}
		oc := openai.DefaultConfig()
		oc.APIKey = cfg.APIKey
		oc.Endpoint = cfg.Endpoint
		oc.APIVersion = cfg.APIVersion
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		return openai.New(oc), nil
	case "openai":
		oc := openai.DefaultConfig()
		oc.APIKey = cfg.APIKey
		oc.BaseURL = cfg.BaseURL
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		return openai.New(oc), nil
	case "claude":
		cc := claude.DefaultConfig(cfg.APIKey)
		cc.BaseURL = cfg.BaseURL
		if cfg.Model != "" {
			cc.Model = cfg.Model
		}
		return claude.New(cc), nil
	case "gemini":
		gc := gemini.DefaultConfig(cfg.APIKey)
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		return gemini.New(ctx, gc)
	default:
		return nil, fmt.Errorf("provider: unknown provider %q", cfg.Name)
	}
}
