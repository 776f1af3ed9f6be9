// Package config assembles the runtime configuration from the environment:
// model provider credentials, the tiered workbench specs, archive backend,
// and server settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/acauret/infrastructure-agent/contrib/provider"
	"github.com/acauret/infrastructure-agent/workbench"
)

// Archive backend names.
const (
	ArchiveNone     = "none"
	ArchiveMemory   = "memory"
	ArchiveRedis    = "redis"
	ArchivePostgres = "postgres"
	ArchiveMongo    = "mongo"
)

// ArchiveConfig selects and configures the run archive backend.
type ArchiveConfig struct {
	Backend      string
	RedisAddr    string
	RedisDB      int
	PostgresHost string
	PostgresPort int
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	MongoURI     string
}

// Config is the full runtime configuration.
type Config struct {
	ListenAddr         string
	MaxConcurrentTasks int
	Provider           provider.Config
	Workbenches        []workbench.Spec
	Archive            ArchiveConfig
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         getEnv("INFRA_AGENT_LISTEN", ":8000"),
		MaxConcurrentTasks: getInt("INFRA_AGENT_MAX_TASKS", 8),
		Provider:           loadProvider(),
		Archive:            loadArchive(),
	}

	if getBool("ENABLE_MCP_TOOLS", true) {
		cfg.Workbenches = loadWorkbenches()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internally inconsistent settings.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address cannot be empty")
	}
	switch c.Provider.Name {
	case "azure-openai", "openai", "claude", "gemini":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Provider.Name)
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory, ArchiveRedis, ArchivePostgres, ArchiveMongo:
	default:
		return fmt.Errorf("config: unknown archive backend %q", c.Archive.Backend)
	}
	for _, spec := range c.Workbenches {
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func loadProvider() provider.Config {
	name := getEnv("INFRA_AGENT_MODEL_PROVIDER", "azure-openai")

	cfg := provider.Config{
		Name:  name,
		Model: os.Getenv("INFRA_AGENT_MODEL"),
	}
	switch name {
	case "azure-openai":
		cfg.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		cfg.Endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
		cfg.APIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
		if cfg.Model == "" {
			cfg.Model = os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		}
	case "openai":
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	case "claude":
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	return cfg
}

// loadWorkbenches builds the tiered workbench specs. Providers with slow
// cold starts get larger stage budgets and retry counts; the ado and github
// workbenches only appear when their credentials are present.
func loadWorkbenches() []workbench.Spec {
	var specs []workbench.Spec

	specs = append(specs, workbench.Spec{
		Kind:    workbench.KindAzure,
		Command: "npx",
		Args:    []string{"-y", "@azure/mcp@latest", "server", "start"},
		Timeouts: workbench.Timeouts{
			Connect: 20 * time.Second,
			Init:    20 * time.Second,
			List:    20 * time.Second,
		},
		Retry: workbench.RetryPolicy{Attempts: 5, Backoff: 500 * time.Millisecond},
	})

	if org := os.Getenv("ADO_ORG"); org != "" {
		specs = append(specs, workbench.Spec{
			Kind:    workbench.KindAzureDevOps,
			Command: "npx",
			Args:    []string{"-y", "@azure-devops/mcp", org},
			Timeouts: workbench.Timeouts{
				Connect: 15 * time.Second,
				Init:    15 * time.Second,
				List:    15 * time.Second,
			},
			Retry: workbench.RetryPolicy{Attempts: 4, Backoff: 500 * time.Millisecond},
		})
	}

	if token := os.Getenv("GITHUB_PERSONAL_ACCESS_TOKEN"); token != "" {
		specs = append(specs, workbench.Spec{
			Kind:     workbench.KindGitHub,
			Command:  "npx",
			Args:     []string{"-y", "@modelcontextprotocol/server-github"},
			Env:      []string{"GITHUB_PERSONAL_ACCESS_TOKEN=" + token},
			Timeouts: workbench.DefaultTimeouts(),
			Retry:    workbench.DefaultRetry(),
		})
	}

	specs = append(specs, workbench.Spec{
		Kind:     workbench.KindBrowser,
		Command:  "npx",
		Args:     []string{"-y", "@playwright/mcp@latest"},
		Timeouts: workbench.DefaultTimeouts(),
		Retry:    workbench.DefaultRetry(),
	})

	return specs
}

func loadArchive() ArchiveConfig {
	return ArchiveConfig{
		Backend:      getEnv("INFRA_AGENT_ARCHIVE", ArchiveNone),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getInt("REDIS_DB", 0),
		PostgresHost: getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort: getInt("POSTGRES_PORT", 5432),
		PostgresUser: getEnv("POSTGRES_USER", "postgres"),
		PostgresPass: getEnv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:   getEnv("POSTGRES_DB", "infra_agent"),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
