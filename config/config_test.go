package config

import (
	"testing"
	"time"

	"github.com/acauret/infrastructure-agent/workbench"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != ":8000" {
		t.Errorf("expected default listen addr :8000, got %s", cfg.ListenAddr)
	}
	if cfg.Provider.Name != "azure-openai" {
		t.Errorf("expected default provider azure-openai, got %s", cfg.Provider.Name)
	}
	if cfg.Archive.Backend != ArchiveNone {
		t.Errorf("expected default archive none, got %s", cfg.Archive.Backend)
	}
}

func TestWorkbenchTiering(t *testing.T) {
	t.Setenv("ADO_ORG", "contoso")
	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "ghp_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	byKind := make(map[workbench.Kind]workbench.Spec)
	for _, spec := range cfg.Workbenches {
		byKind[spec.Kind] = spec
	}

	azure, ok := byKind[workbench.KindAzure]
	if !ok {
		t.Fatal("azure workbench missing")
	}
	if azure.Retry.Attempts != 5 || azure.Timeouts.List != 20*time.Second {
		t.Errorf("azure tier wrong: %+v", azure)
	}

	ado, ok := byKind[workbench.KindAzureDevOps]
	if !ok {
		t.Fatal("ado workbench missing despite ADO_ORG")
	}
	if ado.Retry.Attempts != 4 || ado.Timeouts.List != 15*time.Second {
		t.Errorf("ado tier wrong: %+v", ado)
	}

	github, ok := byKind[workbench.KindGitHub]
	if !ok {
		t.Fatal("github workbench missing despite token")
	}
	if github.Retry.Attempts != 3 || github.Timeouts.List != 10*time.Second {
		t.Errorf("github tier wrong: %+v", github)
	}

	if _, ok := byKind[workbench.KindBrowser]; !ok {
		t.Fatal("browser workbench missing")
	}
}

func TestConditionalWorkbenchesAbsentWithoutCredentials(t *testing.T) {
	t.Setenv("ADO_ORG", "")
	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	for _, spec := range cfg.Workbenches {
		if spec.Kind == workbench.KindAzureDevOps {
			t.Error("ado workbench present without ADO_ORG")
		}
		if spec.Kind == workbench.KindGitHub {
			t.Error("github workbench present without a token")
		}
	}
}

func TestMCPToolsGate(t *testing.T) {
	t.Setenv("ENABLE_MCP_TOOLS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Workbenches) != 0 {
		t.Errorf("expected no workbenches when gated off, got %d", len(cfg.Workbenches))
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	t.Setenv("INFRA_AGENT_MODEL_PROVIDER", "mystery")

	if _, err := Load(); err == nil {
		t.Fatal("expected unknown provider to fail validation")
	}
}

func TestValidateRejectsUnknownArchive(t *testing.T) {
	t.Setenv("INFRA_AGENT_ARCHIVE", "tape")

	if _, err := Load(); err == nil {
		t.Fatal("expected unknown archive backend to fail validation")
	}
}
