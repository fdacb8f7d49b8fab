package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("BEDROCK_AWS_ACCOUNTS", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Provider != ProviderBedrock {
		t.Errorf("provider = %s, want bedrock default", cfg.Provider)
	}
	if len(cfg.BedrockAWSAccounts) != 0 {
		t.Errorf("accounts = %v, want empty", cfg.BedrockAWSAccounts)
	}
}

func TestFromEnvParsesAccounts(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("BEDROCK_AWS_ACCOUNTS", "111111111111, 222222222222,")
	t.Setenv("TABLE_NAME", "worker-table")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Provider != ProviderAnthropic {
		t.Errorf("provider = %s, want anthropic", cfg.Provider)
	}
	if len(cfg.BedrockAWSAccounts) != 2 || cfg.BedrockAWSAccounts[1] != "222222222222" {
		t.Errorf("accounts = %v", cfg.BedrockAWSAccounts)
	}
	if cfg.TableName != "worker-table" {
		t.Errorf("table = %q", cfg.TableName)
	}
}

func TestFromEnvRejectsUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "cohere")
	if _, err := FromEnv(); err == nil {
		t.Fatal("FromEnv() expected error for unknown provider")
	}
}

func TestLoadPreferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	content := `
defaultModels: [sonnet]
commonPrompt: "Always run the tests."
customAgents:
  - id: reviewer
    name: Code Reviewer
    systemPrompt: "You review pull requests."
    tools: [commandExecution]
    mcpServers:
      github:
        url: https://mcp.example.com/github
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write preferences: %v", err)
	}

	prefs, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("LoadPreferences() error = %v", err)
	}
	if len(prefs.DefaultModels) != 1 || prefs.DefaultModels[0] != "sonnet" {
		t.Errorf("defaultModels = %v", prefs.DefaultModels)
	}
	if prefs.CommonPrompt != "Always run the tests." {
		t.Errorf("commonPrompt = %q", prefs.CommonPrompt)
	}

	agent := prefs.CustomAgent("reviewer")
	if agent == nil {
		t.Fatal("CustomAgent(reviewer) = nil")
	}
	if agent.MCPServers["github"].URL == "" {
		t.Error("mcp server config not parsed")
	}
	if prefs.CustomAgent("missing") != nil {
		t.Error("CustomAgent(missing) should be nil")
	}
}

func TestLoadPreferencesMissingFile(t *testing.T) {
	prefs, err := LoadPreferences(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadPreferences() error = %v", err)
	}
	if prefs == nil || len(prefs.CustomAgents) != 0 {
		t.Errorf("prefs = %+v, want empty", prefs)
	}
}
