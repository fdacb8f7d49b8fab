// Package config loads process configuration from the environment and
// process-wide preferences from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Provider selects the LLM back end.
type Provider string

const (
	ProviderBedrock   Provider = "bedrock"
	ProviderAnthropic Provider = "anthropic"
)

// Config is the environment-derived process configuration.
type Config struct {
	// Provider is the LLM back end: bedrock (default) or anthropic.
	Provider Provider

	// AnthropicAPIKey is a direct API key. Takes precedence over the
	// parameter reference when both are set.
	AnthropicAPIKey string

	// AnthropicAPIKeyParameterName names a secret parameter holding the key.
	AnthropicAPIKeyParameterName string

	// BedrockAWSAccounts are the account ids rotated across on throttle.
	BedrockAWSAccounts []string

	// BedrockRoleName is the role assumed in each account.
	BedrockRoleName string

	// CRIRegionOverride forces a regional inference profile.
	CRIRegionOverride string

	// TableName is the shared KV table.
	TableName string

	// EventHTTPEndpoint is the event bus URL.
	EventHTTPEndpoint string
}

// FromEnv reads configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Provider:                     ProviderBedrock,
		AnthropicAPIKey:              os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicAPIKeyParameterName: os.Getenv("ANTHROPIC_API_KEY_PARAMETER_NAME"),
		BedrockRoleName:              os.Getenv("BEDROCK_AWS_ROLE_NAME"),
		CRIRegionOverride:            os.Getenv("BEDROCK_CRI_REGION_OVERRIDE"),
		TableName:                    os.Getenv("TABLE_NAME"),
		EventHTTPEndpoint:            os.Getenv("EVENT_HTTP_ENDPOINT"),
	}

	switch provider := strings.ToLower(os.Getenv("LLM_PROVIDER")); provider {
	case "", "bedrock":
	case "anthropic":
		cfg.Provider = ProviderAnthropic
	default:
		return nil, fmt.Errorf("config: unknown LLM_PROVIDER %q", provider)
	}

	if accounts := os.Getenv("BEDROCK_AWS_ACCOUNTS"); accounts != "" {
		for _, account := range strings.Split(accounts, ",") {
			account = strings.TrimSpace(account)
			if account != "" {
				cfg.BedrockAWSAccounts = append(cfg.BedrockAWSAccounts, account)
			}
		}
	}
	return cfg, nil
}
