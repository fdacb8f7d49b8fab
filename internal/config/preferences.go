package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preferences are process-wide defaults shared by every session on this
// deployment: the default model, a common system-prompt suffix, and custom
// agent definitions.
type Preferences struct {
	// DefaultModels are the candidate model names when nothing overrides.
	DefaultModels []string `yaml:"defaultModels"`

	// CommonPrompt is appended to every system prompt under a
	// "## Common Prompt" section.
	CommonPrompt string `yaml:"commonPrompt"`

	// CustomAgents are named agent definitions selectable per session.
	CustomAgents []CustomAgent `yaml:"customAgents"`
}

// CustomAgent is one named agent definition.
type CustomAgent struct {
	ID           string                     `yaml:"id"`
	Name         string                     `yaml:"name"`
	SystemPrompt string                     `yaml:"systemPrompt"`
	Tools        []string                   `yaml:"tools"`
	MCPServers   map[string]MCPServerConfig `yaml:"mcpServers"`
}

// MCPServerConfig describes how to reach one MCP server.
type MCPServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	URL     string   `yaml:"url"`
}

// LoadPreferences reads a YAML preferences file. A missing path yields empty
// preferences rather than an error.
func LoadPreferences(path string) (*Preferences, error) {
	if path == "" {
		return &Preferences{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Preferences{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read preferences %s: %w", path, err)
	}
	prefs := &Preferences{}
	if err := yaml.Unmarshal(data, prefs); err != nil {
		return nil, fmt.Errorf("config: parse preferences %s: %w", path, err)
	}
	return prefs, nil
}

// CustomAgent resolves a custom agent by id. Returns nil when unset or
// unknown.
func (p *Preferences) CustomAgent(id string) *CustomAgent {
	if id == "" {
		return nil
	}
	for i := range p.CustomAgents {
		if p.CustomAgents[i].ID == id {
			return &p.CustomAgents[i]
		}
	}
	return nil
}
