package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/remoteswe/worker/internal/config"
)

// defaultSystemPrompt frames the default software-engineering agent.
const defaultSystemPrompt = `You are an autonomous software engineering agent working in an isolated environment.
You complete coding tasks end to end: explore the repository, make changes, run the relevant checks, and report progress as you go.
Use the reportProgress tool regularly so the user can follow along, and keep the task list current with todoInit and todoUpdate.`

// knowledgeFileName is the repository-local file whose contents are folded
// into the system prompt after a clone.
const knowledgeFileName = "AGENTS.md"

// buildSystemPrompt assembles the effective system prompt: the agent's base
// prompt, the deployment-wide common prompt, and any repository knowledge
// discovered after a clone.
func (l *Loop) buildSystemPrompt(ctx context.Context, workerID string, agentDef *config.CustomAgent) string {
	base := defaultSystemPrompt
	if agentDef != nil && strings.TrimSpace(agentDef.SystemPrompt) != "" {
		base = agentDef.SystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)

	if l.prefs != nil && strings.TrimSpace(l.prefs.CommonPrompt) != "" {
		b.WriteString("\n\n## Common Prompt\n")
		b.WriteString(l.prefs.CommonPrompt)
	}

	if knowledge := l.loadRepoKnowledge(ctx, workerID); knowledge != "" {
		b.WriteString("\n\n## Repository Knowledge\n")
		b.WriteString(knowledge)
	}
	return b.String()
}

// loadRepoKnowledge reads the knowledge file of the cloned repository, if
// any. Missing metadata or file is not an error.
func (l *Loop) loadRepoKnowledge(ctx context.Context, workerID string) string {
	repo, err := l.sessions.GetRepoMetadata(ctx, workerID)
	if err != nil {
		l.logger.Warn("failed to load repo metadata", "workerId", workerID, "error", err)
		return ""
	}
	if repo == nil || repo.RepoDirectory == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(repo.RepoDirectory, knowledgeFileName))
	if err != nil {
		return ""
	}
	return string(data)
}
