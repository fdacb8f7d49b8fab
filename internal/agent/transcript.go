package agent

import (
	"strings"

	"github.com/remoteswe/worker/pkg/models"
)

// transcript accumulates the human-readable trace of the current turn, used
// to seed session title generation: the triggering user message, progress
// reports made along the way, and the closing assistant reply.
type transcript struct {
	parts []string
}

// newTranscript seeds the transcript with the latest user message.
func newTranscript(history []models.MessageItem) *transcript {
	t := &transcript{}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].MessageType == models.MessageTypeUser {
			t.add("User: " + history[i].TextContent())
			break
		}
	}
	return t
}

func (t *transcript) add(s string) {
	if strings.TrimSpace(s) != "" {
		t.parts = append(t.parts, s)
	}
}

// AddProgress records an intermediate progress report.
func (t *transcript) AddProgress(s string) {
	t.add("Progress: " + s)
}

// AddAssistant records the closing assistant reply.
func (t *transcript) AddAssistant(s string) {
	t.add("Assistant: " + s)
}

// Empty reports whether nothing was collected.
func (t *transcript) Empty() bool {
	return len(t.parts) == 0
}

// String renders the transcript for the title prompt.
func (t *transcript) String() string {
	return strings.Join(t.parts, "\n")
}
