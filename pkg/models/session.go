package models

// AgentStatus is the coarse lifecycle state of a session's agent loop.
type AgentStatus string

const (
	StatusPending    AgentStatus = "pending"
	StatusWorking    AgentStatus = "working"
	StatusCancelling AgentStatus = "cancelling"
)

// Session is the per-worker conversation record. Terminal state is
// soft-deleted (IsHidden=true); records are never removed.
type Session struct {
	WorkerID      string      `json:"workerId" dynamodbav:"workerId"`
	AgentStatus   AgentStatus `json:"agentStatus" dynamodbav:"agentStatus"`
	Title         string      `json:"title,omitempty" dynamodbav:"title,omitempty"`
	CreatedAt     int64       `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt     int64       `json:"updatedAt" dynamodbav:"updatedAt"`
	IsHidden      bool        `json:"isHidden" dynamodbav:"isHidden"`
	Cost          float64     `json:"cost" dynamodbav:"cost"`
	Initiator     string      `json:"initiator,omitempty" dynamodbav:"initiator,omitempty"`
	SlackUserID   string      `json:"slackUserId,omitempty" dynamodbav:"slackUserId,omitempty"`
	CustomAgentID string      `json:"customAgentId,omitempty" dynamodbav:"customAgentId,omitempty"`
	ModelOverride string      `json:"modelOverride,omitempty" dynamodbav:"modelOverride,omitempty"`
}

// TokenLedgerItem accumulates billed token counters for one (session, model)
// pair. Counters are monotonically non-decreasing.
type TokenLedgerItem struct {
	ModelID               string `json:"SK" dynamodbav:"SK"`
	InputTokens           int64  `json:"inputTokens" dynamodbav:"inputTokens"`
	OutputTokens          int64  `json:"outputTokens" dynamodbav:"outputTokens"`
	CacheReadInputTokens  int64  `json:"cacheReadInputTokens" dynamodbav:"cacheReadInputTokens"`
	CacheWriteInputTokens int64  `json:"cacheWriteInputTokens" dynamodbav:"cacheWriteInputTokens"`
}
