package llm

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DefaultRoleName is the role assumed in each account for Bedrock access.
const DefaultRoleName = "bedrock-remote-swe-role"

// AccountPool rotates Bedrock calls across a list of AWS accounts. The
// rotation index is process-wide; it advances only on throttling, so
// rotation is an optimization and needs atomicity but not fairness.
type AccountPool struct {
	baseConfig aws.Config
	accounts   []string
	roleName   string
	logger     *slog.Logger

	index atomic.Int64

	mu      sync.Mutex
	clients map[string]*bedrockruntime.Client
}

// NewAccountPool creates a pool over the configured account ids. An empty
// account list degrades to a single client on the ambient credentials.
func NewAccountPool(baseConfig aws.Config, accounts []string, roleName string, logger *slog.Logger) *AccountPool {
	if roleName == "" {
		roleName = DefaultRoleName
	}
	return &AccountPool{
		baseConfig: baseConfig,
		accounts:   accounts,
		roleName:   roleName,
		logger:     logger,
		clients:    map[string]*bedrockruntime.Client{},
	}
}

// Client returns the Bedrock client for the current account. Per-account
// credentials come from assuming the configured role; the credential cache
// refreshes them on expiry.
func (p *AccountPool) Client() *bedrockruntime.Client {
	if len(p.accounts) == 0 {
		p.mu.Lock()
		defer p.mu.Unlock()
		client, ok := p.clients[""]
		if !ok {
			client = bedrockruntime.NewFromConfig(p.baseConfig)
			p.clients[""] = client
		}
		return client
	}

	account := p.accounts[int(p.index.Load())%len(p.accounts)]
	p.mu.Lock()
	defer p.mu.Unlock()
	client, ok := p.clients[account]
	if !ok {
		roleArn := fmt.Sprintf("arn:aws:iam::%s:role/%s", account, p.roleName)
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(p.baseConfig), roleArn)
		cfg := p.baseConfig.Copy()
		cfg.Credentials = aws.NewCredentialsCache(provider)
		client = bedrockruntime.NewFromConfig(cfg)
		p.clients[account] = client
	}
	return client
}

// Advance moves to the next account after a throttle. Returns the new index.
func (p *AccountPool) Advance() int {
	if len(p.accounts) == 0 {
		return 0
	}
	next := int(p.index.Add(1)) % len(p.accounts)
	p.logger.Info("rotating bedrock account after throttle",
		"account", p.accounts[next], "index", next)
	return next
}

// Index returns the current rotation index.
func (p *AccountPool) Index() int {
	if len(p.accounts) == 0 {
		return 0
	}
	return int(p.index.Load()) % len(p.accounts)
}
