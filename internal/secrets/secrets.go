// Package secrets reads named secret parameters for the worker process.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Reader resolves a secret by parameter name.
type Reader interface {
	Get(ctx context.Context, name string) (string, error)
}

// SSMReader reads SecureString parameters from AWS Systems Manager.
type SSMReader struct {
	client *ssm.Client
}

// NewSSMReader creates a reader over the given SSM client.
func NewSSMReader(client *ssm.Client) *SSMReader {
	return &SSMReader{client: client}
}

func (r *SSMReader) Get(ctx context.Context, name string) (string, error) {
	resp, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", name, err)
	}
	if resp.Parameter == nil || resp.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %s has no value", name)
	}
	return *resp.Parameter.Value, nil
}

// Cached wraps a Reader with a process-lifetime cache. Secrets are assumed
// stable for the duration of one worker run.
type Cached struct {
	inner Reader

	mu    sync.RWMutex
	cache map[string]string
}

// NewCached wraps inner with caching.
func NewCached(inner Reader) *Cached {
	return &Cached{inner: inner, cache: map[string]string{}}
}

func (c *Cached) Get(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	value, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return value, nil
	}

	value, err := c.inner.Get(ctx, name)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.cache[name] = value
	c.mu.Unlock()
	return value, nil
}

// Static is a fixed in-memory reader used in tests and local runs.
type Static map[string]string

func (s Static) Get(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secrets: parameter %s not found", name)
	}
	return value, nil
}
