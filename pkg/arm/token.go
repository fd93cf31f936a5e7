package arm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// TokenProvider supplies bearer tokens for ARM requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// EnvTokenVar is the environment variable checked for a pre-issued token.
const EnvTokenVar = "AZURE_ACCESS_TOKEN"

// StaticTokenProvider returns a fixed token.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider wraps a pre-issued token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// Token implements TokenProvider.
func (p *StaticTokenProvider) Token(context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("no access token configured")
	}
	return p.token, nil
}

// CLITokenProvider obtains tokens from the Azure CLI's cached login
// (az account get-access-token). Tokens are reused until shortly before
// their expiry.
type CLITokenProvider struct {
	mu        sync.Mutex
	token     string
	expiresOn time.Time
}

// NewCLITokenProvider creates a provider backed by the az CLI.
func NewCLITokenProvider() *CLITokenProvider {
	return &CLITokenProvider{}
}

// Token implements TokenProvider.
func (p *CLITokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Until(p.expiresOn) > 2*time.Minute {
		return p.token, nil
	}

	cmd := exec.CommandContext(ctx, "az", "account", "get-access-token", "--output", "json")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("az account get-access-token failed: %w", err)
	}

	var result struct {
		AccessToken string `json:"accessToken"`
		ExpiresOn   string `json:"expiresOn"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return "", fmt.Errorf("failed to decode az token output: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("az returned an empty access token")
	}

	p.token = result.AccessToken
	p.expiresOn = time.Now().Add(30 * time.Minute)
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05.000000", result.ExpiresOn, time.Local); err == nil {
		p.expiresOn = ts
	}
	return p.token, nil
}

// DefaultTokenProvider picks the token source: the AZURE_ACCESS_TOKEN
// environment variable when set, the az CLI otherwise.
func DefaultTokenProvider() TokenProvider {
	if token := strings.TrimSpace(os.Getenv(EnvTokenVar)); token != "" {
		return NewStaticTokenProvider(token)
	}
	return NewCLITokenProvider()
}
