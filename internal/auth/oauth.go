// Package auth provides OIDC bearer authentication and rate limiting for the
// maestro API.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Provider verifies tokens issued by an OIDC provider.
type Provider struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// Config holds OIDC provider configuration.
type Config struct {
	// Issuer is the OIDC provider URL (e.g., https://auth.example.com)
	Issuer string

	ClientID string

	// SkipIssuerCheck disables issuer validation (use only for testing)
	SkipIssuerCheck bool
}

// NewProvider fetches the discovery document of cfg.Issuer.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("create oidc provider: %w", err)
	}

	return &Provider{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{
			ClientID:        cfg.ClientID,
			SkipIssuerCheck: cfg.SkipIssuerCheck,
		}),
	}, nil
}

// Verify accepts a JWT ID token, falling back to the userinfo endpoint for
// opaque access tokens.
func (p *Provider) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	claims, err := p.VerifyToken(ctx, rawToken)
	if err == nil {
		return claims, nil
	}
	return p.VerifyAccessToken(ctx, rawToken)
}

// VerifyToken verifies an ID token and returns its claims.
func (p *Provider) VerifyToken(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	claims.Expiry = idToken.Expiry
	return &claims, nil
}

// VerifyAccessToken resolves an opaque access token via userinfo.
func (p *Provider) VerifyAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
	}))
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}

	claims := &Claims{
		Subject: userInfo.Subject,
		Email:   userInfo.Email,
	}
	var extra struct {
		Name   string   `json:"name"`
		Groups []string `json:"groups"`
		Roles  []string `json:"roles"`
	}
	if err := userInfo.Claims(&extra); err == nil {
		claims.Name = extra.Name
		claims.Groups = extra.Groups
		claims.Roles = extra.Roles
	}
	return claims, nil
}

// Claims is the caller identity attached to authenticated requests.
type Claims struct {
	Subject string    `json:"sub"`
	Name    string    `json:"name,omitempty"`
	Email   string    `json:"email,omitempty"`
	Groups  []string  `json:"groups,omitempty"`
	Roles   []string  `json:"roles,omitempty"`
	Expiry  time.Time `json:"-"`
}

// HasRole checks if the caller has a specific role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// IsExpired checks if the token has expired.
func (c *Claims) IsExpired() bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().After(c.Expiry)
}

// Identity names the caller for audit fields such as Workflow.CreatedBy.
func (c *Claims) Identity() string {
	switch {
	case c.Email != "":
		return c.Email
	case c.Name != "":
		return c.Name
	}
	return strings.TrimSpace(c.Subject)
}
