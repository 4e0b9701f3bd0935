package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/Martian-dev/watchlane/internal/config"
	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/secrets"
)

var (
	// ErrCredential means the account has no usable or refreshable token. A human must reconnect it.
	ErrCredential = errors.New("no usable credential")
	// ErrRefreshUnavailable is a transient refresh failure (network, 5xx, timeout).
	ErrRefreshUnavailable = errors.New("token refresh unavailable")
)

// Token represents OAuth tokens
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Refresher exchanges a refresh token for a new token pair
type Refresher interface {
	Refresh(ctx context.Context, provider model.Provider, refreshToken string) (*Token, error)
}

// OAuthRefresher refreshes through the providers' OAuth2 token endpoints
type OAuthRefresher struct {
	configs map[model.Provider]*oauth2.Config
	client  *http.Client
}

// NewOAuthRefresher builds one oauth2 config per provider. IMAP accounts are Microsoft 365
// mailboxes reached over IMAP with XOAUTH2, so they share the Microsoft app registration.
func NewOAuthRefresher(cfg config.Config) *OAuthRefresher {
	tenant := cfg.Microsoft.Tenant
	if tenant == "" {
		tenant = "common"
	}
	ms := endpoints.AzureAD(tenant)

	return &OAuthRefresher{
		configs: map[model.Provider]*oauth2.Config{
			model.ProviderMicrosoft: {
				ClientID:     cfg.Microsoft.ClientID,
				ClientSecret: cfg.Microsoft.ClientSecret,
				Endpoint:     ms,
				Scopes:       []string{"openid", "email", "profile", "offline_access", "Mail.Read"},
			},
			model.ProviderIMAP: {
				ClientID:     cfg.Microsoft.ClientID,
				ClientSecret: cfg.Microsoft.ClientSecret,
				Endpoint:     ms,
				Scopes:       []string{"offline_access", "https://outlook.office.com/IMAP.AccessAsUser.All"},
			},
			model.ProviderGoogle: {
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				Endpoint:     endpoints.Google,
				Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
			},
		},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Refresh forces a refresh_token grant. invalid_grant and friends map to ErrCredential,
// everything else to ErrRefreshUnavailable.
func (r *OAuthRefresher) Refresh(ctx context.Context, provider model.Provider, refreshToken string) (*Token, error) {
	conf, ok := r.configs[provider]
	if !ok || conf.ClientID == "" {
		return nil, fmt.Errorf("%w: no oauth client configured for %s", ErrCredential, provider)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			switch re.ErrorCode {
			case "invalid_grant", "invalid_client", "unauthorized_client", "interaction_required":
				return nil, fmt.Errorf("%w: %s token refresh rejected: %s", ErrCredential, provider, re.ErrorCode)
			}
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRefreshUnavailable, provider, err)
	}

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// CredentialStore persists refreshed, encrypted credentials
type CredentialStore interface {
	UpdateCredentials(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt time.Time) error
}

// TokenProvider returns a valid bearer token for an account, refreshing and persisting new
// credentials when the stored token expires within Skew. Callers serialize per account.
type TokenProvider struct {
	store     CredentialStore
	cipher    *secrets.Cipher
	refresher Refresher

	Skew time.Duration
	now  func() time.Time
}

func NewTokenProvider(store CredentialStore, cipher *secrets.Cipher, refresher Refresher) *TokenProvider {
	return &TokenProvider{
		store:     store,
		cipher:    cipher,
		refresher: refresher,
		Skew:      time.Minute,
		now:       time.Now,
	}
}

func (p *TokenProvider) AccessToken(ctx context.Context, account model.EmailAccount) (string, error) {
	now := p.now()

	if account.TokenExpiresAt != nil && account.TokenExpiresAt.After(now.Add(p.Skew)) {
		tok, err := p.cipher.Decrypt(account.AccessToken)
		if err != nil {
			return "", fmt.Errorf("%w: stored access token unreadable: %v", ErrCredential, err)
		}
		return tok, nil
	}

	if account.RefreshToken == "" {
		return "", fmt.Errorf("%w: access token expired and no refresh token available", ErrCredential)
	}
	refresh, err := p.cipher.Decrypt(account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: stored refresh token unreadable: %v", ErrCredential, err)
	}

	tok, err := p.refresher.Refresh(ctx, account.Provider, refresh)
	if err != nil {
		return "", err
	}

	encAccess, err := p.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh := ""
	if tok.RefreshToken != "" {
		if encRefresh, err = p.cipher.Encrypt(tok.RefreshToken); err != nil {
			return "", fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(time.Hour)
	}
	if err := p.store.UpdateCredentials(ctx, account.ID, encAccess, encRefresh, expiry); err != nil {
		return "", fmt.Errorf("persist refreshed credentials: %w", err)
	}

	return tok.AccessToken, nil
}
