// Package identity turns an authorization code from an external OpenID
// Connect provider into a classified Identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/rl337/authface/internal/observability"
	"github.com/rl337/authface/internal/policy"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/services"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultSessionTTL is how long an exchanged identity stays valid
	DefaultSessionTTL = 7 * 24 * time.Hour

	// DefaultHTTPTimeout bounds each call to a provider
	DefaultHTTPTimeout = 10 * time.Second

	stateBytes = 32

	// maxUserInfoBytes caps how much of a userinfo response is read
	maxUserInfoBytes = 1 << 20
)

// AuthorizationRequest is where to send the browser and the state that must
// come back on the callback
type AuthorizationRequest struct {
	URL   string
	State string
}

// Exchanger performs the authorization-code flow against a fixed table of
// providers. The table is read-only after construction.
type Exchanger struct {
	providers  map[string]models.ProviderDescriptor
	policy     *policy.TierPolicy
	httpClient *http.Client
	sessionTTL time.Duration
	now        func() time.Time
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// Option customises an Exchanger
type Option func(*Exchanger)

// WithHTTPClient sets the client used for token and userinfo calls
func WithHTTPClient(client *http.Client) Option {
	return func(e *Exchanger) { e.httpClient = client }
}

// WithSessionTTL sets the identity lifetime
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Exchanger) { e.sessionTTL = ttl }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Exchanger) { e.now = now }
}

// WithMetrics records exchange latency per provider
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Exchanger) { e.metrics = metrics }
}

// NewExchanger builds an exchanger from resolved provider descriptors. Use
// Discover first for providers configured only by issuer.
func NewExchanger(providers []models.ProviderDescriptor, tiers *policy.TierPolicy, logger *zap.Logger, opts ...Option) (*Exchanger, error) {
	if tiers == nil {
		tiers = policy.DefaultTierPolicy()
	}

	e := &Exchanger{
		providers:  make(map[string]models.ProviderDescriptor, len(providers)),
		policy:     tiers,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %v", e.sessionTTL)
	}

	for _, p := range providers {
		if p.ID == "" {
			return nil, errors.New("provider id is required")
		}
		if _, dup := e.providers[p.ID]; dup {
			return nil, fmt.Errorf("provider %q configured twice", p.ID)
		}
		if !p.Resolved() {
			return nil, fmt.Errorf("provider %q has unresolved endpoints", p.ID)
		}
		if len(p.Scopes) == 0 {
			p.Scopes = append([]string(nil), models.DefaultScopes...)
		}
		e.providers[p.ID] = p
	}
	return e, nil
}

// Providers lists the configured provider ids in sorted order
func (e *Exchanger) Providers() []string {
	ids := make([]string, 0, len(e.providers))
	for id := range e.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Provider returns the descriptor for id
func (e *Exchanger) Provider(id string) (models.ProviderDescriptor, bool) {
	p, ok := e.providers[id]
	return p, ok
}

// AuthorizationURL builds the provider's authorization URL with a fresh state
func (e *Exchanger) AuthorizationURL(providerID, redirectURI string) (AuthorizationRequest, error) {
	provider, ok := e.providers[providerID]
	if !ok {
		return AuthorizationRequest{}, services.ErrProviderNotFound.Wrap(fmt.Errorf("provider %q", providerID))
	}

	state, err := newState()
	if err != nil {
		return AuthorizationRequest{}, services.WrapInternal("failed to generate state", err)
	}

	return AuthorizationRequest{
		URL:   oauthConfig(provider, redirectURI).AuthCodeURL(state),
		State: state,
	}, nil
}

// Exchange trades code for an access token, fetches the userinfo profile and
// builds a classified identity expiring after the session ttl
func (e *Exchanger) Exchange(ctx context.Context, providerID, code, redirectURI string) (*models.Identity, error) {
	provider, ok := e.providers[providerID]
	if !ok {
		return nil, services.ErrProviderNotFound.Wrap(fmt.Errorf("provider %q", providerID))
	}
	if code == "" {
		return nil, services.ErrMissingParameter.Wrap(errors.New("code"))
	}

	start := time.Now()
	defer func() {
		e.metrics.RecordExchangeLatency(providerID, time.Since(start).Seconds())
	}()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	token, err := oauthConfig(provider, redirectURI).Exchange(ctx, code)
	if err != nil {
		e.logger.Warn("token exchange failed",
			zap.String("provider", providerID),
			zap.Error(err))
		return nil, classifyTokenError(err)
	}

	profile, err := e.fetchUserInfo(ctx, provider, token.AccessToken)
	if err != nil {
		e.logger.Warn("userinfo request failed",
			zap.String("provider", providerID),
			zap.Error(err))
		return nil, err
	}

	now := e.now()
	identity := &models.Identity{
		Subject:     profile.Subject,
		DisplayName: profile.Name,
		Email:       profile.Email,
		Provider:    providerID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.sessionTTL),
	}
	decision := e.policy.Evaluate(policy.Attributes{
		Subject:  profile.Subject,
		Email:    profile.Email,
		Name:     profile.Name,
		Provider: providerID,
	})
	identity.Tier = decision.Tier

	e.logger.Info("identity exchanged",
		zap.String("provider", providerID),
		zap.String("tier", identity.Tier.String()),
		zap.String("tier_rule", decision.Rule),
		zap.Bool("email_present", identity.Email != nil))

	return identity, nil
}

type userProfile struct {
	Subject string
	Name    *string
	Email   *string
}

func (e *Exchanger) fetchUserInfo(ctx context.Context, provider models.ProviderDescriptor, accessToken string) (*userProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoEndpoint, nil)
	if err != nil {
		return nil, services.WrapInternal("failed to build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, services.ErrUpstreamTransport.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserInfoBytes))
		return nil, services.ErrUpstreamStatus.
			Wrap(fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)).
			WithDetail("status", resp.StatusCode)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&raw); err != nil {
		return nil, services.ErrMalformedResponse.Wrap(err)
	}

	sub, _ := raw["sub"].(string)
	if sub == "" {
		return nil, services.ErrMalformedResponse.Wrap(errors.New("userinfo response has no sub"))
	}
	return &userProfile{
		Subject: sub,
		Name:    optionalString(raw, "name"),
		Email:   optionalString(raw, "email"),
	}, nil
}

func optionalString(raw map[string]interface{}, key string) *string {
	s, ok := raw[key].(string)
	if !ok {
		return nil
	}
	return models.StringPtr(s)
}

func oauthConfig(provider models.ProviderDescriptor, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: provider.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  provider.AuthorizationEndpoint,
			TokenURL: provider.TokenEndpoint,
		},
	}
}

// classifyTokenError maps oauth2 exchange failures onto the upstream error
// classes. oauth2 reports non-2xx replies as *RetrieveError and returns
// transport errors unwrapped; anything else is a response it could not use.
func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		wrapped := services.ErrUpstreamStatus.Wrap(err)
		if retrieveErr.Response != nil {
			wrapped.WithDetail("status", retrieveErr.Response.StatusCode)
		}
		if retrieveErr.ErrorCode != "" {
			wrapped.WithDetail("error_code", retrieveErr.ErrorCode)
		}
		return wrapped
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return services.ErrUpstreamTransport.Wrap(err)
	}
	return services.ErrMalformedResponse.Wrap(err)
}

func newState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
