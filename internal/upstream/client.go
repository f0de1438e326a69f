package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"admin-gateway/internal/config"
	"admin-gateway/internal/model"
)

// Client talks to the identity backend that owns admin credentials and
// signs tokens. The gateway never validates token signatures locally;
// every verification round-trips through these endpoints, so any network
// failure here surfaces as model.ErrUpstreamUnavailable and callers are
// expected to fail closed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.Upstream.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Upstream.Timeout,
		},
		logger: logger,
	}
}

// LoginResult is the upstream response to a successful credential check.
type LoginResult struct {
	Tokens model.TokenPair
	User   model.Claims
}

// Login exchanges credentials for a token pair. An explicit upstream
// rejection maps to model.ErrInvalidCredentials; transport failures map
// to model.ErrUpstreamUnavailable.
func (c *Client) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	payload, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/local", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("identity backend unreachable during login", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, model.ErrInvalidCredentials
	default:
		return nil, fmt.Errorf("%w: login returned status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body struct {
		Token        string       `json:"token"`
		RefreshToken string       `json:"refreshToken"`
		User         model.Claims `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	return &LoginResult{
		Tokens: model.TokenPair{Token: body.Token, RefreshToken: body.RefreshToken},
		User:   body.User,
	}, nil
}

// Verify asks the backend whether an access token is still good and
// returns the identity it carries. Rejections map to
// model.ErrTokenInvalid.
func (c *Client) Verify(ctx context.Context, accessToken string) (*model.Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("identity backend unreachable during verify", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, model.ErrTokenInvalid
	default:
		return nil, fmt.Errorf("%w: verify returned status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var claims model.Claims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return &claims, nil
}

// Rotate trades a refresh token for a fresh token pair. A rejection means
// the refresh token is spent or revoked and maps to model.ErrTokenInvalid;
// callers decide what to do with the old token based on which error they
// get back.
func (c *Client) Rotate(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/regenerate-token", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rotation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("identity backend unreachable during rotation", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest:
		return nil, model.ErrTokenInvalid
	default:
		return nil, fmt.Errorf("%w: rotation returned status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var pair model.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("failed to decode rotation response: %w", err)
	}
	return &pair, nil
}

// HealthCheck probes the backend's health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity backend health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity backend health check returned status %d", resp.StatusCode)
	}
	return nil
}
