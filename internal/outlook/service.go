// Package outlook bridges the dashboard to the Microsoft identity platform
// and the Graph API for mail and calendar reads.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	defaultTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
)

var scopes = []string{"Mail.Read", "Calendars.Read", "User.Read", "offline_access"}

// Request is the action-dispatch envelope accepted by the bridge endpoint.
type Request struct {
	Action       string `json:"action"`
	Code         string `json:"code,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Config holds the confidential-client registration plus the endpoint
// overrides used by tests.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenURL     string
	GraphURL     string
}

// Service proxies token exchange and Graph reads so the client secret never
// reaches a browser.
type Service struct {
	cfg      Config
	sessions *SessionStore
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewService creates the bridge. sessions may not be nil.
func NewService(cfg Config, sessions *SessionStore) *Service {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outlook-graph",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("outlook: circuit breaker %s changed from %s to %s", name, from, to)
		},
	})

	return &Service{
		cfg:      cfg,
		sessions: sessions,
		http:     &http.Client{Timeout: 15 * time.Second},
		breaker:  breaker,
	}
}

// IsConfigured reports whether the client registration is present.
func (s *Service) IsConfigured() bool {
	return s.cfg.ClientID != "" && s.cfg.ClientSecret != ""
}

// AuthCodeURL builds the provider consent URL for the browser redirect.
func (s *Service) AuthCodeURL(state string) string {
	conf := &oauth2.Config{
		ClientID:    s.cfg.ClientID,
		RedirectURL: s.cfg.RedirectURI,
		Scopes:      scopes,
		Endpoint:    microsoft.AzureADEndpoint("common"),
	}
	return conf.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

// Dispatch executes one bridge action and returns the provider payload
// verbatim.
func (s *Service) Dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	switch req.Action {
	case "auth":
		return s.exchangeCode(ctx, req.Code)
	case "refresh":
		return s.refreshTokens(ctx, req.RefreshToken)
	case "emails":
		return s.graphGet(ctx, req.AccessToken, "/me/messages?$top=50&$orderby=receivedDateTime%20desc")
	case "calendar":
		return s.graphGet(ctx, req.AccessToken, "/me/events?$top=50&$orderby=start/dateTime")
	default:
		return nil, fmt.Errorf("unknown outlook action %q", req.Action)
	}
}

// AuthError carries a consent failure reported by the provider redirect.
type AuthError struct {
	Code        string
	Description string
}

func (e *AuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider auth failed: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("provider auth failed: %s", e.Code)
}

// Callback consumes the provider redirect query. An error parameter short-
// circuits without touching the token endpoint; otherwise the code is
// exchanged exactly once.
func (s *Service) Callback(ctx context.Context, query url.Values) (json.RawMessage, error) {
	if errCode := query.Get("error"); errCode != "" {
		return nil, &AuthError{Code: errCode, Description: query.Get("error_description")}
	}
	return s.exchangeCode(ctx, query.Get("code"))
}

// Connected reports whether a token session exists.
func (s *Service) Connected(ctx context.Context) (bool, error) {
	_, ok, err := s.sessions.Load(ctx)
	return ok, err
}

// Logout drops the token session. Safe to call when already disconnected.
func (s *Service) Logout(ctx context.Context) error {
	return s.sessions.Clear(ctx)
}

func (s *Service) exchangeCode(ctx context.Context, code string) (json.RawMessage, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}
	form := url.Values{
		"client_id":     {s.cfg.ClientID},
		"client_secret": {s.cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {s.cfg.RedirectURI},
		"grant_type":    {"authorization_code"},
		"scope":         {strings.Join(scopes, " ")},
	}
	return s.tokenCall(ctx, form)
}

func (s *Service) refreshTokens(ctx context.Context, refreshToken string) (json.RawMessage, error) {
	if refreshToken == "" {
		tokens, ok, err := s.sessions.Load(ctx)
		if err != nil {
			return nil, err
		}
		if !ok || tokens.RefreshToken == "" {
			return nil, fmt.Errorf("no refresh token available")
		}
		refreshToken = tokens.RefreshToken
	}
	form := url.Values{
		"client_id":     {s.cfg.ClientID},
		"client_secret": {s.cfg.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
		"scope":         {strings.Join(scopes, " ")},
	}
	return s.tokenCall(ctx, form)
}

// tokenCall posts a form to the token endpoint and persists the returned
// tokens. A failed exchange leaves the stored session untouched.
func (s *Service) tokenCall(ctx context.Context, form url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokens TokenSet
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("unmarshal token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	if tokens.RefreshToken == "" {
		// Refresh grants may omit the refresh token; keep the stored one.
		if prev, ok, err := s.sessions.Load(ctx); err == nil && ok {
			tokens.RefreshToken = prev.RefreshToken
		}
	}
	if err := s.sessions.Save(ctx, tokens); err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// graphGet reads from the Graph API behind the circuit breaker. A failed read
// does not drop the session; the client decides whether to refresh.
func (s *Service) graphGet(ctx context.Context, accessToken, path string) (json.RawMessage, error) {
	if accessToken == "" {
		tokens, ok, err := s.sessions.Load(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("outlook not connected")
		}
		accessToken = tokens.AccessToken
	}

	body, err := s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.GraphURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("build graph request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := s.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call graph: %w", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read graph response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("graph returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body.([]byte)), nil
}
