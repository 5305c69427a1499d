package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupSessions(t *testing.T) *SessionStore {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client)
}

func newService(sessions *SessionStore, tokenURL, graphURL string) *Service {
	return NewService(Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "http://localhost:8080/outlook/callback",
		TokenURL:     tokenURL,
		GraphURL:     graphURL,
	}, sessions)
}

func TestExchangePersistsTokens(t *testing.T) {
	calls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("code"); got != "ABC123" {
			t.Errorf("code = %q", got)
		}
		if got := r.PostForm.Get("client_secret"); got != "secret-1" {
			t.Errorf("client_secret = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
		})
	}))
	defer provider.Close()

	sessions := setupSessions(t)
	svc := newService(sessions, provider.URL, "")
	ctx := context.Background()

	payload, err := svc.Dispatch(ctx, Request{Action: "auth", Code: "ABC123"})
	if err != nil {
		t.Fatalf("auth dispatch failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls)
	}
	if !strings.Contains(string(payload), "at-1") {
		t.Errorf("payload not passed through: %s", payload)
	}

	tokens, ok, err := sessions.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("session not persisted: ok=%v err=%v", ok, err)
	}
	if tokens.AccessToken != "at-1" || tokens.RefreshToken != "rt-1" || tokens.ExpiresIn != 3600 {
		t.Errorf("persisted tokens = %+v", tokens)
	}
}

func TestExchangeFailureLeavesDisconnected(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer provider.Close()

	sessions := setupSessions(t)
	svc := newService(sessions, provider.URL, "")
	ctx := context.Background()

	if _, err := svc.Dispatch(ctx, Request{Action: "auth", Code: "BAD"}); err == nil {
		t.Fatal("expected exchange error")
	}
	connected, err := svc.Connected(ctx)
	if err != nil {
		t.Fatalf("Connected failed: %v", err)
	}
	if connected {
		t.Error("session connected after failed exchange")
	}
}

func TestRefreshKeepsStoredRefreshToken(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// Provider omits refresh_token on refresh grants.
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-2",
			"expires_in":   3600,
		})
	}))
	defer provider.Close()

	sessions := setupSessions(t)
	ctx := context.Background()
	if err := sessions.Save(ctx, TokenSet{AccessToken: "at-1", RefreshToken: "rt-old", ExpiresIn: 3600}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	svc := newService(sessions, provider.URL, "")
	if _, err := svc.Dispatch(ctx, Request{Action: "refresh"}); err != nil {
		t.Fatalf("refresh dispatch failed: %v", err)
	}

	tokens, ok, err := sessions.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("session missing after refresh: ok=%v err=%v", ok, err)
	}
	if tokens.AccessToken != "at-2" {
		t.Errorf("access token = %q, want at-2", tokens.AccessToken)
	}
	if tokens.RefreshToken != "rt-old" {
		t.Errorf("refresh token = %q, want rt-old", tokens.RefreshToken)
	}
}

func TestEmailsUsesStoredAccessToken(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("authorization = %q", got)
		}
		if !strings.HasPrefix(r.URL.Path, "/me/messages") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":[{"subject":"Discovery deadline"}]}`))
	}))
	defer graph.Close()

	sessions := setupSessions(t)
	ctx := context.Background()
	if err := sessions.Save(ctx, TokenSet{AccessToken: "at-1", RefreshToken: "rt-1"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	svc := newService(sessions, "", graph.URL)
	payload, err := svc.Dispatch(ctx, Request{Action: "emails"})
	if err != nil {
		t.Fatalf("emails dispatch failed: %v", err)
	}
	if !strings.Contains(string(payload), "Discovery deadline") {
		t.Errorf("payload = %s", payload)
	}
}

func TestGraphFailureDoesNotDropSession(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken"}}`))
	}))
	defer graph.Close()

	sessions := setupSessions(t)
	ctx := context.Background()
	if err := sessions.Save(ctx, TokenSet{AccessToken: "at-stale", RefreshToken: "rt-1"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	svc := newService(sessions, "", graph.URL)
	if _, err := svc.Dispatch(ctx, Request{Action: "calendar"}); err == nil {
		t.Fatal("expected graph error")
	}

	connected, err := svc.Connected(ctx)
	if err != nil {
		t.Fatalf("Connected failed: %v", err)
	}
	if !connected {
		t.Error("session dropped after API failure")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	sessions := setupSessions(t)
	svc := newService(sessions, "", "")
	ctx := context.Background()

	if err := sessions.Save(ctx, TokenSet{AccessToken: "at-1"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("first logout failed: %v", err)
	}
	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("second logout failed: %v", err)
	}
	connected, err := svc.Connected(ctx)
	if err != nil {
		t.Fatalf("Connected failed: %v", err)
	}
	if connected {
		t.Error("still connected after logout")
	}
}

func TestUnknownActionRejected(t *testing.T) {
	svc := newService(setupSessions(t), "", "")
	if _, err := svc.Dispatch(context.Background(), Request{Action: "delete-everything"}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestAuthCodeURL(t *testing.T) {
	svc := newService(setupSessions(t), "", "")
	u := svc.AuthCodeURL("state-1")
	for _, want := range []string{
		"login.microsoftonline.com/common",
		"client_id=client-1",
		"response_mode=query",
		"state=state-1",
		"Mail.Read",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("auth url missing %q: %s", want, u)
		}
	}
}

func TestCallbackErrorParamSkipsExchange(t *testing.T) {
	calls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"access_token":"never"}`))
	}))
	defer provider.Close()

	sessions := setupSessions(t)
	svc := newService(sessions, provider.URL, "")
	ctx := context.Background()

	query := url.Values{
		"error":             {"access_denied"},
		"error_description": {"user declined consent"},
	}
	_, err := svc.Callback(ctx, query)
	if err == nil {
		t.Fatal("expected auth error")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type = %T, want *AuthError", err)
	}
	if authErr.Code != "access_denied" || authErr.Description != "user declined consent" {
		t.Errorf("auth error = %+v", authErr)
	}
	if calls != 0 {
		t.Errorf("token endpoint called %d times on the error path, want 0", calls)
	}
	connected, err := svc.Connected(ctx)
	if err != nil {
		t.Fatalf("Connected failed: %v", err)
	}
	if connected {
		t.Error("session connected after denied consent")
	}
}

func TestCallbackExchangesCodeOnce(t *testing.T) {
	calls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("code"); got != "CB42" {
			t.Errorf("code = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-cb",
			"refresh_token": "rt-cb",
			"expires_in":    3600,
		})
	}))
	defer provider.Close()

	sessions := setupSessions(t)
	svc := newService(sessions, provider.URL, "")
	ctx := context.Background()

	payload, err := svc.Callback(ctx, url.Values{"code": {"CB42"}})
	if err != nil {
		t.Fatalf("Callback failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls)
	}
	if !strings.Contains(string(payload), "at-cb") {
		t.Errorf("payload not passed through: %s", payload)
	}
	connected, err := svc.Connected(ctx)
	if err != nil {
		t.Fatalf("Connected failed: %v", err)
	}
	if !connected {
		t.Error("session not connected after callback exchange")
	}
}
