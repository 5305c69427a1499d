package outlook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TokenSet holds the provider tokens for the connected mailbox. Field names
// mirror the provider's token response so the payload round-trips untouched.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

const sessionKey = "outlook:tokens"

// SessionStore persists the single Outlook token session in Redis. The
// dashboard connects one mailbox, so the record lives under a fixed key.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a Redis-backed token session store.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Load returns the stored tokens. ok is false when no session exists.
func (s *SessionStore) Load(ctx context.Context) (TokenSet, bool, error) {
	raw, err := s.client.Get(ctx, sessionKey).Result()
	if err == redis.Nil {
		return TokenSet{}, false, nil
	}
	if err != nil {
		return TokenSet{}, false, fmt.Errorf("load outlook session: %w", err)
	}

	var tokens TokenSet
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return TokenSet{}, false, fmt.Errorf("unmarshal outlook session: %w", err)
	}
	return tokens, true, nil
}

// Save stores the tokens with no expiration. A stale access token is refreshed
// through the provider, not expired locally.
func (s *SessionStore) Save(ctx context.Context, tokens TokenSet) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshal outlook session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("save outlook session: %w", err)
	}
	return nil
}

// Clear removes the session. Clearing an absent session is not an error.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, sessionKey).Err(); err != nil {
		return fmt.Errorf("clear outlook session: %w", err)
	}
	return nil
}
