package transport

import (
	"context"
	"sync"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
)

// TokenSource supplies bearer tokens for outgoing requests.
type TokenSource interface {
	GetToken(ctx context.Context, aud string) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (s StaticToken) GetToken(context.Context, string) (string, error) {
	return string(s), nil
}

// JWTTokenSource mints HS256 tokens and reuses one until it is close to
// expiry.
type JWTTokenSource struct {
	Subject string
	Secret  string
	TTL     time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewJWTTokenSource creates a token source. A zero ttl means one hour.
func NewJWTTokenSource(subject, secret string, ttl time.Duration) *JWTTokenSource {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTTokenSource{Subject: subject, Secret: secret, TTL: ttl}
}

func (s *JWTTokenSource) GetToken(_ context.Context, aud string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.token != "" && now.Add(s.TTL/10).Before(s.expires) {
		return s.token, nil
	}
	var extra map[string]any
	if aud != "" {
		extra = map[string]any{"aud": aud}
	}
	token, err := security.SignToken(s.Subject, s.Secret, s.TTL, extra)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = now.Add(s.TTL)
	return token, nil
}
