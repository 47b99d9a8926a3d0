package video

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotConfigured = errors.New("video token issuer is not configured")

// Roles accepted by the video transport.
const (
	RoleHost     = "host"
	RoleAudience = "audience"
)

// Token is a short-lived credential for joining one video channel.
type Token struct {
	Token     string    `json:"token"`
	UID       uint32    `json:"uid"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	jwt.RegisteredClaims
	AppID   string `json:"app_id"`
	Channel string `json:"channel"`
	Role    string `json:"role"`
	UID     uint32 `json:"uid"`
}

// Issuer signs channel-scoped tokens for the video transport. The channel
// name is the one agreed at session creation; the issuer does not check
// session state, callers gate on access-code verification first.
type Issuer struct {
	appID  string
	secret []byte
	ttl    time.Duration
}

func NewIssuer(appID, secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		appID:  appID,
		secret: []byte(secret),
		ttl:    ttl,
	}
}

func (i *Issuer) Configured() bool {
	return i.appID != "" && len(i.secret) > 0
}

// Issue creates a signed token for one channel and role with a fresh
// numeric uid.
func (i *Issuer) Issue(channel, role string) (*Token, error) {
	if !i.Configured() {
		return nil, ErrNotConfigured
	}
	if channel == "" {
		return nil, errors.New("channel is required")
	}
	if role != RoleHost && role != RoleAudience {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	// Non-zero uid; the transport treats 0 as "let the server pick".
	uid := rand.Uint32()%1_000_000 + 1

	now := time.Now()
	expiresAt := now.Add(i.ttl)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AppID:   i.appID,
		Channel: channel,
		Role:    role,
		UID:     uid,
	})

	signed, err := t.SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign video token: %w", err)
	}

	return &Token{
		Token:     signed,
		UID:       uid,
		Channel:   channel,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify parses a token issued by this issuer, returning its channel and
// role.
func (i *Issuer) Verify(token string) (channel, role string, err error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", "", err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", "", errors.New("invalid token")
	}
	return c.Channel, c.Role, nil
}
