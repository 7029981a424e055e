package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "super-secret"
	testIssuer        = "achievements-bot"
	testAudience      = "achievements-operator"
)

func TestTokenIssuerIssuesOperatorTokens(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      30 * time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresAt, err := issuer.IssueOperatorToken(context.Background(), "ops@example.com")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	parser := jwt.NewParser(jwt.WithTimeFunc(func() time.Time { return now }))
	claims := &OperatorClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSigningSecret), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "ops@example.com" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != testIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != testAudience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
	if claims.Scope != ScopeOperator {
		t.Fatalf("unexpected scope %s", claims.Scope)
	}
	if claims.ID == "" {
		t.Fatalf("expected token id")
	}
}

func TestTokenIssuerRejectsMissingSubject(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.IssueOperatorToken(context.Background(), "  "); err != ErrMissingSubject {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	cases := map[string]struct {
		config TokenIssuerConfig
		want   error
	}{
		"secret":   {TokenIssuerConfig{Issuer: testIssuer, Audience: testAudience}, ErrMissingSigningSecret},
		"issuer":   {TokenIssuerConfig{SigningSecret: []byte("secret"), Audience: testAudience}, ErrMissingIssuer},
		"audience": {TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: testIssuer, Audience: " "}, ErrMissingAudience},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewTokenIssuer(tc.config); err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNewTokenIssuerDefaultsTTL(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        testIssuer,
		Audience:      testAudience,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	_, expiresAt, err := issuer.IssueOperatorToken(context.Background(), "ops")
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}
	if !expiresAt.Equal(now.Add(defaultTokenTTL)) {
		t.Fatalf("expected default ttl, got expiry %s", expiresAt)
	}
}
