package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifySessionToken_SubjectAndAudience(t *testing.T) {
	secret := "test_secret"
	now := time.Unix(1700000000, 0)

	s, err := SignSessionToken("user-1", "authenticated", secret, 10*time.Minute, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := VerifySessionToken(s, "authenticated", secret, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.UserID != "user-1" {
		t.Fatalf("user id mismatch: %q", got.UserID)
	}
	if !got.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry: %s", got.ExpiresAt)
	}
}

func TestVerifySessionToken_Rejects(t *testing.T) {
	secret := "test_secret"
	now := time.Unix(1700000000, 0)

	expired, _ := SignSessionToken("user-1", "authenticated", secret, time.Minute, now.Add(-time.Hour))
	if _, err := VerifySessionToken(expired, "authenticated", secret, now); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	wrongAud, _ := SignSessionToken("user-1", "anon", secret, time.Minute, now)
	if _, err := VerifySessionToken(wrongAud, "authenticated", secret, now); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}

	if _, err := VerifySessionToken(wrongAud, "anon", "other_secret", now); err == nil {
		t.Fatalf("expected bad signature to fail")
	}

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))},
	})
	s, _ := noSub.SignedString([]byte(secret))
	if _, err := VerifySessionToken(s, "", secret, now); err == nil {
		t.Fatalf("expected missing subject to fail")
	}
}
