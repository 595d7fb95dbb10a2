package config

import (
	"testing"
	"time"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "9090")
	t.Setenv("BOOKING_PROMOTE_AFTER", "30m")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example.com , ,https://b.example.com")

	cfg := Load()

	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.HTTPAddr)
	}
	if cfg.Booking.PromoteAfter != 30*time.Minute {
		t.Fatalf("expected 30m promote-after, got %s", cfg.Booking.PromoteAfter)
	}
	if cfg.Booking.PickupGrace != 5*time.Minute {
		t.Fatalf("expected default pickup grace, got %s", cfg.Booking.PickupGrace)
	}
	if cfg.Auth.Audience != "authenticated" {
		t.Fatalf("expected default audience, got %q", cfg.Auth.Audience)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %#v", cfg.AllowedOrigins)
	}
}
