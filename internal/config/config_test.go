package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("APPOINTMENT_DURATION_MIN", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.AppointmentDurationMin != 45 {
		t.Fatalf("expected default appointment duration, got %d", cfg.AppointmentDurationMin)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Fatalf("expected default idle timeout, got %s", cfg.SessionIdleTimeout)
	}
	if cfg.ClinicTimezone != "America/Guayaquil" {
		t.Fatalf("expected default clinic timezone, got %s", cfg.ClinicTimezone)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APPOINTMENT_DURATION_MIN", "30")
	t.Setenv("APPOINTMENT_GAP_MIN", "10")
	t.Setenv("SESSION_IDLE_TIMEOUT", "15m")
	t.Setenv("INTENT_MISS_LIMIT", "5")
	t.Setenv("REDIS_TLS", "true")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected overridden port, got %s", cfg.Port)
	}
	if cfg.AppointmentDurationMin != 30 || cfg.AppointmentGapMin != 10 {
		t.Fatalf("expected overridden slot policy, got %d/%d", cfg.AppointmentDurationMin, cfg.AppointmentGapMin)
	}
	if cfg.SessionIdleTimeout != 15*time.Minute {
		t.Fatalf("expected overridden idle timeout, got %s", cfg.SessionIdleTimeout)
	}
	if cfg.IntentMissLimit != 5 {
		t.Fatalf("expected overridden miss limit, got %d", cfg.IntentMissLimit)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
}

func TestInvalidNumericFallsBack(t *testing.T) {
	t.Setenv("SLOT_LOOKAHEAD_DAYS", "not-a-number")
	cfg := Load()
	if cfg.SlotLookaheadDays != 14 {
		t.Fatalf("expected fallback lookahead, got %d", cfg.SlotLookaheadDays)
	}
}
