package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Security.RateLimitMax != 200 {
		t.Errorf("RateLimitMax = %d, want 200", cfg.Security.RateLimitMax)
	}
	if cfg.Security.LockoutThreshold != 5 {
		t.Errorf("LockoutThreshold = %d, want 5", cfg.Security.LockoutThreshold)
	}
	if cfg.Security.ActivityCapacity != 50 {
		t.Errorf("ActivityCapacity = %d, want 50", cfg.Security.ActivityCapacity)
	}
	if cfg.Idle.Timeout != 30*time.Minute {
		t.Errorf("Idle.Timeout = %v, want 30m", cfg.Idle.Timeout)
	}
	if cfg.Session.RememberLong != 30*24*time.Hour {
		t.Errorf("RememberLong = %v, want 720h", cfg.Session.RememberLong)
	}
	if cfg.Init.MaxAttempts != 100 || cfg.Init.RetryDelay != 50*time.Millisecond {
		t.Errorf("Init = %+v, want 100 attempts at 50ms", cfg.Init)
	}
}

func TestGetDurationEnv(t *testing.T) {
	t.Setenv("TEST_DURATION_GO", "90s")
	t.Setenv("TEST_DURATION_MINUTES", "15")
	t.Setenv("TEST_DURATION_BAD", "soon")

	if got := getDurationEnv("TEST_DURATION_GO", time.Hour); got != 90*time.Second {
		t.Errorf("go syntax: got %v", got)
	}
	if got := getDurationEnv("TEST_DURATION_MINUTES", time.Hour); got != 15*time.Minute {
		t.Errorf("bare minutes: got %v", got)
	}
	if got := getDurationEnv("TEST_DURATION_BAD", time.Hour); got != time.Hour {
		t.Errorf("invalid value should fall back, got %v", got)
	}
}

func TestGetListEnv(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")

	got := getListEnv("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("getListEnv = %v", got)
	}
}
