package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8082")
	p, err := Port("TEST_PORT", "8080")
	if err != nil {
		t.Fatalf("Port failed: %v", err)
	}
	if p != "8082" {
		t.Fatalf("expected 8082, got %s", p)
	}

	t.Setenv("TEST_PORT", "not-a-port")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for invalid port")
	}

	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "")
	if _, err := RequiredString("TEST_REQUIRED"); err == nil {
		t.Fatal("expected error for missing value")
	}
	t.Setenv("TEST_REQUIRED", "value")
	v, err := RequiredString("TEST_REQUIRED")
	if err != nil {
		t.Fatalf("RequiredString failed: %v", err)
	}
	if v != "value" {
		t.Fatalf("unexpected value %q", v)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "45s")
	if d := Duration("TEST_DURATION", time.Minute); d != 45*time.Second {
		t.Fatalf("expected 45s, got %s", d)
	}
	t.Setenv("TEST_DURATION", "garbage")
	if d := Duration("TEST_DURATION", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback, got %s", d)
	}
	t.Setenv("TEST_DURATION", "-5s")
	if d := Duration("TEST_DURATION", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback for negative duration, got %s", d)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("TEST_INT", "25")
	if n := Int("TEST_INT", 10); n != 25 {
		t.Fatalf("expected 25, got %d", n)
	}
	t.Setenv("TEST_INT", "")
	if n := Int("TEST_INT", 10); n != 10 {
		t.Fatalf("expected fallback, got %d", n)
	}
}
