package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{Window: time.Minute, MaxRequests: 10}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]Config{
		"zero window":      {Window: 0, MaxRequests: 10},
		"negative window":  {Window: -time.Second, MaxRequests: 10},
		"zero max":         {Window: time.Minute, MaxRequests: 0},
		"negative burst":   {Window: time.Minute, MaxRequests: 10, BurstLimit: -1},
		"burst above max":  {Window: time.Minute, MaxRequests: 5, Strategy: TokenBucket, BurstLimit: 10},
		"negative refill":  {Window: time.Minute, MaxRequests: 10, RefillRate: -0.5},
		"unknown strategy": {Window: time.Minute, MaxRequests: 10, Strategy: "leaky-bucket"},
	}
	for name, cfg := range cases {
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected error, got nil", name)
			continue
		}
		if !errors.Is(err, ErrConfig) {
			t.Errorf("%s: error not wrapped in ErrConfig: %v", name, err)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Window: 10 * time.Second, MaxRequests: 20}

	if got := cfg.Burst(); got != 20 {
		t.Errorf("Burst default = %d, want MaxRequests (20)", got)
	}
	if got := cfg.Refill(); got != 2.0 {
		t.Errorf("Refill default = %g, want 2 tokens/s", got)
	}
	if got := cfg.strategy(); got != FixedWindow {
		t.Errorf("strategy default = %q, want fixed-window", got)
	}

	cfg.BurstLimit = 5
	cfg.RefillRate = 0.25
	if got := cfg.Burst(); got != 5 {
		t.Errorf("Burst = %d, want 5", got)
	}
	if got := cfg.Refill(); got != 0.25 {
		t.Errorf("Refill = %g, want 0.25", got)
	}
}

func TestCeilSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, time.Second},
		{500 * time.Millisecond, time.Second},
		{time.Second, time.Second},
		{1001 * time.Millisecond, 2 * time.Second},
		{2 * time.Second, 2 * time.Second},
	}
	for _, c := range cases {
		if got := CeilSeconds(c.in); got != c.want {
			t.Errorf("CeilSeconds(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
