package main

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{12*time.Minute + 30*time.Second, "12m 30s"},
		{time.Hour + 5*time.Minute + 20*time.Second, "1h 05m"},
		{26 * time.Hour, "26h 00m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBar(t *testing.T) {
	if got := bar(10, 20, 10); got != "█████" {
		t.Errorf("half bar = %q", got)
	}
	if got := bar(1, 1000, 10); got != "█" {
		t.Errorf("tiny value should still show one cell, got %q", got)
	}
	if got := bar(5, 0, 10); got != "" {
		t.Errorf("zero max = %q", got)
	}
}

func TestFlatten(t *testing.T) {
	out := make(map[string]any)
	flatten("", map[string]any{
		"server": map[string]any{"api_port": 8080},
		"storage": map[string]any{
			"type":  "redis",
			"redis": map[string]any{"host": "localhost"},
		},
	}, out)

	want := map[string]any{
		"server.api_port":    8080,
		"storage.type":       "redis",
		"storage.redis.host": "localhost",
	}
	if len(out) != len(want) {
		t.Fatalf("flatten = %v", out)
	}
	for k, v := range want {
		if out[k] != v {
			t.Errorf("%s = %v, want %v", k, out[k], v)
		}
	}
}

func TestRedactPassword(t *testing.T) {
	if redactPassword("") != "" {
		t.Error("empty password should stay empty")
	}
	if redactPassword("hunter2") != "***REDACTED***" {
		t.Error("password not redacted")
	}
}
