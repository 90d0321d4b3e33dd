package opa

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func budgetInput(used, limit int64) map[string]any {
	return map[string]any{
		"app_id": "com.app.x",
		"rules": []any{
			map[string]any{
				"id": "budget", "kind": "usage_budget", "period": "daily", "applies": true,
				"used_seconds": used, "limit_seconds": limit,
			},
			map[string]any{
				"id": "night", "kind": "schedule", "period": "daily", "applies": true,
				"in_window": false,
			},
		},
	}
}

func TestEmbeddedPolicy(t *testing.T) {
	engine, err := NewEngine(Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	d, err := engine.Evaluate(ctx, budgetInput(600, 3600))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Blocked || d.RemainingSeconds != 3000 {
		t.Errorf("decision = %+v, want allowed with 3000s remaining", d)
	}

	d, err = engine.Evaluate(ctx, budgetInput(4000, 3600))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Blocked || d.RuleID != "budget" || d.RemainingSeconds != 0 {
		t.Errorf("decision = %+v, want blocked by budget", d)
	}

	d, err = engine.Evaluate(ctx, map[string]any{"rules": []any{}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Blocked || d.RemainingSeconds != -1 {
		t.Errorf("decision = %+v, want default", d)
	}
}

const denyAll = `package screentime.blocking

decision := {"blocked": true, "reason": "closed", "rule_id": "all", "remaining_seconds": 0}
`

func TestPolicyDirAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocking.rego")
	if err := os.WriteFile(path, []byte(denyAll), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	engine, err := NewEngine(Config{PolicyDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx := context.Background()
	d, err := engine.Evaluate(ctx, budgetInput(0, 3600))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Blocked || d.Reason != "closed" {
		t.Errorf("decision = %+v, want custom policy", d)
	}

	// A broken policy is rejected and the loaded one stays in effect
	if err := os.WriteFile(path, []byte("package screentime.blocking\n\ndecision := {"), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if err := engine.Reload(); err == nil {
		t.Fatal("expected reload error for broken policy")
	}
	if d, err := engine.Evaluate(ctx, budgetInput(0, 3600)); err != nil || !d.Blocked {
		t.Errorf("previous policy lost: %+v, %v", d, err)
	}
}

func TestNewEngineWithoutPolicies(t *testing.T) {
	if _, err := NewEngine(Config{PolicyDir: t.TempDir()}, zerolog.Nop()); err == nil {
		t.Error("expected error when policy dir has no .rego files")
	}
}

// TestReloadThreadSafety tests that reload is thread-safe with concurrent evaluations
func TestReloadThreadSafety(t *testing.T) {
	engine, err := NewEngine(Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	var wg sync.WaitGroup
	ctx := context.Background()
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_, _ = engine.Evaluate(ctx, budgetInput(100, 3600))
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		if err := engine.Reload(); err != nil {
			t.Errorf("Reload failed: %v", err)
		}
	}

	close(done)
	wg.Wait()
}
