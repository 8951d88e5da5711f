package capacity

import (
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	p := Fixed(2)
	if !p.Allow(Snapshot{Running: 1}) || p.Allow(Snapshot{Running: 2}) {
		t.Fatalf("fixed(2) misbehaves")
	}
	if Fixed(0).Allow(Snapshot{}) {
		t.Fatalf("fixed(0) should deny")
	}
}

func TestCELDefaultExpression(t *testing.T) {
	p, err := NewCEL("", 3)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !p.Allow(Snapshot{Running: 2}) || p.Allow(Snapshot{Running: 3}) {
		t.Fatalf("default expression should behave like fixed limit")
	}
}

func TestCELTimeWindow(t *testing.T) {
	p, err := NewCEL("running < limit && (hour < 8 || hour >= 20)", 4)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	night := time.Date(2024, 1, 2, 23, 0, 0, 0, time.Local)
	day := time.Date(2024, 1, 2, 12, 0, 0, 0, time.Local)
	if !p.Allow(Snapshot{Running: 1, Now: night}) {
		t.Fatalf("expected allow at night")
	}
	if p.Allow(Snapshot{Running: 1, Now: day}) {
		t.Fatalf("expected deny during the day")
	}
}

func TestCELRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"running <", "running + 1", "unknown_var > 1"} {
		if _, err := NewCEL(expr, 1); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}

func TestFromConfig(t *testing.T) {
	p, _ := FromConfig("", -1)
	if _, ok := p.(Unlimited); !ok {
		t.Fatalf("want Unlimited, got %T", p)
	}
	p, _ = FromConfig("", 2)
	if _, ok := p.(Fixed); !ok {
		t.Fatalf("want Fixed, got %T", p)
	}
	p, err := FromConfig("running < 1", 0)
	if err != nil {
		t.Fatalf("cel: %v", err)
	}
	if _, ok := p.(*CEL); !ok {
		t.Fatalf("want *CEL, got %T", p)
	}
}

func TestFromConfigUncappedExpressionSeesLargeLimit(t *testing.T) {
	p, err := FromConfig("running < limit && hour >= 0", -1)
	if err != nil {
		t.Fatalf("cel: %v", err)
	}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)
	if !p.Allow(Snapshot{Running: 0, Now: now}) || !p.Allow(Snapshot{Running: 1000, Now: now}) {
		t.Fatalf("uncapped expression denied admission")
	}
	if p.(*CEL).limit != UnlimitedLimit {
		t.Fatalf("limit %d", p.(*CEL).limit)
	}
}
