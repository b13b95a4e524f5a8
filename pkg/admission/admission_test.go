// Copyright 2025 Wisdom Hub Project
//
// Admission Controller Tests

package admission

import (
	"errors"
	"testing"
)

// stubUsage drives the controller from a settable value.
type stubUsage struct {
	pct float64
	err error
}

func (s *stubUsage) fn(string) (float64, error) { return s.pct, s.err }

func newTestController(usage *stubUsage) *Controller {
	cfg := DefaultConfig()
	cfg.WarningThreshold = 75
	cfg.CriticalThreshold = 90
	cfg.Usage = usage.fn
	return New(cfg)
}

func TestLevelTransitions(t *testing.T) {
	usage := &stubUsage{}
	c := newTestController(usage)

	cases := []struct {
		pct  float64
		want Level
	}{
		{10, LevelNormal},
		{74.9, LevelNormal},
		{75, LevelWarning},
		{89.9, LevelWarning},
		{90, LevelCritical},
		{99, LevelCritical},
		{50, LevelNormal}, // transitions are unconditional, no hysteresis
	}
	for _, tc := range cases {
		usage.pct = tc.pct
		c.SampleOnce()
		if got := c.Level(); got != tc.want {
			t.Errorf("at %.1f%% used: level %s, want %s", tc.pct, got, tc.want)
		}
	}
}

func TestSampleFailureRetainsLevel(t *testing.T) {
	usage := &stubUsage{pct: 92}
	c := newTestController(usage)
	c.SampleOnce()
	if c.Level() != LevelCritical {
		t.Fatalf("setup: level %s, want critical", c.Level())
	}
	usage.err = errors.New("statfs failed")
	usage.pct = 10
	c.SampleOnce()
	if c.Level() != LevelCritical {
		t.Errorf("failed sample changed level to %s", c.Level())
	}
}

func TestDecide_Normal(t *testing.T) {
	usage := &stubUsage{pct: 10}
	c := newTestController(usage)
	c.SampleOnce()

	for _, v := range []Verdict{
		c.Decide(true, false),
		c.Decide(false, false),
		c.Decide(false, true),
	} {
		if !v.Allowed || v.Hint != "" {
			t.Errorf("normal level verdict %+v, want unrestricted", v)
		}
	}
}

func TestDecide_WarningAttachesHint(t *testing.T) {
	usage := &stubUsage{pct: 80}
	c := newTestController(usage)
	c.SampleOnce()

	v := c.Decide(false, true)
	if !v.Allowed {
		t.Fatalf("warning level rejected a write: %+v", v)
	}
	if v.Hint != CapacityHint {
		t.Errorf("warning verdict hint %q, want advisory", v.Hint)
	}
}

func TestDecide_Critical(t *testing.T) {
	usage := &stubUsage{pct: 95}
	c := newTestController(usage)
	c.SampleOnce()

	if v := c.Decide(true, false); v.Allowed {
		t.Errorf("critical level admitted a new agent")
	}
	if v := c.Decide(false, false); v.Allowed {
		t.Errorf("critical level admitted an unknown author")
	}
	if v := c.Decide(false, true); !v.Allowed {
		t.Errorf("critical level rejected a known author: %s", v.Reason)
	}
}
