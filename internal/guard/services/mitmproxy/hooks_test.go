package mitmproxy

import (
	"errors"
	"testing"
)

func TestNewHooks_AllFieldsCallable(t *testing.T) {
	h := NewHooks()
	h.OnBlocked("url", "rule")
	h.OnAllowed("url")
	h.OnError("url", errors.New("boom"))
	h.OnTLSHandshake("example.com", true)
}

func TestWithDefaults_FillsOnlyMissingFields(t *testing.T) {
	var called string
	h := Hooks{OnBlocked: func(url, rule string) { called = url }}.withDefaults()

	h.OnBlocked("tracker.example.com", "rule-1")
	if called != "tracker.example.com" {
		t.Fatalf("expected custom OnBlocked to run, got %q", called)
	}

	// the rest must be safely callable no-ops, not nil
	h.OnAllowed("url")
	h.OnError("url", errors.New("boom"))
	h.OnTLSHandshake("example.com", false)
}
