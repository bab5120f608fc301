package filter

import (
	"strings"
	"testing"

	logpkg "github.com/Cody005/shadowguard/internal/guard/common/log"
)

func TestParseHostsFile(t *testing.T) {
	input := `127.0.0.1 localhost
0.0.0.0 ads.example.com tracker.example.com # inline comment
# whole line comment
0.0.0.0 *.wildcard.invalid
0.0.0.0 ads.example.com
`
	rules, err := ParseHostsFile(strings.NewReader(input), "hosts-test", logpkg.NewNoopLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	names := make(map[string]bool)
	for _, r := range rules {
		names[r.Domain.Name] = true
	}
	if !names["ads.example.com"] || !names["tracker.example.com"] {
		t.Fatalf("expected ads.example.com and tracker.example.com, got %v", names)
	}
	if !names["localhost"] {
		t.Fatalf("expected localhost to be a valid single-label rule, got %v", names)
	}
	if names["*.wildcard.invalid"] {
		t.Fatalf("wildcard tokens must be rejected in hosts-file syntax")
	}
	if len(rules) != 3 {
		t.Fatalf("expected de-duplication to leave 3 rules, got %d", len(rules))
	}
}
