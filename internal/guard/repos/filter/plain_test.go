package filter

import (
	"strings"
	"testing"

	logpkg "github.com/Cody005/shadowguard/internal/guard/common/log"
)

func TestParsePlainList(t *testing.T) {
	input := `! title: test list
||doubleclick.net^
@@||good.doubleclick.net^
# a comment line

||malformed$bogus-option
||tracking.example.com^
`
	rules, err := ParsePlainList(strings.NewReader(input), "plain-test", logpkg.NewNoopLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("expected 3 compiled rules (bad option line skipped), got %d", len(rules))
	}
}
