package filter

import (
	"testing"

	"github.com/Cody005/shadowguard/internal/guard/domain"
)

func mustCompile(t *testing.T, raw string) *domain.FilterRule {
	t.Helper()
	r, err := Compile(raw, "test")
	if err != nil {
		t.Fatalf("compile %q: %v", raw, err)
	}
	if r == nil {
		t.Fatalf("compile %q: expected a rule", raw)
	}
	return r
}

func TestEngine_BlockWins(t *testing.T) {
	rules := []*domain.FilterRule{
		mustCompile(t, "||doubleclick.net^"),
	}
	e, err := Build(rules)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m := e.Decide(Request{DestDomain: "doubleclick.net", URL: "https://doubleclick.net/"})
	if !m.Blocked {
		t.Fatalf("expected block")
	}
}

func TestEngine_AllowOverridesPlainBlock(t *testing.T) {
	rules := []*domain.FilterRule{
		mustCompile(t, "||ads.example.com^"),
		mustCompile(t, "@@||ads.example.com^"),
	}
	e, err := Build(rules)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m := e.Decide(Request{DestDomain: "ads.example.com"})
	if m.Blocked {
		t.Fatalf("expected allow rule to override plain block")
	}
}

func TestEngine_ImportantBlockBeatsAllow(t *testing.T) {
	rules := []*domain.FilterRule{
		mustCompile(t, "||ads.example.com^$important"),
		mustCompile(t, "@@||ads.example.com^"),
	}
	e, err := Build(rules)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m := e.Decide(Request{DestDomain: "ads.example.com"})
	if !m.Blocked {
		t.Fatalf("expected important block to win over allow")
	}
}

func TestEngine_NoMatchPassesThrough(t *testing.T) {
	rules := []*domain.FilterRule{mustCompile(t, "||ads.example.com^")}
	e, err := Build(rules)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m := e.Decide(Request{DestDomain: "wikipedia.org"})
	if m.Blocked {
		t.Fatalf("expected no match")
	}
}

func TestEngine_RedirectRule(t *testing.T) {
	rules := []*domain.FilterRule{mustCompile(t, "||tracker.example.com/pixel.gif$redirect=1x1.gif")}
	e, err := Build(rules)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	target, ok := e.RedirectFor(Request{DestDomain: "tracker.example.com", URL: "http://tracker.example.com/pixel.gif"})
	if !ok || target != "1x1.gif" {
		t.Fatalf("got target=%q ok=%v", target, ok)
	}
}

func TestEngine_CosmeticSelectors(t *testing.T) {
	rules := []*domain.FilterRule{mustCompile(t, "example.com##.ad-banner")}
	e, err := Build(rules)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sel := e.CosmeticSelectorsFor("example.com")
	if len(sel) != 1 || sel[0] != ".ad-banner" {
		t.Fatalf("got %v", sel)
	}
	if len(e.CosmeticSelectorsFor("other.com")) != 0 {
		t.Fatalf("expected no selectors for unrelated domain")
	}
}

func TestEngine_WildcardPatternMatchesURL(t *testing.T) {
	rules := []*domain.FilterRule{mustCompile(t, "*/ads/*banner*.js")}
	e, err := Build(rules)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m := e.Decide(Request{DestDomain: "cdn.example.com", URL: "https://cdn.example.com/ads/leader-banner-v2.js"})
	if !m.Blocked {
		t.Fatalf("expected wildcard pattern to match")
	}
}
