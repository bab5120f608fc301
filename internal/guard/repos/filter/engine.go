package filter

import (
	"strings"

	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/repos/index"
	"github.com/Cody005/shadowguard/internal/guard/repos/index/bloom"
)

// Engine evaluates a compiled rule set against requests. Domain-anchor
// rules ("||domain^") are pushed into a Domain Index snapshot for O(L)
// suffix matching; every other pattern kind (prefix/suffix/regex/wildcard)
// is evaluated as a short ordered scan, since rule-list authors rarely
// write more than a few hundred of those compared to tens of thousands of
// plain domain blocks.
type Engine struct {
	blockIndex *index.Snapshot
	allowIndex *index.Snapshot

	blockPatterns []*domain.FilterRule
	allowPatterns []*domain.FilterRule
	redirects     []*domain.FilterRule
	cosmetics     []*domain.FilterRule
}

// Build compiles rules (already parsed via Compile) into an Engine.
func Build(rules []*domain.FilterRule) (*Engine, error) {
	var blockIdxRules, allowIdxRules []index.Rule
	e := &Engine{}

	for _, r := range rules {
		switch r.Kind {
		case domain.FilterRuleCosmeticHide:
			e.cosmetics = append(e.cosmetics, r)
			continue
		case domain.FilterRuleRedirect:
			e.redirects = append(e.redirects, r)
			continue
		}

		if r.Pattern == domain.PatternDomainAnchor {
			idxRule := index.Rule{Domain: r.Domain, RuleTag: r.Raw}
			if r.Kind == domain.FilterRuleAllow {
				allowIdxRules = append(allowIdxRules, idxRule)
				e.allowPatterns = append(e.allowPatterns, r)
			} else {
				blockIdxRules = append(blockIdxRules, idxRule)
				e.blockPatterns = append(e.blockPatterns, r)
			}
			continue
		}

		if r.Kind == domain.FilterRuleAllow {
			e.allowPatterns = append(e.allowPatterns, r)
		} else {
			e.blockPatterns = append(e.blockPatterns, r)
		}
	}

	blockSnap, err := index.Build(bloom.NewFactory(), blockIdxRules)
	if err != nil {
		return nil, err
	}
	allowSnap, err := index.Build(bloom.NewFactory(), allowIdxRules)
	if err != nil {
		return nil, err
	}
	e.blockIndex = blockSnap
	e.allowIndex = allowSnap
	return e, nil
}

// Request captures the facets a Decide call needs to evaluate domain-anchor,
// pattern, and option-scoped rules against one outbound request.
type Request struct {
	// DestDomain is the request's destination host, normalized, used for
	// domain-anchor rule lookups.
	DestDomain string
	// URL is the full request URL (or SNI+path for HTTPS), used for
	// prefix/suffix/regex pattern matching.
	URL string
	// InitiatingDomain is the top-level page that triggered this request,
	// used to evaluate $domain= and third-party/first-party options.
	InitiatingDomain string
	ResourceType     domain.ResourceType
	ThirdParty       bool
}

// Decide applies block-vs-allow-vs-important precedence: a matching
// important Block rule always wins; otherwise a matching Allow rule wins;
// otherwise a matching plain Block rule wins; no match is a pass-through.
func (e *Engine) Decide(req Request) domain.Match {
	block, blockImportant := e.matchBlock(req)
	if blockImportant {
		return domain.Match{Blocked: true, RuleTag: block}
	}
	if allow, ok := e.matchAllow(req); ok {
		return domain.Match{Blocked: false, RuleTag: allow}
	}
	if block != "" {
		return domain.Match{Blocked: true, RuleTag: block}
	}
	return domain.NoMatch()
}

// Lookup evaluates a bare domain name with no URL/initiator context,
// satisfying packet.DomainLookup for the Packet Inspector's SNI/Host/DNS
// classification path. It is equivalent to Decide with only DestDomain
// and URL set to rawDomain, so rules restricted to resource types, to
// included $domain= entries, or to $third-party never match here — those
// require the richer Request the MITM proxy builds from a parsed HTTP/TLS
// exchange.
func (e *Engine) Lookup(rawDomain string) domain.Match {
	return e.Decide(Request{DestDomain: rawDomain, URL: rawDomain})
}

// RedirectFor returns the redirect target for req's destination, if any
// $redirect= rule applies.
func (e *Engine) RedirectFor(req Request) (string, bool) {
	for _, r := range e.redirects {
		if r.Pattern == domain.PatternDomainAnchor {
			if r.Domain.Name == req.DestDomain && r.Options.Matches(req.ResourceType, req.InitiatingDomain, req.ThirdParty) {
				return r.RedirectTarget, true
			}
			continue
		}
		if matchesPattern(r, req) {
			return r.RedirectTarget, true
		}
	}
	return "", false
}

// CosmeticSelectorsFor returns every cosmetic-hide selector scoped to
// destDomain (or applying globally via an empty DomainScope).
func (e *Engine) CosmeticSelectorsFor(destDomain string) []string {
	var out []string
	for _, r := range e.cosmetics {
		if r.DomainScope == "" || domainScopeMatches(r.DomainScope, destDomain) {
			out = append(out, r.Selector)
		}
	}
	return out
}

func domainScopeMatches(scope, name string) bool {
	for _, d := range strings.Split(scope, ",") {
		if strings.TrimSpace(d) == name {
			return true
		}
	}
	return false
}

func (e *Engine) matchBlock(req Request) (tag string, important bool) {
	if e.blockIndex != nil {
		if m := e.blockIndex.Lookup(req.DestDomain); m.Blocked {
			if r := e.findPattern(e.blockPatterns, m.RuleTag); r != nil && r.Options.Matches(req.ResourceType, req.InitiatingDomain, req.ThirdParty) {
				return m.RuleTag, r.IsImportant()
			}
		}
	}
	for _, r := range e.blockPatterns {
		if r.Pattern == domain.PatternDomainAnchor {
			continue
		}
		if matchesPattern(r, req) {
			return r.Raw, r.IsImportant()
		}
	}
	return "", false
}

func (e *Engine) matchAllow(req Request) (string, bool) {
	if e.allowIndex != nil {
		if m := e.allowIndex.Lookup(req.DestDomain); m.Blocked {
			if r := e.findPattern(e.allowPatterns, m.RuleTag); r != nil && r.Options.Matches(req.ResourceType, req.InitiatingDomain, req.ThirdParty) {
				return m.RuleTag, true
			}
		}
	}
	for _, r := range e.allowPatterns {
		if r.Pattern == domain.PatternDomainAnchor {
			continue
		}
		if matchesPattern(r, req) {
			return r.Raw, true
		}
	}
	return "", false
}

func (e *Engine) findPattern(set []*domain.FilterRule, tag string) *domain.FilterRule {
	for _, r := range set {
		if r.Raw == tag {
			return r
		}
	}
	return nil
}

func matchesPattern(r *domain.FilterRule, req Request) bool {
	if !r.Options.Matches(req.ResourceType, req.InitiatingDomain, req.ThirdParty) {
		return false
	}
	if r.RequiredSubstring != "" && !strings.Contains(req.URL, r.RequiredSubstring) {
		return false
	}
	if r.Regexp == nil {
		return false
	}
	return r.Regexp.MatchString(req.URL)
}
