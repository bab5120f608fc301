// Package filter compiles adblock-style filter-list text into
// domain.FilterRule values and evaluates them against requests for the
// Filter Engine.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
	"github.com/Cody005/shadowguard/internal/guard/domain"
)

// Compile parses one line of filter-list text into a FilterRule. It
// returns (nil, nil) for blank lines and comments, which callers should
// treat as "skip, nothing to append". Any other error is an
// errs.ErrRuleCompile, which callers skip-and-continue on rather than
// aborting the whole list.
func Compile(raw, source string) (*domain.FilterRule, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "#") && !strings.Contains(line, "##") {
		return nil, nil
	}

	if idx := strings.Index(line, "##"); idx >= 0 {
		return compileCosmetic(line, idx, raw, source)
	}

	kind := domain.FilterRuleBlock
	body := line
	if strings.HasPrefix(body, "@@") {
		kind = domain.FilterRuleAllow
		body = body[2:]
	}

	pattern, optionText := splitOptions(body)
	opts, redirectTarget, err := parseOptions(optionText)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", errs.ErrRuleCompile, raw, err)
	}
	if redirectTarget != "" && kind == domain.FilterRuleBlock {
		kind = domain.FilterRuleRedirect
	}

	rule := &domain.FilterRule{
		Kind:           kind,
		Source:         source,
		Raw:            raw,
		RedirectTarget: redirectTarget,
		Options:        opts,
	}

	switch {
	case strings.HasPrefix(pattern, "||") && strings.HasSuffix(pattern, "^"):
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "||"), "^")
		d, err := domain.NormalizeDomain(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errs.ErrRuleCompile, raw, err)
		}
		rule.Pattern = domain.PatternDomainAnchor
		rule.Domain = d

	case strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") && len(pattern) >= 2:
		expr := pattern[1 : len(pattern)-1]
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errs.ErrRuleCompile, raw, err)
		}
		rule.Pattern = domain.PatternRegex
		rule.Regexp = re

	case strings.HasPrefix(pattern, "||"):
		expr := `^https?://([a-z0-9-]+\.)*` + wildcardToRegex(pattern[2:])
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errs.ErrRuleCompile, raw, err)
		}
		rule.Pattern = domain.PatternRegex
		rule.Regexp = re
		rule.RequiredSubstring = requiredSubstring(pattern[2:])

	case strings.HasPrefix(pattern, "|"):
		expr := "^" + wildcardToRegex(pattern[1:])
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errs.ErrRuleCompile, raw, err)
		}
		rule.Pattern = domain.PatternPrefix
		rule.Regexp = re
		rule.RequiredSubstring = requiredSubstring(pattern[1:])

	case strings.HasSuffix(pattern, "|"):
		expr := wildcardToRegex(pattern[:len(pattern)-1]) + "$"
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errs.ErrRuleCompile, raw, err)
		}
		rule.Pattern = domain.PatternSuffix
		rule.Regexp = re
		rule.RequiredSubstring = requiredSubstring(pattern[:len(pattern)-1])

	default:
		expr := wildcardToRegex(pattern)
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errs.ErrRuleCompile, raw, err)
		}
		rule.Pattern = domain.PatternRegex
		rule.Regexp = re
		rule.RequiredSubstring = requiredSubstring(pattern)
	}

	return rule, nil
}

func compileCosmetic(line string, sepIdx int, raw, source string) (*domain.FilterRule, error) {
	scope := line[:sepIdx]
	selector := line[sepIdx+2:]
	if selector == "" {
		return nil, fmt.Errorf("%w: %q: empty cosmetic selector", errs.ErrRuleCompile, raw)
	}
	return &domain.FilterRule{
		Kind:        domain.FilterRuleCosmeticHide,
		Source:      source,
		Raw:         raw,
		Selector:    selector,
		DomainScope: scope,
	}, nil
}

// parseOptions parses a "$opt1,opt2=val,..." tail into RuleOptions plus an
// optional redirect target pulled out separately since it changes the
// rule's Kind rather than narrowing its match.
func parseOptions(text string) (domain.RuleOptions, string, error) {
	var opts domain.RuleOptions
	var redirectTarget string
	if text == "" {
		return opts, redirectTarget, nil
	}

	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch {
		case tok == "third-party" || tok == "3p":
			opts.ThirdParty = true
		case tok == "first-party" || tok == "1p":
			opts.FirstParty = true
		case tok == "important":
			opts.Important = true
		case strings.HasPrefix(tok, "redirect="):
			redirectTarget = strings.TrimPrefix(tok, "redirect=")
		case strings.HasPrefix(tok, "domain="):
			included, excluded := splitDomainList(strings.TrimPrefix(tok, "domain="))
			opts.IncludedDomains = included
			opts.ExcludedDomains = excluded
		case isResourceType(tok):
			if opts.ResourceTypes == nil {
				opts.ResourceTypes = make(map[domain.ResourceType]struct{})
			}
			opts.ResourceTypes[domain.ResourceType(tok)] = struct{}{}
		default:
			return opts, "", fmt.Errorf("unknown option %q", tok)
		}
	}
	return opts, redirectTarget, nil
}

func splitDomainList(s string) (included, excluded []string) {
	for _, d := range strings.Split(s, "|") {
		if d == "" {
			continue
		}
		if strings.HasPrefix(d, "~") {
			excluded = append(excluded, strings.TrimPrefix(d, "~"))
			continue
		}
		included = append(included, d)
	}
	return included, excluded
}

func isResourceType(tok string) bool {
	switch domain.ResourceType(tok) {
	case domain.ResourceScript, domain.ResourceImage, domain.ResourceStylesheet,
		domain.ResourceXHR, domain.ResourceDocument, domain.ResourceFont,
		domain.ResourceMedia, domain.ResourceWebsocket, domain.ResourceOther:
		return true
	default:
		return false
	}
}
