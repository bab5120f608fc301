package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// FilterRuleKind distinguishes the four rule shapes the Filter Engine
// compiles from rule-list text.
type FilterRuleKind uint8

const (
	FilterRuleBlock FilterRuleKind = iota
	FilterRuleAllow
	FilterRuleRedirect
	FilterRuleCosmeticHide
)

func (k FilterRuleKind) String() string {
	switch k {
	case FilterRuleBlock:
		return "block"
	case FilterRuleAllow:
		return "allow"
	case FilterRuleRedirect:
		return "redirect"
	case FilterRuleCosmeticHide:
		return "cosmetic-hide"
	default:
		return fmt.Sprintf("FilterRuleKind(%d)", k)
	}
}

// ResourceType enumerates the request types filter options can restrict to.
type ResourceType string

const (
	ResourceScript      ResourceType = "script"
	ResourceImage       ResourceType = "image"
	ResourceStylesheet  ResourceType = "stylesheet"
	ResourceXHR         ResourceType = "xhr"
	ResourceDocument    ResourceType = "document"
	ResourceFont        ResourceType = "font"
	ResourceMedia       ResourceType = "media"
	ResourceWebsocket   ResourceType = "websocket"
	ResourceOther       ResourceType = "other"
)

// RuleOptions captures the "$..." tail of a filter rule: party restriction,
// resource-type restriction, included/excluded initiating domains, and the
// important flag that lets a Block rule override an Allow rule.
type RuleOptions struct {
	ThirdParty      bool
	FirstParty      bool
	ResourceTypes   map[ResourceType]struct{}
	IncludedDomains []string // exact or leading-dot suffix
	ExcludedDomains []string
	Important       bool
}

// Matches reports whether opts allows this rule to apply to a request of the
// given resource type and initiating (first-party) domain. An empty option
// set matches everything.
func (o RuleOptions) Matches(resourceType ResourceType, initiatingDomain string, thirdParty bool) bool {
	if len(o.ResourceTypes) > 0 {
		if _, ok := o.ResourceTypes[resourceType]; !ok {
			return false
		}
	}
	if o.ThirdParty && !thirdParty {
		return false
	}
	if o.FirstParty && thirdParty {
		return false
	}
	if len(o.ExcludedDomains) > 0 && domainListMatches(o.ExcludedDomains, initiatingDomain) {
		return false
	}
	if len(o.IncludedDomains) > 0 && !domainListMatches(o.IncludedDomains, initiatingDomain) {
		return false
	}
	return true
}

func domainListMatches(list []string, name string) bool {
	if name == "" {
		return false
	}
	for _, d := range list {
		if strings.HasPrefix(d, ".") {
			if strings.HasSuffix(name, d) || name == strings.TrimPrefix(d, ".") {
				return true
			}
			continue
		}
		if name == d {
			return true
		}
	}
	return false
}

// PatternKind distinguishes a compiled rule's match strategy.
type PatternKind uint8

const (
	// PatternDomainAnchor is a "||domain^" rule; it compiles to a Domain
	// entry consumed directly by the Domain Index.
	PatternDomainAnchor PatternKind = iota
	// PatternPrefix is a "|prefix" URL-prefix anchor.
	PatternPrefix
	// PatternSuffix is a "suffix|" URL-suffix anchor.
	PatternSuffix
	// PatternRegex is a raw "/regex/" or a wildcard pattern compiled to a
	// regular expression.
	PatternRegex
)

// FilterRule is one compiled rule produced by the Filter Engine.
type FilterRule struct {
	Kind    FilterRuleKind
	Source  string
	Raw     string
	Pattern PatternKind

	// Domain is populated when Pattern == PatternDomainAnchor.
	Domain Domain

	// Regexp is populated when Pattern is Prefix, Suffix, or Regex.
	Regexp *regexp.Regexp

	// RequiredSubstring is a literal substring every match must contain,
	// used to bucket regex rules for a cheap pre-filter before running the
	// full expression (see Filter Engine compilation buckets).
	RequiredSubstring string

	// RedirectTarget is populated when Kind == FilterRuleRedirect.
	RedirectTarget string

	// Selector/DomainScope are populated when Kind == FilterRuleCosmeticHide.
	Selector    string
	DomainScope string

	Options RuleOptions
}

// IsImportant reports whether a Block rule should win over an Allow rule.
func (r FilterRule) IsImportant() bool {
	return r.Kind == FilterRuleBlock && r.Options.Important
}
