package filter

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/domain"
)

// ParseHostsFile parses /etc/hosts-style block lists: one IP followed by
// one or more hostnames, each hostname emitted as an exact domain-anchor
// Block rule. The IP field itself is ignored — these lists exist purely
// as a hostname-to-0.0.0.0 denylist convention, not for address rewriting.
func ParseHostsFile(r io.Reader, source string, logger logpkg.Logger) ([]*domain.FilterRule, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]*domain.FilterRule, 0, 256)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}
		line = stripInlineComment(line)

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		for _, raw := range fields[1:] {
			if raw == "" || strings.Contains(raw, "*") {
				continue
			}
			d, err := domain.NormalizeDomain(raw)
			if err != nil {
				logger.Debug(map[string]any{"line": lineNum, "raw": raw, "error": err.Error()}, "hosts_skip_invalid")
				continue
			}
			if _, ok := seen[d.Name]; ok {
				continue
			}
			seen[d.Name] = struct{}{}
			out = append(out, &domain.FilterRule{
				Kind:    domain.FilterRuleBlock,
				Source:  source,
				Raw:     raw,
				Pattern: domain.PatternDomainAnchor,
				Domain:  d,
			})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "hosts_parse_done")
	return out, nil
}
