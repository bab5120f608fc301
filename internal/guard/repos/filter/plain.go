package filter

import (
	"bufio"
	"io"

	logpkg "github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/domain"
)

// ParsePlainList parses a newline-delimited rule list (adblock syntax,
// blank lines, and '!'/'#' comments) using Compile for each line. Lines
// that fail to compile are logged and skipped rather than aborting the
// whole list, since one malformed entry in a thousand-line upstream list
// should not sink the rest of it.
func ParsePlainList(r io.Reader, source string, logger logpkg.Logger) ([]*domain.FilterRule, error) {
	scanner := bufio.NewScanner(r)
	out := make([]*domain.FilterRule, 0, 256)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		rule, err := Compile(line, source)
		if err != nil {
			logger.Debug(map[string]any{"line": lineNum, "source": source, "error": err.Error()}, "plain_skip_compile_error")
			continue
		}
		if rule == nil {
			continue
		}
		out = append(out, rule)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "plain_parse_done")
	return out, nil
}
