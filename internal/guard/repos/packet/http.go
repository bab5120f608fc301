package packet

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
)

// ExtractHTTPHost scans a plaintext HTTP request's header block for the
// Host header. It stops at the first blank line (end of headers) and
// does not attempt to parse the request body, matching the inspector's
// stateless, single-pass design.
func ExtractHTTPHost(payload []byte) (string, error) {
	value, err := ExtractHTTPHeader(payload, "Host")
	if err != nil {
		return "", err
	}
	return value, nil
}

// ExtractHTTPHeader scans a plaintext HTTP request's header block for the
// named header, case-insensitively. It stops at the first blank line (end
// of headers) and does not attempt to parse the request body, matching the
// inspector's stateless, single-pass design.
func ExtractHTTPHeader(payload []byte, name string) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	lineNum := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNum++
		if lineNum == 1 {
			if !looksLikeRequestLine(line) {
				return "", fmt.Errorf("%w: not an http request", errs.ErrParse)
			}
			continue
		}
		if line == "" {
			break
		}
		if gotName, value, ok := splitHeader(line); ok && strings.EqualFold(gotName, name) {
			return strings.TrimSpace(value), nil
		}
	}
	return "", fmt.Errorf("%w: no %s header found", errs.ErrParse, name)
}

func looksLikeRequestLine(line string) bool {
	for _, method := range []string{"GET ", "POST ", "HEAD ", "PUT ", "DELETE ", "OPTIONS ", "CONNECT ", "PATCH "} {
		if strings.HasPrefix(line, method) {
			return true
		}
	}
	return false
}

func splitHeader(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+1:], true
}
