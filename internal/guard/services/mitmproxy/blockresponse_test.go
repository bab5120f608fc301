package mitmproxy

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockResponse_MatchesByteExactContract(t *testing.T) {
	resp := BlockResponse("tracker.example.com")
	s := string(resp)

	headEnd := strings.Index(s, "\r\n\r\n")
	assert.NotEqual(t, -1, headEnd, "response must separate headers from body with a blank line")

	head := s[:headEnd]
	body := resp[headEnd+4:]

	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 403 Forbidden\r\n"))
	assert.Contains(t, head, "Content-Type: text/html; charset=utf-8\r\n")
	assert.Contains(t, head, "Connection: close\r\n")
	assert.Contains(t, head, "X-Blocked: true\r\n")
	assert.Contains(t, head, fmt.Sprintf("Content-Length: %d\r\n", len(body)))
	assert.True(t, bytes.Contains(body, []byte("tracker.example.com")))
}

func TestBadRequestResponse_Is400(t *testing.T) {
	resp := badRequestResponse("request line must have exactly 3 tokens")
	assert.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 400 Bad Request\r\n"))
}
