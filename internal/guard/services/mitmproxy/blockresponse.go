package mitmproxy

import "fmt"

// blockedBodyTemplate is the HTML body of the canonical 403 page. %s is
// the domain that triggered the block, surfaced so a user understands
// why the page failed to load rather than guessing at a blank tab.
const blockedBodyTemplate = `<html><head><title>Blocked</title></head><body><h1>Blocked by ShadowGuard</h1><p>%s was blocked by a filter rule.</p></body></html>`

// BlockResponse renders the byte-exact 403 page returned whenever the
// Filter Engine blocks a request. The same bytes are used whether the
// trigger was an HTTP request or a CONNECT — a blocked CONNECT never
// receives "200 Connection Established"; it gets this plain-text 403
// instead, closed immediately after.
func BlockResponse(destDomain string) []byte {
	body := fmt.Sprintf(blockedBodyTemplate, destDomain)
	head := fmt.Sprintf(
		"HTTP/1.1 403 Forbidden\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\nX-Blocked: true\r\n\r\n",
		len(body),
	)
	return append([]byte(head), body...)
}
