package mitmproxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
	"github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/common/utils"
	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/gateways/packetsource"
	"github.com/Cody005/shadowguard/internal/guard/gateways/statsink"
	"github.com/Cody005/shadowguard/internal/guard/repos/ca"
	"github.com/Cody005/shadowguard/internal/guard/repos/filter"
	"github.com/Cody005/shadowguard/internal/guard/repos/packet"
)

const (
	maxRequestHeadBytes = 16 * 1024
	originDialTimeout   = 5 * time.Second
	tlsHandshakeTimeout = 30 * time.Second
	streamIdleTimeout   = 120 * time.Second
	streamBufferSize    = 64 * 1024

	connEstablished200 = "HTTP/1.1 200 Connection Established\r\n\r\n"

	// tlsRecordHandshake is the TLS record content type byte (0x16) used to
	// distinguish a transparently-redirected raw TLS flow (no CONNECT, no
	// HTTP request line — the client believes it is talking straight to
	// origin) from an ordinary proxy-protocol connection.
	tlsRecordHandshake = 0x16
)

// Deps bundles the shared, read-only collaborators every Connection needs.
// The filter Engine pointer is captured once per connection at accept time
// (see Proxy.handleConn) so reload atomicity holds: a connection observes
// a single rule snapshot for its entire lifetime.
type Deps struct {
	Authority ca.Authority
	Engine    *filter.Engine
	Bypass    []domain.Domain
	Stats     *statsink.StatSink
	Logger    log.Logger
	Hooks     Hooks

	// OriginVerifySystemTrust gates the origin-facing TLS leg's hostname
	// check; chain validation against the system trust store always
	// happens regardless (see originTLSConfig).
	OriginVerifySystemTrust bool

	// OriginalDest recovers a transparently-redirected connection's real
	// destination. May be nil, in which case every connection is parsed
	// as an explicit HTTP/1.1 or CONNECT request.
	OriginalDest packetsource.OriginalDestination
}

// bufferedConn lets every later read (including a TLS handshake) draw from
// the same bufio.Reader used to parse the request head, so bytes the
// reader over-buffered past the blank line are never lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// Connection is one accepted flow's state machine, from accept to close.
// It owns both of its sockets exclusively; per the cyclic-object-graph
// redesign note it holds only the opaque id the proxy assigned at accept
// time, never a pointer to the Proxy itself.
type Connection struct {
	id     domain.ConnectionID
	raw    net.Conn
	r      *bufio.Reader
	client net.Conn
	origin net.Conn
	phase  domain.ConnectionPhase
	deps   Deps
}

func newConnection(id domain.ConnectionID, raw net.Conn, deps Deps) *Connection {
	r := bufio.NewReader(raw)
	deps.Hooks = deps.Hooks.withDefaults()
	return &Connection{
		id:     id,
		raw:    raw,
		r:      r,
		client: &bufferedConn{Conn: raw, r: r},
		deps:   deps,
	}
}

// serve runs the connection to completion. It never returns an error: every
// failure is translated into a transition to Closing, per the
// exception-based-control-flow redesign note.
func (c *Connection) serve(ctx context.Context) {
	defer c.closeAll()
	c.phase = domain.ReadingRequest

	if c.deps.OriginalDest != nil {
		if first, err := c.r.Peek(1); err == nil && first[0] == tlsRecordHandshake {
			if addr, derr := c.deps.OriginalDest.Resolve(c.raw); derr == nil {
				c.serveTransparent(ctx, addr)
				return
			}
		}
	}

	head, err := readRequestHead(c.r)
	if err != nil {
		c.client.Write(badRequestResponse(err.Error()))
		return
	}
	method, target, _, err := splitRequestLine(head)
	if err != nil {
		c.client.Write(badRequestResponse(err.Error()))
		return
	}

	if method == "CONNECT" {
		c.handleConnect(ctx, target)
		return
	}
	c.handleHTTP(ctx, target, head)
}

// serveTransparent handles a connection recovered via original-destination
// lookup: the client already believes it is speaking TLS straight to
// origin, so there is no HTTP/CONNECT wrapper and no 200 response to send.
func (c *Connection) serveTransparent(ctx context.Context, addr *net.TCPAddr) {
	host := addr.IP.String()
	port := strconv.Itoa(addr.Port)

	normDomain, err := domain.NormalizeDomain(host)
	if err != nil {
		c.deps.Hooks.OnError(host, err)
		return
	}

	if c.isBypassed(normDomain.Name) {
		c.relayBypass(ctx, host, port)
		return
	}

	match := c.deps.Engine.Decide(filter.Request{DestDomain: normDomain.Name, URL: "https://" + normDomain.Name})
	if match.Blocked {
		c.deps.Stats.Inc(statsink.TLSBlocked, 1)
		c.deps.Hooks.OnBlocked(host, match.RuleTag)
		return
	}

	c.interceptTLS(ctx, host, port)
}

// handleConnect implements the CONNECT branch of the state machine. The
// filter decision is made, and a block response sent, before 200 is ever
// written: a blocked CONNECT never reaches TLS, and the client sees a
// plain-text 403 instead of "Connection Established" followed by a block
// page inside TLS.
func (c *Connection) handleConnect(ctx context.Context, target string) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		c.client.Write(badRequestResponse("malformed CONNECT target"))
		return
	}

	normDomain, err := domain.NormalizeDomain(host)
	if err != nil {
		c.client.Write(badRequestResponse("invalid CONNECT host"))
		return
	}

	if c.isBypassed(normDomain.Name) {
		if _, err := c.client.Write([]byte(connEstablished200)); err != nil {
			return
		}
		c.relayBypass(ctx, host, port)
		return
	}

	match := c.deps.Engine.Decide(filter.Request{DestDomain: normDomain.Name, URL: "https://" + normDomain.Name})
	if match.Blocked {
		c.deps.Stats.Inc(statsink.TLSBlocked, 1)
		c.client.Write(BlockResponse(normDomain.Name))
		c.deps.Hooks.OnBlocked(host, match.RuleTag)
		return
	}

	if _, err := c.client.Write([]byte(connEstablished200)); err != nil {
		return
	}
	c.interceptTLS(ctx, host, port)
}

// handleHTTP implements the plain-HTTP branch: a blocked request never
// opens an origin socket, and an allowed request's already-read head bytes
// are replayed to origin verbatim before streaming resumes.
func (c *Connection) handleHTTP(ctx context.Context, target string, head []byte) {
	host, err := resolveHTTPHost(target, head)
	if err != nil {
		c.client.Write(badRequestResponse("missing Host"))
		return
	}

	normDomain, err := domain.NormalizeDomain(host)
	if err != nil {
		c.client.Write(badRequestResponse("invalid host"))
		return
	}

	destURL := target
	if !strings.Contains(destURL, "://") {
		destURL = "http://" + host + destURL
	}

	initiatingDomain, thirdParty := initiatorFromReferer(head, normDomain.Name)
	match := c.deps.Engine.Decide(filter.Request{
		DestDomain:       normDomain.Name,
		URL:              destURL,
		InitiatingDomain: initiatingDomain,
		ThirdParty:       thirdParty,
	})
	if match.Blocked {
		c.deps.Stats.Inc(statsink.HTTPBlocked, 1)
		c.client.Write(BlockResponse(normDomain.Name))
		c.deps.Hooks.OnBlocked(destURL, match.RuleTag)
		return
	}

	c.phase = domain.ConnectingOrigin
	originConn, err := dialOrigin(ctx, ensurePort(host, "80"))
	if err != nil {
		c.deps.Stats.Inc(statsink.MITMErrors, 1)
		c.deps.Hooks.OnError(destURL, err)
		return
	}
	c.origin = originConn

	if _, err := c.origin.Write(head); err != nil {
		c.deps.Stats.Inc(statsink.MITMErrors, 1)
		c.deps.Hooks.OnError(destURL, fmt.Errorf("%w: forward buffered request: %v", errs.ErrIO, err))
		return
	}

	c.deps.Stats.Inc(statsink.HTTPForwarded, 1)
	c.deps.Hooks.OnAllowed(destURL)
	c.phase = domain.Streaming
	c.pump(ctx)
}

// relayBypass opens a plain TCP connection to origin and pumps bytes with
// no TLS inspection of either leg — used for CONNECT targets on the
// bypass list and for bypassed transparent redirects alike.
func (c *Connection) relayBypass(ctx context.Context, host, port string) {
	c.phase = domain.ConnectingOrigin
	originConn, err := dialOrigin(ctx, net.JoinHostPort(host, port))
	if err != nil {
		c.deps.Stats.Inc(statsink.MITMErrors, 1)
		c.deps.Hooks.OnError(host, err)
		return
	}
	c.origin = originConn
	c.deps.Hooks.OnAllowed(host)
	c.phase = domain.Streaming
	c.pump(ctx)
}

// interceptTLS mints a leaf for host, completes the client-facing
// handshake, dials and verifies the origin-facing TLS leg, and then
// streams. Used by both the CONNECT path (after 200) and the transparent
// path (no prior response at all).
func (c *Connection) interceptTLS(ctx context.Context, host, port string) {
	normDomain, err := domain.NormalizeDomain(host)
	if err != nil {
		c.deps.Hooks.OnError(host, err)
		return
	}

	c.deps.Stats.Inc(statsink.TLSForwarded, 1)

	c.phase = domain.TLSHandshakingClient
	leaf, err := c.deps.Authority.LeafFor(normDomain)
	if err != nil {
		c.deps.Stats.Inc(statsink.MITMErrors, 1)
		c.deps.Hooks.OnError(host, fmt.Errorf("%w: mint leaf: %v", errs.ErrCrypto, err))
		return
	}

	clientTLS := tls.Server(c.client, serverTLSConfig(leaf))
	hctx, cancel := context.WithTimeout(ctx, tlsHandshakeTimeout)
	err = clientTLS.HandshakeContext(hctx)
	cancel()
	if err != nil {
		c.deps.Stats.Inc(statsink.MITMErrors, 1)
		c.deps.Hooks.OnTLSHandshake(normDomain.Name, false)
		return
	}
	c.client = clientTLS

	c.phase = domain.ConnectingOrigin
	originConn, err := dialOrigin(ctx, net.JoinHostPort(host, port))
	if err != nil {
		c.deps.Stats.Inc(statsink.MITMErrors, 1)
		c.deps.Hooks.OnError(host, err)
		return
	}

	c.phase = domain.TLSHandshakingOrigin
	originTLS := tls.Client(originConn, originTLSConfig(host, c.deps.OriginVerifySystemTrust))
	hctx2, cancel2 := context.WithTimeout(ctx, tlsHandshakeTimeout)
	err = originTLS.HandshakeContext(hctx2)
	cancel2()
	if err != nil {
		originConn.Close()
		c.deps.Stats.Inc(statsink.MITMErrors, 1)
		c.deps.Hooks.OnTLSHandshake(normDomain.Name, false)
		return
	}
	c.origin = originTLS
	c.deps.Hooks.OnTLSHandshake(normDomain.Name, true)
	c.deps.Hooks.OnAllowed(host)

	c.phase = domain.Streaming
	c.pump(ctx)
}

// pump bidirectionally streams until either side reports EOF or an error,
// then closes both sockets so the other relay goroutine unblocks too.
func (c *Connection) pump(ctx context.Context) {
	done := make(chan struct{}, 2)
	go c.relay(c.client, c.origin, done)
	go c.relay(c.origin, c.client, done)
	<-done
	c.phase = domain.Closing
	c.client.Close()
	c.origin.Close()
	<-done
}

func (c *Connection) relay(src, dst net.Conn, done chan<- struct{}) {
	buf := make([]byte, streamBufferSize)
	for {
		src.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	done <- struct{}{}
}

func (c *Connection) closeAll() {
	c.phase = domain.Closing
	if c.client != nil {
		c.client.Close()
	}
	if c.origin != nil {
		c.origin.Close()
	}
}

func (c *Connection) isBypassed(host string) bool {
	for _, d := range c.deps.Bypass {
		if !d.Wildcard && d.Name == host {
			return true
		}
		if d.Wildcard && strings.HasSuffix(host, "."+d.Name) {
			return true
		}
	}
	return false
}

// readRequestHead reads up to and including the blank line terminating the
// request line and any headers, capped at maxRequestHeadBytes.
func readRequestHead(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := r.ReadBytes('\n')
		buf.Write(line)
		if buf.Len() > maxRequestHeadBytes {
			return nil, fmt.Errorf("%w: request head exceeds %d bytes", errs.ErrProtocol, maxRequestHeadBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading request head: %v", errs.ErrIO, err)
		}
		if len(bytes.TrimRight(line, "\r\n")) == 0 {
			return buf.Bytes(), nil
		}
	}
}

// splitRequestLine requires exactly three space-separated tokens, per §4.4:
// method, target, and version. Anything else is rejected with 400.
func splitRequestLine(head []byte) (method, target, version string, err error) {
	idx := bytes.IndexByte(head, '\n')
	if idx < 0 {
		return "", "", "", fmt.Errorf("%w: missing request line", errs.ErrProtocol)
	}
	line := strings.TrimRight(string(head[:idx]), "\r\n")
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: request line must have exactly 3 tokens, got %d", errs.ErrProtocol, len(parts))
	}
	return parts[0], parts[1], parts[2], nil
}

// resolveHTTPHost extracts the destination host from an absolute-form
// target (explicit-proxy style) or, failing that, the Host header of the
// buffered request head (origin-form, transparent-redirect style).
func resolveHTTPHost(target string, head []byte) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: invalid request target %q", errs.ErrProtocol, target)
		}
		return u.Host, nil
	}
	return packet.ExtractHTTPHost(head)
}

// initiatorFromReferer recovers the $domain=/$third-party options' initiating
// page from the request's Referer header, when present. Party is decided by
// comparing registrable domains (eTLD+1) rather than raw hostnames, so
// "ads.tracker.com" embedded on "shop.example.com" is third-party but
// "cdn.example.com" embedded on "www.example.com" is not. A request with no
// Referer (direct navigation, or a header stripped upstream) is treated as
// first-party: there is no initiating page to compare against.
func initiatorFromReferer(head []byte, destDomain string) (initiatingDomain string, thirdParty bool) {
	referer, err := packet.ExtractHTTPHeader(head, "Referer")
	if err != nil || referer == "" {
		return "", false
	}
	refDomain, err := domain.NormalizeDomain(referer)
	if err != nil {
		return "", false
	}
	initiatingDomain = refDomain.Name
	thirdParty = utils.ApexDomain(initiatingDomain) != utils.ApexDomain(destDomain)
	return initiatingDomain, thirdParty
}

func ensurePort(hostport, defaultPort string) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return net.JoinHostPort(hostport, defaultPort)
}

// dialOrigin is a package var, not a plain func, so tests can substitute a
// net.Pipe or a dial that fails the test outright when a blocked request
// should never reach it — the same swappable-var pattern config uses for
// its koanf loaders.
var dialOrigin = func(ctx context.Context, hostport string) (net.Conn, error) {
	d := net.Dialer{Timeout: originDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("%w: dial origin %s: %v", errs.ErrIO, hostport, err)
	}
	return conn, nil
}

func serverTLSConfig(leaf *domain.LeafCertEntry) *tls.Config {
	cert := tls.Certificate{
		Certificate: leaf.Chain,
		PrivateKey:  leaf.PrivateKey,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h2", "http/1.1"},
	}
}

// originTLSConfig verifies the origin's certificate chain against the
// system trust store in both modes. When verifySystemTrust is false, the
// hostname check is relaxed (useful for lab interception of self-signed
// test servers reached through a rewritten SNI) but the chain must still
// verify — §6 is explicit that a false setting "never accepts invalid
// certificates silently".
func originTLSConfig(host string, verifySystemTrust bool) *tls.Config {
	if verifySystemTrust {
		return &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &tls.Config{
		ServerName:            host,
		MinVersion:            tls.VersionTLS12,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyChainIgnoringHostname,
	}
}

func verifyChainIgnoringHostname(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: origin presented no certificate", errs.ErrProtocol)
	}
	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("%w: parse origin certificate: %v", errs.ErrProtocol, err)
		}
		certs[i] = cert
	}
	opts := x509.VerifyOptions{}
	if len(certs) > 1 {
		pool := x509.NewCertPool()
		for _, c := range certs[1:] {
			pool.AddCert(c)
		}
		opts.Intermediates = pool
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return fmt.Errorf("%w: origin chain verification: %v", errs.ErrProtocol, err)
	}
	return nil
}

func badRequestResponse(reason string) []byte {
	body := fmt.Sprintf("<html><body>400 Bad Request: %s</body></html>", reason)
	head := fmt.Sprintf(
		"HTTP/1.1 400 Bad Request\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		len(body),
	)
	return append([]byte(head), body...)
}
