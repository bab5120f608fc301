package mitmproxy

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/gateways/statsink"
	"github.com/Cody005/shadowguard/internal/guard/repos/ca"
	"github.com/Cody005/shadowguard/internal/guard/repos/filter"
)

type fakeAuthority struct {
	leaf *domain.LeafCertEntry
	err  error
}

func (f *fakeAuthority) RootCertDER() []byte { return nil }

func (f *fakeAuthority) ExportRootPEM() []byte { return nil }

func (f *fakeAuthority) LeafFor(d domain.Domain) (*domain.LeafCertEntry, error) {
	return f.leaf, f.err
}

func (f *fakeAuthority) DeleteRoot(ctx context.Context) error { return nil }

var _ ca.Authority = (*fakeAuthority)(nil)

func buildEngine(t *testing.T, rawRules ...string) *filter.Engine {
	t.Helper()
	var rules []*domain.FilterRule
	for _, raw := range rawRules {
		r, err := filter.Compile(raw, "test")
		assert.NoError(t, err)
		if r != nil {
			rules = append(rules, r)
		}
	}
	e, err := filter.Build(rules)
	assert.NoError(t, err)
	return e
}

func testDeps(engine *filter.Engine) Deps {
	return Deps{
		Authority:               &fakeAuthority{},
		Engine:                  engine,
		Stats:                   statsink.New(),
		Logger:                  log.NewNoopLogger(),
		Hooks:                   NewHooks(),
		OriginVerifySystemTrust: true,
	}
}

func withDialOrigin(t *testing.T, fn func(ctx context.Context, hostport string) (net.Conn, error)) {
	t.Helper()
	orig := dialOrigin
	dialOrigin = fn
	t.Cleanup(func() { dialOrigin = orig })
}

func TestHandleHTTP_Blocked_NeverDialsOrigin(t *testing.T) {
	withDialOrigin(t, func(ctx context.Context, hostport string) (net.Conn, error) {
		t.Fatalf("dialOrigin must not be called for a blocked request, got %s", hostport)
		return nil, nil
	})

	engine := buildEngine(t, "||tracker.example.com^")
	clientSide, proxySide := net.Pipe()
	deps := testDeps(engine)

	done := make(chan struct{})
	go func() {
		newConnection(1, proxySide, deps).serve(context.Background())
		close(done)
	}()

	go clientSide.Write([]byte("GET http://tracker.example.com/pixel.gif HTTP/1.1\r\nHost: tracker.example.com\r\n\r\n"))

	buf := make([]byte, 4096)
	n, err := clientSide.Read(buf)
	assert.NoError(t, err)
	resp := string(buf[:n])
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 403 Forbidden"))
	assert.Contains(t, resp, "X-Blocked: true")

	clientSide.Close()
	<-done
}

func TestHandleHTTP_ThirdPartyRule_UsesRefererToClassifyParty(t *testing.T) {
	engine := buildEngine(t, "||tracker.example.com^$third-party")

	t.Run("cross-site referer is blocked", func(t *testing.T) {
		withDialOrigin(t, func(ctx context.Context, hostport string) (net.Conn, error) {
			t.Fatalf("dialOrigin must not be called for a blocked request, got %s", hostport)
			return nil, nil
		})
		clientSide, proxySide := net.Pipe()
		done := make(chan struct{})
		go func() {
			newConnection(1, proxySide, testDeps(engine)).serve(context.Background())
			close(done)
		}()

		req := "GET http://tracker.example.com/pixel.gif HTTP/1.1\r\nHost: tracker.example.com\r\n" +
			"Referer: https://news.other-site.com/story\r\n\r\n"
		go clientSide.Write([]byte(req))

		buf := make([]byte, 4096)
		n, err := clientSide.Read(buf)
		assert.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(buf[:n]), "HTTP/1.1 403 Forbidden"))

		clientSide.Close()
		<-done
	})

	t.Run("same-site referer is allowed", func(t *testing.T) {
		originClientSide, originServerSide := net.Pipe()
		withDialOrigin(t, func(ctx context.Context, hostport string) (net.Conn, error) {
			return originClientSide, nil
		})
		clientSide, proxySide := net.Pipe()
		done := make(chan struct{})
		go func() {
			newConnection(1, proxySide, testDeps(engine)).serve(context.Background())
			close(done)
		}()

		req := "GET http://tracker.example.com/pixel.gif HTTP/1.1\r\nHost: tracker.example.com\r\n" +
			"Referer: https://tracker.example.com/story\r\n\r\n"
		go clientSide.Write([]byte(req))

		headBuf := make([]byte, len(req))
		_, err := io.ReadFull(originServerSide, headBuf)
		assert.NoError(t, err)

		originServerSide.Close()
		clientSide.Close()
		<-done
	})
}

func TestHandleHTTP_Allowed_ForwardsHeadAndStreams(t *testing.T) {
	originClientSide, originServerSide := net.Pipe()
	withDialOrigin(t, func(ctx context.Context, hostport string) (net.Conn, error) {
		assert.Equal(t, "example.com:80", hostport)
		return originClientSide, nil
	})

	engine := buildEngine(t)
	clientSide, proxySide := net.Pipe()
	deps := testDeps(engine)

	done := make(chan struct{})
	go func() {
		newConnection(1, proxySide, deps).serve(context.Background())
		close(done)
	}()

	req := "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n"
	go clientSide.Write([]byte(req))

	headBuf := make([]byte, len(req))
	_, err := io.ReadFull(originServerSide, headBuf)
	assert.NoError(t, err)
	assert.Equal(t, req, string(headBuf))

	go originServerSide.Write([]byte("HTTP/1.1 200 OK\r\n\r\nhi"))
	respBuf := make([]byte, 64)
	n, err := clientSide.Read(respBuf)
	assert.NoError(t, err)
	assert.Contains(t, string(respBuf[:n]), "200 OK")

	originServerSide.Close()
	clientSide.Close()
	<-done
}

func TestHandleConnect_Blocked_Never200(t *testing.T) {
	withDialOrigin(t, func(ctx context.Context, hostport string) (net.Conn, error) {
		t.Fatalf("dialOrigin must not be called for a blocked CONNECT, got %s", hostport)
		return nil, nil
	})

	engine := buildEngine(t, "||ads.example.com^")
	clientSide, proxySide := net.Pipe()
	deps := testDeps(engine)

	done := make(chan struct{})
	go func() {
		newConnection(1, proxySide, deps).serve(context.Background())
		close(done)
	}()

	go clientSide.Write([]byte("CONNECT ads.example.com:443 HTTP/1.1\r\n\r\n"))

	buf := make([]byte, 4096)
	n, err := clientSide.Read(buf)
	assert.NoError(t, err)
	resp := string(buf[:n])
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 403 Forbidden"))
	assert.NotContains(t, resp, "200 Connection Established")

	clientSide.Close()
	<-done
}

func TestHandleConnect_Bypass_RelaysAfter200(t *testing.T) {
	originClientSide, originServerSide := net.Pipe()
	withDialOrigin(t, func(ctx context.Context, hostport string) (net.Conn, error) {
		assert.Equal(t, "bank.example.com:443", hostport)
		return originClientSide, nil
	})

	engine := buildEngine(t)
	clientSide, proxySide := net.Pipe()
	deps := testDeps(engine)
	bypassDomain, err := domain.NormalizeDomain("bank.example.com")
	assert.NoError(t, err)
	deps.Bypass = []domain.Domain{bypassDomain}

	done := make(chan struct{})
	go func() {
		newConnection(1, proxySide, deps).serve(context.Background())
		close(done)
	}()

	go clientSide.Write([]byte("CONNECT bank.example.com:443 HTTP/1.1\r\n\r\n"))

	buf := make([]byte, 64)
	n, err := clientSide.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, connEstablished200, string(buf[:n]))

	go originServerSide.Write([]byte("opaque-tls-bytes"))
	n, err = clientSide.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "opaque-tls-bytes", string(buf[:n]))

	originServerSide.Close()
	clientSide.Close()
	<-done
}

func TestSplitRequestLine_RequiresExactlyThreeTokens(t *testing.T) {
	_, _, _, err := splitRequestLine([]byte("GET /only-two-tokens\r\n\r\n"))
	assert.Error(t, err)

	method, target, version, err := splitRequestLine([]byte("GET / HTTP/1.1\r\n\r\n"))
	assert.NoError(t, err)
	assert.Equal(t, "GET", method)
	assert.Equal(t, "/", target)
	assert.Equal(t, "HTTP/1.1", version)
}

func TestIsBypassed_ExactAndWildcard(t *testing.T) {
	exact, err := domain.NormalizeDomain("bank.example.com")
	assert.NoError(t, err)
	wildcard, err := domain.NormalizeDomain("*.bank.example.com")
	assert.NoError(t, err)

	c := &Connection{deps: Deps{Bypass: []domain.Domain{exact, wildcard}}}

	assert.True(t, c.isBypassed("bank.example.com"))
	assert.True(t, c.isBypassed("login.bank.example.com"))
	assert.False(t, c.isBypassed("bank.example.net"))
}
