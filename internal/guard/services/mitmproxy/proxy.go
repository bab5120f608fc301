// Package mitmproxy implements the MITM Proxy subsystem: a local TCP
// listener that accepts redirected HTTP/HTTPS flows, enforces filter
// policy, and relays allowed traffic to origin — terminating client TLS
// with a CA-minted leaf and re-encrypting to the real destination.
package mitmproxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/gateways/packetsource"
	"github.com/Cody005/shadowguard/internal/guard/gateways/statsink"
	"github.com/Cody005/shadowguard/internal/guard/repos/ca"
	"github.com/Cody005/shadowguard/internal/guard/repos/filter"
)

// Options configures a Proxy at construction. Engine is the rule snapshot
// new connections observe until ReloadRules publishes another one.
type Options struct {
	ListenAddr              string
	Authority               ca.Authority
	Engine                  *filter.Engine
	BypassPatterns          []string
	Stats                   *statsink.StatSink
	Logger                  log.Logger
	Hooks                   Hooks
	OriginVerifySystemTrust bool
	OriginalDest            packetsource.OriginalDestination
}

// Proxy is the acceptor for one local listener. It holds no per-connection
// state beyond the registry of in-flight tasks needed to implement Stop;
// each Connection owns its own sockets.
type Proxy struct {
	listenAddr              string
	authority               ca.Authority
	engine                  atomic.Pointer[filter.Engine]
	bypass                  []domain.Domain
	stats                   *statsink.StatSink
	logger                  log.Logger
	hooks                   Hooks
	originVerifySystemTrust bool
	originalDest            packetsource.OriginalDestination

	mu       sync.Mutex
	running  bool
	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
	nextID   atomic.Uint64
}

// New validates opts.BypassPatterns and returns an unstarted Proxy.
func New(opts Options) (*Proxy, error) {
	bypass, err := normalizeBypass(opts.BypassPatterns)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	p := &Proxy{
		listenAddr:              opts.ListenAddr,
		authority:               opts.Authority,
		bypass:                  bypass,
		stats:                   opts.Stats,
		logger:                  logger,
		hooks:                   opts.Hooks.withDefaults(),
		originVerifySystemTrust: opts.OriginVerifySystemTrust,
		originalDest:            opts.OriginalDest,
	}
	p.engine.Store(opts.Engine)
	return p, nil
}

func normalizeBypass(patterns []string) ([]domain.Domain, error) {
	out := make([]domain.Domain, 0, len(patterns))
	for _, raw := range patterns {
		d, err := domain.NormalizeDomain(raw)
		if err != nil {
			return nil, fmt.Errorf("mitmproxy: bypass pattern %q: %w", raw, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ReloadRules atomically swaps the rule snapshot subsequent connections
// observe. In-flight connections keep using the snapshot they started
// with, per the reload-atomicity invariant.
func (p *Proxy) ReloadRules(e *filter.Engine) {
	p.engine.Store(e)
}

// Start binds the listener and launches the accept loop. It returns once
// the socket is bound; the accept loop runs in the background until Stop.
// ctx is handed to every accepted connection and bounds its origin dial
// and TLS handshakes.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("mitmproxy: already running")
	}

	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		return fmt.Errorf("mitmproxy: bind %s: %w", p.listenAddr, err)
	}

	p.listener = ln
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info(map[string]any{
		"addr": p.listenAddr,
	}, "mitm proxy listening")

	go p.acceptLoop(ctx)
	return nil
}

// Addr returns the bound listener's address and true, or ("", false) if
// the proxy has not been started yet. Callers that bind to port 0 (an
// OS-assigned ephemeral port) use this to discover what was actually
// picked.
func (p *Proxy) Addr() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return "", false
	}
	return p.listener.Addr().String(), true
}

// Stop closes the listener and waits for every in-flight connection to
// end. It does not close or cancel connections that are still streaming;
// each one ends on EOF, an error, or its idle timeout.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	err := p.listener.Close()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info(map[string]any{"addr": p.listenAddr}, "mitm proxy stopped")
	return err
}

func (p *Proxy) acceptLoop(ctx context.Context) {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.stopCh:
				return
			default:
			}
			p.logger.Warn(map[string]any{"error": err.Error()}, "mitm proxy accept failed")
			continue
		}

		p.wg.Add(1)
		go p.handleConn(ctx, conn)
	}
}

func (p *Proxy) handleConn(ctx context.Context, conn net.Conn) {
	defer p.wg.Done()
	p.stats.Inc(statsink.MITMConnections, 1)

	id := domain.ConnectionID(p.nextID.Add(1))
	deps := Deps{
		Authority:               p.authority,
		Engine:                  p.engine.Load(),
		Bypass:                  p.bypass,
		Stats:                   p.stats,
		Logger:                  p.logger,
		Hooks:                   p.hooks,
		OriginVerifySystemTrust: p.originVerifySystemTrust,
		OriginalDest:            p.originalDest,
	}
	newConnection(id, conn, deps).serve(ctx)
}
