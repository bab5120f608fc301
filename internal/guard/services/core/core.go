// Package core wires the five traffic-interception subsystems — Domain
// Index, Certificate Authority, Filter Engine, Packet Inspector, and MITM
// Proxy — into one explicitly constructed Core, replacing the global
// singletons an earlier design would have reached for.
package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cody005/shadowguard/internal/guard/common/clock"
	"github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/config"
	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/gateways/packetsource"
	"github.com/Cody005/shadowguard/internal/guard/gateways/statsink"
	"github.com/Cody005/shadowguard/internal/guard/repos/ca"
	"github.com/Cody005/shadowguard/internal/guard/repos/filter"
	"github.com/Cody005/shadowguard/internal/guard/repos/packet"
	"github.com/Cody005/shadowguard/internal/guard/services/mitmproxy"
)

// KeyStore is the CA's persistence dependency, narrowed to what New needs
// to pass through to ca.LoadOrCreateRoot.
type KeyStore = ca.KeyStore

// RuleSource produces the current rule set on startup and on every
// reload tick. gateways/rulesource.Source is the production
// implementation; tests can supply any Load func.
type RuleSource interface {
	Load(ctx context.Context) ([]*domain.FilterRule, error)
}

// Core holds every subsystem built from one AppConfig. It exposes the
// operations the cmd entrypoint and the Packet Inspector's packet-source
// integration need, without exposing the subsystems themselves.
type Core struct {
	cfg       *config.AppConfig
	authority ca.Authority
	engine    atomic.Pointer[filter.Engine]
	proxy     *mitmproxy.Proxy
	rules     RuleSource
	stats     *statsink.StatSink
	logger    log.Logger
	pktLogger log.Logger

	mu         sync.Mutex
	reloading  bool
	stopReload chan struct{}
	wg         sync.WaitGroup
}

// New loads (or provisions) the root CA from keyStore, compiles the rule
// set rules currently serves, and builds the MITM proxy and packet
// inspector around it. It does not start any network listener — call
// Start for that.
func New(cfg *config.AppConfig, keyStore KeyStore, stats *statsink.StatSink, logger log.Logger, rules RuleSource) (*Core, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if stats == nil {
		stats = statsink.New()
	}

	root, err := ca.LoadOrCreateRoot(context.Background(), keyStore, cfg.CA.SubjectCN)
	if err != nil {
		return nil, fmt.Errorf("core: load root ca: %w", err)
	}
	authority := ca.NewLeafCache(
		root,
		keyStore,
		time.Duration(cfg.Cache.LeafTTLSecs)*time.Second,
		cfg.Cache.LeafMax,
		clock.RealClock{},
	)

	ruleSet, err := rules.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("core: initial rule load: %w", err)
	}
	engine, err := filter.Build(ruleSet)
	if err != nil {
		return nil, fmt.Errorf("core: compile rules: %w", err)
	}

	proxy, err := mitmproxy.New(mitmproxy.Options{
		ListenAddr:              fmt.Sprintf("%s:%d", cfg.Proxy.ListenAddr, cfg.Proxy.Port),
		Authority:               authority,
		Engine:                  engine,
		BypassPatterns:          cfg.Bypass.Patterns,
		Stats:                   stats,
		Logger:                  logger.Component("mitmproxy"),
		OriginVerifySystemTrust: cfg.Proxy.OriginVerifySystemTrust,
		OriginalDest:            packetsource.New(),
	})
	if err != nil {
		return nil, fmt.Errorf("core: build mitm proxy: %w", err)
	}

	c := &Core{
		cfg:       cfg,
		authority: authority,
		proxy:     proxy,
		rules:     rules,
		stats:     stats,
		logger:    logger,
		pktLogger: logger.Component("packet"),
	}
	c.engine.Store(engine)

	logger.Info(map[string]any{
		"rule_count": len(ruleSet),
		"listen":     fmt.Sprintf("%s:%d", cfg.Proxy.ListenAddr, cfg.Proxy.Port),
	}, "core_built")
	return c, nil
}

// Start binds the MITM proxy's listener and, when configured, launches
// the periodic rule-reload loop. It returns once the listener is bound;
// both run in the background afterward.
func (c *Core) Start(ctx context.Context) error {
	if err := c.proxy.Start(ctx); err != nil {
		return fmt.Errorf("core: start proxy: %w", err)
	}

	if c.cfg.Rules.ReloadIntervalSecs > 0 {
		c.mu.Lock()
		c.reloading = true
		c.stopReload = make(chan struct{})
		c.mu.Unlock()

		c.wg.Add(1)
		go c.reloadLoop(ctx, time.Duration(c.cfg.Rules.ReloadIntervalSecs)*time.Second)
	}
	return nil
}

// Stop stops the reload loop (if running) and the MITM proxy, waiting for
// in-flight connections to finish.
func (c *Core) Stop() error {
	c.mu.Lock()
	if c.reloading {
		close(c.stopReload)
		c.reloading = false
	}
	c.mu.Unlock()
	c.wg.Wait()

	return c.proxy.Stop()
}

func (c *Core) reloadLoop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopReload:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ReloadRules(ctx); err != nil {
				c.logger.Warn(map[string]any{"error": err.Error()}, "core_reload_failed")
			}
		}
	}
}

// ReloadRules re-fetches the configured rule sources, recompiles the
// Filter Engine, and atomically publishes the new snapshot to both the
// MITM proxy (for subsequent connections) and the Packet Inspector's
// lookup path. Connections already in flight keep the snapshot they
// started with.
func (c *Core) ReloadRules(ctx context.Context) error {
	ruleSet, err := c.rules.Load(ctx)
	if err != nil {
		return fmt.Errorf("core: reload rule fetch: %w", err)
	}
	engine, err := filter.Build(ruleSet)
	if err != nil {
		return fmt.Errorf("core: reload compile: %w", err)
	}

	c.engine.Store(engine)
	c.proxy.ReloadRules(engine)
	c.logger.Info(map[string]any{"rule_count": len(ruleSet)}, "core_reload_done")
	return nil
}

// InspectPacket runs the Packet Inspector's Classify step against pkt
// using the current rule snapshot, for callers that feed it raw frames
// from a packet-capture or netfilter-queue source rather than the MITM
// proxy's socket-level path.
func (c *Core) InspectPacket(pkt []byte, family domain.Family) packet.Result {
	engine := c.engine.Load()
	if engine == nil {
		return packet.Result{Decision: domain.Forward}
	}
	return packet.Classify(pkt, family, engine, c.pktLogger)
}

// RootCertDER returns the root CA's self-signed certificate, for
// provisioning tooling that installs it into a client's trust store.
func (c *Core) RootCertDER() []byte {
	return c.authority.RootCertDER()
}

// ExportRootPEM returns the root CA's certificate as PEM text, for
// provisioning tooling that wants a directly importable trust-store file
// rather than raw DER.
func (c *Core) ExportRootPEM() []byte {
	return c.authority.ExportRootPEM()
}

// DeleteRoot removes the persisted root CA and flushes every cached leaf.
// A fresh root is provisioned the next time this Core (or a new one
// backed by the same KeyStore) starts up, not by this call.
func (c *Core) DeleteRoot(ctx context.Context) error {
	return c.authority.DeleteRoot(ctx)
}

// Stats returns the shared counter sink every subsystem reports into.
func (c *Core) Stats() *statsink.StatSink {
	return c.stats
}

// ListenAddr returns the MITM proxy's bound address and true once Start
// has succeeded, or ("", false) beforehand.
func (c *Core) ListenAddr() (string, bool) {
	return c.proxy.Addr()
}
