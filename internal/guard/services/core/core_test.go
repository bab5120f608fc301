package core

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/config"
	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/gateways/keystore"
	"github.com/Cody005/shadowguard/internal/guard/gateways/statsink"
	"github.com/Cody005/shadowguard/internal/guard/repos/filter"
)

type fakeRuleSource struct {
	raw []string
	n   int
}

func (f *fakeRuleSource) Load(ctx context.Context) ([]*domain.FilterRule, error) {
	f.n++
	var rules []*domain.FilterRule
	for _, r := range f.raw {
		rule, err := filter.Compile(r, "fake")
		if err != nil {
			return nil, err
		}
		if rule != nil {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func testConfig() *config.AppConfig {
	cfg := config.DefaultAppConfig
	cfg.Proxy.ListenAddr = "127.0.0.1"
	cfg.Proxy.Port = 0
	cfg.CA.SubjectCN = "Core Test Root"
	cfg.Rules.ReloadIntervalSecs = 0
	return &cfg
}

func TestNew_BuildsCoreFromEmptyRuleSet(t *testing.T) {
	c, err := New(testConfig(), keystore.NewMemoryStore(), statsink.New(), log.NewNoopLogger(), &fakeRuleSource{})
	assert.NoError(t, err)
	assert.NotNil(t, c)
	assert.NotEmpty(t, c.RootCertDER())
}

func TestExportRootPEM_ContainsRootCertDelimiters(t *testing.T) {
	c, err := New(testConfig(), keystore.NewMemoryStore(), statsink.New(), log.NewNoopLogger(), &fakeRuleSource{})
	assert.NoError(t, err)

	pemBytes := c.ExportRootPEM()
	assert.Contains(t, string(pemBytes), "-----BEGIN CERTIFICATE-----")
	assert.Contains(t, string(pemBytes), "-----END CERTIFICATE-----")
}

func TestDeleteRoot_ClearsKeyStore(t *testing.T) {
	store := keystore.NewMemoryStore()
	c, err := New(testConfig(), store, statsink.New(), log.NewNoopLogger(), &fakeRuleSource{})
	assert.NoError(t, err)

	assert.NoError(t, c.DeleteRoot(context.Background()))

	_, _, err = store.LoadRoot(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_CompilesInitialRules(t *testing.T) {
	src := &fakeRuleSource{raw: []string{"||tracker.example.com^"}}
	c, err := New(testConfig(), keystore.NewMemoryStore(), statsink.New(), log.NewNoopLogger(), src)
	assert.NoError(t, err)

	res := c.InspectPacket([]byte{}, domain.FamilyV4)
	assert.Equal(t, domain.Forward, res.Decision) // malformed packet always forwards
	assert.Equal(t, 1, src.n)
}

func TestReloadRules_RecompilesAndPublishes(t *testing.T) {
	src := &fakeRuleSource{}
	c, err := New(testConfig(), keystore.NewMemoryStore(), statsink.New(), log.NewNoopLogger(), src)
	assert.NoError(t, err)

	before := c.engine.Load()
	src.raw = []string{"||tracker.example.com^"}
	assert.NoError(t, c.ReloadRules(context.Background()))
	after := c.engine.Load()

	assert.NotSame(t, before, after)
	assert.Equal(t, 2, src.n)
}

func TestStartStop_BindsAndDrainsProxy(t *testing.T) {
	c, err := New(testConfig(), keystore.NewMemoryStore(), statsink.New(), log.NewNoopLogger(), &fakeRuleSource{})
	assert.NoError(t, err)

	assert.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop())
}
