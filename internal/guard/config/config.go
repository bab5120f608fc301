// Package config loads ShadowGuard's runtime configuration from defaults,
// an optional YAML file, and environment variables (in that precedence
// order), then validates the result.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds every tunable of the traffic interception core.
type AppConfig struct {
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log   LoggingConfig    `koanf:"log" validate:"required"`
	Proxy ProxyConfig      `koanf:"proxy" validate:"required"`
	Bypass BypassConfig    `koanf:"bypass"`
	Rules RuleSourceConfig `koanf:"rules" validate:"required"`
	Cache LeafCacheConfig  `koanf:"cache"`
	CA    CAConfig         `koanf:"ca" validate:"required"`
}

type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// ProxyConfig configures the MITM proxy's listener.
type ProxyConfig struct {
	// ListenAddr is the bind address, e.g. "0.0.0.0" or "127.0.0.1".
	ListenAddr string `koanf:"listen" validate:"required"`

	// Port is the transparent-proxy listen port.
	Port int `koanf:"port" validate:"required,gte=1,lte=65535"`

	// OriginVerifySystemTrust requires the origin-facing TLS leg's
	// hostname to match its certificate, on top of the chain validation
	// the proxy always performs. Setting it false relaxes only the
	// hostname check, for lab interception behind a rewritten SNI; an
	// origin certificate that fails to chain to a trusted root is never
	// accepted either way.
	OriginVerifySystemTrust bool `koanf:"origin_verify_system_trust"`
}

// BypassConfig lists connections the proxy forwards untouched instead of
// intercepting — banking apps and certificate-pinned clients, typically.
type BypassConfig struct {
	// Patterns are exact domains, e.g. "bank.example.com", or "*."-prefixed
	// wildcards, e.g. "*.bank.example.com", which match subdomains only.
	Patterns []string `koanf:"patterns" validate:"omitempty,dive,required"`
}

// RuleSourceConfig points the Filter Engine and Domain Index at the rule
// lists they compile on startup and on reload.
type RuleSourceConfig struct {
	// Directory holds local hosts-file and plain-list rule files.
	Directory string `koanf:"dir" validate:"required"`

	// URLs are remote rule lists fetched and merged with Directory's
	// local files on each reload.
	URLs []string `koanf:"urls" validate:"omitempty,dive,url"`

	// ReloadIntervalSecs is how often rule sources are re-fetched and
	// recompiled; 0 disables automatic reload.
	ReloadIntervalSecs int `koanf:"reload_interval_secs" validate:"gte=0"`
}

// LeafCacheConfig tunes the Certificate Authority's leaf cache.
type LeafCacheConfig struct {
	// LeafTTLSecs bounds how long a minted leaf is served from cache.
	LeafTTLSecs int `koanf:"leaf_ttl_secs" validate:"gte=0"`

	// LeafMax is the cache capacity before the oldest-quarter eviction
	// policy runs.
	LeafMax int `koanf:"leaf_max" validate:"gte=0"`
}

// CAConfig configures the root CA's identity and persistence.
type CAConfig struct {
	// SubjectCN names the root CA in its Subject/Issuer fields.
	SubjectCN string `koanf:"subject_cn" validate:"required"`

	// KeystoreDir is where the root key/cert pair is persisted.
	KeystoreDir string `koanf:"keystore_dir" validate:"required"`
}

// DefaultAppConfig is the baseline configuration before a config file or
// environment variables are layered on top.
var DefaultAppConfig = AppConfig{
	Env: "prod",
	Log: LoggingConfig{
		Level: "info",
	},
	Proxy: ProxyConfig{
		ListenAddr:              "0.0.0.0",
		Port:                    8443,
		OriginVerifySystemTrust: true,
	},
	Bypass: BypassConfig{
		Patterns: []string{},
	},
	Rules: RuleSourceConfig{
		Directory:          "/etc/shadowguard/rules.d/",
		URLs:               []string{},
		ReloadIntervalSecs: 3600,
	},
	Cache: LeafCacheConfig{
		LeafTTLSecs: 86400,
		LeafMax:     1000,
	},
	CA: CAConfig{
		SubjectCN:   "ShadowGuard Root CA",
		KeystoreDir: "/var/lib/shadowguard/ca",
	},
}

// configFileEnvVar names the environment variable holding an optional
// path to a YAML config file, read before SG_-prefixed env overrides.
const configFileEnvVar = "SG_CONFIG_FILE"

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

// fileLoader loads a YAML file named by SG_CONFIG_FILE, if set and the
// file exists. Missing or unset is not an error — the default and
// environment layers are enough on their own.
var fileLoader = func(k *koanf.Koanf) error {
	path := os.Getenv(configFileEnvVar)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// envLoader loads environment variables with the "SG_" prefix, lowercases
// the keys and turns only their first underscore into the section dot (so
// SG_CACHE_LEAF_TTL_SECS becomes cache.leaf_ttl_secs), and splits
// comma/space-delimited values into slices so SG_BYPASS_PATTERNS="a.com,b.com"
// becomes a []string.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "SG_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, "SG_")), "_", ".", 1)
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}
			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}
			return key, value
		},
	}), nil)
}

// Load builds an AppConfig from defaults, an optional config file, and
// environment variables, then validates it.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := fileLoader(k); err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
