// Package rulesource loads filter-list rule text from a local directory
// and remote URLs, parses each file with repos/filter, and merges the
// result into the rule slice the Filter Engine compiles on startup and on
// reload.
package rulesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	logpkg "github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/repos/filter"
)

const defaultFetchTimeout = 15 * time.Second

// fetchURL is a package var, not a plain function, so tests can swap it
// out for a canned reader without a real network call, the same pattern
// config.go uses for its loader stages.
var fetchURL = func(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rulesource: build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rulesource: fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("rulesource: fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// Source merges a local directory of rule files with remote rule-list
// URLs. A file named with a ".hosts" suffix is parsed as a hosts-file
// denylist; every other file is parsed as a plain adblock-syntax list.
type Source struct {
	dir        string
	urls       []string
	httpClient *http.Client
	logger     logpkg.Logger
}

// New returns a Source reading local rule files from dir and remote lists
// from urls. A nil logger falls back to a no-op logger.
func New(dir string, urls []string, logger logpkg.Logger) *Source {
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}
	return &Source{
		dir:        dir,
		urls:       urls,
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		logger:     logger,
	}
}

// Load reads every configured local file and remote URL, parses each into
// FilterRules, and returns the concatenated result. A missing directory is
// not an error — a fresh install may have no local overrides yet — but a
// directory that exists and cannot be read is. Per-file and per-URL parse
// or fetch failures are logged and skipped, matching ParsePlainList's
// one-bad-entry-does-not-sink-the-list policy at the source level too.
func (s *Source) Load(ctx context.Context) ([]*domain.FilterRule, error) {
	var rules []*domain.FilterRule

	if s.dir != "" {
		local, err := s.loadDirectory()
		if err != nil {
			return nil, err
		}
		rules = append(rules, local...)
	}

	for _, url := range s.urls {
		remote, err := s.loadURL(ctx, url)
		if err != nil {
			s.logger.Warn(map[string]any{"url": url, "error": err.Error()}, "rulesource_fetch_failed")
			continue
		}
		rules = append(rules, remote...)
	}

	s.logger.Info(map[string]any{"dir": s.dir, "urls": len(s.urls), "count": len(rules)}, "rulesource_load_done")
	return rules, nil
}

func (s *Source) loadDirectory() ([]*domain.FilterRule, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rulesource: read dir %s: %w", s.dir, err)
	}

	var rules []*domain.FilterRule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			s.logger.Warn(map[string]any{"path": path, "error": err.Error()}, "rulesource_open_failed")
			continue
		}

		var parsed []*domain.FilterRule
		if strings.HasSuffix(entry.Name(), ".hosts") {
			parsed, err = filter.ParseHostsFile(f, path, s.logger)
		} else {
			parsed, err = filter.ParsePlainList(f, path, s.logger)
		}
		f.Close()

		if err != nil {
			s.logger.Warn(map[string]any{"path": path, "error": err.Error()}, "rulesource_parse_failed")
			continue
		}
		rules = append(rules, parsed...)
	}
	return rules, nil
}

func (s *Source) loadURL(ctx context.Context, url string) ([]*domain.FilterRule, error) {
	body, err := fetchURL(ctx, s.httpClient, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return filter.ParsePlainList(body, url, s.logger)
}
