package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"athsync/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixtures writes a config pointing both providers at srv and a
// one-call seed file, returning their paths.
func writeFixtures(t *testing.T, srv *httptest.Server) (string, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := fmt.Sprintf(`
log:
  level: error
  format: json
providers:
  order: [dexscreener, geckoterminal]
  dexscreener:
    enabled: true
    base_url: %[1]s/dex
    timeout: 2s
    rps: 100
    burst: 10
  geckoterminal:
    enabled: true
    base_url: %[1]s/gecko
    timeout: 2s
    rps: 100
    burst: 10
policy:
  max_retries: 0
  initial_backoff: 1ms
  max_backoff: 1ms
store:
  backend: memory
`, srv.URL)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	seed := `[{"id": 7, "ticker": "TKN", "network": "solana", "contract_address": "Mint111",
	  "call_timestamp": "2026-01-01T00:00:00Z", "entry_price": 0.001}]`
	seedPath := filepath.Join(dir, "calls.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0o600))

	return cfgPath, seedPath
}

func TestRunDryRunPrintsSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/dex/") {
			_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfgPath, seedPath := writeFixtures(t, srv)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--config", cfgPath, "--dry-run", "--seed", seedPath, "--tier", "high"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var sum struct {
		Tier      string `json:"tier"`
		Processed int    `json:"processed"`
		Aborted   bool   `json:"aborted"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &sum))
	assert.Equal(t, "high", sum.Tier)
	assert.Equal(t, 1, sum.Processed)
	assert.False(t, sum.Aborted)
}

func TestRunUnknownTier(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	cfgPath, _ := writeFixtures(t, srv)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--config", cfgPath, "--tier", "mid"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown tier "mid"`)
}

func TestDaemonJobsFollowTierCadence(t *testing.T) {
	a := &app{cfg: &config.Config{Scheduler: config.SchedulerConfig{Tiers: config.DefaultTiers()}}}

	jobs := daemonJobs(a, 3)
	got := make(map[string]int, len(jobs))
	for _, j := range jobs {
		got[j.Name] = j.Every
	}
	assert.Equal(t, map[string]int{
		"run:high":    1,
		"verify:high": 3,
		"run:low":     4,
		"verify:low":  12,
	}, got)

	assert.Len(t, daemonJobs(a, 0), 2)
}
