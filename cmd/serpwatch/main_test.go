package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/config"
	"github.com/shehryarbajwa/serpwatch/internal/ledger"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("serpwatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags_OnlyGivenFlagsOverride(t *testing.T) {
	cli, err := parseFlags(newFlagSet(), []string{"-max-pages", "2", "-headless=false", "-restart-interval", "1h", "123", "test"})
	require.NoError(t, err)
	assert.Equal(t, []string{"123", "test"}, cli.Args)

	cfg := config.Default()
	cfg.MaxRetries = 9
	cli.apply(cfg)

	assert.Equal(t, 2, cfg.MaxPages)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, time.Hour, cfg.Cycle.RestartInterval)
	// Not given on the command line
	assert.Equal(t, 9, cfg.MaxRetries)
	assert.Equal(t, config.BackendPlaywright, cfg.Browser.Backend)
}

func TestParseFlags_Unknown(t *testing.T) {
	_, err := parseFlags(newFlagSet(), []string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestLoadTasks(t *testing.T) {
	cfg := config.Default()

	list, err := loadTasks(cfg, []string{"a", "k1", "k2"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []models.SearchTask{{PrimaryTerm: "a", TargetKeywords: []string{"k1", "k2"}}}, list)

	_, err = loadTasks(cfg, nil, zap.NewNop())
	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "tasks_file", cfgErr.Field)

	cfg.TasksFile = filepath.Join(t.TempDir(), "tasks.csv")
	require.NoError(t, os.WriteFile(cfg.TasksFile, []byte("only-one-field\n"), 0o644))
	_, err = loadTasks(cfg, nil, zap.NewNop())
	require.ErrorAs(t, err, &cfgErr)
}

func TestProxySources(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, proxySources(cfg))

	cfg.Proxy.File = "proxies.txt"
	cfg.Proxy.APIURL = "http://127.0.0.1:9/proxies"
	sources := proxySources(cfg)
	require.Len(t, sources, 2)
	assert.Equal(t, "file:proxies.txt", sources[0].Name())
	assert.Equal(t, "api:http://127.0.0.1:9/proxies", sources[1].Name())
}

func TestSummarize_WritesJSON(t *testing.T) {
	l := ledger.New()
	l.Record(models.SearchTask{PrimaryTerm: "123", TargetKeywords: []string{"test"}}, 0, "123", "test", models.NotFound(3))

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, summarize(l, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status": "not found within 3 pages"`)
}
