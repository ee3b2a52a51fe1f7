package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/pipeline"
)

func writeOfflineConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sheetPath := filepath.Join(dir, "proveedor.csv")
	sheet := "name,price,sku,category\n" +
		"Silla Roja,\"45,99€\",BB-001,Sillas\n" +
		"Mesa Roble,120,BB-002,Mesas\n"
	require.NoError(t, os.WriteFile(sheetPath, []byte(sheet), 0o600))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := `
logging:
  level: error
harvest:
  min_jitter: 0s
  max_jitter: 1ms
  rate_per_host: 0
sources:
  sheet:
    targets: ["` + filepath.ToSlash(sheetPath) + `"]
embedding:
  dimensions: 256
  pacing: 0s
audit:
  backend: local
  dir: "` + filepath.ToSlash(filepath.Join(dir, "audit")) + `"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return cfgPath
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd, closeApp := newRootCmd()
	defer closeApp()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestHarvestCommandPrintsSummary(t *testing.T) {
	cfgPath := writeOfflineConfig(t)

	out, err := execute(t, context.Background(), "harvest", "--config", cfgPath, "--sync", "--workers", "2")
	require.NoError(t, err)

	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.NotEmpty(t, summary.RunID)
	require.Contains(t, summary.Sources, catalog.SourceSheet)
	assert.Equal(t, 2, summary.Sources[catalog.SourceSheet].Created)
	assert.Equal(t, 2, summary.Results["ok"])
	assert.Contains(t, summary.AuditURIs[catalog.SourceSheet], "file://")
	assert.Empty(t, summary.FetchFailures)
}

func TestHarvestCommandFailsWhenNoFetchSucceeds(t *testing.T) {
	cfgPath := writeOfflineConfig(t)
	t.Setenv("HARVESTER_HARVEST_MAX_ATTEMPTS", "1")
	raw, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	broken := strings.Replace(string(raw), "proveedor.csv", "missing.csv", 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(broken), 0o600))

	out, err := execute(t, context.Background(), "harvest", "--config", cfgPath)
	require.ErrorIs(t, err, pipeline.ErrNoSuccessfulFetches)
	assert.Contains(t, out, "missing.csv")
}

func TestEmbedAndReconcileCommands(t *testing.T) {
	cfgPath := writeOfflineConfig(t)

	out, err := execute(t, context.Background(), "embed", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"Embedded": 0`)

	out, err = execute(t, context.Background(), "reconcile", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"Skipped": true`)
}

func TestSearchCommand(t *testing.T) {
	cfgPath := writeOfflineConfig(t)

	out, err := execute(t, context.Background(), "search", "--config", cfgPath, "silla", "roja")
	require.NoError(t, err)
	assert.Contains(t, out, "SCORE")

	_, err = execute(t, context.Background(), "search", "--config", cfgPath, "--limit", "0", "silla")
	require.Error(t, err)

	_, err = execute(t, context.Background(), "search", "--config", cfgPath)
	require.Error(t, err)
}

func TestServeCommandShutsDownOnCancel(t *testing.T) {
	cfgPath := writeOfflineConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := execute(t, ctx, "serve", "--config", cfgPath, "--addr", "127.0.0.1:0")
	require.NoError(t, err)
}

func TestInvalidConfigFailsBeforeRunning(t *testing.T) {
	t.Setenv("HARVESTER_DEDUP_THRESHOLD", "3")

	_, err := execute(t, context.Background(), "embed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}
