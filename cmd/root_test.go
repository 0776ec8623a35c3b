package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	envFile := filepath.Join(t.TempDir(), "absent.env")
	root.SetArgs(append([]string{"--env-file", envFile}, args...))
	return root.ExecuteContext(context.Background())
}

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"crawl", "migrate", "serve"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestCrawlRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	err := execute(t, "crawl", "autowini")
	require.ErrorContains(t, err, "unknown source")
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Parallel()

	err := execute(t, "migrate")
	require.ErrorContains(t, err, "db.dsn")
}

func TestBadConfigFileFails(t *testing.T) {
	t.Parallel()

	err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate")
	require.ErrorContains(t, err, "read config")
}

func TestRuntimeMissing(t *testing.T) {
	t.Parallel()

	_, err := runtimeFrom(context.Background())
	require.Error(t, err)
}
