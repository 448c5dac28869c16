package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGamesCommandListsEmbeddedContent(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"games"})
	require.NoError(t, root.Execute())

	text := out.String()
	for _, id := range []string{"budget-basics", "know-your-rights", "speak-up", "Team Captain (60s)"} {
		assert.Contains(t, text, id)
	}
	assert.Contains(t, text, "catalog/finance: needs-vs-wants, saving-first, interest-basics")
}

func TestMigrateCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "m.db"))

	root := newRootCmd()
	root.SetArgs([]string{"migrate"})
	require.NoError(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"migrate"})
	assert.NoError(t, root.Execute(), "migrations are idempotent")
}
