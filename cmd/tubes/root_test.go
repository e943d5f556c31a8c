package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = parseID("-1")
	require.Error(t, err)
}

func TestPutRejectsInvalidPayload(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"put", "emails", "{not json"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload is not valid json")
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".rr.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
tubes:
  addr: tcp://10.0.0.1:11300
  connect_timeout: 3s
  tubes:
    emails:
      width: 2
      tries: 5
`), 0o600))

	a := newApp()
	root := a.command()
	require.NoError(t, root.PersistentFlags().Set("addr", "tcp://127.0.0.1:11301"))
	require.NoError(t, a.load(root, file, false))

	assert.Equal(t, "tcp://127.0.0.1:11301", a.cfg.Addr)
	assert.Equal(t, 3*time.Second, a.cfg.ConnectTimeout)
	require.Contains(t, a.cfg.Tubes, "emails")
	assert.Equal(t, 2, a.cfg.Tubes["emails"].Width)
	assert.Equal(t, 5, a.cfg.Tubes["emails"].Tries)
}
