package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sigil/internal/store"
)

func TestReplayMissingDatabaseFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayNonExistentDatabase(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", "/nonexistent/path/test.db"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "opening database")
}

func TestReplayEmptyDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "empty.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err = cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No sessions found in database.")
}

func TestReplayVerifiedSession(t *testing.T) {
	dbPath := journaledSession(t, t.TempDir())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Replay Summary: 1 session(s)")
	assert.Contains(t, output, "✓ Session: cli-run-1")
	assert.Contains(t, output, "Events: 6 mutations, 2 parses, 2 ticks")
	assert.Contains(t, output, "✓ All sessions verified")
}

func TestReplayVerbose(t *testing.T) {
	dbPath := journaledSession(t, t.TempDir())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text", Verbose: true}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Mutations: 6")
	assert.Contains(t, output, "Parses: 2")
	assert.Contains(t, output, "Ticks: 2")
	assert.Contains(t, output, "Snapshots verified: 4")
}

func TestReplayExplicitSession(t *testing.T) {
	dbPath := journaledSession(t, t.TempDir())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--session", "cli-run-1"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Session: cli-run-1")
}

func TestReplayUnknownSession(t *testing.T) {
	dbPath := journaledSession(t, t.TempDir())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--session", "no-such-session"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "replaying session no-such-session")
}

func TestReplayDivergence(t *testing.T) {
	dbPath := journaledSession(t, t.TempDir())

	// Rewrite the journaled remove_tag to strip a different tag. The
	// replayed run then keeps goblin in #enemy while the journal's
	// second-pass snapshot says it left.
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE mutations SET key = 'flying' WHERE op = 'tag_removed'`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Session: cli-run-1")
	assert.Contains(t, output, "Divergence:")
	assert.Contains(t, output, "diverged at tick 2")
	assert.Contains(t, output, "✗ Replay verification failed")
}

func TestReplayJSON(t *testing.T) {
	dbPath := journaledSession(t, t.TempDir())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "json"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)

	data, merr := json.Marshal(response.Data)
	require.NoError(t, merr)
	var result ReplayResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 1, result.TotalSessions)
	assert.True(t, result.AllVerified)
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, "cli-run-1", result.Sessions[0].Session)
	assert.True(t, result.Sessions[0].Verified)
	assert.Equal(t, 6, result.Sessions[0].Mutations)
	assert.Equal(t, 2, result.Sessions[0].Parses)
	assert.Equal(t, 2, result.Sessions[0].Ticks)
	assert.Equal(t, 4, result.Sessions[0].Snapshots)
}

func TestReplayDivergenceJSON(t *testing.T) {
	dbPath := journaledSession(t, t.TempDir())

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE mutations SET key = 'flying' WHERE op = 'tag_removed'`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "json"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, "E_DIVERGENCE", response.Error.Code)

	data, merr := json.Marshal(response.Data)
	require.NoError(t, merr)
	var result ReplayResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.False(t, result.AllVerified)
	require.Len(t, result.Sessions, 1)
	assert.False(t, result.Sessions[0].Verified)
	assert.Contains(t, result.Sessions[0].Divergence, "#enemy")
}

func TestReplayHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Output: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "verify")
	assert.Contains(t, output, "--db")
	assert.Contains(t, output, "--session")
}
