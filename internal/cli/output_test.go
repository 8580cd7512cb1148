package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Output: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Output: "json",
		Writer: buf,
	}

	err := formatter.Error("E110", "selector rejected", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "E110", resp.Error.Code)
	assert.Equal(t, "selector rejected", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Output: "json",
		Writer: buf,
	}

	details := map[string]string{"file": "scene.yaml", "field": "entities[0].id"}
	err := formatter.Error("E102", "duplicate id", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Output: "text",
		Writer: buf,
	}

	err := formatter.Success("All scenes valid")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "All scenes valid")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Output:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E110", "selector rejected", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E110]")
	assert.Contains(t, buf.String(), "selector rejected")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Output:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"file": "scene.yaml"}
	err := formatter.Error("E110", "selector rejected", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E110]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Output:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Loading %s", "scene.yaml")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Loading scene.yaml")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestOutputFormatter_VerboseLogSeparateWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Output:    "json",
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   true,
	}

	formatter.VerboseLog("Loading %s", "scene.yaml")

	// Diagnostics must not corrupt the JSON stream on Writer.
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Loading scene.yaml")
}

func TestOutputFormatter_Infof(t *testing.T) {
	tests := []struct {
		name   string
		output string
		quiet  bool
		want   bool
	}{
		{"text", "text", false, true},
		{"text_quiet", "text", true, false},
		{"json", "json", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Output: tt.output,
				Writer: buf,
				Quiet:  tt.quiet,
			}

			formatter.Infof("processed %d files", 3)

			if tt.want {
				assert.Contains(t, buf.String(), "processed 3 files")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestExitError(t *testing.T) {
	plain := NewExitError(ExitFailure, "scenario failed")
	assert.Equal(t, "scenario failed", plain.Error())
	assert.Nil(t, plain.Unwrap())

	inner := errors.New("no such file")
	wrapped := WrapExitError(ExitCommandError, "loading scene", inner)
	assert.Equal(t, "loading scene: no such file", wrapped.Error())
	assert.ErrorIs(t, wrapped, inner)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "findings")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "inner"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestCLIResponse_SessionField(t *testing.T) {
	resp := CLIResponse{
		Status:  "ok",
		Data:    map[string]int{"events": 5},
		Session: "cli-run-1",
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session":"cli-run-1"`)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "cli-run-1", decoded.Session)

	// Omitted when empty.
	bare, err := json.Marshal(CLIResponse{Status: "ok"})
	require.NoError(t, err)
	assert.NotContains(t, string(bare), "session")
}
