package main

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/exthost/internal/extension"
)

func TestParseArgs_Defaults(t *testing.T) {
	opts, err := parseArgs(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, options{Kind: "process", LogLevel: "info"}, opts)

	kind, err := opts.validate()
	require.NoError(t, err)
	assert.Equal(t, extension.HostProcess, kind)
}

func TestParseArgs_Flags(t *testing.T) {
	opts, err := parseArgs([]string{"-config", "/etc/exthost.json", "-kind", "worker", "-log-level", "debug", "-version"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/etc/exthost.json", opts.ConfigPath)
	assert.True(t, opts.ShowVersion)

	kind, err := opts.validate()
	require.NoError(t, err)
	assert.Equal(t, extension.HostWorker, kind)
}

func TestParseArgs_Errors(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseArgs([]string{"-bogus"}, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "Usage: exthost")

	_, err = parseArgs([]string{"-h"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		wantErr string
	}{
		{name: "view host", opts: options{Kind: "view", LogLevel: "info"}, wantErr: "invalid host kind"},
		{name: "unknown host", opts: options{Kind: "gpu", LogLevel: "info"}, wantErr: "invalid host kind"},
		{name: "bad level", opts: options{Kind: "worker", LogLevel: "loud"}, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.validate()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRun_RejectsInvalidArgs(t *testing.T) {
	assert.Equal(t, 1, run([]string{"-kind", "view"}))
	assert.Equal(t, 1, run([]string{"-log-level", "loud"}))
	assert.Equal(t, 0, run([]string{"-version"}))
}
