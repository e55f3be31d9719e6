package fping

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func Test_parse(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Results
	}{
		{
			name:   "empty output",
			output: "",
			want:   Results{},
		},
		{
			name:   "success",
			output: "127.0.0.1 : 0.04\n127.0.0.2 : 0.10\n",
			want: Results{
				"127.0.0.1": {RTT: 0.04, Received: true},
				"127.0.0.2": {RTT: 0.10, Received: true},
			},
		},
		{
			name:   "loss",
			output: "169.254.254.254 : -\n",
			want:   Results{"169.254.254.254": {}},
		},
		{
			name:   "non-numeric marker",
			output: "10.0.0.1 : timeout\n",
			want:   Results{"10.0.0.1": {}},
		},
		{
			name:   "line without separator",
			output: "ICMP Host Unreachable from 10.0.0.254 for ICMP Echo sent to 10.0.0.1\n127.0.0.1 : 1.5\n",
			want:   Results{"127.0.0.1": {RTT: 1.5, Received: true}},
		},
		{
			name:   "resolver error",
			output: "not-a-valid-address: Name or service not known\n",
			want:   Results{},
		},
		{
			name:   "ipv6",
			output: "::1 : 0.03\nfe80::1 : -\n",
			want: Results{
				"::1":     {RTT: 0.03, Received: true},
				"fe80::1": {},
			},
		},
		{
			name:   "surrounding whitespace",
			output: "  127.0.0.1   :   2.25  \n",
			want:   Results{"127.0.0.1": {RTT: 2.25, Received: true}},
		},
		{
			name:   "blank address",
			output: " : 2.25\n",
			want:   Results{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parse(strings.NewReader(tt.output)))
		})
	}
}

func Test_arguments(t *testing.T) {
	assert.Equal(t,
		[]string{"-C1", "-q", "-B1", "-r1", "-i10", "-t", "2500", "127.0.0.1", "::1"},
		arguments([]string{"127.0.0.1", "::1"}, 2500*time.Millisecond),
	)
}

func TestOutcome_Lost(t *testing.T) {
	assert.True(t, Outcome{}.Lost())
	assert.False(t, Outcome{RTT: 1, Received: true}.Lost())
}

// fakeFping writes a shell script that prints output to stderr and exits with the specified code.
func fakeFping(t *testing.T, output string, exitCode int) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var script strings.Builder
	script.WriteString("#!/bin/sh\n")
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		script.WriteString("echo '" + line + "' >&2\n")
	}
	script.WriteString("exit " + strconv.Itoa(exitCode) + "\n")

	path := filepath.Join(t.TempDir(), "fping")
	require.NoError(t, os.WriteFile(path, []byte(script.String()), 0o755))
	return path
}

func TestFping_Probe_Fake(t *testing.T) {
	binary := fakeFping(t, "127.0.0.1 : 0.05\n10.0.0.1 : -", 1)
	f := New(binary, discardLogger)

	results, err := f.Probe(context.Background(), []string{"127.0.0.1", "10.0.0.1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Results{
		"127.0.0.1": {RTT: 0.05, Received: true},
		"10.0.0.1":  {},
	}, results)
}

func TestFping_Probe_Fake_NoResults(t *testing.T) {
	binary := fakeFping(t, "not-a-valid-address: Name or service not known", 2)
	f := New(binary, discardLogger)

	_, err := f.Probe(context.Background(), []string{"not-a-valid-address"}, time.Second)
	var noResults *NoResultsError
	require.ErrorAs(t, err, &noResults)
	assert.Equal(t, []string{"not-a-valid-address"}, noResults.Addresses)
	assert.Equal(t, "invalid addresses: not-a-valid-address", err.Error())
}

func TestFping_Probe_ToolMissing(t *testing.T) {
	t.Setenv("PATH", "")
	f := New("", discardLogger)

	_, err := f.Probe(context.Background(), []string{"8.8.8.8"}, time.Second)
	var missing *ProbeToolMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "fping", missing.Tool)
	assert.Equal(t, "command not found: fping", err.Error())
	assert.True(t, errors.Is(err, exec.ErrNotFound))
}

func TestFping_Probe_ToolMissing_Path(t *testing.T) {
	binary := filepath.Join(t.TempDir(), "fping")
	f := New(binary, discardLogger)

	_, err := f.Probe(context.Background(), []string{"8.8.8.8"}, time.Second)
	var missing *ProbeToolMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "command not found: "+binary, err.Error())
}

func TestFping_Probe_Cancelled(t *testing.T) {
	binary := fakeFping(t, "127.0.0.1 : 0.05", 0)
	f := New(binary, discardLogger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Probe(ctx, []string{"127.0.0.1"}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	var missing *ProbeToolMissingError
	assert.False(t, errors.As(err, &missing))
}

func TestFping_Probe_Interrupted(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	binary := filepath.Join(t.TempDir(), "fping")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\nexec sleep 10\n"), 0o755))
	f := New(binary, discardLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Probe(ctx, []string{"127.0.0.1"}, time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func realFping(t *testing.T) *Fping {
	t.Helper()
	if testing.Short() || os.Getenv("GITHUB_ACTIONS") == "true" {
		t.Skip("skipping fping integration test")
	}
	if _, err := exec.LookPath(DefaultBinary); err != nil {
		t.Skip("fping not available on PATH")
	}
	return New("", discardLogger)
}

func TestFping_Probe(t *testing.T) {
	f := realFping(t)

	results, err := f.Probe(context.Background(), []string{"127.0.0.1", "127.0.0.2", "169.254.254.254"}, 2*time.Second)
	require.NoError(t, err)

	for _, addr := range []string{"127.0.0.1", "127.0.0.2"} {
		outcome, ok := results[addr]
		require.True(t, ok, addr)
		assert.True(t, outcome.Received, addr)
		assert.Less(t, outcome.RTT, 10.0, addr)
	}
	outcome, ok := results["169.254.254.254"]
	require.True(t, ok)
	assert.True(t, outcome.Lost())
}

func TestFping_Probe_InvalidAddress(t *testing.T) {
	f := realFping(t)

	_, err := f.Probe(context.Background(), []string{"not-a-valid-address"}, 2*time.Second)
	var noResults *NoResultsError
	require.ErrorAs(t, err, &noResults)
	assert.Contains(t, err.Error(), "not-a-valid-address")
}
