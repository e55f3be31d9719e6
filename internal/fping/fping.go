package fping

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultBinary is the name of the fping executable, looked up in PATH.
const DefaultBinary = "fping"

// Outcome is the result of one probe for one address. If Received is false, the packet was lost and RTT is meaningless.
type Outcome struct {
	RTT      float64 // milliseconds
	Received bool
}

// Lost returns true if no reply was received.
func (o Outcome) Lost() bool {
	return !o.Received
}

// Results maps each address reported by fping to its outcome.
type Results map[string]Outcome

// Fping probes a list of addresses with one invocation of the fping binary.
type Fping struct {
	Binary string
	Logger *slog.Logger
}

// New returns an Fping that runs the specified binary. If binary is blank, DefaultBinary is used.
func New(binary string, logger *slog.Logger) *Fping {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Fping{Binary: binary, Logger: logger}
}

// Probe sends one ICMP echo request to each address and waits for at most timeout for the replies.
//
// fping exits with a non-zero status whenever a host is unreachable. This is not an error: as long as
// fping reports at least one address, the round is considered successful. If ctx is cancelled, Probe returns
// ctx.Err().
func (f *Fping) Probe(ctx context.Context, addresses []string, timeout time.Duration) (Results, error) {
	cmd := exec.CommandContext(ctx, f.Binary, arguments(addresses, timeout)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.logger().Debug("running fping", "cmd", cmd.String())
	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProbeToolMissingError{Tool: f.Binary, err: err}
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.logger().Debug("fping exited", "err", err)
	}

	results := parse(&stderr)
	if len(results) == 0 {
		return nil, &NoResultsError{Addresses: addresses}
	}
	return results, nil
}

func (f *Fping) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

func arguments(addresses []string, timeout time.Duration) []string {
	args := []string{
		"-C1", // one probe per host, per-host report
		"-q",  // no per-probe output
		"-B1", // no backoff
		"-r1", // one retry
		"-i10", // 10ms between packets to different hosts
		"-t", strconv.FormatInt(timeout.Milliseconds(), 10),
	}
	return append(args, addresses...)
}

// fping separates the address from the results with " : ". A bare colon can't be used, since it appears in IPv6
// addresses and in fping's own error messages ("host: Name or service not known").
const separator = " : "

func parse(r io.Reader) Results {
	results := make(Results)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		address, value, ok := strings.Cut(scanner.Text(), separator)
		if !ok {
			continue
		}
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		if rtt, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			results[address] = Outcome{RTT: rtt, Received: true}
		} else {
			results[address] = Outcome{}
		}
	}
	return results
}

// ProbeToolMissingError indicates that the fping binary could not be started.
type ProbeToolMissingError struct {
	Tool string
	err  error
}

func (e *ProbeToolMissingError) Error() string {
	return "command not found: " + e.Tool
}

func (e *ProbeToolMissingError) Unwrap() error {
	return e.err
}

// NoResultsError indicates that fping ran but did not report any of the addresses.
type NoResultsError struct {
	Addresses []string
}

func (e *NoResultsError) Error() string {
	return fmt.Sprintf("invalid addresses: %s", strings.Join(e.Addresses, ","))
}
