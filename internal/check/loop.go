package check

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/clambin/smokeping/internal/fping"
)

// Prober probes a list of addresses once.
type Prober interface {
	Probe(ctx context.Context, addresses []string, timeout time.Duration) (fping.Results, error)
}

var _ Prober = &fping.Fping{}

// TargetStats holds the number of probes sent to one address, how many of them were lost, and the sum of the
// round-trip times (in milliseconds) of the replies.
type TargetStats struct {
	Total  int
	Loss   int
	RTTSum float64
}

// Accumulator holds the statistics of one invocation of the check.
type Accumulator struct {
	Rounds  int
	Elapsed time.Duration
	Targets map[string]*TargetStats
}

func newAccumulator(addresses []string) *Accumulator {
	acc := Accumulator{Targets: make(map[string]*TargetStats, len(addresses))}
	for _, address := range addresses {
		acc.Targets[address] = &TargetStats{}
	}
	return &acc
}

func (a *Accumulator) add(results fping.Results) {
	for address, outcome := range results {
		stats, ok := a.Targets[address]
		if !ok {
			continue
		}
		stats.Total++
		if outcome.Lost() {
			stats.Loss++
		} else {
			stats.RTTSum += outcome.RTT
		}
	}
}

// Failures returns the addresses that lost at least one probe, in sorted order.
func (a *Accumulator) Failures() []string {
	var failures []string
	for address, stats := range a.Targets {
		if stats.Loss > 0 {
			failures = append(failures, address)
		}
	}
	slices.Sort(failures)
	return failures
}

// Loop probes all addresses repeatedly until Budget has elapsed.
type Loop struct {
	Prober    Prober
	Addresses []string
	Timeout   time.Duration
	Budget    time.Duration
	now       func() time.Time
}

// Run probes the addresses at least once, and keeps probing until Budget has elapsed. The results of each round are
// passed to onRound. Any error returned by the Prober aborts the loop.
//
// Run only checks the budget between rounds, so it may overrun the budget by up to one round.
func (l *Loop) Run(ctx context.Context, onRound func(fping.Results)) (*Accumulator, error) {
	now := l.now
	if now == nil {
		now = time.Now
	}
	start := now()
	deadline := start.Add(l.Budget)
	acc := newAccumulator(l.Addresses)

	for {
		results, err := l.Prober.Probe(ctx, l.Addresses, l.Timeout)
		if err != nil {
			acc.Elapsed = now().Sub(start)
			return acc, fmt.Errorf("round %d: %w", acc.Rounds+1, err)
		}
		acc.Rounds++
		acc.add(results)
		if onRound != nil {
			onRound(results)
		}
		if !now().Before(deadline) {
			break
		}
		if err = ctx.Err(); err != nil {
			acc.Elapsed = now().Sub(start)
			return acc, err
		}
	}
	acc.Elapsed = now().Sub(start)
	return acc, nil
}
