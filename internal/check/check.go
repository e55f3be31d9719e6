package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/clambin/smokeping/internal/configuration"
	"github.com/clambin/smokeping/internal/sender"
	"github.com/clambin/smokeping/internal/tags"
)

var (
	// ErrConfiguration is wrapped by all errors returned by New.
	ErrConfiguration  = errors.New("invalid configuration")
	ErrMissingAddress = errors.New("all instances should have a 'addr' parameter")
)

// DuplicateAddressError lists the addresses that are configured more than once.
type DuplicateAddressError struct {
	Addresses []string
}

func (e *DuplicateAddressError) Error() string {
	return "duplicate address found: " + strings.Join(e.Addresses, ",")
}

// Target is a configured address, with the tags attached to all its metrics and events.
type Target struct {
	Address string
	Tags    []string
}

// Check measures latency & packet loss to a set of addresses. Each call to Run performs one invocation of the check.
type Check struct {
	targets    []Target
	loop       Loop
	aggregator Aggregator
	sender     sender.Sender
	logger     *slog.Logger
	now        func() time.Time
	lock       sync.RWMutex
	last       *Accumulator
}

// Statistics summarizes the probes sent to one target during the last completed invocation.
type Statistics struct {
	Sent     int
	Received int
	Latency  time.Duration
}

// New validates the configuration and creates a Check. On success, the loss counter of each target is registered
// with the sender at zero.
func New(cfg configuration.Configuration, s sender.Sender, p Prober, logger *slog.Logger) (*Check, error) {
	if logger == nil {
		logger = slog.Default()
	}
	targets, err := validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	addresses := make([]string, len(targets))
	effectiveTags := make(map[string][]string, len(targets))
	for i, target := range targets {
		addresses[i] = target.Address
		effectiveTags[target.Address] = target.Tags
	}

	c := Check{
		targets: targets,
		loop: Loop{
			Prober:    p,
			Addresses: addresses,
			Timeout:   cfg.PingTimeout,
			Budget:    cfg.Budget(),
		},
		aggregator: Aggregator{
			Sender:        s,
			Basename:      cfg.Basename,
			UseFailureLog: cfg.UseFailureLog,
			Tags:          effectiveTags,
			Logger:        logger,
		},
		sender: s,
		logger: logger,
		now:    time.Now,
	}
	c.aggregator.Init()
	return &c, nil
}

func validate(cfg configuration.Configuration) ([]Target, error) {
	addresses := make([]string, len(cfg.Targets))
	for i, target := range cfg.Targets {
		if target.Address == "" {
			return nil, fmt.Errorf("instance %d: %w", i, ErrMissingAddress)
		}
		addresses[i] = target.Address
	}
	if duplicates := duplicateAddresses(addresses); len(duplicates) > 0 {
		return nil, &DuplicateAddressError{Addresses: duplicates}
	}
	targets := make([]Target, len(cfg.Targets))
	for i, target := range cfg.Targets {
		targetTags, err := effectiveTags(cfg.Tags, target)
		if err != nil {
			return nil, fmt.Errorf("instance %d (%s): %w", i, target.Address, err)
		}
		targets[i] = Target{Address: target.Address, Tags: targetTags}
	}
	return targets, nil
}

// duplicateAddresses returns each address that occurs more than once, in the order in which they repeat.
func duplicateAddresses(addresses []string) []string {
	seen := make(set.Set[string], len(addresses))
	reported := make(set.Set[string])
	var duplicates []string
	for _, address := range addresses {
		if !seen.Contains(address) {
			seen.Add(address)
			continue
		}
		if !reported.Contains(address) {
			reported.Add(address)
			duplicates = append(duplicates, address)
		}
	}
	return duplicates
}

// effectiveTags merges the global tags with the target's tags, and adds the target's address as dst_addr.
func effectiveTags(global map[string]string, target configuration.Target) ([]string, error) {
	if target.Tags == nil {
		return nil, tags.ErrMissingTags
	}
	local := make(map[string]string, len(target.Tags)+1)
	for key, value := range target.Tags {
		local[key] = value
	}
	local["dst_addr"] = target.Address
	return tags.Merge(global, local)
}

// Targets returns a copy of the configured targets, with their effective tags.
func (c *Check) Targets() []Target {
	targets := make([]Target, len(c.targets))
	for i, target := range c.targets {
		targets[i] = Target{Address: target.Address, Tags: slices.Clone(target.Tags)}
	}
	return targets
}

// Name returns the prefix of all metrics reported by the check.
func (c *Check) Name() string {
	return c.aggregator.Basename
}

// Statistics returns, for each target, the probes sent & received during the last completed invocation and their
// average round-trip time. Before the first invocation completes, it returns nil.
func (c *Check) Statistics() map[string]Statistics {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.last == nil {
		return nil
	}
	statistics := make(map[string]Statistics, len(c.last.Targets))
	for address, stats := range c.last.Targets {
		s := Statistics{Sent: stats.Total, Received: stats.Total - stats.Loss}
		if s.Received > 0 {
			s.Latency = time.Duration(stats.RTTSum / float64(s.Received) * float64(time.Millisecond))
		}
		statistics[address] = s
	}
	return statistics
}

// Run performs one invocation of the check: it probes all targets until the time budget is spent, submits the
// measurements and, if enabled, one failure event per target that lost probes.
//
// Errors from the prober abort the invocation. Measurements of completed rounds have already been submitted, but
// no events are sent.
func (c *Check) Run(ctx context.Context) error {
	acc, err := c.loop.Run(ctx, c.aggregator.Round)
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.last = acc
	c.lock.Unlock()

	events := c.aggregator.Events(acc, c.now())
	for _, event := range events {
		c.sender.Event(event)
	}
	c.logger.Info("check done",
		"elapsed", acc.Elapsed.Round(10*time.Millisecond),
		"rounds", acc.Rounds,
		"failures", len(acc.Failures()),
		"events", len(events),
	)
	return nil
}
