package check

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/smokeping/internal/fping"
	"github.com/clambin/smokeping/internal/sender"
)

// Aggregator converts probe results into metrics & failure events for a Sender.
type Aggregator struct {
	Sender        sender.Sender
	Basename      string
	UseFailureLog bool
	// Tags holds the effective tags of each address.
	Tags   map[string][]string
	Logger *slog.Logger
}

func (a *Aggregator) metric(name string) string {
	return a.Basename + "." + name
}

// Init registers the lifetime loss counter of each address, so the series exists before the first loss.
func (a *Aggregator) Init() {
	for _, tags := range a.Tags {
		a.Sender.Increment(a.metric("loss_cnt"), 0, tags)
	}
}

// Round submits the results of one probe round: one rtt sample for each reply, and one total & loss count
// increment for each probed address.
func (a *Aggregator) Round(results fping.Results) {
	for address, outcome := range results {
		tags, ok := a.Tags[address]
		if !ok {
			a.Logger.Warn("fping reported an unknown address. ignoring", "addr", address)
			continue
		}
		var loss float64
		if outcome.Lost() {
			loss = 1
		} else {
			a.Sender.Histogram(a.metric("rtt"), outcome.RTT, tags)
		}
		a.Sender.Increment(a.metric("loss_cnt"), loss, tags)
		a.Sender.Increment(a.metric("total_cnt"), 1, tags)
		a.Sender.RollUpMetadata()
	}
}

// Events returns one failure event for each address that lost probes during the invocation. If the failure log is
// disabled, Events returns nil.
func (a *Aggregator) Events(acc *Accumulator, now time.Time) []sender.Event {
	if !a.UseFailureLog {
		return nil
	}
	var events []sender.Event
	for _, address := range acc.Failures() {
		events = append(events, sender.Event{
			Timestamp:      now.Unix(),
			EventType:      a.Basename,
			Title:          "fping timeout",
			Text:           fmt.Sprintf("ICMP Network Unreachable for ICMP Echo sent to %s %d times", address, acc.Targets[address].Loss),
			AggregationKey: AggregationKey(address),
			AlertType:      "error",
			Tags:           a.Tags[address],
		})
	}
	return events
}

// AggregationKey returns the key that identifies failure events for the address.
func AggregationKey(address string) string {
	sum := md5.Sum([]byte(address))
	return hex.EncodeToString(sum[:])
}
