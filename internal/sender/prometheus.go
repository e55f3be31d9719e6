package sender

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/maps"
)

var _ Sender = &Prometheus{}
var _ prometheus.Collector = &Prometheus{}

// DefaultBuckets are the histogram buckets, in milliseconds.
var DefaultBuckets = prometheus.ExponentialBuckets(0.25, 2, 12)

// DefaultMaxEvents is the number of events kept for Events.
const DefaultMaxEvents = 100

var (
	eventsMetric = prometheus.NewDesc(
		prometheus.BuildFQName("smokeping", "", "events_total"),
		"Total number of failure events",
		[]string{"aggregation_key"},
		nil,
	)
	observationsMetric = prometheus.NewDesc(
		prometheus.BuildFQName("smokeping", "", "observations_total"),
		"Total number of probe observations",
		nil,
		nil,
	)
)

// Prometheus is a Sender that exports the submitted counters & histograms as Prometheus metrics.
// Counters are never reset: each Increment adds to the lifetime value of the series.
//
// Tags become labels. Since the tag keys may differ between series of the same metric, every series
// of a metric is exported with the union of the label names. Missing labels are left empty.
type Prometheus struct {
	Logger    *slog.Logger
	Buckets   []float64
	MaxEvents int

	lock         sync.Mutex
	counters     map[string]map[string]*counterSeries
	histograms   map[string]map[string]*histogramSeries
	events       []Event
	eventCounts  map[string]int
	observations int
}

type counterSeries struct {
	labels map[string]string
	value  float64
}

type histogramSeries struct {
	labels  map[string]string
	count   uint64
	sum     float64
	buckets map[float64]uint64
}

// NewPrometheus returns a Prometheus sender with the default buckets.
func NewPrometheus(logger *slog.Logger) *Prometheus {
	return &Prometheus{
		Logger:    logger,
		Buckets:   DefaultBuckets,
		MaxEvents: DefaultMaxEvents,
	}
}

// Increment adds value to the counter identified by name and tags.
func (p *Prometheus) Increment(name string, value float64, tags []string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.counters == nil {
		p.counters = make(map[string]map[string]*counterSeries)
	}
	family, ok := p.counters[name]
	if !ok {
		family = make(map[string]*counterSeries)
		p.counters[name] = family
	}
	key, labels := seriesKey(tags)
	series, ok := family[key]
	if !ok {
		series = &counterSeries{labels: labels}
		family[key] = series
	}
	series.value += value
}

// Histogram records one observation in the histogram identified by name and tags.
func (p *Prometheus) Histogram(name string, value float64, tags []string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.histograms == nil {
		p.histograms = make(map[string]map[string]*histogramSeries)
	}
	family, ok := p.histograms[name]
	if !ok {
		family = make(map[string]*histogramSeries)
		p.histograms[name] = family
	}
	key, labels := seriesKey(tags)
	series, ok := family[key]
	if !ok {
		series = &histogramSeries{labels: labels, buckets: make(map[float64]uint64, len(p.buckets()))}
		for _, upperBound := range p.buckets() {
			series.buckets[upperBound] = 0
		}
		family[key] = series
	}
	series.count++
	series.sum += value
	for upperBound := range series.buckets {
		if value <= upperBound {
			series.buckets[upperBound]++
		}
	}
}

// Event logs the event and keeps it for Events.
func (p *Prometheus) Event(event Event) {
	p.logger().Warn(event.Title, "text", event.Text, "aggregation_key", event.AggregationKey, "timestamp", event.Timestamp)

	p.lock.Lock()
	defer p.lock.Unlock()
	if p.eventCounts == nil {
		p.eventCounts = make(map[string]int)
	}
	p.eventCounts[event.AggregationKey]++
	p.events = append(p.events, event)
	if maxEvents := p.maxEvents(); len(p.events) > maxEvents {
		p.events = slices.Clone(p.events[len(p.events)-maxEvents:])
	}
}

// RollUpMetadata counts one probe observation.
func (p *Prometheus) RollUpMetadata() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.observations++
}

// Events returns the most recent events, oldest first.
func (p *Prometheus) Events() []Event {
	p.lock.Lock()
	defer p.lock.Unlock()
	return slices.Clone(p.events)
}

// Describe implements the prometheus.Collector interface. Metric names are only known once the check submits them,
// so Prometheus is registered as an unchecked collector.
func (p *Prometheus) Describe(_ chan<- *prometheus.Desc) {
}

// Collect implements the prometheus.Collector interface.
func (p *Prometheus) Collect(ch chan<- prometheus.Metric) {
	p.lock.Lock()
	defer p.lock.Unlock()

	for name, family := range p.counters {
		labelNames := unionLabelNames(maps.Values(family), func(s *counterSeries) map[string]string { return s.labels })
		desc := prometheus.NewDesc(sanitize(name), "Counter "+strings.ToValidUTF8(name, "\uFFFD"), labelNames, nil)
		for _, series := range family {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, series.value, labelValues(labelNames, series.labels)...)
		}
	}
	for name, family := range p.histograms {
		labelNames := unionLabelNames(maps.Values(family), func(s *histogramSeries) map[string]string { return s.labels })
		desc := prometheus.NewDesc(sanitize(name), "Histogram "+strings.ToValidUTF8(name, "\uFFFD"), labelNames, nil)
		for _, series := range family {
			ch <- prometheus.MustNewConstHistogram(desc, series.count, series.sum, maps.Clone(series.buckets), labelValues(labelNames, series.labels)...)
		}
	}
	for key, count := range p.eventCounts {
		ch <- prometheus.MustNewConstMetric(eventsMetric, prometheus.CounterValue, float64(count), key)
	}
	ch <- prometheus.MustNewConstMetric(observationsMetric, prometheus.CounterValue, float64(p.observations))
}

func (p *Prometheus) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Prometheus) buckets() []float64 {
	if len(p.Buckets) == 0 {
		return DefaultBuckets
	}
	return p.Buckets
}

func (p *Prometheus) maxEvents() int {
	if p.MaxEvents <= 0 {
		return DefaultMaxEvents
	}
	return p.MaxEvents
}

// seriesKey converts the tags into a label set and a key that identifies that set, regardless of the order of the tags.
func seriesKey(tags []string) (string, map[string]string) {
	labels := make(map[string]string, len(tags))
	for _, tag := range tags {
		key, value, _ := strings.Cut(tag, ":")
		if key = sanitize(key); key != "" {
			labels[key] = strings.ToValidUTF8(value, "\uFFFD")
		}
	}
	keys := maps.Keys(labels)
	slices.Sort(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(labels[key])
		b.WriteByte(',')
	}
	return b.String(), labels
}

func unionLabelNames[T any](series []T, labels func(T) map[string]string) []string {
	names := make(map[string]struct{})
	for _, s := range series {
		for name := range labels(s) {
			names[name] = struct{}{}
		}
	}
	result := maps.Keys(names)
	slices.Sort(result)
	return result
}

func labelValues(names []string, labels map[string]string) []string {
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = labels[name]
	}
	return values
}

// sanitize turns name into a valid Prometheus metric or label name: invalid characters become underscores, a
// leading digit gets an underscore prefix and the reserved "__" prefix is removed.
func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			return r
		case r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	for strings.HasPrefix(name, "__") {
		name = name[2:]
	}
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}
