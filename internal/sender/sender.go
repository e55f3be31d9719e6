// Package sender receives the metrics and events produced by a check.
package sender

// Sender is the interface a check uses to submit its results. Tags are "key:value" strings.
type Sender interface {
	Increment(name string, value float64, tags []string)
	Histogram(name string, value float64, tags []string)
	Event(Event)
	RollUpMetadata()
}

// Event reports a failure. Events with the same AggregationKey describe the same problem and may be collapsed downstream.
type Event struct {
	Timestamp      int64    `json:"timestamp"`
	EventType      string   `json:"event_type"`
	Title          string   `json:"msg_title"`
	Text           string   `json:"msg_text"`
	AggregationKey string   `json:"aggregation_key"`
	AlertType      string   `json:"alert_type,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}
