package sender

import (
	"slices"
	"sync"
)

var _ Sender = &Recorder{}

// Measurement is one Increment or Histogram call received by a Recorder.
type Measurement struct {
	Name  string
	Value float64
	Tags  []string
}

// Recorder is a Sender that keeps every call in memory.
type Recorder struct {
	lock       sync.Mutex
	increments []Measurement
	histograms []Measurement
	events     []Event
	rollUps    int
}

func (r *Recorder) Increment(name string, value float64, tags []string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.increments = append(r.increments, Measurement{Name: name, Value: value, Tags: slices.Clone(tags)})
}

func (r *Recorder) Histogram(name string, value float64, tags []string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.histograms = append(r.histograms, Measurement{Name: name, Value: value, Tags: slices.Clone(tags)})
}

func (r *Recorder) Event(event Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) RollUpMetadata() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.rollUps++
}

func (r *Recorder) Increments() []Measurement {
	r.lock.Lock()
	defer r.lock.Unlock()
	return slices.Clone(r.increments)
}

func (r *Recorder) Histograms() []Measurement {
	r.lock.Lock()
	defer r.lock.Unlock()
	return slices.Clone(r.histograms)
}

func (r *Recorder) Events() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return slices.Clone(r.events)
}

func (r *Recorder) RollUps() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.rollUps
}

// Total returns the sum of all increments for the metric that carry the tag.
// If tag is blank, all increments for the metric are added.
func (r *Recorder) Total(name, tag string) float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	var total float64
	for _, m := range r.increments {
		if m.Name == name && (tag == "" || slices.Contains(m.Tags, tag)) {
			total += m.Value
		}
	}
	return total
}

// Count returns the number of calls received for the metric that carry the tag.
func (r *Recorder) Count(name, tag string) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	var count int
	for _, list := range [][]Measurement{r.increments, r.histograms} {
		for _, m := range list {
			if m.Name == name && (tag == "" || slices.Contains(m.Tags, tag)) {
				count++
			}
		}
	}
	return count
}
