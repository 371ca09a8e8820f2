package resilience

import (
	"slices"
	"time"
)

const defaultLatencySamples = 100

// Stats é o snapshot exposto pelo endpoint de circuit breakers
type Stats struct {
	Name        string             `json:"name"`
	State       State              `json:"state"`
	Fires       int64              `json:"fires"`
	Successes   int64              `json:"successes"`
	Failures    int64              `json:"failures"`
	Rejects     int64              `json:"rejects"`
	Timeouts    int64              `json:"timeouts"`
	OpenedAt    *time.Time         `json:"openedAt,omitempty"`
	LatencyMean float64            `json:"latencyMean"`
	Percentiles map[string]float64 `json:"percentiles"`
}

var percentileKeys = []struct {
	key string
	q   float64
}{
	{"0.0", 0},
	{"0.5", 0.5},
	{"0.95", 0.95},
	{"0.99", 0.99},
	{"1.0", 1},
}

// latencyWindow guarda as últimas N latências em milissegundos
type latencyWindow struct {
	samples []float64
	next    int
	full    bool
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]float64, size)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.samples[w.next] = float64(d) / float64(time.Millisecond)
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *latencyWindow) values() []float64 {
	if w.full {
		return slices.Clone(w.samples)
	}
	return slices.Clone(w.samples[:w.next])
}

// summary retorna a média e os percentis (nearest-rank) em milissegundos
func (w *latencyWindow) summary() (float64, map[string]float64) {
	values := w.values()
	percentiles := make(map[string]float64, len(percentileKeys))
	if len(values) == 0 {
		for _, p := range percentileKeys {
			percentiles[p.key] = 0
		}
		return 0, percentiles
	}

	slices.Sort(values)

	var sum float64
	for _, v := range values {
		sum += v
	}

	for _, p := range percentileKeys {
		idx := int(p.q*float64(len(values)-1) + 0.5)
		percentiles[p.key] = values[idx]
	}
	return sum / float64(len(values)), percentiles
}
