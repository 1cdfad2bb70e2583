// Package histogram accumulates weighted query samples into self-normalised
// histograms. Weights are kept in log space.
package histogram

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	"relinfer/pkg/model"
	"relinfer/pkg/runs"
)

// Histogram is a weighted histogram over the values of one query.
type Histogram struct {
	width   float64
	weights map[model.Value]float64
	total   float64
	count   int
	zero    int
	mean    float64
	numeric bool
}

// New returns a histogram with one bin per distinct value.
func New() *Histogram {
	return &Histogram{weights: make(map[model.Value]float64), total: math.Inf(-1), numeric: true}
}

// NewBinned returns a histogram that buckets numeric values into bins of the
// given width, keyed by the lower edge. A non-positive width disables binning.
func NewBinned(width float64) *Histogram {
	h := New()
	if width > 0 {
		h.width = width
	}
	return h
}

func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	return floats.LogSumExp([]float64{a, b})
}

func (h *Histogram) key(v model.Value) model.Value {
	if h.width <= 0 {
		return v
	}
	if x, ok := model.Float(v); ok {
		return math.Floor(x/h.width) * h.width
	}
	return v
}

func numericValue(v model.Value) (float64, bool) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return model.Float(v)
}

// Add records one sample. Samples with zero weight are counted but carry no
// mass.
func (h *Histogram) Add(v model.Value, logWeight float64) {
	h.count++
	if math.IsInf(logWeight, -1) || math.IsNaN(logWeight) {
		h.zero++
		return
	}
	k := h.key(v)
	if prev, ok := h.weights[k]; ok {
		h.weights[k] = logAdd(prev, logWeight)
	} else {
		h.weights[k] = logWeight
	}
	h.total = logAdd(h.total, logWeight)

	x, ok := numericValue(v)
	if !ok {
		h.numeric = false
		return
	}
	h.mean += math.Exp(logWeight-h.total) * (x - h.mean)
}

// Count returns the number of samples added, including zero-weight ones.
func (h *Histogram) Count() int { return h.count }

// ZeroWeight returns the number of samples that carried no mass.
func (h *Histogram) ZeroWeight() int { return h.zero }

// TotalLogWeight returns the log of the summed sample weights.
func (h *Histogram) TotalLogWeight() float64 { return h.total }

// Probability returns the normalised probability of v's bin.
func (h *Histogram) Probability(v model.Value) float64 {
	lw, ok := h.weights[h.key(v)]
	if !ok || math.IsInf(h.total, -1) {
		return 0
	}
	return math.Exp(lw - h.total)
}

// Mean returns the weighted mean when every value was numeric or bool.
func (h *Histogram) Mean() (float64, bool) {
	if !h.numeric || math.IsInf(h.total, -1) {
		return 0, false
	}
	return h.mean, true
}

// Entry is one bin of the histogram.
type Entry struct {
	Value       model.Value
	LogWeight   float64
	Probability float64
}

// Entries returns the bins ordered by value.
func (h *Histogram) Entries() []Entry {
	out := make([]Entry, 0, len(h.weights))
	for v, lw := range h.weights {
		out = append(out, Entry{Value: v, LogWeight: lw, Probability: math.Exp(lw - h.total)})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Value, out[j].Value) })
	return out
}

func less(a, b model.Value) bool {
	x, okA := numericValue(a)
	y, okB := numericValue(b)
	if okA && okB && x != y {
		return x < y
	}
	return model.FormatValue(a) < model.FormatValue(b)
}

// Snapshot converts the histogram to its persisted form. Values that cannot
// be encoded are skipped.
func (h *Histogram) Snapshot(query model.VarID) runs.QueryResult {
	res := runs.QueryResult{Query: query, Samples: h.count, TotalLogWeight: h.total}
	for _, e := range h.Entries() {
		enc, err := model.EncodeValue(e.Value)
		if err != nil {
			continue
		}
		res.Bins = append(res.Bins, runs.Bin{Value: enc, Probability: e.Probability, LogWeight: e.LogWeight})
	}
	if m, ok := h.Mean(); ok {
		res.Mean = &m
	}
	return res
}

// Set holds one histogram per query and is safe for concurrent use.
type Set struct {
	mu      sync.Mutex
	width   map[model.VarID]float64
	queries []model.VarID
	hists   map[model.VarID]*Histogram
}

// NewSet creates histograms for the given queries, in order.
func NewSet(queries ...model.VarID) *Set {
	s := &Set{width: make(map[model.VarID]float64), hists: make(map[model.VarID]*Histogram)}
	for _, q := range queries {
		s.ensure(q)
	}
	return s
}

// Bin sets the bucket width of query's histogram. It must be called before
// samples for the query are added.
func (s *Set) Bin(query model.VarID, width float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width[query] = width
	if h, ok := s.hists[query]; ok && h.count == 0 {
		s.hists[query] = NewBinned(width)
	}
}

func (s *Set) ensure(q model.VarID) *Histogram {
	if h, ok := s.hists[q]; ok {
		return h
	}
	h := NewBinned(s.width[q])
	s.hists[q] = h
	s.queries = append(s.queries, q)
	return h
}

// Add records a sample of query.
func (s *Set) Add(query model.VarID, v model.Value, logWeight float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(query).Add(v, logWeight)
}

// Histogram returns the histogram of query.
func (s *Set) Histogram(query model.VarID) (*Histogram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hists[query]
	return h, ok
}

// Results snapshots every histogram in query order.
func (s *Set) Results() []runs.QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]runs.QueryResult, 0, len(s.queries))
	for _, q := range s.queries {
		out = append(out, s.hists[q].Snapshot(q))
	}
	return out
}
