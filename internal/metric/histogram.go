package metric

import (
	"math"
	"sort"
	"strconv"
)

func formatBucketKey(idx int64) string {
	return strconv.FormatInt(idx, 10)
}

func parseBucketKey(key string) (int64, bool) {
	v, err := strconv.ParseInt(key, 10, 64)
	return v, err == nil
}

// HistogramValue is the internal representation shared by both
// distribution kinds: a sparse bucket-index -> count map, plus the
// running sum and sample count needed to compute statistics at payload
// time. Storing the sparse map (rather than a reconstructed structure)
// matches the source's persisted form; reconstruction re-accumulates on
// every read (§9 — acceptable at this scale, per design note).
type HistogramValue struct {
	Buckets map[int64]int64 `json:"buckets"`
	Sum     int64           `json:"sum"`
	Count   int64           `json:"count"`
}

// ExponentialEdges precomputes bucket edges by logarithmic interpolation
// between min and max, rounding each step forward by at least +1 so two
// adjacent edges are never equal. Edges are strictly non-decreasing and
// cover [0, max] (§3).
func ExponentialEdges(min, max int64, bucketCount int) []int64 {
	if bucketCount < 1 {
		bucketCount = 1
	}
	if min < 1 {
		min = 1
	}
	edges := make([]int64, 0, bucketCount+1)
	edges = append(edges, 0)
	logMin := math.Log(float64(min))
	logMax := math.Log(float64(max))
	prev := int64(0)
	for i := 0; i < bucketCount; i++ {
		frac := float64(i) / float64(bucketCount-1)
		if bucketCount == 1 {
			frac = 1
		}
		v := int64(math.Exp(logMin + frac*(logMax-logMin)))
		if v <= prev {
			v = prev + 1
		}
		edges = append(edges, v)
		prev = v
	}
	if edges[len(edges)-1] < max {
		edges[len(edges)-1] = max
	}
	return edges
}

// BucketIndexForEdges places sample using binary search over strictly
// non-decreasing edges, returning the index of the first edge >= sample.
func BucketIndexForEdges(edges []int64, sample int64) int {
	return sort.Search(len(edges), func(i int) bool { return edges[i] >= sample })
}

// FunctionalBucketIndex computes the implicit log-linear bucket a sample
// falls into without precomputed edges — used by custom-distribution.
// base and the 8-subdivisions-per-power-of-two scheme mirror the
// functional-histogram approach described in §3.
func FunctionalBucketIndex(sample int64) int64 {
	if sample < 1 {
		return 0
	}
	const subdivisions = 8.0
	return int64(math.Floor(subdivisions * math.Log2(float64(sample))))
}

// histogramRecorder is embedded by TimingDistribution and
// CustomDistribution; the two differ only in how a raw sample maps to a
// bucket index (precomputed exponential edges vs. functional).
type histogramRecorder struct {
	Metadata
	Recorder
	bucketIndex func(sample int64) int64
}

func (h histogramRecorder) accumulate(sample int64) {
	h.dispatchRecord(h.Metadata, func() error {
		if sample < 0 {
			h.fail(h.Metadata, ErrorInvalidValue)
			return nil
		}
		idx := h.bucketIndex(sample)
		return h.Store.Transform(h.Metadata, func(current any) (any, error) {
			hv, ok := current.(HistogramValue)
			if !ok {
				hv = HistogramValue{Buckets: map[int64]int64{}}
			} else {
				// Copy so concurrent readers of the previous value
				// (e.g. a ping snapshot taken moments ago) are unaffected.
				copied := make(map[int64]int64, len(hv.Buckets))
				for k, v := range hv.Buckets {
					copied[k] = v
				}
				hv.Buckets = copied
			}
			hv.Buckets[idx]++
			hv.Sum += sample
			hv.Count++
			return hv, nil
		})
	})
}

// TimingDistribution accumulates duration samples (nanoseconds) into
// precomputed exponential buckets.
type TimingDistribution struct {
	histogramRecorder
	Edges []int64
}

// NewTimingDistribution builds a TimingDistribution whose buckets are the
// exponential edges between min and max.
func NewTimingDistribution(meta Metadata, rec Recorder, min, max int64, bucketCount int) TimingDistribution {
	edges := ExponentialEdges(min, max, bucketCount)
	return TimingDistribution{
		histogramRecorder: histogramRecorder{
			Metadata: meta,
			Recorder: rec,
			bucketIndex: func(sample int64) int64 {
				return int64(BucketIndexForEdges(edges, sample))
			},
		},
		Edges: edges,
	}
}

// AccumulateNanos records a single duration sample in nanoseconds.
func (t TimingDistribution) AccumulateNanos(ns int64) {
	t.accumulate(ns)
}

// CustomDistribution accumulates arbitrary integer samples into an
// implicit log-linear (functional) bucketing scheme.
type CustomDistribution struct {
	histogramRecorder
}

// NewCustomDistribution builds a CustomDistribution.
func NewCustomDistribution(meta Metadata, rec Recorder) CustomDistribution {
	return CustomDistribution{histogramRecorder: histogramRecorder{
		Metadata:    meta,
		Recorder:    rec,
		bucketIndex: FunctionalBucketIndex,
	}}
}

// Accumulate records a single sample.
func (c CustomDistribution) Accumulate(sample int64) {
	c.accumulate(sample)
}

// HistogramPayload is the wire projection of a HistogramValue: a sparse
// map from bucket index (as a decimal string) to count, holding only the
// buckets that received samples, plus summary statistics.
type HistogramPayload struct {
	Values map[string]int64 `json:"values"`
	Sum    int64            `json:"sum"`
	Count  int64            `json:"count"`
}

type histogramCodec struct {
	kind Kind
}

func (histogramCodec) Decode(value any) (any, bool) {
	switch v := value.(type) {
	case HistogramValue:
		return v, true
	case map[string]any:
		buckets := map[int64]int64{}
		rawBuckets, _ := v["buckets"].(map[string]any)
		for k, cnt := range rawBuckets {
			idx, ok := parseBucketKey(k)
			c, cok := asInt64(cnt)
			if !ok || !cok {
				return nil, false
			}
			buckets[idx] = c
		}
		sum, sumOK := asInt64(v["sum"])
		count, countOK := asInt64(v["count"])
		if !sumOK || !countOK {
			return nil, false
		}
		return HistogramValue{Buckets: buckets, Sum: sum, Count: count}, true
	default:
		return nil, false
	}
}

func (histogramCodec) Payload(internal any) any {
	hv, ok := internal.(HistogramValue)
	if !ok {
		return nil
	}
	values := make(map[string]int64, len(hv.Buckets))
	for idx, count := range hv.Buckets {
		values[formatBucketKey(idx)] = count
	}
	return HistogramPayload{Values: values, Sum: hv.Sum, Count: hv.Count}
}
