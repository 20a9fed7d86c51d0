package metric

import "regexp"

// OtherLabel is the overflow bucket an invalid or excess label is
// recorded under instead of being dropped outright.
const OtherLabel = "__other__"

// MaxLabelLength bounds a label's length in runes.
const MaxLabelLength = 61

var labelShape = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

func validateLabel(label string) (string, bool) {
	if label == "" || len([]rune(label)) > MaxLabelLength || !labelShape.MatchString(label) {
		return OtherLabel, false
	}
	return label, true
}

// Labeled wraps another metric kind T, fanning a single (category, name)
// metric out into per-label instances of T. Invalid or overflowing
// labels are recorded as invalid_label and bucketed into OtherLabel
// rather than dropped.
type Labeled[T any] struct {
	Metadata
	Recorder
	New func(meta Metadata, rec Recorder) T
}

// Get returns the sub-metric for label, ready to record on.
func (l Labeled[T]) Get(label string) T {
	resolved, ok := validateLabel(label)
	if !ok && !l.Disabled {
		l.fail(l.Metadata, ErrorInvalidLabel)
	}
	meta := l.Metadata
	meta.IsLabeled = true
	meta.Label = resolved
	return l.New(meta, l.Recorder)
}
