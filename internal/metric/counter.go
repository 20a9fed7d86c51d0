package metric

// MaxCounterValue is the platform-wide saturation ceiling for counter and
// quantity metrics — the largest integer some host runtimes (JS SPA mode,
// §1) can represent exactly.
const MaxCounterValue = int64(1) << 53

// Counter is a monotonically increasing, saturating non-negative integer.
type Counter struct {
	Metadata
	Recorder
}

// Add increments the counter by amount. A negative amount is a user
// error (invalid_value) and does not modify storage. The sum saturates
// at MaxCounterValue instead of overflowing.
func (c Counter) Add(amount int64) {
	c.dispatchRecord(c.Metadata, func() error {
		if amount < 0 {
			c.fail(c.Metadata, ErrorInvalidValue)
			return nil
		}
		return c.Store.Transform(c.Metadata, func(current any) (any, error) {
			cur, _ := current.(int64)
			return SaturatingAdd(cur, amount), nil
		})
	})
}

// SaturatingAdd adds delta to cur, clamping at MaxCounterValue. Shared
// by Counter and the error manager's glean.error.* counters.
func SaturatingAdd(cur, delta int64) int64 {
	sum := cur + delta
	if sum > MaxCounterValue || sum < cur {
		return MaxCounterValue
	}
	return sum
}

type counterCodec struct{}

func (counterCodec) Decode(value any) (any, bool) {
	switch v := value.(type) {
	case int64:
		if v < 0 {
			return nil, false
		}
		return v, true
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return nil, false
		}
		return int64(v), true
	default:
		return nil, false
	}
}

func (counterCodec) Payload(internal any) any {
	return internal
}
