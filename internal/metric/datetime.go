package metric

import (
	"fmt"
	"time"
)

// TimeUnit is the precision a Datetime value is truncated to before it
// appears in a payload.
type TimeUnit string

const (
	Nanosecond  TimeUnit = "nanosecond"
	Microsecond TimeUnit = "microsecond"
	Millisecond TimeUnit = "millisecond"
	Second      TimeUnit = "second"
	Minute      TimeUnit = "minute"
	Hour        TimeUnit = "hour"
	Day         TimeUnit = "day"
)

func (u TimeUnit) valid() bool {
	switch u {
	case Nanosecond, Microsecond, Millisecond, Second, Minute, Hour, Day:
		return true
	default:
		return false
	}
}

// datetimeValue is the internal representation of a Datetime metric:
// an instant, the precision it was recorded at, and the timezone offset
// (in minutes east of UTC) in effect when it was recorded.
type datetimeValue struct {
	UnixNano      int64    `json:"unix_nano"`
	Unit          TimeUnit `json:"unit"`
	OffsetMinutes int      `json:"offset_minutes"`
}

// Datetime records an instant at a configured precision, plus the local
// timezone offset in effect at recording time.
type Datetime struct {
	Metadata
	Recorder
	Unit TimeUnit
}

// Set records t. The instant and its zone offset are captured before the
// task is dispatched, so the recorded value does not depend on when the
// task runs.
func (d Datetime) Set(t time.Time) {
	unit := d.Unit
	_, offsetSeconds := t.Zone()
	value := datetimeValue{UnixNano: t.UnixNano(), Unit: unit, OffsetMinutes: offsetSeconds / 60}
	d.dispatchRecord(d.Metadata, func() error {
		if !unit.valid() {
			d.fail(d.Metadata, ErrorInvalidValue)
			return nil
		}
		return d.Store.Record(d.Metadata, value)
	})
}

type datetimeCodec struct{}

func (datetimeCodec) Decode(value any) (any, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	ns, ok := asInt64(m["unix_nano"])
	if !ok {
		return nil, false
	}
	unit, ok := m["unit"].(string)
	if !ok || !TimeUnit(unit).valid() {
		return nil, false
	}
	offset, ok := asInt64(m["offset_minutes"])
	if !ok {
		return nil, false
	}
	return datetimeValue{UnixNano: ns, Unit: TimeUnit(unit), OffsetMinutes: int(offset)}, true
}

func (datetimeCodec) Payload(internal any) any {
	v, ok := internal.(datetimeValue)
	if !ok {
		return nil
	}
	return formatDatetime(v)
}

// formatDatetime renders the value truncated to its recorded precision,
// e.g. "2026-08-02T00:00+00:00" for Minute precision.
func formatDatetime(v datetimeValue) string {
	t := time.Unix(0, v.UnixNano).UTC()
	offset := time.Duration(v.OffsetMinutes) * time.Minute
	local := t.Add(offset)
	layout := layoutFor(v.Unit)
	sign := "+"
	off := v.OffsetMinutes
	if off < 0 {
		sign = "-"
		off = -off
	}
	return fmt.Sprintf("%s%s%02d:%02d", local.Format(layout), sign, off/60, off%60)
}

func layoutFor(unit TimeUnit) string {
	switch unit {
	case Day:
		return "2006-01-02"
	case Hour:
		return "2006-01-02T15"
	case Minute:
		return "2006-01-02T15:04"
	case Second:
		return "2006-01-02T15:04:05"
	case Millisecond:
		return "2006-01-02T15:04:05.000"
	case Microsecond:
		return "2006-01-02T15:04:05.000000"
	default: // Nanosecond
		return "2006-01-02T15:04:05.000000000"
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
