package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDatetime_Set(t *testing.T) {
	store := newMemStore()
	meta := testMeta(KindDatetime)
	d := Datetime{Metadata: meta, Recorder: newRecorder(store, nil), Unit: Minute}

	loc := time.FixedZone("UTC+2", 2*60*60)
	when := time.Date(2026, 8, 2, 10, 30, 15, 0, loc)
	d.Set(when)

	v, ok := store.get(meta)
	require.True(t, ok)
	dv := v.(datetimeValue)
	require.Equal(t, Minute, dv.Unit)
	require.Equal(t, 120, dv.OffsetMinutes)
}

func TestDatetime_FormatDatetime_TruncatesToPrecision(t *testing.T) {
	when := time.Date(2026, 8, 2, 10, 30, 15, 0, time.UTC)
	v := datetimeValue{UnixNano: when.UnixNano(), Unit: Minute, OffsetMinutes: 0}
	require.Equal(t, "2026-08-02T10:30+00:00", formatDatetime(v))
}

func TestDatetime_FormatDatetime_NegativeOffset(t *testing.T) {
	when := time.Date(2026, 8, 2, 10, 30, 15, 0, time.UTC)
	v := datetimeValue{UnixNano: when.UnixNano(), Unit: Day, OffsetMinutes: -300}
	require.Equal(t, "2026-08-02-05:00", formatDatetime(v))
}

func TestDatetime_Codec_RejectsUnknownUnit(t *testing.T) {
	codec := datetimeCodec{}
	_, ok := codec.Decode(map[string]any{
		"unix_nano":      float64(1000),
		"unit":           "fortnight",
		"offset_minutes": float64(0),
	})
	require.False(t, ok)
}
