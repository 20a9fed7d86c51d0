package metric

import "regexp"

// uuidShape is a loose UUID-shape check (§3) — it accepts anything that
// looks like a UUID rather than strictly validating RFC 4122 version/
// variant bits, matching the source's permissive validator.
var uuidShape = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// UUID is a UUID-shaped string measurement.
type UUID struct {
	Metadata
	Recorder
}

// Set records value if it matches the loose UUID shape. Otherwise it
// records invalid_value and does not persist anything.
func (u UUID) Set(value string) {
	u.dispatchRecord(u.Metadata, func() error {
		if !uuidShape.MatchString(value) {
			u.fail(u.Metadata, ErrorInvalidValue)
			return nil
		}
		return u.Store.Record(u.Metadata, value)
	})
}

// GenerateAndSet generates a fresh random UUID v4, records it, and returns
// the value recorded — used for client_id-style metrics.
func (u UUID) GenerateAndSet(newUUID func() string) string {
	v := newUUID()
	u.Set(v)
	return v
}

type uuidCodec struct{}

func (uuidCodec) Decode(value any) (any, bool) {
	v, ok := value.(string)
	if !ok || !uuidShape.MatchString(v) {
		return nil, false
	}
	return v, true
}

func (uuidCodec) Payload(internal any) any {
	return internal
}
