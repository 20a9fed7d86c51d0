// Package metric implements the typed metric kernel: metric identity,
// validation, the payload projection, and the closed set of metric kinds
// (§3-4.1 of this module's metric model).
package metric

// Kind is the closed set of metric kinds this module understands. New
// kinds are added by extending this set and registering a Codec for them
// in init, never by dynamically constructing a type from a persisted
// string (see DESIGN.md's note on the tagged-variant decoder).
type Kind string

const (
	KindBoolean            Kind = "boolean"
	KindCounter            Kind = "counter"
	KindQuantity           Kind = "quantity"
	KindString             Kind = "string"
	KindDatetime           Kind = "datetime"
	KindUUID               Kind = "uuid"
	KindEvent              Kind = "event"
	KindLabeled            Kind = "labeled"
	KindTimingDistribution Kind = "timing_distribution"
	KindCustomDistribution Kind = "custom_distribution"
)

// Lifetime is a metric's storage retention policy.
type Lifetime string

const (
	LifetimePing        Lifetime = "ping"
	LifetimeUser        Lifetime = "user"
	LifetimeApplication Lifetime = "application"
)

// ReservedPrefix marks internal metric identifiers. Metrics whose
// identifier starts with this prefix are never unfolded into an outgoing
// ping payload by the metrics database (§4.3/§9 — codified here in the
// kernel rather than the database layer, per design note).
const ReservedPrefix = "glean_internal_"

// IsReserved reports whether id is an internal identifier hidden from
// ping payloads.
func IsReserved(id string) bool {
	return len(id) >= len(ReservedPrefix) && id[:len(ReservedPrefix)] == ReservedPrefix
}

// Metadata identifies a metric and carries its recording policy. It is
// embedded by every concrete metric type (Boolean, Counter, ...).
type Metadata struct {
	Category    string
	Name        string
	Kind        Kind
	Lifetime    Lifetime
	SendInPings []string
	Disabled    bool

	// IsLabeled and Label are set when this Metadata identifies one
	// label bucket of a Labeled wrapper. Kind is always the *wrapped*
	// kind in that case — the metrics database unfolds entries whose
	// IsLabeled is true into a "labeled_<kind>" payload bucket (§4.3).
	IsLabeled bool
	Label     string
}

// Identifier returns the canonical "category.name" identifier, eliding
// the dot when Category is empty.
func (m Metadata) Identifier() string {
	if m.Category == "" {
		return m.Name
	}
	return m.Category + "." + m.Name
}
