package metric

// Codec validates a persisted value for one Kind and projects the
// internal representation to its external payload form. The registry
// below is the tagged-variant decoder called for in this module's design
// notes: a closed set of constructors keyed by kind string, registered
// once at package init, replacing the source's dynamic-construction-from-
// a-process-wide-map approach.
type Codec interface {
	// Decode validates value (already JSON-round-tripped from storage)
	// and returns the canonical internal representation. ok is false if
	// value is not a valid instance of this kind — the caller must then
	// delete the offending leaf (§4.3's tolerance for storage corruption).
	Decode(value any) (internal any, ok bool)
	// Payload projects the internal representation to the value that
	// appears in an outgoing ping.
	Payload(internal any) any
}

var codecs = map[Kind]Codec{}

func registerCodec(k Kind, c Codec) {
	codecs[k] = c
}

// CodecFor returns the registered Codec for k, or nil if k is unknown.
func CodecFor(k Kind) Codec {
	return codecs[k]
}

func init() {
	registerCodec(KindBoolean, booleanCodec{})
	registerCodec(KindCounter, counterCodec{})
	registerCodec(KindQuantity, quantityCodec{})
	registerCodec(KindString, stringCodec{})
	registerCodec(KindDatetime, datetimeCodec{})
	registerCodec(KindUUID, uuidCodec{})
	registerCodec(KindEvent, eventCodec{})
	registerCodec(KindTimingDistribution, histogramCodec{kind: KindTimingDistribution})
	registerCodec(KindCustomDistribution, histogramCodec{kind: KindCustomDistribution})
	// KindLabeled has no codec of its own: a labeled metric's stored
	// payload is a map of label -> the wrapped kind's payload, decoded
	// entry by entry using the wrapped kind's codec (see labeled.go).
}
