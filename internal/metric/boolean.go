package metric

// Boolean is a true/false measurement. It never fails validation — any
// Go bool is a valid instance.
type Boolean struct {
	Metadata
	Recorder
}

// Set records value.
func (b Boolean) Set(value bool) {
	b.dispatchRecord(b.Metadata, func() error {
		return b.Store.Record(b.Metadata, value)
	})
}

type booleanCodec struct{}

func (booleanCodec) Decode(value any) (any, bool) {
	v, ok := value.(bool)
	return v, ok
}

func (booleanCodec) Payload(internal any) any {
	return internal
}
