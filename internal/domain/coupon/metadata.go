package coupon

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Metadata is an opaque JSON object. Values are kept as raw JSON and echoed
// back unchanged.
type Metadata map[string]jx.Raw

// Merge returns a copy of m with the keys of other applied on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Decode reads a JSON object into m. Null decodes to an empty map.
func (m *Metadata) Decode(d *jx.Decoder) error {
	if d.Next() == jx.Null {
		*m = Metadata{}
		return d.Null()
	}
	if d.Next() != jx.Object {
		return errors.Errorf("metadata: expected object, got %s", d.Next())
	}
	out := Metadata{}
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		// Raw references the decoder buffer.
		out[key] = append(jx.Raw(nil), raw...)
		return nil
	}); err != nil {
		return errors.Wrap(err, "metadata")
	}
	*m = out
	return nil
}

// Encode writes m as a JSON object with keys in sorted order. A nil map is
// written as {}.
func (m Metadata) Encode(e *jx.Encoder) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.ObjStart()
	for _, k := range keys {
		e.FieldStart(k)
		e.Raw(m[k])
	}
	e.ObjEnd()
}

// DecodeMetadata parses a JSON object. Empty input yields an empty map.
func DecodeMetadata(data []byte) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, nil
	}
	var m Metadata
	if err := m.Decode(jx.DecodeBytes(data)); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeMetadata returns m as JSON bytes.
func EncodeMetadata(m Metadata) []byte {
	var e jx.Encoder
	m.Encode(&e)
	return e.Bytes()
}
