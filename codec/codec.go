// Package codec implements C2: schema-unaware serialization of a value to
// and from bytes. The Schema layer (package eventtype) wraps a Codec with
// validation; Codec itself knows nothing about Schema.
package codec

import "github.com/goccy/go-json"

// Codec serializes and deserializes arbitrary structured values. The
// default implementation (JSON) is grounded on the teacher's own pervasive
// use of structured JSON for event payloads (internal/schema/store.go,
// internal/common/models.go), using github.com/goccy/go-json rather than
// encoding/json — a drop-in, faster replacement pulled from
// coachpo-meltica-gateway's dependency surface.
type Codec interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte) (interface{}, error)
}

type jsonCodec struct{}

// JSON returns the default Codec: a human-readable structured text
// encoding, exactly as spec §4.2 prescribes.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Serialize(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Deserialize(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// normalize recursively converts json.Unmarshal's map[string]interface{}
// output into the shape Schema.Validate expects unchanged (goccy/go-json
// already decodes objects as map[string]interface{} and arrays as
// []interface{} and numbers as float64, matching schema's Validate
// assumptions exactly, so normalize is the identity — kept as an explicit
// seam so a future Codec backed by a different decoder has one place to
// reconcile numeric/map representations).
func normalize(v interface{}) interface{} { return v }
