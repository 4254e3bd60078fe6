package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Serde encodes commit manifests and segment info documents. The name is
// recorded next to the encoded bytes so that readers select the same one.
// Implementations must be safe for concurrent use.
type Serde interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// GoJSON is backed by github.com/goccy/go-json.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }

// JSON is the standard library encoder. Its output is interchangeable with
// GoJSON.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return "json" }

// DefaultSerde is used for newly written manifests.
var DefaultSerde Serde = GoJSON{}

// SerdeByName returns a built-in Serde by its stable name.
func SerdeByName(name string) (Serde, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}
