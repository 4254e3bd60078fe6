package veccodec

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/flat"
	"github.com/hupe1980/veccodec/codec/sq"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/quantization"
)

// manifest is the content of a commit point. It is encoded as the serde
// name, a newline and the serde output.
type manifest struct {
	Flat        flatInfo        `json:"flat"`
	Fields      []fieldRecord   `json:"fields"`
	Segments    []segmentRecord `json:"segments"`
	NextSegment int64           `json:"next_segment"`
}

type flatInfo struct {
	Name string `json:"name"`
	Bits uint8  `json:"bits,omitempty"`
}

type fieldRecord struct {
	Name       string `json:"name"`
	Number     int    `json:"number"`
	Dimension  int    `json:"dimension"`
	Encoding   uint8  `json:"encoding"`
	Similarity uint8  `json:"similarity"`
}

type segmentRecord struct {
	Name   string `json:"name"`
	MaxDoc int    `json:"max_doc"`
	// Deleted is the portable roaring serialization of deleted documents.
	Deleted []byte `json:"deleted,omitempty"`
}

func describeFlat(f codec.FlatFormat) (flatInfo, error) {
	switch t := f.(type) {
	case nil:
		return flatInfo{Name: flat.Name}, nil
	case flat.Format:
		return flatInfo{Name: flat.Name}, nil
	case sq.Format:
		bits := t.Bits
		if bits == 0 {
			bits = quantization.DefaultBits
		}
		return flatInfo{Name: sq.Name, Bits: bits}, nil
	default:
		return flatInfo{}, fmt.Errorf("veccodec: unsupported flat format %s", f.Name())
	}
}

func toRecord(fi codec.FieldInfo) fieldRecord {
	return fieldRecord{
		Name:       fi.Name,
		Number:     fi.Number,
		Dimension:  fi.Dimension,
		Encoding:   uint8(fi.Encoding),
		Similarity: uint8(fi.Similarity),
	}
}

func (r fieldRecord) fieldInfo() codec.FieldInfo {
	return codec.FieldInfo{
		Name:       r.Name,
		Number:     r.Number,
		Dimension:  r.Dimension,
		Encoding:   distance.Encoding(r.Encoding),
		Similarity: distance.Similarity(r.Similarity),
	}
}

func encodeManifest(s codec.Serde, m *manifest) ([]byte, error) {
	body, err := s.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(s.Name())+1+len(body))
	out = append(out, s.Name()...)
	out = append(out, '\n')
	return append(out, body...), nil
}

func decodeManifest(gen uint64, data []byte) (*manifest, error) {
	name, body, ok := bytes.Cut(data, []byte{'\n'})
	if !ok {
		return nil, &ErrCorruptManifest{Generation: gen, cause: fmt.Errorf("missing serde name")}
	}
	s, ok := codec.SerdeByName(string(name))
	if !ok {
		return nil, &ErrCorruptManifest{Generation: gen, cause: fmt.Errorf("unknown serde %q", name)}
	}
	m := &manifest{}
	if err := s.Unmarshal(body, m); err != nil {
		return nil, &ErrCorruptManifest{Generation: gen, cause: err}
	}
	for _, r := range m.Fields {
		if err := r.fieldInfo().Validate(); err != nil {
			return nil, &ErrCorruptManifest{Generation: gen, cause: err}
		}
	}
	return m, nil
}

func marshalDeleted(deleted *roaring.Bitmap) ([]byte, error) {
	if deleted == nil || deleted.IsEmpty() {
		return nil, nil
	}
	return deleted.ToBytes()
}

func unmarshalDeleted(data []byte) (*roaring.Bitmap, error) {
	if len(data) == 0 {
		return nil, nil
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return bm, nil
}
