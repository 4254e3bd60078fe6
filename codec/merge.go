package codec

import (
	"cmp"
	"context"
	"slices"

	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/vectors"
)

// MergedOrd locates one live vector of a merge input.
type MergedOrd struct {
	Segment int
	Ord     int
	doc     int
}

// MergeOrder lists the live vectors of the merge inputs in new document
// order. The i-th entry becomes ordinal i of the merged field.
type MergeOrder struct {
	Ords []MergedOrd
	Docs *vectors.DocsWithFieldSet
}

// BuildMergeOrder maps every vector through its segment's DocMap, drops
// deleted documents and sorts the rest by new document id.
func BuildMergeOrder(ctx context.Context, values []vectors.KnnVectorValues, maps []DocMap) (*MergeOrder, error) {
	var ords []MergedOrd
	for seg, v := range values {
		for ord := range v.Size() {
			if ord%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			doc := maps[seg](v.OrdToDoc(ord))
			if doc < 0 {
				continue
			}
			ords = append(ords, MergedOrd{Segment: seg, Ord: ord, doc: doc})
		}
	}
	slices.SortFunc(ords, func(a, b MergedOrd) int { return cmp.Compare(a.doc, b.doc) })

	docs := vectors.NewDocsWithFieldSet()
	for _, o := range ords {
		if err := docs.Add(o.doc); err != nil {
			return nil, err
		}
	}
	return &MergeOrder{Ords: ords, Docs: docs}, nil
}

// MergedFloatValues presents the float vectors of several segments in
// merged ordinal order.
type MergedFloatValues struct {
	inputs []vectors.FloatVectorValues
	order  *MergeOrder
	dim    int
}

var _ vectors.FloatVectorValues = (*MergedFloatValues)(nil)

// NewMergedFloatValues creates the merged view. Every input is read through
// its own cursor.
func NewMergedFloatValues(dim int, inputs []vectors.FloatVectorValues, order *MergeOrder) *MergedFloatValues {
	return &MergedFloatValues{inputs: inputs, order: order, dim: dim}
}

func (m *MergedFloatValues) Dimension() int              { return m.dim }
func (m *MergedFloatValues) Size() int                   { return len(m.order.Ords) }
func (m *MergedFloatValues) Encoding() distance.Encoding { return distance.Float32 }
func (m *MergedFloatValues) OrdToDoc(ord int) int        { return m.order.Docs.OrdToDoc(ord) }

func (m *MergedFloatValues) VectorValue(ord int) ([]float32, error) {
	if ord < 0 || ord >= len(m.order.Ords) {
		return nil, vectors.ErrOrdOutOfRange
	}
	o := m.order.Ords[ord]
	return m.inputs[o.Segment].VectorValue(o.Ord)
}

func (m *MergedFloatValues) Copy() (vectors.FloatVectorValues, error) {
	inputs := make([]vectors.FloatVectorValues, len(m.inputs))
	for i, in := range m.inputs {
		cp, err := in.Copy()
		if err != nil {
			return nil, err
		}
		inputs[i] = cp
	}
	return &MergedFloatValues{inputs: inputs, order: m.order, dim: m.dim}, nil
}

// OldToNew maps the ordinals of input segment, which holds size vectors,
// to merged ordinals. Dropped ordinals map to -1.
func (m *MergeOrder) OldToNew(segment, size int) []int32 {
	out := make([]int32, size)
	for i := range out {
		out[i] = -1
	}
	for i, o := range m.Ords {
		if o.Segment == segment && o.Ord < size {
			out[o.Ord] = int32(i)
		}
	}
	return out
}
