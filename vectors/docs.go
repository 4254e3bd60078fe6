package vectors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
)

// ErrDocsOutOfOrder is returned when documents are not added in strictly
// increasing order.
var ErrDocsOutOfOrder = errors.New("documents must be added in strictly increasing order")

// DocsWithFieldSet is the ordered set of documents that have a vector for a
// field. The i-th added document owns vector ordinal i.
//
// While every document in [0, lastDoc] has a value the set stays dense and
// allocates nothing; the first gap materializes a roaring bitmap.
type DocsWithFieldSet struct {
	rb          *roaring.Bitmap
	cardinality int
	lastDoc     int
}

// NewDocsWithFieldSet creates an empty set.
func NewDocsWithFieldSet() *DocsWithFieldSet {
	return &DocsWithFieldSet{lastDoc: -1}
}

// NewDenseDocsWithFieldSet creates the set {0, ..., n-1}.
func NewDenseDocsWithFieldSet(n int) *DocsWithFieldSet {
	return &DocsWithFieldSet{cardinality: n, lastDoc: n - 1}
}

// Add appends doc, which must be greater than every previously added doc.
func (d *DocsWithFieldSet) Add(doc int) error {
	if doc <= d.lastDoc || doc < 0 {
		return fmt.Errorf("%w: %d after %d", ErrDocsOutOfOrder, doc, d.lastDoc)
	}
	if d.rb == nil && doc != d.cardinality {
		d.rb = roaring.New()
		if d.cardinality > 0 {
			d.rb.AddRange(0, uint64(d.cardinality))
		}
	}
	if d.rb != nil {
		d.rb.Add(uint32(doc))
	}
	d.cardinality++
	d.lastDoc = doc
	return nil
}

// Cardinality returns the number of documents in the set.
func (d *DocsWithFieldSet) Cardinality() int { return d.cardinality }

// Dense reports whether the set is exactly {0, ..., Cardinality()-1}.
func (d *DocsWithFieldSet) Dense() bool { return d.rb == nil }

// LastDoc returns the largest document, or -1 when empty.
func (d *DocsWithFieldSet) LastDoc() int { return d.lastDoc }

// OrdToDoc maps a vector ordinal to its document.
func (d *DocsWithFieldSet) OrdToDoc(ord int) int {
	if d.rb == nil {
		return ord
	}
	doc, err := d.rb.Select(uint32(ord))
	if err != nil {
		return -1
	}
	return int(doc)
}

// DocToOrd maps a document to its vector ordinal, or -1 when the document
// has no value.
func (d *DocsWithFieldSet) DocToOrd(doc int) int {
	if doc < 0 || doc > d.lastDoc {
		return -1
	}
	if d.rb == nil {
		return doc
	}
	if !d.rb.Contains(uint32(doc)) {
		return -1
	}
	return int(d.rb.Rank(uint32(doc))) - 1
}

// Contains reports whether doc has a value.
func (d *DocsWithFieldSet) Contains(doc int) bool {
	return d.DocToOrd(doc) >= 0
}

// AcceptedOrds intersects the set with filter and returns the accepted
// ordinals as a bitmap.
func (d *DocsWithFieldSet) AcceptedOrds(filter *roaring.Bitmap) *roaring.Bitmap {
	out := roaring.New()
	if d.rb == nil {
		it := filter.Iterator()
		for it.HasNext() {
			doc := it.Next()
			if int(doc) >= d.cardinality {
				break
			}
			out.Add(doc)
		}
		return out
	}
	and := roaring.And(d.rb, filter)
	it := and.Iterator()
	for it.HasNext() {
		out.Add(uint32(d.rb.Rank(it.Next()) - 1))
	}
	return out
}

// Iterator yields (ordinal, document) pairs in increasing order.
func (d *DocsWithFieldSet) Iterator() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		if d.rb == nil {
			for ord := range d.cardinality {
				if !yield(ord, ord) {
					return
				}
			}
			return
		}
		it := d.rb.Iterator()
		for ord := 0; it.HasNext(); ord++ {
			if !yield(ord, int(it.Next())) {
				return
			}
		}
	}
}

// Docs materializes the ordinal to document table.
func (d *DocsWithFieldSet) Docs() []int32 {
	out := make([]int32, 0, d.cardinality)
	for _, doc := range d.Iterator() {
		out = append(out, int32(doc))
	}
	return out
}

// MarshalBinary implements encoding.BinaryMarshaler.
// Format (little-endian): [cardinality:uint32][lastDoc:int32][dense:uint8][roaring bytes]
func (d *DocsWithFieldSet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.cardinality))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(d.lastDoc)))
	if d.rb == nil {
		buf[8] = 1
		return buf, nil
	}
	d.rb.RunOptimize()
	rb, err := d.rb.ToBytes()
	if err != nil {
		return nil, err
	}
	return append(buf, rb...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *DocsWithFieldSet) UnmarshalBinary(data []byte) error {
	if len(data) < 9 {
		return errors.New("docs with field: truncated header")
	}
	d.cardinality = int(binary.LittleEndian.Uint32(data[0:4]))
	d.lastDoc = int(int32(binary.LittleEndian.Uint32(data[4:8])))
	d.rb = nil
	if data[8] == 1 {
		return nil
	}
	rb := roaring.New()
	if err := rb.UnmarshalBinary(data[9:]); err != nil {
		return fmt.Errorf("docs with field: %w", err)
	}
	if int(rb.GetCardinality()) != d.cardinality {
		return fmt.Errorf("docs with field: cardinality %d, bitmap holds %d", d.cardinality, rb.GetCardinality())
	}
	d.rb = rb
	return nil
}
