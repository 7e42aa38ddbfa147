package skel

import (
	"bytes"
	"encoding/binary"

	"github.com/segmentio/ksuid"

	"github.com/redwerk/libindex/pkg/archiver"
)

// KeyCodec turns a concrete key into bytes and back, so the translator can
// serialize lkey/rkey boundaries without the core depending on encoding/gob
// or reflection. Grounded the way ssargent-freyjadb/pkg/bptree.go hand-rolls
// its Save/Load binary framing rather than reaching for a generic codec.
type KeyCodec[K any] interface {
	EncodeKey(k K) ([]byte, error)
	DecodeKey(b []byte) (K, error)
}

// SubnodeAttrs is one entry in a node's subnode list: the child's key
// range plus its own storage handle. The node translator never inlines a
// child's entries or further descendants — those are separate archiver
// objects, reached by Meta.
type SubnodeAttrs[K any] struct {
	ID         NodeID
	LKey, RKey Bound[K]
	Size       int
	Meta       archiver.Meta
}

// Attrs is the generic attribute-map representation of one bare node:
// lkey, rkey, entries (as a handle, since a bare node's entries map is
// itself deflated independently), and subnodes (spec.md §6).
type Attrs[K any] struct {
	LKey, RKey  Bound[K]
	Leaf        bool
	EntriesMeta archiver.Meta
	Subnodes    []SubnodeAttrs[K]
}

// NodeTranslator is the translator bundle of spec.md §6: a comparator
// plus a key codec, closed over once and reused for every node push/pull
// so archivers never need to know K. App and Rev are named after the
// spec's apply/reverse pair; Rev(App(x)) must be structurally equivalent
// to x, which verifyNodeIntegrity checks on the way back in.
type NodeTranslator[K any] struct {
	cmp  Comparator[K]
	keys KeyCodec[K]
}

// NewNodeTranslator builds a translator bundle for K.
func NewNodeTranslator[K any](cmp Comparator[K], keys KeyCodec[K]) *NodeTranslator[K] {
	return &NodeTranslator[K]{cmp: cmp, keys: keys}
}

const (
	boundTagFinite byte = iota
	boundTagNegInf
	boundTagPosInf
)

func (tr *NodeTranslator[K]) writeBound(buf *bytes.Buffer, b Bound[K]) error {
	switch {
	case b.infLo:
		buf.WriteByte(boundTagNegInf)
		return nil
	case b.infHi:
		buf.WriteByte(boundTagPosInf)
		return nil
	default:
		buf.WriteByte(boundTagFinite)
		kb, err := tr.keys.EncodeKey(b.key)
		if err != nil {
			return &DataFormatError{Reason: "encoding key: " + err.Error()}
		}
		return writeBytes(buf, kb)
	}
}

func (tr *NodeTranslator[K]) readBound(r *bytes.Reader) (Bound[K], error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Bound[K]{}, &DataFormatError{Reason: "reading bound tag: " + err.Error()}
	}
	switch tag {
	case boundTagNegInf:
		return NegInf[K](), nil
	case boundTagPosInf:
		return PosInf[K](), nil
	case boundTagFinite:
		kb, err := readBytes(r)
		if err != nil {
			return Bound[K]{}, err
		}
		k, err := tr.keys.DecodeKey(kb)
		if err != nil {
			return Bound[K]{}, &DataFormatError{Reason: "decoding key: " + err.Error()}
		}
		return Finite(k), nil
	default:
		return Bound[K]{}, &DataFormatError{Reason: "unrecognized bound tag"}
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return &DataFormatError{Reason: "writing length prefix: " + err.Error()}
	}
	buf.Write(b)
	return nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, &DataFormatError{Reason: "reading length prefix: " + err.Error()}
	}
	out := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(out); err != nil {
			return nil, &DataFormatError{Reason: "reading framed bytes: " + err.Error()}
		}
	}
	return out, nil
}

// App turns a bare node's attributes into bytes.
func (tr *NodeTranslator[K]) App(a Attrs[K]) ([]byte, error) {
	var buf bytes.Buffer
	if err := tr.writeBound(&buf, a.LKey); err != nil {
		return nil, err
	}
	if err := tr.writeBound(&buf, a.RKey); err != nil {
		return nil, err
	}
	leafByte := byte(0)
	if a.Leaf {
		leafByte = 1
	}
	buf.WriteByte(leafByte)
	if err := writeBytes(&buf, a.EntriesMeta); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(a.Subnodes))); err != nil {
		return nil, &DataFormatError{Reason: "writing subnode count: " + err.Error()}
	}
	for _, s := range a.Subnodes {
		idBytes := ksuid.KSUID(s.ID).Bytes()
		buf.Write(idBytes)
		if err := tr.writeBound(&buf, s.LKey); err != nil {
			return nil, err
		}
		if err := tr.writeBound(&buf, s.RKey); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, uint32(s.Size)); err != nil {
			return nil, &DataFormatError{Reason: "writing subnode size: " + err.Error()}
		}
		if err := writeBytes(&buf, s.Meta); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Rev reconstructs Attrs from bytes produced by App, verifying structural
// integrity before handing the result back.
func (tr *NodeTranslator[K]) Rev(data []byte) (Attrs[K], error) {
	r := bytes.NewReader(data)
	var a Attrs[K]
	var err error
	if a.LKey, err = tr.readBound(r); err != nil {
		return a, err
	}
	if a.RKey, err = tr.readBound(r); err != nil {
		return a, err
	}
	leafByte, err := r.ReadByte()
	if err != nil {
		return a, &DataFormatError{Reason: "reading leaf flag: " + err.Error()}
	}
	a.Leaf = leafByte != 0
	if a.EntriesMeta, err = readBytes(r); err != nil {
		return a, err
	}
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return a, &DataFormatError{Reason: "reading subnode count: " + err.Error()}
	}
	if n > 0 {
		a.Subnodes = make([]SubnodeAttrs[K], n)
	}
	for i := range a.Subnodes {
		idBytes := make([]byte, 20)
		if _, err := r.Read(idBytes); err != nil {
			return a, &DataFormatError{Reason: "reading subnode id: " + err.Error()}
		}
		id, err := ksuid.FromBytes(idBytes)
		if err != nil {
			return a, &DataFormatError{Reason: "parsing subnode id: " + err.Error()}
		}
		a.Subnodes[i].ID = NodeID(id)
		if a.Subnodes[i].LKey, err = tr.readBound(r); err != nil {
			return a, err
		}
		if a.Subnodes[i].RKey, err = tr.readBound(r); err != nil {
			return a, err
		}
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return a, &DataFormatError{Reason: "reading subnode size: " + err.Error()}
		}
		a.Subnodes[i].Size = int(size)
		if a.Subnodes[i].Meta, err = readBytes(r); err != nil {
			return a, err
		}
	}
	if err := verifyNodeIntegrity(tr.cmp, a); err != nil {
		return a, err
	}
	return a, nil
}

// verifyNodeIntegrity checks that a leaf node carries no subnodes, that a
// non-leaf's subnode ranges are contiguous, and that the first/last
// subnode ranges line up with the node's own lkey/rkey. A violation means
// the bytes were corrupted or produced by an incompatible translator.
func verifyNodeIntegrity[K any](cmp Comparator[K], a Attrs[K]) error {
	if a.Leaf {
		if len(a.Subnodes) != 0 {
			return &DataFormatError{Reason: "leaf node carries subnodes"}
		}
		return nil
	}
	if len(a.Subnodes) == 0 {
		return &DataFormatError{Reason: "non-leaf node carries no subnodes"}
	}
	if compareBounds(cmp, a.Subnodes[0].LKey, a.LKey) != 0 {
		return &DataFormatError{Reason: "first subnode lkey does not match node lkey"}
	}
	last := a.Subnodes[len(a.Subnodes)-1]
	if compareBounds(cmp, last.RKey, a.RKey) != 0 {
		return &DataFormatError{Reason: "last subnode rkey does not match node rkey"}
	}
	for i := 0; i+1 < len(a.Subnodes); i++ {
		if compareBounds(cmp, a.Subnodes[i].RKey, a.Subnodes[i+1].LKey) != 0 {
			return &DataFormatError{Reason: "subnode ranges are not contiguous"}
		}
	}
	return nil
}

// TreeAttrs is the whole-tree counterpart used to persist/reload a tree's
// root handle and configuration (spec.md §6's tree translator): node_min,
// total size, and the root's own subnode-style reference.
type TreeAttrs[K any] struct {
	NodeMin int
	Size    int
	Root    SubnodeAttrs[K]
}

// TreeTranslator serializes/deserializes a tree's top-level descriptor.
// It never touches node internals directly — Root.Meta is resolved
// through the same Archiver used for every other node.
type TreeTranslator[K any] struct {
	keys KeyCodec[K]
	node *NodeTranslator[K]
}

// NewTreeTranslator builds a tree-level translator sharing the given
// node translator's key codec.
func NewTreeTranslator[K any](node *NodeTranslator[K], keys KeyCodec[K]) *TreeTranslator[K] {
	return &TreeTranslator[K]{keys: keys, node: node}
}

func (tt *TreeTranslator[K]) App(a TreeAttrs[K]) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(a.NodeMin)); err != nil {
		return nil, &DataFormatError{Reason: "writing node_min: " + err.Error()}
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(a.Size)); err != nil {
		return nil, &DataFormatError{Reason: "writing size: " + err.Error()}
	}
	buf.Write(ksuid.KSUID(a.Root.ID).Bytes())
	if err := binary.Write(&buf, binary.BigEndian, uint32(a.Root.Size)); err != nil {
		return nil, &DataFormatError{Reason: "writing root size: " + err.Error()}
	}
	if err := tt.node.writeBound(&buf, a.Root.LKey); err != nil {
		return nil, err
	}
	if err := tt.node.writeBound(&buf, a.Root.RKey); err != nil {
		return nil, err
	}
	if err := writeBytes(&buf, a.Root.Meta); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (tt *TreeTranslator[K]) Rev(data []byte) (TreeAttrs[K], error) {
	r := bytes.NewReader(data)
	var a TreeAttrs[K]
	var nodeMin, size, rootSize uint32
	var rootID [20]byte
	if err := binary.Read(r, binary.BigEndian, &nodeMin); err != nil {
		return a, &DataFormatError{Reason: "reading node_min: " + err.Error()}
	}
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return a, &DataFormatError{Reason: "reading size: " + err.Error()}
	}
	if err := binary.Read(r, binary.BigEndian, &rootID); err != nil {
		return a, &DataFormatError{Reason: "reading root id: " + err.Error()}
	}
	if err := binary.Read(r, binary.BigEndian, &rootSize); err != nil {
		return a, &DataFormatError{Reason: "reading root size: " + err.Error()}
	}
	a.NodeMin = int(nodeMin)
	a.Size = int(size)
	a.Root.ID = NodeID(rootID)
	a.Root.Size = int(rootSize)
	var err error
	if a.Root.LKey, err = tt.node.readBound(r); err != nil {
		return a, err
	}
	if a.Root.RKey, err = tt.node.readBound(r); err != nil {
		return a, err
	}
	if a.Root.Meta, err = readBytes(r); err != nil {
		return a, err
	}
	return a, nil
}
