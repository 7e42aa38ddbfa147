package skel

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// intCmp, intEncoder and intKeyCodec are the concrete K=int, V=string
// plumbing every test in this package builds trees against, standing in
// for the Encoder/KeyCodec a real caller supplies.

func intCmp(a, b int) int { return a - b }

type intEncoder struct{}

func (intEncoder) EncodeEntries(entries []KV[int, string]) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(entries))); err != nil {
		return nil, err
	}
	for _, kv := range entries {
		if err := binary.Write(&buf, binary.BigEndian, int64(kv.Key)); err != nil {
			return nil, err
		}
		vb := []byte(kv.Value)
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(vb))); err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	return buf.Bytes(), nil
}

func (intEncoder) DecodeEntries(data []byte) ([]KV[int, string], error) {
	r := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]KV[int, string], n)
	for i := range out {
		var k int64
		if err := binary.Read(r, binary.BigEndian, &k); err != nil {
			return nil, err
		}
		var vlen uint32
		if err := binary.Read(r, binary.BigEndian, &vlen); err != nil {
			return nil, err
		}
		vb := make([]byte, vlen)
		if _, err := r.Read(vb); err != nil {
			return nil, err
		}
		out[i] = KV[int, string]{Key: int(k), Value: string(vb)}
	}
	return out, nil
}

type intKeyCodec struct{}

func (intKeyCodec) EncodeKey(k int) ([]byte, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(int64(k)))
	return b, nil
}

func (intKeyCodec) DecodeKey(b []byte) (int, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("intKeyCodec: want 8 bytes, got %d", len(b))
	}
	return int(int64(binary.BigEndian.Uint64(b))), nil
}

func v(k int) string { return fmt.Sprintf("v%d", k) }
