package wal

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/osstudy/nanos/tuple"
)

// A CorruptError reports a segment that cannot be decoded.
type CorruptError struct {
	Off uint64
	Msg string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("wal: corrupt log at %d: %s", e.Off, e.Msg)
}

// dictionary interns nodes and symbols in both directions. Ids are handed
// out densely in encoding order, which replay reproduces.
type dictionary struct {
	nodeIds map[*tuple.Tuple]uint64
	nodes   []*tuple.Tuple
	symIds  map[tuple.Symbol]uint64
	syms    []tuple.Symbol
}

func mkDictionary(root *tuple.Tuple) *dictionary {
	d := &dictionary{
		nodeIds: make(map[*tuple.Tuple]uint64),
		symIds:  make(map[tuple.Symbol]uint64),
	}
	d.addNode(root)
	return d
}

func (d *dictionary) addNode(n *tuple.Tuple) uint64 {
	id := uint64(len(d.nodes))
	d.nodeIds[n] = id
	d.nodes = append(d.nodes, n)
	return id
}

func (d *dictionary) addSym(s tuple.Symbol) uint64 {
	id := uint64(len(d.syms))
	d.symIds[s] = id
	d.syms = append(d.syms, s)
	return id
}

type mark struct {
	nodes uint64
	syms  uint64
}

func (d *dictionary) mark() mark {
	return mark{nodes: uint64(len(d.nodes)), syms: uint64(len(d.syms))}
}

// rollback forgets everything interned since m.
func (d *dictionary) rollback(m mark) {
	for _, n := range d.nodes[m.nodes:] {
		delete(d.nodeIds, n)
	}
	d.nodes = d.nodes[:m.nodes]
	for _, s := range d.syms[m.syms:] {
		delete(d.symIds, s)
	}
	d.syms = d.syms[:m.syms]
}

func putInt(b []byte, x uint64) []byte {
	enc := marshal.NewEnc(8)
	enc.PutInt(x)
	return append(b, enc.Finish()...)
}

func (d *dictionary) encodeSym(b []byte, s tuple.Symbol) []byte {
	if id, ok := d.symIds[s]; ok {
		b = append(b, kindSymRef)
		return putInt(b, id)
	}
	d.addSym(s)
	b = append(b, kindSymDef)
	b = putInt(b, uint64(len(s)))
	return append(b, s...)
}

func (d *dictionary) encodeNode(b []byte, n *tuple.Tuple) []byte {
	if id, ok := d.nodeIds[n]; ok {
		b = append(b, kindNodeRef)
		return putInt(b, id)
	}
	d.addNode(n)
	b = append(b, kindNodeDef)
	b = putInt(b, uint64(n.Len()))
	n.Iterate(func(a tuple.Symbol, v tuple.Value) bool {
		b = d.encodeSym(b, a)
		b = d.encodeValue(b, v)
		return true
	})
	return b
}

func (d *dictionary) encodeValue(b []byte, v tuple.Value) []byte {
	switch v := v.(type) {
	case nil:
		return append(b, kindAbsent)
	case tuple.Bytes:
		b = append(b, kindBytes)
		b = putInt(b, uint64(len(v)))
		return append(b, v...)
	case *tuple.Tuple:
		return d.encodeNode(b, v)
	default:
		panic(fmt.Sprintf("wal: cannot encode %T", v))
	}
}

// encodeRecord appends one RECORDPRESENT frame for e.a = v.
func (d *dictionary) encodeRecord(b []byte, e *tuple.Tuple, a tuple.Symbol, v tuple.Value) []byte {
	b = append(b, RECORDPRESENT)
	b = d.encodeNode(b, e)
	b = d.encodeSym(b, a)
	return d.encodeValue(b, v)
}

// decoder reads a segment, recording the first failure in err; after a
// failure every read returns zero.
type decoder struct {
	b   []byte
	off uint64
	err error
}

func (r *decoder) fail(format string, a ...interface{}) {
	if r.err == nil {
		r.err = &CorruptError{Off: r.off, Msg: fmt.Sprintf(format, a...)}
	}
}

func (r *decoder) avail(n uint64) bool {
	if r.err != nil {
		return false
	}
	if n > uint64(len(r.b))-r.off {
		r.fail("%d bytes past end of segment", n)
		return false
	}
	return true
}

func (r *decoder) u8() byte {
	if !r.avail(1) {
		return 0
	}
	x := r.b[r.off]
	r.off += 1
	return x
}

func (r *decoder) u64() uint64 {
	if !r.avail(8) {
		return 0
	}
	dec := marshal.NewDec(r.b[r.off : r.off+8])
	r.off += 8
	return dec.GetInt()
}

func (r *decoder) bytes(n uint64) []byte {
	if !r.avail(n) {
		return nil
	}
	s := make([]byte, n)
	copy(s, r.b[r.off:r.off+n])
	r.off += n
	return s
}

func (d *dictionary) decodeSym(r *decoder) tuple.Symbol {
	switch k := r.u8(); k {
	case kindSymRef:
		id := r.u64()
		if r.err == nil && id >= uint64(len(d.syms)) {
			r.fail("unknown symbol %d", id)
			return ""
		}
		if r.err != nil {
			return ""
		}
		return d.syms[id]
	case kindSymDef:
		s := tuple.Symbol(r.bytes(r.u64()))
		if r.err != nil {
			return ""
		}
		d.addSym(s)
		return s
	default:
		r.fail("bad symbol kind %d", k)
		return ""
	}
}

func (d *dictionary) decodeNode(r *decoder, k byte) *tuple.Tuple {
	if k == kindNodeRef {
		id := r.u64()
		if r.err == nil && id >= uint64(len(d.nodes)) {
			r.fail("unknown node %d", id)
		}
		if r.err != nil {
			return nil
		}
		return d.nodes[id]
	}
	n := tuple.MkTuple()
	d.addNode(n)
	count := r.u64()
	for i := uint64(0); i < count && r.err == nil; i++ {
		a := d.decodeSym(r)
		v := d.decodeValue(r)
		n.Put(a, v)
	}
	return n
}

func (d *dictionary) decodeValue(r *decoder) tuple.Value {
	switch k := r.u8(); k {
	case kindAbsent:
		return nil
	case kindBytes:
		b := r.bytes(r.u64())
		if r.err != nil {
			return nil
		}
		return tuple.Bytes(b)
	case kindNodeRef, kindNodeDef:
		n := d.decodeNode(r, k)
		if n == nil {
			return nil
		}
		return n
	default:
		r.fail("bad value kind %d", k)
		return nil
	}
}

// decodeRecord reads the body of a RECORDPRESENT frame and applies it.
func (d *dictionary) decodeRecord(r *decoder) {
	k := r.u8()
	if r.err == nil && k != kindNodeRef && k != kindNodeDef {
		r.fail("bad entity kind %d", k)
	}
	if r.err != nil {
		return
	}
	e := d.decodeNode(r, k)
	a := d.decodeSym(r)
	v := d.decodeValue(r)
	if r.err != nil {
		return
	}
	e.Put(a, v)
}
