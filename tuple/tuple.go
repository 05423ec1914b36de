// Package tuple is the hierarchical metadata store: nodes map symbols to
// values, where a value is a leaf byte string, a nested node, or absent.
//
// Access goes through the Node contract (Get, Set, Iterate) so that nodes
// backed by something other than a map, such as a file whose contents live
// in extents, can stand in for a plain Tuple.
package tuple

import (
	"fmt"
	"sort"
	"strconv"
)

// Symbol is an attribute name. Symbols compare by value.
type Symbol string

// Value is Bytes, a Node, or nil for absent.
type Value interface{}

type Bytes []byte

func (b Bytes) String() string {
	return string(b)
}

type Node interface {
	Get(a Symbol, k func(Value, error))
	Set(a Symbol, v Value, k func(error))
	// Iterate visits attributes in symbol order until visit returns false.
	Iterate(visit func(Symbol, Value) bool)
}

// Tuple is the plain in-memory Node.
type Tuple struct {
	m map[Symbol]Value
}

var _ Node = (*Tuple)(nil)

func MkTuple() *Tuple {
	return &Tuple{m: make(map[Symbol]Value)}
}

func (t *Tuple) Lookup(a Symbol) Value {
	return t.m[a]
}

// Put binds a to v; a nil v removes the binding.
func (t *Tuple) Put(a Symbol, v Value) {
	if v == nil {
		delete(t.m, a)
		return
	}
	t.m[a] = v
}

func (t *Tuple) Len() int {
	return len(t.m)
}

// Keys returns the bound symbols in sorted order.
func (t *Tuple) Keys() []Symbol {
	keys := make([]Symbol, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (t *Tuple) Get(a Symbol, k func(Value, error)) {
	k(t.m[a], nil)
}

func (t *Tuple) Set(a Symbol, v Value, k func(error)) {
	t.Put(a, v)
	k(nil)
}

func (t *Tuple) Iterate(visit func(Symbol, Value) bool) {
	for _, a := range t.Keys() {
		if !visit(a, t.m[a]) {
			return
		}
	}
}

// Child returns the node bound to a in t, or nil if a is absent or a leaf.
func (t *Tuple) Child(a Symbol) *Tuple {
	c, _ := t.m[a].(*Tuple)
	return c
}

// String returns the leaf bound to a, or false.
func (t *Tuple) String(a Symbol) (string, bool) {
	b, ok := t.m[a].(Bytes)
	if !ok {
		return "", false
	}
	return string(b), true
}

// U64 parses the decimal leaf bound to a.
func (t *Tuple) U64(a Symbol) (uint64, error) {
	s, ok := t.String(a)
	if !ok {
		return 0, fmt.Errorf("tuple: %s not a leaf", a)
	}
	return strconv.ParseUint(s, 10, 64)
}

// SymU64 is the symbol naming the decimal form of n.
func SymU64(n uint64) Symbol {
	return Symbol(strconv.FormatUint(n, 10))
}

// U64 is the decimal leaf for n.
func U64(n uint64) Bytes {
	return Bytes(strconv.FormatUint(n, 10))
}

// Dump converts v into plain maps and strings, skipping the synthetic "."
// and ".." entries, for printing and comparison.
func Dump(v Value) interface{} {
	switch v := v.(type) {
	case nil:
		return nil
	case Bytes:
		return string(v)
	case Node:
		m := make(map[string]interface{})
		v.Iterate(func(a Symbol, c Value) bool {
			if a == "." || a == ".." {
				return true
			}
			m[string(a)] = Dump(c)
			return true
		})
		return m
	default:
		panic(fmt.Sprintf("tuple: bad value %T", v))
	}
}
