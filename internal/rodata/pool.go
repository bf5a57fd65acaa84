// Copyright (c) 2024 The Viper Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package rodata implements the deduplicated read-only constant pool
// (spec.md §3): interned (label, bytes) pairs keyed by exact content
// for strings and by IEEE-754 bit pattern for floats. Grounded on the
// teacher's codegen/lir.go Text/TextKind value and asm_x86.go's
// emitRoData, generalized from a single TextKind-tagged entry into a
// pool object the rodata emitter can dump in insertion order.
package rodata

import (
	"fmt"
	"math"

	"github.com/samber/lo"
)

// Kind classifies a pool entry.
type Kind int

const (
	KindString Kind = iota
	KindFloat
)

// Entry is one interned rodata blob: a stable label, its bytes, and
// the kind that decides how the emitter renders it (spec.md §4.6:
// strings as NUL-terminated .byte sequences, floats as 8-byte-aligned
// .quad of their bit pattern).
type Entry struct {
	Label string
	Kind  Kind
	Bytes []byte

	// FirstFunc is the name of the function whose lowering first
	// referenced this entry — debug-only bookkeeping (SPEC_FULL.md §5)
	// that no dump prints, never part of the dedup key.
	FirstFunc string
}

// Pool interns rodata entries, deduplicating by exact byte content.
// Per spec.md §5 it is the only module-level mutable shared state. Its
// methods take no lock: LowerModule uses a pool from one goroutine, and
// concurrent calls from several goroutines are not safe.
type Pool struct {
	entries []*Entry
	byKey   map[string]*Entry
	next    int
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{byKey: map[string]*Entry{}}
}

// InternString interns s (including its terminating NUL) and returns
// its label, deduplicating against any prior identical string.
func (p *Pool) InternString(s string, fromFunc string) string {
	bs := append([]byte(s), 0)
	return p.intern(KindString, bs, "Lstr", fromFunc)
}

// InternFloat32 interns an f32 constant by its raw bit pattern.
func (p *Pool) InternFloat32(f float32, fromFunc string) string {
	bits := math.Float32bits(f)
	bs := []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
	return p.intern(KindFloat, bs, "Lfp32", fromFunc)
}

// InternFloat64 interns an f64 constant by its raw bit pattern.
func (p *Pool) InternFloat64(f float64, fromFunc string) string {
	bits := math.Float64bits(f)
	bs := make([]byte, 8)
	for i := 0; i < 8; i++ {
		bs[i] = byte(bits >> (8 * i))
	}
	return p.intern(KindFloat, bs, "Lfp64", fromFunc)
}

func (p *Pool) intern(kind Kind, bytes []byte, prefix, fromFunc string) string {
	key := fmt.Sprintf("%d:%x", kind, bytes)
	if e, ok := p.byKey[key]; ok {
		return e.Label
	}
	e := &Entry{
		Label:     fmt.Sprintf(".%s%d", prefix, p.next),
		Kind:      kind,
		Bytes:     bytes,
		FirstFunc: fromFunc,
	}
	p.next++
	p.entries = append(p.entries, e)
	p.byKey[key] = e
	return e.Label
}

// Entries returns every interned entry in insertion order: strings
// first (in the order they were first referenced), then FP constants,
// matching spec.md §6's "string literals first by insertion order,
// then FP constants" section ordering.
func (p *Pool) Entries() []*Entry {
	strings := lo.Filter(p.entries, func(e *Entry, _ int) bool { return e.Kind == KindString })
	rest := lo.Filter(p.entries, func(e *Entry, _ int) bool { return e.Kind != KindString })
	return append(strings, rest...)
}
