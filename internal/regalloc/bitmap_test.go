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

package regalloc

import "testing"

func TestBitsetSetClear(t *testing.T) {
	b := newBitset(130) // spans three words
	b.set(3)
	b.set(64)
	b.set(129)
	if !b.isSet(3) || !b.isSet(64) || !b.isSet(129) {
		t.Fatal("expected bits 3, 64, 129 set")
	}
	if b.isSet(4) || b.isSet(63) || b.isSet(128) {
		t.Fatal("unexpected bit set")
	}
	b.clear(64)
	if b.isSet(64) {
		t.Fatal("bit 64 should be cleared")
	}
}

func TestBitsetUniteAssignSubtract(t *testing.T) {
	a := newBitset(70)
	a.set(1)
	a.set(65)
	c := newBitset(70)
	c.set(65)
	c.set(2)

	changed := a.unite(c)
	if !changed {
		t.Fatal("unite should report a change")
	}
	if !a.isSet(1) || !a.isSet(2) || !a.isSet(65) {
		t.Fatal("unite did not merge all bits")
	}
	if a.unite(c) {
		t.Fatal("second unite with the same set should report no change")
	}

	a.subtract(c)
	if a.isSet(2) || a.isSet(65) {
		t.Fatal("subtract did not clear shared bits")
	}
	if !a.isSet(1) {
		t.Fatal("subtract cleared a bit that wasn't in the operand")
	}

	d := newBitset(70)
	if !d.assign(a) {
		t.Fatal("assign into an empty set should report a change")
	}
	if d.assign(a) {
		t.Fatal("assign of identical contents should report no change")
	}
}

func TestBitsetEachDeterministicAscending(t *testing.T) {
	b := newBitset(200)
	want := []int{5, 63, 64, 65, 127, 199}
	for _, i := range want {
		b.set(i)
	}
	var got []int
	b.each(func(i int) { got = append(got, i) })
	if len(got) != len(want) {
		t.Fatalf("got %d bits, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("each() order = %v, want ascending %v", got, want)
		}
	}
}

func TestBitsetClone(t *testing.T) {
	a := newBitset(64)
	a.set(10)
	clone := a.clone()
	clone.set(20)
	if a.isSet(20) {
		t.Fatal("mutating a clone must not affect the original")
	}
	if !clone.isSet(10) {
		t.Fatal("clone lost an original bit")
	}
}
