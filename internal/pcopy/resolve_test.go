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

package pcopy

import "testing"

// simulate applies emitted moves to a register-file map and returns it.
func simulate(regs map[string]int, moves []Move[string], scratch string) map[string]int {
	Resolve(moves, scratch, func(dst, src string) {
		regs[dst] = regs[src]
	})
	return regs
}

func TestResolveNoCycle(t *testing.T) {
	regs := map[string]int{"a": 1, "b": 2, "c": 3}
	moves := []Move[string]{{Dst: "c", Src: "b"}, {Dst: "b", Src: "a"}}
	simulate(regs, moves, "scratch")
	if regs["b"] != 1 || regs["c"] != 2 {
		t.Fatalf("unexpected result: %v", regs)
	}
}

func TestResolveTwoCycle(t *testing.T) {
	// classic swap: a,b = b,a
	regs := map[string]int{"a": 1, "b": 2, "scratch": 0}
	moves := []Move[string]{{Dst: "a", Src: "b"}, {Dst: "b", Src: "a"}}
	simulate(regs, moves, "scratch")
	if regs["a"] != 2 || regs["b"] != 1 {
		t.Fatalf("expected swap, got a=%d b=%d", regs["a"], regs["b"])
	}
}

func TestResolveThreeCycle(t *testing.T) {
	regs := map[string]int{"a": 1, "b": 2, "c": 3, "scratch": 0}
	moves := []Move[string]{{Dst: "a", Src: "b"}, {Dst: "b", Src: "c"}, {Dst: "c", Src: "a"}}
	simulate(regs, moves, "scratch")
	if regs["a"] != 2 || regs["b"] != 3 || regs["c"] != 1 {
		t.Fatalf("unexpected rotation: %v", regs)
	}
}

func TestResolveSelfCopyDropped(t *testing.T) {
	calls := 0
	Resolve([]Move[string]{{Dst: "a", Src: "a"}}, "scratch", func(dst, src string) { calls++ })
	if calls != 0 {
		t.Fatalf("expected self-copy to emit nothing, got %d calls", calls)
	}
}

func TestResolveDeterministic(t *testing.T) {
	moves := []Move[string]{{Dst: "a", Src: "b"}, {Dst: "b", Src: "c"}, {Dst: "c", Src: "a"}}
	var seq1, seq2 []string
	Resolve(moves, "scratch", func(dst, src string) { seq1 = append(seq1, dst+"<-"+src) })
	Resolve(moves, "scratch", func(dst, src string) { seq2 = append(seq2, dst+"<-"+src) })
	if len(seq1) != len(seq2) {
		t.Fatalf("non-deterministic move count")
	}
	for i := range seq1 {
		if seq1[i] != seq2[i] {
			t.Fatalf("non-deterministic move order at %d: %s vs %s", i, seq1[i], seq2[i])
		}
	}
}
