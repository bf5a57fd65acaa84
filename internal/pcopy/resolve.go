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

// Package pcopy is the target-independent parallel-copy resolver
// spec.md §9 calls for: a set of copies that must execute as if
// simultaneously is sequenced into ordinary moves, with cycles broken
// by a single scratch location per cycle. Used both by internal/lower
// (realizing IL block parameters on predecessor edges) and by
// internal/regalloc (resolving the allocator's own end-of-interval
// moves), so it is generic over the location type T rather than tied
// to a vreg or a physical register.
//
// Grounded on the teacher's lsra_moveResolver.go: the same
// pairs/cycleStart shape, generalized with Go generics the way
// utils/set.go generalizes Set over element type, and completed —
// the teacher's own move() leaves its emitted Instruction literals as
// TODO-stamped zero values and is unreachable dead code (lsra() exits
// before any caller reaches it).
package pcopy

// Move is one parallel-copy pair: Dst receives the value currently in
// Src. A whole Move slice executes as if all reads happen before any
// write.
type Move[T comparable] struct {
	Dst T
	Src T
}

// Resolve sequences moves into an order-respecting list of ordinary
// (non-parallel) moves, breaking any cycles with scratch as a
// temporary. emit is called once per ordinary move in the order they
// must execute; scratch must not itself be a Dst or Src in moves.
//
// Self-copies (Dst == Src) are silently dropped. Moves whose Dst never
// appears more than once are processed in deterministic input order
// so that, per spec.md §6, identical input always yields identical
// output.
func Resolve[T comparable](moves []Move[T], scratch T, emit func(dst, src T)) {
	// Drop self-copies up front; they need no instruction.
	filtered := make([]Move[T], 0, len(moves))
	for _, m := range moves {
		if m.Dst != m.Src {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		return
	}

	srcOf := make(map[T]T, len(filtered))
	order := make([]T, 0, len(filtered)) // Dsts in input order, for deterministic iteration
	readers := make(map[T]int, len(filtered))
	for _, m := range filtered {
		srcOf[m.Dst] = m.Src
		order = append(order, m.Dst)
		readers[m.Src]++
	}

	processed := make(map[T]bool, len(filtered))

	// Repeatedly emit any move whose destination is never read as a
	// source by a still-pending move (spec.md §9: "repeatedly emitting
	// moves whose destination has no pending reader").
	progress := true
	for progress {
		progress = false
		for _, dst := range order {
			if processed[dst] {
				continue
			}
			if readers[dst] > 0 {
				continue
			}
			src := srcOf[dst]
			emit(dst, src)
			processed[dst] = true
			readers[src]--
			progress = true
		}
	}

	// Anything left is part of one or more cycles. Walk input order so
	// the cycle we break first, and thus which location the scratch
	// copy lands on, is deterministic.
	for _, start := range order {
		if processed[start] {
			continue
		}
		emit(scratch, start)
		cur := start
		for {
			src := srcOf[cur]
			processed[cur] = true
			if src == start {
				emit(cur, scratch)
				break
			}
			emit(cur, src)
			cur = src
		}
	}
}
