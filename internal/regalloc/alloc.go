package regalloc

import (
	"sort"

	"golang.org/x/exp/slices"

	"liquidil/internal/il"
)

// Result summarizes one allocation run, primarily for tests and
// diagnostics — the allocator's real output is the mutated instruction
// stream.
type Result struct {
	PeakUsage   int
	TempToSlot  map[int64]int64
}

// Allocate performs the forward register-allocation pass described in
// spec.md §4.6, rewriting every STORE_TEMP/LOAD_TEMP operand from its
// original (parser-assigned) logical slot to a minimized physical slot.
func Allocate(instrs []il.Instruction, live *Liveness) Result {
	var availableSlots []int64 // sorted ascending
	var nextSlot int64
	tempToSlot := make(map[int64]int64)
	liveSet := make(map[int64]bool)
	peak := 0

	for i := range instrs {
		switch instrs[i].Op {
		case il.OpStoreTemp:
			logical := instrs[i].A.Int
			phys, already := tempToSlot[logical]
			if !already {
				if n := len(availableSlots); n > 0 {
					phys = availableSlots[0]
					availableSlots = availableSlots[1:]
				} else {
					phys = nextSlot
					nextSlot++
				}
				tempToSlot[logical] = phys
			}
			instrs[i].A = il.Int(phys)
			liveSet[phys] = true
			if len(liveSet) > peak {
				peak = len(liveSet)
			}

		case il.OpLoadTemp:
			logical := instrs[i].A.Int
			phys, ok := tempToSlot[logical]
			if !ok {
				// Loaded without a preceding store in this stream; nothing
				// to rewrite to, leave as-is (parser/optimizer bug, not an
				// allocator concern).
				continue
			}
			instrs[i].A = il.Int(phys)
			if lastUse, tracked := live.LastUse(logical); tracked && lastUse == i {
				delete(liveSet, phys)
				availableSlots = insertSorted(availableSlots, phys)
			}
		}
	}

	return Result{PeakUsage: peak, TempToSlot: tempToSlot}
}

// insertSorted inserts v into the sorted slice s, keeping it sorted — a
// freed slot always rejoins the pool at its numerically correct position
// so the smallest-available-slot rule in Allocate stays deterministic
// regardless of release order.
func insertSorted(s []int64, v int64) []int64 {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	return slices.Insert(s, i, v)
}
