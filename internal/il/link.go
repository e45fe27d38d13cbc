package il

import "fmt"

// isJumpOp reports the opcodes whose A operand holds a label id pre-link and an
// instruction index post-link.
func isJumpOp(op OpCode) bool {
	switch op {
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpJumpIfEmpty, OpJumpIfInterrupt, OpIfchangedCheck:
		return true
	default:
		return false
	}
}

// Link resolves every jump operand from a label id to the instruction index
// of its LABEL definition. It fails if any jump references an undefined
// label (invariant (a)) — that is a programmer error and is never caught
// by the optimizer's catch-and-bail policy (spec §7).
func Link(p *Program) error {
	labels := make(map[int64]int, 8)
	for i, instr := range p.Instructions {
		if instr.Op == OpLabel {
			id := instr.A.Int
			if _, dup := labels[id]; dup {
				return fmt.Errorf("il: duplicate label %d at index %d", id, i)
			}
			labels[id] = i
		}
	}

	for i, instr := range p.Instructions {
		if !isJumpOp(instr.Op) {
			continue
		}
		target, ok := labels[instr.A.Int]
		if !ok {
			return fmt.Errorf("il: instruction %d (%s) references undefined label %d", i, instr.Op, instr.A.Int)
		}
		p.Instructions[i].A = Int(int64(target))
	}

	p.Linked = true
	return nil
}
