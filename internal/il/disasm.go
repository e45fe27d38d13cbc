package il

import "fmt"

// String renders an operand's payload for disassembly; KindNone is blank.
func (o Operand) String() string {
	switch o.Kind {
	case KindNone:
		return ""
	case KindInt:
		return fmt.Sprintf("%d", o.Int)
	case KindFloat:
		return fmt.Sprintf("%g", o.Float)
	case KindString:
		return fmt.Sprintf("%q", o.Str)
	case KindSymbol:
		return o.Str
	case KindPath:
		return fmt.Sprintf("%v", o.Path)
	case KindArgs:
		return fmt.Sprintf("%v", o.Args)
	case KindCycle:
		return fmt.Sprintf("%v", o.Cycle)
	case KindCompare:
		return o.Compare.String()
	case KindCommand:
		return fmt.Sprintf("cmd%d", o.Command)
	case KindInterrupt:
		return fmt.Sprintf("interrupt%d", o.Interrupt)
	case KindProgram:
		return "<compiled-partial>"
	default:
		return "?"
	}
}

// Disassemble renders prog as one line per instruction: index, opcode, and
// any non-empty operands, mirroring the teacher's Chunk disassembler.
func Disassemble(prog *Program) []string {
	lines := make([]string, 0, len(prog.Instructions))
	for i, ins := range prog.Instructions {
		line := fmt.Sprintf("%4d  %-20s", i, ins.Op)
		for _, operand := range []Operand{ins.A, ins.B, ins.C} {
			if s := operand.String(); s != "" {
				line += " " + s
			}
		}
		lines = append(lines, line)
	}
	return lines
}
