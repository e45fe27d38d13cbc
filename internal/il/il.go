// Package il defines the linear intermediate language produced by the
// parser, mutated by the optimizer and register allocator, and consumed
// by the stack VM and the structured lowering pass.
package il

// OpCode identifies one IL instruction. Opcodes are grouped the same way
// the specification groups them: constants, variable access, output,
// arithmetic/logic, filters, control flow, scope/state, loops, cycle and
// partials.
type OpCode uint8

const (
	OpNoop OpCode = iota

	// Constants
	OpConstNil
	OpConstTrue
	OpConstFalse
	OpConstInt
	OpConstFloat
	OpConstString
	OpConstRange
	OpConstEmpty
	OpConstBlank

	// Variable access
	OpFindVar
	OpFindVarPath
	OpFindVarDynamic
	OpLookupKey
	OpLookupConstKey
	OpLookupConstPath
	OpLookupCommand

	// Output
	OpWriteRaw
	OpWriteValue
	OpWriteVar
	OpWriteVarPath

	// Arithmetic / logic
	OpCompare
	OpCaseCompare
	OpContains
	OpBoolNot
	OpIsTruthy
	OpNewRange

	// Filters
	OpCallFilter

	// Control flow
	OpLabel
	OpJump
	OpJumpIfFalse
	OpJumpIfTrue
	OpJumpIfEmpty
	OpJumpIfInterrupt
	OpHalt

	// Scope / state
	OpPushScope
	OpPopScope
	OpAssign
	OpAssignLocal
	OpIncrement
	OpDecrement
	OpPushCapture
	OpPopCapture
	OpPushInterrupt
	OpPopInterrupt
	OpStoreTemp
	OpLoadTemp
	OpDup
	OpPop
	OpBuildHash
	OpIfchangedCheck

	// Loops
	OpForInit
	OpForNext
	OpForEnd
	OpPushForloop
	OpPopForloop
	OpTablerowInit
	OpTablerowNext
	OpTablerowEnd

	// Cycle
	OpCycleStep
	OpCycleStepVar

	// Partials
	OpRenderPartial
	OpIncludePartial
	OpConstRender
	OpConstInclude

	opCodeCount
)

var opNames = [...]string{
	OpNoop:             "NOOP",
	OpConstNil:         "CONST_NIL",
	OpConstTrue:        "CONST_TRUE",
	OpConstFalse:       "CONST_FALSE",
	OpConstInt:         "CONST_INT",
	OpConstFloat:       "CONST_FLOAT",
	OpConstString:      "CONST_STRING",
	OpConstRange:       "CONST_RANGE",
	OpConstEmpty:       "CONST_EMPTY",
	OpConstBlank:       "CONST_BLANK",
	OpFindVar:          "FIND_VAR",
	OpFindVarPath:      "FIND_VAR_PATH",
	OpFindVarDynamic:   "FIND_VAR_DYNAMIC",
	OpLookupKey:        "LOOKUP_KEY",
	OpLookupConstKey:   "LOOKUP_CONST_KEY",
	OpLookupConstPath:  "LOOKUP_CONST_PATH",
	OpLookupCommand:    "LOOKUP_COMMAND",
	OpWriteRaw:         "WRITE_RAW",
	OpWriteValue:       "WRITE_VALUE",
	OpWriteVar:         "WRITE_VAR",
	OpWriteVarPath:     "WRITE_VAR_PATH",
	OpCompare:          "COMPARE",
	OpCaseCompare:      "CASE_COMPARE",
	OpContains:         "CONTAINS",
	OpBoolNot:          "BOOL_NOT",
	OpIsTruthy:         "IS_TRUTHY",
	OpNewRange:         "NEW_RANGE",
	OpCallFilter:       "CALL_FILTER",
	OpLabel:            "LABEL",
	OpJump:             "JUMP",
	OpJumpIfFalse:      "JUMP_IF_FALSE",
	OpJumpIfTrue:       "JUMP_IF_TRUE",
	OpJumpIfEmpty:      "JUMP_IF_EMPTY",
	OpJumpIfInterrupt:  "JUMP_IF_INTERRUPT",
	OpHalt:             "HALT",
	OpPushScope:        "PUSH_SCOPE",
	OpPopScope:         "POP_SCOPE",
	OpAssign:           "ASSIGN",
	OpAssignLocal:      "ASSIGN_LOCAL",
	OpIncrement:        "INCREMENT",
	OpDecrement:        "DECREMENT",
	OpPushCapture:      "PUSH_CAPTURE",
	OpPopCapture:       "POP_CAPTURE",
	OpPushInterrupt:    "PUSH_INTERRUPT",
	OpPopInterrupt:     "POP_INTERRUPT",
	OpStoreTemp:        "STORE_TEMP",
	OpLoadTemp:         "LOAD_TEMP",
	OpDup:              "DUP",
	OpPop:              "POP",
	OpBuildHash:        "BUILD_HASH",
	OpIfchangedCheck:   "IFCHANGED_CHECK",
	OpForInit:          "FOR_INIT",
	OpForNext:          "FOR_NEXT",
	OpForEnd:           "FOR_END",
	OpPushForloop:      "PUSH_FORLOOP",
	OpPopForloop:       "POP_FORLOOP",
	OpTablerowInit:     "TABLEROW_INIT",
	OpTablerowNext:     "TABLEROW_NEXT",
	OpTablerowEnd:      "TABLEROW_END",
	OpCycleStep:        "CYCLE_STEP",
	OpCycleStepVar:     "CYCLE_STEP_VAR",
	OpRenderPartial:    "RENDER_PARTIAL",
	OpIncludePartial:   "INCLUDE_PARTIAL",
	OpConstRender:      "CONST_RENDER",
	OpConstInclude:     "CONST_INCLUDE",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "UNKNOWN"
}

// CompareOp enumerates the comparison kinds carried by OpCompare.
type CompareOp uint8

const (
	CmpEq CompareOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (c CompareOp) String() string {
	switch c {
	case CmpEq:
		return "eq"
	case CmpNe:
		return "ne"
	case CmpLt:
		return "lt"
	case CmpLe:
		return "le"
	case CmpGt:
		return "gt"
	case CmpGe:
		return "ge"
	default:
		return "?"
	}
}

// LookupCommand enumerates the command-style lookups (size/length/first/last).
type LookupCommand uint8

const (
	CmdSize LookupCommand = iota
	CmdLength
	CmdFirst
	CmdLast
)

// InterruptKind enumerates the loop interrupt kinds pushed by PUSH_INTERRUPT.
type InterruptKind uint8

const (
	InterruptBreak InterruptKind = iota
	InterruptContinue
)

// OperandKind tags the shape of an Operand's payload. Operands are small
// literals (int, float, string, symbol) or nested lists, never pointers
// to other instructions — jumps carry label ids / instruction indices as
// plain integers, never a structural reference.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindInt
	KindFloat
	KindString
	KindSymbol   // variable / filter / partial name
	KindPath     // []string of path keys
	KindArgs     // key -> Operand (render/include arguments)
	KindCycle    // []CycleValue
	KindCompare  // CompareOp
	KindCommand  // LookupCommand
	KindInterrupt
	KindProgram // pre-compiled partial IL bundle, attached by the inliner
)

// CycleValue is one entry of a CYCLE_STEP value list: either a literal
// operand or a reference to a variable name.
type CycleValue struct {
	IsVar bool
	Name  string  // when IsVar
	Lit   Operand // when !IsVar
}

// Arg is one key/value pair of a RENDER_PARTIAL / INCLUDE_PARTIAL args map.
type Arg struct {
	Key   string
	Value Operand
}

// Operand is the tagged union every instruction operand is drawn from.
type Operand struct {
	Kind    OperandKind
	Int     int64
	Float   float64
	Str     string
	Path    []string
	Args    []Arg
	Cycle   []CycleValue
	Compare CompareOp
	Command LookupCommand
	Interrupt InterruptKind
	Program *Program // set only when Kind == KindProgram
}

func Int(v int64) Operand         { return Operand{Kind: KindInt, Int: v} }
func Float(v float64) Operand     { return Operand{Kind: KindFloat, Float: v} }
func Str(v string) Operand        { return Operand{Kind: KindString, Str: v} }
func Symbol(v string) Operand     { return Operand{Kind: KindSymbol, Str: v} }
func Path(keys []string) Operand  { return Operand{Kind: KindPath, Path: keys} }
func Args(args []Arg) Operand     { return Operand{Kind: KindArgs, Args: args} }
func Cycle(vs []CycleValue) Operand { return Operand{Kind: KindCycle, Cycle: vs} }
func Cmp(c CompareOp) Operand     { return Operand{Kind: KindCompare, Compare: c} }
func Command(c LookupCommand) Operand { return Operand{Kind: KindCommand, Command: c} }
func Interrupt(k InterruptKind) Operand { return Operand{Kind: KindInterrupt, Interrupt: k} }
func CompiledProgram(p *Program) Operand { return Operand{Kind: KindProgram, Program: p} }

// None is the zero Operand, used for unused operand slots.
var None = Operand{Kind: KindNone}

// HasCompiledTemplate reports whether a RENDER_PARTIAL/INCLUDE_PARTIAL args
// list already carries the synthetic "__compiled_template__" key attached
// by the inliner.
func (o Operand) HasCompiledTemplate() bool {
	if o.Kind != KindArgs {
		return false
	}
	for _, a := range o.Args {
		if a.Key == compiledTemplateKey {
			return true
		}
	}
	return false
}

const compiledTemplateKey = "__compiled_template__"

// CompiledTemplateKey is the synthetic arg key the partial inliner attaches
// to RENDER_PARTIAL/INCLUDE_PARTIAL args when it has a compiled bundle to embed.
const CompiledTemplateKey = compiledTemplateKey

// Instruction is a tagged record: an opcode and 0-3 operands. Instructions
// never reference each other directly; jumps carry label ids (pre-link) or
// instruction indices (post-link) in an Int operand.
type Instruction struct {
	Op   OpCode
	A, B, C Operand
}

// Span is a source byte range, kept parallel to Instructions (invariant
// len(Spans) == len(Instructions) at all times).
type Span struct {
	Start, End int
}

// Program bundles the instruction stream with its parallel span array and
// tracks whether jump operands have been resolved to instruction indices
// yet (Linked).
type Program struct {
	Instructions []Instruction
	Spans        []Span
	Linked       bool
}

// Len returns the instruction count, matching len(Spans).
func (p *Program) Len() int { return len(p.Instructions) }

// Insert splices instructions (with matching spans) at index i, keeping
// Spans in lockstep per invariant (d).
func (p *Program) Insert(i int, instrs []Instruction, spans []Span) {
	if len(instrs) != len(spans) {
		panic("il: Insert instrs/spans length mismatch")
	}
	p.Instructions = append(p.Instructions[:i:i], append(append([]Instruction{}, instrs...), p.Instructions[i:]...)...)
	p.Spans = append(p.Spans[:i:i], append(append([]Span{}, spans...), p.Spans[i:]...)...)
}

// ReplaceRange replaces instructions/spans in [start,end) with a single
// replacement instruction, collapsing its span to the union of the
// replaced range (start of first, end of last).
func (p *Program) ReplaceRange(start, end int, instr Instruction) {
	if start >= end || end > len(p.Instructions) {
		panic("il: ReplaceRange out of bounds")
	}
	span := Span{Start: p.Spans[start].Start, End: p.Spans[end-1].End}
	p.Instructions = append(p.Instructions[:start], append([]Instruction{instr}, p.Instructions[end:]...)...)
	p.Spans = append(p.Spans[:start], append([]Span{span}, p.Spans[end:]...)...)
}

// DeleteRange removes instructions/spans in [start,end).
func (p *Program) DeleteRange(start, end int) {
	if start > end || end > len(p.Instructions) {
		panic("il: DeleteRange out of bounds")
	}
	p.Instructions = append(p.Instructions[:start], p.Instructions[end:]...)
	p.Spans = append(p.Spans[:start], p.Spans[end:]...)
}

// CheckInvariant panics if the span/instruction arrays have diverged in
// length — every pass must maintain invariant (d).
func (p *Program) CheckInvariant() {
	if len(p.Instructions) != len(p.Spans) {
		panic("il: instructions/spans length mismatch")
	}
}
