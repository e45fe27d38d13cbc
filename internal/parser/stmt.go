package parser

import (
	"liquidil/internal/il"
	"liquidil/internal/lexer"
)

// loopCtx records the label a break/continue tag inside the current
// {% for %} body must jump to once its interrupt signal is set — the
// instruction right before FOR_NEXT. {% tablerow %} pushes no loopCtx, so
// break/continue inside a tablerow body is reported as outside a loop.
type loopCtx struct {
	bodyEnd int64
}

func (p *Parser) parseTag() {
	open := p.advance() // "{%"
	name := p.consume(lexer.TokenIdent, "expected tag name")
	switch name.Lexeme {
	case "if":
		p.ifTag(open)
	case "unless":
		p.unlessTag(open)
	case "case":
		p.caseTag(open)
	case "for":
		p.forTag(open)
	case "tablerow":
		p.tablerowTag(open)
	case "break":
		p.interruptTag(open, il.InterruptBreak)
	case "continue":
		p.interruptTag(open, il.InterruptContinue)
	case "assign":
		p.assignTag(open)
	case "capture":
		p.captureTag(open)
	case "increment":
		p.incDecTag(open, il.OpIncrement)
	case "decrement":
		p.incDecTag(open, il.OpDecrement)
	case "cycle":
		p.cycleTag(open)
	case "include":
		p.partialTag(open, true)
	case "render":
		p.partialTag(open, false)
	case "ifchanged":
		p.ifchangedTag(open)
	default:
		p.errorf("unknown tag %q", name.Lexeme)
		p.skipToTagClose()
	}
}

func (p *Parser) skipToTagClose() {
	for !p.isAtEnd() && !p.check(lexer.TokenTagClose) {
		p.advance()
	}
	if p.check(lexer.TokenTagClose) {
		p.advance()
	}
}

// ifTag handles if/elsif/else/endif, compiling the whole chain as nested
// genuine (non-short-circuit) conditionals:
//
//	<cond> JUMP_IF_FALSE Lnext <then> JUMP Lend Lnext: <elsif-or-else> Lend:
func (p *Parser) ifTag(open lexer.Token) {
	p.expression()
	p.consume(lexer.TokenTagClose, "expected '%}'")
	end := p.newLabel()
	p.ifBranch(open, end)
	p.label(end)
}

// ifBranch emits one branch's JUMP_IF_FALSE/body, assuming the branch's
// condition has already been pushed on the stack, then recurses into any
// elsif/else tail, finally consuming the matching "{% endif %}".
func (p *Parser) ifBranch(open lexer.Token, end int64) {
	next := p.newLabel()
	p.emit(il.Instruction{Op: il.OpJumpIfFalse, A: il.Int(next)}, p.spanFor(open))
	p.parseSequence(stopSet{"elsif": true, "else": true, "endif": true})
	p.emit(il.Instruction{Op: il.OpJump, A: il.Int(end)}, p.spanFor(open))
	p.label(next)

	tagOpen := p.advance() // "{%"
	kw := p.consume(lexer.TokenIdent, "expected elsif/else/endif")
	switch kw.Lexeme {
	case "elsif":
		p.expression()
		p.consume(lexer.TokenTagClose, "expected '%}'")
		p.ifBranch(tagOpen, end)
	case "else":
		p.consume(lexer.TokenTagClose, "expected '%}'")
		p.parseSequence(stopSet{"endif": true})
		p.advance() // "{%"
		p.consumeIdent("endif", "expected endif")
		p.consume(lexer.TokenTagClose, "expected '%}'")
	case "endif":
		p.consume(lexer.TokenTagClose, "expected '%}'")
	default:
		p.errorf("expected elsif/else/endif, got %q", kw.Lexeme)
	}
}

// unlessTag is if's negation: skip the body when the condition is truthy.
func (p *Parser) unlessTag(open lexer.Token) {
	p.expression()
	p.consume(lexer.TokenTagClose, "expected '%}'")
	end := p.newLabel()
	elseLbl := p.newLabel()
	p.emit(il.Instruction{Op: il.OpJumpIfTrue, A: il.Int(elseLbl)}, p.spanFor(open))
	kw := p.parseSequence(stopSet{"else": true, "endunless": true})
	p.emit(il.Instruction{Op: il.OpJump, A: il.Int(end)}, p.spanFor(open))
	p.label(elseLbl)
	if kw == "else" {
		p.advance()
		p.advance() // "else"
		p.consume(lexer.TokenTagClose, "expected '%}'")
		p.parseSequence(stopSet{"endunless": true})
	}
	p.label(end)
	p.advance() // "{%"
	p.consumeIdent("endunless", "expected endunless")
	p.consume(lexer.TokenTagClose, "expected '%}'")
}

// caseTag compiles case/when/else/endcase into a chain of CASE_COMPARE
// conditionals against a temp-held copy of the subject, matching the
// if/elsif structure above.
func (p *Parser) caseTag(open lexer.Token) {
	p.expression()
	slot := p.newTemp()
	p.emit(il.Instruction{Op: il.OpStoreTemp, A: il.Int(slot)}, p.spanFor(open))
	p.consume(lexer.TokenTagClose, "expected '%}'")

	// Skip any raw text/whitespace before the first "{% when %}".
	for p.check(lexer.TokenText) {
		p.advance()
	}

	end := p.newLabel()
	for {
		if !p.check(lexer.TokenTagOpen) {
			break
		}
		tagOpen := p.advance()
		kw := p.consume(lexer.TokenIdent, "expected when/else/endcase")
		switch kw.Lexeme {
		case "when":
			next := p.newLabel()
			p.emit(il.Instruction{Op: il.OpLoadTemp, A: il.Int(slot)}, p.spanFor(tagOpen))
			p.expression()
			p.emit(il.Instruction{Op: il.OpCaseCompare}, p.spanFor(tagOpen))
			for p.check(lexer.TokenComma) {
				p.advance()
				matched := p.newLabel()
				done := p.newLabel()
				p.emit(il.Instruction{Op: il.OpJumpIfTrue, A: il.Int(matched)}, p.spanFor(tagOpen))
				p.emit(il.Instruction{Op: il.OpLoadTemp, A: il.Int(slot)}, p.spanFor(tagOpen))
				p.expression()
				p.emit(il.Instruction{Op: il.OpCaseCompare}, p.spanFor(tagOpen))
				p.emit(il.Instruction{Op: il.OpJump, A: il.Int(done)}, p.spanFor(tagOpen))
				p.label(matched)
				p.emit(il.Instruction{Op: il.OpConstTrue}, p.spanFor(tagOpen))
				p.label(done)
			}
			p.consume(lexer.TokenTagClose, "expected '%}'")
			p.emit(il.Instruction{Op: il.OpJumpIfFalse, A: il.Int(next)}, p.spanFor(tagOpen))
			p.parseSequence(stopSet{"when": true, "else": true, "endcase": true})
			p.emit(il.Instruction{Op: il.OpJump, A: il.Int(end)}, p.spanFor(tagOpen))
			p.label(next)
		case "else":
			p.consume(lexer.TokenTagClose, "expected '%}'")
			p.parseSequence(stopSet{"endcase": true})
			p.emit(il.Instruction{Op: il.OpJump, A: il.Int(end)}, p.spanFor(tagOpen))
		case "endcase":
			p.consume(lexer.TokenTagClose, "expected '%}'")
			p.label(end)
			return
		default:
			p.errorf("expected when/else/endcase, got %q", kw.Lexeme)
			return
		}
	}
	p.label(end)
}

func (p *Parser) forTag(open lexer.Token) {
	varTok := p.consume(lexer.TokenIdent, "expected loop variable")
	p.consumeIdent("in", "expected 'in'")
	p.expression()
	reversed := int64(0)
	if p.matchIdent("reversed") {
		reversed = 1
	}
	p.consume(lexer.TokenTagClose, "expected '%}'")

	p.emit(il.Instruction{Op: il.OpForInit, A: il.Symbol(varTok.Lexeme), C: il.Int(reversed)}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpPushForloop}, p.spanFor(open))

	bodyEnd := p.newLabel()
	p.loopStack = append(p.loopStack, loopCtx{bodyEnd: bodyEnd})
	p.parseSequence(stopSet{"endfor": true})
	p.loopStack = p.loopStack[:len(p.loopStack)-1]

	p.label(bodyEnd)
	p.emit(il.Instruction{Op: il.OpForNext}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpPopForloop}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpForEnd}, p.spanFor(open))

	p.advance() // "{%"
	p.consumeIdent("endfor", "expected endfor")
	p.consume(lexer.TokenTagClose, "expected '%}'")
}

func (p *Parser) tablerowTag(open lexer.Token) {
	varTok := p.consume(lexer.TokenIdent, "expected loop variable")
	p.consumeIdent("in", "expected 'in'")
	p.expression()
	cols := int64(0)
	if p.checkIdent("cols") {
		p.advance()
		p.consume(lexer.TokenColon, "expected ':'")
		tok := p.consume(lexer.TokenInt, "expected column count")
		n := int64(0)
		for _, c := range tok.Lexeme {
			n = n*10 + int64(c-'0')
		}
		cols = n
	}
	p.consume(lexer.TokenTagClose, "expected '%}'")

	p.emit(il.Instruction{Op: il.OpTablerowInit, A: il.Symbol(varTok.Lexeme), C: il.Int(cols)}, p.spanFor(open))
	p.parseSequence(stopSet{"endtablerow": true})
	p.emit(il.Instruction{Op: il.OpTablerowNext}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpTablerowEnd}, p.spanFor(open))

	p.advance() // "{%"
	p.consumeIdent("endtablerow", "expected endtablerow")
	p.consume(lexer.TokenTagClose, "expected '%}'")
}

// interruptTag implements break/continue: set the signal, then jump
// straight to the enclosing loop's body-end label. Presence of
// PUSH_INTERRUPT anywhere in the program is what forces lowering to
// refuse it and fall back to the VM (internal/lowering's refusal list).
func (p *Parser) interruptTag(open lexer.Token, kind il.InterruptKind) {
	p.consume(lexer.TokenTagClose, "expected '%}'")
	if len(p.loopStack) == 0 {
		p.errorf("break/continue outside a for loop")
		return
	}
	target := p.loopStack[len(p.loopStack)-1].bodyEnd
	p.emit(il.Instruction{Op: il.OpPushInterrupt, A: il.Interrupt(kind)}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpJumpIfInterrupt, A: il.Int(target)}, p.spanFor(open))
}

func (p *Parser) assignTag(open lexer.Token) {
	name := p.consume(lexer.TokenIdent, "expected variable name")
	p.consume(lexer.TokenAssign, "expected '='")
	p.expression()
	for p.check(lexer.TokenPipe) {
		p.advance()
		p.filter()
	}
	p.consume(lexer.TokenTagClose, "expected '%}'")
	p.emit(il.Instruction{Op: il.OpAssign, A: il.Symbol(name.Lexeme)}, p.spanFor(open))
}

func (p *Parser) captureTag(open lexer.Token) {
	name := p.consume(lexer.TokenIdent, "expected variable name")
	p.consume(lexer.TokenTagClose, "expected '%}'")
	p.emit(il.Instruction{Op: il.OpPushCapture}, p.spanFor(open))
	p.parseSequence(stopSet{"endcapture": true})
	p.emit(il.Instruction{Op: il.OpPopCapture}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpAssign, A: il.Symbol(name.Lexeme)}, p.spanFor(open))
	p.advance() // "{%"
	p.consumeIdent("endcapture", "expected endcapture")
	p.consume(lexer.TokenTagClose, "expected '%}'")
}

// incDecTag implements {% increment x %}/{% decrement x %} as a statement
// that writes its own result, mirroring lowering.incDecExpr's status as a
// stack-producer consumed by an implicit WRITE_VALUE.
func (p *Parser) incDecTag(open lexer.Token, op il.OpCode) {
	name := p.consume(lexer.TokenIdent, "expected variable name")
	p.consume(lexer.TokenTagClose, "expected '%}'")
	p.emit(il.Instruction{Op: op, A: il.Symbol(name.Lexeme)}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpWriteValue}, p.spanFor(open))
}

// cycleTag implements {% cycle [group:] v1, v2, ... %}. An explicit
// string group name compiles to CYCLE_STEP; an explicit variable group
// name compiles to CYCLE_STEP_VAR (identity read at render time); with no
// group name the joined literal text of the value list is used as the
// identity, matching Liquid's own implicit-grouping convention.
func (p *Parser) cycleTag(open lexer.Token) {
	var identity string
	var identityVar string
	dynamic := false

	if (p.check(lexer.TokenString) || p.check(lexer.TokenIdent)) && p.peekAhead(1).Type == lexer.TokenColon {
		tok := p.advance()
		p.advance() // ':'
		if tok.Type == lexer.TokenString {
			identity = tok.Lexeme
		} else {
			dynamic = true
			identityVar = tok.Lexeme
		}
	}

	implicit := identity == "" && !dynamic
	var values []il.CycleValue
	first := true
	for first || p.check(lexer.TokenComma) {
		if !first {
			p.advance()
		}
		first = false
		tok := p.peek()
		switch tok.Type {
		case lexer.TokenString:
			p.advance()
			values = append(values, il.CycleValue{Lit: il.Str(tok.Lexeme)})
			if implicit {
				identity += tok.Lexeme + "|"
			}
		case lexer.TokenInt:
			p.advance()
			n := int64(0)
			neg := false
			s := tok.Lexeme
			if len(s) > 0 && s[0] == '-' {
				neg = true
				s = s[1:]
			}
			for _, c := range s {
				n = n*10 + int64(c-'0')
			}
			if neg {
				n = -n
			}
			values = append(values, il.CycleValue{Lit: il.Int(n)})
			if implicit {
				identity += tok.Lexeme + "|"
			}
		case lexer.TokenIdent:
			p.advance()
			values = append(values, il.CycleValue{IsVar: true, Name: tok.Lexeme})
			if implicit {
				identity += tok.Lexeme + "|"
			}
		default:
			p.errorf("expected cycle value, got %s", tok.Type)
			p.advance()
		}
	}
	p.consume(lexer.TokenTagClose, "expected '%}'")

	if dynamic {
		p.emit(il.Instruction{Op: il.OpCycleStepVar, A: il.Symbol(identityVar), B: il.Cycle(values)}, p.spanFor(open))
	} else {
		p.emit(il.Instruction{Op: il.OpCycleStep, A: il.Str(identity), B: il.Cycle(values)}, p.spanFor(open))
	}
}

// partialTag implements {% render "name"[, k: v, ...] %} and
// {% include "name"[, k: v, ...] %}. Argument values are restricted to a
// bare identifier (read from the calling scope) or a literal constant —
// the VM's evalArgOperand convention (DESIGN.md) has no way to evaluate an
// arbitrary nested expression for a render/include argument.
func (p *Parser) partialTag(open lexer.Token, include bool) {
	nameTok := p.consume(lexer.TokenString, "expected partial name")
	var args []il.Arg
	for p.check(lexer.TokenComma) {
		p.advance()
		key := p.consume(lexer.TokenIdent, "expected argument name")
		p.consume(lexer.TokenColon, "expected ':'")
		args = append(args, il.Arg{Key: key.Lexeme, Value: p.argOperand()})
	}
	p.consume(lexer.TokenTagClose, "expected '%}'")

	op := il.OpConstRender
	if include {
		op = il.OpConstInclude
	}
	p.emit(il.Instruction{Op: op, A: il.Symbol(nameTok.Lexeme), B: il.Args(args)}, p.spanFor(open))
}

func (p *Parser) argOperand() il.Operand {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenIdent:
		p.advance()
		return il.Symbol(tok.Lexeme)
	case lexer.TokenString:
		p.advance()
		return il.Str(tok.Lexeme)
	case lexer.TokenInt:
		p.advance()
		n := int64(0)
		for _, c := range tok.Lexeme {
			n = n*10 + int64(c-'0')
		}
		return il.Int(n)
	case lexer.TokenTrue:
		p.advance()
		return il.Int(1)
	case lexer.TokenFalse:
		p.advance()
		return il.Int(0)
	default:
		p.errorf("expected argument value, got %s", tok.Type)
		p.advance()
		return il.Operand{}
	}
}

// ifchangedTag implements {% ifchanged %}...{% endifchanged %}: the body
// is captured and only written when its rendered text differs from the
// last time this exact instruction ran (IFCHANGED_CHECK is keyed by
// instruction index, so this state naturally persists across loop
// iterations within one render). IFCHANGED_CHECK consumes the value it
// compares, so the captured text is DUPed first: one copy is spent on the
// check, the other is either written (changed) or discarded (unchanged).
func (p *Parser) ifchangedTag(open lexer.Token) {
	p.consume(lexer.TokenTagClose, "expected '%}'")
	skip := p.newLabel()
	end := p.newLabel()
	p.emit(il.Instruction{Op: il.OpPushCapture}, p.spanFor(open))
	p.parseSequence(stopSet{"endifchanged": true})
	p.emit(il.Instruction{Op: il.OpPopCapture}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpDup}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpIfchangedCheck, A: il.Int(skip)}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpWriteValue}, p.spanFor(open))
	p.emit(il.Instruction{Op: il.OpJump, A: il.Int(end)}, p.spanFor(open))
	p.label(skip)
	p.emit(il.Instruction{Op: il.OpPop}, p.spanFor(open))
	p.label(end)
	p.advance() // "{%"
	p.consumeIdent("endifchanged", "expected endifchanged")
	p.consume(lexer.TokenTagClose, "expected '%}'")
}
