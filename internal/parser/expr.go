package parser

import (
	"strconv"

	"liquidil/internal/il"
	"liquidil/internal/lexer"
)

// expression parses the full `and`/`or` precedence level, emitting
// instructions directly in postorder. `and`/`or` compile to the
// short-circuit jump pattern lowering.generateConditional recognizes:
//
//	<left>
//	JUMP_IF_FALSE Lrhs   (JUMP_IF_TRUE for or)
//	<right>
//	JUMP Lend
//	Lrhs: CONST_FALSE    (CONST_TRUE for or)
//	Lend:
func (p *Parser) expression() {
	p.orExpr()
}

func (p *Parser) orExpr() {
	p.andExpr()
	for p.matchIdent("or") {
		tok := p.tokens[p.current-1]
		sentinel := p.newLabel()
		end := p.newLabel()
		p.emit(il.Instruction{Op: il.OpJumpIfTrue, A: il.Int(sentinel)}, p.spanFor(tok))
		p.andExpr()
		p.emit(il.Instruction{Op: il.OpJump, A: il.Int(end)}, p.spanFor(tok))
		p.label(sentinel)
		p.emit(il.Instruction{Op: il.OpConstTrue}, p.spanFor(tok))
		p.label(end)
	}
}

func (p *Parser) andExpr() {
	p.comparison()
	for p.matchIdent("and") {
		tok := p.tokens[p.current-1]
		sentinel := p.newLabel()
		end := p.newLabel()
		p.emit(il.Instruction{Op: il.OpJumpIfFalse, A: il.Int(sentinel)}, p.spanFor(tok))
		p.comparison()
		p.emit(il.Instruction{Op: il.OpJump, A: il.Int(end)}, p.spanFor(tok))
		p.label(sentinel)
		p.emit(il.Instruction{Op: il.OpConstFalse}, p.spanFor(tok))
		p.label(end)
	}
}

var compareOps = map[lexer.TokenType]il.CompareOp{
	lexer.TokenEq: il.CmpEq, lexer.TokenNe: il.CmpNe,
	lexer.TokenLt: il.CmpLt, lexer.TokenLe: il.CmpLe,
	lexer.TokenGt: il.CmpGt, lexer.TokenGe: il.CmpGe,
}

func (p *Parser) comparison() {
	p.rangeExpr()
	for {
		tok := p.peek()
		if op, ok := compareOps[tok.Type]; ok {
			p.advance()
			p.rangeExpr()
			p.emit(il.Instruction{Op: il.OpCompare, A: il.Cmp(op)}, p.spanFor(tok))
			continue
		}
		if tok.Type == lexer.TokenContains {
			p.advance()
			p.rangeExpr()
			p.emit(il.Instruction{Op: il.OpContains}, p.spanFor(tok))
			continue
		}
		break
	}
}

// rangeExpr handles the lo..hi inside a "(lo..hi)" range literal; the
// parens themselves are consumed by primary as an ordinary parenthesized
// group. It sits below comparison and above the primary/postfix level.
func (p *Parser) rangeExpr() {
	p.unary()
	if p.check(lexer.TokenRange) {
		tok := p.advance()
		p.unary()
		p.emit(il.Instruction{Op: il.OpNewRange}, p.spanFor(tok))
	}
}

func (p *Parser) unary() {
	if p.checkIdent("not") {
		tok := p.advance()
		p.unary()
		p.emit(il.Instruction{Op: il.OpBoolNot}, p.spanFor(tok))
		return
	}
	p.postfix()
}

// postfix parses a primary expression followed by any number of
// dotted/bracketed property accesses, collapsing a run of literal-key
// accesses rooted at a bare variable into a single FIND_VAR_PATH, and
// falling back to LOOKUP_KEY/LOOKUP_CONST_KEY chains otherwise — mirroring
// the shapes internal/optimizer's collapse passes already expect.
func (p *Parser) postfix() {
	rootTok, isVar := p.primary()
	if !isVar {
		p.trailers()
		return
	}
	// Try to collapse a pure dotted/indexed chain into FIND_VAR_PATH.
	save := p.current
	if path, ok := p.tryConstPath(); ok {
		// Overwrite the FIND_VAR emitted by primary() with FIND_VAR_PATH.
		p.instrs[len(p.instrs)-1] = il.Instruction{Op: il.OpFindVarPath, A: il.Symbol(rootTok.Lexeme), B: il.Path(path)}
		return
	}
	p.current = save
	p.trailers()
}

// tryConstPath speculatively parses a run of ".ident" / "[int]" /
// "['string']" trailers, returning the flattened key path if the whole
// run consists of literal keys (no dynamic bracket expressions, no
// command trailers), leaving the cursor past the run on success.
func (p *Parser) tryConstPath() ([]string, bool) {
	var path []string
	for {
		switch {
		case p.check(lexer.TokenDot) && p.peekAhead(1).Type == lexer.TokenIdent:
			p.advance()
			ident := p.advance()
			if isCommandName(ident.Lexeme) {
				return nil, false
			}
			path = append(path, ident.Lexeme)
		case p.check(lexer.TokenLBrack) && p.peekAhead(1).Type == lexer.TokenInt && p.peekAhead(2).Type == lexer.TokenRBrack:
			p.advance()
			idx := p.advance()
			p.advance()
			path = append(path, idx.Lexeme)
		case p.check(lexer.TokenLBrack) && p.peekAhead(1).Type == lexer.TokenString && p.peekAhead(2).Type == lexer.TokenRBrack:
			p.advance()
			key := p.advance()
			p.advance()
			path = append(path, key.Lexeme)
		default:
			if len(path) == 0 {
				return nil, false
			}
			return path, true
		}
	}
}

func isCommandName(name string) bool {
	switch name {
	case "size", "length", "first", "last":
		return true
	default:
		return false
	}
}

var commandOps = map[string]il.LookupCommand{
	"size": il.CmdSize, "length": il.CmdLength, "first": il.CmdFirst, "last": il.CmdLast,
}

// trailers parses dotted/bracketed/command accesses generically, with obj
// already pushed. Used once a dynamic key or a .size/.first-style command
// has been seen, or the root wasn't a bare variable.
func (p *Parser) trailers() {
	for {
		switch {
		case p.check(lexer.TokenDot):
			dot := p.advance()
			ident := p.consume(lexer.TokenIdent, "expected property name")
			if cmd, ok := commandOps[ident.Lexeme]; ok {
				p.emit(il.Instruction{Op: il.OpLookupCommand, A: il.Command(cmd)}, p.spanFor(ident))
				continue
			}
			p.emit(il.Instruction{Op: il.OpLookupConstKey, A: il.Str(ident.Lexeme)}, p.spanFor(dot))
		case p.check(lexer.TokenLBrack):
			open := p.advance()
			p.expression()
			p.consume(lexer.TokenRBrack, "expected ']'")
			p.emit(il.Instruction{Op: il.OpLookupKey}, p.spanFor(open))
		default:
			return
		}
	}
}

func (p *Parser) peekAhead(n int) lexer.Token {
	i := p.current + n
	if i >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[i]
}

// primary parses one atomic expression term, emitting it immediately.
// It reports the consumed identifier token and whether it was a bare
// variable reference (the only case postfix() may collapse into a
// FIND_VAR_PATH).
func (p *Parser) primary() (lexer.Token, bool) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenInt:
		p.advance()
		n, _ := strconv.ParseInt(tok.Lexeme, 10, 64)
		p.emit(il.Instruction{Op: il.OpConstInt, A: il.Int(n)}, p.spanFor(tok))
	case lexer.TokenFloat:
		p.advance()
		f, _ := strconv.ParseFloat(tok.Lexeme, 64)
		p.emit(il.Instruction{Op: il.OpConstFloat, A: il.Float(f)}, p.spanFor(tok))
	case lexer.TokenString:
		p.advance()
		p.emit(il.Instruction{Op: il.OpConstString, A: il.Str(tok.Lexeme)}, p.spanFor(tok))
	case lexer.TokenTrue:
		p.advance()
		p.emit(il.Instruction{Op: il.OpConstTrue}, p.spanFor(tok))
	case lexer.TokenFalse:
		p.advance()
		p.emit(il.Instruction{Op: il.OpConstFalse}, p.spanFor(tok))
	case lexer.TokenNil:
		p.advance()
		p.emit(il.Instruction{Op: il.OpConstNil}, p.spanFor(tok))
	case lexer.TokenEmpty:
		p.advance()
		p.emit(il.Instruction{Op: il.OpConstEmpty}, p.spanFor(tok))
	case lexer.TokenBlank:
		p.advance()
		p.emit(il.Instruction{Op: il.OpConstBlank}, p.spanFor(tok))
	case lexer.TokenLParen:
		p.advance()
		p.expression()
		p.consume(lexer.TokenRParen, "expected ')'")
	case lexer.TokenIdent:
		p.advance()
		p.emit(il.Instruction{Op: il.OpFindVar, A: il.Symbol(tok.Lexeme)}, p.spanFor(tok))
		return tok, true
	default:
		p.errorf("unexpected token %s in expression", tok.Type)
		p.advance()
	}
	return tok, false
}
