// Package parser turns a Liquid-family token stream into the raw linear IL
// spec.md describes: there is no intermediate AST stage (unlike the
// teacher's Sentra parser) since stack-shaped IL is already the natural
// post-order encoding of an expression tree — the parser's job is simply
// to walk the grammar and append instructions/spans as it recognizes each
// construct.
package parser

import (
	"fmt"

	tmplerrors "liquidil/internal/errors"
	"liquidil/internal/il"
	"liquidil/internal/lexer"
)

// Parser walks the token stream and emits a *il.Program directly.
type Parser struct {
	tokens  []lexer.Token
	current int
	instrs  []il.Instruction
	spans   []il.Span
	labels    int64
	temps     int64
	loopStack []loopCtx
	Errors    []error
}

func New(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse compiles the whole token stream (raw text runs plus tags/output)
// into an unlinked, unoptimized *il.Program, terminated by HALT.
func Parse(source string) (*il.Program, error) {
	toks := lexer.NewScanner(source).ScanTokens()
	p := New(toks)
	p.parseSequence(nil)
	p.emit(il.Instruction{Op: il.OpHalt}, p.spanAt(p.current))
	if len(p.Errors) > 0 {
		return nil, p.Errors[0]
	}
	return &il.Program{Instructions: p.instrs, Spans: p.spans}, nil
}

// stopSet names the tag keywords that end the current sequence without
// being consumed by it (e.g. "endif" ends an if-branch's statement run).
type stopSet map[string]bool

func (p *Parser) parseSequence(stop stopSet) string {
	for !p.isAtEnd() {
		switch p.peek().Type {
		case lexer.TokenText:
			tok := p.advance()
			if tok.Lexeme != "" {
				p.emit(il.Instruction{Op: il.OpWriteRaw, A: il.Str(tok.Lexeme)}, p.spanFor(tok))
			}
		case lexer.TokenOutputOpen:
			p.parseOutput()
		case lexer.TokenTagOpen:
			name, ok := p.peekTagName()
			if ok && stop[name] {
				return name
			}
			p.parseTag()
		default:
			p.advance()
		}
	}
	return ""
}

// peekTagName looks one token past "{%" to read the tag keyword without
// consuming anything, so callers can decide whether a block ends here.
func (p *Parser) peekTagName() (string, bool) {
	if p.current+1 >= len(p.tokens) {
		return "", false
	}
	tok := p.tokens[p.current+1]
	if tok.Type != lexer.TokenIdent {
		return "", false
	}
	return tok.Lexeme, true
}

func (p *Parser) parseOutput() {
	open := p.advance() // "{{"
	p.expression()
	for p.check(lexer.TokenPipe) {
		p.advance()
		p.filter()
	}
	p.consume(lexer.TokenOutputClose, "expected '}}'")
	p.emit(il.Instruction{Op: il.OpWriteValue}, p.spanFor(open))
}

// filter parses "name[: arg, arg...]" with the input already on the
// stack, emitting each arg expression directly followed by CALL_FILTER —
// the stack-shaped IL needs no separate arg collection since postorder
// emission already leaves them in the order CALL_FILTER expects.
func (p *Parser) filter() {
	name := p.consume(lexer.TokenIdent, "expected filter name")
	argc := 0
	if p.check(lexer.TokenColon) {
		p.advance()
		p.expression()
		argc++
		for p.check(lexer.TokenComma) {
			p.advance()
			p.expression()
			argc++
		}
	}
	p.emit(il.Instruction{Op: il.OpCallFilter, A: il.Symbol(name.Lexeme), B: il.Int(int64(argc))}, p.spanFor(name))
}

func (p *Parser) emit(ins il.Instruction, span il.Span) {
	p.instrs = append(p.instrs, ins)
	p.spans = append(p.spans, span)
}

func (p *Parser) newLabel() int64 {
	p.labels++
	return p.labels
}

func (p *Parser) label(id int64) {
	p.emit(il.Instruction{Op: il.OpLabel, A: il.Int(id)}, p.spanAt(p.current))
}

func (p *Parser) newTemp() int64 {
	slot := p.temps
	p.temps++
	return slot
}

func (p *Parser) spanFor(tok lexer.Token) il.Span { return il.Span{Start: tok.Pos, End: tok.End} }

func (p *Parser) spanAt(i int) il.Span {
	if i < len(p.tokens) {
		return p.spanFor(p.tokens[i])
	}
	if len(p.tokens) > 0 {
		return p.spanFor(p.tokens[len(p.tokens)-1])
	}
	return il.Span{}
}

func (p *Parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.Errors = append(p.Errors, tmplerrors.NewSyntaxError(msg, "", p.peek().Line, 0))
}

func (p *Parser) peek() lexer.Token  { return p.tokens[p.current] }
func (p *Parser) isAtEnd() bool      { return p.peek().Type == lexer.TokenEOF }
func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if !p.isAtEnd() {
		p.current++
	}
	return tok
}
func (p *Parser) check(t lexer.TokenType) bool { return !p.isAtEnd() && p.peek().Type == t }
func (p *Parser) checkIdent(name string) bool {
	return p.check(lexer.TokenIdent) && p.peek().Lexeme == name
}
func (p *Parser) matchIdent(name string) bool {
	if p.checkIdent(name) {
		p.advance()
		return true
	}
	return false
}
func (p *Parser) consume(t lexer.TokenType, msg string) lexer.Token {
	if p.check(t) {
		return p.advance()
	}
	p.errorf("%s, got %s", msg, p.peek().Type)
	return p.peek()
}
func (p *Parser) consumeIdent(name, msg string) lexer.Token {
	if p.checkIdent(name) {
		return p.advance()
	}
	p.errorf("%s, got %q", msg, p.peek().Lexeme)
	return p.peek()
}
