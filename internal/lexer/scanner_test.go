package lexer

import "testing"

func typesOf(toks []Token) []TokenType {
	types := make([]TokenType, len(toks))
	for i, t := range toks {
		types[i] = t.Type
	}
	return types
}

func assertTypes(t *testing.T, got []Token, want ...TokenType) {
	t.Helper()
	gotTypes := typesOf(got)
	if len(gotTypes) != len(want) {
		t.Fatalf("got %v tokens, want %v", gotTypes, want)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("token %d: got %s, want %s (%v)", i, gotTypes[i], want[i], gotTypes)
		}
	}
}

func TestScanPlainText(t *testing.T) {
	toks := NewScanner("hello world").ScanTokens()
	assertTypes(t, toks, TokenText, TokenEOF)
	if toks[0].Lexeme != "hello world" {
		t.Fatalf("unexpected lexeme %q", toks[0].Lexeme)
	}
}

func TestScanOutputTag(t *testing.T) {
	toks := NewScanner("{{ name }}").ScanTokens()
	assertTypes(t, toks, TokenOutputOpen, TokenIdent, TokenOutputClose, TokenEOF)
	if toks[1].Lexeme != "name" {
		t.Fatalf("unexpected identifier lexeme %q", toks[1].Lexeme)
	}
}

func TestScanFilterChain(t *testing.T) {
	toks := NewScanner(`{{ name | upcase | truncate: 5 }}`).ScanTokens()
	assertTypes(t, toks,
		TokenOutputOpen, TokenIdent, TokenPipe, TokenIdent, TokenPipe, TokenIdent, TokenColon, TokenInt,
		TokenOutputClose, TokenEOF)
}

func TestScanControlTag(t *testing.T) {
	toks := NewScanner(`{% if a.b == "x" and c contains 1 %}`).ScanTokens()
	assertTypes(t, toks,
		TokenTagOpen, TokenIdent, TokenIdent, TokenDot, TokenIdent, TokenEq, TokenString,
		TokenAnd, TokenIdent, TokenContains, TokenInt, TokenTagClose, TokenEOF)
}

func TestScanNumbers(t *testing.T) {
	toks := NewScanner("{{ 1 2.5 -3 }}").ScanTokens()
	assertTypes(t, toks, TokenOutputOpen, TokenInt, TokenFloat, TokenInt, TokenOutputClose, TokenEOF)
	if toks[3].Lexeme != "-3" {
		t.Fatalf("expected negative literal lexeme, got %q", toks[3].Lexeme)
	}
}

func TestScanRangeAndComparisons(t *testing.T) {
	toks := NewScanner("{{ (1..5) }}{% if a <= b and c >= d %}").ScanTokens()
	assertTypes(t, toks,
		TokenOutputOpen, TokenLParen, TokenInt, TokenRange, TokenInt, TokenRParen, TokenOutputClose,
		TokenTagOpen, TokenIdent, TokenIdent, TokenLe, TokenIdent, TokenAnd, TokenIdent, TokenGe, TokenIdent,
		TokenTagClose, TokenEOF)
}

func TestScanKeywordLiterals(t *testing.T) {
	toks := NewScanner("{{ true false nil empty blank }}").ScanTokens()
	assertTypes(t, toks, TokenOutputOpen, TokenTrue, TokenFalse, TokenNil, TokenEmpty, TokenBlank, TokenOutputClose, TokenEOF)
}

func TestTokenPositionsCoverSource(t *testing.T) {
	src := "{{ name }}"
	toks := NewScanner(src).ScanTokens()
	for _, tok := range toks {
		if tok.Type == TokenEOF {
			continue
		}
		if tok.Pos < 0 || tok.End > len(src) || tok.Pos > tok.End {
			t.Fatalf("token %+v has invalid byte range for source length %d", tok, len(src))
		}
	}
}
