package assembler

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes
const (
	whitespaceCode = iota + 1
	commentCode
	identifierCode
	numberCode
	stringCode
	commaCode
	colonCode
	openParenCode
	closeParenCode
)

// Token definitions
var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	commentToken    = parsly.NewToken(commentCode, "Comment", &commentMatcher{})
	identifierToken = parsly.NewToken(identifierCode, "Identifier", &identifierMatcher{})
	numberToken     = parsly.NewToken(numberCode, "Number", &numberMatcher{})
	stringToken     = parsly.NewToken(stringCode, "String", &quoteMatcher{quote: '"'})
	charToken       = parsly.NewToken(numberCode, "Char", &quoteMatcher{quote: '\''})
	commaToken      = parsly.NewToken(commaCode, ",", matcher.NewByte(','))
	colonToken      = parsly.NewToken(colonCode, ":", matcher.NewByte(':'))
	openParenToken  = parsly.NewToken(openParenCode, "(", matcher.NewByte('('))
	closeParenToken = parsly.NewToken(closeParenCode, ")", matcher.NewByte(')'))
)

// commentMatcher matches ; or # up to the end of the line
type commentMatcher struct{}

func (m *commentMatcher) Match(cursor *parsly.Cursor) int {
	pos := cursor.Pos
	if pos >= cursor.InputSize {
		return 0
	}
	if c := cursor.Input[pos]; c != ';' && c != '#' {
		return 0
	}
	return cursor.InputSize - pos
}

// identifierMatcher matches labels, mnemonics, registers and directives
type identifierMatcher struct{}

func (m *identifierMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	if pos >= cursor.InputSize {
		return 0
	}
	if c := input[pos]; !isLetter(c) && c != '_' && c != '.' {
		return 0
	}
	matched := 1
	for i := pos + 1; i < cursor.InputSize; i++ {
		if c := input[i]; isLetter(c) || isDigit(c) || c == '_' || c == '.' {
			matched++
			continue
		}
		break
	}
	return matched
}

// numberMatcher matches decimal and 0x prefixed hexadecimal literals with
// an optional sign
type numberMatcher struct{}

func (m *numberMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize
	i := pos
	if i < size && (input[i] == '-' || input[i] == '+') {
		i++
	}
	start := i
	if i+1 < size && input[i] == '0' && (input[i+1] == 'x' || input[i+1] == 'X') {
		i += 2
		start = i
		for i < size && isHex(input[i]) {
			i++
		}
	} else {
		for i < size && isDigit(input[i]) {
			i++
		}
	}
	if i == start {
		return 0
	}
	if i < size && (isLetter(input[i]) || input[i] == '_') {
		return 0
	}
	return i - pos
}

// quoteMatcher matches a quoted literal with backslash escapes
type quoteMatcher struct {
	quote byte
}

func (m *quoteMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	if pos >= cursor.InputSize || input[pos] != m.quote {
		return 0
	}
	for i := pos + 1; i < cursor.InputSize; i++ {
		switch input[i] {
		case '\\':
			i++
		case m.quote:
			return i - pos + 1
		}
	}
	return 0
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
