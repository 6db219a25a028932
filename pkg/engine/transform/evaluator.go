// Package transform implements the restricted transform language used by
// parse_list nodes. Programs are single expressions over the identifier
// `text`, evaluated in-process with no ambient I/O: the language is not
// Turing-complete (no loops, no bindings, no user-defined functions), values
// are strings and lists of strings, and evaluation runs under a deadline.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrSyntax indicates the program could not be parsed.
	ErrSyntax = errors.New("transform syntax error")
	// ErrUnknownIdentifier indicates a referenced name is not in scope.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrUnknownFunction indicates a call to a function that does not exist.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrTypeMismatch indicates an argument had an unsupported type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrNotAList indicates the program's final value was not a list.
	ErrNotAList = errors.New("program does not evaluate to a list")
)

// Options control evaluator behaviour.
type Options struct {
	Timeout time.Duration
}

// Evaluator evaluates transform programs against a single text input.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator constructs an Evaluator applying sane defaults.
func NewEvaluator(opts Options) *Evaluator {
	timeout := opts.Timeout
	if timeout <= 0 {
		// Programs are single expressions over one document; anything that
		// takes longer than this is runaway input, not a legitimate program.
		timeout = 250 * time.Millisecond
	}
	return &Evaluator{timeout: timeout}
}

// EvaluateList runs the program with `text` bound to the input and requires
// the final value to be an ordered list of strings.
func (e *Evaluator) EvaluateList(ctx context.Context, program, text string) ([]string, error) {
	value, err := e.Evaluate(ctx, program, text)
	if err != nil {
		return nil, err
	}
	list, ok := value.([]string)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotAList, value)
	}
	return list, nil
}

// Evaluate runs the program and returns its final value (string or []string).
func (e *Evaluator) Evaluate(ctx context.Context, program, text string) (any, error) {
	program = strings.TrimSpace(program)
	if program == "" {
		return nil, fmt.Errorf("%w: empty program", ErrSyntax)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, e.timeout)
	defer cancel()

	p := newParser(newLexer(program))
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokenEOF); err != nil {
		return nil, err
	}

	scope := map[string]any{"text": text}
	return node.eval(ctx, scope)
}

// --- Lexer ---

type tokenType int

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenString
	tokenComma
	tokenPipe
	tokenLParen
	tokenRParen
)

func (t tokenType) String() string {
	switch t {
	case tokenIllegal:
		return "illegal"
	case tokenEOF:
		return "eof"
	case tokenIdentifier:
		return "identifier"
	case tokenNumber:
		return "number"
	case tokenString:
		return "string"
	case tokenComma:
		return ","
	case tokenPipe:
		return "|"
	case tokenLParen:
		return "("
	case tokenRParen:
		return ")"
	default:
		return "unknown"
	}
}

type token struct {
	typ     tokenType
	literal string
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) next() token {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{typ: tokenEOF}
	}

	ch := l.input[l.pos]
	switch {
	case ch == '(':
		l.pos++
		return token{typ: tokenLParen, literal: "("}
	case ch == ')':
		l.pos++
		return token{typ: tokenRParen, literal: ")"}
	case ch == ',':
		l.pos++
		return token{typ: tokenComma, literal: ","}
	case ch == '|':
		l.pos++
		return token{typ: tokenPipe, literal: "|"}
	case ch == '"' || ch == '\'':
		return l.readString(ch)
	case unicode.IsDigit(rune(ch)):
		return l.readNumber()
	case unicode.IsLetter(rune(ch)) || ch == '_':
		return l.readIdentifier()
	default:
		l.pos++
		return token{typ: tokenIllegal, literal: string(ch)}
	}
}

func (l *lexer) readString(quote byte) token {
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.pos+1 < len(l.input) {
			next := l.input[l.pos+1]
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(next)
			}
			l.pos += 2
			continue
		}
		if ch == quote {
			l.pos++
			return token{typ: tokenString, literal: sb.String()}
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return token{typ: tokenIllegal, literal: sb.String()}
}

func (l *lexer) readNumber() token {
	start := l.pos
	for l.pos < len(l.input) && unicode.IsDigit(rune(l.input[l.pos])) {
		l.pos++
	}
	return token{typ: tokenNumber, literal: l.input[start:l.pos]}
}

func (l *lexer) readIdentifier() token {
	start := l.pos
	for l.pos < len(l.input) {
		ch := rune(l.input[l.pos])
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			break
		}
		l.pos++
	}
	return token{typ: tokenIdentifier, literal: l.input[start:l.pos]}
}

// --- Parser ---

type parser struct {
	lexer *lexer
	cur   token
}

func newParser(l *lexer) *parser {
	p := &parser{lexer: l}
	p.cur = l.next()
	return p
}

func (p *parser) advance() {
	p.cur = p.lexer.next()
}

func (p *parser) expect(typ tokenType) error {
	if p.cur.typ != typ {
		return fmt.Errorf("%w: expected %s, got %s %q", ErrSyntax, typ, p.cur.typ, p.cur.literal)
	}
	p.advance()
	return nil
}

// parseExpression parses term ('|' call)*. A piped value becomes the first
// argument of the call on its right, so `text | lines | compact` reads as
// compact(lines(text)).
func (p *parser) parseExpression() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenPipe {
		p.advance()
		if p.cur.typ != tokenIdentifier {
			return nil, fmt.Errorf("%w: pipe must be followed by a function name", ErrSyntax)
		}
		name := p.cur.literal
		p.advance()
		args := []node{left}
		if p.cur.typ == tokenLParen {
			rest, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			args = append(args, rest...)
		}
		left = &callNode{name: name, args: args}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	switch p.cur.typ {
	case tokenString:
		lit := p.cur.literal
		p.advance()
		return &literalNode{value: lit}, nil
	case tokenNumber:
		n, err := strconv.Atoi(p.cur.literal)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, p.cur.literal)
		}
		p.advance()
		return &literalNode{value: n}, nil
	case tokenIdentifier:
		name := p.cur.literal
		p.advance()
		if p.cur.typ == tokenLParen {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &callNode{name: name, args: args}, nil
		}
		return &identNode{name: name}, nil
	case tokenLParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %s %q", ErrSyntax, p.cur.typ, p.cur.literal)
	}
}

func (p *parser) parseArgs() ([]node, error) {
	if err := p.expect(tokenLParen); err != nil {
		return nil, err
	}
	var args []node
	if p.cur.typ == tokenRParen {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur.typ == tokenComma {
			p.advance()
			continue
		}
		break
	}
	if err := p.expect(tokenRParen); err != nil {
		return nil, err
	}
	return args, nil
}

// --- AST ---

type node interface {
	eval(ctx context.Context, scope map[string]any) (any, error)
}

type literalNode struct {
	value any
}

func (n *literalNode) eval(context.Context, map[string]any) (any, error) {
	return n.value, nil
}

type identNode struct {
	name string
}

func (n *identNode) eval(_ context.Context, scope map[string]any) (any, error) {
	v, ok := scope[n.name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentifier, n.name)
	}
	return v, nil
}

type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(ctx context.Context, scope map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transform evaluation cancelled: %w", err)
	}
	fn, ok := functions[n.name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, n.name)
	}
	args := make([]any, 0, len(n.args))
	for _, a := range n.args {
		v, err := a.eval(ctx, scope)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return fn(args)
}

// --- Builtin functions ---

type builtin func(args []any) (any, error)

var functions map[string]builtin

func init() {
	functions = map[string]builtin{
		"lines":     fnLines,
		"split":     fnSplit,
		"trim":      mapping("trim", strings.TrimSpace),
		"lower":     mapping("lower", strings.ToLower),
		"upper":     mapping("upper", strings.ToUpper),
		"replace":   fnReplace,
		"compact":   fnCompact,
		"take":      fnTake,
		"contains":  fnContains,
		"join":      fnJoin,
		"json_list": fnJSONList,
	}
}

func argCount(name string, args []any, want int) error {
	if len(args) != want {
		return fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrTypeMismatch, name, want, len(args))
	}
	return nil
}

func asString(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s wants a string, got %T", ErrTypeMismatch, name, v)
	}
	return s, nil
}

func asList(name string, v any) ([]string, error) {
	l, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("%w: %s wants a list, got %T", ErrTypeMismatch, name, v)
	}
	return l, nil
}

func asInt(name string, v any) (int, error) {
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%w: %s wants a number, got %T", ErrTypeMismatch, name, v)
	}
	return n, nil
}

// mapping lifts a string function to also map over lists.
func mapping(name string, f func(string) string) builtin {
	return func(args []any) (any, error) {
		if err := argCount(name, args, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case string:
			return f(v), nil
		case []string:
			out := make([]string, len(v))
			for i, s := range v {
				out[i] = f(s)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("%w: %s wants string or list, got %T", ErrTypeMismatch, name, args[0])
		}
	}
}

func fnLines(args []any) (any, error) {
	if err := argCount("lines", args, 1); err != nil {
		return nil, err
	}
	s, err := asString("lines", args[0])
	if err != nil {
		return nil, err
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n"), nil
}

func fnSplit(args []any) (any, error) {
	if err := argCount("split", args, 2); err != nil {
		return nil, err
	}
	s, err := asString("split", args[0])
	if err != nil {
		return nil, err
	}
	sep, err := asString("split", args[1])
	if err != nil {
		return nil, err
	}
	return strings.Split(s, sep), nil
}

func fnReplace(args []any) (any, error) {
	if err := argCount("replace", args, 3); err != nil {
		return nil, err
	}
	old, err := asString("replace", args[1])
	if err != nil {
		return nil, err
	}
	repl, err := asString("replace", args[2])
	if err != nil {
		return nil, err
	}
	return mapping("replace", func(s string) string { return strings.ReplaceAll(s, old, repl) })(args[:1])
}

func fnCompact(args []any) (any, error) {
	if err := argCount("compact", args, 1); err != nil {
		return nil, err
	}
	list, err := asList("compact", args[0])
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func fnTake(args []any) (any, error) {
	if err := argCount("take", args, 2); err != nil {
		return nil, err
	}
	list, err := asList("take", args[0])
	if err != nil {
		return nil, err
	}
	n, err := asInt("take", args[1])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: take wants a non-negative count", ErrTypeMismatch)
	}
	if n > len(list) {
		n = len(list)
	}
	return append([]string(nil), list[:n]...), nil
}

func fnContains(args []any) (any, error) {
	if err := argCount("contains", args, 2); err != nil {
		return nil, err
	}
	list, err := asList("contains", args[0])
	if err != nil {
		return nil, err
	}
	substr, err := asString("contains", args[1])
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if strings.Contains(s, substr) {
			out = append(out, s)
		}
	}
	return out, nil
}

func fnJoin(args []any) (any, error) {
	if err := argCount("join", args, 2); err != nil {
		return nil, err
	}
	list, err := asList("join", args[0])
	if err != nil {
		return nil, err
	}
	sep, err := asString("join", args[1])
	if err != nil {
		return nil, err
	}
	return strings.Join(list, sep), nil
}

// fnJSONList parses a JSON array of strings, the shape AI outputs commonly
// take when asked for structured lists.
func fnJSONList(args []any) (any, error) {
	if err := argCount("json_list", args, 1); err != nil {
		return nil, err
	}
	s, err := asString("json_list", args[0])
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("%w: json_list: %v", ErrTypeMismatch, err)
	}
	return out, nil
}
