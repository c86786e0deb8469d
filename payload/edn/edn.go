// Package edn implements a payload.Codec for the EDN-like symbolic-data
// format: nil, booleans, int64/float64, strings, symbols, keywords, lists,
// vectors, sets, maps, and #tag literals dispatched through a
// payload.HandlerSet.
package edn

import (
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/judepayne/go-pods/payload"
)

// Codec is a payload.Codec for the EDN format, bound to one pod's handler
// tables.
type Codec struct {
	handlers *payload.HandlerSet
}

func New(handlers *payload.HandlerSet) *Codec {
	return &Codec{handlers: handlers}
}

func (c *Codec) Format() payload.Format { return payload.EDN }

// EncodeArgs writes args as an EDN vector, e.g. "[1 \"two\" :three]".
func (c *Codec) EncodeArgs(args []any) ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, a := range args {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if err := c.write(&sb, a); err != nil {
			return nil, err
		}
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

func (c *Codec) Decode(data []byte) (any, error) {
	p := &parser{src: string(data), handlers: c.handlers}
	p.skipSpace()
	if p.atEnd() {
		return nil, payload.DecodeErrf("empty edn input")
	}
	v, err := p.readValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.atEnd() {
		return nil, payload.DecodeErrf("trailing data after edn value at offset %d", p.pos)
	}
	return v, nil
}

// ---- writer ----

func (c *Codec) write(sb *strings.Builder, v any) error {
	if v == nil {
		sb.WriteString("nil")
		return nil
	}
	if c.handlers != nil {
		if fn, ok := c.handlers.EDNWriters()[reflect.TypeOf(v)]; ok {
			tag, rep, matched := fn(v)
			if matched {
				sb.WriteByte('#')
				sb.WriteString(tag)
				sb.WriteByte(' ')
				return c.write(sb, rep)
			}
		}
	}
	switch t := v.(type) {
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case int:
		sb.WriteString(strconv.Itoa(t))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case float64:
		sb.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case string:
		writeEDNString(sb, t)
	case payload.Symbol:
		sb.WriteString(string(t))
	case payload.Keyword:
		sb.WriteByte(':')
		sb.WriteString(string(t))
	case payload.List:
		sb.WriteByte('(')
		for i, item := range t {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if err := c.write(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(')')
	case payload.Vector:
		sb.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if err := c.write(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case payload.Set:
		sb.WriteString("#{")
		for i, item := range t {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if err := c.write(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case payload.Map:
		sb.WriteByte('{')
		for i, e := range t.Entries {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if err := c.write(sb, e.Key); err != nil {
				return err
			}
			sb.WriteByte(' ')
			if err := c.write(sb, e.Value); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case payload.TaggedLiteral:
		sb.WriteByte('#')
		sb.WriteString(t.Tag)
		sb.WriteByte(' ')
		return c.write(sb, t.Value)
	default:
		return payload.EncodeErrf("edn: unsupported value type %T", v)
	}
	return nil
}

func writeEDNString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}

// ---- parser ----

type parser struct {
	src      string
	pos      int
	handlers *payload.HandlerSet
}

func (p *parser) atEnd() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.atEnd() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.atEnd() {
		c := p.src[p.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' {
			p.pos++
			continue
		}
		if c == ';' {
			for !p.atEnd() && p.src[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		break
	}
}

func (p *parser) readValue() (any, error) {
	p.skipSpace()
	if p.atEnd() {
		return nil, payload.DecodeErrf("unexpected end of edn input at offset %d", p.pos)
	}
	switch c := p.peek(); {
	case c == '(':
		return p.readSeq('(', ')', false)
	case c == '[':
		return p.readSeq('[', ']', true)
	case c == '{':
		return p.readMap()
	case c == '#':
		return p.readDispatch()
	case c == '"':
		return p.readString()
	case c == ':':
		return p.readKeyword()
	case c >= '0' && c <= '9',
		(c == '-' || c == '+') && p.pos+1 < len(p.src) && p.src[p.pos+1] >= '0' && p.src[p.pos+1] <= '9':
		return p.readNumberOrSymbol()
	case isSymbolStart(c):
		return p.readSymbolOrLiteral()
	default:
		return nil, payload.DecodeErrf("unexpected byte %q at offset %d", c, p.pos)
	}
}

func (p *parser) readSeq(open, close byte, vector bool) (any, error) {
	p.pos++ // consume open
	var items []any
	for {
		p.skipSpace()
		if p.atEnd() {
			return nil, payload.DecodeErrf("unterminated %q starting before offset %d", open, p.pos)
		}
		if p.peek() == close {
			p.pos++
			break
		}
		v, err := p.readValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if vector {
		return payload.Vector(items), nil
	}
	return payload.List(items), nil
}

func (p *parser) readMap() (any, error) {
	p.pos++ // consume '{'
	m := payload.Map{}
	for {
		p.skipSpace()
		if p.atEnd() {
			return nil, payload.DecodeErrf("unterminated map")
		}
		if p.peek() == '}' {
			p.pos++
			break
		}
		k, err := p.readValue()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		v, err := p.readValue()
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, payload.MapEntry{Key: k, Value: v})
	}
	return m, nil
}

func (p *parser) readDispatch() (any, error) {
	p.pos++ // consume '#'
	if p.peek() == '{' {
		v, err := p.readSeq('{', '}', false)
		if err != nil {
			return nil, err
		}
		return payload.Set(v.(payload.List)), nil
	}
	start := p.pos
	for !p.atEnd() && isSymbolChar(p.src[p.pos]) {
		p.pos++
	}
	tag := p.src[start:p.pos]
	p.skipSpace()
	rep, err := p.readValue()
	if err != nil {
		return nil, err
	}
	if p.handlers != nil {
		if fn, ok := p.handlers.EDNReader(tag); ok {
			v, err := fn(rep)
			if err != nil {
				return nil, payload.DecodeErrf("edn reader for #%s: %v", tag, err)
			}
			return v, nil
		}
	}
	return payload.TaggedLiteral{Tag: tag, Value: rep}, nil
}

func (p *parser) readString() (any, error) {
	p.pos++ // consume opening quote
	var sb strings.Builder
	for {
		if p.atEnd() {
			return nil, payload.DecodeErrf("unterminated string")
		}
		c := p.src[p.pos]
		if c == '"' {
			p.pos++
			break
		}
		if c == '\\' {
			p.pos++
			if p.atEnd() {
				return nil, payload.DecodeErrf("unterminated escape in string")
			}
			switch p.src[p.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(p.src[p.pos])
			}
			p.pos++
			continue
		}
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		sb.WriteRune(r)
		p.pos += size
	}
	return sb.String(), nil
}

func (p *parser) readKeyword() (any, error) {
	p.pos++ // consume ':'
	start := p.pos
	for !p.atEnd() && isSymbolChar(p.src[p.pos]) {
		p.pos++
	}
	return payload.Keyword(p.src[start:p.pos]), nil
}

func (p *parser) readSymbolOrLiteral() (any, error) {
	start := p.pos
	for !p.atEnd() && isSymbolChar(p.src[p.pos]) {
		p.pos++
	}
	tok := p.src[start:p.pos]
	switch tok {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "nil":
		return nil, nil
	}
	return payload.Symbol(tok), nil
}

func (p *parser) readNumberOrSymbol() (any, error) {
	start := p.pos
	p.pos++
	for !p.atEnd() && isSymbolChar(p.src[p.pos]) {
		p.pos++
	}
	tok := p.src[start:p.pos]
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f, nil
	}
	return payload.Symbol(tok), nil
}

func isSymbolStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		c == '_' || c == '.' || c == '*' || c == '+' || c == '!' ||
		c == '-' || c == '?' || c == '$' || c == '%' || c == '&' ||
		c == '=' || c == '<' || c == '>' || c == '/'
}

func isSymbolChar(c byte) bool {
	return isSymbolStart(c) || (c >= '0' && c <= '9') || c == ':' || c == '#'
}
