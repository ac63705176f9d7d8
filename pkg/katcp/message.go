package katcp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MessageType is the leading sigil of a KATCP line.
type MessageType byte

const (
	Request MessageType = '?'
	Reply   MessageType = '!'
	Inform  MessageType = '#'
)

func (t MessageType) String() string {
	switch t {
	case Request:
		return "request"
	case Reply:
		return "reply"
	case Inform:
		return "inform"
	default:
		return fmt.Sprintf("MessageType(%q)", byte(t))
	}
}

// Reply status codes carried in the first argument of a reply.
const (
	StatusOK      = "ok"
	StatusFail    = "fail"
	StatusInvalid = "invalid"
)

// ErrMalformed is returned for lines that cannot be decoded as a message.
var ErrMalformed = errors.New("katcp: malformed message")

// Message is a single decoded KATCP line. ID is zero when the message carries
// no message identifier.
type Message struct {
	Type MessageType
	Name string
	ID   int
	Args []string
}

// NewRequest builds a request message.
func NewRequest(name string, args ...string) Message {
	return Message{Type: Request, Name: name, Args: args}
}

// Status returns the first argument of a reply, or "" for other messages.
func (m Message) Status() string {
	if m.Type != Reply || len(m.Args) == 0 {
		return ""
	}
	return m.Args[0]
}

// OK reports whether the message is a reply with status "ok".
func (m Message) OK() bool {
	return m.Status() == StatusOK
}

// Marshal encodes the message as a newline-terminated line.
func (m Message) Marshal() []byte {
	var b bytes.Buffer
	b.WriteByte(byte(m.Type))
	b.WriteString(m.Name)
	if m.ID > 0 {
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(m.ID))
		b.WriteByte(']')
	}
	for _, arg := range m.Args {
		b.WriteByte(' ')
		b.WriteString(Escape(arg))
	}
	b.WriteByte('\n')
	return b.Bytes()
}

func (m Message) String() string {
	return strings.TrimSuffix(string(m.Marshal()), "\n")
}

// ParseMessage decodes one line (with or without its trailing newline).
func ParseMessage(line []byte) (Message, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 2 {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	var msg Message
	switch t := MessageType(line[0]); t {
	case Request, Reply, Inform:
		msg.Type = t
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, line[0])
	}

	fields := bytes.FieldsFunc(line[1:], func(r rune) bool { return r == ' ' || r == '\t' })
	if len(fields) == 0 {
		return Message{}, fmt.Errorf("%w: missing name", ErrMalformed)
	}

	name := string(fields[0])
	if open := strings.IndexByte(name, '['); open >= 0 {
		if !strings.HasSuffix(name, "]") {
			return Message{}, fmt.Errorf("%w: bad message id in %q", ErrMalformed, name)
		}
		id, err := strconv.Atoi(name[open+1 : len(name)-1])
		if err != nil || id <= 0 {
			return Message{}, fmt.Errorf("%w: bad message id in %q", ErrMalformed, name)
		}
		msg.ID = id
		name = name[:open]
	}
	if !validName(name) {
		return Message{}, fmt.Errorf("%w: bad name %q", ErrMalformed, name)
	}
	msg.Name = name

	for _, f := range fields[1:] {
		arg, err := Unescape(string(f))
		if err != nil {
			return Message{}, err
		}
		msg.Args = append(msg.Args, arg)
	}
	return msg, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// Escape encodes an argument so it contains no whitespace or control bytes.
// The empty string is encoded as `\@`.
func Escape(s string) string {
	if s == "" {
		return `\@`
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case ' ':
			b.WriteString(`\_`)
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case 0x1b:
			b.WriteString(`\e`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unescape reverses Escape.
func Unescape(s string) (string, error) {
	if s == `\@` {
		return "", nil
	}
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("%w: trailing escape in %q", ErrMalformed, s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case '_':
			b.WriteByte(' ')
		case '0':
			b.WriteByte(0)
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'e':
			b.WriteByte(0x1b)
		case 't':
			b.WriteByte('\t')
		default:
			return "", fmt.Errorf("%w: unknown escape \\%c in %q", ErrMalformed, s[i], s)
		}
	}
	return b.String(), nil
}
