package guac

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

var errTrailingData = errors.New("guac: trailing data after instruction")

// MaxElementSize bounds the character count accepted for a single
// instruction element, guarding the streaming decoder against
// unbounded buffer growth from a malicious or desynced peer.
const MaxElementSize = 1 << 20 // 1 MiB, per the recommended guacd limit

// Instruction is an ordered list of UTF-8 arguments; the first is the
// opcode, the rest are its arguments. It is the unit of framing on
// both the guacd TCP link and the WebSocket text-frame link.
type Instruction []string

// NewInstruction builds an Instruction from an opcode and its args.
func NewInstruction(opcode string, args ...string) Instruction {
	return append(Instruction{opcode}, args...)
}

// Opcode returns the instruction's opcode, or "" if empty.
func (i Instruction) Opcode() string {
	if len(i) == 0 {
		return ""
	}
	return i[0]
}

// Args returns the instruction's arguments, excluding the opcode.
func (i Instruction) Args() []string {
	if len(i) <= 1 {
		return nil
	}
	return i[1:]
}

// Encode renders the instruction in Guacamole wire format: each
// element as "<code-point-count>.<value>", comma-joined, terminated
// by a semicolon. Length MUST be measured in Unicode code points, not
// bytes — a byte count will desync a real guacd decoder on any
// multi-byte UTF-8 argument.
func (i Instruction) Encode() string {
	var b strings.Builder
	for idx, elem := range i {
		if idx > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(utf8.RuneCountInString(elem)))
		b.WriteByte('.')
		b.WriteString(elem)
	}
	b.WriteByte(';')
	return b.String()
}

// DecodeOne parses exactly one encoded instruction from s, failing if s
// is not precisely one whole instruction (used by tests and by
// single-shot callers; the streaming Decoder in decoder.go is what
// the relay paths actually use).
func DecodeOne(s string) (Instruction, error) {
	dec := NewDecoder(strings.NewReader(s))
	inst, err := dec.Next()
	if err != nil {
		return nil, err
	}
	if _, err := dec.Next(); err != io.EOF {
		return nil, newGatewayError(ErrProtocolError, errTrailingData)
	}
	return inst, nil
}
