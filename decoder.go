package guac

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"
)

// errNeedMore is a sentinel used internally by tryParse to signal that
// the buffered bytes don't yet contain a complete instruction.
var errNeedMore = errors.New("guac: need more data")

const maxLengthDigits = 7 // enough for MaxElementSize (1 MiB) in decimal

// Decoder is a stateful streaming parser over a Guacamole instruction
// stream. It buffers partial input across Next calls, so it can be fed
// an io.Reader that yields arbitrarily small or large chunks (one
// WebSocket frame at a time, one TCP read at a time, or the whole
// stream at once) and must produce the same sequence of instructions
// regardless of how the bytes were chunked.
type Decoder struct {
	r      io.Reader
	buf    []byte
	scratch [4096]byte
}

// NewDecoder wraps r in a streaming Guacamole instruction decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Feed appends externally-read bytes (e.g. one WebSocket frame's
// payload) to the decoder's internal buffer without performing any
// reads against the wrapped io.Reader. Used when the caller already
// owns the framing (WebSocket) and only wants InstructionCodec's
// parsing, not its I/O.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next blocks until one full Instruction has been parsed, reading from
// the wrapped io.Reader as needed, or returns an error: io.EOF on a
// clean end of stream with no partial data pending, or a *GatewayError
// with ErrProtocolError on any malformed input (including a stream
// that ends mid-instruction). A Decoder with no wrapped reader (fed
// only through Feed) returns io.EOF whenever its buffer holds no
// complete instruction; any partial data stays buffered for a later
// Feed.
func (d *Decoder) Next() (Instruction, error) {
	for {
		inst, consumed, err := d.tryParse()
		if err == nil {
			d.buf = d.buf[consumed:]
			return inst, nil
		}
		if !errors.Is(err, errNeedMore) {
			return nil, err
		}
		if d.r == nil {
			return nil, io.EOF
		}
		n, rerr := d.r.Read(d.scratch[:])
		if n > 0 {
			d.buf = append(d.buf, d.scratch[:n]...)
		}
		if n == 0 && rerr != nil {
			if len(d.buf) > 0 {
				return nil, newGatewayError(ErrProtocolError, fmt.Errorf("truncated instruction at end of stream: %w", rerr))
			}
			return nil, rerr
		}
	}
}

// tryParse attempts to parse exactly one instruction from the
// currently buffered bytes without performing any I/O. It returns
// errNeedMore if the buffer doesn't yet hold a complete instruction.
func (d *Decoder) tryParse() (Instruction, int, error) {
	buf := d.buf
	pos := 0
	var inst Instruction

	for {
		digitsStart := pos
		for pos < len(buf) && buf[pos] >= '0' && buf[pos] <= '9' {
			pos++
		}
		if pos == digitsStart {
			if pos >= len(buf) {
				return nil, 0, errNeedMore
			}
			return nil, 0, newGatewayError(ErrProtocolError, fmt.Errorf("expected digit, got %q", buf[pos]))
		}
		if pos-digitsStart > maxLengthDigits {
			return nil, 0, newGatewayError(ErrProtocolError, fmt.Errorf("length prefix too long"))
		}
		if pos >= len(buf) {
			return nil, 0, errNeedMore
		}
		if buf[pos] != '.' {
			return nil, 0, newGatewayError(ErrProtocolError, fmt.Errorf("expected '.' after length prefix, got %q", buf[pos]))
		}
		length, err := strconv.Atoi(string(buf[digitsStart:pos]))
		if err != nil {
			return nil, 0, newGatewayError(ErrProtocolError, fmt.Errorf("invalid length prefix: %w", err))
		}
		if length > MaxElementSize {
			return nil, 0, newGatewayError(ErrProtocolError, fmt.Errorf("element length %d exceeds max %d", length, MaxElementSize))
		}
		pos++ // consume '.'

		elemStart := pos
		for count := 0; count < length; count++ {
			if pos >= len(buf) {
				return nil, 0, errNeedMore
			}
			r, size := utf8.DecodeRune(buf[pos:])
			if r == utf8.RuneError && size <= 1 {
				if !utf8.FullRune(buf[pos:]) {
					return nil, 0, errNeedMore
				}
				return nil, 0, newGatewayError(ErrProtocolError, fmt.Errorf("invalid utf-8 in element"))
			}
			pos += size
		}
		elem := string(buf[elemStart:pos])
		inst = append(inst, elem)

		if pos >= len(buf) {
			return nil, 0, errNeedMore
		}
		sep := buf[pos]
		pos++
		switch sep {
		case ';':
			return inst, pos, nil
		case ',':
			continue
		default:
			return nil, 0, newGatewayError(ErrProtocolError, fmt.Errorf("invalid separator %q", sep))
		}
	}
}
