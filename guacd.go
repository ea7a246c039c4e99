package guac

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// HandshakeState is a value in the GuacdClient lifecycle.
type HandshakeState int

const (
	StateConnecting HandshakeState = iota
	StateAwaitingArgs
	StateNegotiating
	StateAwaitingReady
	StateReady
	StateClosed
	StateFailed
)

func (s HandshakeState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingArgs:
		return "awaiting_args"
	case StateNegotiating:
		return "negotiating"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// GuacdOptions configures how a GuacdClient dials and bounds the
// handshake with guacd.
type GuacdOptions struct {
	Host              string
	Port              int
	ConnectionTimeout time.Duration
}

func (o GuacdOptions) addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

const (
	defaultScreenWidth  = 1024
	defaultScreenHeight = 768
	defaultScreenDPI    = 96
)

// GuacdClient owns the TCP connection to guacd and drives the
// protocol-selection and configuration handshake. After the handshake
// reaches StateReady, ReadInstruction/WriteInstruction/WriteRaw expose
// a single-reader, single-writer relay interface; callers must not
// call them concurrently with themselves (writers are serialized by
// contract, not by an internal lock).
type GuacdClient struct {
	conn net.Conn
	dec  *Decoder

	mu    sync.Mutex
	state HandshakeState

	// ConnectionID is the upstream-assigned id recorded from the
	// `ready` instruction once the handshake succeeds.
	ConnectionID string
}

// setState updates state under mu; handshake() runs in its own
// goroutine and Handshake's ctx.Done() branch can observe a timeout
// concurrently with it, so state is never touched without the lock.
func (g *GuacdClient) setState(s HandshakeState) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// State returns the current handshake state.
func (g *GuacdClient) State() HandshakeState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// interrupt expires conn's deadline to unblock a pending Read or
// Write without closing the connection, so a caller further up the
// stack still gets a chance to deliver a coded close before teardown.
func (g *GuacdClient) interrupt() {
	g.conn.SetDeadline(time.Now())
}

// DialGuacd opens the TCP connection to guacd. It does not perform the
// handshake; call Handshake afterward.
func DialGuacd(ctx context.Context, opts GuacdOptions) (*GuacdClient, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", opts.addr())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newGatewayError(ErrHandshakeTimeout, err)
		}
		return nil, newGatewayError(ErrUpstreamUnavailable, err)
	}
	return &GuacdClient{conn: conn, dec: NewDecoder(conn), state: StateConnecting}, nil
}

// Handshake drives connecting → awaiting_args → negotiating →
// awaiting_ready → ready against the dialed connection, using settings
// to answer guacd's requested parameter list. It fails the whole
// sequence if it doesn't complete before ctx is done.
func (g *GuacdClient) Handshake(ctx context.Context, settings *ConnectionSettings) error {
	done := make(chan error, 1)
	go func() { done <- g.handshake(settings) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		g.setState(StateFailed)
		g.conn.Close()
		return newGatewayError(ErrHandshakeTimeout, ctx.Err())
	}
}

func (g *GuacdClient) handshake(settings *ConnectionSettings) error {
	selector := string(settings.Type)
	if settings.ConnectionID != "" {
		selector = settings.ConnectionID
	}
	if err := g.writeInstructionLocked(NewInstruction("select", selector)); err != nil {
		g.setState(StateFailed)
		return newGatewayError(ErrUpstreamIO, err)
	}
	g.setState(StateAwaitingArgs)

	args, err := g.dec.Next()
	if err != nil {
		g.setState(StateFailed)
		return newGatewayError(ErrUpstreamIO, err)
	}
	if args.Opcode() == "error" {
		g.setState(StateFailed)
		msg, code := "", ""
		if a := args.Args(); len(a) > 0 {
			msg = a[0]
		}
		if a := args.Args(); len(a) > 1 {
			code = a[1]
		}
		return newUpstreamRejected(code, msg)
	}
	if args.Opcode() != "args" {
		g.setState(StateFailed)
		return newGatewayError(ErrProtocolError, fmt.Errorf("expected args, got %q", args.Opcode()))
	}
	paramNames := args.Args()
	g.setState(StateNegotiating)

	if err := g.sendConfiguration(settings, paramNames); err != nil {
		g.setState(StateFailed)
		return err
	}
	g.setState(StateAwaitingReady)

	ready, err := g.dec.Next()
	if err != nil {
		g.setState(StateFailed)
		return newGatewayError(ErrUpstreamIO, err)
	}
	switch ready.Opcode() {
	case "ready":
		if len(ready.Args()) > 0 {
			g.ConnectionID = ready.Args()[0]
		}
		g.setState(StateReady)
		return nil
	case "error":
		g.setState(StateFailed)
		msg, code := "", ""
		if a := ready.Args(); len(a) > 0 {
			msg = a[0]
		}
		if a := ready.Args(); len(a) > 1 {
			code = a[1]
		}
		return newUpstreamRejected(code, msg)
	default:
		g.setState(StateFailed)
		return newGatewayError(ErrProtocolError, fmt.Errorf("expected ready or error, got %q", ready.Opcode()))
	}
}

// sendConfiguration sends the negotiation instructions between args
// and connect: size (from the GUAC_WIDTH/GUAC_HEIGHT/GUAC_DPI handshake
// overrides, defaulting to 1024x768 at 96 DPI), audio, video and image
// (from GUAC_AUDIO/GUAC_VIDEO/GUAC_IMAGE, with no arguments when
// absent), timezone (only when GUAC_TIMEZONE is set), then connect
// with values mapped positionally onto paramNames.
func (g *GuacdClient) sendConfiguration(settings *ConnectionSettings, paramNames []string) error {
	ov := settings.HandshakeOverrides

	width := ov["GUAC_WIDTH"]
	if width == "" {
		width = fmt.Sprintf("%d", defaultScreenWidth)
	}
	height := ov["GUAC_HEIGHT"]
	if height == "" {
		height = fmt.Sprintf("%d", defaultScreenHeight)
	}
	dpi := ov["GUAC_DPI"]
	if dpi == "" {
		dpi = fmt.Sprintf("%d", defaultScreenDPI)
	}

	insts := []Instruction{
		NewInstruction("size", width, height, dpi),
		NewInstruction("audio", splitCSV(ov["GUAC_AUDIO"])...),
		NewInstruction("video", splitCSV(ov["GUAC_VIDEO"])...),
		NewInstruction("image", splitCSV(ov["GUAC_IMAGE"])...),
	}
	if tz := ov["GUAC_TIMEZONE"]; tz != "" {
		insts = append(insts, NewInstruction("timezone", tz))
	}

	values := make([]string, len(paramNames))
	for i, name := range paramNames {
		values[i] = settings.Settings[name]
	}
	insts = append(insts, NewInstruction("connect", values...))

	for _, inst := range insts {
		if err := g.writeInstructionLocked(inst); err != nil {
			return newGatewayError(ErrUpstreamIO, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func (g *GuacdClient) writeInstructionLocked(inst Instruction) error {
	_, err := g.conn.Write([]byte(inst.Encode()))
	return err
}

// WriteInstruction encodes and writes one instruction. Concurrent
// writers are forbidden by contract; callers must serialize their own
// calls.
func (g *GuacdClient) WriteInstruction(inst Instruction) error {
	if err := g.writeInstructionLocked(inst); err != nil {
		return newGatewayError(ErrUpstreamIO, err)
	}
	return nil
}

// WriteRaw forwards bytes verbatim to guacd without re-encoding; used
// by the upstream relay pump, which already holds a browser-supplied
// encoded instruction stream and must not reinterpret it.
func (g *GuacdClient) WriteRaw(p []byte) error {
	if _, err := g.conn.Write(p); err != nil {
		return newGatewayError(ErrUpstreamIO, err)
	}
	return nil
}

// ReadInstruction blocks until the next decoded instruction arrives
// from guacd, or the link closes. Reads are single-consumer.
func (g *GuacdClient) ReadInstruction() (Instruction, error) {
	inst, err := g.dec.Next()
	if err != nil {
		return nil, newGatewayError(ErrUpstreamIO, err)
	}
	return inst, nil
}

// Close releases the TCP connection. Idempotent.
func (g *GuacdClient) Close() error {
	g.setState(StateClosed)
	return g.conn.Close()
}
