package guac

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ClientOptions configures the per-server behavior a ClientSession
// inherits: the token cipher/key and the inactivity budget.
type ClientOptions struct {
	Crypt             CryptOptions
	MaxInactivityTime time.Duration
}

// CryptOptions names the token cipher and holds the configured key.
type CryptOptions struct {
	Cipher string
	Key    []byte
}

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultInactivityTimeout = 10 * time.Second
)

// ClientSession orchestrates one WebSocket connection from accept to
// teardown: authenticate, optional hook, dial+handshake, duplex relay,
// inactivity timeout, teardown. It owns the WebSocket and the
// GuacdClient exclusively; there is no sharing across sessions.
type ClientSession struct {
	id        string
	ws        *websocket.Conn
	guacd     *GuacdClient
	opts      ClientOptions
	guacdOpts GuacdOptions
	crypto    *TokenCrypto
	hook      ConnectionSettingsHook
	logger    zerolog.Logger

	closeOnce sync.Once
}

// NewClientSession constructs a session around an already-upgraded
// WebSocket connection. hook may be nil, in which case PassthroughHook
// is used.
func NewClientSession(ws *websocket.Conn, opts ClientOptions, guacdOpts GuacdOptions, crypto *TokenCrypto, hook ConnectionSettingsHook) *ClientSession {
	if hook == nil {
		hook = PassthroughHook{}
	}
	id := uuid.NewString()
	return &ClientSession{
		id:        id,
		ws:        ws,
		opts:      opts,
		guacdOpts: guacdOpts,
		crypto:    crypto,
		hook:      hook,
		logger:    WithConnectionID(GetLogger(), id),
	}
}

// Serve runs the session lifecycle to completion: it blocks until the
// session tears down for any reason, and never returns an error — all
// failures are reported to the peer via the WebSocket close code and
// logged locally, per the "errors never cross session boundaries"
// propagation policy.
func (s *ClientSession) Serve(r *http.Request) {
	defer s.ws.Close()

	token := r.URL.Query().Get("token")
	if token == "" {
		s.closeWith(ErrMissingToken, nil)
		return
	}

	settings, err := s.crypto.Decrypt(token)
	if err != nil {
		s.closeWith(kindOf(err), err)
		return
	}

	*settings, err = s.hook.Decide(r.Context(), *settings, r)
	if err != nil {
		s.closeWith(ErrConnectionRefused, err)
		return
	}

	timeout := s.guacdOpts.ConnectionTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	hctx, cancel := context.WithTimeout(r.Context(), timeout)
	guacd, err := DialGuacd(hctx, s.guacdOpts)
	if err != nil {
		cancel()
		s.closeWith(kindOf(err), err)
		return
	}
	if err := guacd.Handshake(hctx, settings); err != nil {
		cancel()
		guacd.Close()
		s.closeWith(kindOf(err), err)
		return
	}
	cancel()
	s.guacd = guacd
	s.id = firstNonEmpty(guacd.ConnectionID, s.id)
	s.logger = WithUpstreamConnectionID(s.logger, guacd.ConnectionID)

	s.relay()
}

// relay runs the two cooperative pumps and tears both down together.
// The coded WebSocket close frame is sent by closeWith before either
// socket is force-closed; pump watchers only interrupt blocked I/O
// with deadlines, never a raw Close, so closeWith always gets to write
// first.
func (s *ClientSession) relay() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inactivity := s.opts.MaxInactivityTime
	if inactivity <= 0 {
		inactivity = defaultInactivityTimeout
	}

	var wg sync.WaitGroup
	var finalKind ErrorKind
	var once sync.Once
	fail := func(kind ErrorKind) {
		once.Do(func() { finalKind = kind })
		cancel()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		fail(s.pumpDownstream(ctx))
	}()
	go func() {
		defer wg.Done()
		fail(s.pumpUpstream(ctx, inactivity))
	}()
	wg.Wait()

	s.closeWith(finalKind, nil)
}

// pumpDownstream reads instructions from guacd and forwards each as a
// single WebSocket text frame, verbatim re-encoded — no coalescing, no
// re-encoding to any other representation.
func (s *ClientSession) pumpDownstream(ctx context.Context) ErrorKind {
	go func() {
		<-ctx.Done()
		// Non-destructive unblock: expire the guacd conn's deadline
		// instead of closing it, so a coded close frame can still go
		// out over the WebSocket before anything is torn down.
		s.guacd.interrupt()
	}()

	for {
		inst, err := s.guacd.ReadInstruction()
		if err != nil {
			select {
			case <-ctx.Done():
				return ErrPeerClosed
			default:
			}
			return kindOf(err)
		}
		if inst.Opcode() == "disconnect" {
			s.ws.WriteMessage(websocket.TextMessage, []byte(inst.Encode()))
			return ErrPeerClosed
		}
		if err := s.ws.WriteMessage(websocket.TextMessage, []byte(inst.Encode())); err != nil {
			return ErrUpstreamIO
		}
	}
}

// pumpUpstream reads WebSocket text frames and forwards their payload
// verbatim to guacd. Binary frames are rejected. No frame within
// inactivity resets the session.
func (s *ClientSession) pumpUpstream(ctx context.Context, inactivity time.Duration) ErrorKind {
	go func() {
		<-ctx.Done()
		// Non-destructive unblock: expire the read deadline so the
		// background frame reader below returns, without closing the
		// socket out from under closeWith's coded close frame.
		s.ws.SetReadDeadline(time.Now())
	}()

	type frame struct {
		mt   int
		data []byte
		err  error
	}
	frames := make(chan frame, 1)
	go func() {
		for {
			mt, data, err := s.ws.ReadMessage()
			frames <- frame{mt, data, err}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(inactivity)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrPeerClosed
		case <-timer.C:
			return ErrInactivityTimeout
		case f := <-frames:
			if f.err != nil {
				return ErrPeerClosed
			}
			if f.mt != websocket.TextMessage {
				return ErrBadFrame
			}
			if err := s.guacd.WriteRaw(f.data); err != nil {
				return ErrUpstreamIO
			}
			timer.Reset(inactivity)
		}
	}
}

// closeWith sends the application close code for kind, logs cause if
// provided, then closes both sockets. Idempotent, and always the first
// thing to touch the WebSocket's lifecycle: pump watchers only ever
// expire a deadline to unblock their own blocked I/O, never Close, so
// the coded close frame below is never raced by a raw teardown.
func (s *ClientSession) closeWith(kind ErrorKind, cause error) {
	s.closeOnce.Do(func() {
		code := closeCode(kind)
		reason := kind.String()
		if kind == ErrNone {
			code = websocket.CloseNormalClosure
			reason = ""
		}
		if cause != nil {
			s.logger.Warn().Err(cause).Str("kind", kind.String()).Msg("session closing")
		}
		// A prior pump-watcher deadline expiry only affects reads; the
		// write deadline here is fresh, so WriteControl isn't blocked
		// by it.
		deadline := time.Now().Add(time.Second)
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.ws.Close()
		if s.guacd != nil {
			s.guacd.Close()
		}
	})
}

// kindOf extracts the ErrorKind from a *GatewayError, defaulting to
// ErrInternal for anything else (including io.EOF from an unexpected
// peer close that wasn't already classified upstream).
func kindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ErrInternal
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
