package guac

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	websocketReadBufferSize  = MaxElementSize
	websocketWriteBufferSize = MaxElementSize * 2
)

// WebsocketServer is the Gateway: it accepts WebSocket upgrades on a
// single path, constructs a ClientSession per connection, and
// delegates. It carries no other application logic — authentication,
// handshake, and relay all live in ClientSession.
type WebsocketServer struct {
	opts      ClientOptions
	guacdOpts GuacdOptions
	crypto    *TokenCrypto
	hook      ConnectionSettingsHook

	// OnConnect is an optional callback invoked once a session's id is
	// known, before the relay starts. Purely for operational visibility
	// (metrics, audit logging); it cannot affect the connection.
	OnConnect func(id string, r *http.Request)
	// OnDisconnect is an optional callback invoked after a session tears
	// down.
	OnDisconnect func(id string, r *http.Request)

	logger *zerolog.Logger
}

// NewWebsocketServer constructs a Gateway bound to the given
// configuration. hook may be nil (PassthroughHook is used). logger may
// be nil, in which case the package-level logger is used.
func NewWebsocketServer(opts ClientOptions, guacdOpts GuacdOptions, hook ConnectionSettingsHook, logger *zerolog.Logger) (*WebsocketServer, error) {
	crypto, err := NewTokenCrypto(opts.Crypt.Cipher, opts.Crypt.Key)
	if err != nil {
		return nil, err
	}
	serverLogger := &globalLogger
	if logger != nil {
		serverLogger = logger
	}
	return &WebsocketServer{
		opts:      opts,
		guacdOpts: guacdOpts,
		crypto:    crypto,
		hook:      hook,
		logger:    serverLogger,
	}, nil
}

// ServeHTTP upgrades the request to a WebSocket and hands it to a new
// ClientSession. It is the only piece of this package that performs
// the HTTP-to-WebSocket upgrade.
func (s *WebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  websocketReadBufferSize,
		WriteBufferSize: websocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade websocket")
		return
	}

	session := NewClientSession(ws, s.opts, s.guacdOpts, s.crypto, s.hook)

	if s.OnConnect != nil {
		s.OnConnect(session.id, r)
	}
	session.Serve(r)
	if s.OnDisconnect != nil {
		s.OnDisconnect(session.id, r)
	}
}
