package guac

import "fmt"

// ErrorKind classifies a failure into one of the transport-agnostic
// kinds a session teardown can report. The kind, not the underlying
// error text, is what's allowed to reach a WebSocket close reason.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrMissingToken
	ErrBadFrame
	ErrMalformedToken
	ErrInvalidIV
	ErrInvalidCiphertext
	ErrDecryptFailed
	ErrInvalidPadding
	ErrMalformedPayload
	ErrInvalidSettings
	ErrConnectionRefused
	ErrUpstreamUnavailable
	ErrUpstreamRejected
	ErrUpstreamIO
	ErrProtocolError
	ErrHandshakeTimeout
	ErrInactivityTimeout
	ErrPeerClosed
	ErrInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMissingToken:
		return "MissingToken"
	case ErrBadFrame:
		return "BadFrame"
	case ErrMalformedToken:
		return "MalformedToken"
	case ErrInvalidIV:
		return "InvalidIV"
	case ErrInvalidCiphertext:
		return "InvalidCiphertext"
	case ErrDecryptFailed:
		return "DecryptFailed"
	case ErrInvalidPadding:
		return "InvalidPadding"
	case ErrMalformedPayload:
		return "MalformedPayload"
	case ErrInvalidSettings:
		return "InvalidSettings"
	case ErrConnectionRefused:
		return "ConnectionRefused"
	case ErrUpstreamUnavailable:
		return "UpstreamUnavailable"
	case ErrUpstreamRejected:
		return "UpstreamRejected"
	case ErrUpstreamIO:
		return "UpstreamIO"
	case ErrProtocolError:
		return "ProtocolError"
	case ErrHandshakeTimeout:
		return "HandshakeTimeout"
	case ErrInactivityTimeout:
		return "InactivityTimeout"
	case ErrPeerClosed:
		return "PeerClosed"
	case ErrInternal:
		return "Internal"
	default:
		return "None"
	}
}

// GatewayError wraps an internal error with a stable, inspectable Kind.
// The internal error is kept for logging only; it must never be surfaced
// in a WebSocket close reason.
type GatewayError struct {
	Kind ErrorKind
	Code string // upstream-reported code, set only for ErrUpstreamRejected
	err  error
}

func newGatewayError(kind ErrorKind, err error) *GatewayError {
	return &GatewayError{Kind: kind, err: err}
}

func newUpstreamRejected(code, msg string) *GatewayError {
	return &GatewayError{Kind: ErrUpstreamRejected, Code: code, err: fmt.Errorf("guacd rejected connection: %s (code %s)", msg, code)}
}

func (e *GatewayError) Error() string {
	if e.err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *GatewayError) Unwrap() error { return e.err }

// closeCode maps an ErrorKind to the application-level WebSocket close
// code defined for this gateway's external interface.
func closeCode(kind ErrorKind) int {
	switch kind {
	case ErrMissingToken:
		return 4001
	case ErrBadFrame:
		return 4400
	case ErrMalformedToken, ErrInvalidIV, ErrInvalidCiphertext, ErrDecryptFailed,
		ErrInvalidPadding, ErrMalformedPayload, ErrInvalidSettings:
		return 4401
	case ErrConnectionRefused:
		return 4403
	case ErrHandshakeTimeout:
		return 4504
	case ErrInactivityTimeout:
		return 4408
	case ErrPeerClosed:
		return 1000
	case ErrUpstreamUnavailable, ErrUpstreamRejected, ErrUpstreamIO, ErrProtocolError, ErrInternal:
		return 1011
	default:
		return 1011
	}
}
