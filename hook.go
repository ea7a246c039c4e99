package guac

import (
	"context"
	"net/http"
)

// ConnectionSettingsHook is the only supported authorization extension
// point. It runs once per session, after token decrypt and before
// dialing guacd. Implementations may rewrite settings.Settings but
// must preserve settings.Type; returning a non-nil error refuses the
// connection (the session closes with ErrConnectionRefused). ctx is
// the request's context and is canceled if the client disconnects
// before the hook returns.
type ConnectionSettingsHook interface {
	Decide(ctx context.Context, settings ConnectionSettings, r *http.Request) (ConnectionSettings, error)
}

// PassthroughHook is the no-op default: it returns settings unchanged
// and never refuses a connection.
type PassthroughHook struct{}

func (PassthroughHook) Decide(ctx context.Context, settings ConnectionSettings, r *http.Request) (ConnectionSettings, error) {
	return settings, nil
}
