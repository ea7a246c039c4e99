// Command guacgate runs the WebSocket-to-guacd protocol gateway.
package main

import (
	"crypto/tls"
	"net/http"
	"os"

	guac "github.com/codecademy-engineering/guacgate"
	"github.com/codecademy-engineering/guacgate/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Configure the guac package logger separately — it is isolated
	// from the application logger above and disabled by default.
	guac.SetLogLevelConsole(zerolog.DebugLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	wsServer, err := guac.NewWebsocketServer(cfg.Client, cfg.Guacd, nil, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct websocket server")
	}
	wsServer.OnConnect = func(id string, r *http.Request) {
		log.Info().Str("connection_id", id).Str("remote_addr", r.RemoteAddr).Msg("session started")
	}
	wsServer.OnDisconnect = func(id string, r *http.Request) {
		log.Info().Str("connection_id", id).Msg("session ended")
	}

	mux := http.NewServeMux()
	mux.Handle("/", wsServer)

	tlsCfg := tls.Config{}
	if cfg.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.CertKeyPath)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load certificate keypair")
		}
		tlsCfg.MinVersion = tls.VersionTLS13
		tlsCfg.Certificates = []tls.Certificate{cert}
		tlsCfg.CurvePreferences = []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
			tls.CurveP384,
		}
	}

	s := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        mux,
		MaxHeaderBytes: 1 << 20,
		TLSConfig:      &tlsCfg,
	}

	if cfg.CertPath != "" {
		log.Info().Str("addr", cfg.ListenAddr).Msg("serving over https")
		if err := s.ListenAndServeTLS("", ""); err != nil {
			log.Fatal().Err(err).Msg("failed to start https server")
		}
	} else {
		log.Info().Str("addr", cfg.ListenAddr).Msg("serving over http")
		if err := s.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}
}
