// Package config loads this gateway's configuration from environment
// variables, in the load-with-defaults-then-validate style the rest of
// this codebase's corpus uses for process bootstrap.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	guac "github.com/codecademy-engineering/guacgate"
)

const (
	DefaultListenAddr        = "0.0.0.0:4567"
	DefaultGuacdHost         = "127.0.0.1"
	DefaultGuacdPort         = 4822
	DefaultConnectionTimeout = 10 * time.Second
	DefaultMaxInactivityTime = 10 * time.Second
	DefaultCipher            = "aes-256-cbc"
)

// Config is the process-level configuration this gateway needs: where
// to listen, where guacd lives, and the token cipher key. It does not
// carry anything from the wider corpus's config packages that belongs
// to a multi-tenant control plane (branding, Kubernetes, billing) —
// none of that is part of this gateway's scope.
type Config struct {
	ListenAddr  string
	CertPath    string
	CertKeyPath string

	Guacd  guac.GuacdOptions
	Client guac.ClientOptions
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Problem)
}

// ValidationErrors aggregates every field-level failure found while
// loading, so a misconfigured deployment gets one complete report
// instead of one error at a time.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	if len(es) == 0 {
		return "config: no errors"
	}
	msg := fmt.Sprintf("config: %d validation error(s):", len(es))
	for _, e := range es {
		msg += "\n  - " + e.Error()
	}
	return msg
}

// Load builds a Config from environment variables, applying defaults
// for anything unset and validating the result.
//
// Recognized variables: GUACGATE_LISTEN_ADDR, GUACGATE_CERT_PATH,
// GUACGATE_CERT_KEY_PATH, GUACGATE_GUACD_HOST, GUACGATE_GUACD_PORT,
// GUACGATE_HANDSHAKE_TIMEOUT, GUACGATE_INACTIVITY_TIMEOUT,
// GUACGATE_TOKEN_CIPHER, GUACGATE_TOKEN_KEY (base64, 32 raw bytes).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("GUACGATE_LISTEN_ADDR", DefaultListenAddr),
		CertPath:    os.Getenv("GUACGATE_CERT_PATH"),
		CertKeyPath: os.Getenv("GUACGATE_CERT_KEY_PATH"),
		Guacd: guac.GuacdOptions{
			Host:              envOr("GUACGATE_GUACD_HOST", DefaultGuacdHost),
			Port:              DefaultGuacdPort,
			ConnectionTimeout: DefaultConnectionTimeout,
		},
		Client: guac.ClientOptions{
			Crypt: guac.CryptOptions{
				Cipher: envOr("GUACGATE_TOKEN_CIPHER", DefaultCipher),
			},
			MaxInactivityTime: DefaultMaxInactivityTime,
		},
	}

	var errs ValidationErrors

	if v := os.Getenv("GUACGATE_GUACD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, &ValidationError{"GUACGATE_GUACD_PORT", "must be an integer"})
		} else {
			cfg.Guacd.Port = port
		}
	}

	if v := os.Getenv("GUACGATE_HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, &ValidationError{"GUACGATE_HANDSHAKE_TIMEOUT", "must be a duration, e.g. \"10s\""})
		} else {
			cfg.Guacd.ConnectionTimeout = d
		}
	}

	if v := os.Getenv("GUACGATE_INACTIVITY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, &ValidationError{"GUACGATE_INACTIVITY_TIMEOUT", "must be a duration, e.g. \"10s\""})
		} else {
			cfg.Client.MaxInactivityTime = d
		}
	}

	keyB64 := os.Getenv("GUACGATE_TOKEN_KEY")
	if keyB64 == "" {
		errs = append(errs, &ValidationError{"GUACGATE_TOKEN_KEY", "must be set to a base64-encoded 32-byte AES key"})
	} else {
		key, err := decodeKey(keyB64)
		if err != nil {
			errs = append(errs, &ValidationError{"GUACGATE_TOKEN_KEY", err.Error()})
		} else {
			cfg.Client.Crypt.Key = key
		}
	}

	if cfg.CertPath != "" && cfg.CertKeyPath == "" {
		errs = append(errs, &ValidationError{"GUACGATE_CERT_KEY_PATH", "must be set when GUACGATE_CERT_PATH is set"})
	}
	if cfg.CertPath == "" && cfg.CertKeyPath != "" {
		errs = append(errs, &ValidationError{"GUACGATE_CERT_PATH", "must be set when GUACGATE_CERT_KEY_PATH is set"})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func decodeKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("must be valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must decode to exactly 32 bytes, got %d", len(key))
	}
	return key, nil
}
