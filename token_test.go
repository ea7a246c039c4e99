package guac

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"testing/quick"
)

func testKey() []byte {
	return bytes.Repeat([]byte("A"), 32)
}

func mustCrypto(t *testing.T) *TokenCrypto {
	t.Helper()
	c, err := NewTokenCrypto("aes-256-cbc", testKey())
	if err != nil {
		t.Fatalf("NewTokenCrypto: %v", err)
	}
	return c
}

func TestTokenRoundTrip(t *testing.T) {
	c := mustCrypto(t)
	settings := ConnectionSettings{
		Type:     ConnTypeRDP,
		Settings: map[string]string{"hostname": "h", "port": "3389"},
	}

	tok, err := c.Encrypt(settings)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := c.Decrypt(tok)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got.Type != settings.Type {
		t.Errorf("type = %q, want %q", got.Type, settings.Type)
	}
	for k, v := range settings.Settings {
		if got.Settings[k] != v {
			t.Errorf("settings[%q] = %q, want %q", k, got.Settings[k], v)
		}
	}
}

func TestTokenRoundTripConnectionIDAndOverrides(t *testing.T) {
	c := mustCrypto(t)
	settings := ConnectionSettings{
		Type:               ConnTypeRDP,
		Settings:           map[string]string{"hostname": "h"},
		ConnectionID:       "$existing-session",
		HandshakeOverrides: map[string]string{"GUAC_WIDTH": "1920", "GUAC_HEIGHT": "1080"},
	}

	tok, err := c.Encrypt(settings)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := c.Decrypt(tok)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got.ConnectionID != settings.ConnectionID {
		t.Errorf("ConnectionID = %q, want %q", got.ConnectionID, settings.ConnectionID)
	}
	for k, v := range settings.HandshakeOverrides {
		if got.HandshakeOverrides[k] != v {
			t.Errorf("HandshakeOverrides[%q] = %q, want %q", k, got.HandshakeOverrides[k], v)
		}
	}
}

func TestTokenRoundTripProperty(t *testing.T) {
	c := mustCrypto(t)

	f := func(hostname, port string) bool {
		settings := ConnectionSettings{
			Type:     ConnTypeVNC,
			Settings: map[string]string{"hostname": hostname, "port": port},
		}
		tok, err := c.Encrypt(settings)
		if err != nil {
			return false
		}
		got, err := c.Decrypt(tok)
		if err != nil {
			return false
		}
		return got.Type == settings.Type &&
			got.Settings["hostname"] == hostname &&
			got.Settings["port"] == port
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestTokenDecryptFailsClosedOnMutation(t *testing.T) {
	c := mustCrypto(t)
	settings := ConnectionSettings{
		Type:     ConnTypeSSH,
		Settings: map[string]string{"hostname": "h"},
	}
	tok, err := c.Encrypt(settings)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(tok)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}

	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01
		mutatedTok := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(mutated)

		_, err := c.Decrypt(mutatedTok)
		if err == nil {
			// Every single-byte mutation must be rejected with one of
			// the token error kinds; none may decrypt successfully.
			t.Errorf("byte %d: mutated token decrypted successfully", i)
		} else if closeCode(kindOf(err)) != 4401 {
			t.Errorf("byte %d: kind = %s, want a token error kind", i, kindOf(err))
		}
	}
}

func TestTokenDecryptMalformedBase64(t *testing.T) {
	c := mustCrypto(t)
	_, err := c.Decrypt("not-valid-base64!!!")
	assertKind(t, err, ErrMalformedToken)
}

func TestTokenDecryptMissingFields(t *testing.T) {
	c := mustCrypto(t)
	outer := `{"iv":"` + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0}, 16)) + `"}`
	tok := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(outer))
	_, err := c.Decrypt(tok)
	assertKind(t, err, ErrMalformedToken)
}

func TestTokenDecryptBadIVLength(t *testing.T) {
	c := mustCrypto(t)
	outer := `{"iv":"` + base64.StdEncoding.EncodeToString([]byte("short")) + `","value":"` +
		base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0}, 16)) + `"}`
	tok := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(outer))
	_, err := c.Decrypt(tok)
	assertKind(t, err, ErrInvalidIV)
}

func TestTokenDecryptBadCiphertextLength(t *testing.T) {
	c := mustCrypto(t)
	outer := `{"iv":"` + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0}, 16)) + `","value":"` +
		base64.StdEncoding.EncodeToString([]byte("not-a-multiple-of-16")) + `"}`
	tok := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(outer))
	_, err := c.Decrypt(tok)
	assertKind(t, err, ErrInvalidCiphertext)
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %s, got nil", want)
	}
	got := kindOf(err)
	if got != want {
		t.Fatalf("kind = %s, want %s (err: %v)", got, want, err)
	}
}

func TestNewTokenCryptoRejectsBadKeySize(t *testing.T) {
	if _, err := NewTokenCrypto("aes-256-cbc", []byte("tooshort")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestNewTokenCryptoRejectsUnknownCipher(t *testing.T) {
	if _, err := NewTokenCrypto("aes-128-ecb", testKey()); err == nil {
		t.Fatal("expected error for unsupported cipher")
	}
}

func TestPKCS7RoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", strings.Repeat("x", 16), strings.Repeat("y", 33)} {
		padded := pkcs7Pad([]byte(s), aesBlockSize)
		if len(padded)%aesBlockSize != 0 {
			t.Fatalf("padded length %d not a multiple of block size", len(padded))
		}
		unpadded, err := pkcs7Unpad(padded, aesBlockSize)
		if err != nil {
			t.Fatalf("pkcs7Unpad: %v", err)
		}
		if string(unpadded) != s {
			t.Fatalf("got %q, want %q", unpadded, s)
		}
	}
}
