package session

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("session: invalid cookie format")
	ErrCookieInvalid = errors.New("session: invalid cookie")
	ErrCookieExpired = errors.New("session: cookie expired")
)

// cookieVersion はCookie値の先頭に付与するフォーマットバージョン。
const cookieVersion = "v1"

// maxCookieLen は復号を試みるCookie値の上限長。
const maxCookieLen = 4096

// SecretSize はSESSION_SECRETとして必要な鍵長（バイト）。
const SecretSize = chacha20poly1305.KeySize

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	MaxAge int // 秒
}

// cookiePayload はCookieに封印する内容。
type cookiePayload struct {
	ID       string `cbor:"1,keyasint"`
	IssuedAt int64  `cbor:"2,keyasint"`
}

// CookieCodec はセッションIDをXChaCha20-Poly1305で封印したCookieを発行・検証する。
// 値の形式: "v1." + base64url(nonce || seal(CBOR(payload)))
// AADにはCookie名を使用し、別名のCookieへの流用を防ぐ。
type CookieCodec struct {
	aead   cipher.AEAD
	config CookieConfig
	now    func() time.Time
}

// NewCookieCodec はCookieCodecを生成する。secretはSecretSizeバイトである必要がある。
func NewCookieCodec(secret []byte, config CookieConfig) (*CookieCodec, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("session secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	if config.Name == "" {
		return nil, errors.New("session cookie name must not be empty")
	}
	if config.MaxAge <= 0 {
		return nil, errors.New("session cookie max age must be positive")
	}
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create aead: %w", err)
	}
	return &CookieCodec{aead: aead, config: config, now: time.Now}, nil
}

// Name はCookie名を返す。
func (c *CookieCodec) Name() string {
	return c.config.Name
}

// Encode はセッションIDを封印したCookieを返す。
func (c *CookieCodec) Encode(sid string) (*http.Cookie, error) {
	plain, err := cbor.Marshal(cookiePayload{ID: sid, IssuedAt: c.now().Unix()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cookie payload: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, []byte(c.config.Name))

	return &http.Cookie{
		Name:     c.config.Name,
		Value:    cookieVersion + "." + base64.RawURLEncoding.EncodeToString(sealed),
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   c.config.MaxAge,
		Expires:  c.now().Add(time.Duration(c.config.MaxAge) * time.Second),
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Decode はCookie値を検証し、セッションIDを取り出す。
func (c *CookieCodec) Decode(value string) (string, error) {
	if value == "" || len(value) > maxCookieLen {
		return "", ErrCookieFormat
	}
	version, enc, ok := strings.Cut(value, ".")
	if !ok || version != cookieVersion || enc == "" {
		return "", ErrCookieFormat
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", ErrCookieFormat
	}
	if len(sealed) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrCookieFormat
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, []byte(c.config.Name))
	if err != nil {
		return "", ErrCookieInvalid
	}

	var p cookiePayload
	if err := cbor.Unmarshal(plain, &p); err != nil || p.ID == "" {
		return "", ErrCookieInvalid
	}
	if c.now().After(time.Unix(p.IssuedAt, 0).Add(time.Duration(c.config.MaxAge) * time.Second)) {
		return "", ErrCookieExpired
	}
	return p.ID, nil
}

// Clear はブラウザのセッションCookieを削除するCookieを返す。
func (c *CookieCodec) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     c.config.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
