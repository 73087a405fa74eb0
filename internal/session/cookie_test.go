package session

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T) *CookieCodec {
	t.Helper()
	c, err := NewCookieCodec(bytes.Repeat([]byte{0x42}, SecretSize), CookieConfig{
		Name:   "cyberduck_session",
		Secure: true,
		MaxAge: 3600,
	})
	if err != nil {
		t.Fatalf("NewCookieCodec() error: %v", err)
	}
	return c
}

func TestNewCookieCodec_RejectsShortSecret(t *testing.T) {
	_, err := NewCookieCodec([]byte("short"), CookieConfig{Name: "s", MaxAge: 1})
	if err == nil {
		t.Fatal("expected error for short secret, got nil")
	}
}

func TestCookieCodec_EncodeDecode_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	cookie, err := c.Encode("session-id-123")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	if !cookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if !cookie.Secure {
		t.Error("cookie should be Secure")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want %v", cookie.SameSite, http.SameSiteLaxMode)
	}
	if cookie.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", cookie.MaxAge)
	}
	if strings.Contains(cookie.Value, "session-id-123") {
		t.Error("cookie value should not contain the plain session id")
	}

	sid, err := c.Decode(cookie.Value)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if sid != "session-id-123" {
		t.Errorf("sid = %q, want %q", sid, "session-id-123")
	}
}

func TestCookieCodec_Decode_Rejects(t *testing.T) {
	c := newTestCodec(t)
	valid, err := c.Encode("sid")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	// 中央の1文字を改ざんする
	b := []byte(valid.Value)
	mid := len(b) / 2
	if b[mid] == 'A' {
		b[mid] = 'B'
	} else {
		b[mid] = 'A'
	}
	tampered := string(b)

	tests := []struct {
		name  string
		value string
		want  error
	}{
		{"empty", "", ErrCookieFormat},
		{"no version", "abcdef", ErrCookieFormat},
		{"wrong version", "v0." + strings.TrimPrefix(valid.Value, "v1."), ErrCookieFormat},
		{"bad base64", "v1.!!!", ErrCookieFormat},
		{"too short", "v1.AAAA", ErrCookieFormat},
		{"tampered", tampered, ErrCookieInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.value)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode(%q) error = %v, want %v", tt.value, err, tt.want)
			}
		})
	}
}

func TestCookieCodec_Decode_RejectsOtherCookieName(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewCookieCodec(bytes.Repeat([]byte{0x42}, SecretSize), CookieConfig{
		Name:   "other",
		MaxAge: 3600,
	})
	if err != nil {
		t.Fatalf("NewCookieCodec() error: %v", err)
	}

	cookie, _ := other.Encode("sid")
	if _, err := c.Decode(cookie.Value); !errors.Is(err, ErrCookieInvalid) {
		t.Errorf("error = %v, want %v", err, ErrCookieInvalid)
	}
}

func TestCookieCodec_Decode_Expired(t *testing.T) {
	c := newTestCodec(t)
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issued }

	cookie, err := c.Encode("sid")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	c.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if _, err := c.Decode(cookie.Value); !errors.Is(err, ErrCookieExpired) {
		t.Errorf("error = %v, want %v", err, ErrCookieExpired)
	}
}

func TestCookieCodec_Clear(t *testing.T) {
	c := newTestCodec(t)
	cookie := c.Clear()

	if cookie.MaxAge != -1 {
		t.Errorf("MaxAge = %d, want -1", cookie.MaxAge)
	}
	if cookie.Name != "cyberduck_session" {
		t.Errorf("Name = %q, want %q", cookie.Name, "cyberduck_session")
	}
}
