package secrets

import (
	"errors"
	"strings"
	"testing"
)

var testKey = strings.Repeat("0f", 32)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher() error: %v", err)
	}

	for _, plain := range []string{"", "eyJ0eXAiOiJKV1Qi.access", strings.Repeat("x", 4096)} {
		enc, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt() error: %v", err)
		}
		if got := strings.Count(enc, ":"); got != 2 {
			t.Errorf("Encrypt() = %q, want iv:tag:ciphertext", enc)
		}
		dec, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt() error: %v", err)
		}
		if dec != plain {
			t.Errorf("Decrypt() = %q, want %q", dec, plain)
		}
	}
}

func TestCipherFreshIV(t *testing.T) {
	c, _ := NewCipher(testKey)
	a, _ := c.Encrypt("token")
	b, _ := c.Encrypt("token")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical output")
	}
}

func TestCipherTampered(t *testing.T) {
	c, _ := NewCipher(testKey)
	enc, _ := c.Encrypt("refresh-token")
	parts := strings.Split(enc, ":")

	flipped := []byte(parts[2])
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}

	if _, err := c.Decrypt(parts[0] + ":" + parts[1] + ":" + string(flipped)); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}
}

func TestCipherMalformed(t *testing.T) {
	c, _ := NewCipher(testKey)
	tests := []string{
		"",
		"abc",
		"zz:00:00",
		"00:00:00",
	}
	for _, in := range tests {
		if _, err := c.Decrypt(in); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decrypt(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestNewCipherBadKey(t *testing.T) {
	for _, key := range []string{"", "nothex", strings.Repeat("ab", 16)} {
		if _, err := NewCipher(key); err == nil {
			t.Errorf("NewCipher(%q) succeeded, want error", key)
		}
	}
}
