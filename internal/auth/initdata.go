package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrInvalidSignature covers every way launch data can fail verification.
	ErrInvalidSignature = errors.New("auth: invalid init data signature")
	// ErrMissingHash is the no-hash case; errors.Is matches ErrInvalidSignature too.
	ErrMissingHash = fmt.Errorf("%w: hash missing", ErrInvalidSignature)
)

// webAppKey is the fixed HMAC key Telegram uses to derive the per-bot secret.
const webAppKey = "WebAppData"

// Identity is the Telegram user embedded in verified launch data.
type Identity struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// VerifyInitData checks raw Mini App launch data against botToken and returns
// the embedded user. It has no side effects.
func VerifyInitData(raw, botToken string) (Identity, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	got := first(values, "hash")
	if got == "" {
		return Identity{}, ErrMissingHash
	}

	want := signature(DataCheckString(values), botToken)
	if !hmac.Equal([]byte(want), []byte(got)) {
		return Identity{}, ErrInvalidSignature
	}

	var id Identity
	if err := json.Unmarshal([]byte(first(values, "user")), &id); err != nil {
		return Identity{}, fmt.Errorf("%w: user: %v", ErrInvalidSignature, err)
	}
	if id.ID == 0 {
		return Identity{}, fmt.Errorf("%w: user id missing", ErrInvalidSignature)
	}
	return id, nil
}

// DataCheckString joins every non-hash "key=value" pair, sorted by key,
// with "\n". Repeated keys contribute their first value. Keys sent with an
// empty value are kept as "key=".
func DataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(first(values, k))
	}
	return b.String()
}

// SignInitData returns values encoded with a valid hash for botToken.
func SignInitData(values url.Values, botToken string) string {
	cp := url.Values{}
	for k, v := range values {
		if k != "hash" && len(v) > 0 {
			cp.Set(k, v[0])
		}
	}
	cp.Set("hash", signature(DataCheckString(cp), botToken))
	return cp.Encode()
}

func signature(dataCheck, botToken string) string {
	secret := hmacSHA256([]byte(webAppKey), []byte(botToken))
	return hex.EncodeToString(hmacSHA256(secret, []byte(dataCheck)))
}

func hmacSHA256(key, msg []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil)
}

func first(values url.Values, k string) string {
	if v := values[k]; len(v) > 0 {
		return v[0]
	}
	return ""
}
