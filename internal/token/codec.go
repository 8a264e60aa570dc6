// Package token signs and verifies the round start token. The token is the
// whole session: no round state is kept server-side, so it must be
// self-verifying and safe to hand to an untrusted client.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Version is the wire version tag. Verify rejects any other value, both in
// the wire prefix and inside the decoded payload.
const Version = "v1"

// Payload binds issue time, seed and problem identity. The MAC is computed
// over the exact serialized payload bytes.
type Payload struct {
	V          string `json:"v"`
	IssuedAtMs int64  `json:"issuedAtMs"`
	Seed       string `json:"seed"`
	ProblemID  string `json:"problemId"`
}

type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Issue serializes the payload and returns
// "<version>.<base64url(payload)>.<base64url(HMAC-SHA256 signature)>".
func (c *Codec) Issue(p Payload) (string, error) {
	p.V = Version

	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	sig := c.sign(body)
	enc := base64.RawURLEncoding

	return Version + "." + enc.EncodeToString(body) + "." + enc.EncodeToString(sig), nil
}

// Verify returns the payload carried by a valid token, or nil for anything
// else. Malformed input of any kind yields nil, never a panic: this is called
// directly on attacker-controlled strings. The signature check is
// constant-time on length-equal byte strings.
func (c *Codec) Verify(tok string) *Payload {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 || parts[0] != Version || parts[1] == "" || parts[2] == "" {
		return nil
	}

	enc := base64.RawURLEncoding

	body, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil
	}

	provided, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil
	}

	expected := c.sign(body)
	if len(expected) != len(provided) || !hmac.Equal(expected, provided) {
		return nil
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil
	}
	if p.V != Version {
		return nil
	}

	return &p
}

func (c *Codec) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
