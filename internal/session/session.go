// Package session carries the signed caller identity explicitly to every
// operation that needs one. A nil *Session means "no identity".
package session

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"sync/atomic"
	"time"

	"filippo.io/edwards25519"
	"github.com/google/uuid"

	"pulse-rewards/internal/domain"
)

var (
	// ErrNoIdentity is returned when an operation needs a caller and none is signed in.
	ErrNoIdentity = errors.New("no signed caller identity")

	// ErrInvalidPublicKey is returned when the caller key is not a valid Ed25519 point.
	ErrInvalidPublicKey = errors.New("invalid ed25519 public key")
)

// ed25519 SubjectPublicKeyInfo DER prefix; the raw 32-byte key follows.
var ed25519DERPrefix = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}

const selfAuthenticatingTag = 0x02

// Session is a signed-in caller. It is created on sign-in and torn down on sign-out.
type Session struct {
	id        uuid.UUID
	principal domain.Principal
	publicKey []byte
	createdAt time.Time
	closed    atomic.Bool
}

// SignIn validates the caller's Ed25519 public key and opens a session.
func SignIn(publicKey []byte) (*Session, error) {
	if len(publicKey) != 32 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(publicKey))
	}
	if _, err := new(edwards25519.Point).SetBytes(publicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	return &Session{
		id:        uuid.New(),
		principal: PrincipalFromPublicKey(publicKey),
		publicKey: append([]byte(nil), publicKey...),
		createdAt: time.Now(),
	}, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id.String()
}

// Principal returns the caller identity, or ErrNoIdentity when there is none.
func (s *Session) Principal() (domain.Principal, error) {
	if s == nil || s.closed.Load() {
		return "", ErrNoIdentity
	}
	return s.principal, nil
}

// Active reports whether the session can still be used.
func (s *Session) Active() bool {
	return s != nil && !s.closed.Load()
}

// SignOut tears the session down. Later calls see ErrNoIdentity.
func (s *Session) SignOut() {
	if s != nil {
		s.closed.Store(true)
	}
}

// Require returns the caller principal of s or ErrNoIdentity.
func Require(s *Session) (domain.Principal, error) {
	return s.Principal()
}

// PrincipalFromPublicKey derives the self-authenticating principal of an
// Ed25519 key: sha224(DER(key)) followed by the 0x02 tag, rendered as
// lower-case base32 of crc32 || bytes in dash-separated groups of five.
func PrincipalFromPublicKey(publicKey []byte) domain.Principal {
	der := append(append([]byte(nil), ed25519DERPrefix...), publicKey...)
	sum := sha256.Sum224(der)
	raw := append(sum[:], selfAuthenticatingTag)
	return domain.Principal(EncodePrincipal(raw))
}

// EncodePrincipal renders raw principal bytes in textual form.
func EncodePrincipal(raw []byte) string {
	buf := make([]byte, 4+len(raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(raw))
	copy(buf[4:], raw)

	enc := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))

	var groups []string
	for len(enc) > 5 {
		groups = append(groups, enc[:5])
		enc = enc[5:]
	}
	groups = append(groups, enc)
	return strings.Join(groups, "-")
}

// DecodePrincipal parses textual form back to raw bytes, verifying the checksum.
func DecodePrincipal(text string) ([]byte, error) {
	enc := strings.ToUpper(strings.ReplaceAll(text, "-", ""))
	buf, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("decode principal: %w", err)
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("decode principal: too short")
	}
	raw := buf[4:]
	if binary.BigEndian.Uint32(buf[:4]) != crc32.ChecksumIEEE(raw) {
		return nil, fmt.Errorf("decode principal: checksum mismatch")
	}
	return raw, nil
}
