package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "keygate/pkg/domain-errors"
)

// UserID identifies an account issued by the account service.
// Invariant: never the nil UUID when obtained via ParseUserID.
type UserID uuid.UUID

// FileID is the storage collaborator's opaque file identifier.
// Invariant: non-empty, printable, at most maxFileIDLength bytes.
type FileID string

// KeyID is the per-request key identifier tracked on the approval ledger.
// It is 32 random bytes rendered as 0x-prefixed lowercase hex.
type KeyID [32]byte

// Address is a 20-byte account address derived from a secp256k1 public key.
// Authorities and wallet signers are both identified by Address.
type Address [20]byte

const maxFileIDLength = 128

// ParseUserID parses a UUID string into a UserID, rejecting the nil UUID.
func ParseUserID(s string) (UserID, error) {
	if s == "" {
		return UserID{}, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid user id")
	}
	if u == uuid.Nil {
		return UserID{}, dErrors.New(dErrors.CodeInvalidInput, "user id must not be nil")
	}
	return UserID(u), nil
}

func (id UserID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseFileID trims and validates a file identifier from external input.
func ParseFileID(s string) (FileID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "file id is required")
	}
	if len(s) > maxFileIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "file id is too long")
	}
	for _, r := range s {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "file id contains invalid characters")
		}
	}
	return FileID(s), nil
}

func (id FileID) String() string { return string(id) }

// NewKeyID draws a fresh key identifier from crypto/rand.
func NewKeyID() (KeyID, error) {
	var k KeyID
	if _, err := rand.Read(k[:]); err != nil {
		return KeyID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate key id")
	}
	return k, nil
}

// ParseKeyID accepts 64 hex characters with an optional 0x prefix.
func ParseKeyID(s string) (KeyID, error) {
	var k KeyID
	if err := decodeFixedHex(s, k[:]); err != nil {
		return KeyID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid key id")
	}
	return k, nil
}

func (k KeyID) String() string { return "0x" + hex.EncodeToString(k[:]) }

func (k KeyID) IsZero() bool { return k == KeyID{} }

// ParseAddress accepts 40 hex characters with an optional 0x prefix.
// Mixed-case (checksummed) input is accepted; the checksum is not enforced.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := decodeFixedHex(s, a[:]); err != nil {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "invalid address")
	}
	return a, nil
}

// String renders the address as 0x-prefixed lowercase hex.
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) IsZero() bool { return a == Address{} }

func decodeFixedHex(s string, dst []byte) error {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s) != hex.EncodedLen(len(dst)) {
		return hex.ErrLength
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}
