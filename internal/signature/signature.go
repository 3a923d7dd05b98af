// Package signature verifies wallet personal-message signatures over the
// per-file challenge and recovers the signing address.
package signature

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	id "keygate/pkg/domain"
)

// Failure reasons.
const (
	ReasonMismatch  = "signature_mismatch"
	ReasonMalformed = "malformed_signature"
)

const (
	signatureLength = 65
	personalPrefix  = "\x19Ethereum Signed Message:\n"
)

// Result is the outcome of one verification.
type Result struct {
	Verified  bool
	Reason    string
	Recovered id.Address
}

// ChallengeMessage is the canonical text a wallet signs to approve access to fileID.
func ChallengeMessage(fileID id.FileID) string {
	return "Approve access for file " + fileID.String()
}

// Keccak256 hashes data with the legacy Keccak-256 used by account addresses.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// PersonalMessageHash is the personal_sign digest of message.
func PersonalMessageHash(message string) []byte {
	prefix := personalPrefix + strconv.Itoa(len(message))
	return Keccak256([]byte(prefix), []byte(message))
}

// AddressFromPublicKey derives the 20-byte account address of pub.
func AddressFromPublicKey(pub *secp256k1.PublicKey) id.Address {
	uncompressed := pub.SerializeUncompressed()
	digest := Keccak256(uncompressed[1:])
	var addr id.Address
	copy(addr[:], digest[12:])
	return addr
}

// Recover returns the address that produced signatureHex over message.
// The signature is r||s||v with v in {0, 1, 27, 28}.
func Recover(message, signatureHex string) (id.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signatureHex), "0x"))
	if err != nil {
		return id.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != signatureLength {
		return id.Address{}, fmt.Errorf("signature must be %d bytes, got %d", signatureLength, len(raw))
	}
	v := raw[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return id.Address{}, fmt.Errorf("invalid recovery id %d", raw[64])
	}

	// ecdsa.RecoverCompact expects the recovery header first.
	compact := make([]byte, signatureLength)
	compact[0] = 27 + v
	copy(compact[1:], raw[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, PersonalMessageHash(message))
	if err != nil {
		return id.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return AddressFromPublicKey(pub), nil
}

// Verify recovers the signer of message and compares it with claimed.
func Verify(message, signatureHex string, claimed id.Address) Result {
	recovered, err := Recover(message, signatureHex)
	if err != nil {
		return Result{Reason: ReasonMalformed}
	}
	if recovered != claimed {
		return Result{Reason: ReasonMismatch, Recovered: recovered}
	}
	return Result{Verified: true, Recovered: recovered}
}

// SignPersonal produces a wallet-compatible r||s||v signature (v in {27, 28})
// over message. Used by the approval simulator and tests.
func SignPersonal(key *secp256k1.PrivateKey, message string) string {
	compact := ecdsa.SignCompact(key, PersonalMessageHash(message), false)
	out := make([]byte, signatureLength)
	copy(out, compact[1:])
	out[64] = compact[0]
	return "0x" + hex.EncodeToString(out)
}
