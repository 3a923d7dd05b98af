//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseKeyID tests that parsing never panics on arbitrary input
// and always returns either a valid ID or an error.
func FuzzParseKeyID(f *testing.F) {
	f.Add("")
	f.Add("0x0000000000000000000000000000000000000000000000000000000000000000")
	f.Add("0xabababababababababababababababababababababababababababababababab")
	f.Add("not-a-key")
	f.Add("'; DROP TABLE key_requests;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseKeyID(input)
		if err == nil {
			roundTrip, err2 := ParseKeyID(id.String())
			if err2 != nil {
				t.Errorf("valid key id failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed key id value")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAddress ensures address parsing is total and canonicalizing.
func FuzzParseAddress(f *testing.F) {
	f.Add("0x8d4d6c34EDEA4E1eb2fc2423D6A091cdCB34DB48")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParseAddress(input)
		if err != nil {
			return
		}
		again, err := ParseAddress(addr.String())
		if err != nil || again != addr {
			t.Errorf("canonical form %q did not round-trip", addr.String())
		}
	})
}
