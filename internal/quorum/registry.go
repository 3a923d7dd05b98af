// Package quorum holds the provisioned authority roster and approval threshold.
//
// A Registry is constructed once per deployment and never mutated. Rotating
// authorities means provisioning a new Registry with a higher Version; key
// requests record the version they were created under.
package quorum

import (
	"fmt"

	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
)

// Authority is one approval principal. Index is the 1-based position in the
// provisioning list and is used for display ordering only.
type Authority struct {
	Address id.Address
	Index   int
	Active  bool
}

type Registry struct {
	version     int
	authorities []Authority
	byAddress   map[id.Address]int
	threshold   int
}

// NewRegistry validates and freezes a roster. It rejects an empty roster,
// duplicate addresses and thresholds outside 1..N.
func NewRegistry(version int, addresses []id.Address, threshold int) (*Registry, error) {
	n := len(addresses)
	if n == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "authority roster must not be empty")
	}
	if threshold < 1 || threshold > n {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("threshold %d out of range 1..%d", threshold, n))
	}
	r := &Registry{
		version:     version,
		authorities: make([]Authority, n),
		byAddress:   make(map[id.Address]int, n),
		threshold:   threshold,
	}
	for i, addr := range addresses {
		if _, dup := r.byAddress[addr]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, "duplicate authority "+addr.String())
		}
		r.byAddress[addr] = i
		r.authorities[i] = Authority{Address: addr, Index: i + 1, Active: true}
	}
	return r, nil
}

// ParseRegistry parses hex addresses and builds a Registry.
func ParseRegistry(version int, addresses []string, threshold int) (*Registry, error) {
	parsed := make([]id.Address, 0, len(addresses))
	for _, raw := range addresses {
		addr, err := id.ParseAddress(raw)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid authority address "+raw)
		}
		parsed = append(parsed, addr)
	}
	return NewRegistry(version, parsed, threshold)
}

func (r *Registry) Version() int   { return r.version }
func (r *Registry) Threshold() int { return r.threshold }
func (r *Registry) Size() int      { return len(r.authorities) }

// Authorities returns a copy of the roster in provisioning order.
func (r *Registry) Authorities() []Authority {
	out := make([]Authority, len(r.authorities))
	copy(out, r.authorities)
	return out
}

// Addresses returns the roster addresses in provisioning order.
func (r *Registry) Addresses() []id.Address {
	out := make([]id.Address, len(r.authorities))
	for i, a := range r.authorities {
		out[i] = a.Address
	}
	return out
}

// IsActiveAuthority reports whether addr may record approvals.
func (r *Registry) IsActiveAuthority(addr id.Address) bool {
	i, ok := r.byAddress[addr]
	return ok && r.authorities[i].Active
}

// Lookup returns the authority entry for addr.
func (r *Registry) Lookup(addr id.Address) (Authority, bool) {
	i, ok := r.byAddress[addr]
	if !ok {
		return Authority{}, false
	}
	return r.authorities[i], true
}

// Describe summarizes the quorum rule for display.
func (r *Registry) Describe() string {
	return fmt.Sprintf("%d out of %d approvals required", r.threshold, len(r.authorities))
}
