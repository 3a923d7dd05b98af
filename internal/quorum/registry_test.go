package quorum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
)

var roster = []string{
	"0x8d4d6c34EDEA4E1eb2fc2423D6A091cdCB34DB48",
	"0xfbe684383F81045249eB1E5974415f484E6F9f21",
	"0xd2A2E096ef8313db712DFaB39F40229F17Fd3f94",
	"0x57D14fF746d33127a90d4B888D378487e2C69f1f",
	"0x0e852C955e5DBF7187Ec6ed7A3B131165C63cf9a",
	"0x211Db7b2b475E9282B31Bd0fF39220805505Ff71",
	"0x7FAdEAa4442bc60678ee16E401Ed80342aC24d16",
}

type RegistrySuite struct {
	suite.Suite
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	r, err := ParseRegistry(1, roster, 4)
	s.Require().NoError(err)
	s.registry = r
}

func (s *RegistrySuite) TestConstruction() {
	s.Run("exposes roster in provisioning order", func() {
		auths := s.registry.Authorities()
		s.Len(auths, 7)
		s.Equal(1, auths[0].Index)
		s.Equal(7, auths[6].Index)
		s.Equal("0x7fadeaa4442bc60678ee16e401ed80342ac24d16", auths[6].Address.String())
		s.Equal("4 out of 7 approvals required", s.registry.Describe())
	})

	s.Run("returned roster is a copy", func() {
		auths := s.registry.Authorities()
		auths[0].Active = false
		s.True(s.registry.IsActiveAuthority(s.registry.Addresses()[0]))
	})
}

func (s *RegistrySuite) TestMembership() {
	member, err := id.ParseAddress(roster[2])
	s.Require().NoError(err)
	s.True(s.registry.IsActiveAuthority(member))

	stranger, err := id.ParseAddress("0x0000000000000000000000000000000000000001")
	s.Require().NoError(err)
	s.False(s.registry.IsActiveAuthority(stranger))
	_, ok := s.registry.Lookup(stranger)
	s.False(ok)
}

func TestNewRegistry_RejectsInvalidSetup(t *testing.T) {
	t.Run("threshold zero", func(t *testing.T) {
		_, err := ParseRegistry(1, roster, 0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("threshold above N", func(t *testing.T) {
		_, err := ParseRegistry(1, roster, 8)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("duplicate authority in any case", func(t *testing.T) {
		_, err := ParseRegistry(1, []string{roster[0], "0x8D4D6C34EDEA4E1EB2FC2423D6A091CDCB34DB48"}, 1)
		assert.ErrorContains(t, err, "duplicate authority")
	})

	t.Run("empty roster", func(t *testing.T) {
		_, err := NewRegistry(1, nil, 1)
		assert.Error(t, err)
	})

	t.Run("malformed address", func(t *testing.T) {
		_, err := ParseRegistry(1, []string{"authority-1"}, 1)
		assert.ErrorContains(t, err, "invalid authority address")
	})

	t.Run("threshold equal to N is allowed", func(t *testing.T) {
		r, err := ParseRegistry(2, roster, 7)
		require.NoError(t, err)
		assert.Equal(t, 7, r.Threshold())
		assert.Equal(t, 2, r.Version())
	})
}
