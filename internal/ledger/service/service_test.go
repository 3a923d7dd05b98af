package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"keygate/internal/ledger/models"
	"keygate/internal/ledger/store/memory"
	"keygate/internal/quorum"
	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
	audit "keygate/pkg/platform/audit"
	"keygate/pkg/platform/audit/publisher"
	auditmemory "keygate/pkg/platform/audit/store/memory"
)

type LedgerServiceSuite struct {
	suite.Suite
	roster     []id.Address
	registry   *quorum.Registry
	auditStore *auditmemory.Store
	service    *Service
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func authority(b byte) id.Address {
	var a id.Address
	a[0] = 0xaa
	a[19] = b
	return a
}

func (s *LedgerServiceSuite) SetupTest() {
	s.roster = []id.Address{authority(1), authority(2), authority(3), authority(4), authority(5)}
	registry, err := quorum.NewRegistry(1, s.roster, 3)
	s.Require().NoError(err)
	s.registry = registry
	s.auditStore = auditmemory.New()

	svc, err := New(memory.New(), registry, WithAuditPublisher(publisher.NewPublisher(s.auditStore)))
	s.Require().NoError(err)
	s.service = svc
}

func (s *LedgerServiceSuite) registeredKey() id.KeyID {
	key, err := id.NewKeyID()
	s.Require().NoError(err)
	s.Require().NoError(s.service.Register(context.Background(), key))
	return key
}

func (s *LedgerServiceSuite) TestRecordApproval() {
	ctx := context.Background()

	s.Run("records a distinct approval", func() {
		key := s.registeredKey()
		receipt, err := s.service.RecordApproval(ctx, key, authority(2))
		s.Require().NoError(err)
		s.False(receipt.Duplicate)
		s.Equal(1, receipt.Status.Count)
		s.Equal(3, receipt.Status.Threshold)
		s.False(receipt.Status.Approved)
		s.Equal(models.TxHash(key, authority(2)), receipt.TxHash)
	})

	s.Run("duplicate approval counts once", func() {
		key := s.registeredKey()
		first, err := s.service.RecordApproval(ctx, key, authority(1))
		s.Require().NoError(err)
		second, err := s.service.RecordApproval(ctx, key, authority(1))
		s.Require().NoError(err)

		s.True(second.Duplicate)
		s.Equal(1, second.Status.Count)
		s.Equal(first.TxHash, second.TxHash)
	})

	s.Run("address outside the roster is rejected with detail", func() {
		key := s.registeredKey()
		outsider := authority(99)
		_, err := s.service.RecordApproval(ctx, key, outsider)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorizedApprover))

		var de *dErrors.Error
		s.Require().True(errors.As(err, &de))
		s.Equal(outsider.String(), de.Details["authority"])

		status, err := s.service.Status(ctx, key)
		s.Require().NoError(err)
		s.Equal(0, status.Count)
	})

	s.Run("unregistered key is unknown", func() {
		key, err := id.NewKeyID()
		s.Require().NoError(err)
		_, err = s.service.RecordApproval(ctx, key, authority(1))
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownRequest))
	})
}

func (s *LedgerServiceSuite) TestThresholdIsReachedByMthDistinctApprovalInAnyOrder() {
	ctx := context.Background()
	for _, order := range permutations(s.roster) {
		key := s.registeredKey()
		for i, a := range order {
			receipt, err := s.service.RecordApproval(ctx, key, a)
			s.Require().NoError(err)
			s.Equal(i+1 >= 3, receipt.Status.Approved, "after %d approvals", i+1)

			// Replaying an earlier approval must never move the count.
			dup, err := s.service.RecordApproval(ctx, key, order[0])
			s.Require().NoError(err)
			s.Equal(i+1, dup.Status.Count)
		}
	}
}

func (s *LedgerServiceSuite) TestConcurrentApprovalsConverge() {
	ctx := context.Background()
	key := s.registeredKey()

	var wg sync.WaitGroup
	for round := 0; round < 8; round++ {
		for _, a := range s.roster {
			wg.Add(1)
			go func(a id.Address) {
				defer wg.Done()
				_, err := s.service.RecordApproval(ctx, key, a)
				s.NoError(err)
			}(a)
		}
	}
	wg.Wait()

	status, err := s.service.Status(ctx, key)
	s.Require().NoError(err)
	s.Equal(5, status.Count)
	s.True(status.Approved)
	s.Equal(s.roster, status.Approvers, "approvers are listed in roster order")

	events, err := s.auditStore.ListBySubject(ctx, key.String())
	s.Require().NoError(err)
	var quorumEvents int
	for _, e := range events {
		if e.Action == string(audit.EventQuorumReached) {
			quorumEvents++
		}
	}
	s.Equal(1, quorumEvents)
}

func (s *LedgerServiceSuite) TestStatus() {
	ctx := context.Background()

	s.Run("unknown key", func() {
		key, err := id.NewKeyID()
		s.Require().NoError(err)
		_, err = s.service.Status(ctx, key)
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownRequest))
	})

	s.Run("register twice conflicts", func() {
		key := s.registeredKey()
		err := s.service.Register(ctx, key)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *LedgerServiceSuite) TestStoreFailureSurfacesAsLedgerUnavailable() {
	ctx := context.Background()
	svc, err := New(failingStore{}, s.registry)
	s.Require().NoError(err)
	key, err := id.NewKeyID()
	s.Require().NoError(err)

	_, err = svc.Status(ctx, key)
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))

	_, err = svc.RecordApproval(ctx, key, authority(1))
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))

	s.True(dErrors.HasCode(svc.Register(ctx, key), dErrors.CodeLedgerUnavailable))
	s.True(dErrors.HasCode(svc.Health(ctx), dErrors.CodeLedgerUnavailable))
}

func (s *LedgerServiceSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, s.registry)
	s.Error(err)
	_, err = New(memory.New(), nil)
	s.Error(err)
}

var errDown = errors.New("connection refused")

type failingStore struct{}

func (failingStore) Register(context.Context, id.KeyID, int) error { return errDown }
func (failingStore) AddApproval(context.Context, id.KeyID, id.Address) (*models.Entry, bool, error) {
	return nil, false, errDown
}
func (failingStore) Get(context.Context, id.KeyID) (*models.Entry, error) { return nil, errDown }
func (failingStore) Ping(context.Context) error                          { return errDown }

func permutations(in []id.Address) [][]id.Address {
	if len(in) <= 1 {
		return [][]id.Address{append([]id.Address(nil), in...)}
	}
	var out [][]id.Address
	for i := range in {
		rest := make([]id.Address, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]id.Address{in[i]}, p...))
		}
	}
	return out
}
