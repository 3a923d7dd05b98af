package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"keygate/internal/release/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

const ticketKeyPrefix = "ticket:"

// TicketStore keeps verification tickets in Redis with a TTL. GETDEL makes
// redemption atomic across instances.
type TicketStore struct {
	client *redis.Client
}

func New(client *redis.Client) *TicketStore {
	return &TicketStore{client: client}
}

type ticketRecord struct {
	KeyID     string    `json:"key_id"`
	FileID    string    `json:"file_id"`
	UserID    string    `json:"user_id"`
	Signer    string    `json:"signer"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *TicketStore) Save(ctx context.Context, ticket *models.Ticket) error {
	ttl := time.Until(ticket.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("ticket %s already expired: %w", ticket.ID, sentinel.ErrInvalidState)
	}
	payload, err := json.Marshal(ticketRecord{
		KeyID:     ticket.KeyID.String(),
		FileID:    ticket.FileID.String(),
		UserID:    ticket.UserID.String(),
		Signer:    ticket.Signer.String(),
		IssuedAt:  ticket.IssuedAt,
		ExpiresAt: ticket.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	ok, err := s.client.SetNX(ctx, ticketKeyPrefix+ticket.ID, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	if !ok {
		return fmt.Errorf("ticket %s: %w", ticket.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *TicketStore) Consume(ctx context.Context, ticketID string, now time.Time) (*models.Ticket, error) {
	raw, err := s.client.GetDel(ctx, ticketKeyPrefix+ticketID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("ticket not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("consume ticket: %w", err)
	}
	var rec ticketRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	t, err := rec.toModel(ticketID)
	if err != nil {
		return nil, err
	}
	if t.IsExpired(now) {
		return nil, fmt.Errorf("ticket expired: %w", sentinel.ErrNotFound)
	}
	return t, nil
}

func (r ticketRecord) toModel(ticketID string) (*models.Ticket, error) {
	keyID, err := id.ParseKeyID(r.KeyID)
	if err != nil {
		return nil, fmt.Errorf("decode ticket key id: %w", err)
	}
	userID, err := id.ParseUserID(r.UserID)
	if err != nil {
		return nil, fmt.Errorf("decode ticket user id: %w", err)
	}
	signer, err := id.ParseAddress(r.Signer)
	if err != nil {
		return nil, fmt.Errorf("decode ticket signer: %w", err)
	}
	return &models.Ticket{
		ID:        ticketID,
		KeyID:     keyID,
		FileID:    id.FileID(r.FileID),
		UserID:    userID,
		Signer:    signer,
		IssuedAt:  r.IssuedAt,
		ExpiresAt: r.ExpiresAt,
	}, nil
}
