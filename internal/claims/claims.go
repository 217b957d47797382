// Package claims tracks which operator owns an inbound call. A claim moves
// offered -> claimed -> verified; the verified pairing between a call and
// an operator is what makes that operator's observer connection primary.
package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOffered  Status = "offered"
	StatusClaimed  Status = "claimed"
	StatusVerified Status = "verified"
)

var (
	ErrNotFound          = errors.New("claim not found")
	ErrInvalidTransition = errors.New("invalid claim transition")
	ErrWrongOperator     = errors.New("claim held by another operator")
)

// Claim is the minimal durable record pairing a call with an operator,
// plus the caller identity captured at offer time.
type Claim struct {
	ID        string    `json:"id"`
	CallSid   string    `json:"call_sid"`
	From      string    `json:"from"`
	Status    Status    `json:"status"`
	ClaimedBy string    `json:"claimed_by,omitempty"`
	OfferedAt time.Time `json:"offered_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	// Offer records a new inbound call available for claiming. Offering a
	// call that already has a claim returns the existing claim.
	Offer(ctx context.Context, callSid, from string) (*Claim, error)
	// Take moves an offered claim to claimed for the given operator.
	Take(ctx context.Context, callSid, operatorID string) (*Claim, error)
	// Verify moves a claimed claim to verified for the same operator.
	Verify(ctx context.Context, callSid, operatorID string) (*Claim, error)
	Get(ctx context.Context, callSid string) (*Claim, error)
	Close()
}

// NewStore returns the postgres-backed store when a database URL is
// configured and an in-memory store otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// MemoryStore keeps claims for the process lifetime only.
type MemoryStore struct {
	mu     sync.Mutex
	byCall map[string]*Claim
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCall: make(map[string]*Claim)}
}

func (s *MemoryStore) Offer(_ context.Context, callSid, from string) (*Claim, error) {
	if strings.TrimSpace(callSid) == "" {
		return nil, errors.New("callSid is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byCall[callSid]; ok {
		return cloneClaim(existing), nil
	}
	now := time.Now().UTC()
	c := &Claim{
		ID:        uuid.NewString(),
		CallSid:   callSid,
		From:      from,
		Status:    StatusOffered,
		OfferedAt: now,
		UpdatedAt: now,
	}
	s.byCall[callSid] = c
	return cloneClaim(c), nil
}

func (s *MemoryStore) Take(_ context.Context, callSid, operatorID string) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byCall[callSid]
	if !ok {
		return nil, ErrNotFound
	}
	if err := advance(c, StatusClaimed, operatorID); err != nil {
		return nil, err
	}
	return cloneClaim(c), nil
}

func (s *MemoryStore) Verify(_ context.Context, callSid, operatorID string) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byCall[callSid]
	if !ok {
		return nil, ErrNotFound
	}
	if err := advance(c, StatusVerified, operatorID); err != nil {
		return nil, err
	}
	return cloneClaim(c), nil
}

func (s *MemoryStore) Get(_ context.Context, callSid string) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byCall[callSid]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneClaim(c), nil
}

func (s *MemoryStore) Close() {}

// advance enforces the offered -> claimed -> verified progression.
func advance(c *Claim, to Status, operatorID string) error {
	if strings.TrimSpace(operatorID) == "" {
		return errors.New("operator id is required")
	}
	switch to {
	case StatusClaimed:
		if c.Status != StatusOffered {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
		}
		c.ClaimedBy = operatorID
	case StatusVerified:
		if c.Status != StatusClaimed {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
		}
		if c.ClaimedBy != operatorID {
			return ErrWrongOperator
		}
	default:
		return fmt.Errorf("%w: -> %s", ErrInvalidTransition, to)
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneClaim(c *Claim) *Claim {
	out := *c
	return &out
}
