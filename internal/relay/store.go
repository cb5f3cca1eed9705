package relay

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
)

// minSnapshotTTL floors snapshot lifetimes so a session created at or past
// its expiry still resolves as expired rather than unknown.
const minSnapshotTTL = time.Minute

var (
	ErrSnapshotNotFound = errors.New("relay session snapshot not found")
	ErrUnavailable      = errors.New("relay store unavailable")
)

// Store is the shared staging area between remote respondents and the clinic.
// Nothing here is transactional with the local store.
type Store interface {
	// Insert stages a record and notifies the owner's subscribers.
	Insert(ctx context.Context, rec domain.RelayRecord) error
	// ListUnconsumed returns the owner's staged records, oldest first.
	ListUnconsumed(ctx context.Context, ownerID string) ([]domain.RelayRecord, error)
	CountUnconsumed(ctx context.Context, ownerID string) (int64, error)
	// Delete removes a consumed record. Deleting an unknown record succeeds.
	Delete(ctx context.Context, recordID string) error
	// Subscribe delivers records inserted for ownerID to onInsert until the
	// returned subscription is closed. Delivery may repeat or be missed
	// across reconnects.
	Subscribe(ctx context.Context, ownerID string, onInsert func(domain.RelayRecord)) (Subscription, error)

	PutSessionSnapshot(ctx context.Context, token string, snap domain.SessionSnapshot, ttl time.Duration) error
	GetSessionSnapshot(ctx context.Context, token string) (*domain.SessionSnapshot, error)
	// TransitionSnapshot moves a pending snapshot to a terminal status and
	// reports whether this call made the change.
	TransitionSnapshot(ctx context.Context, token string, to domain.SessionStatus, at time.Time) (bool, error)
	// ReopenSnapshot undoes a completion claimed by a submission whose record
	// could not be staged.
	ReopenSnapshot(ctx context.Context, token string) error
	DeleteSessionSnapshot(ctx context.Context, token string) error

	Ping(ctx context.Context) error
}

// Subscription is the owned handle for a live channel subscription.
type Subscription interface {
	// Close stops delivery and waits for an in-progress callback to return.
	Close() error
}

func applyTransition(snap *domain.SessionSnapshot, to domain.SessionStatus, at time.Time) bool {
	if snap.Status != domain.SessionStatusPending {
		return false
	}
	snap.Status = to
	if to == domain.SessionStatusCompleted {
		at = at.UTC()
		snap.CompletedAt = &at
	}
	return true
}

func reopen(snap *domain.SessionSnapshot) bool {
	if snap.Status != domain.SessionStatusCompleted {
		return false
	}
	snap.Status = domain.SessionStatusPending
	snap.CompletedAt = nil
	return true
}
