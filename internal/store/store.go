// Package store holds the contracts shared by the subscriber store backends.
package store

import (
	"context"
	"slices"
	"strings"

	"papermail/internal/domain"
)

// Preferences is the durable subscriber table. Implementations serialize
// Upsert calls against each other and against All.
type Preferences interface {
	Upsert(ctx context.Context, email string, topics []domain.TopicID) error
	Get(ctx context.Context, email string) (domain.Subscriber, error)
	All(ctx context.Context) ([]domain.Subscriber, error)
}

// DeliveryLog is append-only.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d domain.Delivery) error
}

// NormalizeEmail trims the identity. Case is preserved: the mail relay
// decides whether local parts are case-sensitive.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// NormalizeTopics drops blanks and duplicates, keeping first occurrences.
func NormalizeTopics(topics []domain.TopicID) []domain.TopicID {
	out := make([]domain.TopicID, 0, len(topics))

	for _, t := range topics {
		t = domain.TopicID(strings.TrimSpace(string(t)))
		if t == "" || slices.Contains(out, t) {
			continue
		}

		out = append(out, t)
	}

	return out
}

// DeliveryHistory reads the delivery log back, newest first.
type DeliveryHistory interface {
	RecentDeliveries(ctx context.Context, email string, limit int) ([]domain.Delivery, error)
}

// Store is implemented by every backend.
type Store interface {
	Preferences
	DeliveryLog
	DeliveryHistory
}
