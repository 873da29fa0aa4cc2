// Package filestore keeps the subscriber table in a single JSON file and the
// delivery log in an append-only JSON Lines file.
//
// Every upsert rewrites the whole table, so writes are serialized with one
// process-wide lock held across read-modify-write. The snapshot read takes
// the read side of the same lock. The table is replaced atomically through a
// temporary file and rename.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"papermail/internal/domain"
	"papermail/internal/store"
)

type record struct {
	Email  string   `json:"email"`
	Topics []string `json:"topics"`
}

type deliveryRecord struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	SourceName string    `json:"sourceName"`
	Topic      string    `json:"topic,omitempty"`
	Title      string    `json:"title,omitempty"`
	Link       string    `json:"link,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Store struct {
	path string
	mu   sync.RWMutex

	logPath string
	logMu   sync.Mutex

	log *slog.Logger
}

func New(path string, deliveryLogPath string, log *slog.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("subscribers path is empty")
	}

	deliveryLogPath = strings.TrimSpace(deliveryLogPath)
	if deliveryLogPath == "" {
		return nil, errors.New("delivery log path is empty")
	}

	for _, p := range []string{path, deliveryLogPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", p, err)
		}
	}

	return &Store{path: path, logPath: deliveryLogPath, log: log}, nil
}

func (s *Store) Upsert(ctx context.Context, email string, topics []domain.TopicID) error {
	email = store.NormalizeEmail(email)
	if email == "" {
		return errors.New("email is empty")
	}

	normalized := store.NormalizeTopics(topics)
	topicValues := make([]string, 0, len(normalized))
	for _, t := range normalized {
		topicValues = append(topicValues, string(t))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readLocked(ctx)

	idx := slices.IndexFunc(records, func(r record) bool { return r.Email == email })
	if idx >= 0 {
		records[idx].Topics = topicValues
	} else {
		records = append(records, record{Email: email, Topics: topicValues})
	}

	if err := s.writeLocked(records); err != nil {
		return fmt.Errorf("write subscribers: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, email string) (domain.Subscriber, error) {
	email = store.NormalizeEmail(email)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.readLocked(ctx) {
		if r.Email == email {
			return toSubscriber(r), nil
		}
	}

	return domain.Subscriber{}, domain.ErrSubscriberNotFound
}

func (s *Store) All(ctx context.Context) ([]domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.readLocked(ctx)

	subscribers := make([]domain.Subscriber, 0, len(records))
	for _, r := range records {
		subscribers = append(subscribers, toSubscriber(r))
	}

	slices.SortFunc(subscribers, func(a, b domain.Subscriber) int {
		return strings.Compare(a.Email, b.Email)
	})

	return subscribers, nil
}

// readLocked treats a missing or unreadable table as empty.
func (s *Store) readLocked(ctx context.Context) []record {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		s.log.WarnContext(ctx, "Failed to read subscribers file, using empty table",
			"error", err,
			"path", s.path)

		return nil
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var records []record
	if err = json.Unmarshal(data, &records); err != nil {
		s.log.WarnContext(ctx, "Failed to parse subscribers file, using empty table",
			"error", err,
			"path", s.path)

		return nil
	}

	out := records[:0]
	seen := make(map[string]int, len(records))

	for _, r := range records {
		r.Email = store.NormalizeEmail(r.Email)
		if r.Email == "" {
			continue
		}

		// Later records win, matching what an upsert would have left behind.
		if i, ok := seen[r.Email]; ok {
			out[i] = r
			continue
		}

		seen[r.Email] = len(out)
		out = append(out, r)
	}

	return out
}

func (s *Store) writeLocked(records []record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("write temp file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("close temp file: %w", err)
	}

	if err = os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

func (s *Store) RecordDelivery(_ context.Context, d domain.Delivery) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open delivery log: %w", err)
	}

	encodeErr := json.NewEncoder(f).Encode(deliveryRecord{
		ID:         d.ID,
		Email:      d.Email,
		SourceName: d.SourceName,
		Topic:      string(d.Topic),
		Title:      d.Title,
		Link:       d.Link,
		Status:     d.Status,
		Error:      d.Error,
		CreatedAt:  d.CreatedAt.UTC(),
	})

	if closeErr := f.Close(); closeErr != nil {
		encodeErr = errors.Join(encodeErr, fmt.Errorf("close delivery log: %w", closeErr))
	}

	if encodeErr != nil {
		return fmt.Errorf("append delivery: %w", encodeErr)
	}

	return nil
}

// RecentDeliveries scans the journal and returns the newest deliveries for
// email, newest first.
func (s *Store) RecentDeliveries(ctx context.Context, email string, limit int) ([]domain.Delivery, error) {
	email = store.NormalizeEmail(email)

	s.logMu.Lock()
	defer s.logMu.Unlock()

	f, err := os.Open(s.logPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open delivery log: %w", err)
	}
	defer func() {
		if err = f.Close(); err != nil {
			s.log.ErrorContext(ctx, "Failed to close delivery log",
				"error", err,
				"path", s.logPath)
		}
	}()

	var deliveries []domain.Delivery

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r deliveryRecord
		if unmarshalErr := json.Unmarshal(scanner.Bytes(), &r); unmarshalErr != nil {
			continue
		}

		if r.Email != email {
			continue
		}

		deliveries = append(deliveries, domain.Delivery{
			ID:         r.ID,
			Email:      r.Email,
			SourceName: r.SourceName,
			Topic:      domain.TopicID(r.Topic),
			Title:      r.Title,
			Link:       r.Link,
			Status:     r.Status,
			Error:      r.Error,
			CreatedAt:  r.CreatedAt,
		})
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan delivery log: %w", err)
	}

	slices.Reverse(deliveries)
	if limit > 0 && len(deliveries) > limit {
		deliveries = deliveries[:limit]
	}

	return deliveries, nil
}

func toSubscriber(r record) domain.Subscriber {
	topics := make([]domain.TopicID, 0, len(r.Topics))
	for _, t := range r.Topics {
		topics = append(topics, domain.TopicID(t))
	}

	return domain.Subscriber{Email: r.Email, Topics: store.NormalizeTopics(topics)}
}
