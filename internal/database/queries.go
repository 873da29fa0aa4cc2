package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"papermail/internal/domain"
	"papermail/internal/store"
)

func (d *Database) Upsert(ctx context.Context, email string, topics []domain.TopicID) error {
	email = store.NormalizeEmail(email)
	if email == "" {
		return errors.New("email is empty")
	}

	encoded, err := json.Marshal(topicStrings(store.NormalizeTopics(topics)))
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	query := `insert into subscribers (email, topics, created_at, updated_at)
	values (?, ?, ?, ?)
	on conflict (email) do update
	set topics = excluded.topics,
	updated_at = excluded.updated_at`

	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err = d.db.ExecContext(ctx, query, email, string(encoded), now, now); err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}

	return nil
}

func (d *Database) Get(ctx context.Context, email string) (domain.Subscriber, error) {
	email = store.NormalizeEmail(email)

	query := "select email, topics from subscribers where email = ?"

	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		sub       domain.Subscriber
		rawTopics string
	)

	err := d.db.QueryRowContext(ctx, query, email).Scan(&sub.Email, &rawTopics)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscriber{}, domain.ErrSubscriberNotFound
	}
	if err != nil {
		d.log.WarnContext(ctx, "Failed to read subscriber, treating as absent",
			"error", err,
			"email", email)

		return domain.Subscriber{}, domain.ErrSubscriberNotFound
	}

	sub.Topics = d.decodeTopics(ctx, sub.Email, rawTopics)

	return sub, nil
}

func (d *Database) All(ctx context.Context) ([]domain.Subscriber, error) {
	query := "select email, topics from subscribers order by email"

	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		d.log.WarnContext(ctx, "Failed to read subscribers, treating table as empty",
			"error", err)

		return nil, nil
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "All")
		}
	}()

	var subscribers []domain.Subscriber
	for rows.Next() {
		var (
			sub       domain.Subscriber
			rawTopics string
		)

		if err = rows.Scan(&sub.Email, &rawTopics); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		sub.Email = strings.TrimSpace(sub.Email)
		sub.Topics = d.decodeTopics(ctx, sub.Email, rawTopics)

		subscribers = append(subscribers, sub)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return subscribers, nil
}

func (d *Database) RecordDelivery(ctx context.Context, delivery domain.Delivery) error {
	query := `insert into deliveries
	(id, email, source_name, topic, title, link, status, error, created_at)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.Email,
		delivery.SourceName,
		string(delivery.Topic),
		delivery.Title,
		delivery.Link,
		delivery.Status,
		delivery.Error,
		delivery.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}

	return nil
}

func (d *Database) RecentDeliveries(ctx context.Context, email string, limit int) ([]domain.Delivery, error) {
	query := `select id, email, source_name, topic, title, link, status, error, created_at
	from deliveries
	where email = ?
	order by created_at desc
	limit ?`

	rows, err := d.db.QueryContext(ctx, query, store.NormalizeEmail(email), limit)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"email", email,
				"operation", "RecentDeliveries")
		}
	}()

	var deliveries []domain.Delivery
	for rows.Next() {
		var (
			delivery domain.Delivery
			topic    string
		)

		if err = rows.Scan(
			&delivery.ID,
			&delivery.Email,
			&delivery.SourceName,
			&topic,
			&delivery.Title,
			&delivery.Link,
			&delivery.Status,
			&delivery.Error,
			&delivery.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		delivery.Topic = domain.TopicID(topic)
		deliveries = append(deliveries, delivery)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return deliveries, nil
}

func (d *Database) decodeTopics(ctx context.Context, email string, raw string) []domain.TopicID {
	var topics []string
	if err := json.Unmarshal([]byte(raw), &topics); err != nil {
		d.log.WarnContext(ctx, "Failed to decode subscriber topics",
			"error", err,
			"email", email)

		return nil
	}

	out := make([]domain.TopicID, 0, len(topics))
	for _, t := range topics {
		out = append(out, domain.TopicID(t))
	}

	return store.NormalizeTopics(out)
}

func topicStrings(topics []domain.TopicID) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		out = append(out, string(t))
	}

	return out
}
