package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a subscription is not found.
var ErrNotFound = errors.New("webhook subscription not found")

// Repository stores subscriptions and their delivery log.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	ListByEvent(ctx context.Context, eventType string) ([]*Subscription, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	// Deliveries returns the most recent attempts for a subscription,
	// newest first.
	Deliveries(ctx context.Context, subID uuid.UUID, limit int) ([]*Delivery, error)
}

// MemoryRepository keeps everything in process, in creation order. The delivery log keeps at
// most maxDeliveries entries per subscription.
type MemoryRepository struct {
	mu         sync.Mutex
	subs       []*Subscription
	deliveries map[uuid.UUID][]*Delivery
}

const maxDeliveries = 100

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		deliveries: make(map[uuid.UUID][]*Delivery),
	}
}

func (r *MemoryRepository) Create(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.ID = uuid.New()
	sub.CreatedAt = time.Now().UTC()
	cp := *sub
	r.subs = append(r.subs, &cp)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ID == id {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) List(ctx context.Context) ([]*Subscription, error) {
	return r.ListByEvent(ctx, "")
}

func (r *MemoryRepository) ListByEvent(_ context.Context, eventType string) ([]*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, sub := range r.subs {
		if eventType == "" || sub.wants(eventType) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub.ID == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			delete(r.deliveries, id)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) RecordDelivery(_ context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()
	log := append(r.deliveries[d.SubscriptionID], d)
	if len(log) > maxDeliveries {
		log = log[len(log)-maxDeliveries:]
	}
	r.deliveries[d.SubscriptionID] = log
	return nil
}

func (r *MemoryRepository) Deliveries(_ context.Context, subID uuid.UUID, limit int) ([]*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.deliveries[subID]
	out := make([]*Delivery, 0, min(limit, len(log)))
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *log[i]
		out = append(out, &cp)
	}
	return out, nil
}

// PostgresRepository stores subscriptions in the webhook_subscriptions and
// webhook_deliveries tables.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subColumns = `id, url, events, secret, created_at`

func (r *PostgresRepository) Create(ctx context.Context, sub *Subscription) error {
	sub.ID = uuid.New()
	sub.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_subscriptions (`+subColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.URL, sub.Events, sub.Secret, sub.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := r.db.QueryRow(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	var sub Subscription
	if err := row.Scan(&sub.ID, &sub.URL, &sub.Events, &sub.Secret, &sub.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Subscription, error) {
	return r.query(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions ORDER BY created_at`)
}

func (r *PostgresRepository) ListByEvent(ctx context.Context, eventType string) ([]*Subscription, error) {
	return r.query(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions
	                     WHERE $1 = ANY(events) ORDER BY created_at`, eventType)
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]*Subscription, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.URL, &sub.Events, &sub.Secret, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) RecordDelivery(ctx context.Context, d *Delivery) error {
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, subscription_id, event_id, event_type, status_code, attempt, success, error_message, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.SubscriptionID, d.EventID, d.EventType,
		d.StatusCode, d.Attempt, d.Success, d.ErrorMessage, d.DeliveredAt,
	)
	return err
}

func (r *PostgresRepository) Deliveries(ctx context.Context, subID uuid.UUID, limit int) ([]*Delivery, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, subscription_id, event_id, event_type, status_code, attempt, success, error_message, delivered_at
		 FROM webhook_deliveries WHERE subscription_id = $1
		 ORDER BY delivered_at DESC LIMIT $2`, subID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Delivery{}
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventID, &d.EventType,
			&d.StatusCode, &d.Attempt, &d.Success, &d.ErrorMessage, &d.DeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
