package consumer

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PersistenceHandler records consumed sync events in Postgres.
type PersistenceHandler struct {
	pool *pgxpool.Pool
}

// NewPersistenceHandler constructs a handler backed by the provided pool.
func NewPersistenceHandler(pool *pgxpool.Pool) *PersistenceHandler {
	return &PersistenceHandler{pool: pool}
}

// Handle stores the event in sync_event_log. Redelivered records are ignored.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	receivedAt := msg.Timestamp
	if receivedAt.IsZero() {
		receivedAt = msg.OccurredAt
	}

	tag, err := conn.Exec(ctx,
		`INSERT INTO sync_event_log (event_type, user_id, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		msg.EventType,
		msg.UserID,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		receivedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		recordDuplicate(msg.Topic)
	}
	return nil
}
