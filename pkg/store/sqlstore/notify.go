package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/torusai/agentdata/pkg/models"
	"gorm.io/gorm"
)

// SyncedChannel is the PostgreSQL notification channel fed by the trigger
// installed in Migrate.
const SyncedChannel = "agent_data_synced"

var notifyTriggerSQL = []string{`
CREATE OR REPLACE FUNCTION notify_agent_data_synced() RETURNS trigger AS $$
BEGIN
	IF NEW.sync_status = 'synced' AND OLD.sync_status IS DISTINCT FROM 'synced' THEN
		PERFORM pg_notify('` + SyncedChannel + `', json_build_object(
			'record_id', NEW.id,
			'agent_id', NEW.agent_id,
			'user_id', NEW.user_id,
			'content_hash', NEW.content_hash,
			'synced_at', NEW.updated_at
		)::text);
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS ai_agent_data_synced_notify ON ai_agent_data`,
	`CREATE TRIGGER ai_agent_data_synced_notify
	AFTER UPDATE OF sync_status ON ai_agent_data
	FOR EACH ROW EXECUTE FUNCTION notify_agent_data_synced()`,
}

func (s *SQLStore) installNotifyTrigger(ctx context.Context) error {
	return s.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range notifyTriggerSQL {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Publisher receives events decoded by a Listener.
type Publisher interface {
	Publish(event models.SyncEvent)
}

// Listener forwards PostgreSQL synced notifications to a Publisher. It lets a
// server fan out events produced by sync engines running in other processes,
// for example a cron job invoking "agentdata sync".
type Listener struct {
	dsn       string
	publisher Publisher
	logger    zerolog.Logger
	backoff   time.Duration
}

// NewListener creates a listener for the database at dsn.
func NewListener(dsn string, publisher Publisher, logger zerolog.Logger) *Listener {
	return &Listener{
		dsn:       dsn,
		publisher: publisher,
		logger:    logger.With().Str("component", "pg-listener").Logger(),
		backoff:   2 * time.Second,
	}
}

// Run listens until ctx is cancelled, reconnecting after connection errors.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn().Err(err).Dur("backoff", l.backoff).Msg("notification listener disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{SyncedChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info().Str("channel", SyncedChannel).Msg("listening for synced records")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		event, err := DecodeSyncedNotification(n.Payload)
		if err != nil {
			l.logger.Error().Err(err).Str("payload", n.Payload).Msg("invalid synced notification")
			continue
		}
		l.publisher.Publish(event)
	}
}

type syncedNotification struct {
	RecordID    string    `json:"record_id"`
	AgentID     string    `json:"agent_id"`
	UserID      string    `json:"user_id"`
	ContentHash *string   `json:"content_hash"`
	SyncedAt    time.Time `json:"synced_at"`
}

// DecodeSyncedNotification parses the JSON payload produced by the trigger.
func DecodeSyncedNotification(payload string) (models.SyncEvent, error) {
	var n syncedNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return models.SyncEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	id, err := models.ParseRecordID(n.RecordID)
	if err != nil {
		return models.SyncEvent{}, err
	}
	if n.ContentHash == nil || *n.ContentHash == "" {
		return models.SyncEvent{}, errors.New("notification without content hash")
	}
	return models.SyncEvent{
		RecordID:    id,
		AgentID:     n.AgentID,
		UserID:      n.UserID,
		ContentHash: *n.ContentHash,
		SyncedAt:    n.SyncedAt.UTC(),
	}, nil
}
