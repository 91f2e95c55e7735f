package sqlstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torusai/agentdata/pkg/models"
)

func TestDecodeSyncedNotification(t *testing.T) {
	id := models.NewRecordID()
	payload := `{"record_id":"` + id.String() + `","agent_id":"agent-1","user_id":"user-1","content_hash":"bafyhash","synced_at":"2024-03-01T10:00:00.123456+00:00"}`

	event, err := DecodeSyncedNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, id, event.RecordID)
	assert.Equal(t, "agent-1", event.AgentID)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, "bafyhash", event.ContentHash)
	assert.True(t, time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC).Equal(event.SyncedAt))
}

func TestDecodeSyncedNotification_invalid(t *testing.T) {
	testcases := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `synced`},
		{name: "bad id", payload: `{"record_id":"x","content_hash":"h"}`},
		{name: "no hash", payload: `{"record_id":"` + models.NewRecordID().String() + `","content_hash":null}`},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeSyncedNotification(tc.payload)
			require.Error(t, err)
		})
	}
}

func TestNotifyTriggerSQL(t *testing.T) {
	require.Len(t, notifyTriggerSQL, 3)
	assert.Contains(t, notifyTriggerSQL[0], "pg_notify('"+SyncedChannel+"'")
	assert.Contains(t, notifyTriggerSQL[2], "AFTER UPDATE OF sync_status ON ai_agent_data")
}

type chanPublisher chan models.SyncEvent

func (c chanPublisher) Publish(event models.SyncEvent) {
	select {
	case c <- event:
	default:
	}
}

func TestListener_postgres(t *testing.T) {
	dsn := os.Getenv("AGENTDATA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGENTDATA_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := OpenPostgres(dsn)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Migrate(ctx))

	events := make(chanPublisher, 1)
	listener := NewListener(dsn, events, zerolog.Nop())
	done := make(chan error, 1)
	listenCtx, stop := context.WithCancel(ctx)
	go func() { done <- listener.Run(listenCtx) }()

	// The listener connects asynchronously, so keep syncing fresh records
	// until one of the notifications arrives.
	var event models.SyncEvent
	require.Eventually(t, func() bool {
		select {
		case event = <-events:
			return true
		default:
		}
		rec := models.NewRecord("agent-listen", "user-listen", models.Payload(`{"n":1}`))
		if err := st.CreateRecord(ctx, rec); err != nil {
			return false
		}
		_, _ = st.MarkSynced(ctx, rec.ID, "bafyhash")
		return false
	}, 20*time.Second, 200*time.Millisecond)

	assert.Equal(t, "agent-listen", event.AgentID)
	assert.Equal(t, "bafyhash", event.ContentHash)

	stop()
	require.NoError(t, <-done)
}
