package models

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID_json_roundtrip(t *testing.T) {
	id := NewRecordID()
	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var decoded RecordID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)
}

func TestRecordID_scan(t *testing.T) {
	id := NewRecordID()
	raw := id.UUID()

	testcases := []struct {
		name  string
		value any
	}{
		{name: "string", value: id.String()},
		{name: "text bytes", value: []byte(id.String())},
		{name: "binary bytes", value: raw[:]},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			var scanned RecordID
			require.NoError(t, scanned.Scan(tc.value))
			assert.Equal(t, id, scanned)
		})
	}

	var zero RecordID
	require.NoError(t, zero.Scan(nil))
	assert.True(t, zero.IsZero())
	require.Error(t, zero.Scan(42))
}

func TestRecordID_value(t *testing.T) {
	v, err := RecordID{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	id := NewRecordID()
	v, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)
}

func TestParseRecordID_invalid(t *testing.T) {
	_, err := ParseRecordID("not-a-uuid")
	require.Error(t, err)
}

func TestNewPayload(t *testing.T) {
	testcases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "object", raw: `{"a":1}`},
		{name: "array", raw: `[1,2,3]`},
		{name: "scalar", raw: `"text"`},
		{name: "padded", raw: "  {\"a\":1}\n"},
		{name: "null", raw: `null`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
		{name: "invalid", raw: `{"a":`, wantErr: true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPayload([]byte(tc.raw))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, p.IsNull())
		})
	}
}

func TestPayload_decode_normalizes_numbers(t *testing.T) {
	p, err := NewPayload([]byte(`{"count":3,"ratio":0.5,"nested":[1,{"x":2}]}`))
	require.NoError(t, err)

	v, err := p.Decode()
	require.NoError(t, err)

	m := v.(map[string]any)
	assert.Equal(t, int64(3), m["count"])
	assert.Equal(t, 0.5, m["ratio"])
	nested := m["nested"].([]any)
	assert.Equal(t, int64(1), nested[0])
	assert.Equal(t, int64(2), nested[1].(map[string]any)["x"])
}

func TestPayload_json_passthrough(t *testing.T) {
	type wrapper struct {
		Payload Payload `json:"data_payload"`
	}
	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"data_payload":{"k":"v"}}`), &w))
	assert.JSONEq(t, `{"k":"v"}`, string(w.Payload))

	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data_payload":{"k":"v"}}`, string(out))
}

func TestPayload_scan(t *testing.T) {
	var p Payload
	require.NoError(t, p.Scan(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, string(p))
	require.NoError(t, p.Scan([]byte(`[1]`)))
	assert.Equal(t, `[1]`, string(p))
	require.Error(t, p.Scan(3.14))
}

func TestSyncStatus(t *testing.T) {
	for _, s := range AllSyncStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, SyncStatus("unknown").Valid())
	assert.True(t, SyncStatusSynced.Terminal())
	assert.True(t, SyncStatusFailed.Terminal())
	assert.False(t, SyncStatusPending.Terminal())
	assert.False(t, SyncStatusSyncing.Terminal())
}

func TestNewProjection(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	r := NewRecord("agent-1", "user-1", Payload(`{"temp":21}`))
	r.CreatedAt = created

	p, err := NewProjection(r)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", p.AgentID)
	assert.Equal(t, map[string]any{"temp": int64(21)}, p.DataPayload)
	assert.Equal(t, created.UTC(), p.Timestamp)
	assert.Equal(t, time.UTC, p.Timestamp.Location())
}

func TestNewRecord(t *testing.T) {
	r := NewRecord("a", "u", Payload(`{}`))
	assert.False(t, r.ID.IsZero())
	assert.Equal(t, SyncStatusPending, r.SyncStatus)
	assert.Nil(t, r.ContentHash)
	assert.Equal(t, "", r.Hash())
}
