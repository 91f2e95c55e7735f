package client

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/torusai/agentdata/pkg/models"
)

// SubmitRequest is the body of POST /data.
type SubmitRequest struct {
	AgentID     string          `json:"agent_id"`
	UserID      string          `json:"user_id"`
	DataPayload json.RawMessage `json:"data_payload"`
}

// SubmitResponse is returned by POST /data.
type SubmitResponse struct {
	RecordID models.RecordID `json:"record_id"`
	Message  string          `json:"message"`
}

// QueryRequest is the body of POST /data/query.
//
// FromDate and ToDate accept RFC 3339 timestamps or plain YYYY-MM-DD dates.
type QueryRequest struct {
	AgentID  string `json:"agent_id"`
	UserID   string `json:"user_id"`
	FromDate string `json:"from_date,omitempty"`
	ToDate   string `json:"to_date,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
	Offset   *int   `json:"offset,omitempty"`
}

// QueryResponse is returned by POST /data/query. Count is the number of
// matching records before pagination.
type QueryResponse struct {
	Data    []*models.Record `json:"data"`
	Count   int64            `json:"count"`
	Message string           `json:"message"`
}

// HealthResponse is returned by GET /health and GET /ready.
type HealthResponse struct {
	Status   string `json:"status"`
	ReadOnly bool   `json:"read_only"`
	Time     int64  `json:"time"`
}

// RequeueResponse is returned by POST /admin/records/{id}/requeue.
type RequeueResponse struct {
	RecordID models.RecordID `json:"record_id"`
	Requeued bool            `json:"requeued"`
}

// ReadOnlyRequest toggles maintenance mode.
type ReadOnlyRequest struct {
	ReadOnly bool `json:"read_only"`
}

// ReadOnlyResponse reports maintenance mode.
type ReadOnlyResponse struct {
	ReadOnly bool `json:"read_only"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Int returns a pointer to n, for QueryRequest.Limit and Offset.
func Int(n int) *int {
	return &n
}

// Date formats t as a QueryRequest date.
func Date(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
