package agentdata

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"github.com/torusai/agentdata/pkg/client"
	"github.com/torusai/agentdata/pkg/contentstore"
	"github.com/torusai/agentdata/pkg/models"
	"github.com/torusai/agentdata/pkg/store/sqlstore"
)

type APITestSuite struct {
	suite.Suite
	ctx     context.Context
	content *contentstore.MemoryStore
	app     *App
	srv     *httptest.Server
	client  *client.Client
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

func (s *APITestSuite) SetupTest() {
	s.ctx = context.Background()
	s.content = contentstore.NewMemoryStore()
	s.app = newTestApp(s.T(), testConfig(s.T()), WithContentDialer(s.content.Dialer()))
	s.srv = httptest.NewServer(s.app.Router())
	s.client = client.NewClient(s.srv.URL)
}

func (s *APITestSuite) TearDownTest() {
	s.srv.Close()
}

// post sends a raw body and returns the status and decoded JSON object.
func (s *APITestSuite) post(path, body string) (int, map[string]any) {
	resp, err := http.Post(s.srv.URL+path, "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Equal("application/json", resp.Header.Get("Content-Type"))

	var out map[string]any
	s.Require().NoError(json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func (s *APITestSuite) submit(agentID, userID, payload string) models.RecordID {
	resp, err := s.client.Submit(s.ctx, &client.SubmitRequest{
		AgentID:     agentID,
		UserID:      userID,
		DataPayload: json.RawMessage(payload),
	})
	s.Require().NoError(err)
	return resp.RecordID
}

func (s *APITestSuite) TestHealth() {
	health, err := s.client.Health(s.ctx)
	s.Require().NoError(err)
	s.Equal("healthy", health.Status)
	s.False(health.ReadOnly)
	s.NotZero(health.Time)
}

func (s *APITestSuite) TestReady() {
	ready, err := s.client.Ready(s.ctx)
	s.Require().NoError(err)
	s.Equal("ready", ready.Status)

	app := newTestApp(s.T(), testConfig(s.T()))
	s.Require().NoError(app.backend.(*sqlstore.SQLStore).Close())
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	_, err = client.NewClient(srv.URL).Ready(s.ctx)
	s.Require().Error(err)
	s.Equal(http.StatusServiceUnavailable, client.StatusCode(err))
}

func (s *APITestSuite) TestSubmit_response() {
	status, body := s.post("/data", `{"agent_id":"a1","user_id":"u1","data_payload":{"k":[1,2]}}`)
	s.Equal(http.StatusCreated, status)
	s.Equal("Data received and stored successfully", body["message"])
	s.NotEmpty(body["record_id"])
}

func (s *APITestSuite) TestSubmit_validation() {
	cases := map[string]string{
		"invalid json":       `{"agent_id":`,
		"missing agent_id":   `{"user_id":"u1","data_payload":{}}`,
		"missing user_id":    `{"agent_id":"a1","data_payload":{}}`,
		"missing payload":    `{"agent_id":"a1","user_id":"u1"}`,
		"null payload":       `{"agent_id":"a1","user_id":"u1","data_payload":null}`,
		"empty agent_id":     `{"agent_id":"","user_id":"u1","data_payload":{}}`,
		"numeric agent_id":   `{"agent_id":7,"user_id":"u1","data_payload":{}}`,
		"array instead body": `[1,2,3]`,
	}
	for name, body := range cases {
		status, out := s.post("/data", body)
		s.Equal(http.StatusBadRequest, status, name)
		s.NotEmpty(out["error"], name)
	}

	counts, err := s.app.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(counts[models.SyncStatusPending])
}

func (s *APITestSuite) TestWrongMethod() {
	for _, path := range []string{"/data", "/data/query", "/sync"} {
		resp, err := http.Get(s.srv.URL + path)
		s.Require().NoError(err)
		resp.Body.Close()
		s.Equal(http.StatusMethodNotAllowed, resp.StatusCode, path)
	}

	for _, path := range []string{"/data/events", "/admin/stats", "/data/" + uuid.NewString()} {
		resp, err := http.Post(s.srv.URL+path, "application/json", strings.NewReader(`{}`))
		s.Require().NoError(err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		s.Require().NoError(err)
		s.Equal(http.StatusMethodNotAllowed, resp.StatusCode, path)
		s.JSONEq(`{"error":"method not allowed"}`, string(body), path)
	}
}

func (s *APITestSuite) TestQuery_pendingThenSynced() {
	id := s.submit("a1", "u1", `{"step":1}`)

	page, err := s.client.Query(s.ctx, &client.QueryRequest{AgentID: "a1", UserID: "u1"})
	s.Require().NoError(err)
	s.Equal("Data retrieved successfully", page.Message)
	s.EqualValues(1, page.Count)
	s.Require().Len(page.Data, 1)
	s.Equal(id, page.Data[0].ID)
	s.Equal(models.SyncStatusPending, page.Data[0].SyncStatus)
	s.Nil(page.Data[0].ContentHash)
	s.JSONEq(`{"step":1}`, string(page.Data[0].DataPayload))

	result, err := s.client.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Synced)
	s.Zero(result.Failed)

	page, err = s.client.Query(s.ctx, &client.QueryRequest{AgentID: "a1", UserID: "u1"})
	s.Require().NoError(err)
	s.Require().Len(page.Data, 1)
	s.Equal(models.SyncStatusSynced, page.Data[0].SyncStatus)
	s.Require().NotNil(page.Data[0].ContentHash)

	hash, ok := s.content.Resolve(id.String())
	s.Require().True(ok)
	s.Equal(hash, *page.Data[0].ContentHash)

	// Nothing left to do.
	result, err = s.client.Sync(s.ctx)
	s.Require().NoError(err)
	s.Zero(result.Processed)
}

func (s *APITestSuite) TestQuery_emptyIsArray() {
	status, body := s.post("/data/query", `{"agent_id":"nobody","user_id":"nobody"}`)
	s.Equal(http.StatusOK, status)
	s.Equal([]any{}, body["data"])
	s.EqualValues(0, body["count"])
}

func (s *APITestSuite) TestQuery_isolatesOwners() {
	s.submit("a1", "u1", `1`)
	s.submit("a1", "u2", `2`)
	s.submit("a2", "u1", `3`)

	page, err := s.client.Query(s.ctx, &client.QueryRequest{AgentID: "a1", UserID: "u1"})
	s.Require().NoError(err)
	s.EqualValues(1, page.Count)
	s.JSONEq(`1`, string(page.Data[0].DataPayload))
}

func (s *APITestSuite) TestQuery_orderAndPagination() {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var ids []models.RecordID
	for i := 0; i < 3; i++ {
		rec := models.NewRecord("a1", "u1", models.Payload(`{}`))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		s.Require().NoError(s.app.Store().CreateRecord(s.ctx, rec))
		ids = append(ids, rec.ID)
	}

	page, err := s.client.Query(s.ctx, &client.QueryRequest{AgentID: "a1", UserID: "u1", Limit: client.Int(2)})
	s.Require().NoError(err)
	s.EqualValues(3, page.Count)
	s.Require().Len(page.Data, 2)
	s.Equal(ids[2], page.Data[0].ID)
	s.Equal(ids[1], page.Data[1].ID)

	page, err = s.client.Query(s.ctx, &client.QueryRequest{
		AgentID: "a1", UserID: "u1", Limit: client.Int(2), Offset: client.Int(2),
	})
	s.Require().NoError(err)
	s.EqualValues(3, page.Count)
	s.Require().Len(page.Data, 1)
	s.Equal(ids[0], page.Data[0].ID)
}

func (s *APITestSuite) TestQuery_dateRange() {
	for _, day := range []int{1, 2, 3} {
		rec := models.NewRecord("a1", "u1", models.Payload(`{}`))
		rec.CreatedAt = time.Date(2024, 3, day, 12, 0, 0, 0, time.UTC)
		s.Require().NoError(s.app.Store().CreateRecord(s.ctx, rec))
	}

	page, err := s.client.Query(s.ctx, &client.QueryRequest{
		AgentID: "a1", UserID: "u1", FromDate: "2024-03-02",
	})
	s.Require().NoError(err)
	s.EqualValues(2, page.Count)

	page, err = s.client.Query(s.ctx, &client.QueryRequest{
		AgentID:  "a1",
		UserID:   "u1",
		FromDate: client.Date(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		ToDate:   client.Date(time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC)),
	})
	s.Require().NoError(err)
	s.EqualValues(2, page.Count)
}

func (s *APITestSuite) TestQuery_validation() {
	cases := map[string]string{
		"missing user_id": `{"agent_id":"a1"}`,
		"limit zero":      `{"agent_id":"a1","user_id":"u1","limit":0}`,
		"limit too large": `{"agent_id":"a1","user_id":"u1","limit":101}`,
		"fractional":      `{"agent_id":"a1","user_id":"u1","limit":2.5}`,
		"negative offset": `{"agent_id":"a1","user_id":"u1","offset":-1}`,
		"bad date":        `{"agent_id":"a1","user_id":"u1","from_date":"yesterday"}`,
		"inverted range":  `{"agent_id":"a1","user_id":"u1","from_date":"2024-03-02","to_date":"2024-03-01"}`,
	}
	for name, body := range cases {
		status, out := s.post("/data/query", body)
		s.Equal(http.StatusBadRequest, status, name)
		s.NotEmpty(out["error"], name)
	}
}

func (s *APITestSuite) TestSync_unreachableContentStore() {
	srv := httptest.NewServer(newTestApp(s.T(), testConfig(s.T()), WithContentDialer(unreachableDialer)).Router())
	defer srv.Close()
	c := client.NewClient(srv.URL)

	resp, err := c.Submit(s.ctx, &client.SubmitRequest{AgentID: "a1", UserID: "u1", DataPayload: json.RawMessage(`{}`)})
	s.Require().NoError(err)

	result, err := c.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Failed)

	rec, err := c.GetRecord(s.ctx, resp.RecordID)
	s.Require().NoError(err)
	s.Equal(models.SyncStatusFailed, rec.SyncStatus)
	s.Nil(rec.ContentHash)
	s.Contains(rec.SyncError, "content store unavailable")

	// Failed records are not retried by later cycles.
	result, err = c.Sync(s.ctx)
	s.Require().NoError(err)
	s.Zero(result.Processed)

	requeued, err := c.Requeue(s.ctx, resp.RecordID)
	s.Require().NoError(err)
	s.True(requeued.Requeued)

	stats, err := c.Stats(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, stats[models.SyncStatusPending])
}

func (s *APITestSuite) TestGetRecord() {
	id := s.submit("a1", "u1", `{"x":true}`)

	rec, err := s.client.GetRecord(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("a1", rec.AgentID)

	_, err = s.client.GetRecord(s.ctx, models.NewRecordID())
	s.Equal(http.StatusNotFound, client.StatusCode(err))

	resp, err := http.Get(s.srv.URL + "/data/not-a-uuid")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *APITestSuite) TestRequeue_notFailed() {
	id := s.submit("a1", "u1", `{}`)
	resp, err := s.client.Requeue(s.ctx, id)
	s.Require().NoError(err)
	s.False(resp.Requeued)
}

func (s *APITestSuite) TestReadOnly() {
	id := s.submit("a1", "u1", `{}`)

	s.Require().NoError(s.client.SetReadOnly(s.ctx, true))
	readOnly, err := s.client.ReadOnly(s.ctx)
	s.Require().NoError(err)
	s.True(readOnly)

	_, err = s.client.Submit(s.ctx, &client.SubmitRequest{AgentID: "a1", UserID: "u1", DataPayload: json.RawMessage(`{}`)})
	s.Equal(http.StatusServiceUnavailable, client.StatusCode(err))

	_, err = s.client.Sync(s.ctx)
	s.Equal(http.StatusServiceUnavailable, client.StatusCode(err))

	page, err := s.client.Query(s.ctx, &client.QueryRequest{AgentID: "a1", UserID: "u1"})
	s.Require().NoError(err)
	s.EqualValues(1, page.Count)
	s.Equal(id, page.Data[0].ID)
	s.Equal(models.SyncStatusPending, page.Data[0].SyncStatus)

	s.Require().NoError(s.client.SetReadOnly(s.ctx, false))
	_, err = s.client.Sync(s.ctx)
	s.NoError(err)
}

func (s *APITestSuite) TestEvents_streamsSyncedRecords() {
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/data/events?agent_id=a1&user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.Require().Eventually(func() bool {
		return s.app.Hub().SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	other := s.submit("a2", "u1", `{}`)
	id := s.submit("a1", "u1", `{"n":1}`)
	_, err = s.client.Sync(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	var event models.SyncEvent
	s.Require().NoError(conn.ReadJSON(&event))
	s.Equal(id, event.RecordID)
	s.NotEqual(other, event.RecordID)
	s.Equal("a1", event.AgentID)

	hash, ok := s.content.Resolve(id.String())
	s.Require().True(ok)
	s.Equal(hash, event.ContentHash)
}

func (s *APITestSuite) TestNotFound() {
	resp, err := http.Get(s.srv.URL + "/nope")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("application/json", resp.Header.Get("Content-Type"))
}
