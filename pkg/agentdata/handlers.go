package agentdata

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"
	"github.com/torusai/agentdata/pkg/client"
	"github.com/torusai/agentdata/pkg/models"
	"github.com/torusai/agentdata/pkg/scheduler"
	"github.com/torusai/agentdata/pkg/store"
)

const (
	maxBodyBytes = 1 << 20
	readyTimeout = 2 * time.Second
)

const (
	msgStored    = "Data received and stored successfully"
	msgRetrieved = "Data retrieved successfully"
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, validationErrorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, validationErrorf("could not read request body")
	}
	return body, nil
}

// handleSubmit stores one agent submission as a pending record.
//
//	POST /data
//	{"agent_id": "a1", "user_id": "u1", "data_payload": {"k": 1}}
//	201 {"record_id": "...", "message": "Data received and stored successfully"}
//
// The content store is never touched here; the sync engine replicates the
// record later.
func (a *App) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	rec, err := a.validator.decodeSubmit(body)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	if err := authorizeUser(r.Context(), rec.UserID); err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	if err := a.Submit(r.Context(), rec); err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	hlog.FromRequest(r).Debug().Str("record_id", rec.ID.String()).Str("agent_id", rec.AgentID).Msg("Record stored")

	respondJSON(w, http.StatusCreated, client.SubmitResponse{
		RecordID: rec.ID,
		Message:  msgStored,
	})
}

// handleQuery returns one page of an owner's records, newest first.
//
//	POST /data/query
//	{"agent_id": "a1", "user_id": "u1", "from_date": "2024-03-01", "limit": 10}
//	200 {"data": [...], "count": 42, "message": "Data retrieved successfully"}
func (a *App) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	filter, err := a.validator.decodeQuery(body)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	if err := authorizeUser(r.Context(), filter.UserID); err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	records, total, err := a.store.QueryRecords(r.Context(), filter)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	if records == nil {
		records = []*models.Record{}
	}
	respondJSON(w, http.StatusOK, client.QueryResponse{
		Data:    records,
		Count:   total,
		Message: msgRetrieved,
	})
}

func (a *App) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseRecordID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid record ID")
		return
	}

	rec, err := a.store.GetRecord(r.Context(), id)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "Record not found")
		return
	}
	if err := authorizeUser(r.Context(), rec.UserID); err != nil {
		// Do not reveal records owned by someone else.
		respondError(w, http.StatusNotFound, "Record not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleSync runs one sync cycle and returns its counts.
func (a *App) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := a.RunSync(r.Context())
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Stats(r.Context())
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (a *App) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseRecordID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid record ID")
		return
	}
	requeued, err := a.Requeue(r.Context(), id)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, client.RequeueResponse{RecordID: id, Requeued: requeued})
}

func (a *App) handleGetReadOnly(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, client.ReadOnlyResponse{ReadOnly: a.IsReadOnly()})
}

func (a *App) handleSetReadOnly(w http.ResponseWriter, r *http.Request) {
	var req client.ReadOnlyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	a.SetReadOnly(req.ReadOnly)
	respondJSON(w, http.StatusOK, client.ReadOnlyResponse{ReadOnly: a.IsReadOnly()})
}

// handleHealth reports liveness. It never touches a database.
//
//	GET /health
//	{"status": "healthy", "read_only": false, "time": 1709287200}
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, client.HealthResponse{
		Status:   "healthy",
		ReadOnly: a.IsReadOnly(),
		Time:     time.Now().Unix(),
	})
}

// handleReady reports whether the record store answers a ping.
//
//	GET /ready
//	{"status": "ready", "read_only": false, "time": 1709287200}
func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := client.HealthResponse{
		Status:   "ready",
		ReadOnly: a.IsReadOnly(),
		Time:     time.Now().Unix(),
	}
	if p, ok := a.backend.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Record store ping failed")
			resp.Status = "unavailable"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondStoreError maps an error to its status code. Unexpected errors are
// logged with the request and reported as 500.
func (a *App) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrReadOnly):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, scheduler.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON writes payload as JSON with the given status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		response = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

// respondError writes {"error": message}.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, client.ErrorResponse{Error: message})
}
