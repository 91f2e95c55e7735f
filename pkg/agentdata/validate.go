package agentdata

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/torusai/agentdata/pkg/client"
	"github.com/torusai/agentdata/pkg/models"
	"github.com/torusai/agentdata/pkg/store"
)

// ErrValidation marks request errors that map to 400 Bad Request.
var ErrValidation = errors.New("invalid request")

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

const submitSchema = `{
	"type": "object",
	"required": ["agent_id", "user_id", "data_payload"],
	"properties": {
		"agent_id": {"type": "string", "minLength": 1, "maxLength": 255},
		"user_id": {"type": "string", "minLength": 1, "maxLength": 255},
		"data_payload": {"not": {"type": "null"}}
	}
}`

const querySchema = `{
	"type": "object",
	"required": ["agent_id", "user_id"],
	"properties": {
		"agent_id": {"type": "string", "minLength": 1, "maxLength": 255},
		"user_id": {"type": "string", "minLength": 1, "maxLength": 255},
		"from_date": {"type": ["string", "null"]},
		"to_date": {"type": ["string", "null"]},
		"limit": {"type": ["integer", "null"], "minimum": 1, "maximum": 100},
		"offset": {"type": ["integer", "null"], "minimum": 0}
	}
}`

// requestValidator checks request bodies against their JSON schemas before
// they are decoded.
type requestValidator struct {
	submit *jsonschema.Schema
	query  *jsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	c := jsonschema.NewCompiler()
	for name, src := range map[string]string{"submit.json": submitSchema, "query.json": querySchema} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
	}
	submit, err := c.Compile("submit.json")
	if err != nil {
		return nil, fmt.Errorf("compile submit schema: %w", err)
	}
	query, err := c.Compile("query.json")
	if err != nil {
		return nil, fmt.Errorf("compile query schema: %w", err)
	}
	return &requestValidator{submit: submit, query: query}, nil
}

func validateAgainst(schema *jsonschema.Schema, body []byte) error {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator needs for integer checks.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return validationErrorf("invalid JSON body")
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return validationErrorf("%s", describe(verr))
		}
		return validationErrorf("%v", err)
	}
	return nil
}

// describe flattens a schema validation error into a single line.
func describe(verr *jsonschema.ValidationError) string {
	leaves := verr.Causes
	if len(leaves) == 0 {
		return strings.Join(strings.Fields(verr.Error()), " ")
	}
	msgs := make([]string, 0, len(leaves))
	for _, cause := range leaves {
		msgs = append(msgs, describe(cause))
	}
	return strings.Join(msgs, "; ")
}

func (v *requestValidator) decodeSubmit(body []byte) (*models.Record, error) {
	if err := validateAgainst(v.submit, body); err != nil {
		return nil, err
	}
	var req client.SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, validationErrorf("invalid JSON body")
	}
	payload, err := models.NewPayload(req.DataPayload)
	if err != nil {
		return nil, validationErrorf("data_payload: %v", err)
	}
	return models.NewRecord(req.AgentID, req.UserID, payload), nil
}

func (v *requestValidator) decodeQuery(body []byte) (store.QueryFilter, error) {
	if err := validateAgainst(v.query, body); err != nil {
		return store.QueryFilter{}, err
	}
	var req client.QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return store.QueryFilter{}, validationErrorf("invalid JSON body")
	}

	filter := store.QueryFilter{
		AgentID: req.AgentID,
		UserID:  req.UserID,
	}
	if req.Limit != nil {
		filter.Limit = *req.Limit
	}
	if req.Offset != nil {
		filter.Offset = *req.Offset
	}
	if req.FromDate != "" {
		from, err := parseDate(req.FromDate)
		if err != nil {
			return store.QueryFilter{}, validationErrorf("from_date: %v", err)
		}
		filter.From = &from
	}
	if req.ToDate != "" {
		to, err := parseDate(req.ToDate)
		if err != nil {
			return store.QueryFilter{}, validationErrorf("to_date: %v", err)
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return store.QueryFilter{}, validationErrorf("to_date is before from_date")
	}
	return filter.Normalize(), nil
}

// parseDate accepts RFC 3339 with or without fractional seconds, or a plain
// date meaning midnight UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp or YYYY-MM-DD date", s)
}
