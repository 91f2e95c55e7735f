// Package surrealdb stores record projections in SurrealDB.
//
// SurrealDB plays the part of a content-addressed key-value store with two
// tables:
//
//   - agent_blobs holds each projection once, under a record ID equal to its CID
//   - agent_keys maps a record key (the agentdata record ID) to the CID of its
//     latest projection
//
// Both writes go out in a single query, so SurrealDB applies them as one
// transaction:
//
//	UPSERT agent_blobs:⟨bafyrei...⟩ CONTENT { agent_id, data_payload, timestamp, cid };
//	UPSERT agent_keys:⟨uuid⟩ CONTENT { cid, updated_at };
//
// Connections use the surrealcbor codec so time.Time and record IDs reach the
// database in their native CBOR forms.
package surrealdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
	"github.com/torusai/agentdata/pkg/contentstore"
	"github.com/torusai/agentdata/pkg/models"
)

const (
	DefaultBlobTable = "agent_blobs"
	DefaultKeyTable  = "agent_keys"
)

// Config describes how to reach SurrealDB.
type Config struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`

	BlobTable string `yaml:"blob_table"`
	KeyTable  string `yaml:"key_table"`
}

func (c Config) withDefaults() Config {
	if c.BlobTable == "" {
		c.BlobTable = DefaultBlobTable
	}
	if c.KeyTable == "" {
		c.KeyTable = DefaultKeyTable
	}
	return c
}

// Store writes projections over one SurrealDB connection.
type Store struct {
	db        *surrealdb.DB
	blobTable string
	keyTable  string
}

var _ contentstore.Writer = (*Store)(nil)

// Dial connects, signs in when credentials are configured and selects the
// namespace and database.
func Dial(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	conf := connection.NewConfig(u)
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	db, err := surrealdb.FromConnection(ctx, gorillaws.New(conf))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			_ = db.Close(context.Background())
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(context.Background())
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}

	return &Store{
		db:        db,
		blobTable: cfg.BlobTable,
		keyTable:  cfg.KeyTable,
	}, nil
}

// Dialer returns a contentstore.Dialer for cfg, suitable for a contentstore.Pool.
func Dialer(cfg Config) contentstore.Dialer {
	return func(ctx context.Context) (contentstore.Writer, error) {
		return Dial(ctx, cfg)
	}
}

const putQuery = `
UPSERT $blob CONTENT $doc;
UPSERT $key CONTENT { cid: $cid, updated_at: time::now() };
`

func (s *Store) Put(ctx context.Context, key string, p *models.Projection) (string, error) {
	hash, _, err := contentstore.Encode(p)
	if err != nil {
		return "", err
	}

	params := map[string]any{
		"blob": surrealdb_models.RecordID{Table: s.blobTable, ID: hash},
		"doc": map[string]any{
			"agent_id":     p.AgentID,
			"data_payload": p.DataPayload,
			"timestamp":    p.Timestamp,
			"cid":          hash,
		},
		"key": surrealdb_models.RecordID{Table: s.keyTable, ID: key},
		"cid": hash,
	}

	results, err := surrealdb.Query[any](ctx, s.db, putQuery, params)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	if results == nil || len(*results) != 2 {
		return "", fmt.Errorf("put %s: unexpected query response", key)
	}
	for i, r := range *results {
		if r.Status != "OK" {
			return "", fmt.Errorf("put %s: statement %d returned status %s", key, i+1, r.Status)
		}
	}
	return hash, nil
}

// Resolve returns the CID stored under key, or the empty string when the key
// is unknown.
func (s *Store) Resolve(ctx context.Context, key string) (string, error) {
	type keyRow struct {
		CID string `json:"cid"`
	}
	row, err := surrealdb.Select[keyRow](ctx, s.db, surrealdb_models.RecordID{Table: s.keyTable, ID: key})
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("resolve %s: %w", key, err)
	}
	if row == nil {
		return "", nil
	}
	return row.CID, nil
}

// isNotFound recognizes the errors SurrealDB returns for selecting a missing record.
func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Expected a single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array into Go value")
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close(context.Background())
}
