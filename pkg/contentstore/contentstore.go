// Package contentstore writes record projections to a content-addressed
// key-value store.
//
// A [Writer] stores a [models.Projection] under a caller supplied key (the
// record ID) and returns the content identifier of what it stored. Content
// identifiers are CIDv1 values over the canonical CBOR encoding of the
// projection, hashed with sha2-256, so the same projection always yields the
// same identifier no matter which backend holds it:
//
//	hash, err := contentstore.Hash(projection)
//	// bafyrei...
//
// Writers are not used directly by the sync engine. They live in a [Pool],
// which hands out one connection per write and guarantees it is returned or
// destroyed on every exit path:
//
//	pool, err := contentstore.NewPool(surrealdb.Dialer(cfg), 4)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	hash, err := pool.Write(ctx, rec.ID.String(), projection)
//
// Backends: [MemoryStore] in this package and
// [github.com/torusai/agentdata/pkg/contentstore/surrealdb.Store].
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/torusai/agentdata/pkg/models"
)

// ErrUnavailable is returned when no connection to the content store could be
// obtained.
var ErrUnavailable = errors.New("content store unavailable")

// Writer stores projections in a content-addressed store.
type Writer interface {
	// Put stores p under key and returns its content identifier. Writing the
	// same key twice is allowed; the key then points at the latest content.
	Put(ctx context.Context, key string, p *models.Projection) (string, error)
	Close() error
}

var (
	canonical = mustCanonicalEncMode()
	decoder   = mustDecMode()
)

func mustCanonicalEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("contentstore: canonical cbor options: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("contentstore: cbor decode options: %v", err))
	}
	return dm
}

// Encode returns the canonical CBOR encoding of p and its CID string.
func Encode(p *models.Projection) (string, []byte, error) {
	if p == nil {
		return "", nil, errors.New("nil projection")
	}
	data, err := canonical.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("encode projection: %w", err)
	}
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", nil, fmt.Errorf("hash projection: %w", err)
	}
	return cid.NewCidV1(cid.DagCBOR, mh).String(), data, nil
}

// Hash returns the CID string of p.
func Hash(p *models.Projection) (string, error) {
	c, _, err := Encode(p)
	return c, err
}

// Decode parses a CBOR document produced by Encode.
func Decode(data []byte) (*models.Projection, error) {
	var p models.Projection
	if err := decoder.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	return &p, nil
}

// Verify checks that data hashes to the CID string c.
func Verify(c string, data []byte) error {
	parsed, err := cid.Decode(c)
	if err != nil {
		return fmt.Errorf("parse cid: %w", err)
	}
	sum, err := parsed.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}
	if !sum.Equals(parsed) {
		return fmt.Errorf("content does not match %s", c)
	}
	return nil
}
