package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cliniccore/internal/blob"
	"cliniccore/internal/codec"
	"cliniccore/pkg/domain"
)

const blobContentType = "text/plain; charset=utf-8"

// LoadError reports a collection that could not be read or decoded.
type LoadError struct {
	Entity domain.EntityType
	Key    string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s collection from %s: %v", e.Entity, e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load replaces every in-memory collection with the content of its blob and
// recomputes the id counters. A missing blob is an empty collection. An
// unreadable or undecodable blob discards that whole collection, unless the
// store was built WithStrictLoad, in which case Load fails and leaves the
// current state untouched.
func (s *Store) Load(ctx context.Context) (err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "load", started, err) }()

	var next collections
	for _, entity := range domain.EntityTypes() {
		if err := s.loadCollection(ctx, entity, &next); err != nil {
			var le *LoadError
			if !errors.As(err, &le) {
				return err
			}
			if s.strictLoad {
				return err
			}
			s.metrics.LoadFallback(entity)
			event := s.log.Warn().Err(le.Err).Str("entity", string(entity)).Str("key", le.Key)
			var lineErr *codec.LineError
			if errors.As(le.Err, &lineErr) {
				event = event.Int("line", lineErr.Line)
			}
			event.Msg("discarding unreadable collection")
		}
	}

	s.mu.Lock()
	s.state = next
	s.recount()
	s.reportSizes()
	s.mu.Unlock()
	return nil
}

func (s *Store) loadCollection(ctx context.Context, entity domain.EntityType, into *collections) error {
	key := entity.BlobKey()
	data, err := s.readBlob(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		s.log.Debug().Str("entity", string(entity)).Str("key", key).Msg("collection blob missing, starting empty")
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &LoadError{Entity: entity, Key: key, Err: err}
	}
	lines := codec.SplitLines(data)
	switch entity {
	case domain.EntityDoctor:
		into.doctors, err = codec.DecodeAll(lines, codec.DecodeDoctor)
	case domain.EntityPatient:
		into.patients, err = codec.DecodeAll(lines, codec.DecodePatient)
	case domain.EntityService:
		into.services, err = codec.DecodeAll(lines, codec.DecodeService)
	case domain.EntityVisitRecord:
		into.visits, err = codec.DecodeAll(lines, codec.DecodeVisitRecord)
	case domain.EntityPayment:
		into.payments, err = codec.DecodeAll(lines, codec.DecodePayment)
	default:
		return fmt.Errorf("unknown entity type %q", entity)
	}
	if err != nil {
		return &LoadError{Entity: entity, Key: key, Err: err}
	}
	return nil
}

func (s *Store) readBlob(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// Save writes all five collections to their blobs.
func (s *Store) Save(ctx context.Context) (err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "save", started, err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx, domain.EntityTypes()...)
}

// persistLocked re-encodes each listed collection in full and writes it to
// its blob. Callers hold s.mu.
func (s *Store) persistLocked(ctx context.Context, entities ...domain.EntityType) error {
	for _, entity := range entities {
		payload, err := s.encodeLocked(entity)
		if err != nil {
			return err
		}
		key := entity.BlobKey()
		opts := blob.PutOptions{ContentType: blobContentType, Metadata: map[string]string{"entity": string(entity)}}
		if _, err := s.blobs.Put(ctx, key, bytes.NewReader(payload), opts); err != nil {
			return fmt.Errorf("write %s collection to %s: %w", entity, key, err)
		}
	}
	return nil
}

func (s *Store) encodeLocked(entity domain.EntityType) ([]byte, error) {
	var (
		lines []string
		err   error
	)
	switch entity {
	case domain.EntityDoctor:
		lines, err = codec.EncodeAll(s.state.doctors, codec.EncodeDoctor)
	case domain.EntityPatient:
		lines, err = codec.EncodeAll(s.state.patients, codec.EncodePatient)
	case domain.EntityService:
		lines, err = codec.EncodeAll(s.state.services, codec.EncodeService)
	case domain.EntityVisitRecord:
		lines, err = codec.EncodeAll(s.state.visits, codec.EncodeVisitRecord)
	case domain.EntityPayment:
		lines, err = codec.EncodeAll(s.state.payments, codec.EncodePayment)
	default:
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s collection: %w", entity, err)
	}
	return codec.JoinLines(lines), nil
}
