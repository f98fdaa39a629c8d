// Package core owns the clinic collections. Store keeps every record in memory
// and writes each affected collection through to its blob after a mutation.
package core

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"cliniccore/internal/blob"
	"cliniccore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the read view.
var _ domain.View = (*Store)(nil)

// ErrNilBlobStore is returned when NewStore is called without a blob store.
var ErrNilBlobStore = errors.New("core: blob store is required")

type collections struct {
	doctors  []domain.Doctor
	patients []domain.Patient
	services []domain.Service
	visits   []domain.VisitRecord
	payments []domain.Payment
}

// Store is the clinic repository. The zero value is not usable; construct
// with NewStore.
type Store struct {
	mu     sync.RWMutex
	blobs  blob.Store
	state  collections
	nextID map[domain.EntityType]int

	log        zerolog.Logger
	metrics    MetricsRecorder
	strictLoad bool
	checkRefs  bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store events. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics sets the recorder observing store operations.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStrictLoad makes Load fail on an unreadable collection instead of
// replacing it with an empty one.
func WithStrictLoad(strict bool) Option {
	return func(s *Store) { s.strictLoad = strict }
}

// WithReferenceChecks makes AddVisitRecord and AddPayment reject ids that do
// not resolve to existing records.
func WithReferenceChecks(enabled bool) Option {
	return func(s *Store) { s.checkRefs = enabled }
}

// NewStore constructs a store over blobs and loads every collection from it.
func NewStore(ctx context.Context, blobs blob.Store, opts ...Option) (*Store, error) {
	if blobs == nil {
		return nil, ErrNilBlobStore
	}
	s := &Store{
		blobs:   blobs,
		nextID:  make(map[domain.EntityType]int),
		log:     zerolog.Nop(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "store").Str("blob_driver", string(blobs.Driver())).Logger()
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Doctors returns every doctor in insertion order.
func (s *Store) Doctors() []domain.Doctor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Doctor, len(s.state.doctors))
	for i, d := range s.state.doctors {
		out[i] = cloneDoctor(d)
	}
	return out
}

// Patients returns every patient in insertion order.
func (s *Store) Patients() []domain.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Patient, len(s.state.patients))
	for i, p := range s.state.patients {
		out[i] = clonePatient(p)
	}
	return out
}

// Services returns every service in insertion order.
func (s *Store) Services() []domain.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.services)
}

// VisitRecords returns every visit in insertion order.
func (s *Store) VisitRecords() []domain.VisitRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.visits)
}

// Payments returns every payment in insertion order.
func (s *Store) Payments() []domain.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.payments)
}

// FindDoctor returns the first doctor with id.
func (s *Store) FindDoctor(id int) (domain.Doctor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOfDoctor(s.state.doctors, id); i >= 0 {
		return cloneDoctor(s.state.doctors[i]), true
	}
	return domain.Doctor{}, false
}

// FindPatient returns the first patient with id.
func (s *Store) FindPatient(id int) (domain.Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOfPatient(s.state.patients, id); i >= 0 {
		return clonePatient(s.state.patients[i]), true
	}
	return domain.Patient{}, false
}

// FindService returns the first service with id.
func (s *Store) FindService(id int) (domain.Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.state.services, func(v domain.Service) bool { return v.ID == id })
	if i < 0 {
		return domain.Service{}, false
	}
	return s.state.services[i], true
}

// FindVisitRecord returns the first visit with id.
func (s *Store) FindVisitRecord(id int) (domain.VisitRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.state.visits, func(v domain.VisitRecord) bool { return v.ID == id })
	if i < 0 {
		return domain.VisitRecord{}, false
	}
	return s.state.visits[i], true
}

// FindPayment returns the first payment with id.
func (s *Store) FindPayment(id int) (domain.Payment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.state.payments, func(v domain.Payment) bool { return v.ID == id })
	if i < 0 {
		return domain.Payment{}, false
	}
	return s.state.payments[i], true
}

// NextID reports the id the next added record of type t will receive.
func (s *Store) NextID(t domain.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nextID[t]; ok {
		return n
	}
	return 1
}

func indexOfDoctor(items []domain.Doctor, id int) int {
	return slices.IndexFunc(items, func(d domain.Doctor) bool { return d.ID == id })
}

func indexOfPatient(items []domain.Patient, id int) int {
	return slices.IndexFunc(items, func(p domain.Patient) bool { return p.ID == id })
}

func cloneDoctor(d domain.Doctor) domain.Doctor {
	d.Schedule = d.Schedule.Clone()
	return d
}

func clonePatient(p domain.Patient) domain.Patient {
	p.VisitIDs = slices.Clone(p.VisitIDs)
	p.PaymentIDs = slices.Clone(p.PaymentIDs)
	return p
}

// recount derives the id counters from the loaded collections as max(id)+1.
func (s *Store) recount() {
	s.nextID[domain.EntityDoctor] = nextAfter(s.state.doctors, func(d domain.Doctor) int { return d.ID })
	s.nextID[domain.EntityPatient] = nextAfter(s.state.patients, func(p domain.Patient) int { return p.ID })
	s.nextID[domain.EntityService] = nextAfter(s.state.services, func(v domain.Service) int { return v.ID })
	s.nextID[domain.EntityVisitRecord] = nextAfter(s.state.visits, func(v domain.VisitRecord) int { return v.ID })
	s.nextID[domain.EntityPayment] = nextAfter(s.state.payments, func(p domain.Payment) int { return p.ID })
}

func nextAfter[T any](items []T, id func(T) int) int {
	m := 0
	for _, item := range items {
		m = max(m, id(item))
	}
	return m + 1
}

func (s *Store) sizes() map[domain.EntityType]int {
	return map[domain.EntityType]int{
		domain.EntityDoctor:      len(s.state.doctors),
		domain.EntityPatient:     len(s.state.patients),
		domain.EntityService:     len(s.state.services),
		domain.EntityVisitRecord: len(s.state.visits),
		domain.EntityPayment:     len(s.state.payments),
	}
}
