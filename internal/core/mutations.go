package core

import (
	"context"
	"slices"
	"time"

	"cliniccore/internal/codec"
	"cliniccore/pkg/domain"
)

// mutate runs fn under the write lock and, when fn succeeds, writes the listed
// collections through to storage. A failed write is returned to the caller but
// the in-memory change made by fn is kept.
func (s *Store) mutate(ctx context.Context, operation string, fn func() ([]domain.EntityType, error)) (err error) {
	started := time.Now()
	defer func() { s.observe(ctx, operation, started, err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	affected, err := fn()
	if err != nil || len(affected) == 0 {
		return err
	}
	sizes := s.sizes()
	for _, entity := range affected {
		s.metrics.CollectionSize(entity, sizes[entity])
	}
	return s.persistLocked(ctx, affected...)
}

func (s *Store) allocate(entity domain.EntityType) int {
	id, ok := s.nextID[entity]
	if !ok {
		id = 1
	}
	s.nextID[entity] = id + 1
	return id
}

func (s *Store) peekID(entity domain.EntityType) int {
	if id, ok := s.nextID[entity]; ok {
		return id
	}
	return 1
}

// AddDoctor assigns the next doctor id to d, stores it and persists the
// doctors collection. The returned doctor carries the assigned id.
func (s *Store) AddDoctor(ctx context.Context, d domain.Doctor) (domain.Doctor, error) {
	var created domain.Doctor
	err := s.mutate(ctx, "add_doctor", func() ([]domain.EntityType, error) {
		d.ID = s.peekID(domain.EntityDoctor)
		d.Schedule = d.Schedule.Clone()
		if _, err := codec.EncodeDoctor(d); err != nil {
			return nil, err
		}
		s.allocate(domain.EntityDoctor)
		s.state.doctors = append(s.state.doctors, d)
		created = cloneDoctor(d)
		return []domain.EntityType{domain.EntityDoctor}, nil
	})
	return created, err
}

// AddPatient stores p under the next patient id. The visit and payment lists
// start empty; they grow only through AddVisitRecord and AddPayment.
func (s *Store) AddPatient(ctx context.Context, p domain.Patient) (domain.Patient, error) {
	var created domain.Patient
	err := s.mutate(ctx, "add_patient", func() ([]domain.EntityType, error) {
		p = domain.Patient{ID: s.peekID(domain.EntityPatient), FullName: p.FullName}
		if _, err := codec.EncodePatient(p); err != nil {
			return nil, err
		}
		s.allocate(domain.EntityPatient)
		s.state.patients = append(s.state.patients, p)
		created = clonePatient(p)
		return []domain.EntityType{domain.EntityPatient}, nil
	})
	return created, err
}

// AddService stores svc under the next service id.
func (s *Store) AddService(ctx context.Context, svc domain.Service) (domain.Service, error) {
	var created domain.Service
	err := s.mutate(ctx, "add_service", func() ([]domain.EntityType, error) {
		svc.ID = s.peekID(domain.EntityService)
		if _, err := codec.EncodeService(svc); err != nil {
			return nil, err
		}
		s.allocate(domain.EntityService)
		s.state.services = append(s.state.services, svc)
		created = svc
		return []domain.EntityType{domain.EntityService}, nil
	})
	return created, err
}

// AddVisitRecord stores v under the next visit id and appends that id to the
// referenced patient's visit list when the patient exists. Both the visits and
// patients collections are persisted.
func (s *Store) AddVisitRecord(ctx context.Context, v domain.VisitRecord) (domain.VisitRecord, error) {
	var created domain.VisitRecord
	err := s.mutate(ctx, "add_visit", func() ([]domain.EntityType, error) {
		if s.checkRefs {
			if err := s.requireRefsLocked(
				ref{domain.EntityPatient, v.PatientID},
				ref{domain.EntityDoctor, v.DoctorID},
				ref{domain.EntityService, v.ServiceID},
			); err != nil {
				return nil, err
			}
		}
		v.ID = s.peekID(domain.EntityVisitRecord)
		if _, err := codec.EncodeVisitRecord(v); err != nil {
			return nil, err
		}
		s.allocate(domain.EntityVisitRecord)
		s.state.visits = append(s.state.visits, v)
		if i := indexOfPatient(s.state.patients, v.PatientID); i >= 0 {
			s.state.patients[i].VisitIDs = append(s.state.patients[i].VisitIDs, v.ID)
		}
		created = v
		return []domain.EntityType{domain.EntityVisitRecord, domain.EntityPatient}, nil
	})
	return created, err
}

// AddPayment stores p under the next payment id and appends that id to the
// paying patient's payment list when the patient exists. Both the payments and
// patients collections are persisted.
func (s *Store) AddPayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	var created domain.Payment
	err := s.mutate(ctx, "add_payment", func() ([]domain.EntityType, error) {
		if s.checkRefs {
			if err := s.requireRefsLocked(ref{domain.EntityPatient, p.PatientID}); err != nil {
				return nil, err
			}
		}
		p.ID = s.peekID(domain.EntityPayment)
		if _, err := codec.EncodePayment(p); err != nil {
			return nil, err
		}
		s.allocate(domain.EntityPayment)
		s.state.payments = append(s.state.payments, p)
		if i := indexOfPatient(s.state.patients, p.PatientID); i >= 0 {
			s.state.patients[i].PaymentIDs = append(s.state.patients[i].PaymentIDs, p.ID)
		}
		created = p
		return []domain.EntityType{domain.EntityPayment, domain.EntityPatient}, nil
	})
	return created, err
}

// RemoveDoctor deletes the doctor with id when no visit references it. It
// reports false, with no error, when the doctor is absent or still referenced.
func (s *Store) RemoveDoctor(ctx context.Context, id int) (bool, error) {
	removed := false
	err := s.mutate(ctx, "remove_doctor", func() ([]domain.EntityType, error) {
		i := indexOfDoctor(s.state.doctors, id)
		if i < 0 {
			return nil, nil
		}
		if slices.ContainsFunc(s.state.visits, func(v domain.VisitRecord) bool { return v.DoctorID == id }) {
			s.log.Info().Int("doctor_id", id).Msg("doctor has visits, not removed")
			return nil, nil
		}
		s.state.doctors = slices.Delete(s.state.doctors, i, i+1)
		removed = true
		return []domain.EntityType{domain.EntityDoctor}, nil
	})
	return removed, err
}

type ref struct {
	entity domain.EntityType
	id     int
}

func (s *Store) requireRefsLocked(refs ...ref) error {
	for _, r := range refs {
		var found bool
		switch r.entity {
		case domain.EntityPatient:
			found = indexOfPatient(s.state.patients, r.id) >= 0
		case domain.EntityDoctor:
			found = indexOfDoctor(s.state.doctors, r.id) >= 0
		case domain.EntityService:
			found = slices.ContainsFunc(s.state.services, func(v domain.Service) bool { return v.ID == r.id })
		}
		if !found {
			return domain.NotFoundError{Entity: r.entity, ID: r.id}
		}
	}
	return nil
}
