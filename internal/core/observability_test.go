package core

import (
	"context"
	"expvar"
	"testing"
	"time"

	"cliniccore/pkg/domain"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected recorder published under %s", rec.Name())
	}
	rec.Observe(context.Background(), "save", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "save", false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)
	rec.LoadFallback(domain.EntityPayment)
	rec.CollectionSize(domain.EntityPayment, 0)
	snap := rec.Snapshot()
	if snap.Results["save"]["success"] != 1 || snap.Results["save"]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if snap.DurationsMS["save"] != 3 {
		t.Fatalf("unexpected durations %+v", snap.DurationsMS)
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("empty operation should be ignored")
	}
	if snap.Fallbacks[domain.EntityPayment] != 1 {
		t.Fatalf("unexpected fallbacks %+v", snap.Fallbacks)
	}
	snap.Results["save"]["success"] = 100
	if rec.Snapshot().Results["save"]["success"] != 1 {
		t.Fatalf("snapshot must be a copy")
	}
}

func TestMultiRecorderFansOut(t *testing.T) {
	a, b := NewExpvarMetricsRecorder(""), NewExpvarMetricsRecorder("")
	multi := MultiRecorder{a, b}
	multi.Observe(context.Background(), "load", true, time.Millisecond)
	multi.LoadFallback(domain.EntityDoctor)
	multi.CollectionSize(domain.EntityDoctor, 4)
	for _, r := range []*ExpvarMetricsRecorder{a, b} {
		snap := r.Snapshot()
		if snap.Results["load"]["success"] != 1 || snap.Fallbacks[domain.EntityDoctor] != 1 || snap.Records[domain.EntityDoctor] != 4 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	}
}

func TestMutationReportsAffectedCollectionSizes(t *testing.T) {
	ctx := context.Background()
	rec := NewExpvarMetricsRecorder("")
	store := newTestStore(t, nil, WithMetrics(rec))
	for i := 0; i < 2; i++ {
		if _, err := store.AddPatient(ctx, domain.Patient{FullName: "P"}); err != nil {
			t.Fatalf("add patient: %v", err)
		}
	}
	if _, err := store.AddVisitRecord(ctx, domain.VisitRecord{PatientID: 1, DoctorID: 1, ServiceID: 1, Date: domain.NewDate(2024, 1, 2)}); err != nil {
		t.Fatalf("add visit: %v", err)
	}
	snap := rec.Snapshot()
	if snap.Records[domain.EntityVisitRecord] != 1 || snap.Records[domain.EntityPatient] != 2 || snap.Records[domain.EntityDoctor] != 0 {
		t.Fatalf("unexpected collection sizes %+v", snap.Records)
	}
}
