package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cliniccore/internal/blob"
	"cliniccore/pkg/domain"
)

func TestNewStoreRequiresBlobs(t *testing.T) {
	if _, err := NewStore(context.Background(), nil); !errors.Is(err, ErrNilBlobStore) {
		t.Fatalf("expected ErrNilBlobStore, got %v", err)
	}
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	for want := 1; want <= 3; want++ {
		svc, err := store.AddService(ctx, domain.Service{ID: 99, Name: "Cleaning", Price: decimal.NewFromInt(50)})
		if err != nil {
			t.Fatalf("add service: %v", err)
		}
		if svc.ID != want {
			t.Fatalf("expected id %d, got %d", want, svc.ID)
		}
	}
	got := store.Services()
	if len(got) != 3 || got[0].ID != 1 || got[2].ID != 3 {
		t.Fatalf("unexpected services %+v", got)
	}
}

func TestReloadRecomputesCounters(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	seedBlob(t, blobs, domain.EntityService, "3|A|10", "7|B|20", "2|C|30")
	store := newTestStore(t, blobs)
	if store.NextID(domain.EntityService) != 8 || store.NextID(domain.EntityDoctor) != 1 {
		t.Fatalf("unexpected counters service=%d doctor=%d", store.NextID(domain.EntityService), store.NextID(domain.EntityDoctor))
	}
	svc, err := store.AddService(ctx, domain.Service{Name: "D", Price: decimal.NewFromInt(1)})
	if err != nil || svc.ID != 8 {
		t.Fatalf("expected id 8, got %d (%v)", svc.ID, err)
	}
	order := store.Services()
	if order[0].ID != 3 || order[1].ID != 7 || order[2].ID != 2 || order[3].ID != 8 {
		t.Fatalf("expected insertion order preserved, got %+v", order)
	}
}

func TestWriteThroughPersistsAffectedCollections(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	store := newTestStore(t, blobs)
	sched := domain.Schedule{time.Monday: {Start: domain.NewTimeOfDay(9, 0, 0), End: domain.NewTimeOfDay(17, 0, 0)}}
	if _, err := store.AddDoctor(ctx, domain.Doctor{FullName: "Ann", Specialization: "Surgeon", Schedule: sched}); err != nil {
		t.Fatalf("add doctor: %v", err)
	}
	if got := readBlob(t, blobs, domain.EntityDoctor); got != "1|Ann|Surgeon|Monday:09:00:00:17:00:00\n" {
		t.Fatalf("unexpected doctors blob %q", got)
	}
	if _, _, err := blobs.Get(ctx, domain.EntityVisitRecord.BlobKey()); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected visits blob untouched, got %v", err)
	}
	if _, err := store.AddPatient(ctx, domain.Patient{FullName: "Pat"}); err != nil {
		t.Fatalf("add patient: %v", err)
	}
	if _, err := store.AddVisitRecord(ctx, domain.VisitRecord{PatientID: 1, DoctorID: 1, ServiceID: 1, Date: domain.NewDate(2024, 1, 2), Time: domain.NewTimeOfDay(10, 0, 0)}); err != nil {
		t.Fatalf("add visit: %v", err)
	}
	if got := readBlob(t, blobs, domain.EntityPatient); got != "1|Pat|1|\n" {
		t.Fatalf("expected patient back-reference persisted, got %q", got)
	}
	if got := readBlob(t, blobs, domain.EntityVisitRecord); got != "1|1|1|1|2024-01-02|10:00:00|false\n" {
		t.Fatalf("unexpected visits blob %q", got)
	}

	reopened := newTestStore(t, blobs)
	doc, ok := reopened.FindDoctor(1)
	if !ok || !doc.Schedule.Equal(sched) {
		t.Fatalf("expected doctor restored, got %+v %v", doc, ok)
	}
	if p, _ := reopened.FindPatient(1); len(p.VisitIDs) != 1 || p.VisitIDs[0] != 1 {
		t.Fatalf("expected visit back-reference restored, got %+v", p)
	}
}

func TestBackReferences(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	if _, err := store.AddPatient(ctx, domain.Patient{FullName: "A"}); err != nil {
		t.Fatalf("add patient: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.AddPayment(ctx, domain.Payment{PatientID: 1, Amount: decimal.NewFromInt(10), Date: domain.NewDate(2024, 1, 1)}); err != nil {
			t.Fatalf("add payment: %v", err)
		}
	}
	orphan, err := store.AddPayment(ctx, domain.Payment{PatientID: 42, Amount: decimal.NewFromInt(5), Date: domain.NewDate(2024, 1, 1)})
	if err != nil || orphan.ID != 3 {
		t.Fatalf("expected lazy references to accept orphan payment, got %+v %v", orphan, err)
	}
	p, _ := store.FindPatient(1)
	if len(p.PaymentIDs) != 2 || p.PaymentIDs[0] != 1 || p.PaymentIDs[1] != 2 {
		t.Fatalf("unexpected payment ids %v", p.PaymentIDs)
	}
	if _, ok := store.FindPayment(3); !ok {
		t.Fatalf("expected orphan payment stored")
	}
}

func TestAddPatientStartsWithEmptyHistory(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	store := newTestStore(t, blobs)
	p, err := store.AddPatient(ctx, domain.Patient{FullName: "P", VisitIDs: []int{42}, PaymentIDs: []int{7}})
	if err != nil {
		t.Fatalf("add patient: %v", err)
	}
	if len(p.VisitIDs) != 0 || len(p.PaymentIDs) != 0 {
		t.Fatalf("caller ids must not be stored, got %+v", p)
	}
	if got := readBlob(t, blobs, domain.EntityPatient); strings.Contains(got, "42") || strings.Contains(got, "|7") {
		t.Fatalf("caller ids leaked into storage: %q", got)
	}
	if _, err := store.AddPayment(ctx, domain.Payment{PatientID: p.ID, Amount: decimal.NewFromInt(5), Date: domain.NewDate(2024, 1, 1)}); err != nil {
		t.Fatalf("add payment: %v", err)
	}
	stored, _ := store.FindPatient(p.ID)
	if len(stored.VisitIDs) != 0 || len(stored.PaymentIDs) != 1 || stored.PaymentIDs[0] != 1 {
		t.Fatalf("unexpected history %+v", stored)
	}
}

func TestRemoveDoctor(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	store := newTestStore(t, blobs)
	for _, name := range []string{"Free", "Busy"} {
		if _, err := store.AddDoctor(ctx, domain.Doctor{FullName: name, Specialization: "GP"}); err != nil {
			t.Fatalf("add doctor: %v", err)
		}
	}
	if _, err := store.AddVisitRecord(ctx, domain.VisitRecord{PatientID: 1, DoctorID: 2, ServiceID: 1, Date: domain.NewDate(2024, 5, 1)}); err != nil {
		t.Fatalf("add visit: %v", err)
	}
	if ok, err := store.RemoveDoctor(ctx, 2); err != nil || ok {
		t.Fatalf("expected referenced doctor retained, got %v %v", ok, err)
	}
	if ok, err := store.RemoveDoctor(ctx, 99); err != nil || ok {
		t.Fatalf("expected missing doctor to report false")
	}
	if ok, err := store.RemoveDoctor(ctx, 1); err != nil || !ok {
		t.Fatalf("expected removal, got %v %v", ok, err)
	}
	if _, found := store.FindDoctor(1); found {
		t.Fatalf("doctor 1 should be gone")
	}
	if got := readBlob(t, blobs, domain.EntityDoctor); got != "2|Busy|GP|\n" {
		t.Fatalf("unexpected doctors blob %q", got)
	}
	if d, err := store.AddDoctor(ctx, domain.Doctor{FullName: "Next", Specialization: "GP"}); err != nil || d.ID != 3 {
		t.Fatalf("ids are never reused within a session: %+v %v", d, err)
	}
}

func TestLoadFallsBackToEmptyCollection(t *testing.T) {
	blobs := blob.NewMemory()
	seedBlob(t, blobs, domain.EntityPatient, "1|Good||", "", "oops")
	seedBlob(t, blobs, domain.EntityService, "1|X|10")
	var logs bytes.Buffer
	rec := NewExpvarMetricsRecorder("")
	store := newTestStore(t, blobs, WithLogger(zerolog.New(&logs)), WithMetrics(rec))
	if len(store.Patients()) != 0 {
		t.Fatalf("expected patients discarded, got %+v", store.Patients())
	}
	if len(store.Services()) != 1 {
		t.Fatalf("expected unrelated collection intact")
	}
	out := logs.String()
	if !strings.Contains(out, "discarding unreadable collection") || !strings.Contains(out, `"entity":"patient"`) || !strings.Contains(out, `"line":2`) {
		t.Fatalf("expected warn log with entity and line, got %s", out)
	}
	snap := rec.Snapshot()
	if snap.Fallbacks[domain.EntityPatient] != 1 || snap.Records[domain.EntityService] != 1 {
		t.Fatalf("unexpected metrics %+v", snap)
	}
	if snap.Results["load"]["success"] != 1 {
		t.Fatalf("expected load observed, got %+v", snap.Results)
	}
}

func TestLoadFallbackOnReadError(t *testing.T) {
	blobs := &flakyBlobs{Store: blob.NewMemory(), failGet: map[string]error{domain.EntityDoctor.BlobKey(): errors.New("io error")}}
	store := newTestStore(t, blobs)
	if len(store.Doctors()) != 0 {
		t.Fatalf("expected empty doctors")
	}
}

func TestStrictLoadFails(t *testing.T) {
	blobs := blob.NewMemory()
	seedBlob(t, blobs, domain.EntityVisitRecord, "1|1|1|1|2024-01-01|09:00:00|true", "2|bad")
	_, err := NewStore(context.Background(), blobs, WithStrictLoad(true))
	var le *LoadError
	if !errors.As(err, &le) || le.Entity != domain.EntityVisitRecord {
		t.Fatalf("expected visit LoadError, got %v", err)
	}

	store := newTestStore(t, blob.NewMemory(), WithStrictLoad(true))
	if _, err := store.AddDoctor(context.Background(), domain.Doctor{FullName: "Kept", Specialization: "GP"}); err != nil {
		t.Fatalf("add doctor: %v", err)
	}
	store.blobs = blobs
	if err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected strict reload failure")
	}
	if len(store.Doctors()) != 1 {
		t.Fatalf("failed strict load must keep current state")
	}
}

func TestReferenceChecks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil, WithReferenceChecks(true))
	_, err := store.AddVisitRecord(ctx, domain.VisitRecord{PatientID: 1, DoctorID: 1, ServiceID: 1, Date: domain.NewDate(2024, 1, 1)})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != domain.EntityPatient || nf.ID != 1 {
		t.Fatalf("expected patient not found, got %v", err)
	}
	if len(store.VisitRecords()) != 0 || store.NextID(domain.EntityVisitRecord) != 1 {
		t.Fatalf("rejected write must not mutate state")
	}
	if _, err := store.AddPatient(ctx, domain.Patient{FullName: "P"}); err != nil {
		t.Fatalf("add patient: %v", err)
	}
	if _, err := store.AddVisitRecord(ctx, domain.VisitRecord{PatientID: 1, DoctorID: 1, ServiceID: 1, Date: domain.NewDate(2024, 1, 1)}); !errors.As(err, &nf) || nf.Entity != domain.EntityDoctor {
		t.Fatalf("expected doctor not found, got %v", err)
	}
	if _, err := store.AddPayment(ctx, domain.Payment{PatientID: 2, Amount: decimal.NewFromInt(1), Date: domain.NewDate(2024, 1, 1)}); !errors.As(err, &nf) {
		t.Fatalf("expected payment patient not found, got %v", err)
	}
	if _, err := store.AddPayment(ctx, domain.Payment{PatientID: 1, Amount: decimal.NewFromInt(1), Date: domain.NewDate(2024, 1, 1)}); err != nil {
		t.Fatalf("valid payment rejected: %v", err)
	}
}

func TestFailedSaveKeepsMemoryMutated(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyBlobs{Store: blob.NewMemory()}
	rec := NewExpvarMetricsRecorder("")
	store := newTestStore(t, blobs, WithMetrics(rec))
	blobs.failPut = true
	d, err := store.AddDoctor(ctx, domain.Doctor{FullName: "Unsaved", Specialization: "GP"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected save error, got %v", err)
	}
	if d.ID != 1 || len(store.Doctors()) != 1 {
		t.Fatalf("expected doctor kept in memory, got %+v", d)
	}
	if rec.Snapshot().Results["add_doctor"]["error"] != 1 {
		t.Fatalf("expected failure observed")
	}
	if err := store.Save(ctx); err == nil {
		t.Fatalf("expected save error")
	}
	blobs.failPut = false
	if err := store.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	infos, err := blobs.List(ctx, "")
	if err != nil || len(infos) != 5 {
		t.Fatalf("expected all five blobs written, got %+v %v", infos, err)
	}
}

func TestUnencodableRecordIsRejectedBeforeMutation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	if _, err := store.AddDoctor(ctx, domain.Doctor{FullName: "A|B", Specialization: "GP"}); err == nil {
		t.Fatalf("expected reserved character error")
	}
	if _, err := store.AddService(ctx, domain.Service{Name: "two\nlines"}); err == nil {
		t.Fatalf("expected reserved character error")
	}
	if len(store.Doctors()) != 0 || store.NextID(domain.EntityDoctor) != 1 || len(store.Services()) != 0 {
		t.Fatalf("rejected records must not be stored")
	}
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	sched := domain.Schedule{time.Tuesday: {Start: 0, End: domain.NewTimeOfDay(1, 0, 0)}}
	if _, err := store.AddDoctor(ctx, domain.Doctor{FullName: "A", Specialization: "B", Schedule: sched}); err != nil {
		t.Fatalf("add doctor: %v", err)
	}
	delete(sched, time.Tuesday)
	docs := store.Doctors()
	docs[0].Schedule[time.Friday] = domain.Shift{}
	again, _ := store.FindDoctor(1)
	if len(again.Schedule) != 1 || !again.WorksOn(time.Tuesday) {
		t.Fatalf("store state leaked: %+v", again.Schedule)
	}
	if _, err := store.AddPatient(ctx, domain.Patient{FullName: "P"}); err != nil {
		t.Fatalf("add patient: %v", err)
	}
	if _, err := store.AddVisitRecord(ctx, domain.VisitRecord{PatientID: 1, Date: domain.NewDate(2024, 1, 1)}); err != nil {
		t.Fatalf("add visit: %v", err)
	}
	pats := store.Patients()
	pats[0].VisitIDs[0] = 77
	if p, _ := store.FindPatient(1); p.VisitIDs[0] != 1 {
		t.Fatalf("patient back-references leaked")
	}
}

func TestLoadHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blobs := &flakyBlobs{Store: blob.NewMemory(), failGet: map[string]error{domain.EntityDoctor.BlobKey(): context.Canceled}}
	if _, err := NewStore(ctx, blobs); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}
