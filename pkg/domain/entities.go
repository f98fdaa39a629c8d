// Package domain defines the clinic records managed by cliniccore together with
// the calendar and money value types they are built from.
package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the clinic.
type EntityType string

// Supported entity type identifiers used for id counters and storage blobs.
const (
	// EntityDoctor identifies a doctor record.
	EntityDoctor EntityType = "doctor"
	// EntityPatient identifies a patient record.
	EntityPatient EntityType = "patient"
	// EntityService identifies a billable service record.
	EntityService EntityType = "service"
	// EntityVisitRecord identifies a visit (appointment) record.
	EntityVisitRecord EntityType = "visit"
	// EntityPayment identifies a payment record.
	EntityPayment EntityType = "payment"
)

var entityTypes = []EntityType{EntityDoctor, EntityPatient, EntityService, EntityVisitRecord, EntityPayment}

var blobKeys = map[EntityType]string{
	EntityDoctor:      "doctors.txt",
	EntityPatient:     "patients.txt",
	EntityService:     "services.txt",
	EntityVisitRecord: "visits.txt",
	EntityPayment:     "payments.txt",
}

// EntityTypes returns every entity type in persistence order.
func EntityTypes() []EntityType {
	return append([]EntityType(nil), entityTypes...)
}

// BlobKey returns the storage key holding the collection for t, or "" for an
// unknown type.
func (t EntityType) BlobKey() string {
	return blobKeys[t]
}

// Doctor is a practitioner with a weekly work schedule.
type Doctor struct {
	ID             int      `json:"id"`
	FullName       string   `json:"full_name"`
	Specialization string   `json:"specialization"`
	Schedule       Schedule `json:"schedule"`
}

// String renders the doctor as "FullName (Specialization)".
func (d Doctor) String() string {
	return fmt.Sprintf("%s (%s)", d.FullName, d.Specialization)
}

// WorksOn reports whether the schedule has an entry for day.
func (d Doctor) WorksOn(day time.Weekday) bool {
	_, ok := d.Schedule[day]
	return ok
}

// Equal reports whether both doctors carry the same fields and schedule.
func (d Doctor) Equal(o Doctor) bool {
	return d.ID == o.ID &&
		d.FullName == o.FullName &&
		d.Specialization == o.Specialization &&
		d.Schedule.Equal(o.Schedule)
}

// Patient holds the visit and payment history of a single person. VisitIDs and
// PaymentIDs are back-references into the top-level collections, appended by
// the store and never rewritten.
type Patient struct {
	ID         int    `json:"id"`
	FullName   string `json:"full_name"`
	VisitIDs   []int  `json:"visit_ids,omitempty"`
	PaymentIDs []int  `json:"payment_ids,omitempty"`
}

// Equal compares patients treating nil and empty id lists as equal.
func (p Patient) Equal(o Patient) bool {
	return p.ID == o.ID &&
		p.FullName == o.FullName &&
		equalIDs(p.VisitIDs, o.VisitIDs) &&
		equalIDs(p.PaymentIDs, o.PaymentIDs)
}

// Service is a billable procedure offered by the clinic.
type Service struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Equal compares services; prices compare numerically.
func (s Service) Equal(o Service) bool {
	return s.ID == o.ID && s.Name == o.Name && s.Price.Equal(o.Price)
}

// VisitRecord books a patient with a doctor for a service at a date and time.
type VisitRecord struct {
	ID        int       `json:"id"`
	PatientID int       `json:"patient_id"`
	DoctorID  int       `json:"doctor_id"`
	ServiceID int       `json:"service_id"`
	Date      Date      `json:"date"`
	Time      TimeOfDay `json:"time"`
	Completed bool      `json:"completed"`
}

// Equal reports whether both visit records are identical.
func (v VisitRecord) Equal(o VisitRecord) bool {
	return v == o
}

// Payment records money received from a patient.
type Payment struct {
	ID        int             `json:"id"`
	PatientID int             `json:"patient_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      Date            `json:"date"`
}

// Equal compares payments; amounts compare numerically.
func (p Payment) Equal(o Payment) bool {
	return p.ID == o.ID && p.PatientID == o.PatientID && p.Amount.Equal(o.Amount) && p.Date == o.Date
}

func equalIDs(a, b []int) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return slices.Equal(a, b)
}
