package domain

import "fmt"

// View provides read-only access to the clinic collections. Listings are
// returned in insertion order and are safe for the caller to modify.
type View interface {
	Doctors() []Doctor
	Patients() []Patient
	Services() []Service
	VisitRecords() []VisitRecord
	Payments() []Payment
	FindDoctor(id int) (Doctor, bool)
	FindPatient(id int) (Patient, bool)
	FindService(id int) (Service, bool)
	FindVisitRecord(id int) (VisitRecord, bool)
	FindPayment(id int) (Payment, bool)
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     int
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}
