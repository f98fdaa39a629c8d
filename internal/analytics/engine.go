// Package analytics computes read-only reports over the clinic collections.
// Every call recomputes from the current view; nothing is cached.
package analytics

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"cliniccore/pkg/domain"
)

// DefaultTopServices is the number of services MostPopularServices returns
// when asked for a non-positive count.
const DefaultTopServices = 5

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Engine evaluates reports against a domain.View.
type Engine struct {
	view  domain.View
	clock Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used to determine "today".
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// New returns an engine reading from view.
func New(view domain.View, opts ...Option) *Engine {
	e := &Engine{view: view, clock: ClockFunc(time.Now)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MissingReferenceError reports a record pointing at an id that does not resolve.
type MissingReferenceError struct {
	Referrer   domain.EntityType
	ReferrerID int
	Missing    domain.EntityType
	MissingID  int
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("%s %d references missing %s %d", e.Referrer, e.ReferrerID, e.Missing, e.MissingID)
}

// ServiceUsage is a service with the number of visits booked for it.
type ServiceUsage struct {
	Service domain.Service
	Count   int
}

// PatientDebt is the outstanding balance of a patient.
type PatientDebt struct {
	Patient domain.Patient
	Charged decimal.Decimal
	Paid    decimal.Decimal
	Debt    decimal.Decimal
}

// DoctorsWorkingOn returns the doctors scheduled on day, in collection order.
func (e *Engine) DoctorsWorkingOn(day time.Weekday) []domain.Doctor {
	var out []domain.Doctor
	for _, d := range e.view.Doctors() {
		if d.WorksOn(day) {
			out = append(out, d)
		}
	}
	return out
}

// TodaysAppointments returns visits dated today ordered by time of day. Visits
// at the same time keep their insertion order.
func (e *Engine) TodaysAppointments() []domain.VisitRecord {
	today := domain.DateOf(e.clock.Now())
	var out []domain.VisitRecord
	for _, v := range e.view.VisitRecords() {
		if v.Date == today {
			out = append(out, v)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.VisitRecord) int { return cmp.Compare(a.Time, b.Time) })
	return out
}

// MostPopularServices returns up to topN services ranked by visit count.
// Equal counts rank by the order in which each service first appears among
// the visits. A visit naming an unknown service is an error.
func (e *Engine) MostPopularServices(topN int) ([]ServiceUsage, error) {
	if topN <= 0 {
		topN = DefaultTopServices
	}
	var (
		order  []int
		counts = make(map[int]int)
		firsts = make(map[int]int)
	)
	for _, v := range e.view.VisitRecords() {
		if _, seen := counts[v.ServiceID]; !seen {
			order = append(order, v.ServiceID)
			firsts[v.ServiceID] = v.ID
		}
		counts[v.ServiceID]++
	}
	usage := make([]ServiceUsage, 0, len(order))
	for _, id := range order {
		svc, ok := e.view.FindService(id)
		if !ok {
			return nil, &MissingReferenceError{Referrer: domain.EntityVisitRecord, ReferrerID: firsts[id], Missing: domain.EntityService, MissingID: id}
		}
		usage = append(usage, ServiceUsage{Service: svc, Count: counts[id]})
	}
	slices.SortStableFunc(usage, func(a, b ServiceUsage) int { return cmp.Compare(b.Count, a.Count) })
	if len(usage) > topN {
		usage = usage[:topN]
	}
	return usage, nil
}

// PatientsWithDebt returns, in patient order, every patient whose completed
// visits cost more than they have paid. Visit, service and payment ids are
// resolved through the patient's back-references; an unresolved id is an error.
func (e *Engine) PatientsWithDebt() ([]PatientDebt, error) {
	var out []PatientDebt
	for _, p := range e.view.Patients() {
		charged := decimal.Zero
		for _, visitID := range p.VisitIDs {
			v, ok := e.view.FindVisitRecord(visitID)
			if !ok {
				return nil, &MissingReferenceError{Referrer: domain.EntityPatient, ReferrerID: p.ID, Missing: domain.EntityVisitRecord, MissingID: visitID}
			}
			if !v.Completed {
				continue
			}
			svc, ok := e.view.FindService(v.ServiceID)
			if !ok {
				return nil, &MissingReferenceError{Referrer: domain.EntityVisitRecord, ReferrerID: v.ID, Missing: domain.EntityService, MissingID: v.ServiceID}
			}
			charged = charged.Add(svc.Price)
		}
		paid := decimal.Zero
		for _, paymentID := range p.PaymentIDs {
			pay, ok := e.view.FindPayment(paymentID)
			if !ok {
				return nil, &MissingReferenceError{Referrer: domain.EntityPatient, ReferrerID: p.ID, Missing: domain.EntityPayment, MissingID: paymentID}
			}
			paid = paid.Add(pay.Amount)
		}
		if debt := charged.Sub(paid); debt.IsPositive() {
			out = append(out, PatientDebt{Patient: p, Charged: charged, Paid: paid, Debt: debt})
		}
	}
	return out, nil
}

// MonthlyIncome sums the payments dated within year and month.
func (e *Engine) MonthlyIncome(year int, month time.Month) decimal.Decimal {
	total := decimal.Zero
	for _, p := range e.view.Payments() {
		if p.Date.InMonth(year, month) {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// AveragePayment is the mean amount over all payments, or zero when there are none.
func (e *Engine) AveragePayment() decimal.Decimal {
	payments := e.view.Payments()
	if len(payments) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total.Div(decimal.NewFromInt(int64(len(payments))))
}
