// Package codec converts clinic records to and from the pipe-delimited lines
// stored in each collection blob.
//
// Line formats:
//
//	doctors:  id|fullName|specialization|Weekday:hh:mm:ss:hh:mm:ss;...
//	patients: id|fullName|visitId,visitId,...|paymentId,paymentId,...
//	services: id|name|price
//	visits:   id|patientId|doctorId|serviceId|YYYY-MM-DD|hh:mm:ss|true
//	payments: id|patientId|amount|YYYY-MM-DD
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"cliniccore/pkg/domain"
)

const (
	fieldSep    = "|"
	entrySep    = ";"
	tokenSep    = ":"
	idListSep   = ","
	reservedSet = "|\r\n"
)

// EncodeDoctor renders d. Schedule entries are written Sunday through Saturday.
func EncodeDoctor(d domain.Doctor) (string, error) {
	if err := checkText(domain.EntityDoctor, d.ID, "full_name", d.FullName); err != nil {
		return "", err
	}
	if err := checkText(domain.EntityDoctor, d.ID, "specialization", d.Specialization); err != nil {
		return "", err
	}
	entries := make([]string, 0, len(d.Schedule))
	for _, day := range d.Schedule.Days() {
		shift := d.Schedule[day]
		if !shift.Start.Valid() || !shift.End.Valid() {
			return "", &EncodeError{Entity: domain.EntityDoctor, ID: d.ID, Field: "schedule", Err: fmt.Errorf("%s shift out of range", day)}
		}
		entries = append(entries, day.String()+tokenSep+shift.Start.String()+tokenSep+shift.End.String())
	}
	return join(strconv.Itoa(d.ID), d.FullName, d.Specialization, strings.Join(entries, entrySep)), nil
}

// DecodeDoctor parses a doctor line. A missing or empty schedule field yields
// an empty schedule.
func DecodeDoctor(line string) (domain.Doctor, error) {
	f, err := fields(domain.EntityDoctor, line, 3, 4)
	if err != nil {
		return domain.Doctor{}, err
	}
	id, err := parseInt(domain.EntityDoctor, "id", f[0])
	if err != nil {
		return domain.Doctor{}, err
	}
	d := domain.Doctor{ID: id, FullName: f[1], Specialization: f[2], Schedule: domain.Schedule{}}
	if len(f) == 4 {
		if d.Schedule, err = decodeSchedule(f[3]); err != nil {
			return domain.Doctor{}, err
		}
	}
	return d, nil
}

func decodeSchedule(raw string) (domain.Schedule, error) {
	sched := domain.Schedule{}
	for _, entry := range strings.Split(raw, entrySep) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tokens := strings.Split(entry, tokenSep)
		if len(tokens) != 7 {
			return nil, &DecodeError{Entity: domain.EntityDoctor, Field: "schedule", Value: entry, Err: ErrFieldCount}
		}
		day, err := domain.ParseWeekday(tokens[0])
		if err != nil {
			return nil, &DecodeError{Entity: domain.EntityDoctor, Field: "schedule", Value: entry, Err: err}
		}
		start, err := domain.ParseTimeOfDay(strings.Join(tokens[1:4], tokenSep))
		if err != nil {
			return nil, &DecodeError{Entity: domain.EntityDoctor, Field: "schedule", Value: entry, Err: err}
		}
		end, err := domain.ParseTimeOfDay(strings.Join(tokens[4:7], tokenSep))
		if err != nil {
			return nil, &DecodeError{Entity: domain.EntityDoctor, Field: "schedule", Value: entry, Err: err}
		}
		sched[day] = domain.Shift{Start: start, End: end}
	}
	return sched, nil
}

// EncodePatient renders p with comma separated back-reference lists.
func EncodePatient(p domain.Patient) (string, error) {
	if err := checkText(domain.EntityPatient, p.ID, "full_name", p.FullName); err != nil {
		return "", err
	}
	return join(strconv.Itoa(p.ID), p.FullName, encodeIDs(p.VisitIDs), encodeIDs(p.PaymentIDs)), nil
}

// DecodePatient parses a patient line. Missing trailing lists decode as empty.
func DecodePatient(line string) (domain.Patient, error) {
	f, err := fields(domain.EntityPatient, line, 2, 4)
	if err != nil {
		return domain.Patient{}, err
	}
	id, err := parseInt(domain.EntityPatient, "id", f[0])
	if err != nil {
		return domain.Patient{}, err
	}
	p := domain.Patient{ID: id, FullName: f[1]}
	if len(f) > 2 {
		if p.VisitIDs, err = decodeIDs("visit_ids", f[2]); err != nil {
			return domain.Patient{}, err
		}
	}
	if len(f) > 3 {
		if p.PaymentIDs, err = decodeIDs("payment_ids", f[3]); err != nil {
			return domain.Patient{}, err
		}
	}
	return p, nil
}

func encodeIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, idListSep)
}

func decodeIDs(field, raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, idListSep)
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := parseInt(domain.EntityPatient, field, part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EncodeService renders s with its price in plain decimal notation.
func EncodeService(s domain.Service) (string, error) {
	if err := checkText(domain.EntityService, s.ID, "name", s.Name); err != nil {
		return "", err
	}
	return join(strconv.Itoa(s.ID), s.Name, s.Price.String()), nil
}

// DecodeService parses a service line.
func DecodeService(line string) (domain.Service, error) {
	f, err := fields(domain.EntityService, line, 3, 3)
	if err != nil {
		return domain.Service{}, err
	}
	id, err := parseInt(domain.EntityService, "id", f[0])
	if err != nil {
		return domain.Service{}, err
	}
	price, err := parseDecimal(domain.EntityService, "price", f[2])
	if err != nil {
		return domain.Service{}, err
	}
	return domain.Service{ID: id, Name: f[1], Price: price}, nil
}

// EncodeVisitRecord renders v.
func EncodeVisitRecord(v domain.VisitRecord) (string, error) {
	date, err := encodeDate(domain.EntityVisitRecord, v.ID, v.Date)
	if err != nil {
		return "", err
	}
	if !v.Time.Valid() {
		return "", &EncodeError{Entity: domain.EntityVisitRecord, ID: v.ID, Field: "time", Err: fmt.Errorf("time of day %d out of range", int(v.Time))}
	}
	return join(
		strconv.Itoa(v.ID),
		strconv.Itoa(v.PatientID),
		strconv.Itoa(v.DoctorID),
		strconv.Itoa(v.ServiceID),
		date,
		v.Time.String(),
		strconv.FormatBool(v.Completed),
	), nil
}

// DecodeVisitRecord parses a visit line.
func DecodeVisitRecord(line string) (domain.VisitRecord, error) {
	const entity = domain.EntityVisitRecord
	f, err := fields(entity, line, 7, 7)
	if err != nil {
		return domain.VisitRecord{}, err
	}
	var v domain.VisitRecord
	for i, dst := range []*int{&v.ID, &v.PatientID, &v.DoctorID, &v.ServiceID} {
		if *dst, err = parseInt(entity, []string{"id", "patient_id", "doctor_id", "service_id"}[i], f[i]); err != nil {
			return domain.VisitRecord{}, err
		}
	}
	if v.Date, err = parseDate(entity, f[4]); err != nil {
		return domain.VisitRecord{}, err
	}
	if v.Time, err = domain.ParseTimeOfDay(strings.TrimSpace(f[5])); err != nil {
		return domain.VisitRecord{}, &DecodeError{Entity: entity, Field: "time", Value: f[5], Err: err}
	}
	if v.Completed, err = strconv.ParseBool(strings.TrimSpace(f[6])); err != nil {
		return domain.VisitRecord{}, &DecodeError{Entity: entity, Field: "completed", Value: f[6], Err: err}
	}
	return v, nil
}

// EncodePayment renders p.
func EncodePayment(p domain.Payment) (string, error) {
	date, err := encodeDate(domain.EntityPayment, p.ID, p.Date)
	if err != nil {
		return "", err
	}
	return join(strconv.Itoa(p.ID), strconv.Itoa(p.PatientID), p.Amount.String(), date), nil
}

// DecodePayment parses a payment line.
func DecodePayment(line string) (domain.Payment, error) {
	const entity = domain.EntityPayment
	f, err := fields(entity, line, 4, 4)
	if err != nil {
		return domain.Payment{}, err
	}
	var p domain.Payment
	if p.ID, err = parseInt(entity, "id", f[0]); err != nil {
		return domain.Payment{}, err
	}
	if p.PatientID, err = parseInt(entity, "patient_id", f[1]); err != nil {
		return domain.Payment{}, err
	}
	if p.Amount, err = parseDecimal(entity, "amount", f[2]); err != nil {
		return domain.Payment{}, err
	}
	if p.Date, err = parseDate(entity, f[3]); err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

func join(parts ...string) string { return strings.Join(parts, fieldSep) }

func fields(entity domain.EntityType, line string, lo, hi int) ([]string, error) {
	f := strings.Split(line, fieldSep)
	if len(f) < lo || len(f) > hi {
		return nil, &DecodeError{Entity: entity, Value: line, Err: fmt.Errorf("%w: got %d, want %d..%d", ErrFieldCount, len(f), lo, hi)}
	}
	return f, nil
}

func checkText(entity domain.EntityType, id int, field, value string) error {
	if strings.ContainsAny(value, reservedSet) {
		return &EncodeError{Entity: entity, ID: id, Field: field, Err: ErrReservedCharacter}
	}
	return nil
}

func parseInt(entity domain.EntityType, field, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &DecodeError{Entity: entity, Field: field, Value: raw, Err: err}
	}
	return n, nil
}

func parseDecimal(entity domain.EntityType, field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, &DecodeError{Entity: entity, Field: field, Value: raw, Err: err}
	}
	return d, nil
}

func parseDate(entity domain.EntityType, raw string) (domain.Date, error) {
	d, err := domain.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return domain.Date{}, &DecodeError{Entity: entity, Field: "date", Value: raw, Err: err}
	}
	return d, nil
}

func encodeDate(entity domain.EntityType, id int, d domain.Date) (string, error) {
	s := d.String()
	if parsed, err := domain.ParseDate(s); err != nil || parsed != d {
		return "", &EncodeError{Entity: entity, ID: id, Field: "date", Err: fmt.Errorf("invalid date %s", s)}
	}
	return s, nil
}
