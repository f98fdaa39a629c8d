package main

import (
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cliniccore/internal/metrics"
	"cliniccore/pkg/domain"
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Manage clinic doctors, patients, visits and payments",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	rootCmd.AddCommand(doctorCmd(a))
	rootCmd.AddCommand(patientCmd(a))
	rootCmd.AddCommand(serviceCmd(a))
	rootCmd.AddCommand(visitCmd(a))
	rootCmd.AddCommand(paymentCmd(a))
	rootCmd.AddCommand(reportCmd(a))
	rootCmd.AddCommand(saveCmd(a))
	rootCmd.AddCommand(metricsCmd(a))
	return rootCmd
}

func doctorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Manage doctors",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			spec, _ := cmd.Flags().GetString("specialization")
			shifts, _ := cmd.Flags().GetStringArray("shift")
			schedule, err := parseSchedule(shifts)
			if err != nil {
				return err
			}
			d, err := a.store.AddDoctor(cmd.Context(), domain.Doctor{FullName: name, Specialization: spec, Schedule: schedule})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added doctor %d\n", d.ID)
			return nil
		},
	}
	addCmd.Flags().String("name", "", "Full name")
	addCmd.Flags().String("specialization", "", "Medical specialization")
	addCmd.Flags().StringArray("shift", nil, "Working shift as Weekday=hh:mm:ss-hh:mm:ss (repeatable)")
	_ = addCmd.MarkFlagRequired("name")
	cmd.AddCommand(addCmd)

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a doctor by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt("id")
			removed, err := a.store.RemoveDoctor(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !removed {
				return domain.NotFoundError{Entity: domain.EntityDoctor, ID: id}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed doctor %d\n", id)
			return nil
		},
	}
	removeCmd.Flags().Int("id", 0, "Doctor id")
	_ = removeCmd.MarkFlagRequired("id")
	cmd.AddCommand(removeCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List doctors",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range a.store.Doctors() {
				printDoctor(cmd.OutOrStdout(), d)
			}
			return nil
		},
	})
	return cmd
}

func patientCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage patients",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			p, err := a.store.AddPatient(cmd.Context(), domain.Patient{FullName: name})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added patient %d\n", p.ID)
			return nil
		},
	}
	addCmd.Flags().String("name", "", "Full name")
	_ = addCmd.MarkFlagRequired("name")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range a.store.Patients() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\tvisits=%v\tpayments=%v\n", p.ID, p.FullName, p.VisitIDs, p.PaymentIDs)
			}
			return nil
		},
	})
	return cmd
}

func serviceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage billable services",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			raw, _ := cmd.Flags().GetString("price")
			price, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", raw, err)
			}
			svc, err := a.store.AddService(cmd.Context(), domain.Service{Name: name, Price: price})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added service %d\n", svc.ID)
			return nil
		},
	}
	addCmd.Flags().String("name", "", "Service name")
	addCmd.Flags().String("price", "", "Price as a decimal number")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("price")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List services",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, svc := range a.store.Services() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", svc.ID, svc.Name, svc.Price.String())
			}
			return nil
		},
	})
	return cmd
}

func visitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "visit",
		Short: "Manage visit records",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Book a visit",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetInt("patient")
			doctor, _ := cmd.Flags().GetInt("doctor")
			service, _ := cmd.Flags().GetInt("service")
			completed, _ := cmd.Flags().GetBool("completed")
			rawDate, _ := cmd.Flags().GetString("date")
			rawTime, _ := cmd.Flags().GetString("time")
			date, err := domain.ParseDate(rawDate)
			if err != nil {
				return err
			}
			at, err := domain.ParseTimeOfDay(rawTime)
			if err != nil {
				return err
			}
			v, err := a.store.AddVisitRecord(cmd.Context(), domain.VisitRecord{
				PatientID: patient,
				DoctorID:  doctor,
				ServiceID: service,
				Date:      date,
				Time:      at,
				Completed: completed,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added visit %d\n", v.ID)
			return nil
		},
	}
	addCmd.Flags().Int("patient", 0, "Patient id")
	addCmd.Flags().Int("doctor", 0, "Doctor id")
	addCmd.Flags().Int("service", 0, "Service id")
	addCmd.Flags().String("date", "", "Visit date as YYYY-MM-DD")
	addCmd.Flags().String("time", "", "Visit time as hh:mm:ss")
	addCmd.Flags().Bool("completed", false, "Mark the visit as completed")
	for _, name := range []string{"patient", "doctor", "service", "date", "time"} {
		_ = addCmd.MarkFlagRequired(name)
	}
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List visit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, v := range a.store.VisitRecords() {
				printVisit(cmd.OutOrStdout(), v)
			}
			return nil
		},
	})
	return cmd
}

func paymentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Manage payments",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record a payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetInt("patient")
			rawAmount, _ := cmd.Flags().GetString("amount")
			rawDate, _ := cmd.Flags().GetString("date")
			amount, err := decimal.NewFromString(rawAmount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
			}
			date, err := domain.ParseDate(rawDate)
			if err != nil {
				return err
			}
			p, err := a.store.AddPayment(cmd.Context(), domain.Payment{PatientID: patient, Amount: amount, Date: date})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added payment %d\n", p.ID)
			return nil
		},
	}
	addCmd.Flags().Int("patient", 0, "Patient id")
	addCmd.Flags().String("amount", "", "Amount as a decimal number")
	addCmd.Flags().String("date", "", "Payment date as YYYY-MM-DD")
	for _, name := range []string{"patient", "amount", "date"} {
		_ = addCmd.MarkFlagRequired(name)
	}
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range a.store.Payments() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\tpatient=%d\t%s\t%s\n", p.ID, p.PatientID, p.Amount.String(), p.Date)
			}
			return nil
		},
	})
	return cmd
}

func reportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print analytics reports",
	}

	doctorsCmd := &cobra.Command{
		Use:   "doctors",
		Short: "Doctors working on a weekday",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("day")
			day, err := domain.ParseWeekday(raw)
			if err != nil {
				return err
			}
			for _, d := range a.engine().DoctorsWorkingOn(day) {
				printDoctor(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	doctorsCmd.Flags().String("day", "", "Weekday name, e.g. Monday")
	_ = doctorsCmd.MarkFlagRequired("day")
	cmd.AddCommand(doctorsCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "today",
		Short: "Visits booked for today ordered by time",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, v := range a.engine().TodaysAppointments() {
				printVisit(cmd.OutOrStdout(), v)
			}
			return nil
		},
	})

	popularCmd := &cobra.Command{
		Use:   "popular",
		Short: "Most booked services",
		RunE: func(cmd *cobra.Command, args []string) error {
			top, _ := cmd.Flags().GetInt("top")
			usage, err := a.engine().MostPopularServices(top)
			if err != nil {
				return err
			}
			for _, u := range usage {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", u.Service.Name, u.Count)
			}
			return nil
		},
	}
	popularCmd.Flags().Int("top", 0, "Number of services to show (default 5)")
	cmd.AddCommand(popularCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "debt",
		Short: "Patients owing for completed visits",
		RunE: func(cmd *cobra.Command, args []string) error {
			debts, err := a.engine().PatientsWithDebt()
			if err != nil {
				return err
			}
			for _, d := range debts {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", d.Patient.ID, d.Patient.FullName, d.Debt.String())
			}
			return nil
		},
	})

	incomeCmd := &cobra.Command{
		Use:   "income",
		Short: "Total payments received in a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("month")
			month, err := time.Parse("2006-01", raw)
			if err != nil {
				return fmt.Errorf("invalid month %q: want YYYY-MM", raw)
			}
			total := a.engine().MonthlyIncome(month.Year(), month.Month())
			fmt.Fprintln(cmd.OutOrStdout(), total.String())
			return nil
		},
	}
	incomeCmd.Flags().String("month", "", "Month as YYYY-MM")
	_ = incomeCmd.MarkFlagRequired("month")
	cmd.AddCommand(incomeCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "average",
		Short: "Average payment amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.engine().AveragePayment().StringFixed(2))
			return nil
		},
	})
	return cmd
}

func saveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Rewrite every collection to storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "saved")
			return nil
		},
	}
}

func metricsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve Prometheus and expvar metrics for the loaded store",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = a.cfg.MetricsAddr
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler(a.registry))
			mux.Handle("/debug/vars", expvar.Handler())
			a.log.Info().Str("addr", addr).Msg("serving metrics")
			if err := a.serve(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Listen address (defaults to CLINIC_METRICS_ADDR)")
	return cmd
}

func parseSchedule(entries []string) (domain.Schedule, error) {
	schedule := make(domain.Schedule, len(entries))
	for _, entry := range entries {
		dayPart, window, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid shift %q: want Weekday=hh:mm:ss-hh:mm:ss", entry)
		}
		day, err := domain.ParseWeekday(dayPart)
		if err != nil {
			return nil, err
		}
		startPart, endPart, ok := strings.Cut(window, "-")
		if !ok {
			return nil, fmt.Errorf("invalid shift %q: want Weekday=hh:mm:ss-hh:mm:ss", entry)
		}
		start, err := domain.ParseTimeOfDay(startPart)
		if err != nil {
			return nil, err
		}
		end, err := domain.ParseTimeOfDay(endPart)
		if err != nil {
			return nil, err
		}
		schedule[day] = domain.Shift{Start: start, End: end}
	}
	return schedule, nil
}

func printDoctor(w io.Writer, d domain.Doctor) {
	var shifts []string
	for _, day := range d.Schedule.Days() {
		s := d.Schedule[day]
		shifts = append(shifts, fmt.Sprintf("%s %s-%s", day, s.Start, s.End))
	}
	fmt.Fprintf(w, "%d\t%s\t%s\n", d.ID, d, strings.Join(shifts, ", "))
}

func printVisit(w io.Writer, v domain.VisitRecord) {
	fmt.Fprintf(w, "%d\t%s %s\tpatient=%d\tdoctor=%d\tservice=%d\tcompleted=%t\n",
		v.ID, v.Date, v.Time, v.PatientID, v.DoctorID, v.ServiceID, v.Completed)
}
