package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/carebook/carebook/internal/domain/identity"
	"github.com/carebook/carebook/internal/domain/scheduling"
	"github.com/carebook/carebook/internal/platform/auth"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// seedSlotTimes are the candidate start times for seeded slots, skipping the
// lunch hour.
var seedSlotTimes = []string{
	"09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
	"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00", "16:30",
}

const seedPassword = "password123"

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with fake doctors, patients, and slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctors, _ := cmd.Flags().GetInt("doctors")
			patients, _ := cmd.Flags().GetInt("patients")
			slotsPer, _ := cmd.Flags().GetInt("slots")

			logger := newLogger()
			ctx := context.Background()
			stack, err := newReminderStack(ctx, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			return runSeed(ctx, stack, doctors, patients, slotsPer)
		},
	}
	cmd.Flags().Int("doctors", 5, "Number of doctors to create")
	cmd.Flags().Int("patients", 20, "Number of patients to create")
	cmd.Flags().Int("slots", 10, "Number of slots per doctor")
	return cmd
}

func runSeed(ctx context.Context, stack *reminderStack, doctors, patients, slotsPer int) error {
	gofakeit.Seed(time.Now().UnixNano())

	fmt.Printf("Seeding %d doctor(s), %d patient(s), %d slot(s) per doctor...\n", doctors, patients, slotsPer)

	identitySvc := stack.users
	schedSvc := stack.bookings

	for i := 0; i < doctors; i++ {
		first := gofakeit.FirstName()
		last := gofakeit.LastName()
		email := seedEmail(first, last, i)
		phone := gofakeit.Phone()
		bio := fmt.Sprintf("Dr. %s %s has been practicing for over a decade.", first, last)
		years := gofakeit.Number(3, 30)

		doctor, err := identitySvc.RegisterDoctor(ctx, identity.DoctorRegisterInput{
			RegisterInput: identity.RegisterInput{
				Email:     email,
				Password:  seedPassword,
				FirstName: first,
				LastName:  last,
				Phone:     &phone,
			},
			Specialty:         specialties[gofakeit.Number(0, len(specialties)-1)],
			LicenseNumber:     fmt.Sprintf("MD-%06d", gofakeit.Number(100000, 999999)),
			Bio:               &bio,
			YearsOfExperience: &years,
			WorkingDays:       "1,2,3,4,5",
			WorkStart:         "09:00",
			WorkEnd:           "17:00",
		})
		if err != nil {
			if errors.Is(err, identity.ErrEmailTaken) || errors.Is(err, identity.ErrLicenseTaken) {
				continue
			}
			return fmt.Errorf("seed doctor: %w", err)
		}

		actor := auth.Actor{UserID: doctor.ID, Role: auth.RoleDoctor}
		slotCount := 0
		for weekday := 1; weekday <= 5 && slotCount < slotsPer; weekday++ {
			for _, start := range seedSlotTimes {
				if slotCount >= slotsPer {
					break
				}
				// Thin out the grid so doctors end up with different
				// calendars.
				if gofakeit.Number(0, 2) == 0 {
					continue
				}
				_, err := schedSvc.CreateSlot(ctx, actor, scheduling.CreateSlotInput{
					DoctorID:        doctor.ID,
					Weekday:         weekday,
					StartTime:       start,
					DurationMinutes: 30 * gofakeit.Number(1, 2),
				})
				if err != nil {
					if errors.Is(err, scheduling.ErrDuplicateSlot) {
						continue
					}
					return fmt.Errorf("seed slot for %s: %w", email, err)
				}
				slotCount++
			}
		}
		fmt.Printf("  doctor %s %s <%s> with %d slot(s)\n", first, last, email, slotCount)
	}

	for i := 0; i < patients; i++ {
		first := gofakeit.FirstName()
		last := gofakeit.LastName()
		email := seedEmail(first, last, i)
		phone := gofakeit.Phone()
		dob := gofakeit.DateRange(
			time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2005, 12, 31, 0, 0, 0, 0, time.UTC),
		).Format("2006-01-02")

		_, err := identitySvc.RegisterPatient(ctx, identity.RegisterInput{
			Email:       email,
			Password:    seedPassword,
			FirstName:   first,
			LastName:    last,
			Phone:       &phone,
			DateOfBirth: &dob,
		})
		if err != nil {
			if errors.Is(err, identity.ErrEmailTaken) {
				continue
			}
			return fmt.Errorf("seed patient: %w", err)
		}
	}

	fmt.Printf("Done. All seeded accounts use the password %q.\n", seedPassword)
	return nil
}

func seedEmail(first, last string, n int) string {
	return fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), n)
}
