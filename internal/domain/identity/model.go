package identity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role values stored on the users row. They mirror auth.Role; the string form
// is what the database and JWT claims carry.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// User maps to the users table.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         string     `db:"role" json:"role"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	DateOfBirth  *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Active       bool       `db:"active" json:"active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// DoctorProfile maps to the doctor_profiles table. working_days holds
// comma-delimited weekday numbers (1 = Monday .. 7 = Sunday); work_start and
// work_end bound the daily window slots must fall inside.
type DoctorProfile struct {
	ID                uuid.UUID `db:"id" json:"id"`
	UserID            uuid.UUID `db:"user_id" json:"user_id"`
	Specialty         string    `db:"specialty" json:"specialty"`
	LicenseNumber     string    `db:"license_number" json:"license_number"`
	Bio               *string   `db:"bio" json:"bio,omitempty"`
	YearsOfExperience *int      `db:"years_of_experience" json:"years_of_experience,omitempty"`
	WorkingDays       string    `db:"working_days" json:"working_days"`
	WorkStart         string    `db:"work_start" json:"work_start"`
	WorkEnd           string    `db:"work_end" json:"work_end"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// WorkingDayList parses the delimited working_days column into weekday
// numbers, deduplicated and sorted.
func (p *DoctorProfile) WorkingDayList() ([]int, error) {
	return ParseWorkingDays(p.WorkingDays)
}

// ParseWorkingDays parses a comma-delimited weekday list such as "1,2,3,4,5".
// Blank input yields an empty list; entries outside 1-7 are rejected.
func ParseWorkingDays(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("working day %q is not a number", part)
		}
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("working day %d out of range 1-7", d)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days, nil
}

// PatientProfile maps to the patient_profiles table. The medical free-text
// fields and emergency contact details are encrypted at rest.
type PatientProfile struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	UserID                uuid.UUID `db:"user_id" json:"user_id"`
	MedicalHistory        *string   `db:"medical_history" json:"medical_history,omitempty"`
	Allergies             *string   `db:"allergies" json:"allergies,omitempty"`
	EmergencyContactName  *string   `db:"emergency_contact_name" json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string   `db:"emergency_contact_phone" json:"emergency_contact_phone,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// Doctor is the public listing view of a doctor: the account identity joined
// with the schedule fields patients need when picking a slot. The exposed id
// is the user id, which is what slots reference as doctor_id.
type Doctor struct {
	UserID            uuid.UUID `db:"user_id" json:"id"`
	FirstName         string    `db:"first_name" json:"first_name"`
	LastName          string    `db:"last_name" json:"last_name"`
	Specialty         string    `db:"specialty" json:"specialty"`
	Bio               *string   `db:"bio" json:"bio,omitempty"`
	YearsOfExperience *int      `db:"years_of_experience" json:"years_of_experience,omitempty"`
	WorkingDays       string    `db:"working_days" json:"working_days"`
	WorkStart         string    `db:"work_start" json:"work_start"`
	WorkEnd           string    `db:"work_end" json:"work_end"`
}

// Profile is the role-scoped /me view: the account plus whichever profile the
// role carries.
type Profile struct {
	User    *User           `json:"user"`
	Doctor  *DoctorProfile  `json:"doctor_profile,omitempty"`
	Patient *PatientProfile `json:"patient_profile,omitempty"`
}
