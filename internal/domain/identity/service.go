package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/db"
)

// Schedule defaults applied when a doctor registers without one.
const (
	DefaultWorkingDays = "1,2,3,4,5"
	DefaultWorkStart   = "09:00"
	DefaultWorkEnd     = "17:00"
)

type Service struct {
	users    UserRepository
	doctors  DoctorProfileRepository
	patients PatientProfileRepository
	tokens   *auth.TokenIssuer
	txr      db.TxRunner
}

func NewService(users UserRepository, doctors DoctorProfileRepository, patients PatientProfileRepository, tokens *auth.TokenIssuer, txr db.TxRunner) *Service {
	return &Service{users: users, doctors: doctors, patients: patients, tokens: tokens, txr: txr}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txr == nil {
		return fn(ctx)
	}
	return s.txr.InTx(ctx, fn)
}

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
}

// DoctorRegisterInput extends registration with the doctor profile fields.
// Doctors are provisioned by admins or seed tooling, not self-registration.
type DoctorRegisterInput struct {
	RegisterInput
	Specialty         string  `json:"specialty"`
	LicenseNumber     string  `json:"license_number"`
	Bio               *string `json:"bio,omitempty"`
	YearsOfExperience *int    `json:"years_of_experience,omitempty"`
	WorkingDays       string  `json:"working_days"`
	WorkStart         string  `json:"work_start"`
	WorkEnd           string  `json:"work_end"`
}

// AuthResult is what a successful login returns.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// RegisterPatient creates a patient account and its empty patient profile in
// one transaction. Self-registration always yields the patient role.
func (s *Service) RegisterPatient(ctx context.Context, in RegisterInput) (*User, error) {
	u, err := buildUser(in, RolePatient)
	if err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		return s.patients.Create(ctx, &PatientProfile{UserID: u.ID})
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// RegisterDoctor creates a doctor account with its profile in one
// transaction. Missing schedule fields fall back to the weekday defaults.
func (s *Service) RegisterDoctor(ctx context.Context, in DoctorRegisterInput) (*User, error) {
	u, err := buildUser(in.RegisterInput, RoleDoctor)
	if err != nil {
		return nil, err
	}
	profile, err := buildDoctorProfile(in)
	if err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		profile.UserID = u.ID
		return s.doctors.Create(ctx, profile)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and issues an access token. Unknown emails and
// wrong passwords both return ErrInvalidCredentials so the response does not
// reveal which accounts exist.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrAccountDisabled
	}

	token, expiresAt, err := s.tokens.Issue(u.ID, auth.ParseRole(u.Role))
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

// Me returns the actor's account with its role-scoped profile. A doctor or
// patient account missing its profile surfaces the profile-not-found error.
func (s *Service) Me(ctx context.Context, actor auth.Actor) (*Profile, error) {
	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	p := &Profile{User: u}
	switch u.Role {
	case RoleDoctor:
		dp, err := s.doctors.GetByUserID(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		p.Doctor = dp
	case RolePatient:
		pp, err := s.patients.GetByUserID(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		p.Patient = pp
	}
	return p, nil
}

// UpdateMeInput carries optional updates; nil means "leave unchanged".
// Profile fields that do not match the actor's role are ignored.
type UpdateMeInput struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`

	Specialty         *string `json:"specialty,omitempty"`
	Bio               *string `json:"bio,omitempty"`
	YearsOfExperience *int    `json:"years_of_experience,omitempty"`
	WorkingDays       *string `json:"working_days,omitempty"`
	WorkStart         *string `json:"work_start,omitempty"`
	WorkEnd           *string `json:"work_end,omitempty"`

	MedicalHistory        *string `json:"medical_history,omitempty"`
	Allergies             *string `json:"allergies,omitempty"`
	EmergencyContactName  *string `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string `json:"emergency_contact_phone,omitempty"`
}

// UpdateMe applies partial updates to the actor's account and profile.
func (s *Service) UpdateMe(ctx context.Context, actor auth.Actor, in UpdateMeInput) (*Profile, error) {
	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	applyUserUpdates(u, in, verr)

	p := &Profile{User: u}
	switch u.Role {
	case RoleDoctor:
		dp, err := s.doctors.GetByUserID(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		applyDoctorUpdates(dp, in, verr)
		p.Doctor = dp
	case RolePatient:
		pp, err := s.patients.GetByUserID(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		applyPatientUpdates(pp, in)
		p.Patient = pp
	}
	if !verr.Empty() {
		return nil, verr
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		if p.Doctor != nil {
			return s.doctors.Update(ctx, p.Doctor)
		}
		if p.Patient != nil {
			return s.patients.Update(ctx, p.Patient)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListDoctors returns active doctors, optionally filtered by specialty or
// name substring.
func (s *Service) ListDoctors(ctx context.Context, specialty, name string, limit, offset int) ([]*Doctor, int, error) {
	params := map[string]string{}
	if specialty != "" {
		params["specialty"] = specialty
	}
	if name != "" {
		params["name"] = name
	}
	return s.doctors.SearchDoctors(ctx, params, limit, offset)
}

// DoctorSchedule returns the profile carrying a doctor's working days and
// window. The scheduling domain consumes this when validating slots.
func (s *Service) DoctorSchedule(ctx context.Context, doctorID uuid.UUID) (*DoctorProfile, error) {
	return s.doctors.GetByUserID(ctx, doctorID)
}

// GetUser looks up an account by id. The notification domain consumes this
// to resolve recipient names and contact details.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func buildUser(in RegisterInput, role string) (*User, error) {
	verr := &ValidationError{}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		verr.Add("email", "email is required")
	} else if !strings.Contains(email, "@") {
		verr.Add("email", "enter a valid email address")
	}
	if in.Password == "" {
		verr.Add("password", "password is required")
	} else if len(in.Password) < 8 {
		verr.Add("password", "password must be at least 8 characters")
	}
	if strings.TrimSpace(in.FirstName) == "" {
		verr.Add("first_name", "first_name is required")
	}
	if strings.TrimSpace(in.LastName) == "" {
		verr.Add("last_name", "last_name is required")
	}
	var dob *time.Time
	if in.DateOfBirth != nil && *in.DateOfBirth != "" {
		d, err := time.Parse("2006-01-02", *in.DateOfBirth)
		if err != nil {
			verr.Add("date_of_birth", "must be a valid date in YYYY-MM-DD format")
		} else {
			dob = &d
		}
	}
	if !verr.Empty() {
		return nil, verr
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        trimmedPtr(in.Phone),
		DateOfBirth:  dob,
		Active:       true,
	}, nil
}

func buildDoctorProfile(in DoctorRegisterInput) (*DoctorProfile, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(in.Specialty) == "" {
		verr.Add("specialty", "specialty is required")
	}
	if strings.TrimSpace(in.LicenseNumber) == "" {
		verr.Add("license_number", "license_number is required")
	}

	workingDays := strings.TrimSpace(in.WorkingDays)
	if workingDays == "" {
		workingDays = DefaultWorkingDays
	}
	if _, err := ParseWorkingDays(workingDays); err != nil {
		verr.Add("working_days", err.Error())
	}

	workStart := validateClock(in.WorkStart, DefaultWorkStart, "work_start", verr)
	workEnd := validateClock(in.WorkEnd, DefaultWorkEnd, "work_end", verr)
	if workStart != "" && workEnd != "" && workStart >= workEnd {
		verr.Add("work_end", "work_end must be after work_start")
	}
	if !verr.Empty() {
		return nil, verr
	}

	return &DoctorProfile{
		Specialty:         strings.TrimSpace(in.Specialty),
		LicenseNumber:     strings.TrimSpace(in.LicenseNumber),
		Bio:               trimmedPtr(in.Bio),
		YearsOfExperience: in.YearsOfExperience,
		WorkingDays:       workingDays,
		WorkStart:         workStart,
		WorkEnd:           workEnd,
	}, nil
}

func applyUserUpdates(u *User, in UpdateMeInput, verr *ValidationError) {
	if in.FirstName != nil {
		if strings.TrimSpace(*in.FirstName) == "" {
			verr.Add("first_name", "first_name cannot be blank")
		} else {
			u.FirstName = strings.TrimSpace(*in.FirstName)
		}
	}
	if in.LastName != nil {
		if strings.TrimSpace(*in.LastName) == "" {
			verr.Add("last_name", "last_name cannot be blank")
		} else {
			u.LastName = strings.TrimSpace(*in.LastName)
		}
	}
	if in.Phone != nil {
		u.Phone = trimmedPtr(in.Phone)
	}
	if in.DateOfBirth != nil {
		if *in.DateOfBirth == "" {
			u.DateOfBirth = nil
		} else if d, err := time.Parse("2006-01-02", *in.DateOfBirth); err != nil {
			verr.Add("date_of_birth", "must be a valid date in YYYY-MM-DD format")
		} else {
			u.DateOfBirth = &d
		}
	}
}

func applyDoctorUpdates(dp *DoctorProfile, in UpdateMeInput, verr *ValidationError) {
	if in.Specialty != nil {
		if strings.TrimSpace(*in.Specialty) == "" {
			verr.Add("specialty", "specialty cannot be blank")
		} else {
			dp.Specialty = strings.TrimSpace(*in.Specialty)
		}
	}
	if in.Bio != nil {
		dp.Bio = trimmedPtr(in.Bio)
	}
	if in.YearsOfExperience != nil {
		if *in.YearsOfExperience < 0 {
			verr.Add("years_of_experience", "years_of_experience cannot be negative")
		} else {
			dp.YearsOfExperience = in.YearsOfExperience
		}
	}
	if in.WorkingDays != nil {
		if _, err := ParseWorkingDays(*in.WorkingDays); err != nil {
			verr.Add("working_days", err.Error())
		} else {
			dp.WorkingDays = strings.TrimSpace(*in.WorkingDays)
		}
	}
	if in.WorkStart != nil {
		dp.WorkStart = validateClock(*in.WorkStart, "", "work_start", verr)
	}
	if in.WorkEnd != nil {
		dp.WorkEnd = validateClock(*in.WorkEnd, "", "work_end", verr)
	}
	if dp.WorkStart != "" && dp.WorkEnd != "" && dp.WorkStart >= dp.WorkEnd {
		verr.Add("work_end", "work_end must be after work_start")
	}
}

func applyPatientUpdates(pp *PatientProfile, in UpdateMeInput) {
	if in.MedicalHistory != nil {
		pp.MedicalHistory = trimmedPtr(in.MedicalHistory)
	}
	if in.Allergies != nil {
		pp.Allergies = trimmedPtr(in.Allergies)
	}
	if in.EmergencyContactName != nil {
		pp.EmergencyContactName = trimmedPtr(in.EmergencyContactName)
	}
	if in.EmergencyContactPhone != nil {
		pp.EmergencyContactPhone = trimmedPtr(in.EmergencyContactPhone)
	}
}

// validateClock normalizes an "HH:MM" value, substituting fallback when the
// input is blank. On parse failure it records a field error and returns "".
func validateClock(value, fallback, field string, verr *ValidationError) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	if value == "" {
		verr.Add(field, field+" is required")
		return ""
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		verr.Add(field, "must be a valid time in HH:MM format")
		return ""
	}
	return t.Format("15:04")
}

// trimmedPtr trims the value and converts blank strings to nil so empty
// updates clear the column.
func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
