package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/platform/hipaa"
)

// -- User Repository --

type userRepoPG struct {
	pool      *pgxpool.Pool
	encryptor hipaa.FieldEncryptor
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

// NewUserRepoWithEncryption creates a user repository with PII field-level
// encryption. The encryptor is applied to the phone column before storage and
// after retrieval. Pass nil to disable encryption (equivalent to NewUserRepo).
func NewUserRepoWithEncryption(pool *pgxpool.Pool, enc hipaa.FieldEncryptor) UserRepository {
	return &userRepoPG{pool: pool, encryptor: enc}
}

func (r *userRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const userCols = `id, email, password_hash, role, first_name, last_name, phone, date_of_birth, active, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()

	// Encrypt PII fields before storage, then restore originals for the caller.
	if err := r.encryptUserPII(u); err != nil {
		return fmt.Errorf("user create: %w", err)
	}
	defer r.decryptUserPII(u) //nolint:errcheck // best-effort restore

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role, first_name, last_name, phone, date_of_birth, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.FirstName, u.LastName, u.Phone, u.DateOfBirth, u.Active,
	)
	if isUniqueViolation(err, "users_email_key") {
		return ErrEmailTaken
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.decryptUserPII(u); err != nil {
		return nil, fmt.Errorf("user get by id: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.decryptUserPII(u); err != nil {
		return nil, fmt.Errorf("user get by email: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	// Encrypt PII fields before storage, then restore originals for the caller.
	if err := r.encryptUserPII(u); err != nil {
		return fmt.Errorf("user update: %w", err)
	}
	defer r.decryptUserPII(u) //nolint:errcheck // best-effort restore

	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET
			email=$2, first_name=$3, last_name=$4, phone=$5, date_of_birth=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Phone, u.DateOfBirth, u.Active,
	)
	if isUniqueViolation(err, "users_email_key") {
		return ErrEmailTaken
	}
	return err
}

func (r *userRepoPG) encryptUserPII(u *User) error {
	var err error
	if u.Phone, err = encryptField(r.encryptor, u.Phone); err != nil {
		return err
	}
	return nil
}

func (r *userRepoPG) decryptUserPII(u *User) error {
	var err error
	if u.Phone, err = decryptField(r.encryptor, u.Phone); err != nil {
		return err
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.FirstName, &u.LastName,
		&u.Phone, &u.DateOfBirth, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// -- DoctorProfile Repository --

type doctorProfileRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorProfileRepo(pool *pgxpool.Pool) DoctorProfileRepository {
	return &doctorProfileRepoPG{pool: pool}
}

func (r *doctorProfileRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const doctorProfileCols = `id, user_id, specialty, license_number, bio, years_of_experience,
	working_days, work_start, work_end, created_at, updated_at`

func (r *doctorProfileRepoPG) Create(ctx context.Context, p *DoctorProfile) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_profiles (id, user_id, specialty, license_number, bio, years_of_experience, working_days, work_start, work_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.UserID, p.Specialty, p.LicenseNumber, p.Bio, p.YearsOfExperience,
		p.WorkingDays, p.WorkStart, p.WorkEnd,
	)
	if isUniqueViolation(err, "doctor_profiles_license_number_key") {
		return ErrLicenseTaken
	}
	return err
}

func (r *doctorProfileRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	p, err := scanDoctorProfile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+doctorProfileCols+` FROM doctor_profiles WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorProfileNotFound
	}
	return p, err
}

func (r *doctorProfileRepoPG) Update(ctx context.Context, p *DoctorProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_profiles SET
			specialty=$2, bio=$3, years_of_experience=$4, working_days=$5, work_start=$6, work_end=$7, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Specialty, p.Bio, p.YearsOfExperience, p.WorkingDays, p.WorkStart, p.WorkEnd,
	)
	return err
}

const doctorCols = `u.id AS user_id, u.first_name, u.last_name, dp.specialty, dp.bio, dp.years_of_experience,
	dp.working_days, dp.work_start, dp.work_end`

func (r *doctorProfileRepoPG) SearchDoctors(ctx context.Context, params map[string]string, limit, offset int) ([]*Doctor, int, error) {
	query := `SELECT ` + doctorCols + ` FROM doctor_profiles dp JOIN users u ON u.id = dp.user_id WHERE u.role = 'doctor' AND u.active`
	countQuery := `SELECT COUNT(*) FROM doctor_profiles dp JOIN users u ON u.id = dp.user_id WHERE u.role = 'doctor' AND u.active`
	var args []interface{}
	argIdx := 1

	if specialty, ok := params["specialty"]; ok && specialty != "" {
		cond := fmt.Sprintf(" AND dp.specialty ILIKE $%d", argIdx)
		query += cond
		countQuery += cond
		args = append(args, "%"+specialty+"%")
		argIdx++
	}
	if name, ok := params["name"]; ok && name != "" {
		cond := fmt.Sprintf(" AND (u.first_name ILIKE $%d OR u.last_name ILIKE $%d)", argIdx, argIdx)
		query += cond
		countQuery += cond
		args = append(args, "%"+name+"%")
		argIdx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY u.last_name, u.first_name LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var doctors []*Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.UserID, &d.FirstName, &d.LastName, &d.Specialty, &d.Bio,
			&d.YearsOfExperience, &d.WorkingDays, &d.WorkStart, &d.WorkEnd); err != nil {
			return nil, 0, err
		}
		doctors = append(doctors, &d)
	}
	return doctors, total, rows.Err()
}

func scanDoctorProfile(row pgx.Row) (*DoctorProfile, error) {
	var p DoctorProfile
	err := row.Scan(
		&p.ID, &p.UserID, &p.Specialty, &p.LicenseNumber, &p.Bio, &p.YearsOfExperience,
		&p.WorkingDays, &p.WorkStart, &p.WorkEnd, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- PatientProfile Repository --

type patientProfileRepoPG struct {
	pool      *pgxpool.Pool
	encryptor hipaa.FieldEncryptor
}

func NewPatientProfileRepo(pool *pgxpool.Pool) PatientProfileRepository {
	return &patientProfileRepoPG{pool: pool}
}

// NewPatientProfileRepoWithEncryption creates a patient profile repository
// with PHI field-level encryption over the medical and emergency contact
// columns. Pass nil to disable encryption.
func NewPatientProfileRepoWithEncryption(pool *pgxpool.Pool, enc hipaa.FieldEncryptor) PatientProfileRepository {
	return &patientProfileRepoPG{pool: pool, encryptor: enc}
}

func (r *patientProfileRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientProfileCols = `id, user_id, medical_history, allergies, emergency_contact_name, emergency_contact_phone, created_at, updated_at`

func (r *patientProfileRepoPG) Create(ctx context.Context, p *PatientProfile) error {
	p.ID = uuid.New()

	// Encrypt PHI fields before storage, then restore originals for the caller.
	if err := r.encryptPatientPHI(p); err != nil {
		return fmt.Errorf("patient profile create: %w", err)
	}
	defer r.decryptPatientPHI(p) //nolint:errcheck // best-effort restore

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_profiles (id, user_id, medical_history, allergies, emergency_contact_name, emergency_contact_phone)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.UserID, p.MedicalHistory, p.Allergies, p.EmergencyContactName, p.EmergencyContactPhone,
	)
	return err
}

func (r *patientProfileRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	p, err := scanPatientProfile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientProfileCols+` FROM patient_profiles WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.decryptPatientPHI(p); err != nil {
		return nil, fmt.Errorf("patient profile get by user id: %w", err)
	}
	return p, nil
}

func (r *patientProfileRepoPG) Update(ctx context.Context, p *PatientProfile) error {
	// Encrypt PHI fields before storage, then restore originals for the caller.
	if err := r.encryptPatientPHI(p); err != nil {
		return fmt.Errorf("patient profile update: %w", err)
	}
	defer r.decryptPatientPHI(p) //nolint:errcheck // best-effort restore

	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_profiles SET
			medical_history=$2, allergies=$3, emergency_contact_name=$4, emergency_contact_phone=$5, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.MedicalHistory, p.Allergies, p.EmergencyContactName, p.EmergencyContactPhone,
	)
	return err
}

// encryptPatientPHI encrypts all PHI fields on a PatientProfile in place
// before database storage.
func (r *patientProfileRepoPG) encryptPatientPHI(p *PatientProfile) error {
	var err error
	if p.MedicalHistory, err = encryptField(r.encryptor, p.MedicalHistory); err != nil {
		return err
	}
	if p.Allergies, err = encryptField(r.encryptor, p.Allergies); err != nil {
		return err
	}
	if p.EmergencyContactName, err = encryptField(r.encryptor, p.EmergencyContactName); err != nil {
		return err
	}
	if p.EmergencyContactPhone, err = encryptField(r.encryptor, p.EmergencyContactPhone); err != nil {
		return err
	}
	return nil
}

// decryptPatientPHI decrypts all PHI fields on a PatientProfile in place
// after database retrieval.
func (r *patientProfileRepoPG) decryptPatientPHI(p *PatientProfile) error {
	var err error
	if p.MedicalHistory, err = decryptField(r.encryptor, p.MedicalHistory); err != nil {
		return err
	}
	if p.Allergies, err = decryptField(r.encryptor, p.Allergies); err != nil {
		return err
	}
	if p.EmergencyContactName, err = decryptField(r.encryptor, p.EmergencyContactName); err != nil {
		return err
	}
	if p.EmergencyContactPhone, err = decryptField(r.encryptor, p.EmergencyContactPhone); err != nil {
		return err
	}
	return nil
}

func scanPatientProfile(row pgx.Row) (*PatientProfile, error) {
	var p PatientProfile
	err := row.Scan(
		&p.ID, &p.UserID, &p.MedicalHistory, &p.Allergies,
		&p.EmergencyContactName, &p.EmergencyContactPhone, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Shared helpers --

func encryptField(enc hipaa.FieldEncryptor, value *string) (*string, error) {
	if enc == nil || value == nil || *value == "" {
		return value, nil
	}
	encrypted, err := enc.Encrypt(*value)
	if err != nil {
		return nil, fmt.Errorf("encrypting PII field: %w", err)
	}
	return &encrypted, nil
}

func decryptField(enc hipaa.FieldEncryptor, value *string) (*string, error) {
	if enc == nil || value == nil || *value == "" {
		return value, nil
	}
	decrypted, err := enc.Decrypt(*value)
	if err != nil {
		return nil, fmt.Errorf("decrypting PII field: %w", err)
	}
	return &decrypted, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
