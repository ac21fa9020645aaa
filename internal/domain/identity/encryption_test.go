package identity

import (
	"testing"

	"github.com/carebook/carebook/internal/platform/hipaa"
)

func strPtr(s string) *string { return &s }

// newTestEncryptor creates a PHIEncryptor with a fixed 32-byte test key.
func newTestEncryptor(t *testing.T) hipaa.FieldEncryptor {
	t.Helper()
	key := []byte("01234567890123456789012345678901")
	enc, err := hipaa.NewPHIEncryptor(key)
	if err != nil {
		t.Fatalf("failed to create test encryptor: %v", err)
	}
	return enc
}

func TestEncryptField_NilEncryptorPassesThrough(t *testing.T) {
	original := "sensitive-data"
	val := original

	result, err := encryptField(nil, &val)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || *result != original {
		t.Errorf("expected value unchanged %q, got %v", original, result)
	}
}

func TestEncryptField_NilValue(t *testing.T) {
	enc := newTestEncryptor(t)

	result, err := encryptField(enc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for nil input, got %v", result)
	}
}

func TestEncryptField_EmptyStringUnchanged(t *testing.T) {
	enc := newTestEncryptor(t)

	empty := ""
	result, err := encryptField(enc, &empty)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || *result != "" {
		t.Errorf("expected empty string unchanged, got %v", result)
	}
}

func TestEncryptField_ChangesValue(t *testing.T) {
	enc := newTestEncryptor(t)

	plaintext := "+1-555-0100"
	result, err := encryptField(enc, &plaintext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || *result == plaintext || len(*result) == 0 {
		t.Errorf("expected ciphertext distinct from plaintext, got %v", result)
	}
}

func TestDecryptField_RoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	plaintext := "latex allergy, monitor closely"
	encrypted, err := encryptField(enc, &plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	decrypted, err := decryptField(enc, encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if decrypted == nil || *decrypted != plaintext {
		t.Errorf("expected round-trip %q, got %v", plaintext, decrypted)
	}
}

func TestPatientProfilePHIRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)
	repo := &patientProfileRepoPG{encryptor: enc}

	p := &PatientProfile{
		MedicalHistory:        strPtr("type 2 diabetes"),
		Allergies:             strPtr("penicillin"),
		EmergencyContactName:  strPtr("Jane Doe"),
		EmergencyContactPhone: strPtr("+1-555-0199"),
	}

	if err := repo.encryptPatientPHI(p); err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if *p.MedicalHistory == "type 2 diabetes" {
		t.Error("medical history not encrypted in place")
	}
	if *p.EmergencyContactPhone == "+1-555-0199" {
		t.Error("emergency contact phone not encrypted in place")
	}

	if err := repo.decryptPatientPHI(p); err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if *p.MedicalHistory != "type 2 diabetes" || *p.Allergies != "penicillin" ||
		*p.EmergencyContactName != "Jane Doe" || *p.EmergencyContactPhone != "+1-555-0199" {
		t.Errorf("round trip mismatch: %+v", p)
	}
}
