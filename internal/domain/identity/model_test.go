package identity

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestParseWorkingDays(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []int
		wantErr bool
	}{
		{name: "weekdays", input: "1,2,3,4,5", want: []int{1, 2, 3, 4, 5}},
		{name: "unordered and spaced", input: " 5, 1 ,3", want: []int{1, 3, 5}},
		{name: "duplicates collapse", input: "2,2,2", want: []int{2}},
		{name: "blank", input: "", want: nil},
		{name: "weekend only", input: "6,7", want: []int{6, 7}},
		{name: "zero is out of range", input: "0,1", wantErr: true},
		{name: "eight is out of range", input: "1,8", wantErr: true},
		{name: "not a number", input: "mon,tue", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWorkingDays(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestUser_FullName(t *testing.T) {
	u := &User{FirstName: "Gregory", LastName: "House"}
	if got := u.FullName(); got != "Gregory House" {
		t.Errorf("expected %q, got %q", "Gregory House", got)
	}

	u = &User{FirstName: "Cher"}
	if got := u.FullName(); got != "Cher" {
		t.Errorf("expected single name trimmed, got %q", got)
	}
}

func TestUser_JSONHidesPasswordHash(t *testing.T) {
	u := &User{ID: uuid.New(), Email: "a@example.com", PasswordHash: "bcrypt-material", Role: RolePatient}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(data), "bcrypt-material") {
		t.Error("password hash leaked into JSON")
	}
}

func TestDoctor_JSONExposesUserIDAsID(t *testing.T) {
	d := &Doctor{UserID: uuid.New(), FirstName: "Gregory", LastName: "House", Specialty: "Diagnostics"}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if body["id"] != d.UserID.String() {
		t.Errorf("expected id %s, got %v", d.UserID, body["id"])
	}
	if _, ok := body["user_id"]; ok {
		t.Error("listing view should expose the user id as id, not user_id")
	}
}
