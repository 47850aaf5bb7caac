package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name       string
		version    int
		wantReason string
	}{
		{"current", CurrentVersion, ""},
		{"zero", 0, "invalid"},
		{"negative", -1, "invalid"},
		{"newer", CurrentVersion + 1, "newer than this build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *VersionError, got %T", err)
			}
			if ve.Reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", ve.Reason, tt.wantReason)
			}
		})
	}
}

func TestVersionErrorMessage(t *testing.T) {
	err := &VersionError{Version: 3, Current: 1, Reason: "newer than this build"}
	if !strings.Contains(err.Error(), "upgrade operator") {
		t.Fatalf("Error() = %q", err.Error())
	}
	var nilErr *VersionError
	if nilErr.Error() != "" {
		t.Fatal("nil VersionError should render empty")
	}
}
