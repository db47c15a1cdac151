package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestResolutionError(t *testing.T) {
	err := NewResolutionError(3, 2, "s3-eth2", "no port records")

	msg := err.Error()
	for _, want := range []string{"port 2", "0000000000000003", `"s3-eth2"`, "no port records"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error message %q should contain %q", msg, want)
		}
	}

	wrapped := fmt.Errorf("port sync: %w", err)
	if !errors.Is(wrapped, ErrPartnerUnresolved) {
		t.Errorf("ResolutionError should unwrap to ErrPartnerUnresolved")
	}

	var re *ResolutionError
	if !errors.As(wrapped, &re) || re.Port != 2 {
		t.Errorf("errors.As did not recover the ResolutionError: %v", re)
	}
}

func TestResolutionErrorNoPrefix(t *testing.T) {
	msg := NewResolutionError(1, 4, "", "").Error()
	if strings.Contains(msg, "prefix") || strings.Contains(msg, "(") {
		t.Errorf("unexpected optional parts in %q", msg)
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("field is required")
		if !strings.Contains(err.Error(), "field is required") {
			t.Errorf("Error message should contain the error: %s", err.Error())
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("ValidationError should unwrap to ErrValidationFailed")
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("error 1", "error 2")
		msg := err.Error()
		if !strings.Contains(msg, "error 1") || !strings.Contains(msg, "error 2") {
			t.Errorf("Error message should contain both errors: %s", msg)
		}
	})
}

func TestValidationBuilder(t *testing.T) {
	var v ValidationBuilder
	if v.Build() != nil {
		t.Error("empty builder should build nil")
	}

	v.Add(true, "not added").Add(false, "added").AddErrorf("port %d", 7)
	if !v.HasErrors() {
		t.Fatal("builder should have errors")
	}

	var ve *ValidationError
	if !errors.As(v.Build(), &ve) {
		t.Fatal("Build should return *ValidationError")
	}
	if len(ve.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2", len(ve.Errors))
	}
	if ve.Errors[1] != "port 7" {
		t.Errorf("Errors[1] = %q, want %q", ve.Errors[1], "port 7")
	}
}

func TestFormatDPID(t *testing.T) {
	if got := FormatDPID(0x1a); got != "000000000000001a" {
		t.Errorf("FormatDPID = %q, want %q", got, "000000000000001a")
	}
}
