// Package util provides logging, shared error types and small formatting
// helpers used across newtflow.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for discarded notifications and failed actions
var (
	ErrUnknownDevice     = errors.New("device not registered")
	ErrNotEthernet       = errors.New("frame has no ethernet header")
	ErrPartnerUnresolved = errors.New("partner port not resolved")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrValidationFailed  = errors.New("validation failed")
)

// ResolutionError reports a mirror target port whose hardware address could
// not be found in the target device's port records.
type ResolutionError struct {
	DPID       uint64
	Port       uint32
	NamePrefix string
	Details    string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve port %d on %s", e.Port, FormatDPID(e.DPID))
	if e.NamePrefix != "" {
		msg += fmt.Sprintf(" by name prefix %q", e.NamePrefix)
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return ErrPartnerUnresolved
}

// NewResolutionError creates a new resolution error
func NewResolutionError(dpid uint64, port uint32, namePrefix, details string) *ResolutionError {
	return &ResolutionError{
		DPID:       dpid,
		Port:       port,
		NamePrefix: namePrefix,
		Details:    details,
	}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// FormatDPID renders a datapath id as 16 zero-padded hex digits.
func FormatDPID(dpid uint64) string {
	return fmt.Sprintf("%016x", dpid)
}
