// Package util provides logging and the shared error taxonomy.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for deployment failures
var (
	ErrNotFound         = errors.New("resource not found")
	ErrMalformedInput   = errors.New("malformed input")
	ErrValidationFailed = errors.New("validation failed")
	ErrStageFailed      = errors.New("stage failed")
	ErrConnectionFailed = errors.New("connection failed")
	ErrRollbackNotFound = errors.New("rollback not found")
	ErrDangerousCommand = errors.New("dangerous rollback command")
)

// ValidationError represents one or more failed required validation rules.
// A deployment that hits this error never touched a device.
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

// Messages returns the accumulated messages.
func (v *ValidationBuilder) Messages() []string {
	return v.errors
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// StageFailure is a negative-token match (or ambiguous commit output) seen
// while pushing to one device.
type StageFailure struct {
	Stage   string
	Device  string
	Message string
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s failed on %s: %s", e.Stage, e.Device, e.Message)
}

func (e *StageFailure) Unwrap() error {
	return ErrStageFailed
}

// NewStageFailure creates a stage failure
func NewStageFailure(stage, device, message string) *StageFailure {
	return &StageFailure{Stage: stage, Device: device, Message: message}
}

// ConnectionFailure means a session to the device could not be opened.
type ConnectionFailure struct {
	Device string
	Err    error
}

func (e *ConnectionFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connecting to %s failed", e.Device)
	}
	return fmt.Sprintf("connecting to %s: %v", e.Device, e.Err)
}

// Is matches ErrConnectionFailed so callers can test with errors.Is while
// Unwrap still exposes the transport error.
func (e *ConnectionFailure) Is(target error) bool {
	return target == ErrConnectionFailed
}

func (e *ConnectionFailure) Unwrap() error {
	return e.Err
}

// NewConnectionFailure creates a connection failure
func NewConnectionFailure(device string, err error) *ConnectionFailure {
	return &ConnectionFailure{Device: device, Err: err}
}

// RollbackNotFoundError is returned when no rollback matches an id.
type RollbackNotFoundError struct {
	ID string
}

func (e *RollbackNotFoundError) Error() string {
	return fmt.Sprintf("no rollback configuration for '%s'", e.ID)
}

func (e *RollbackNotFoundError) Unwrap() error {
	return ErrRollbackNotFound
}

// MalformedInputError describes a configuration entry of the wrong shape.
type MalformedInputError struct {
	Key    string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed entry '%s': %s", e.Key, e.Reason)
}

func (e *MalformedInputError) Unwrap() error {
	return ErrMalformedInput
}

// NewMalformedInputError creates a malformed input error
func NewMalformedInputError(key, reason string) *MalformedInputError {
	return &MalformedInputError{Key: key, Reason: reason}
}

// DangerousCommandWarning flags a rollback command that matched a dangerous
// pattern. It is reported, never returned as a fatal error.
type DangerousCommandWarning struct {
	Command string
	Reason  string
}

func (e *DangerousCommandWarning) Error() string {
	return fmt.Sprintf("dangerous command %q: %s", e.Command, e.Reason)
}

func (e *DangerousCommandWarning) Unwrap() error {
	return ErrDangerousCommand
}
