package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// ErrConfigLoad is returned when the client credentials configuration cannot be loaded.
type ErrConfigLoad struct {
	Path string
	Err  error
}

func (e *ErrConfigLoad) Error() string {
	return fmt.Sprintf("failed to load configuration %s: %v", e.Path, e.Err)
}

func (e *ErrConfigLoad) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Authentication errors

// ErrNotAuthenticated is returned by remote operations attempted without an access token.
type ErrNotAuthenticated struct{}

func (e *ErrNotAuthenticated) Error() string {
	return "not authenticated"
}

// ErrMissingCode is returned when the authorization redirect carries no usable code.
type ErrMissingCode struct {
	Reason string
}

func (e *ErrMissingCode) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no authorization code received: %s", e.Reason)
	}
	return "no authorization code received"
}

type ErrTokenExchange struct {
	Code        string
	Description string
	Err         error
}

func (e *ErrTokenExchange) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("token exchange failed: %s", e.Description)
	case e.Code != "":
		return fmt.Sprintf("token exchange failed: %s", e.Code)
	case e.Err != nil:
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return "token exchange failed"
}

func (e *ErrTokenExchange) Unwrap() error {
	return e.Err
}

type ErrDeviceCodeRequest struct {
	StatusCode int
	Err        error
}

func (e *ErrDeviceCodeRequest) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to request device code: status %d", e.StatusCode)
	}
	return fmt.Sprintf("failed to request device code: %v", e.Err)
}

func (e *ErrDeviceCodeRequest) Unwrap() error {
	return e.Err
}

// ErrDeviceFlow carries the provider error code that ended device-flow polling.
type ErrDeviceFlow struct {
	Code        string
	Description string
}

func (e *ErrDeviceFlow) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("device flow failed: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("device flow failed: %s", e.Code)
}

type ErrPollingTimeout struct {
	Attempts int
}

func (e *ErrPollingTimeout) Error() string {
	return fmt.Sprintf("polling timed out after %d attempts", e.Attempts)
}

// Remote store errors

type ErrRepositoryCheck struct {
	Repository string
	StatusCode int
	Operation  string
	Err        error
}

func (e *ErrRepositoryCheck) Error() string {
	op := e.Operation
	if op == "" {
		op = "check"
	}
	if e.Err != nil {
		return fmt.Sprintf("failed to %s repository %s: %v", op, e.Repository, e.Err)
	}
	return fmt.Sprintf("failed to %s repository %s: status %d", op, e.Repository, e.StatusCode)
}

func (e *ErrRepositoryCheck) Unwrap() error {
	return e.Err
}

type ErrRemoteRead struct {
	Operation  string
	Path       string
	StatusCode int
	// RetryAfter is set when the provider rate limited the request.
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRemoteRead) Error() string {
	target := e.Operation
	if e.Path != "" {
		target = e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("failed to read %s: %v", target, e.Err)
	}
	return fmt.Sprintf("failed to read %s: status %d%s", target, e.StatusCode, retryHint(e.RetryAfter))
}

func (e *ErrRemoteRead) Unwrap() error {
	return e.Err
}

// ErrRemoteWrite is returned when the provider rejects a file update.
// A stale content hash surfaces as 409 or 422; see Conflict.
type ErrRemoteWrite struct {
	Path       string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRemoteWrite) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to update %s: %v", e.Path, e.Err)
	}
	if e.Conflict() {
		return fmt.Sprintf("failed to update %s: remote file changed since it was read (status %d)", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("failed to update %s: status %d%s", e.Path, e.StatusCode, retryHint(e.RetryAfter))
}

func (e *ErrRemoteWrite) Unwrap() error {
	return e.Err
}

// Conflict reports whether the write was rejected by the optimistic concurrency check.
func (e *ErrRemoteWrite) Conflict() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusUnprocessableEntity
}

func retryHint(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return fmt.Sprintf(", rate limited, retry after %s", d.Round(time.Second))
}

type ErrInvalidLink struct {
	Reason string
}

func (e *ErrInvalidLink) Error() string {
	return fmt.Sprintf("invalid link: %s", e.Reason)
}

// ErrNetwork wraps transport-level failures of provider calls.
type ErrNetwork struct {
	Operation string
	Err       error
}

func (e *ErrNetwork) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
}

func (e *ErrNetwork) Unwrap() error {
	return e.Err
}
