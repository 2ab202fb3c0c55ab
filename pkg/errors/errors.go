package errors

import (
	"context"
	"errors"
	"fmt"
)

// Common error types
var (
	// Registry errors
	ErrInvalidState   = errors.New("invalid state: run already started")
	ErrDuplicateProbe = errors.New("duplicate probe name")
	ErrRunInProgress  = errors.New("a diagnostics run is already in progress")
	ErrNoRunAvailable = errors.New("no diagnostics run available")

	// Probe errors
	ErrAudioTimeout       = errors.New("audio timeout")
	ErrNoDevice           = errors.New("no capture device found")
	ErrNoDevicePermission = errors.New("noDevicePermissions")
	ErrPortRequirement    = errors.New("failed to find port in required range (16384-32768)")
	ErrNoCandidates       = errors.New("no relay candidates gathered")

	// ICE server errors
	ErrURIInvalid         = errors.New("invalid URI")
	ErrSchemeUnsupported  = errors.New("scheme not supported")
	ErrServerListEmpty    = errors.New("ice server list is empty")
	ErrServerFetchFailed  = errors.New("failed to fetch ice server list")
	ErrServerDecodeFailed = errors.New("failed to decode ice server list")

	// Storage errors
	ErrRunNotFound     = errors.New("run not found")
	ErrSettingNotFound = errors.New("setting not found")
)

// Kind is the closed set of failure classifications a probe can report.
// Dimension handlers dispatch on Kind, never on message text.
type Kind string

const (
	KindGeneric           Kind = "generic"
	KindPermissionDenied  Kind = "permission_denied"
	KindDeviceMissing     Kind = "device_missing"
	KindTimeout           Kind = "timeout"
	KindPortRequirement   Kind = "port_requirement"
	KindICE               Kind = "ice"
	KindMedia             Kind = "media"
	KindDeviceEnumeration Kind = "device_enumeration"
	KindCancelled         Kind = "cancelled"
)

// ProbeError is the terminal failure of a single probe.
type ProbeError struct {
	Probe   string
	Kind    Kind
	Message string
	// Detail carries diagnostic payload produced before the failure
	// (partial bandwidth stats, the camera sweep, ...).
	Detail any
	Err    error
}

func (e *ProbeError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Probe != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Probe, msg, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// New creates a ProbeError of the given kind wrapping err.
func New(kind Kind, err error) *ProbeError {
	return &ProbeError{Kind: kind, Err: err}
}

// Newf creates a ProbeError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *ProbeError {
	return &ProbeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns a ProbeError of the given kind carrying detail.
func WithDetail(kind Kind, err error, detail any) *ProbeError {
	return &ProbeError{Kind: kind, Err: err, Detail: detail}
}

// KindOf classifies err. Errors that are not ProbeErrors map to
// KindCancelled for context errors and KindGeneric otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindGeneric
}

// DetailOf returns the diagnostic detail attached to err, if any.
func DetailOf(err error) any {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Detail
	}
	return nil
}

// Tag names the probe an error belongs to. The kind and detail of an
// existing ProbeError are kept; any other error becomes KindOf(err).
func Tag(probe string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		if pe.Probe == probe {
			return err
		}
		tagged := *pe
		tagged.Probe = probe
		return &tagged
	}
	return &ProbeError{Probe: probe, Kind: KindOf(err), Err: err}
}

// ServerError represents an ICE server related error
type ServerError struct {
	URL string
	Err error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("ice server '%s': %v", e.URL, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// DeviceError represents a capture device related error
type DeviceError struct {
	Path string
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Path, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
