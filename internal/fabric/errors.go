package fabric

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Service error codes the orchestration logic cares about.
const (
	CodePoolExists   = "PoolExists"
	CodeJobExists    = "JobExists"
	CodeTaskExists   = "TaskExists"
	CodePoolNotFound = "PoolNotFound"
	CodeJobNotFound  = "JobNotFound"
)

// Detail is one structured key/value attached to a service error.
type Detail struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error is an error reported by the execution fabric.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Details    []Detail
}

// Error formats the status, code and message.
func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("fabric error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fabric error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// Describe renders the message followed by every structured detail, one per line.
func (e *Error) Describe() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, d := range e.Details {
		fmt.Fprintf(&b, "\n%s:\t%s", d.Key, d.Value)
	}
	return b.String()
}

// IsAlreadyExists reports whether err is a fabric "already exists" error.
// Only the service codes count: other 409 conflicts such as PoolBeingDeleted
// are not.
func IsAlreadyExists(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Code {
	case CodePoolExists, CodeJobExists, CodeTaskExists:
		return true
	}
	return false
}

// IsNotFound reports whether err is a fabric "not found" error.
func IsNotFound(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.StatusCode == http.StatusNotFound || fe.Code == CodePoolNotFound || fe.Code == CodeJobNotFound
}

// IsTransient reports whether err is worth retrying: throttling or a server
// side failure.
func IsTransient(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500
}
