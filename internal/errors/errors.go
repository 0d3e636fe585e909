package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrRunNotFound reports a missing de-enrollment run record.
type ErrRunNotFound struct {
	RunID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("de-enrollment run %s not found", e.RunID)
}

func NewRunNotFound(id string) error {
	return &ErrRunNotFound{RunID: id}
}

// ErrDuplicateCampaignName is the conflict class for a campaign name that
// already exists for a tenant. It covers both the pre-insert check and the
// unique-constraint race between two simultaneous creations.
type ErrDuplicateCampaignName struct {
	TenantID string
	Name     string
}

func (e *ErrDuplicateCampaignName) Error() string {
	return fmt.Sprintf("campaign name %q already exists for tenant %s", e.Name, e.TenantID)
}

func NewDuplicateCampaignName(tenantID, name string) error {
	return &ErrDuplicateCampaignName{TenantID: tenantID, Name: name}
}

// IsConflict reports whether err is the duplicate-name conflict class.
func IsConflict(err error) bool {
	var dup *ErrDuplicateCampaignName
	return errors.As(err, &dup)
}

// IsNotFound reports whether err is one of the missing-record classes.
func IsNotFound(err error) bool {
	var campaign *ErrCampaignNotFound
	var run *ErrRunNotFound
	return errors.As(err, &campaign) || errors.As(err, &run)
}

// ValidationError rejects malformed input before any transaction opens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
