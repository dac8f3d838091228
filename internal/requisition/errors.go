package requisition

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

var (
	// ErrNotFound indicates the requisition does not exist for the tenant.
	ErrNotFound = fmt.Errorf("requisition: %w", shared.ErrNotFound)
	// ErrVersionConflict is returned when a compare-and-set write lost a race.
	ErrVersionConflict = fmt.Errorf("requisition: version changed: %w", shared.ErrConflict)
	// ErrNotEditable rejects edits outside DRAFT and REJECTED.
	ErrNotEditable = shared.NewValidationError("status", "not_editable", "requisition can only be edited while DRAFT or REJECTED")
	// ErrNotOwner rejects owner-only operations by other users.
	ErrNotOwner = fmt.Errorf("requisition: only the requester may do this: %w", shared.ErrForbidden)
	// ErrOverConversion rejects converting more than the remaining quantity.
	ErrOverConversion = fmt.Errorf("requisition: conversion exceeds remaining quantity: %w", shared.ErrConflict)
	// ErrAccounting marks a broken line accounting invariant.
	ErrAccounting = errors.New("requisition: line accounting invariant violated")
	// ErrIllegalStatus rejects a status change absent from the transition table.
	ErrIllegalStatus = shared.NewValidationError("status", "illegal_transition", "status change not allowed")
)
