// Package repository holds the MySQL-backed stores.  Each store returns the
// sentinel errors below so handlers can pick a status code with errors.Is.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is the root of every "row does not exist" error.
var ErrNotFound = errors.New("not found")

var (
	ErrProfileNotFound      = fmt.Errorf("profile %w", ErrNotFound)
	ErrTokenNotFound        = fmt.Errorf("refresh token %w", ErrNotFound)
	ErrOAuthTokenNotFound   = fmt.Errorf("oauth token %w", ErrNotFound)
	ErrGroupNotFound        = fmt.Errorf("group %w", ErrNotFound)
	ErrMemberNotFound       = fmt.Errorf("member %w", ErrNotFound)
	ErrAdminNotFound        = fmt.Errorf("admin %w", ErrNotFound)
	ErrContributionNotFound = fmt.Errorf("contribution %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)
)

// ErrConflict is returned when a write collides with existing state, such
// as a unique key.  Handlers translate it into 409 unless a more specific
// error applies.
var ErrConflict = errors.New("conflict")

var (
	ErrProfileExists = fmt.Errorf("profile already exists: %w", ErrConflict)
	ErrAlreadyMember = fmt.Errorf("user is already a member of this group: %w", ErrConflict)
	ErrAlreadyAdmin  = fmt.Errorf("user is already an admin of this group: %w", ErrConflict)
)

// ErrTxHashUsed means the transaction hash (or the contract it created) is
// already recorded against another row.
var ErrTxHashUsed = fmt.Errorf("transaction has already been recorded: %w", ErrConflict)

// ErrMemberHasPayments blocks removing a member who has contributions.
var ErrMemberHasPayments = fmt.Errorf("member has contributions: %w", ErrConflict)

// ErrGroupFull is returned when adding a member would exceed max_members.
var ErrGroupFull = errors.New("group has reached maximum capacity")

// ErrForbidden is returned when the caller may not act on a resource.
var ErrForbidden = errors.New("forbidden")
