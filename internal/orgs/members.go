package orgs

import "errors"

var (
	// ErrMembershipNotFound is returned when no membership exists with the
	// given ID in the given organization.
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrLastAdmin is returned when a role change or removal would leave the
	// organization with zero admins.
	ErrLastAdmin = errors.New("organization must keep at least one admin")
)
