package resource

import "errors"

var (
	ErrUnknownType     = errors.New("resource: type not registered")
	ErrTypeRegistered  = errors.New("resource: type already registered")
	ErrInvalidHandle   = errors.New("resource: invalid handle")
	ErrNoLoader        = errors.New("resource: type has no loader")
	ErrNotCreatable    = errors.New("resource: type cannot be created procedurally")
	ErrAlreadyExists   = errors.New("resource: resource already exists")
	ErrNotFound        = errors.New("resource: data not found")
	ErrContentMissing  = errors.New("resource: content reported missing")
	ErrBadCollection   = errors.New("resource: malformed collection")
	ErrManagerShutdown = errors.New("resource: manager shut down")

	errStalePass = errors.New("resource: quality pass on unloaded content")
)
