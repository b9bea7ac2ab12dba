package mirror

import "errors"

var (
	ErrReadOnly       = errors.New("mirror: sequence is read-only; write to the underlying remote node instead")
	ErrTagFieldFrozen = errors.New("mirror: tag field cannot change after the first mirror is created")
	ErrEmptyTagField  = errors.New("mirror: tag field must not be empty")
)
