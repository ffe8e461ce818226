package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownDocument  = errors.New("document not in index")
	ErrMissingUser      = errors.New("user not found")
	ErrNoLikes          = errors.New("user has no liked documents")
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyBatch       = errors.New("empty batch")
	ErrDiverged         = errors.New("training diverged")
)

// UnknownDocumentError reports a document id that is absent from the DocumentIndex.
// It means the index was built from a different document universe than the one
// being sampled and must stop training.
type UnknownDocumentError struct {
	ID EntityID
}

func (e *UnknownDocumentError) Error() string {
	return fmt.Sprintf("unknown document %q", e.ID)
}

func (e *UnknownDocumentError) Is(target error) bool { return target == ErrUnknownDocument }

// MissingUserError reports a user id that resolved to no record.
type MissingUserError struct {
	ID EntityID
}

func (e *MissingUserError) Error() string {
	return fmt.Sprintf("user %q resolved to no record", e.ID)
}

func (e *MissingUserError) Is(target error) bool { return target == ErrMissingUser }
