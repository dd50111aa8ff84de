package mediastore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mediastore/blobstore"
	"github.com/hupe1980/mediastore/hash"
	"github.com/hupe1980/mediastore/ingest"
	"github.com/hupe1980/mediastore/store"
)

var (
	// ErrNotFound is returned when no record or blob exists for a lookup.
	ErrNotFound = errors.New("media not found")

	// ErrClosed is returned when operating on a closed MediaStore.
	ErrClosed = errors.New("media store is closed")
)

// UndecodableError indicates content whose bytes could not be decoded
// for hashing. Retrying the same bytes cannot succeed.
//
// The underlying decode error can be accessed via errors.Unwrap.
type UndecodableError struct {
	MimeType string
	cause    error
}

func (e *UndecodableError) Error() string {
	return fmt.Sprintf("undecodable content (%s)", e.MimeType)
}

func (e *UndecodableError) Unwrap() error { return e.cause }

// translateError unifies lower-layer errors into the package's surface.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, store.ErrClosed) || errors.Is(err, ingest.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}

// translateIngestError additionally wraps hashing failures with the
// submitted mime type.
func translateIngestError(err error, mimeType string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, hash.ErrUndecodable) {
		return &UndecodableError{MimeType: mimeType, cause: err}
	}
	return translateError(err)
}
