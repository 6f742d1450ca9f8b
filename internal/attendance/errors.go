package attendance

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/media"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

// Errors returned by the attendance operations. The lower-layer sentinels are
// re-exported so callers can branch on a single set.
var (
	ErrInputNotFound    = media.ErrInputNotFound
	ErrDecode           = media.ErrDecode
	ErrSourceUnreadable = media.ErrSourceUnreadable
	ErrStoreUnavailable = database.ErrStoreUnavailable

	ErrNoFaceDetected = errors.New("no face detected")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateFace  = errors.New("face already registered to another staff member")
	ErrStaffNotFound  = errors.New("staff not found")
)

// Kind classifies an error for the CLI and HTTP layers.
type Kind string

const (
	KindNone             Kind = ""
	KindInputNotFound    Kind = "input_not_found"
	KindDecode           Kind = "decode_error"
	KindSourceUnreadable Kind = "source_unreadable"
	KindNoFaceDetected   Kind = "no_face_detected"
	KindStoreUnavailable Kind = "store_unavailable"
	KindInvalidInput     Kind = "invalid_input"
	KindDuplicateFace    Kind = "duplicate_face"
	KindStaffNotFound    Kind = "staff_not_found"
	KindCanceled         Kind = "canceled"
	KindInternal         Kind = "internal"
)

// KindOf returns the kind of err, KindNone for nil and KindInternal for
// anything unclassified.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInputNotFound), errors.Is(err, storage.ErrNotFound):
		return KindInputNotFound
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrSourceUnreadable):
		return KindSourceUnreadable
	case errors.Is(err, ErrNoFaceDetected):
		return KindNoFaceDetected
	case errors.Is(err, ErrDuplicateFace):
		return KindDuplicateFace
	case errors.Is(err, ErrStaffNotFound):
		return KindStaffNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, storage.ErrPathEscape),
		errors.Is(err, storage.ErrUnknownCategory), errors.Is(err, database.ErrInvalidRecord):
		return KindInvalidInput
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
