package attendance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"input not found", fmt.Errorf("x: %w", ErrInputNotFound), KindInputNotFound},
		{"storage not found", storage.ErrNotFound, KindInputNotFound},
		{"decode", ErrDecode, KindDecode},
		{"source unreadable", ErrSourceUnreadable, KindSourceUnreadable},
		{"no face", ErrNoFaceDetected, KindNoFaceDetected},
		{"duplicate", ErrDuplicateFace, KindDuplicateFace},
		{"staff not found", ErrStaffNotFound, KindStaffNotFound},
		{"path escape", storage.ErrPathEscape, KindInvalidInput},
		{"invalid record", database.ErrInvalidRecord, KindInvalidInput},
		{"store", database.Unavailable("upsert", errors.New("disk full")), KindStoreUnavailable},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", context.DeadlineExceeded, KindCanceled},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
