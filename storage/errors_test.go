package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrStorageClosed, true},
		{fmt.Errorf("upserting doc_para_0_0: %w", ErrInvalidQuery), true},
		{fmt.Errorf("%w: bad column", ErrInvalidIdentifier), true},
		{fmt.Errorf("%w: conflict", ErrTransactionFailed), false},
		{ErrNotFound, false},
		{context.DeadlineExceeded, false},
		{errors.New("connection reset"), false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPermanent(tt.err), "%v", tt.err)
	}
}
