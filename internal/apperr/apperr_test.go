package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestFromStoreClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"missing row", gorm.ErrRecordNotFound, KindNotFound, false},
		{"wrapped missing row", fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound), KindNotFound, false},
		{"duplicate", gorm.ErrDuplicatedKey, KindConflict, false},
		{"driver failure", errors.New("database is locked"), KindTransient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStore("op", tt.err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.retryable, Retryable(err))
		})
	}
}

func TestFromStoreKeepsClassifiedErrors(t *testing.T) {
	orig := Forbidden("auth", "disabled")
	assert.Same(t, orig, FromStore("outer", orig))
	assert.Nil(t, FromStore("op", nil))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("expert_advisor.get", "Expert Advisor not found"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "Expert Advisor not found", MessageOf(err))
	assert.Equal(t, "An unexpected error occurred", MessageOf(errors.New("boom")))
	assert.False(t, Retryable(errors.New("boom")))
}
