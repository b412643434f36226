package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOutboxTask_MessageKey(t *testing.T) {
	id := uuid.MustParse("6f1c2d0e-4a8b-4c3d-9e2f-0123456789ab")

	assert.Equal(t, []byte("42"), (&OutboxTask{ID: id, Key: "42"}).MessageKey())
	assert.Equal(t, []byte(id.String()), (&OutboxTask{ID: id}).MessageKey())
}

func TestOutboxTask_Exhausted(t *testing.T) {
	tests := []struct {
		attempts int
		max      int
		want     bool
	}{
		{attempts: 0, max: 5, want: false},
		{attempts: 3, max: 5, want: false},
		{attempts: 4, max: 5, want: true},
		{attempts: 0, max: 1, want: true},
	}
	for _, tt := range tests {
		task := &OutboxTask{Attempts: tt.attempts}
		assert.Equal(t, tt.want, task.Exhausted(tt.max), "attempts=%d max=%d", tt.attempts, tt.max)
	}
}
