// internal/workers/substitution/timer-sweep/handler_test.go
package timersweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/handoff"
	"substitution-engine/pkg/registry"
)

// ==========================
// Mock Implementations
// ==========================

type MockSweeper struct {
	RunFunc func(ctx context.Context) (*handoff.SweepResult, error)
}

func (m *MockSweeper) RunExpiredTimerSweep(ctx context.Context) (*handoff.SweepResult, error) {
	return m.RunFunc(ctx)
}

// ==========================
// Test Helper Functions
// ==========================

var sweptAt = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func createTestHandler(t *testing.T, sweeper Sweeper) *Handler {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	activity, ok := reg.ByTaskType(TaskType)
	require.True(t, ok)
	return NewHandler(LoadConfig(), sweeper, activity, logger.NewTestLogger(t))
}

// ==========================
// Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	h := createTestHandler(t, &MockSweeper{RunFunc: func(context.Context) (*handoff.SweepResult, error) {
		return &handoff.SweepResult{ProcessedCount: 2, Promoted: 1, Reopened: 1, SweptAt: sweptAt}, nil
	}})

	out, err := h.Execute(context.Background(), &Input{RequestID: "tick-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.ProcessedCount)
	assert.Equal(t, 1, out.Promoted)
	assert.Equal(t, 1, out.Reopened)
	assert.Equal(t, "2026-03-10T09:00:00Z", out.SweptAt)
}

func TestHandler_Execute_InterruptedSweepKeepsPartialCount(t *testing.T) {
	h := createTestHandler(t, &MockSweeper{RunFunc: func(context.Context) (*handoff.SweepResult, error) {
		return &handoff.SweepResult{ProcessedCount: 1, SweptAt: sweptAt}, context.DeadlineExceeded
	}})

	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ProcessedCount)
}

func TestHandler_Execute_StoreFailure(t *testing.T) {
	storeErr := apperrors.NewPersistenceError("find postings", errors.New("connection refused"))
	h := createTestHandler(t, &MockSweeper{RunFunc: func(context.Context) (*handoff.SweepResult, error) {
		return nil, storeErr
	}})

	_, err := h.Execute(context.Background(), &Input{})
	assert.True(t, apperrors.IsPersistence(err))
}

func TestHandler_ParseInput(t *testing.T) {
	h := createTestHandler(t, &MockSweeper{})

	tests := []struct {
		name      string
		variables string
		requestID string
		wantErr   bool
	}{
		{"empty variables", "", "", false},
		{"with request id", `{"requestId":"tick-9","unrelated":true}`, "tick-9", false},
		{"malformed json", `{"requestId":`, "", true},
		{"request id of wrong type", `{"requestId":42}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := h.parseInput(tt.variables)
			if tt.wantErr {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.requestID, input.RequestID)
		})
	}
}
