package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type countingVerifier struct {
	calls     atomic.Int32
	lastOwner atomic.Value
}

func (v *countingVerifier) VerifyAll(ctx context.Context, ownerID string) ([]models.VerifyResult, error) {
	v.calls.Add(1)
	v.lastOwner.Store(ownerID)
	return []models.VerifyResult{{AccountID: "a1", Valid: true}}, nil
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestScheduler_RunsSweepOnSpec(t *testing.T) {
	v := &countingVerifier{}
	s := New(v, "@every 100ms", testLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for v.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweep never ran")
		case <-time.After(20 * time.Millisecond):
		}
	}
	assert.Equal(t, "", v.lastOwner.Load().(string), "scheduled sweep covers all owners")
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := New(&countingVerifier{}, "not a cron spec", testLogger())
	assert.Error(t, s.Start())
}

func TestScheduler_StopIsIdempotentlySafe(t *testing.T) {
	v := &countingVerifier{}
	s := New(v, "@every 1h", testLogger())
	require.NoError(t, s.Start())
	s.Stop()
}
