package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BurstIsTenPercent(t *testing.T) {
	assert.Equal(t, 6, New(60).Burst())
	assert.Equal(t, 1, New(5).Burst(), "burst never drops below one")
}

func TestAllow_ExhaustsBurst(t *testing.T) {
	l := NewWithBurst(0.001, 2)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestWait_HonoursContext(t *testing.T) {
	l := NewWithBurst(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}
