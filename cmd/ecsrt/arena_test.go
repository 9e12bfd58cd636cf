package main

import (
	"testing"

	"github.com/l1jgo/ecsrt/internal/config"
	"github.com/l1jgo/ecsrt/internal/core/engine"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestArenaRaidDestroysSquad(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.LockOSThread = false
	eng, err := engine.Init(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	a, err := buildArena(eng)
	require.NoError(t, err)
	require.Len(t, eng.WorkingState().Entities(), squads*(squadSize+1))

	require.NoError(t, eng.Start())
	for i := 0; i < raidInterval; i++ {
		require.NoError(t, eng.Frame())
	}
	require.Zero(t, a.deaths.Load())

	// the raid fires on the next frame and the flush takes the whole squad
	for i := 0; i < 4; i++ {
		require.NoError(t, eng.Frame())
	}
	require.EqualValues(t, 1, a.deaths.Load())
	require.EqualValues(t, squadSize+1, a.released.Load())
	require.Len(t, eng.WorkingState().Entities(), (squads-1)*(squadSize+1))
	require.EqualValues(t, eng.Frames(), a.published.Load())

	a.report(eng.Logger())
	require.NoError(t, eng.Stop())
}
