package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"devlaunch/internal/negotiate"
	"devlaunch/internal/storage"
)

func TestSeed(t *testing.T) {
	mgr, err := storage.NewManager(t.TempDir(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer mgr.Close()

	n, err := seed(mgr, time.Now().UTC(), 6)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	total, err := mgr.CountRuns()
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	runs, _, err := mgr.ListRuns(storage.RunFilter{Result: string(negotiate.PhaseExhausted)})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Attempts, 3)
	assert.Equal(t, 8083, runs[0].FinalPort)
}
