package cycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldpj/backend/internal/config"
	"github.com/ldpj/backend/internal/poller"
)

func testCycleConfig() config.CycleConfig {
	return config.CycleConfig{
		StartPressureDrop:      50,
		EndPressureRise:        50,
		MinCollectionPoints:    3,
		MaxCollectionPoints:    10,
		MaxCollectionDurationS: 45,
		CollectionTimeoutS:     60,
	}
}

func frameAt(ts, pressure float64) poller.CabinFrame {
	return poller.CabinFrame{Timestamp: ts, Pressure: pressure}
}

func TestStartOnPressureDrop(t *testing.T) {
	fsm := NewCabinFSM(0, testCycleConfig())

	// First frame only seeds the baseline.
	assert.Equal(t, StateIdle, fsm.Update(frameAt(0.0, 1000)))

	// 60 mbar drop exceeds the 50 mbar start threshold.
	assert.Equal(t, StateCollecting, fsm.Update(frameAt(0.1, 940)))
	assert.Equal(t, 1, fsm.PointCount())
	assert.Equal(t, 0.1, fsm.StartTime())
}

func TestNoStartBelowThreshold(t *testing.T) {
	fsm := NewCabinFSM(0, testCycleConfig())

	fsm.Update(frameAt(0.0, 1000))
	assert.Equal(t, StateIdle, fsm.Update(frameAt(0.1, 960))) // drop 40 < 50

	// Baseline advanced: the next comparison is against 960.
	assert.Equal(t, StateCollecting, fsm.Update(frameAt(0.2, 905)))
}

func TestEndOnPressureRise(t *testing.T) {
	fsm := NewCabinFSM(0, testCycleConfig())

	fsm.Update(frameAt(0.0, 1000))
	fsm.Update(frameAt(0.1, 940))
	fsm.Update(frameAt(0.2, 900))
	fsm.Update(frameAt(0.3, 890))
	require.Equal(t, StateCollecting, fsm.State())

	// 4th collected point, rise of 70 over the previous sample, and
	// min_collection_points already satisfied.
	assert.Equal(t, StateProcessing, fsm.Update(frameAt(0.4, 960)))
	assert.Equal(t, 4, fsm.PointCount())
}

func TestRiseIgnoredBeforeMinPoints(t *testing.T) {
	cfg := testCycleConfig()
	cfg.MinCollectionPoints = 5
	fsm := NewCabinFSM(0, cfg)

	fsm.Update(frameAt(0.0, 1000))
	fsm.Update(frameAt(0.1, 940))

	// Big rise with only 2 points collected stays in COLLECTING.
	assert.Equal(t, StateCollecting, fsm.Update(frameAt(0.2, 1000)))
}

func TestEndOnMaxPoints(t *testing.T) {
	fsm := NewCabinFSM(0, testCycleConfig())

	fsm.Update(frameAt(0.0, 1000))
	fsm.Update(frameAt(0.1, 940))
	for i := 0; i < 20 && fsm.State() == StateCollecting; i++ {
		fsm.Update(frameAt(0.2+float64(i)*0.1, 500))
	}

	assert.Equal(t, StateProcessing, fsm.State())
	assert.Equal(t, 10, fsm.PointCount())
}

func TestEndOnMaxDuration(t *testing.T) {
	fsm := NewCabinFSM(0, testCycleConfig())

	fsm.Update(frameAt(0.0, 1000))
	fsm.Update(frameAt(0.1, 940))
	fsm.Update(frameAt(1.0, 935))

	// Steady pressure, but the cycle is past max_collection_duration_s.
	assert.Equal(t, StateProcessing, fsm.Update(frameAt(46.0, 930)))
}

func TestFaultOnTimeout(t *testing.T) {
	cfg := testCycleConfig()
	cfg.MaxCollectionDurationS = 1000 // keep the duration exit out of the way
	fsm := NewCabinFSM(0, cfg)

	fsm.Update(frameAt(0.0, 1000))
	fsm.Update(frameAt(0.1, 940))
	assert.Equal(t, StateFault, fsm.Update(frameAt(61.0, 935)))

	fsm.ClearFault()
	assert.Equal(t, StateIdle, fsm.State())
	assert.Equal(t, 0, fsm.PointCount())
}

func TestHarvestDoesNotChangeState(t *testing.T) {
	fsm := NewCabinFSM(3, testCycleConfig())

	fsm.Update(frameAt(0.0, 1000))
	fsm.Update(frameAt(0.1, 940))
	fsm.Update(frameAt(0.2, 900))
	fsm.Update(frameAt(0.3, 890))
	fsm.Update(frameAt(0.4, 960))
	require.Equal(t, StateProcessing, fsm.State())

	data := fsm.Harvest()
	assert.Equal(t, StateProcessing, fsm.State())
	assert.Equal(t, []float64{940, 900, 890, 960}, data.Pressures)
	assert.Len(t, data.Timestamps, 4)
	assert.Len(t, data.Angles, 4)
	assert.Equal(t, 0.1, data.StartTime)

	fsm.Reset()
	assert.Equal(t, StateIdle, fsm.State())
	assert.Equal(t, 0, fsm.PointCount())
}

func TestProcessingIgnoresFurtherFrames(t *testing.T) {
	fsm := NewCabinFSM(0, testCycleConfig())

	fsm.Update(frameAt(0.0, 1000))
	fsm.Update(frameAt(0.1, 940))
	fsm.Update(frameAt(0.2, 900))
	fsm.Update(frameAt(0.3, 890))
	fsm.Update(frameAt(0.4, 960))
	require.Equal(t, StateProcessing, fsm.State())

	points := fsm.PointCount()
	fsm.Update(frameAt(0.5, 970))
	assert.Equal(t, StateProcessing, fsm.State())
	assert.Equal(t, points, fsm.PointCount())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "COLLECTING", StateCollecting.String())
	assert.Equal(t, "PROCESSING", StateProcessing.String())
	assert.Equal(t, "FAULT", StateFault.String())
}
