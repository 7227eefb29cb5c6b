package amtid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaitlab/amtid/internal/amti"
)

func TestSourceControlRejectsBadRequests(t *testing.T) {
	sc := NewSourceControl()
	var okay bool
	var dummy string

	err := sc.ConfigureSimPlatformSource(&SimPlatformSourceConfig{Rate: 777}, &okay)
	assert.Error(t, err, "777 Hz is not a supported rate")
	assert.False(t, okay)

	name := "qwerty"
	assert.Error(t, sc.Start(&name, &okay), "unknown source names should be rejected")
	assert.Error(t, sc.Stop(&dummy, &okay), "cannot stop with no active source")

	var diag amti.Diagnostics
	assert.Error(t, sc.ReadDiagnostics(&dummy, &diag), "no diagnostics with no active source")

	wc := WriteControlConfig{Request: "Start", Path: t.TempDir()}
	assert.Error(t, sc.WriteControl(&wc, &okay), "cannot control writing with no active source")
}

func TestSourceControlSimPlatformRun(t *testing.T) {
	sc := NewSourceControl()
	sc.simPlatforms.noPublish = true
	var okay bool
	var dummy string

	config := SimPlatformSourceConfig{Rate: 500, PollMilliseconds: 10}
	require.NoError(t, sc.ConfigureSimPlatformSource(&config, &okay))
	require.True(t, okay)

	name := "SimPlatformSource"
	require.NoError(t, sc.Start(&name, &okay))
	require.True(t, okay)
	waitFor(t, "source to start", func() bool {
		return sc.isSourceActive && sc.activeSource.Running()
	})

	assert.Error(t, sc.Start(&name, &okay), "a second source cannot start while one runs")
	assert.Error(t, sc.ConfigureSimPlatformSource(&config, &okay),
		"cannot reconfigure an active source")

	waitFor(t, "rows to arrive", func() bool { return sc.activeSource.RowsSeen() > 0 })

	var diag amti.Diagnostics
	require.NoError(t, sc.ReadDiagnostics(&dummy, &diag))
	assert.Len(t, diag.Devices, 1)
	assert.Equal(t, 500, diag.General.AcquisitionRate)

	wc := WriteControlConfig{Request: "Start", Path: t.TempDir(), Intention: "rpc test"}
	require.NoError(t, sc.WriteControl(&wc, &okay))
	require.True(t, okay)
	waitFor(t, "rows to be written", func() bool {
		return sc.activeSource.ComputeWritingState().RowsWritten > 0
	})
	require.NoError(t, sc.WriteControl(&WriteControlConfig{Request: "Stop"}, &okay))

	require.NoError(t, sc.SendAllStatus(&dummy, &okay))

	require.NoError(t, sc.Stop(&dummy, &okay))
	waitFor(t, "source to stop", func() bool { return !sc.isSourceActive })
}
