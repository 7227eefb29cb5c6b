package amtid

import (
	"fmt"

	"github.com/gaitlab/amtid/internal/amti"
)

// SimPlatformSourceConfig holds the arguments needed to configure a
// SimPlatformSource by RPC.
type SimPlatformSourceConfig struct {
	Rate              int
	Ndevices          int
	Amplitude         float64
	PollMilliseconds  int
	ShouldAutoRestart bool
}

// SimPlatformSource is a DataSource that synthesizes force-platform rows
// with no hardware attached. It runs the identical session handshake and
// drain loop as AMTISource, against the amti.NoHardware simulator.
type SimPlatformSource struct {
	config SimPlatformSourceConfig
	platformSource
}

// NewSimPlatformSource creates a SimPlatformSource.
func NewSimPlatformSource() *SimPlatformSource {
	source := new(SimPlatformSource)
	source.name = "SimPlatforms"
	source.openDevice = func() (amti.Interfacer, error) {
		sim := amti.NewNoHardware(source.config.Ndevices)
		if source.config.Amplitude > 0 {
			sim.SetAmplitude(source.config.Amplitude)
		}
		return sim, nil
	}
	return source
}

// Configure stores the configuration for the next Start. It errors if the
// source is currently active.
func (sps *SimPlatformSource) Configure(config *SimPlatformSourceConfig) error {
	sps.sourceStateLock.Lock()
	defer sps.sourceStateLock.Unlock()
	if sps.sourceState != Inactive {
		return fmt.Errorf("cannot configure a SimPlatformSource that is %v, not Inactive", sps.sourceState)
	}
	if _, err := amti.CheckRate(config.Rate); err != nil {
		return err
	}
	if config.Ndevices <= 0 {
		config.Ndevices = 1
	}
	sps.config = *config
	sps.sessionConfig = amti.SessionConfig{Rate: config.Rate}
	sps.pollPeriod = pollPeriod(config.PollMilliseconds)
	sps.shouldAutoRestart = config.ShouldAutoRestart
	return nil
}
