package rundb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the amtidactivity table. One row
// is written when the server starts and updated when it shuts down.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// CaptureMessage is the information required to make an entry in the
// capturetable for one capture run.
type CaptureMessage struct {
	ID         string
	ServerID   string
	RunCode    string
	Intention  string
	DataSource string
	Directory  string
	Nchannels  int
	Nrows      int
	SampleRate int
	Start      time.Time
	End        time.Time
}

// DriftMessage records the drift summary of a finished capture run.
type DriftMessage struct {
	CaptureID      string
	Observations   int
	MeanDeficit    float64
	DeficitPerSec  float64
	ElapsedSeconds float64
}
