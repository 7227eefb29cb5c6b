package amtid

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gaitlab/amtid/internal/amti"
)

// SourceControl is the sub-server that handles configuration and operation
// of the Amtid data sources.
type SourceControl struct {
	amtiSource   *AMTISource
	simPlatforms *SimPlatformSource
	activeSource DataSource

	isSourceActive  bool
	stoppedByClient bool
	status          ServerStatus
	clientUpdates   chan<- ClientUpdate
	queuedRequests  chan func()
}

// NewSourceControl creates a SourceControl object with correctly initialized
// contents.
func NewSourceControl() *SourceControl {
	sc := new(SourceControl)
	sc.amtiSource = NewAMTISource()
	sc.simPlatforms = NewSimPlatformSource()
	sc.queuedRequests = make(chan func())
	sc.clientUpdates = clientMessageChan
	sc.status.Since = time.Now()
	return sc
}

// ServerStatus is the status that SourceControl reports to clients.
type ServerStatus struct {
	Running    bool
	SourceName string
	Nchannels  int
	SampleRate int
	RowsSeen   int64
	Gaps       int64
	Writing    bool
	Since      time.Time
}

// ConfigureAMTISource configures the hardware force-platform source.
func (s *SourceControl) ConfigureAMTISource(args *AMTISourceConfig, reply *bool) error {
	log.Printf("ConfigureAMTISource: rate=%d Hz, device=%d, dll=%q\n", args.Rate, args.DeviceIndex, args.DLLDir)
	err := s.amtiSource.Configure(args)
	s.clientUpdates <- ClientUpdate{"AMTI", args}
	*reply = (err == nil)
	log.Printf("Result is okay=%t\n", *reply)
	return err
}

// ConfigureSimPlatformSource configures the source of simulated platforms.
func (s *SourceControl) ConfigureSimPlatformSource(args *SimPlatformSourceConfig, reply *bool) error {
	log.Printf("ConfigureSimPlatformSource: %d platforms, rate=%d Hz\n", args.Ndevices, args.Rate)
	err := s.simPlatforms.Configure(args)
	s.clientUpdates <- ClientUpdate{"SIMPLATFORM", args}
	*reply = (err == nil)
	log.Printf("Result is okay=%t\n", *reply)
	return err
}

// Start will identify the source given by sourceName, then Sample and start it.
func (s *SourceControl) Start(sourceName *string, reply *bool) error {
	if s.isSourceActive {
		return fmt.Errorf("already have active source, do not start")
	}
	name := strings.ToUpper(*sourceName)
	switch name {
	case "AMTISOURCE":
		s.activeSource = DataSource(s.amtiSource)
		s.status.SourceName = "AMTI"

	case "SIMPLATFORMSOURCE":
		s.activeSource = DataSource(s.simPlatforms)
		s.status.SourceName = "SimPlatforms"

	default:
		return fmt.Errorf("data source %q is not recognized", *sourceName)
	}

	log.Printf("Starting data source named %s\n", *sourceName)
	s.isSourceActive = true
	s.stoppedByClient = false
	go func() {
		if err := Start(s.activeSource, s.queuedRequests); err != nil {
			s.isSourceActive = false
			ProblemLogger.Printf("source %s failed to start: %s", name, err)
			s.clientUpdates <- ClientUpdate{"SOURCEERROR", struct{ Message string }{err.Error()}}
			s.broadcastStatus()
			return
		}
		s.handleNewSource()
		s.activeSource.RunDoneWait()
		restart := !s.stoppedByClient && s.activeSource.ShouldAutoRestart()
		s.handleStoppedSource()
		if restart {
			log.Printf("attempting to auto-restart source %s\n", name)
			var dummy bool
			if err := s.Start(sourceName, &dummy); err != nil {
				ProblemLogger.Printf("auto-restart of %s failed: %s", name, err)
			}
		}
	}()
	*reply = true
	return nil
}

// Stop stops the running data source, if any.
func (s *SourceControl) Stop(dummy *string, reply *bool) error {
	if !s.isSourceActive {
		return fmt.Errorf("no source is active")
	}
	log.Printf("Stopping data source\n")
	s.stoppedByClient = true
	if err := s.activeSource.Stop(); err != nil {
		return err
	}
	*reply = true
	return nil
}

func (s *SourceControl) handleNewSource() {
	s.status.Running = true
	s.status.Nchannels = s.activeSource.Nchan()
	s.status.SampleRate = s.activeSource.SampleRate()
	s.clientUpdates <- ClientUpdate{"CHANNELNAMES", s.activeSource.ChannelNames()}
	s.broadcastStatus()
}

func (s *SourceControl) handleStoppedSource() {
	s.isSourceActive = false
	s.status.Running = false
	s.status.SourceName = ""
	s.status.Nchannels = 0
	s.status.SampleRate = 0
	s.status.Writing = false
	s.broadcastStatus()
}

func (s *SourceControl) broadcastStatus() {
	if s.isSourceActive && s.activeSource != nil {
		s.status.RowsSeen = s.activeSource.RowsSeen()
		s.status.Gaps = s.activeSource.GapsSeen()
		s.status.Writing = s.activeSource.WritingIsActive()
	}
	sendClientUpdate(ClientUpdate{"STATUS", s.status})
}

// runLaterIfActive queues the closure onto the active source's CoreLoop, so
// that it cannot race against data processing, and waits for its result.
func (s *SourceControl) runLaterIfActive(f func() error) error {
	if !s.isSourceActive || !s.activeSource.Running() {
		return fmt.Errorf("no source is active")
	}
	errs := make(chan error)
	s.queuedRequests <- func() { errs <- f() }
	return <-errs
}

// WriteControl starts, stops, pauses, or unpauses capture-file writing.
func (s *SourceControl) WriteControl(config *WriteControlConfig, reply *bool) error {
	err := s.runLaterIfActive(func() error {
		return s.activeSource.WriteControl(config)
	})
	*reply = (err == nil)
	s.broadcastStatus()
	return err
}

// ReadDiagnostics replies with the amplifier/platform snapshot taken when
// the active source's session was brought up.
func (s *SourceControl) ReadDiagnostics(dummy *string, reply *amti.Diagnostics) error {
	if !s.isSourceActive {
		return fmt.Errorf("no source is active")
	}
	diag := s.activeSource.Diagnostics()
	if diag == nil {
		return fmt.Errorf("active source has no diagnostics snapshot")
	}
	*reply = *diag
	return nil
}

// SendAllStatus causes a broadcast to clients containing all broadcastable
// status info.
func (s *SourceControl) SendAllStatus(dummy *string, reply *bool) error {
	s.broadcastStatus()
	s.clientUpdates <- ClientUpdate{"SENDALL", 0}
	*reply = true
	return nil
}

// loadStoredConfigs restores source configurations persisted by the client
// updater in the viper config file.
func (s *SourceControl) loadStoredConfigs() {
	var okay bool
	var ac AMTISourceConfig
	if err := viper.UnmarshalKey("amti", &ac); err == nil && ac.Rate > 0 {
		s.ConfigureAMTISource(&ac, &okay)
	}
	var pc SimPlatformSourceConfig
	if err := viper.UnmarshalKey("simplatform", &pc); err == nil && pc.Rate > 0 {
		s.ConfigureSimPlatformSource(&pc, &okay)
	}
}

// RunRPCServer sets up and runs a permanent JSON-RPC server. If block is
// true, it serves connections on the calling goroutine forever.
func RunRPCServer(portrpc int, block bool) {
	sourceControl := NewSourceControl()

	log.Printf("Amtid is using config file %s\n", viper.ConfigFileUsed())
	sourceControl.loadStoredConfigs()

	// Broadcast the status periodically so clients can see row counters
	// move and notice a stopped server.
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			sourceControl.broadcastStatus()
			sendClientUpdate(ClientUpdate{"ALIVE", Build})
		}
	}()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	if err := server.Register(sourceControl); err != nil {
		log.Fatal("register error:", err)
	}
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		log.Fatal("listen error:", err)
	}
	serve := func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Println("accept error: " + err.Error())
				return
			}
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
	if block {
		serve()
	} else {
		go serve()
	}
}
