package amtid

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// RowBatchHeader is the JSON first frame of every published batch. The
// second frame holds the rows as little-endian float64, row-major; the
// third holds one int64 Unix-microsecond timestamp per row.
type RowBatchHeader struct {
	Nrows          int
	Nchan          int
	SampleRate     int
	FirstTimestamp int64 // Unix microseconds; 0 for an empty batch
}

// RowPublisher publishes sample rows on a ZMQ PUB socket. ZMQ sockets are
// not safe for concurrent use, so one goroutine owns the socket and batches
// reach it over a channel.
type RowPublisher struct {
	batches    chan *RowBatch
	abort      chan struct{}
	nchan      int
	sampleRate int
}

// newRowPublisher binds a PUB socket on the given port and starts the
// publishing goroutine.
func newRowPublisher(portrows int) (*RowPublisher, error) {
	hostname := fmt.Sprintf("tcp://*:%d", portrows)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err = pubSocket.Bind(hostname); err != nil {
		pubSocket.Close()
		return nil, err
	}
	p := &RowPublisher{
		batches: make(chan *RowBatch, 10),
		abort:   make(chan struct{}),
	}
	go p.run(pubSocket)
	return p, nil
}

// Configure records the batch geometry published in every header.
func (p *RowPublisher) Configure(nchan, sampleRate int) {
	p.nchan = nchan
	p.sampleRate = sampleRate
}

// Publish queues one batch for the publishing goroutine, dropping it if
// the queue is full rather than stalling acquisition.
func (p *RowPublisher) Publish(batch *RowBatch) {
	select {
	case p.batches <- batch:
	case <-p.abort:
	default:
		ProblemLogger.Printf("publisher queue full; dropping a batch of %d rows", len(batch.Rows))
	}
}

// Close shuts down the publishing goroutine and its socket.
func (p *RowPublisher) Close() {
	close(p.abort)
}

func (p *RowPublisher) run(pubSocket *zmq.Socket) {
	defer pubSocket.Close()
	for {
		select {
		case <-p.abort:
			return
		case batch := <-p.batches:
			if err := p.sendBatch(pubSocket, batch); err != nil {
				ProblemLogger.Printf("could not publish a batch: %s", err)
			}
		}
	}
}

func (p *RowPublisher) sendBatch(pubSocket *zmq.Socket, batch *RowBatch) error {
	header := RowBatchHeader{
		Nrows:      len(batch.Rows),
		Nchan:      p.nchan,
		SampleRate: p.sampleRate,
	}
	if len(batch.Timestamps) > 0 {
		header.FirstTimestamp = batch.Timestamps[0].UnixMicro()
	}
	hjson, err := json.Marshal(header)
	if err != nil {
		return err
	}
	_, err = pubSocket.SendMessage(hjson, rowPayload(batch.Rows), stampPayload(batch.Timestamps))
	return err
}

func rowPayload(rows [][]float64) []byte {
	ncol := 0
	if len(rows) > 0 {
		ncol = len(rows[0])
	}
	raw := make([]byte, 0, len(rows)*ncol*8)
	for _, row := range rows {
		for _, v := range row {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
		}
	}
	return raw
}

func stampPayload(stamps []time.Time) []byte {
	raw := make([]byte, 0, len(stamps)*8)
	for _, ts := range stamps {
		raw = binary.LittleEndian.AppendUint64(raw, uint64(ts.UnixMicro()))
	}
	return raw
}
