package amtid

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowPublisherRoundTrip(t *testing.T) {
	port := Ports.Rows + 70 // avoid colliding with other tests or a live server
	pub, err := newRowPublisher(port)
	require.NoError(t, err)
	defer pub.Close()
	pub.Configure(2, 500)

	sub, err := zmq.NewSocket(zmq.SUB)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Connect(fmt.Sprintf("tcp://localhost:%d", port)))
	require.NoError(t, sub.SetSubscribe(""))
	require.NoError(t, sub.SetRcvtimeo(100*time.Millisecond))

	t0 := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	batch := &RowBatch{
		Rows:       [][]float64{{1.5, -2.5}, {3.5, -4.5}},
		Timestamps: []time.Time{t0, t0.Add(2 * time.Millisecond)},
	}

	// PUB/SUB joins are asynchronous; keep publishing until a message
	// arrives or we give up.
	var frames [][]byte
	for attempt := 0; attempt < 50; attempt++ {
		pub.Publish(batch)
		if frames, err = sub.RecvMessageBytes(0); err == nil {
			break
		}
	}
	require.NoError(t, err, "no message made it through the PUB socket")
	require.Len(t, frames, 3)

	var header RowBatchHeader
	require.NoError(t, json.Unmarshal(frames[0], &header))
	assert.Equal(t, 2, header.Nrows)
	assert.Equal(t, 2, header.Nchan)
	assert.Equal(t, 500, header.SampleRate)
	assert.Equal(t, t0.UnixMicro(), header.FirstTimestamp)

	require.Len(t, frames[1], 2*2*8)
	v := math.Float64frombits(binary.LittleEndian.Uint64(frames[1][24:]))
	assert.Equal(t, -4.5, v)

	require.Len(t, frames[2], 2*8)
	stamp := int64(binary.LittleEndian.Uint64(frames[2][8:]))
	assert.Equal(t, t0.Add(2*time.Millisecond).UnixMicro(), stamp)
}
