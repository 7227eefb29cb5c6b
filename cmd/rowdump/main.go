// rowdump subscribes to an amtid server's row port and prints a summary of
// each published batch, with an optional hex dump of the first rows.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"time"

	zmq "github.com/pebbe/zmq4"
)

type rowBatchHeader struct {
	Nrows          int
	Nchan          int
	SampleRate     int
	FirstTimestamp int64
}

func dumprows(raw []byte, nchan, max int) {
	nrows := len(raw) / (8 * nchan)
	if max < nrows {
		nrows = max
	}
	for i := 0; i < nrows; i++ {
		fmt.Printf("  row %3d:", i)
		for j := 0; j < nchan; j++ {
			bits := binary.LittleEndian.Uint64(raw[8*(i*nchan+j):])
			fmt.Printf(" %9.3f", math.Float64frombits(bits))
		}
		fmt.Println()
	}
}

func main() {
	host := flag.String("host", "localhost", "amtid server host")
	port := flag.Int("port", 6602, "amtid row publisher port")
	nprint := flag.Int("rows", 0, "print up to this many rows per batch")
	flag.Usage = func() {
		fmt.Println("rowdump, a program to watch the amtid published sample rows")
		fmt.Println("Usage:")
		flag.PrintDefaults()
	}
	flag.Parse()

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		log.Fatal(err)
	}
	defer sub.Close()
	if err = sub.Connect(fmt.Sprintf("tcp://%s:%d", *host, *port)); err != nil {
		log.Fatal(err)
	}
	sub.SetSubscribe("")

	for {
		frames, err := sub.RecvMessageBytes(0)
		if err != nil {
			log.Fatal(err)
		}
		if len(frames) < 3 {
			fmt.Printf("short message of %d frames\n", len(frames))
			continue
		}
		var header rowBatchHeader
		if err := json.Unmarshal(frames[0], &header); err != nil {
			fmt.Printf("bad header frame: %s\n", err)
			continue
		}
		first := time.UnixMicro(header.FirstTimestamp)
		fmt.Printf("batch of %4d rows x %d chan at %d Hz, first stamp %s\n",
			header.Nrows, header.Nchan, header.SampleRate, first.Format("15:04:05.000000"))
		if *nprint > 0 && header.Nchan > 0 {
			dumprows(frames[1], header.Nchan, *nprint)
		}
	}
}
