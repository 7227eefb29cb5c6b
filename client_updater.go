package amtid

// Contain the ClientUpdater object, which publishes JSON-encoded messages
// giving the latest AMTID state.

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	zmq "github.com/pebbe/zmq4"
	"github.com/spf13/viper"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	tag   string
	state interface{}
}

// clientMessageChan is the package-wide channel feeding RunClientUpdater.
var clientMessageChan chan ClientUpdate

func init() {
	clientMessageChan = make(chan ClientUpdate, 100)
}

// sendClientUpdate queues an update without ever blocking a data path. If
// no updater is draining the channel (as in tests), messages are dropped
// once the buffer fills.
func sendClientUpdate(update ClientUpdate) {
	select {
	case clientMessageChan <- update:
	default:
	}
}

func publishOneMessage(pubSocket *zmq.Socket, update ClientUpdate) ([]byte, error) {
	message, err := json.Marshal(update.state)
	if err != nil {
		return nil, err
	}
	if _, err := pubSocket.SendMessage(update.tag, message); err != nil {
		return nil, err
	}
	return message, nil
}

// RunClientUpdater forwards any message from its input channel to a ZMQ
// publisher socket on the given port. It also saves the latest message per
// tag, both to resend on "SENDALL" requests and to persist in the viper
// configuration file.
func RunClientUpdater(portstatus int, abort <-chan struct{}) {
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(hostname); err != nil {
		return
	}

	// Save the state to the standard saved-state file this often.
	savePeriod := time.Minute
	saveStateRegularlyTicker := time.NewTicker(savePeriod)
	defer saveStateRegularlyTicker.Stop()

	// Here, store the last message of each type seen. Use when SENDALL is
	// requested and to eliminate duplicate status updates.
	lastMessages := make(map[string][]byte)
	lastMessageStrings := make(map[string]string)
	nosave := map[string]bool{"DIAGNOSTICS": true, "STATUS": true, "WRITING": true, "ALIVE": true}
	stateChanged := false

	for {
		select {
		case <-abort:
			return

		case update := <-clientMessageChan:
			if update.tag == "SENDALL" {
				for tag, message := range lastMessages {
					pubSocket.SendMessage(tag, message)
				}
				continue
			}

			message, err := publishOneMessage(pubSocket, update)
			if err != nil {
				ProblemLogger.Printf("could not publish %s update: %s", update.tag, err)
				continue
			}
			if string(message) != lastMessageStrings[update.tag] {
				UpdateLogger.Printf("update sent. Tag: %s: Message: %s", update.tag, spewConfig.Sdump(update.state))
			}
			lastMessages[update.tag] = message
			lastMessageStrings[update.tag] = string(message)
			if !nosave[update.tag] {
				viper.Set(strings.ToLower(update.tag), update.state)
				stateChanged = true
			}

		case <-saveStateRegularlyTicker.C:
			if stateChanged {
				if err := viper.WriteConfig(); err != nil {
					ProblemLogger.Printf("could not write config file: %s", err)
				} else {
					stateChanged = false
				}
			}
		}
	}
}

// spewConfig dumps update payloads one value per line, with struct field
// names, for the update log.
var spewConfig = spew.ConfigState{Indent: "\t", DisableMethods: true}
