package bus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const topicPrefix = "od4/"

// ErrTransportClosed is returned by transports used after Close.
var ErrTransportClosed = errors.New("bus: transport closed")

// Message is one payload received on a topic. From identifies the publishing
// endpoint in the transport's own terms and is compared with PubSub.ID to
// recognise echoes of local publishes.
type Message struct {
	Topic   string
	Payload []byte
	From    string
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
	ID() string
	Close() error
}

// Topic returns the topic name of the OD4 session cid.
func Topic(cid uint16) string {
	return topicPrefix + strconv.Itoa(int(cid))
}

// CIDFromTopic parses a topic produced by Topic.
func CIDFromTopic(topic string) (uint16, error) {
	raw, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return 0, fmt.Errorf("bus: topic %q is not an od4 session", topic)
	}
	cid, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bus: topic %q: invalid cid: %w", topic, err)
	}
	return uint16(cid), nil
}
