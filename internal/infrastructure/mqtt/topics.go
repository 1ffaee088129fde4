package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves it empty.
const DefaultTopicPrefix = "ohmage/streams"

// Topics builds the topic names used by the stream transport.
//
//	topics := mqtt.Topics{Prefix: "ohmage/streams"}
//	topics.Point("mobility", 2)  // "ohmage/streams/mobility/2"
//	topics.Status("phone-01")    // "ohmage/streams-status/phone-01"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.TrimRight(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Point returns the topic a stream version's points are published on.
// Topic separators and wildcards in the stream id are replaced so an id
// can never widen a subscriber's match.
func (t Topics) Point(streamID string, streamVersion int) string {
	return fmt.Sprintf("%s/%s/%d", t.prefix(), sanitizeLevel(streamID), streamVersion)
}

// Status returns the retained online/offline topic for a client. It sits
// outside the point hierarchy so AllPoints never matches it.
func (t Topics) Status(clientID string) string {
	return fmt.Sprintf("%s-status/%s", t.prefix(), sanitizeLevel(clientID))
}

// AllPoints matches every point topic under the prefix.
func (t Topics) AllPoints() string {
	return t.prefix() + "/+/+"
}

// sanitizeLevel makes s safe to use as a single topic level.
func sanitizeLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
