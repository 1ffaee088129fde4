package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ohmage/streamwriter/internal/stream"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// sink is the live handle given to the writer for one broker session.
type sink struct {
	binder *Binder
	client pahomqtt.Client
}

// SendPoint publishes the point's JSON envelope to its stream topic.
// Points are never retained: a new subscriber should not see an old point.
func (s *sink) SendPoint(streamID string, streamVersion int, metadata, data string) error {
	p := stream.Point{
		StreamID:      streamID,
		StreamVersion: streamVersion,
		Metadata:      metadata,
		Data:          data,
	}
	payload, err := p.Encode()
	if err != nil {
		return err
	}
	return s.binder.publish(s.client, s.binder.topics.Point(streamID, streamVersion), payload)
}

// publish sends payload and waits for the broker acknowledgement at QoS 1
// and 2.
func (b *Binder) publish(client pahomqtt.Client, topic string, payload []byte) error {
	qos := b.cfg.QoS
	if qos < 0 || qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Publish(topic, byte(qos), false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
