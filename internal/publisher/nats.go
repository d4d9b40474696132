package publisher

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/gasmesh/gateway/pkg/log"
)

// NATSConfig configures a NATSSink.
type NATSConfig struct {
	URL string
}

// NATSSink publishes to a NATS subject per topic, reusing one
// connection across every publish. Unlike the teacher's singleton
// client, this sink is an ordinary constructed value with no global
// state, so a gateway running several independent clusters can each
// own their own connection.
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink dials the broker and installs the same disconnect/
// reconnect/error logging the teacher's client wires up.
func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("publisher: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("publisher: nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("publisher: nats error: %v", err)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("publisher: nats connect to %s: %w", cfg.URL, err)
	}
	log.Infof("publisher: nats connected to %s", cfg.URL)
	return &NATSSink{conn: conn}, nil
}

// Publish sends payload on the given subject.
func (s *NATSSink) Publish(topic string, payload []byte) error {
	if err := s.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("publisher: nats publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the connection.
func (s *NATSSink) Close() {
	_ = s.conn.Flush()
	s.conn.Close()
}
