// Package publisher fans gateway events out to the configured outbound
// broker sinks (NATS, MQTT, or both). Every sink is independent: a slow
// or disconnected sink drops its own events rather than backing up the
// others or the pipeline feeding them.
package publisher

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gasmesh/gateway/internal/correlator"
	"github.com/gasmesh/gateway/internal/sensor"
	"github.com/gasmesh/gateway/pkg/log"
)

// Sink is one outbound broker connection. Publish must not block beyond
// a short, sink-internal timeout; a sink that cannot keep up drops the
// event and counts it rather than stalling the caller.
type Sink interface {
	Publish(topic string, payload []byte) error
	Close()
}

// Publisher fans samples, matches, orphans, and direct losses out to
// every configured Sink under a shared topic prefix.
type Publisher struct {
	prefix  string
	sinks   []Sink
	dropped uint64
}

// New constructs a Publisher over the given sinks. A nil or empty sinks
// slice is valid: every Publish call becomes a no-op, which lets the
// gateway run with outbound publishing disabled entirely.
func New(topicPrefix string, sinks ...Sink) *Publisher {
	return &Publisher{prefix: topicPrefix, sinks: sinks}
}

// Dropped returns the number of publish attempts dropped because a sink
// returned an error (most commonly backpressure or disconnection).
func (p *Publisher) Dropped() uint64 { return p.dropped }

// samplePayload is the wire shape published for every sensor sample.
type samplePayload struct {
	LinkID     string    `json:"link_id"`
	Timestamp  time.Time `json:"timestamp"`
	Channel    uint16    `json:"channel"`
	IsRepeated bool      `json:"is_repeated"`
	RSSI       int       `json:"rssi"`
	Reading    float32   `json:"reading"`
	GasType    string    `json:"gas_type"`
	SensorType string    `json:"sensor_type"`
	FaultCode  int       `json:"fault_code,omitempty"`
}

// PublishSample republishes a decoded sample on
// "<prefix>/network/<link_id>/channel_<n>/state".
func (p *Publisher) PublishSample(s sensor.Sample) {
	payload := samplePayload{
		LinkID:     s.LinkID,
		Timestamp:  s.Timestamp,
		Channel:    s.Channel,
		IsRepeated: s.IsRepeated,
		RSSI:       s.RSSI,
		Reading:    s.Reading,
		GasType:    s.GasType.String(),
		SensorType: s.SensorType.String(),
		FaultCode:  int(s.FaultCode),
	}
	p.publish(p.topic(s.LinkID, s.Channel, "state"), payload)
}

// matchPayload is the wire shape published for a resolved direct/primary
// match.
type matchPayload struct {
	Channel       uint16        `json:"channel"`
	DirectLinkID  string        `json:"direct_link_id"`
	LatencySecond float64       `json:"latency_seconds"`
	Reading       float32       `json:"reading"`
	Latency       time.Duration `json:"-"`
}

// PublishMatch republishes a correlator match on
// "<prefix>/network/matched/channel_<n>/state".
func (p *Publisher) PublishMatch(m correlator.Match) {
	payload := matchPayload{
		Channel:       m.Primary.Channel,
		DirectLinkID:  m.Direct.LinkID,
		LatencySecond: m.Latency.Seconds(),
		Reading:       m.Primary.Reading,
	}
	p.publish(p.prefix+"/network/matched/channel_"+strconv.FormatUint(uint64(m.Primary.Channel), 10)+"/state", payload)
}

// PublishOrphan republishes an orphaned primary-link sample on
// "<prefix>/network/matched/channel_<n>/orphan".
func (p *Publisher) PublishOrphan(o correlator.Orphan) {
	p.publish(p.prefix+"/network/matched/channel_"+strconv.FormatUint(uint64(o.Primary.Channel), 10)+"/orphan", o.Primary)
}

// PublishDirectLoss republishes an aged-out direct sample on
// "<prefix>/network/<link_id>/channel_<n>/loss".
func (p *Publisher) PublishDirectLoss(l correlator.DirectLoss) {
	p.publish(p.topic(l.Direct.LinkID, l.Direct.Channel, "loss"), l.Direct)
}

func (p *Publisher) topic(linkID string, channel uint16, suffix string) string {
	return p.prefix + "/network/" + linkID + "/channel_" + strconv.FormatUint(uint64(channel), 10) + "/" + suffix
}

func (p *Publisher) publish(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Warnf("publisher: marshaling payload for %s: %v", topic, err)
		return
	}
	for _, sink := range p.sinks {
		if err := sink.Publish(topic, payload); err != nil {
			p.dropped++
			log.Debugf("publisher: dropped publish to %s: %v", topic, err)
		}
	}
}

// Close closes every sink.
func (p *Publisher) Close() {
	for _, sink := range p.sinks {
		sink.Close()
	}
}
