package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gasmesh/gateway/internal/correlator"
	"github.com/gasmesh/gateway/internal/sensor"
)

type recordingSink struct {
	topics  []string
	payload [][]byte
	failNext bool
}

func (s *recordingSink) Publish(topic string, payload []byte) error {
	if s.failNext {
		s.failNext = false
		return errors.New("sink unavailable")
	}
	s.topics = append(s.topics, topic)
	s.payload = append(s.payload, payload)
	return nil
}

func (s *recordingSink) Close() {}

func TestPublishSampleUsesLinkChannelTopic(t *testing.T) {
	sink := &recordingSink{}
	p := New("gasmesh", sink)

	p.PublishSample(sensor.Sample{
		LinkID:  "north-direct",
		Channel: 7,
		Reading: 3.2,
	})

	require.Equal(t, "gasmesh/network/north-direct/channel_7/state", sink.topics[0])

	var decoded samplePayload
	require.NoError(t, json.Unmarshal(sink.payload[0], &decoded))
	require.InDelta(t, 3.2, decoded.Reading, 0.001)
}

func TestPublishMatchUsesMatchedTopic(t *testing.T) {
	sink := &recordingSink{}
	p := New("gasmesh", sink)

	p.PublishMatch(correlator.Match{
		Direct:  sensor.Sample{LinkID: "north-direct", Channel: 4},
		Primary: sensor.Sample{Channel: 4, Reading: 1.0},
		Latency: 2 * time.Second,
	})

	require.Equal(t, "gasmesh/network/matched/channel_4/state", sink.topics[0])
}

func TestPublishIncrementsDroppedOnSinkError(t *testing.T) {
	sink := &recordingSink{failNext: true}
	p := New("gasmesh", sink)

	p.PublishSample(sensor.Sample{LinkID: "a", Channel: 1})

	require.Equal(t, uint64(1), p.Dropped())
	require.Empty(t, sink.topics)
}

func TestPublishFansOutToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	p := New("gasmesh", a, b)

	p.PublishDirectLoss(correlator.DirectLoss{Direct: sensor.Sample{LinkID: "a", Channel: 2}})

	require.Len(t, a.topics, 1)
	require.Len(t, b.topics, 1)
	require.Equal(t, "gasmesh/network/a/channel_2/loss", a.topics[0])
}

func TestNewWithNoSinksIsANoop(t *testing.T) {
	p := New("gasmesh")
	require.NotPanics(t, func() {
		p.PublishSample(sensor.Sample{LinkID: "a", Channel: 1})
	})
}
