// Package gateway wires every other package into one running process:
// one receiver/arbiter/radio stack per configured link, the correlator
// matching direct against primary-link arrivals, the sample store, the
// outbound publisher, the Prometheus health endpoint, and the scheduled
// maintenance jobs. It owns no behavior of its own beyond startup,
// fan-out of samples to their consumers, and coordinated shutdown.
package gateway

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gasmesh/gateway/internal/arbiter"
	"github.com/gasmesh/gateway/internal/config"
	"github.com/gasmesh/gateway/internal/correlator"
	"github.com/gasmesh/gateway/internal/health"
	"github.com/gasmesh/gateway/internal/publisher"
	"github.com/gasmesh/gateway/internal/radio"
	"github.com/gasmesh/gateway/internal/receiver"
	"github.com/gasmesh/gateway/internal/scheduler"
	"github.com/gasmesh/gateway/internal/sensor"
	"github.com/gasmesh/gateway/internal/store"
	"github.com/gasmesh/gateway/pkg/log"
)

// Link bundles one radio network's receive loop, its control-plane
// arbiter, and the radio.Client built on top of it.
type Link struct {
	Config   config.LinkConfig
	Receiver *receiver.Receiver
	Arbiter  *arbiter.Arbiter
	Radio    *radio.Client
}

// Gateway is the fully constructed process: every task is built and
// wired at New, and Run starts them all under one errgroup so that any
// task's unrecoverable failure tears down the rest.
type Gateway struct {
	cfg config.GatewayConfig

	Links      map[string]*Link
	Correlator *correlator.Correlator
	Store      *store.DB
	Reader     *store.Reader
	Writer     *store.Writer
	Publisher  *publisher.Publisher
	Metrics    *health.Registry
	Scheduler  *scheduler.Scheduler
}

// New constructs every component described by cfg but starts nothing;
// call Run to start the process's tasks.
func New(cfg config.GatewayConfig) (*Gateway, error) {
	metrics := health.New()

	db, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("gateway: opening store: %w", err)
	}
	if err := store.Migrate(cfg.Store.DSN); err != nil {
		return nil, fmt.Errorf("gateway: migrating store: %w", err)
	}

	links := make(map[string]*Link, len(cfg.Links))
	for _, lc := range cfg.Links {
		recv := receiver.New(receiver.Config{
			LinkID:      lc.ID,
			Device:      lc.Device,
			Baud:        lc.Baud,
			MaxFrameLen: lc.MaxFrameLen,
		}, metrics)

		arb := arbiter.New(arbiter.Config{
			LinkID:         lc.ID,
			SessionTimeout: cfg.Control.SessionTimeout.Duration(),
		}, recv)

		links[lc.ID] = &Link{
			Config:   lc,
			Receiver: recv,
			Arbiter:  arb,
			Radio:    radio.New(arb, lc.ID, cfg.Control.FirmwareChunkSize),
		}
	}

	sinks, err := buildSinks(cfg.Publisher)
	if err != nil {
		return nil, fmt.Errorf("gateway: building publisher sinks: %w", err)
	}

	g := &Gateway{
		cfg:        cfg,
		Links:      links,
		Correlator: correlator.New(correlator.Config{PendingCapacity: cfg.Correlator.PendingCapacity, MatchWindow: cfg.Correlator.MatchWindow.Duration()}, metrics),
		Store:      db,
		Reader:     store.NewReader(db),
		Writer:     store.NewWriter(db, cfg.Store),
		Publisher:  publisher.New(cfg.Publisher.TopicPrefix, sinks...),
		Metrics:    metrics,
	}

	sched, err := scheduler.New(cfg.Schedule, g.Reader, g.Writer, metrics, durationDays(cfg.Store.RetentionDays))
	if err != nil {
		return nil, fmt.Errorf("gateway: building scheduler: %w", err)
	}
	g.Scheduler = sched

	return g, nil
}

func buildSinks(cfg config.PublisherConfig) ([]publisher.Sink, error) {
	var sinks []publisher.Sink
	if cfg.NATS != nil {
		sink, err := publisher.NewNATSSink(publisher.NATSConfig{URL: cfg.NATS.URL})
		if err != nil {
			return nil, fmt.Errorf("nats sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.MQTT != nil {
		sink, err := publisher.NewMQTTSink(publisher.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Retain:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// Run starts every task — per-link receivers, the correlator, the
// store writer, the fan-out loop, the scheduler, and (if configured)
// the health endpoint — and blocks until ctx is cancelled or one of
// them returns a non-nil error, at which point every other task is
// cancelled too.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	for _, link := range g.Links {
		link := link
		eg.Go(func() error { return link.Receiver.Run(ctx) })
	}

	eg.Go(func() error { return g.Correlator.Run(ctx) })
	eg.Go(func() error { return g.Writer.Run(ctx) })
	eg.Go(func() error { return g.runFanOut(ctx) })

	if g.cfg.Health.ListenAddr != "" {
		eg.Go(func() error { return health.Serve(ctx, g.cfg.Health.ListenAddr, g.Metrics) })
	}

	g.Scheduler.Start()
	eg.Go(func() error {
		<-ctx.Done()
		return g.Scheduler.Shutdown()
	})

	err := eg.Wait()
	g.Publisher.Close()
	if cerr := g.Store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// runFanOut drains every link's decoded samples into the correlator (by
// role), the store, and the publisher, and drains the correlator's
// match/orphan/loss streams into the store and publisher in turn. It is
// the one place that knows how every component's output feeds another
// component's input.
func (g *Gateway) runFanOut(ctx context.Context) error {
	for _, link := range g.Links {
		link := link
		go g.drainLink(ctx, link)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-g.Correlator.Matches():
			g.Writer.PutMatch(store.Match{
				Channel:           m.Primary.Channel,
				DirectLinkID:      m.Direct.LinkID,
				DirectTimestamp:   m.Direct.Timestamp,
				DirectReading:     m.Direct.Reading,
				RepeatedLinkID:    m.Primary.LinkID,
				RepeatedTimestamp: m.Primary.Timestamp,
				RepeatedReading:   m.Primary.Reading,
				Latency:           m.Latency,
			})
			g.Publisher.PublishMatch(m)
		case o := <-g.Correlator.Orphans():
			g.Publisher.PublishOrphan(o)
		case l := <-g.Correlator.Losses():
			g.Publisher.PublishDirectLoss(l)
		}
	}
}

// drainLink feeds one link's decoded samples to the store and publisher
// unconditionally, and additionally to the correlator according to the
// link's configured role.
func (g *Gateway) drainLink(ctx context.Context, link *Link) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-link.Receiver.Samples():
			if !ok {
				return
			}
			g.Writer.PutSample(s)
			g.Publisher.PublishSample(s)
			g.routeToCorrelator(link.Config.Role, s)
		}
	}
}

func (g *Gateway) routeToCorrelator(role config.Role, s sensor.Sample) {
	switch role {
	case config.RoleDirect:
		g.Correlator.PushDirect(s)
	case config.RolePrimary:
		g.Correlator.PushPrimary(s)
	default:
		log.Warnf("gateway: sample on link %s has unrecognized role %q, not routed to correlator", s.LinkID, role)
	}
}

func durationDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
