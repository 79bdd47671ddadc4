// Package app wires configuration, transport, devices and protocols into a
// running simulation.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridsingularity/d3a/config"
	"github.com/gridsingularity/d3a/core/device"
	"github.com/gridsingularity/d3a/core/events"
	"github.com/gridsingularity/d3a/core/journal"
	coremetrics "github.com/gridsingularity/d3a/core/metrics"
	"github.com/gridsingularity/d3a/core/model"
	"github.com/gridsingularity/d3a/core/protocol"
	"github.com/gridsingularity/d3a/core/transport"
	"github.com/gridsingularity/d3a/infra/logger"
	inframarket "github.com/gridsingularity/d3a/infra/market"
	"github.com/gridsingularity/d3a/infra/metrics"
	"github.com/gridsingularity/d3a/infra/mqtt"
	"github.com/gridsingularity/d3a/infra/redis"
	"github.com/gridsingularity/d3a/internal/eventbus"
)

// Service drives the slot clock for every configured device.
type Service struct {
	cfg       *config.Config
	transport transport.PubSub
	protocols []*protocol.ExternalProtocol
	buses     protocol.Buses
	sink      coremetrics.Sink
	journal   journal.Store
	log       logger.Logger
	activated bool

	// OnTick is called before the devices process each tick.
	OnTick func(slot model.TimeSlot, tick int)
	// OnSlot is called after each slot with the trades it cleared.
	OnSlot func(slot model.TimeSlot, trades []model.Trade)
}

// NewTransport connects the configured pub/sub backend.
func NewTransport(ctx context.Context, cfg config.TransportConfig) (transport.PubSub, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return eventbus.NewTopicBus(), nil
	case config.BackendMQTT:
		return mqtt.NewClient(cfg.MQTT)
	case config.BackendRedis:
		return redis.New(ctx, cfg.Redis)
	}
	return nil, fmt.Errorf("unknown transport backend %q", cfg.Backend)
}

// New creates a Service and connects its transport.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	tp, err := NewTransport(ctx, cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	svc, err := NewWithTransport(cfg, tp)
	if err != nil {
		_ = tp.Close()
		return nil, err
	}
	return svc, nil
}

// NewWithTransport creates a Service on an existing transport. The
// transport is closed by Close.
func NewWithTransport(cfg *config.Config, tp transport.PubSub) (*Service, error) {
	if cfg == nil || tp == nil {
		return nil, fmt.Errorf("app: nil parameter provided to New")
	}
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("app: no devices configured")
	}
	logg := logger.New("service")

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	var store journal.Store
	if cfg.Journal.Enabled() {
		if store, err = journal.Open(cfg.Journal); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	svc := &Service{
		cfg:       cfg,
		transport: tp,
		sink:      sink,
		journal:   store,
		log:       logg,
		buses: protocol.Buses{
			Commands:  eventbus.NewTypedSize[events.CommandEvent](256),
			Ledger:    eventbus.NewTypedSize[events.LedgerEvent](256),
			Lifecycle: eventbus.NewTyped[events.LifecycleEvent](),
		},
	}
	for _, dc := range cfg.Devices {
		dev, err := device.New(dc, cfg.Simulation.SlotLength())
		if err != nil {
			svc.closeStores()
			return nil, err
		}
		p, err := protocol.New(dev, tp, cfg.Protocol, logg)
		if err != nil {
			svc.closeStores()
			return nil, err
		}
		p.SetBuses(svc.buses)
		svc.protocols = append(svc.protocols, p)
	}
	return svc, nil
}

// Protocols returns the device protocols in configuration order.
func (s *Service) Protocols() []*protocol.ExternalProtocol { return s.protocols }

// Transport returns the pub/sub backend participants talk through.
func (s *Service) Transport() transport.PubSub { return s.transport }

// Buses returns the event buses the protocols publish on.
func (s *Service) Buses() protocol.Buses { return s.buses }

// Run activates every device and runs the configured number of slots, or
// until ctx is canceled when no slot count is set. Every protocol is
// terminated on return.
func (s *Service) Run(ctx context.Context) error {
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collected := metrics.StartEventCollector(collectorCtx, s.buses, s.sink, s.journal, s.log)
	defer func() {
		s.closeBuses()
		select {
		case <-collected:
		case <-time.After(5 * time.Second):
			s.log.Warnf("event collector did not drain in time")
		}
		stopCollector()
	}()

	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, ":"+port); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	if err := s.Activate(ctx); err != nil {
		return err
	}
	defer s.terminate()

	slot, err := s.firstSlot()
	if err != nil {
		return err
	}
	sim := s.cfg.Simulation
	s.log.Infof("simulation starts at %s with %d devices", slot, len(s.protocols))
	for i := 0; sim.Slots == 0 || i < sim.Slots; i++ {
		if err := s.RunSlot(ctx, slot); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.log.Infof("simulation stopped in %s", slot)
				return nil
			}
			return err
		}
		slot = slot.Add(sim.SlotLength())
	}
	s.log.Infof("simulation finished")
	return nil
}

// Activate subscribes every device to its command topics. Participants
// can register once it returns. Run activates on its own when needed.
func (s *Service) Activate(ctx context.Context) error {
	if s.activated {
		return nil
	}
	for _, p := range s.protocols {
		if err := p.Activate(ctx); err != nil {
			return err
		}
	}
	s.activated = true
	return nil
}

func (s *Service) firstSlot() (model.TimeSlot, error) {
	start, err := s.cfg.Simulation.StartTime()
	if err != nil {
		return 0, err
	}
	if start.IsZero() {
		start = time.Now().Truncate(s.cfg.Simulation.SlotLength())
	}
	return model.SlotAt(start), nil
}

// RunSlot opens a market for slot, cycles every device into it, runs the
// ticks and clears the market after each tick.
func (s *Service) RunSlot(ctx context.Context, slot model.TimeSlot) error {
	mkt := inframarket.NewMemory(slot, s.cfg.Market)
	defer mkt.Close()
	for _, p := range s.protocols {
		mkt.Listen(p.Name(), p)
	}
	for _, p := range s.protocols {
		if err := p.MarketCycle(ctx, mkt); err != nil {
			s.log.Warnf("market cycle %s: %v", p.Name(), err)
		}
	}

	sim := s.cfg.Simulation
	var trades []model.Trade
	for tick := 0; tick < sim.TicksPerSlot; tick++ {
		if err := wait(ctx, sim.TickInterval()); err != nil {
			return err
		}
		if s.OnTick != nil {
			s.OnTick(slot, tick)
		}
		for _, p := range s.protocols {
			if err := p.Tick(ctx, tick); err != nil {
				s.log.Warnf("tick %d %s: %v", tick, p.Name(), err)
			}
		}
		trades = append(trades, mkt.Match()...)
	}
	s.log.Debugw("slot cleared", map[string]any{"slot": slot.String(), "trades": len(trades)})
	if s.OnSlot != nil {
		s.OnSlot(slot, trades)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) terminate() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range s.protocols {
		if err := p.Terminate(ctx); err != nil {
			s.log.Warnf("terminate %s: %v", p.Name(), err)
		}
	}
}

func (s *Service) closeBuses() {
	s.buses.Commands.Close()
	s.buses.Ledger.Close()
	s.buses.Lifecycle.Close()
}

func (s *Service) closeStores() {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Warnf("journal close: %v", err)
		}
	}
}

// Close releases the journal and the transport.
func (s *Service) Close() error {
	s.closeStores()
	return s.transport.Close()
}
