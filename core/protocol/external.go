package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridsingularity/d3a/core/device"
	"github.com/gridsingularity/d3a/core/events"
	"github.com/gridsingularity/d3a/core/ledger"
	"github.com/gridsingularity/d3a/core/logger"
	"github.com/gridsingularity/d3a/core/market"
	"github.com/gridsingularity/d3a/core/model"
	"github.com/gridsingularity/d3a/core/stats"
	"github.com/gridsingularity/d3a/core/transport"
	infralogger "github.com/gridsingularity/d3a/infra/logger"
	"github.com/gridsingularity/d3a/internal/eventbus"
)

// State is the lifecycle state of a device.
type State int

const (
	Uninitialized State = iota
	Active
	InMarketCycle
	InTick
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case InMarketCycle:
		return "market_cycle"
	case InTick:
		return "tick"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrParticipantGone   = errors.New("participant unregistered")
	ErrTerminated        = errors.New("device terminated")
)

// Config configures the external protocol of every device.
type Config struct {
	ChannelPrefix string `json:"channel_prefix"`
	DrainOrder    string `json:"drain_order"`
	// MarketType and TicksPerSlot are threaded in from the market and
	// simulation sections.
	MarketType   market.Type `json:"-"`
	TicksPerSlot int         `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = DefaultChannelPrefix
	}
	if c.DrainOrder == "" {
		c.DrainOrder = string(LIFO)
	}
	if c.MarketType == 0 {
		c.MarketType = market.TwoSided
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ParseDrainOrder(c.DrainOrder); err != nil {
		return err
	}
	if c.TicksPerSlot < 0 {
		return fmt.Errorf("ticks per slot must be >= 0")
	}
	return nil
}

// Buses receive the events emitted by a protocol. Nil buses are skipped.
type Buses struct {
	Commands  *eventbus.TypedBus[events.CommandEvent]
	Ledger    *eventbus.TypedBus[events.LedgerEvent]
	Lifecycle *eventbus.TypedBus[events.LifecycleEvent]
}

// ExternalProtocol wraps a device and lets a participant trade for it.
// While a participant is registered the device strategy is bypassed and
// queued commands are applied on every tick; otherwise every transition is
// delegated to the device autonomous strategy.
//
// All entry points are serialised, so transport callbacks may arrive on any
// goroutine.
type ExternalProtocol struct {
	mu sync.Mutex

	dev        device.Tradeable
	cfg        Config
	ledger     *ledger.Ledger
	cache      *orderCache
	validator  *Validator
	queue      *Queue
	dispatcher *Dispatcher
	stats      *stats.Collector
	topics     Topics
	transport  transport.PubSub
	publisher  *Publisher
	log        logger.Logger
	buses      Buses

	state     State
	connected bool
	market    market.Market
	slot      model.TimeSlot
	tick      int
}

// New wraps dev. tp delivers commands and carries responses and events.
func New(dev device.Tradeable, tp transport.PubSub, cfg Config, log logger.Logger) (*ExternalProtocol, error) {
	if dev == nil || tp == nil {
		return nil, fmt.Errorf("protocol: nil parameter provided to New")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}
	order, _ := ParseDrainOrder(cfg.DrainOrder)
	if log == nil {
		log = infralogger.NopLogger{}
	}
	log = log.With("device", dev.Name())

	p := &ExternalProtocol{
		dev:       dev,
		cfg:       cfg,
		ledger:    ledger.New(),
		cache:     newOrderCache(),
		queue:     NewQueue(order),
		stats:     stats.NewCollector(dev.Name(), cfg.MarketType),
		topics:    NewTopics(cfg.ChannelPrefix, dev.Name()),
		transport: tp,
		publisher: NewPublisher(tp, log),
		log:       log,
	}
	p.validator = NewValidator(dev.Name(), p.ledger, p.queue)
	p.dispatcher = newDispatcher(dev.Name(), p.ledger, p.cache, p.stats.Snapshot, log)
	return p, nil
}

// SetBuses configures where command, ledger and lifecycle events go.
func (p *ExternalProtocol) SetBuses(b Buses) {
	p.mu.Lock()
	p.buses = b
	p.mu.Unlock()
}

// Name returns the device name.
func (p *ExternalProtocol) Name() string { return p.dev.Name() }

// Topics returns the device topics.
func (p *ExternalProtocol) Topics() Topics { return p.topics }

// Connected reports whether a participant is registered.
func (p *ExternalProtocol) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// State returns the lifecycle state.
func (p *ExternalProtocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pending returns the number of queued commands.
func (p *ExternalProtocol) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// LedgerState returns a copy of the ledger entries of slot.
func (p *ExternalProtocol) LedgerState(slot model.TimeSlot) ledger.SlotState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.State(slot)
}

func (p *ExternalProtocol) tradingContext(prev model.TimeSlot) device.TradingContext {
	return device.TradingContext{Market: p.market, Ledger: p.ledger, Prev: prev, Log: p.log, Placed: p.cache.put}
}

// Activate subscribes the device to its command topics. Commands are only
// accepted once a participant registers.
func (p *ExternalProtocol) Activate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Uninitialized {
		return fmt.Errorf("%w: activate in state %s", ErrInvalidTransition, p.state)
	}
	for _, topic := range p.topics.Commands() {
		if err := p.transport.Subscribe(ctx, topic, p.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	if err := p.dev.OnActivate(p.tradingContext(0)); err != nil {
		return fmt.Errorf("activate %s: %w", p.dev.Name(), err)
	}
	p.setState(Active)
	p.log.Infof("device activated on %s", p.topics.Base())
	return nil
}

// HandleMessage is the transport handler of every command topic.
func (p *ExternalProtocol) HandleMessage(topic string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Terminated || p.state == Uninitialized {
		return
	}
	name, ok := p.topics.CommandName(topic)
	if !ok {
		p.log.Debugf("ignoring message on %s", topic)
		return
	}
	ctx := context.Background()

	switch name {
	case RegisterCommand:
		p.register(ctx)
		return
	case UnregisterCommand:
		p.unregister(ctx)
		return
	}
	if !p.connected {
		p.log.Debugf("dropping %s: no participant registered", name)
		return
	}
	kind, ok := ParseKind(name)
	if !ok {
		p.log.Debugf("ignoring unknown command %s", name)
		return
	}
	commandsReceived.WithLabelValues(kind.String()).Inc()

	cmd, err := p.validator.Validate(kind, payload, p.market)
	if err != nil {
		commandsRejected.WithLabelValues(kind.String()).Inc()
		p.log.Warnf("rejected %s: %v", kind, err)
		res := FromError(kind.ResponseName(), err)
		data, _ := p.publisher.Result(ctx, p.topics.Response(kind.String()), res)
		p.emitCommand(kind, "validation", cmd.Args, res, data, 0)
		return
	}
	cmd.ResponseTopic = p.topics.Response(kind.String())
	cmd.Received = time.Now()
	p.queue.Enqueue(cmd)
	pendingCommands.WithLabelValues(p.dev.Name()).Set(float64(p.queue.Len()))
	p.log.Debugf("queued %s (%d pending)", kind, p.queue.Len())
}

func (p *ExternalProtocol) register(ctx context.Context) {
	if !p.connected {
		p.connected = true
		p.log.Infof("participant registered")
		p.emitLifecycle()
	}
	_, _ = p.publisher.Send(ctx, p.topics.Response("register"), Response{Command: "register", Status: StatusReady, Connected: true})
}

func (p *ExternalProtocol) unregister(ctx context.Context) {
	if !p.connected {
		return
	}
	p.connected = false
	p.abandon(ctx, ConnectionError, ErrParticipantGone)
	p.log.Infof("participant unregistered")
	p.emitLifecycle()
	_, _ = p.publisher.Send(ctx, p.topics.Response("unregister"), Response{Command: "unregister", Status: StatusReady, Connected: false})
}

// abandon answers every queued command with an error of kind.
func (p *ExternalProtocol) abandon(ctx context.Context, kind ErrorKind, cause error) {
	for _, cmd := range p.queue.DrainAll() {
		res := Fail(kind, cmd.Kind.ResponseName(), "command not executed", cause)
		commandsExecuted.WithLabelValues(cmd.Kind.String(), string(StatusError)).Inc()
		data, _ := p.publisher.Result(ctx, cmd.ResponseTopic, res)
		p.emitCommand(cmd.Kind, "execution", cmd.Args, res, data, 0)
	}
	pendingCommands.WithLabelValues(p.dev.Name()).Set(0)
}

// MarketCycle moves the device to the slot of mkt.
func (p *ExternalProtocol) MarketCycle(ctx context.Context, mkt market.Market) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Uninitialized || p.state == Terminated {
		return fmt.Errorf("%w: market cycle in state %s", ErrInvalidTransition, p.state)
	}
	if mkt == nil {
		return fmt.Errorf("market cycle: %w", ErrNoActiveMarket)
	}
	prev := p.slot
	p.market = mkt
	p.slot = mkt.TimeSlot()
	p.tick = 0
	p.setState(InMarketCycle)

	pm := p.dev.Model()
	var err error
	if p.connected {
		pm.MarketCycle(prev, p.slot)
		p.ledger.SetBounds(p.slot, pm.EnergyToSell(p.slot), pm.EnergyToBuy(p.slot))
		if ds, db := p.ledger.Clamp(p.slot); ds > 0 || db > 0 {
			p.log.Debugf("clamped %s: sell -%.5f buy -%.5f", p.slot, ds, db)
		}
		p.trimOrders()
		p.publishMarketEvent(ctx)
	} else {
		if err = p.dev.OnMarketCycle(p.tradingContext(prev)); err != nil {
			p.log.Errorf("autonomous market cycle: %v", err)
		}
		p.trimOrders()
	}
	if prev != 0 {
		p.ledger.Prune(prev)
		p.cache.prune(p.slot)
	}
	p.stats.RecordSummary(p.slot, pm.Summary(p.slot))
	p.emitLedger("market_cycle")
	return err
}

// trimOrders withdraws cached orders of the current slot, largest first,
// until the orders left in the market fit the offered energy the ledger
// still books. Whole orders are withdrawn, so the ledger is then lowered to
// what remains.
func (p *ExternalProtocol) trimOrders() {
	if p.market == nil {
		return
	}
	st := p.ledger.State(p.slot)
	for _, side := range []model.Side{model.SideOffer, model.SideBid} {
		booked := st.OfferedSell
		if side == model.SideBid {
			booked = st.OfferedBuy
		}
		orders := p.cache.inSlot(side, p.slot)
		total := 0.0
		for _, o := range orders {
			total += o.Energy
		}
		if total <= booked+ledger.Tolerance {
			continue
		}
		for _, o := range orders {
			if total <= booked+ledger.Tolerance {
				break
			}
			p.dispatcher.withdraw(p.market, o)
			p.cache.remove(side, o.ID)
			total -= o.Energy
			p.log.Infof("withdrew %s %s (%.5f kWh) after clamp", side, o.ID, o.Energy)
		}
		if release := booked - max(total, 0); release > ledger.Tolerance {
			var err error
			if side == model.SideBid {
				err = p.ledger.ReleaseBuy(p.slot, release)
			} else {
				err = p.ledger.ReleaseSell(p.slot, release)
			}
			if err != nil {
				p.log.Errorf("release trimmed %s: %v", side, err)
			}
		}
	}
}

func (p *ExternalProtocol) publishMarketEvent(ctx context.Context) {
	pm := p.dev.Model()
	st := p.ledger.State(p.slot)
	ev := map[string]any{}
	for k, v := range p.market.Info() {
		ev[k] = v
	}
	ev["event"] = "market"
	ev["device"] = p.dev.Name()
	ev["slot"] = p.slot.String()
	ev["energy_to_sell"] = st.EnergyToSell
	ev["energy_to_buy_dict"] = map[string]float64{p.slot.String(): st.EnergyToBuy}
	ev["free_storage"] = pm.FreeStorage(p.slot)
	ev["used_storage"] = pm.UsedStorage()
	ev["free_sell_capacity"] = st.FreeSell()
	ev["free_buy_capacity"] = st.FreeBuy()
	ev["pledged_sell"] = st.PledgedSell
	ev["pledged_buy"] = st.PledgedBuy
	ev["device_info"] = pm.Summary(p.slot)
	_, _ = p.publisher.Send(ctx, p.topics.MarketEvent(), ev)
}

// Tick advances the device by one tick. While connected it applies every
// queued command and then notifies the participant.
func (p *ExternalProtocol) Tick(ctx context.Context, tick int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != InMarketCycle && p.state != InTick {
		return fmt.Errorf("%w: tick in state %s", ErrInvalidTransition, p.state)
	}
	p.tick = tick
	p.setState(InTick)

	if !p.connected {
		if err := p.dev.OnTick(p.tradingContext(p.slot), tick); err != nil {
			p.log.Errorf("autonomous tick: %v", err)
			return err
		}
		return nil
	}
	p.dev.Model().Tick(p.slot, tick)
	p.drain(ctx)

	ev := map[string]any{
		"event":  "tick",
		"device": p.dev.Name(),
		"slot":   p.slot.String(),
		"tick":   tick,
	}
	if p.cfg.TicksPerSlot > 0 {
		ev["slot_completion"] = fmt.Sprintf("%d%%", min(100, (tick+1)*100/p.cfg.TicksPerSlot))
	}
	_, _ = p.publisher.Send(ctx, p.topics.TickEvent(), ev)
	return nil
}

func (p *ExternalProtocol) drain(ctx context.Context) {
	cmds := p.queue.DrainAll()
	if len(cmds) == 0 {
		return
	}
	start := time.Now()
	for _, cmd := range cmds {
		began := time.Now()
		res := p.dispatcher.Execute(cmd, p.market)
		status := string(StatusReady)
		if !res.IsOk() {
			status = string(StatusError)
			p.log.Errorf("execute %s: %v", cmd.Kind, res.Err())
		}
		commandsExecuted.WithLabelValues(cmd.Kind.String(), status).Inc()
		data, _ := p.publisher.Result(ctx, cmd.ResponseTopic, res)
		p.emitCommand(cmd.Kind, "execution", cmd.Args, res, data, time.Since(began))
	}
	drainDuration.Observe(time.Since(start).Seconds())
	pendingCommands.WithLabelValues(p.dev.Name()).Set(0)
	p.emitLedger("tick")
}

// OnTrade books a settled trade of this device: offered energy becomes
// pledged and the physical model and statistics are updated.
func (p *ExternalProtocol) OnTrade(tr model.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := p.dev.Name()
	if tr.Seller != name && tr.Buyer != name {
		return
	}
	if tr.Seller == name {
		p.settle(model.SideOffer, tr.OfferID, tr)
	}
	if tr.Buyer == name {
		p.settle(model.SideBid, tr.BidID, tr)
	}
	p.stats.RecordTrade(tr)
	p.emitLedger("trade")
}

func (p *ExternalProtocol) settle(side model.Side, orderID string, tr model.Trade) {
	sold := side == model.SideOffer
	p.dev.Model().Trade(tr.Slot, tr.Energy, sold)
	if orderID == "" {
		p.log.Warnf("trade %s without own %s, ledger not updated", tr.ID, side)
		return
	}
	p.cache.settle(side, orderID, tr.Energy)
	st := p.ledger.State(tr.Slot)
	offered := st.OfferedSell
	if !sold {
		offered = st.OfferedBuy
	}
	energy := min(tr.Energy, offered)
	if tr.Energy-energy > ledger.Tolerance {
		p.log.Warnf("trade %s settles %.5f kWh, ledger books %.5f offered", tr.ID, tr.Energy, offered)
	}
	if energy <= 0 {
		return
	}
	var err error
	if sold {
		err = p.ledger.PledgeSell(tr.Slot, energy)
	} else {
		err = p.ledger.PledgeBuy(tr.Slot, energy)
	}
	if err != nil {
		p.log.Errorf("pledge trade %s: %v", tr.ID, err)
	}
}

// Reconfigure changes device parameters. Requests are ignored while a
// participant is registered.
func (p *ExternalProtocol) Reconfigure(params device.Params) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.log.Infof("reconfiguration ignored: device driven by participant")
		return nil
	}
	return p.dev.Reconfigure(params)
}

// Terminate ends the lifecycle. Queued commands are answered with an error.
func (p *ExternalProtocol) Terminate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Terminated {
		return nil
	}
	p.abandon(ctx, ExecutionError, ErrTerminated)
	p.setState(Terminated)
	var err error
	if uerr := p.transport.Unsubscribe(ctx, p.topics.Commands()...); uerr != nil && !errors.Is(uerr, transport.ErrNotConnected) {
		err = fmt.Errorf("unsubscribe: %w", uerr)
	}
	p.log.Infof("device terminated")
	return err
}

var _ market.TradeListener = (*ExternalProtocol)(nil)

func (p *ExternalProtocol) setState(s State) {
	if p.state == s {
		return
	}
	p.state = s
	if s != InTick && s != InMarketCycle {
		p.emitLifecycle()
	}
}

func (p *ExternalProtocol) emitLifecycle() {
	if p.buses.Lifecycle == nil {
		return
	}
	p.buses.Lifecycle.Publish(events.LifecycleEvent{
		Device:    p.dev.Name(),
		State:     p.state.String(),
		Connected: p.connected,
		Time:      time.Now(),
	})
}

func (p *ExternalProtocol) emitLedger(reason string) {
	if p.buses.Ledger == nil {
		return
	}
	st := p.ledger.State(p.slot)
	p.buses.Ledger.Publish(events.LedgerEvent{
		Device:       p.dev.Name(),
		Slot:         p.slot,
		Reason:       reason,
		EnergyToSell: st.EnergyToSell,
		EnergyToBuy:  st.EnergyToBuy,
		OfferedSell:  st.OfferedSell,
		PledgedSell:  st.PledgedSell,
		OfferedBuy:   st.OfferedBuy,
		PledgedBuy:   st.PledgedBuy,
		Pending:      p.queue.Len(),
		Time:         time.Now(),
	})
}

func (p *ExternalProtocol) emitCommand(kind Kind, stage string, args Arguments, res Result, response []byte, d time.Duration) {
	if p.buses.Commands == nil {
		return
	}
	ev := events.CommandEvent{
		Device:    p.dev.Name(),
		Slot:      p.slot,
		Command:   kind.String(),
		Stage:     stage,
		Status:    string(StatusReady),
		Arguments: args.Map(kind),
		Response:  response,
		Duration:  d,
		Time:      time.Now(),
	}
	if err := res.Err(); err != nil {
		ev.Status = string(StatusError)
		ev.Error = err.Error()
	}
	p.buses.Commands.Publish(ev)
}
