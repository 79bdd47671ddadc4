package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gridsingularity/d3a/core/device"
	"github.com/gridsingularity/d3a/core/model"
	inframarket "github.com/gridsingularity/d3a/infra/market"
	"github.com/gridsingularity/d3a/internal/eventbus"
)

var (
	slot     = model.SlotAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	nextSlot = slot.Add(15 * time.Minute)
)

type fakeModel struct {
	toSell, toBuy float64
	ticks         int
	cycles        int
	sold, bought  float64
}

func (m *fakeModel) Tick(model.TimeSlot, int)            { m.ticks++ }
func (m *fakeModel) MarketCycle(_, _ model.TimeSlot)     { m.cycles++ }
func (m *fakeModel) EnergyToSell(model.TimeSlot) float64 { return m.toSell }
func (m *fakeModel) EnergyToBuy(model.TimeSlot) float64  { return m.toBuy }
func (m *fakeModel) FreeStorage(model.TimeSlot) float64  { return 7 }
func (m *fakeModel) UsedStorage() float64                { return 3 }
func (m *fakeModel) Summary(model.TimeSlot) map[string]float64 {
	return map[string]float64{"soc_history_%": 30}
}
func (m *fakeModel) Trade(_ model.TimeSlot, e float64, sold bool) {
	if sold {
		m.sold += e
	} else {
		m.bought += e
	}
}

type fakeDevice struct {
	name         string
	model        *fakeModel
	autoCycles   int
	autoTicks    int
	reconfigured int
}

func (d *fakeDevice) Name() string                           { return d.name }
func (d *fakeDevice) Kind() device.Kind                      { return device.KindStorage }
func (d *fakeDevice) Model() device.PhysicalModel            { return d.model }
func (d *fakeDevice) OnActivate(device.TradingContext) error { return nil }
func (d *fakeDevice) OnMarketCycle(device.TradingContext) error {
	d.autoCycles++
	return nil
}
func (d *fakeDevice) OnTick(device.TradingContext, int) error {
	d.autoTicks++
	return nil
}
func (d *fakeDevice) Reconfigure(device.Params) error {
	d.reconfigured++
	return nil
}

// recorder collects every response and event published for a device.
type recorder struct {
	mu   sync.Mutex
	msgs []message
}

type message struct {
	topic string
	body  map[string]any
}

func (r *recorder) handle(topic string, payload []byte) {
	var body map[string]any
	_ = json.Unmarshal(payload, &body)
	r.mu.Lock()
	r.msgs = append(r.msgs, message{topic: topic, body: body})
	r.mu.Unlock()
}

func (r *recorder) on(topic string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, m := range r.msgs {
		if m.topic == topic {
			out = append(out, m.body)
		}
	}
	return out
}

func (r *recorder) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if len(m.topic) >= len(prefix) && m.topic[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	bus    *eventbus.TopicBus
	rec    *recorder
	dev    *fakeDevice
	p      *ExternalProtocol
	market *inframarket.Memory
}

func newHarness(t *testing.T, order DrainOrder) *harness {
	t.Helper()
	dev := &fakeDevice{name: "dev", model: &fakeModel{toSell: 5, toBuy: 4}}
	h := newHarnessFor(t, order, dev)
	h.dev = dev
	return h
}

// newHarnessFor wraps any device named "dev".
func newHarnessFor(t *testing.T, order DrainOrder, dev device.Tradeable) *harness {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	ctx := context.Background()
	bus := eventbus.NewTopicBus()
	rec := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, "d3a/dev/response/#", rec.handle))
	require.NoError(t, bus.Subscribe(ctx, "d3a/dev/events/#", rec.handle))

	p, err := New(dev, bus, Config{DrainOrder: string(order), TicksPerSlot: 4}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Activate(ctx))
	return &harness{t: t, ctx: ctx, bus: bus, rec: rec, p: p}
}

func (h *harness) send(command, payload string) {
	h.t.Helper()
	require.NoError(h.t, h.bus.Publish(h.ctx, "d3a/dev/"+command, []byte(payload)))
}

func (h *harness) register() { h.send(RegisterCommand, "") }

// cycle opens a fresh market for s and runs the market cycle on it.
func (h *harness) cycle(s model.TimeSlot) {
	h.t.Helper()
	h.market = inframarket.NewMemory(s, inframarket.Config{})
	h.market.Listen("dev", h.p)
	require.NoError(h.t, h.p.MarketCycle(h.ctx, h.market))
}

func float(v float64) *float64 { return &v }

func (h *harness) tick(n int) {
	h.t.Helper()
	require.NoError(h.t, h.p.Tick(h.ctx, n))
}

func (h *harness) responses(command string) []map[string]any {
	return h.rec.on("d3a/dev/response/" + command)
}
