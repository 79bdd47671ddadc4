package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsingularity/d3a/config"
	"github.com/gridsingularity/d3a/core/factory"
	"github.com/gridsingularity/d3a/core/journal"
	"github.com/gridsingularity/d3a/core/model"
	"github.com/gridsingularity/d3a/core/protocol"
	"github.com/gridsingularity/d3a/internal/eventbus"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Simulation: config.SimulationConfig{
			SlotLengthMinutes: 15,
			TicksPerSlot:      2,
			Slots:             2,
			Start:             "2024-06-01T10:00:00Z",
		},
		Devices: []factory.ModuleConfig{
			{Type: "storage", Conf: map[string]any{"name": "battery", "capacity_kwh": 10.0, "initial_soc": 0.5}},
			{Type: "load", Conf: map[string]any{"name": "house", "power_kw": 1.0}},
		},
	}
	cfg.SetDefaults()
	cfg.Simulation.TickIntervalMS = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

type slotTrades struct {
	mu     sync.Mutex
	trades map[model.TimeSlot][]model.Trade
}

func (s *slotTrades) record(slot model.TimeSlot, trades []model.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trades == nil {
		s.trades = map[model.TimeSlot][]model.Trade{}
	}
	s.trades[slot] = trades
}

func TestServiceRunsAutonomousDevices(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer svc.Close()

	rec := &slotTrades{}
	svc.OnSlot = rec.record
	require.NoError(t, svc.Run(context.Background()))

	require.Len(t, rec.trades, 2)
	for slot, trades := range rec.trades {
		require.Len(t, trades, 1, slot.String())
		tr := trades[0]
		assert.Equal(t, "battery", tr.Seller)
		assert.Equal(t, "house", tr.Buyer)
		assert.InDelta(t, 0.25, tr.Energy, 1e-9)
		assert.InDelta(t, 30, tr.EnergyRate(), 1e-9)
	}
	for _, p := range svc.Protocols() {
		assert.Equal(t, protocol.Terminated, p.State())
	}
}

func TestServiceParticipantTrades(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.Slots = 1
	cfg.Journal = journal.Config{Backend: "jsonl", Path: filepath.Join(t.TempDir(), "journal.jsonl")}
	bus := eventbus.NewTopicBus()
	svc, err := NewWithTransport(cfg, bus)
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	var (
		mu        sync.Mutex
		responses []map[string]any
	)
	require.NoError(t, bus.Subscribe(ctx, "d3a/battery/response/#", func(_ string, payload []byte) {
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err == nil {
			mu.Lock()
			responses = append(responses, m)
			mu.Unlock()
		}
	}))

	require.NoError(t, svc.Activate(ctx))
	require.NoError(t, bus.Publish(ctx, "d3a/battery/register_participant", []byte("{}")))
	require.True(t, svc.Protocols()[0].Connected())

	svc.OnTick = func(_ model.TimeSlot, tick int) {
		if tick == 0 {
			_ = bus.Publish(ctx, "d3a/battery/offer", []byte(`{"price": 5, "energy": 0.5}`))
		}
	}
	rec := &slotTrades{}
	svc.OnSlot = rec.record
	require.NoError(t, svc.Run(ctx))

	slot := model.SlotAt(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	require.Len(t, rec.trades[slot], 1)
	tr := rec.trades[slot][0]
	assert.Equal(t, "battery", tr.Seller)
	assert.InDelta(t, 0.25, tr.Energy, 1e-9)
	assert.InDelta(t, 10, tr.EnergyRate(), 1e-9)

	mu.Lock()
	var offerResp map[string]any
	for _, r := range responses {
		if r["command"] == "offer" {
			offerResp = r
		}
	}
	mu.Unlock()
	require.NotNil(t, offerResp, "no offer response")
	assert.Equal(t, "ready", offerResp["status"])

	store, err := journal.Open(cfg.Journal)
	require.NoError(t, err)
	defer store.Close()
	recs, err := store.Query(ctx, journal.Query{Device: "battery", Command: "offer"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ready", recs[0].Status)
}

func TestServiceStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.Slots = 0
	cfg.Simulation.TickIntervalMS = 5
	svc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestNewRejectsBadDevice(t *testing.T) {
	cfg := testConfig(t)
	cfg.Devices = []factory.ModuleConfig{{Type: "windmill", Conf: map[string]any{"name": "w"}}}
	_, err := NewWithTransport(cfg, eventbus.NewTopicBus())
	assert.Error(t, err)

	cfg.Devices = nil
	_, err = NewWithTransport(cfg, eventbus.NewTopicBus())
	assert.Error(t, err)
}
