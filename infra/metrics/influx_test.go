package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gridsingularity/d3a/core/events"
	coremetrics "github.com/gridsingularity/d3a/core/metrics"
	"github.com/gridsingularity/d3a/core/model"
)

type bodyRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (b *bodyRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, strings.TrimSpace(string(data)))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (b *bodyRecorder) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bodies...)
}

func lineProtocol(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordCommand(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	slot := model.SlotAt(now)
	ev := events.CommandEvent{
		Device:   "battery",
		Slot:     slot,
		Command:  "offer",
		Stage:    "execution",
		Status:   "error",
		Error:    "not enough energy",
		Duration: 1500 * time.Microsecond,
		Time:     now,
	}
	if err := sink.RecordCommand(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("participant_command").
		AddTag("device", "battery").
		AddTag("command", "offer").
		AddTag("stage", "execution").
		AddTag("status", "error").
		AddField("slot", slot.String()).
		AddField("duration_ms", 1.5).
		AddField("error", "not enough energy").
		SetTime(now)
	bodies := rec.all()
	if len(bodies) != 1 || bodies[0] != lineProtocol(p) {
		t.Errorf("unexpected bodies: %#v", bodies)
	}
}

func TestInfluxSink_RecordLedger(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	slot := model.SlotAt(now)
	ev := events.LedgerEvent{
		Device:       "battery",
		Slot:         slot,
		Reason:       "tick",
		EnergyToSell: 5,
		EnergyToBuy:  4,
		OfferedSell:  1.23456,
		Pending:      2,
		Time:         now,
	}
	if err := sink.RecordLedger(ev); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("ledger_state").
		AddTag("device", "battery").
		AddTag("reason", "tick").
		AddField("slot", slot.String()).
		AddField("energy_to_sell", 5.0).
		AddField("energy_to_buy", 4.0).
		AddField("offered_sell", 1.235).
		AddField("pledged_sell", 0.0).
		AddField("offered_buy", 0.0).
		AddField("pledged_buy", 0.0).
		AddField("pending", 2).
		SetTime(now)
	bodies := rec.all()
	if len(bodies) != 1 || bodies[0] != lineProtocol(p) {
		t.Errorf("bodies: %#v", bodies)
	}
}

func TestInfluxSink_RecordLifecycle(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	if err := sink.RecordLifecycle(events.LifecycleEvent{Device: "load", State: "active", Connected: true, Time: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("device_lifecycle").
		AddTag("device", "load").
		AddField("state", "active").
		AddField("connected", true).
		SetTime(now)
	bodies := rec.all()
	if len(bodies) != 1 || bodies[0] != lineProtocol(p) {
		t.Errorf("bodies: %#v", bodies)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if _, ok := sink.(coremetrics.NopSink); !ok {
		t.Fatalf("unexpected sink type %T", sink)
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
