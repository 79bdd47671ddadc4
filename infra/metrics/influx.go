package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gridsingularity/d3a/core/events"
	coremetrics "github.com/gridsingularity/d3a/core/metrics"
	"github.com/gridsingularity/d3a/infra/logger"
)

// InfluxSink writes participant events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordCommand writes one participant_command point.
func (s *InfluxSink) RecordCommand(ev events.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("participant_command").
		AddTag("device", ev.Device).
		AddTag("command", ev.Command).
		AddTag("stage", ev.Stage).
		AddTag("status", ev.Status).
		AddField("slot", ev.Slot.String()).
		AddField("duration_ms", round3(float64(ev.Duration)/float64(time.Millisecond)))
	if ev.Error != "" {
		p = p.AddField("error", ev.Error)
	}
	p = p.SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordLedger writes a ledger_state point.
func (s *InfluxSink) RecordLedger(ev events.LedgerEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("ledger_state").
		AddTag("device", ev.Device).
		AddTag("reason", ev.Reason).
		AddField("slot", ev.Slot.String()).
		AddField("energy_to_sell", round3(ev.EnergyToSell)).
		AddField("energy_to_buy", round3(ev.EnergyToBuy)).
		AddField("offered_sell", round3(ev.OfferedSell)).
		AddField("pledged_sell", round3(ev.PledgedSell)).
		AddField("offered_buy", round3(ev.OfferedBuy)).
		AddField("pledged_buy", round3(ev.PledgedBuy)).
		AddField("pending", ev.Pending).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordLifecycle writes a device_lifecycle point.
func (s *InfluxSink) RecordLifecycle(ev events.LifecycleEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("device_lifecycle").
		AddTag("device", ev.Device).
		AddField("state", ev.State).
		AddField("connected", ev.Connected).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client resources.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
