package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/gridsteer/kecc/core/metrics"
	"github.com/gridsteer/kecc/infra/logger"
)

// InfluxSink writes fleet events to an InfluxDB instance.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx_sink"),
	}
}

// NewInfluxSinkWithFallback health-checks the endpoint and falls back to a
// NopSink when it is unreachable, so a missing InfluxDB never blocks the
// service.
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

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func (s *InfluxSink) RecordPoll(ev coremetrics.PollEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("charger_poll").
		AddTag("ip", ev.IP).
		AddTag("success", strconv.FormatBool(ev.Success)).
		AddField("duration_ms", ev.Duration.Milliseconds()).
		SetTime(ev.Time)
	if ev.Serial != "" {
		p.AddTag("serial", ev.Serial)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordSnapshot(ev coremetrics.SnapshotEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap := ev.Snapshot
	p := write.NewPointWithMeasurement("charger_state").
		AddTag("ip", snap.IP).
		AddTag("state", snap.StateText).
		SetTime(ev.Time)
	if snap.Serial != "" {
		p.AddTag("serial", snap.Serial)
	}
	if snap.State != nil {
		p.AddField("state_code", *snap.State)
	}
	if snap.Plug != nil {
		p.AddField("plug_code", *snap.Plug)
	}
	if snap.PowerKW != nil {
		p.AddField("power_kw", round3(*snap.PowerKW))
	}
	if snap.SessionEnergyKWh != nil {
		p.AddField("session_energy_kwh", round3(*snap.SessionEnergyKWh))
	}
	if snap.TotalEnergyKWh != nil {
		p.AddField("total_energy_kwh", round3(*snap.TotalEnergyKWh))
	}
	if snap.UserLimitMA != nil {
		p.AddField("user_limit_ma", *snap.UserLimitMA)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordAllocations(evs []coremetrics.AllocationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ev := range evs {
		p := write.NewPointWithMeasurement("allocation").
			AddTag("ip", ev.IP).
			AddTag("reason", ev.Reason).
			AddTag("cycle_id", ev.CycleID).
			AddTag("applied", strconv.FormatBool(ev.Applied)).
			AddField("milliamps", ev.MilliAmps).
			SetTime(ev.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *InfluxSink) RecordCycle(ev coremetrics.CycleEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("coordinator_cycle").
		AddTag("strategy", ev.Strategy).
		AddTag("cycle_id", ev.CycleID).
		AddField("budget_a", ev.BudgetA).
		AddField("active_chargers", ev.ActiveChargers).
		AddField("balancing", ev.Balancing).
		AddField("insufficient_budget", ev.InsufficientBudget).
		AddField("total_power_kw", round3(ev.TotalPowerKW)).
		AddField("duration_ms", ev.Duration.Milliseconds()).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
