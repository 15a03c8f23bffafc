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

	coremetrics "github.com/kilianp07/dercontrol/core/metrics"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/infra/logger"
)

// InfluxConfig holds the InfluxDB connection settings.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	Site   string `json:"site"`
}

// InfluxSink writes control decisions to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	site     string
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		site:     cfg.Site,
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
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

func (s *InfluxSink) point(measurement string) *write.Point {
	p := write.NewPointWithMeasurement(measurement)
	if s.site != "" {
		p.AddTag("site", s.site)
	}
	return p
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSetpoint writes every defined field of the setpoint.
func (s *InfluxSink) RecordSetpoint(rec coremetrics.SetpointRecord) error {
	p := s.point("der_setpoint").
		AddTag("applied", strconv.FormatBool(rec.Applied)).
		AddField("rated_power_w", round3(rec.RatedPowerW))
	for _, f := range rec.Limit.Fields().Fields() {
		v, _ := rec.Limit.Get(f)
		if f.IsBool() {
			p.AddField(f.String(), model.AsBool(v))
			continue
		}
		p.AddField(f.String()+"_w", round3(v))
	}
	return s.write(p.SetTime(rec.Time))
}

// RecordAck writes an acknowledgement attempt.
func (s *InfluxSink) RecordAck(rec coremetrics.AckRecord) error {
	p := s.point("der_ack").
		AddTag("status", rec.Status).
		AddField("mrid", rec.MRID).
		AddField("success", rec.Success)
	if rec.Error != "" {
		p.AddField("error", rec.Error)
	}
	return s.write(p.SetTime(rec.Time))
}

// RecordSample writes a device or site measurement.
func (s *InfluxSink) RecordSample(rec coremetrics.SampleRecord) error {
	kind := "device"
	if rec.Site {
		kind = "site"
	}
	p := s.point("der_sample").
		AddTag("kind", kind).
		AddField("active_power_w", round3(rec.ActivePowerW)).
		AddField("voltage_v", round3(rec.VoltageV)).
		AddField("frequency_hz", round3(rec.FrequencyHz))
	if rec.DeviceID != "" {
		p.AddTag("device_id", rec.DeviceID)
	}
	if rec.RatedPowerW > 0 {
		p.AddField("rated_power_w", round3(rec.RatedPowerW))
	}
	return s.write(p.SetTime(rec.Time))
}

// RecordScheduleChange writes a winner change.
func (s *InfluxSink) RecordScheduleChange(rec coremetrics.ScheduleChangeRecord) error {
	p := s.point("der_schedule_change").
		AddTag("field", rec.Field.String()).
		AddField("mrid", rec.MRID).
		AddField("previous_mrid", rec.PreviousMRID)
	return s.write(p.SetTime(rec.Time))
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
