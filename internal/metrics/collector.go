// Package metrics exposes the service's prometheus instrumentation. The
// gauges mirror the diagnostic counters the watch integration surfaces:
// active watches, monitored entities, event throughput and buffer usage.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-wristlink/internal/delta"
)

var (
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wristlink_polls_total",
		Help: "Delta poll requests by outcome status",
	}, []string{"status"})

	FramesEncodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wristlink_frames_encoded_total",
		Help: "Camera frames processed and encoded",
	})

	BatchSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wristlink_batch_snapshots_total",
		Help: "Batch snapshot rows served",
	})

	PairingRedeemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wristlink_pairing_redeems_total",
		Help: "Pairing code redemptions by outcome",
	}, []string{"outcome"})

	PushForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wristlink_push_forwards_total",
		Help: "Push payloads handed to the gateway by outcome",
	}, []string{"outcome"})
)

// StreamCounter reports active MJPEG streams.
type StreamCounter interface {
	Count() int
}

// DeltaStats reports engine diagnostics.
type DeltaStats interface {
	Stats() delta.Stats
}

// Collector polls the engine and the stream coordinator into gauges.
type Collector struct {
	engine  DeltaStats
	streams StreamCounter

	activeWatches     prometheus.Gauge
	monitoredEntities prometheus.Gauge
	eventsProcessed   prometheus.Gauge
	bufferUsage       prometheus.Gauge
	eventsPerMinute   prometheus.Gauge
	activeStreams     prometheus.Gauge
}

func NewCollector(engine DeltaStats, streams StreamCounter) *Collector {
	c := &Collector{
		engine:  engine,
		streams: streams,
		activeWatches: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wristlink_active_watches",
			Help: "Connected watch sessions, excluding diagnostic probes",
		}),
		monitoredEntities: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wristlink_monitored_entities",
			Help: "Total entity subscriptions across all watches",
		}),
		eventsProcessed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wristlink_events_processed",
			Help: "State change events ingested since start (current cursor)",
		}),
		bufferUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wristlink_event_buffer_usage",
			Help: "Event ring occupancy as a fraction of capacity",
		}),
		eventsPerMinute: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wristlink_events_per_minute",
			Help: "State change events in the trailing 60 seconds",
		}),
		activeStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wristlink_active_camera_streams",
			Help: "Open MJPEG stream sessions",
		}),
	}
	return c
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

func (c *Collector) collect() {
	stats := c.engine.Stats()
	c.activeWatches.Set(float64(stats.RealSessions))
	c.monitoredEntities.Set(float64(stats.MonitoredEntities))
	c.eventsProcessed.Set(float64(stats.Cursor))
	if stats.BufferCap > 0 {
		c.bufferUsage.Set(float64(stats.BufferLen) / float64(stats.BufferCap))
	}
	c.eventsPerMinute.Set(stats.EventsPerMinute)
	c.activeStreams.Set(float64(c.streams.Count()))
}
