package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/config"
)

const (
	// startupPingTimeout bounds the ping made before any session reports.
	startupPingTimeout = 10 * time.Second

	// healthPingTimeout bounds the ping made by HealthCheck.
	healthPingTimeout = 5 * time.Second

	// Session telemetry is small and bursty: a connect storm produces a
	// few points per session, so the batch flushes on time more often
	// than on size.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the subset of api.WriteAPI the observer writes through.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client is the InfluxDB sink for session telemetry.
//
// It implements session.Observer: state transitions and bridged operation
// outcomes become points in the configured bucket. Sessions call it from
// their own goroutines, so a write never waits on the network.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI pointWriter
	cfg      config.InfluxDBConfig

	mu sync.RWMutex
	// connected is cleared by Close; observer calls after that are dropped.
	connected bool
	onError   func(err error)
}

// Connect opens the telemetry sink.
//
// The server is pinged once so a misconfigured sink fails start-up
// instead of silently dropping every session's points.
//
// Parameters:
//   - ctx: Bounds the start-up ping
//   - cfg: The influxdb section of the bridge configuration
//
// Returns:
//   - *Client: Sink ready to pass to the dispatcher as its observer
//   - error: ErrDisabled when telemetry is off, or ErrConnectionFailed
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		connected: true,
	}
	go c.handleWriteErrors(writeAPI.Errors())

	return c, nil
}

// writeOptions maps the batching settings onto client options, falling
// back to the defaults for unset values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive by construction
}

// handleWriteErrors hands failed batches to the error callback. It runs
// until the write API is closed.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes buffered session points and closes the client. Points
// reported after Close are dropped.
func (c *Client) Close() error {
	if c.client == nil || c.writeAPI == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server. It is part of the bridge's start-up
// health check.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHealthCheckFailed, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server not healthy", ErrHealthCheckFailed)
	}
	return nil
}

// IsConnected reports whether the sink still accepts points.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets the callback for batches the server rejected. The
// bridge logs them; session behaviour never depends on telemetry.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
