// Package health tracks service liveness and manages reconnection backoff.
package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zapdesk/autoflow/internal/config"
)

// Connectable is the slice of the message channel the monitor observes.
type Connectable interface {
	IsConnected() bool
}

// Status is a point-in-time snapshot of service health.
type Status struct {
	Connected           bool      `json:"connected"`
	UptimeSeconds       int64     `json:"uptime_seconds"`
	LastEvent           time.Time `json:"last_event"`
	ReconnectCount      int       `json:"reconnect_count"`
	EventsReceived      int64     `json:"events_received"`
	ExecutionsSucceeded int64     `json:"executions_succeeded"`
	ExecutionsFailed    int64     `json:"executions_failed"`
}

// Monitor tracks engine activity and manages reconnection with exponential
// backoff. It implements the engine's Observer.
type Monitor struct {
	conn Connectable
	log  *slog.Logger

	reconnectBackoff *backoff.ExponentialBackOff
	maxRetries       int
	retryCount       int

	startTime           time.Time
	lastEvent           time.Time
	reconnectCount      int
	eventsReceived      atomic.Int64
	executionsSucceeded atomic.Int64
	executionsFailed    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewMonitor creates a health monitor for the given connection.
func NewMonitor(cfg *config.Config, conn Connectable) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectBaseDelay
	bo.MaxInterval = cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0 // Never stop based on elapsed time
	bo.Reset()

	return &Monitor{
		conn:             conn,
		log:              slog.Default(),
		reconnectBackoff: bo,
		maxRetries:       cfg.ReconnectMaxRetries,
		startTime:        time.Now(),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Start begins tracking uptime.
func (m *Monitor) Start() {
	m.startTime = time.Now()
	m.log.Info("health monitor started")
}

// Stop cancels pending reconnect attempts.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("health monitor stopped")
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connected := false
	if m.conn != nil {
		connected = m.conn.IsConnected()
	}

	return Status{
		Connected:           connected,
		UptimeSeconds:       int64(time.Since(m.startTime).Seconds()),
		LastEvent:           m.lastEvent,
		ReconnectCount:      m.reconnectCount,
		EventsReceived:      m.eventsReceived.Load(),
		ExecutionsSucceeded: m.executionsSucceeded.Load(),
		ExecutionsFailed:    m.executionsFailed.Load(),
	}
}

// RecordEvent records one conversation event entering the engine.
func (m *Monitor) RecordEvent() {
	m.eventsReceived.Add(1)
	m.mu.Lock()
	m.lastEvent = time.Now()
	m.mu.Unlock()
}

// RecordExecution records one rule execution reaching a terminal state.
func (m *Monitor) RecordExecution(success bool) {
	if success {
		m.executionsSucceeded.Add(1)
	} else {
		m.executionsFailed.Add(1)
	}
}

// GetLastEventTime returns the time of the last recorded event.
func (m *Monitor) GetLastEventTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastEvent
}

// GetNextReconnectDelay returns the next reconnect delay using exponential backoff.
func (m *Monitor) GetNextReconnectDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount++
	return m.reconnectBackoff.NextBackOff()
}

// ResetReconnectBackoff resets the backoff to initial values.
func (m *Monitor) ResetReconnectBackoff() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnectBackoff.Reset()
	m.retryCount = 0
}

// IsMaxRetriesExceeded returns true if max reconnection retries have been exceeded.
func (m *Monitor) IsMaxRetriesExceeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.retryCount > m.maxRetries
}

// IncrementReconnectCount increments the total reconnection count.
func (m *Monitor) IncrementReconnectCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectCount++
}

// GetReconnectCount returns the total number of reconnections.
func (m *Monitor) GetReconnectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnectCount
}

// ScheduleReconnect schedules a reconnection attempt with backoff.
func (m *Monitor) ScheduleReconnect(callback func()) {
	if m.IsMaxRetriesExceeded() {
		m.log.Error("max reconnection retries exceeded")
		return
	}

	delay := m.GetNextReconnectDelay()
	m.log.Info("scheduling reconnect", "delay", delay, "attempt", m.retryCount)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case <-time.After(delay):
			m.IncrementReconnectCount()
			callback()
		case <-m.ctx.Done():
			return
		}
	}()
}

// OnConnectionRestored should be called when connection is restored.
func (m *Monitor) OnConnectionRestored() {
	m.ResetReconnectBackoff()
	m.log.Info("connection restored, backoff reset")
}
