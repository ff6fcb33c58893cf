// Package transporttest provides an in-process transport for tests. Published
// telemetry, replies and alarms are recorded instead of sent.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/g2-field-team/field-daq/internal/transport"
)

// Memory records outbound messages in order.
type Memory struct {
	inbox chan transport.Request

	mu         sync.Mutex
	telemetry  [][]byte
	replies    [][]byte
	alarms     [][]byte
	publishErr error
}

func NewMemory(queueLen int) *Memory {
	if queueLen <= 0 {
		queueLen = transport.DefaultQueueLen
	}
	return &Memory{inbox: make(chan transport.Request, queueLen)}
}

// Send queues an inbound command as if it arrived from the network.
func (m *Memory) Send(payload []byte) bool {
	return transport.Offer(m.inbox, transport.Request{Payload: append([]byte(nil), payload...), Received: time.Now()})
}

func (m *Memory) Receive(ctx context.Context, timeout time.Duration) (transport.Request, bool, error) {
	return transport.Receive(ctx, m.inbox, timeout)
}

func (m *Memory) PublishTelemetry(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.telemetry = append(m.telemetry, append([]byte(nil), payload...))
	return nil
}

func (m *Memory) Reply(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, append([]byte(nil), payload...))
	return nil
}

func (m *Memory) PublishAlarm(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms = append(m.alarms, append([]byte(nil), payload...))
	return nil
}

// FailPublish makes PublishTelemetry return err until called with nil.
func (m *Memory) FailPublish(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

func (m *Memory) Telemetry() [][]byte { return m.snapshot(&m.telemetry) }
func (m *Memory) Replies() [][]byte   { return m.snapshot(&m.replies) }
func (m *Memory) Alarms() [][]byte    { return m.snapshot(&m.alarms) }

func (m *Memory) snapshot(src *[][]byte) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), (*src)...)
}
