package services

import (
	"sync"
	"time"

	"roomrelay/internal/core/ports"
)

// MetricsService keeps in-process counters for the health endpoint. It
// implements ports.MetricsRecorder alongside the Prometheus collector.
type MetricsService struct {
	mu sync.RWMutex

	activeConnections int
	connectionEvents  map[string]int
	roomsCreated      int
	roomsClosed       int
	admissions        map[string]int
	relaysDelivered   int
	relaysFailed      int
	fanoutDelivered   int
	fanoutDropped     int
	storeOps          int
	storeErrors       int
	storeLatency      time.Duration
	errors            map[string]int
	startedAt         time.Time
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	ActiveConnections int            `json:"active_connections"`
	ConnectionEvents  map[string]int `json:"connection_events"`
	RoomsCreated      int            `json:"rooms_created"`
	RoomsClosed       int            `json:"rooms_closed"`
	Admissions        map[string]int `json:"admissions"`
	RelaysDelivered   int            `json:"relays_delivered"`
	RelaysFailed      int            `json:"relays_failed"`
	FanoutDelivered   int            `json:"fanout_delivered"`
	FanoutDropped     int            `json:"fanout_dropped"`
	StoreOperations   int            `json:"store_operations"`
	StoreErrors       int            `json:"store_errors"`
	AverageStoreTime  time.Duration  `json:"average_store_time_ns"`
	Errors            map[string]int `json:"errors"`
	HealthScore       float64        `json:"health_score"`
	Uptime            time.Duration  `json:"uptime_ns"`
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		connectionEvents: make(map[string]int),
		admissions:       make(map[string]int),
		errors:           make(map[string]int),
		startedAt:        time.Now(),
	}
}

func (m *MetricsService) SetActiveConnections(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeConnections = n
}

func (m *MetricsService) RecordConnection(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionEvents[event]++
}

func (m *MetricsService) RecordRoomCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomsCreated++
}

func (m *MetricsService) RecordRoomClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomsClosed++
}

func (m *MetricsService) RecordAdmission(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admissions[outcome]++
}

func (m *MetricsService) RecordRelay(kind string, delivered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delivered {
		m.relaysDelivered++
	} else {
		m.relaysFailed++
	}
}

func (m *MetricsService) RecordFanout(kind string, delivered, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fanoutDelivered += delivered
	m.fanoutDropped += dropped
}

func (m *MetricsService) RecordStoreOperation(op string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeOps++
	m.storeLatency += duration
	if err != nil {
		m.storeErrors++
	}
}

func (m *MetricsService) RecordError(component, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[component+":"+code]++
}

func (m *MetricsService) Snapshot() StatsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := StatsSnapshot{
		ActiveConnections: m.activeConnections,
		ConnectionEvents:  copyCounts(m.connectionEvents),
		RoomsCreated:      m.roomsCreated,
		RoomsClosed:       m.roomsClosed,
		Admissions:        copyCounts(m.admissions),
		RelaysDelivered:   m.relaysDelivered,
		RelaysFailed:      m.relaysFailed,
		FanoutDelivered:   m.fanoutDelivered,
		FanoutDropped:     m.fanoutDropped,
		StoreOperations:   m.storeOps,
		StoreErrors:       m.storeErrors,
		Errors:            copyCounts(m.errors),
		Uptime:            time.Since(m.startedAt),
	}
	if m.storeOps > 0 {
		s.AverageStoreTime = m.storeLatency / time.Duration(m.storeOps)
	}
	s.HealthScore = m.calculateHealthScore()
	return s
}

// calculateHealthScore weighs delivery and store success into 0..100.
func (m *MetricsService) calculateHealthScore() float64 {
	score := 100.0

	if total := m.relaysDelivered + m.relaysFailed; total > 0 {
		score -= 30.0 * float64(m.relaysFailed) / float64(total)
	}
	if total := m.fanoutDelivered + m.fanoutDropped; total > 0 {
		score -= 30.0 * float64(m.fanoutDropped) / float64(total)
	}
	if m.storeOps > 0 {
		score -= 40.0 * float64(m.storeErrors) / float64(m.storeOps)
	}

	if score < 0 {
		return 0
	}
	return score
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MultiRecorder forwards every measurement to each recorder in order.
type MultiRecorder []ports.MetricsRecorder

func (m MultiRecorder) SetActiveConnections(n int) {
	for _, r := range m {
		r.SetActiveConnections(n)
	}
}

func (m MultiRecorder) RecordConnection(event string) {
	for _, r := range m {
		r.RecordConnection(event)
	}
}

func (m MultiRecorder) RecordRoomCreated() {
	for _, r := range m {
		r.RecordRoomCreated()
	}
}

func (m MultiRecorder) RecordRoomClosed() {
	for _, r := range m {
		r.RecordRoomClosed()
	}
}

func (m MultiRecorder) RecordAdmission(outcome string) {
	for _, r := range m {
		r.RecordAdmission(outcome)
	}
}

func (m MultiRecorder) RecordRelay(kind string, delivered bool) {
	for _, r := range m {
		r.RecordRelay(kind, delivered)
	}
}

func (m MultiRecorder) RecordFanout(kind string, delivered, dropped int) {
	for _, r := range m {
		r.RecordFanout(kind, delivered, dropped)
	}
}

func (m MultiRecorder) RecordStoreOperation(op string, duration time.Duration, err error) {
	for _, r := range m {
		r.RecordStoreOperation(op, duration, err)
	}
}

func (m MultiRecorder) RecordError(component, code string) {
	for _, r := range m {
		r.RecordError(component, code)
	}
}
