package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics counts gateway activity and serves it as JSON on /metrics.
type Metrics struct {
	activeConns   atomic.Int64
	events        atomic.Uint64
	uploadsSealed atomic.Uint64
	blobsUploaded atomic.Uint64
	flowFailures  atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncEvent() {
	m.events.Add(1)
}

func (m *Metrics) IncUploadSealed() {
	m.uploadsSealed.Add(1)
}

func (m *Metrics) AddUploads(n int) {
	m.blobsUploaded.Add(uint64(n))
}

func (m *Metrics) IncFailure() {
	m.flowFailures.Add(1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"active_connections":   m.activeConns.Load(),
		"events_total":         m.events.Load(),
		"uploads_sealed_total": m.uploadsSealed.Load(),
		"blobs_uploaded_total": m.blobsUploaded.Load(),
		"flow_failures_total":  m.flowFailures.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
