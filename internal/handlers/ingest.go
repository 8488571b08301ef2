package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"fogpulse/internal/logger"
	"fogpulse/internal/metrics"
	"fogpulse/internal/models"
)

// ReadingSink accepts readings for the next cycle.
type ReadingSink interface {
	Push(models.MetricReading) bool
}

// IngestHandler accepts metric readings over HTTP
type IngestHandler struct {
	sink        ReadingSink
	maxBodySize int64
	now         func() time.Time
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	Sink        ReadingSink
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 1 << 20 // 1MB default
	}

	return &IngestHandler{
		sink:        cfg.Sink,
		maxBodySize: maxBodySize,
		now:         time.Now,
	}
}

// IngestRequest represents the incoming JSON payload (single or batch)
type IngestRequest struct {
	// Single reading (if Readings is empty)
	Reading *ReadingInput `json:"reading,omitempty"`

	// Batch of readings
	Readings []ReadingInput `json:"readings,omitempty"`
}

// ReadingInput is the wire form of a reading. The timestamp is a string
// for flexible parsing and defaults to the receive time when omitted.
type ReadingInput struct {
	NodeID    string             `json:"node_id"`
	Timestamp string             `json:"timestamp,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
	Anomaly   string             `json:"anomaly,omitempty"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation error for a specific reading
type IngestError struct {
	Index  int    `json:"index"`
	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

var errBufferFull = errors.New("ingest buffer full, try again later")

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.IngestBatchSize.Observe(float64(len(inputs)))

	response := h.process(inputs)

	status := http.StatusAccepted
	if response.Accepted == 0 {
		status = http.StatusBadRequest
		if len(response.Errors) > 0 && response.Errors[0].Error == errBufferFull.Error() {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, response)
}

// parseBody accepts {"readings": [...]}, {"reading": {...}}, a bare array,
// or a bare reading object.
func parseBody(body []byte) ([]ReadingInput, error) {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil {
		if len(req.Readings) > 0 {
			return req.Readings, nil
		}
		if req.Reading != nil {
			return []ReadingInput{*req.Reading}, nil
		}
	}

	var batch []ReadingInput
	if err := json.Unmarshal(body, &batch); err == nil && len(batch) > 0 {
		return batch, nil
	}

	var single ReadingInput
	if err := json.Unmarshal(body, &single); err == nil && single.NodeID != "" {
		return []ReadingInput{single}, nil
	}

	return nil, fmt.Errorf("invalid JSON format: expected a reading object or an array of readings")
}

// process validates and buffers each reading. Topology and ordering checks
// happen in the engine.
func (h *IngestHandler) process(inputs []ReadingInput) IngestResponse {
	log := logger.WithComponent("ingest")
	response := IngestResponse{}

	reject := func(i int, nodeID string, err error) {
		response.Rejected++
		response.Errors = append(response.Errors, IngestError{Index: i, NodeID: nodeID, Error: err.Error()})
	}

	for i, input := range inputs {
		reading, err := h.convert(input)
		if err != nil {
			reject(i, input.NodeID, err)
			continue
		}
		reading.Normalize()
		if err := reading.Validate(); err != nil {
			reject(i, reading.NodeID, err)
			continue
		}
		if !h.sink.Push(reading) {
			reject(i, reading.NodeID, errBufferFull)
			continue
		}
		response.Accepted++
	}

	if response.Rejected > 0 {
		log.Debug().
			Int("accepted", response.Accepted).
			Int("rejected", response.Rejected).
			Msg("ingest batch partially rejected")
	}
	response.Success = response.Rejected == 0
	return response
}

func (h *IngestHandler) convert(input ReadingInput) (models.MetricReading, error) {
	ts := h.now().UTC()
	if input.Timestamp != "" {
		parsed, err := models.ParseTimestamp(input.Timestamp)
		if err != nil {
			return models.MetricReading{}, fmt.Errorf("timestamp: %w", err)
		}
		ts = parsed
	}
	return models.MetricReading{NodeID: input.NodeID, Timestamp: ts, Metrics: input.Metrics, Anomaly: input.Anomaly}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
