package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-modbus-core/internal/audit"
)

const (
	defaultHistoryRange = time.Hour
	defaultHistoryStep  = time.Minute

	// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
	maxQueryParamLen = 100
)

// metricsLatestEntry represents the latest value for one performance metric.
type metricsLatestEntry struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// promVectorResponse models the Prometheus instant query response payload.
type promVectorResponse struct {
	Status string          `json:"status"`
	Data   promVectorData  `json:"data"`
	Error  string          `json:"error,omitempty"`
	Type   json.RawMessage `json:"errorType,omitempty"`
}

type promVectorData struct {
	ResultType string             `json:"resultType"`
	Result     []promVectorResult `json:"result"`
}

type promVectorResult struct {
	Metric map[string]string `json:"metric"`
	Value  []any             `json:"value"`
}

// handleEnginePerformance returns the engine-wide rolling operation summary.
func (s *Server) handleEnginePerformance(w http.ResponseWriter, _ *http.Request) {
	summary, err := s.engine.Performance("")
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleDevicePerformance returns the rolling operation summary for one device.
func (s *Server) handleDevicePerformance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	summary, err := s.engine.Performance(name)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleResetEnginePerformance clears the rolling history for every device.
func (s *Server) handleResetEnginePerformance(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.ResetPerformance(""); err != nil {
		writeEngineError(w, err)
		return
	}

	s.auditLog(audit.ActionReset, audit.EntityEngine, "", nil)

	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "scope": "engine"})
}

// handleResetDevicePerformance clears the rolling history for one device.
func (s *Server) handleResetDevicePerformance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.engine.ResetPerformance(name); err != nil {
		writeEngineError(w, err)
		return
	}

	s.auditLog(audit.ActionReset, audit.EntityDevice, name, nil)

	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "device": name})
}

// handleListErrors returns the active failure records across all devices.
func (s *Server) handleListErrors(w http.ResponseWriter, _ *http.Request) {
	records := s.engine.Errors()
	writeJSON(w, http.StatusOK, map[string]any{"errors": records, "count": len(records)})
}

// handleDevicePerformanceHistory proxies a PromQL range query over the
// engine_metrics series the metrics reporter writes to VictoriaMetrics.
//
// Query parameters:
//   - metric: series to query (success_rate, avg_duration_ms, ...), required
//   - start, end: RFC3339 or Unix timestamps (default: last hour)
//   - step: Prometheus duration (default: 1m)
func (s *Server) handleDevicePerformanceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid device name")
		return
	}

	metric := strings.TrimSpace(r.URL.Query().Get("metric"))
	if metric == "" {
		writeBadRequest(w, "metric is required")
		return
	}
	if len(metric) > maxQueryParamLen {
		writeBadRequest(w, "metric exceeds maximum length")
		return
	}

	start, end, step, err := parseHistoryRangeParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if _, ok := s.findDevice(name); !ok {
		writeNotFound(w, "device not found")
		return
	}

	if s.tsdb == nil || !s.tsdb.IsConnected() {
		writeServiceUnavailable(w, "time-series database unavailable")
		return
	}

	query, err := buildPerformanceQuery(name, metric)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	resp, err := s.tsdb.QueryRange(ctx, query, start, end, step)
	if err != nil {
		writeServiceUnavailable(w, "time-series database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDevicePerformanceLatest returns the most recent value of every
// performance metric recorded for a device.
func (s *Server) handleDevicePerformanceLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid device name")
		return
	}

	if _, ok := s.findDevice(name); !ok {
		writeNotFound(w, "device not found")
		return
	}

	if s.tsdb == nil || !s.tsdb.IsConnected() {
		writeServiceUnavailable(w, "time-series database unavailable")
		return
	}

	query, err := buildPerformanceQuery(name, "")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	resp, err := s.tsdb.QueryInstant(ctx, query)
	if err != nil {
		writeServiceUnavailable(w, "time-series database unavailable")
		return
	}

	latest, metrics, err := parseMetricsSummary(resp)
	if err != nil {
		writeServiceUnavailable(w, "time-series database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":  name,
		"metrics": metrics,
		"latest":  latest,
	})
}

// parseHistoryRangeParams parses start, end, and step parameters with defaults.
func parseHistoryRangeParams(r *http.Request) (time.Time, time.Time, time.Duration, error) {
	now := time.Now().UTC()
	start, err := parseTimeParam(r.URL.Query().Get("start"), now.Add(-defaultHistoryRange))
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid start timestamp")
	}

	end, err := parseTimeParam(r.URL.Query().Get("end"), now)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid end timestamp")
	}

	step, err := parseStepParam(r.URL.Query().Get("step"))
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid step")
	}
	if step <= 0 {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid step")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("end must be after start")
	}

	return start, end, step, nil
}

// parseTimeParam parses an ISO8601 or Unix timestamp, with a fallback default.
func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}

	if parsed, err := parseRFC3339(raw); err == nil {
		return parsed, nil
	}

	parsed, err := parseUnixTimestamp(raw)
	if err != nil {
		return time.Time{}, err
	}

	return parsed, nil
}

// parseRFC3339 parses a timestamp in RFC3339 or RFC3339Nano format.
func parseRFC3339(raw string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed.UTC(), nil
	}

	parsed, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.UTC(), nil
}

// parseUnixTimestamp parses a Unix timestamp string into time.Time.
func parseUnixTimestamp(raw string) (time.Time, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}

	seconds, fraction := math.Modf(value)
	return time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC(), nil
}

// parseStepParam parses a Prometheus duration string into time.Duration.
func parseStepParam(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultHistoryStep, nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		return parsed, nil
	}

	return parseExtendedDuration(raw)
}

// parseExtendedDuration handles day/week/year suffixes not supported by time.ParseDuration.
func parseExtendedDuration(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("invalid duration")
	}

	number := raw[:len(raw)-1]
	unit := raw[len(raw)-1]

	multiplier, ok := map[byte]time.Duration{
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
		'y': 365 * 24 * time.Hour,
	}[unit]
	if !ok {
		return 0, fmt.Errorf("invalid duration")
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration")
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid duration")
	}

	return time.Duration(value * float64(multiplier)), nil
}

// buildPerformanceQuery builds a PromQL selector for the engine metrics
// series. With an empty metric it selects every series for the device.
func buildPerformanceQuery(device, metric string) (string, error) {
	quotedDevice, err := quotePromQLLabelValue(device)
	if err != nil {
		return "", err
	}

	if metric == "" {
		return fmt.Sprintf("engine_metrics{device=%s}", quotedDevice), nil
	}

	quotedMetric, err := quotePromQLLabelValue(metric)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("engine_metrics{device=%s,metric=%s}", quotedDevice, quotedMetric), nil
}

// quotePromQLLabelValue safely quotes a label value for PromQL.
func quotePromQLLabelValue(value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("value is required")
	}
	if len(value) > maxQueryParamLen {
		return "", fmt.Errorf("value exceeds maximum length")
	}

	return strconv.Quote(value), nil
}

// parseMetricsSummary converts a Prometheus instant query response into
// a per-metric latest-value map plus the sorted metric names.
func parseMetricsSummary(raw json.RawMessage) (map[string]metricsLatestEntry, []string, error) {
	var response promVectorResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, nil, err
	}
	if response.Status != "success" {
		return nil, nil, fmt.Errorf("query status %q", response.Status)
	}

	latest := make(map[string]metricsLatestEntry)
	for _, result := range response.Data.Result {
		metric := strings.TrimSpace(result.Metric["metric"])
		if metric == "" {
			continue
		}

		timestamp, value, err := parsePrometheusValue(result.Value)
		if err != nil {
			return nil, nil, err
		}

		latest[metric] = metricsLatestEntry{
			Value:     value,
			Timestamp: timestamp.UTC().Format(time.RFC3339),
		}
	}

	metrics := make([]string, 0, len(latest))
	for metric := range latest {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	return latest, metrics, nil
}

// parsePrometheusValue extracts timestamp and value from a Prometheus sample.
func parsePrometheusValue(raw []any) (time.Time, float64, error) {
	if len(raw) != 2 {
		return time.Time{}, 0, fmt.Errorf("invalid sample length")
	}

	timestamp, err := parsePrometheusTimestamp(raw[0])
	if err != nil {
		return time.Time{}, 0, err
	}

	value, err := parsePrometheusSampleValue(raw[1])
	if err != nil {
		return time.Time{}, 0, err
	}

	return timestamp, value, nil
}

// parsePrometheusTimestamp parses the Prometheus sample timestamp value.
func parsePrometheusTimestamp(raw any) (time.Time, error) {
	switch value := raw.(type) {
	case float64:
		seconds, fraction := math.Modf(value)
		return time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC(), nil
	case string:
		return parseUnixTimestamp(value)
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp")
	}
}

// parsePrometheusSampleValue parses a Prometheus sample value.
func parsePrometheusSampleValue(raw any) (float64, error) {
	switch value := raw.(type) {
	case string:
		return strconv.ParseFloat(value, 64)
	case float64:
		return value, nil
	default:
		return 0, fmt.Errorf("invalid sample value")
	}
}
