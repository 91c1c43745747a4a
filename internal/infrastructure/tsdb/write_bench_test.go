package tsdb

import (
	"testing"
	"time"
)

func BenchmarkFormatLineProtocol_Simple(b *testing.B) {
	tags := map[string]string{"device": "heat-pump", "metric": "success_rate"}
	fields := map[string]interface{}{"value": 0.998}
	ts := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		formatLineProtocol("engine_metrics", tags, fields, ts)
	}
}

func BenchmarkFormatLineProtocol_MultiField(b *testing.B) {
	tags := map[string]string{"device": "heat-pump"}
	fields := map[string]interface{}{
		"success_rate":    0.998,
		"avg_duration_ms": 42.5,
		"throughput_wps":  412.0,
		"efficiency":      0.83,
	}
	ts := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		formatLineProtocol("engine_metrics", tags, fields, ts)
	}
}

func BenchmarkFormatLineProtocol_ManyTags(b *testing.B) {
	tags := map[string]string{
		"device":   "solar-meter-01",
		"protocol": "modbus",
		"mode":     "tcp",
		"template": "dtsu666",
		"site":     "plant-room",
	}
	fields := map[string]interface{}{"value": 75.0}
	ts := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		formatLineProtocol("engine_metrics", tags, fields, ts)
	}
}

func BenchmarkEscapeTag(b *testing.B) {
	for i := 0; i < b.N; i++ {
		escapeTag("device=heat,pump 01")
	}
}
