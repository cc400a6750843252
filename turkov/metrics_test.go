package turkov

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsCollector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"devices":[{"_id":"dev-1","deviceName":"Living room"}],"userEmail":"user@example.com"}`)
		case "/user/devices":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, encodeDeviceState(t, map[string]any{
				"on":       "true",
				"temp_sp":  "23",
				"out_temp": "215",
				"hum_sp":   "60",
			}))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, seedFreshToken)

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewMetricsCollector(client))

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}

	wantGauge := func(name string, value float64) {
		t.Helper()
		family, ok := byName[name]
		if !ok {
			t.Fatalf("metric %s not exported", name)
		}
		metrics := family.GetMetric()
		if len(metrics) != 1 {
			t.Fatalf("metric %s has %d series", name, len(metrics))
		}
		if got := metrics[0].GetGauge().GetValue(); got != value {
			t.Fatalf("metric %s = %v, want %v", name, got, value)
		}
		for _, label := range metrics[0].GetLabel() {
			switch label.GetName() {
			case "device_id":
				if label.GetValue() != "dev-1" {
					t.Fatalf("metric %s device_id = %q", name, label.GetValue())
				}
			case "device_name":
				if label.GetValue() != "Living room" {
					t.Fatalf("metric %s device_name = %q", name, label.GetValue())
				}
			}
		}
	}

	wantGauge("turkov_power_on_bool", 1)
	wantGauge("turkov_target_temperature_celsius", 23)
	wantGauge("turkov_outdoor_temperature_celsius", 21.5)
	wantGauge("turkov_target_humidity_percent", 60)

	success, ok := byName["turkov_scrape_success"]
	if !ok {
		t.Fatal("scrape success gauge not exported")
	}
	if got := success.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("scrape success = %v", got)
	}
}

func TestMetricsCollectorReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, seedFreshToken)

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewMetricsCollector(client))

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, family := range families {
		if family.GetName() != "turkov_scrape_success" {
			continue
		}
		if got := family.GetMetric()[0].GetGauge().GetValue(); got != 0 {
			t.Fatalf("scrape success = %v, want 0", got)
		}
		return
	}
	t.Fatal("scrape success gauge not exported")
}
