package main

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg *config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

// quietConfig is a production-shaped config that should produce no warnings.
func quietConfig() *config.Config {
	return &config.Config{
		StoreDriver:             "postgres",
		MetricsEnabled:          true,
		PushGatewayURL:          "https://push.example.com/send",
		DeliverySecret:          "s3cret",
		CircuitBreakerThreshold: 5,
	}
}

func TestLogConfigWarnings_QuietWhenProductionShaped(t *testing.T) {
	output := captureLogOutput(quietConfig())

	if strings.Contains(output, "WARNING") {
		t.Error("did not expect any warnings, got:", output)
	}
	if strings.Contains(output, "INFO") {
		t.Error("did not expect any INFO messages, got:", output)
	}
}

func TestLogConfigWarnings_MemoryDriver(t *testing.T) {
	cfg := quietConfig()
	cfg.StoreDriver = "memory"
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: STORE_DRIVER=memory") {
		t.Error("expected memory driver P0 warning, got:", output)
	}

	// Metrics are on, so the metrics warning should NOT fire.
	if strings.Contains(output, "WARNING [P1]: METRICS_ENABLED=false") {
		t.Error("did not expect metrics warning when metrics enabled, got:", output)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.MetricsEnabled = false
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: METRICS_ENABLED=false") {
		t.Error("expected metrics P1 warning, got:", output)
	}
}

func TestLogConfigWarnings_UnsignedGateways(t *testing.T) {
	cfg := quietConfig()
	cfg.DeliverySecret = ""
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: gateway URLs set without DELIVERY_SECRET") {
		t.Error("expected unsigned gateway P1 warning, got:", output)
	}
}

func TestLogConfigWarnings_NoGateways(t *testing.T) {
	cfg := quietConfig()
	cfg.PushGatewayURL = ""
	cfg.DeliverySecret = ""
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: no gateway URLs set") {
		t.Error("expected log-delivery INFO, got:", output)
	}

	// No gateways means the unsigned warning must not fire even though the
	// secret is empty.
	if strings.Contains(output, "without DELIVERY_SECRET") {
		t.Error("did not expect unsigned gateway warning without gateways, got:", output)
	}
}

func TestLogConfigWarnings_BreakerDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.CircuitBreakerThreshold = 0
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: CIRCUIT_BREAKER_THRESHOLD=0") {
		t.Error("expected breaker disabled INFO, got:", output)
	}
}

func TestLogConfigWarnings_AllWarnings(t *testing.T) {
	// Worst case: memory driver, no metrics, no gateways, no breaker.
	cfg := &config.Config{
		StoreDriver:             "memory",
		MetricsEnabled:          false,
		CircuitBreakerThreshold: 0,
	}
	output := captureLogOutput(cfg)

	expected := []string{
		"WARNING [P0]: STORE_DRIVER=memory",
		"WARNING [P1]: METRICS_ENABLED=false",
		"INFO: no gateway URLs set",
		"INFO: CIRCUIT_BREAKER_THRESHOLD=0",
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}

	if strings.Contains(output, "without DELIVERY_SECRET") {
		t.Error("did not expect unsigned gateway warning without gateways, got:", output)
	}
}
