package main

import (
	"log"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/config"
)

// logConfigWarnings flags legal but risky configuration at startup. P0 means
// records can be lost, P1 means reduced operability, INFO is advisory.
func logConfigWarnings(cfg *config.Config) {
	if cfg.StoreDriver == "memory" {
		log.Println("stagexp: WARNING [P0]: STORE_DRIVER=memory keeps journeys, experiments and sends in process memory; a restart loses them all")
	}

	if !cfg.MetricsEnabled {
		log.Println("stagexp: WARNING [P1]: METRICS_ENABLED=false leaves delivery failures and dead-letters unobservable")
	}

	hasGateway := cfg.PushGatewayURL != "" || cfg.WhatsAppGatewayURL != "" || cfg.SMSGatewayURL != ""
	if hasGateway && cfg.DeliverySecret == "" {
		log.Println("stagexp: WARNING [P1]: gateway URLs set without DELIVERY_SECRET; delivery requests will be unsigned")
	}
	if !hasGateway {
		log.Println("stagexp: INFO: no gateway URLs set; running in log-delivery mode (set PUSH_GATEWAY_URL, WHATSAPP_GATEWAY_URL or SMS_GATEWAY_URL for real sends)")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("stagexp: INFO: CIRCUIT_BREAKER_THRESHOLD=0; a failing gateway is retried at the full dispatch rate")
	}
}
