package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("PAYMENT_GATEWAY_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.GatewaySecret != "" {
		t.Fatalf("expected empty PAYMENT_GATEWAY_SECRET when unset, got %q", cfg.GatewaySecret)
	}
}

func TestLoadParsesBrokersAndWindows(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("PAYMENT_WINDOW_MINUTES", "5")
	t.Setenv("PRODUCT_SNAPSHOT_TTL_SECONDS", "-3")
	t.Setenv("CURRENCY", "inr")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "kafka-1:9092" || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %#v", cfg.KafkaBrokers)
	}
	if cfg.PaymentWindow() != 5*time.Minute {
		t.Fatalf("expected 5m payment window, got %s", cfg.PaymentWindow())
	}
	if cfg.SnapshotTTL() != 30*time.Second {
		t.Fatalf("expected fallback snapshot ttl, got %s", cfg.SnapshotTTL())
	}
	if cfg.Currency != "INR" {
		t.Fatalf("expected upper-cased currency, got %q", cfg.Currency)
	}
}

func TestLoadStoreDefaults(t *testing.T) {
	t.Setenv("STORE_NAME", "")
	t.Setenv("DELIVERY_DAYS", "0")

	cfg := Load()
	if cfg.StoreName != "Storefront" {
		t.Fatalf("expected default store name, got %q", cfg.StoreName)
	}
	if cfg.DeliveryDays != 5 {
		t.Fatalf("expected default delivery days, got %d", cfg.DeliveryDays)
	}
}
