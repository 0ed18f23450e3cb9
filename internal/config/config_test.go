package config

import (
	"testing"
	"time"

	"reset-guard/internal/normalize"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.GetServerAddress() != "0.0.0.0:8080" {
		t.Errorf("address = %q", cfg.GetServerAddress())
	}
	if cfg.RateLimit.Email.Cooldown != 60*time.Second || cfg.RateLimit.Email.MaxPerWindow != 5 {
		t.Errorf("email policy = %+v", cfg.RateLimit.Email)
	}
	if cfg.RateLimit.Phone.Cooldown != 30*time.Second || cfg.RateLimit.Phone.MaxPerWindow != 10 {
		t.Errorf("phone policy = %+v", cfg.RateLimit.Phone)
	}
	if cfg.RateLimit.IP.Window != time.Hour || cfg.RateLimit.IP.MaxPerWindow != 30 {
		t.Errorf("ip policy = %+v", cfg.RateLimit.IP)
	}
	if cfg.RateLimit.DefaultRegion != normalize.RegionKR {
		t.Errorf("DefaultRegion = %q", cfg.RateLimit.DefaultRegion)
	}
	if cfg.Identity.BaseURL == "" || cfg.Kafka.AuditTopic == "" {
		t.Error("expected non-empty identity base URL and audit topic defaults")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RATE_EMAIL_COOLDOWN", "90s")
	t.Setenv("RATE_EMAIL_MAX", "3")
	t.Setenv("PHONE_DEFAULT_REGION", "JP")
	t.Setenv("SCYLLA_NODES", "node1:9042, node2:9042")
	t.Setenv("KAFKA_BROKERS", "broker1:9092")

	cfg := LoadConfig()

	if !cfg.IsProduction() {
		t.Error("IsProduction() = false")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Email.Cooldown != 90*time.Second || cfg.RateLimit.Email.MaxPerWindow != 3 {
		t.Errorf("email policy = %+v", cfg.RateLimit.Email)
	}
	if cfg.RateLimit.DefaultRegion != normalize.RegionJP {
		t.Errorf("DefaultRegion = %q", cfg.RateLimit.DefaultRegion)
	}
	if len(cfg.Scylla.Nodes) != 2 || cfg.Scylla.Nodes[1] != "node2:9042" {
		t.Errorf("Scylla nodes = %v", cfg.Scylla.Nodes)
	}
	if len(cfg.Kafka.Brokers) != 1 {
		t.Errorf("Kafka brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadConfigBadValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("RATE_IP_COOLDOWN", "soon")

	cfg := LoadConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default", cfg.Server.Port)
	}
	if cfg.RateLimit.IP.Cooldown != 5*time.Second {
		t.Errorf("IP cooldown = %v, want default", cfg.RateLimit.IP.Cooldown)
	}
}
