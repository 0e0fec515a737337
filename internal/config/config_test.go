package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LeaseSeconds != 30 {
		t.Errorf("LeaseSeconds = %d, want 30", cfg.LeaseSeconds)
	}
	if cfg.TicketTTL != 15*time.Minute {
		t.Errorf("TicketTTL = %v, want 15m", cfg.TicketTTL)
	}
	if cfg.AuditChainID != "warrant-main" {
		t.Errorf("AuditChainID = %q", cfg.AuditChainID)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing config file should fall back to defaults, got: %v", err)
	}
}

func TestLoadYAMLAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warrant.yaml")
	body := "lease_seconds: 45\naudit_chain_id: from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUDIT_CHAIN_ID", "from-env")
	t.Setenv("LEASE_SECONDS", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LeaseSeconds != 45 {
		t.Errorf("LeaseSeconds = %d, want 45 from file", cfg.LeaseSeconds)
	}
	if cfg.AuditChainID != "from-env" {
		t.Errorf("AuditChainID = %q, want env to win over file", cfg.AuditChainID)
	}
}

func TestMalformedNumericEnvOverrideIsLoggedAndIgnored(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Setenv("LEASE_SECONDS", "abc")
	t.Setenv("TICKET_TTL", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LeaseSeconds != 30 {
		t.Errorf("LeaseSeconds = %d, want default 30 kept", cfg.LeaseSeconds)
	}
	if cfg.TicketTTL != 15*time.Minute {
		t.Errorf("TicketTTL = %v, want default 15m kept", cfg.TicketTTL)
	}

	logged := buf.String()
	if !strings.Contains(logged, "LEASE_SECONDS") || !strings.Contains(logged, "TICKET_TTL") {
		t.Errorf("malformed overrides not logged, got: %q", logged)
	}
}

func TestLoadRejectsNonPositiveLease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warrant.yaml")
	if err := os.WriteFile(path, []byte("lease_seconds: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected zero lease_seconds to be rejected")
	}
}
