package main

import (
	"testing"
	"time"

	"github.com/spiritcandles/fulfillment/internal/platform/config"
)

func TestBuildInfoFromEnvDefaults(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	info := buildInfoFromEnv(map[string]string{}, config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected defaults %+v", info)
	}
	if !info.StartedAt.Equal(started) {
		t.Fatalf("expected started at %s, got %s", started, info.StartedAt)
	}

	cfg := config.Config{Security: config.SecurityConfig{Environment: "prod"}}
	info = buildInfoFromEnv(map[string]string{"API_BUILD_VERSION": "1.4.0", "API_BUILD_COMMIT_SHA": "abc"}, cfg, started)
	if info.Version != "1.4.0" || info.CommitSHA != "abc" || info.Environment != "prod" {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestRequiredSecretNames(t *testing.T) {
	if names := requiredSecretNames(map[string]string{}); len(names) != 0 {
		t.Fatalf("expected no required secrets locally, got %v", names)
	}

	names := requiredSecretNames(map[string]string{
		"API_SECURITY_ENVIRONMENT": "prod",
		"API_CARRIER_CLIENT_ID":    "client",
	})
	if len(names) != 2 || names[0] != "PSP.StripeWebhookSecret" || names[1] != "Carrier.ClientSecret" {
		t.Fatalf("unexpected required secrets %v", names)
	}

	names = requiredSecretNames(map[string]string{"API_SECURITY_ENVIRONMENT": "stg"})
	if len(names) != 2 || names[1] != "Carrier.APIKey" {
		t.Fatalf("expected static api key to be required, got %v", names)
	}
}

func TestSecretVersionPinsFromEnv(t *testing.T) {
	pins := secretVersionPinsFromEnv(map[string]string{
		"API_SECRET_VERSION_PINS": "sm://prod/stripe=3, carrier-key=7,broken,=1",
	})
	if len(pins) != 2 {
		t.Fatalf("expected 2 pins, got %v", pins)
	}
	if pins["secret://prod/stripe"] != "3" || pins["secret://carrier-key"] != "7" {
		t.Fatalf("unexpected pins %v", pins)
	}
}

func TestTraceProjectIDPrefersFirebase(t *testing.T) {
	cfg := config.Config{
		Firebase:  config.FirebaseConfig{ProjectID: "fb"},
		Firestore: config.FirestoreConfig{ProjectID: "fs"},
	}
	if got := traceProjectID(cfg); got != "fb" {
		t.Fatalf("expected fb, got %s", got)
	}
	cfg.Firebase.ProjectID = ""
	if got := traceProjectID(cfg); got != "fs" {
		t.Fatalf("expected fs, got %s", got)
	}
}
