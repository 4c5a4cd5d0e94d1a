package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	in := &Config{
		DefaultSession: "acme",
		Gateway: GatewayConfig{
			PhoneNumberID:      "106540352242922",
			Token:              "EAAG-test",
			SendTimeoutSeconds: 30,
		},
		Webhook: WebhookConfig{
			ListenAddr:  "127.0.0.1:8090",
			VerifyToken: "secret",
		},
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.DefaultSession != "acme" || out.Gateway.PhoneNumberID != in.Gateway.PhoneNumberID {
		t.Errorf("round trip = %+v", out)
	}
	if out.Gateway.BaseURL != DefaultGatewayBaseURL {
		t.Errorf("base url default not applied: %q", out.Gateway.BaseURL)
	}
	if got := out.Gateway.SendTimeout(); got != 30*time.Second {
		t.Errorf("send timeout = %v", got)
	}
}

func TestSendTimeoutDefault(t *testing.T) {
	var g GatewayConfig
	if got := g.SendTimeout(); got != DefaultSendTimeout {
		t.Errorf("default timeout = %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("want error for missing file")
	}
}
