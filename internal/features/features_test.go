package features

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func isolate(t *testing.T, flags map[string]bool) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TEER_HOME", dir)
	t.Setenv("TEER_ENABLE_FEATURES", "")
	t.Setenv("TEER_DISABLE_FEATURES", "")
	for _, f := range allFeatures {
		t.Setenv("TEER_FEATURE_"+normalizeForEnvKey(f.Name), "")
	}
	if flags == nil {
		return
	}
	data, err := json.Marshal(map[string]any{"feature_flags": flags})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolve_Defaults(t *testing.T) {
	isolate(t, nil)
	tests := []struct {
		feature Feature
		want    bool
	}{
		{TransactionsCache, true},
		{BackgroundAgent, true},
		{WebhookNotify, false},
	}
	for _, tt := range tests {
		got, source := Resolve(tt.feature.Name)
		if got != tt.want || source != "default" {
			t.Errorf("%s: got %v from %s, want %v from default", tt.feature.Name, got, source, tt.want)
		}
	}
}

func TestResolve_ConfigThenEnv(t *testing.T) {
	isolate(t, map[string]bool{"webhook_notify": true, "transactions_cache": false})

	if got, source := Resolve("webhook_notify"); !got || source != "config" {
		t.Errorf("webhook_notify: %v from %s", got, source)
	}
	if IsEnabled(TransactionsCache.Name) {
		t.Error("transactions_cache should be disabled by config")
	}

	t.Setenv("TEER_FEATURE_TRANSACTIONS_CACHE", "on")
	if got, source := Resolve(" Transactions_Cache "); !got || source != "env" {
		t.Errorf("env override: %v from %s", got, source)
	}

	t.Setenv("TEER_DISABLE_FEATURES", "background_agent, webhook_notify")
	if IsEnabled(WebhookNotify.Name) || IsEnabled(BackgroundAgent.Name) {
		t.Error("TEER_DISABLE_FEATURES not honoured")
	}
}

func TestBackgroundAgentDescriptionNamesGatedSurfaces(t *testing.T) {
	for _, want := range []string{"teer agent", "sync --agent", "SYNC_NOW"} {
		if !strings.Contains(BackgroundAgent.Description, want) {
			t.Errorf("description %q does not mention %q", BackgroundAgent.Description, want)
		}
	}
}

func TestIsKnownFeature(t *testing.T) {
	if !IsKnownFeature("BACKGROUND_AGENT") {
		t.Error("background_agent should be known")
	}
	if IsKnownFeature("sync_notes") {
		t.Error("unexpected feature")
	}
	names := ListAll()
	if len(names) != 3 || names[0].Name != "background_agent" {
		t.Errorf("ListAll: %+v", names)
	}
}
