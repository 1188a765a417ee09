package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestTestNotifyRequiresTopic(t *testing.T) {
	env := setupOfflineEnv(t)
	if _, _, err := runCLI(t, env.configPath, "test-notify"); err == nil {
		t.Fatal("expected an error without notifications.ntfy_topic")
	}
}

func TestTestNotifyPostsToTopic(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Title") == "Studio - Test" {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	env := setupOfflineEnv(t)
	env.cfg.Notifications.NtfyTopic = server.URL
	configPath := writeTestConfig(t, env.cfg)

	stdout, _, err := runCLI(t, configPath, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, stdout, "Test notification sent")
	if hits.Load() != 1 {
		t.Fatalf("expected one test notification, got %d", hits.Load())
	}
}
