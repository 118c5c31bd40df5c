package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTextfileExposesSuiteMetrics(t *testing.T) {
	registry := NewRegistry()
	registry.ObserveCase("negative", "passed")
	registry.ObserveRequest("create_user", "406", 0.12)

	path := filepath.Join(t.TempDir(), "suite.prom")
	if err := registry.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}

	body := string(data)
	if !strings.Contains(body, `bookstore_suite_cases_total{kind="negative",outcome="passed"} 1`) {
		t.Fatalf("expected case counter in output:\n%s", body)
	}
	if !strings.Contains(body, `bookstore_client_request_duration_seconds_count{endpoint="create_user",status="406"} 1`) {
		t.Fatalf("expected client histogram in output:\n%s", body)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.ObserveCase("positive", "failed")
	registry.ObserveRequest("authorized", "200", 1)

	if err := registry.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWriteTextfileWithNamespace(t *testing.T) {
	registry := NewRegistry(WithNamespace("e2e"))
	registry.ObserveCase("positive", "passed")

	path := filepath.Join(t.TempDir(), "suite.prom")
	if err := registry.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "e2e_suite_cases_total") {
		t.Fatalf("expected namespaced counter, got:\n%s", data)
	}
}
