package scansched

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pflow-dev/pflow/registry"
)

func TestParseUTC_Valid(t *testing.T) {
	if _, err := ParseUTC("*/5 * * * *"); err != nil {
		t.Fatalf("expected valid cron expression, got %v", err)
	}
}

func TestParseUTC_RejectsTimezone(t *testing.T) {
	if _, err := ParseUTC("CRON_TZ=America/New_York * * * * *"); err == nil {
		t.Fatal("expected timezone-prefixed expression to be rejected")
	}
}

func TestParseUTC_RejectsEmpty(t *testing.T) {
	if _, err := ParseUTC("   "); err == nil {
		t.Fatal("expected empty expression to be rejected")
	}
}

func TestParseUTC_RejectsInvalid(t *testing.T) {
	if _, err := ParseUTC("not a cron expr"); err == nil {
		t.Fatal("expected invalid expression to be rejected")
	}
}

func writeManifest(t *testing.T, root, dirName, nodeType string) {
	t.Helper()
	dir := filepath.Join(root, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := "type: " + nodeType + "\nclass: CustomNode\ninterface:\n  description: test node\n"
	if err := os.WriteFile(filepath.Join(dir, registry.ManifestName), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestScheduler_RunNow_PicksUpUserNodes(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "my_node", "my_custom_node")

	regPath := filepath.Join(t.TempDir(), "registry.json")
	reg := registry.NewAtPath(regPath)

	s := New(reg, []string{root})
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	if !reg.Has("my_custom_node") {
		t.Fatal("expected scan to register my_custom_node")
	}

	if _, err := os.Stat(regPath); err != nil {
		t.Fatalf("expected registry to be persisted: %v", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	root := t.TempDir()
	regPath := filepath.Join(t.TempDir(), "registry.json")
	reg := registry.NewAtPath(regPath)

	s := New(reg, []string{root})
	if err := s.Start("*/5 * * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}

func TestScheduler_StartRejectsBadExpr(t *testing.T) {
	reg := registry.New()
	s := New(reg, nil)
	if err := s.Start("garbage"); err == nil {
		t.Fatal("expected Start to reject an invalid cron expression")
	}
}
