package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_SaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cfg := Settings{
		LLMProvider:  "anthropic",
		LLMAPIKey:    "sk-super-secret",
		ScanRoots:    []string{"/tmp/nodes"},
		ScanCronExpr: "*/15 * * * *",
	}
	if err := s.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LLMAPIKey != "sk-super-secret" {
		t.Fatalf("expected decrypted api key, got %q", got.LLMAPIKey)
	}
	if got.LLMProvider != "anthropic" || got.ScanCronExpr != "*/15 * * * *" {
		t.Fatalf("unexpected round-tripped settings: %+v", got)
	}
}

func TestStore_Save_EncryptsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(Settings{LLMAPIKey: "sk-super-secret"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if containsPlaintext(raw, "sk-super-secret") {
		t.Fatal("expected api key to be encrypted on disk, found plaintext")
	}
}

func TestStore_Save_ForcesFileMode0600(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	oldUmask := setUmask(0o022)
	defer setUmask(oldUmask)

	if err := s.Save(Settings{LLMAPIKey: "sk-secret"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != fileMode {
		t.Fatalf("expected mode %v, got %v", os.FileMode(fileMode), info.Mode().Perm())
	}
}

func TestStore_Load_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LLMAPIKey != "" || got.LLMProvider != "" {
		t.Fatalf("expected zero-value settings, got %+v", got)
	}
}

func TestStore_Open_RejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func containsPlaintext(data []byte, needle string) bool {
	s := string(data)
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
