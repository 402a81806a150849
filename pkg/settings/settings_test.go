package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/merakimate/merakimate/pkg/blob"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

func TestSettings_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/ops")
	s := &Settings{}

	if got := s.GetBaseURL(); got != meraki.DefaultBaseURL {
		t.Errorf("GetBaseURL() default = %q", got)
	}
	if got, err := s.GetBackupDriver(); err != nil || got != blob.DriverFS {
		t.Errorf("GetBackupDriver() default = %q, %v", got, err)
	}
	if got := s.GetBackupDir(); got != "/home/ops/.merakimate/backups" {
		t.Errorf("GetBackupDir() default = %q", got)
	}
	if got, err := s.GetOnConflict(); err != nil || got != reconcile.AskPerConflict {
		t.Errorf("GetOnConflict() default = %q, %v", got, err)
	}
	if got := s.GetRetries(); got != reconcile.DefaultRetries {
		t.Errorf("GetRetries() default = %d", got)
	}
	if got := s.GetRetryBackoff(); got != reconcile.DefaultBackoff {
		t.Errorf("GetRetryBackoff() default = %v", got)
	}
	if got := s.GetTimeout(); got != meraki.DefaultTimeout {
		t.Errorf("GetTimeout() default = %v", got)
	}
	if got := s.GetWorkers(); got != 1 {
		t.Errorf("GetWorkers() default = %d", got)
	}
	if size, backups := s.GetAuditRotation(); size != DefaultAuditMaxSizeMB || backups != DefaultAuditMaxBackups {
		t.Errorf("GetAuditRotation() default = %d, %d", size, backups)
	}
	if got := s.GetAuditLogPath(); got != "/home/ops/.merakimate/audit.log" {
		t.Errorf("GetAuditLogPath() default = %q", got)
	}
	if s.GetBulkDir() != DefaultBulkDir || s.GetOutputDir() != DefaultOutputDir || s.GetKnowledgeBase() != DefaultKnowledgeBase {
		t.Error("directory defaults not applied")
	}
}

func TestSettings_SetGet(t *testing.T) {
	s := &Settings{}

	for key, value := range map[string]string{
		"default_org":   "O_1",
		"backup_driver": "SQLite",
		"on_conflict":   "skip-all",
		"retries":       "0",
		"retry_backoff": "500ms",
		"workers":       "4",
		"key_vault":     "corp-kv",
	} {
		if err := s.Set(key, value); err != nil {
			t.Fatalf("Set(%q, %q) failed: %v", key, value, err)
		}
	}

	if s.DefaultOrg != "O_1" || s.KeyVault != "corp-kv" {
		t.Errorf("string fields not set: %+v", s)
	}
	if got, _ := s.Get("backup_driver"); got != "sqlite" {
		t.Errorf("backup_driver = %q, want normalised %q", got, "sqlite")
	}
	if s.GetRetries() != 0 {
		t.Errorf("explicit zero retries should stick, got %d", s.GetRetries())
	}
	if s.GetRetryBackoff() != 500*time.Millisecond {
		t.Errorf("GetRetryBackoff() = %v", s.GetRetryBackoff())
	}
	if s.GetWorkers() != 4 {
		t.Errorf("GetWorkers() = %d", s.GetWorkers())
	}

	if err := s.Set("retries", ""); err != nil {
		t.Fatal(err)
	}
	if s.Retries != nil {
		t.Error("empty value should unset retries")
	}
}

func TestSettings_SetRejectsInvalid(t *testing.T) {
	s := &Settings{}
	for key, value := range map[string]string{
		"on_conflict":   "sometimes",
		"backup_driver": "tape",
		"retries":       "-1",
		"timeout":       "soon",
		"workers":       "many",
		"no_such_key":   "x",
	} {
		err := s.Set(key, value)
		if !errors.Is(err, util.ErrInvalidConfig) {
			t.Errorf("Set(%q, %q) = %v, want ErrInvalidConfig", key, value, err)
		}
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if len(keys) != len(fields) {
		t.Fatalf("Keys() returned %d keys, want %d", len(keys), len(fields))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("Keys() not sorted at %q", keys[i])
		}
	}
	s := &Settings{}
	for _, k := range keys {
		if _, err := s.Get(k); err != nil {
			t.Errorf("Get(%q) failed: %v", k, err)
		}
	}
}

func TestSettings_Clear(t *testing.T) {
	n := 2
	s := &Settings{DefaultOrg: "O_1", DefaultNetwork: "N_1", Retries: &n}
	s.Clear()
	if s.DefaultOrg != "" || s.DefaultNetwork != "" || s.Retries != nil {
		t.Error("Clear() should reset all fields to empty")
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	n := 1
	s := &Settings{DefaultOrg: "O_1", OnConflict: "overwrite-all", Retries: &n}

	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("settings file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if loaded.DefaultOrg != "O_1" || loaded.OnConflict != "overwrite-all" || loaded.GetRetries() != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s.DefaultOrg != "" {
		t.Error("non-existent file should give empty settings")
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() should fail on invalid JSON")
	}
}

func TestLoadSave_Home(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	s := &Settings{DefaultNetwork: "N_9"}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".merakimate", "settings.json")); err != nil {
		t.Fatalf("settings file not written under HOME: %v", err)
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.DefaultNetwork != "N_9" {
		t.Errorf("Load() DefaultNetwork = %q", loaded.DefaultNetwork)
	}
}

func TestDefaultSettingsPath_NoHome(t *testing.T) {
	t.Setenv("HOME", "")
	if path := DefaultSettingsPath(); path != "merakimate_settings.json" {
		t.Errorf("DefaultSettingsPath() with no HOME = %q", path)
	}
}

func TestSaveTo_MkdirError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	s := &Settings{DefaultNetwork: "test"}
	if err := s.SaveTo(filepath.Join(blocker, "sub", "settings.json")); err == nil {
		t.Error("SaveTo() should fail when directory creation fails")
	}
}
