// Package settings manages persistent user settings for the merakimate CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/merakimate/merakimate/pkg/blob"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// Settings holds persistent user preferences
type Settings struct {
	// DefaultOrg is the organization to use when -o is not specified
	DefaultOrg string `json:"default_org,omitempty"`

	// DefaultNetwork is the network to use when -n is not specified
	DefaultNetwork string `json:"default_network,omitempty"`

	// BaseURL overrides the dashboard API root
	BaseURL string `json:"base_url,omitempty"`

	BackupDriver     string `json:"backup_driver,omitempty"`
	BackupDir        string `json:"backup_dir,omitempty"`
	BackupBucket     string `json:"backup_bucket,omitempty"`
	BackupPrefix     string `json:"backup_prefix,omitempty"`
	BackupRegion     string `json:"backup_region,omitempty"`
	BackupEndpoint   string `json:"backup_endpoint,omitempty"`
	BackupRedisAddr  string `json:"backup_redis_addr,omitempty"`
	BackupSQLitePath string `json:"backup_sqlite_path,omitempty"`

	OnConflict   string `json:"on_conflict,omitempty"`
	Retries      *int   `json:"retries,omitempty"`
	RetryBackoff string `json:"retry_backoff,omitempty"`
	Workers      int    `json:"workers,omitempty"`

	AuditLogPath    string `json:"audit_log_path,omitempty"`
	AuditMaxSizeMB  int    `json:"audit_max_size_mb,omitempty"`
	AuditMaxBackups int    `json:"audit_max_backups,omitempty"`
	MetricsFile     string `json:"metrics_file,omitempty"`

	KnowledgeBase string `json:"knowledge_base,omitempty"`
	BulkDir       string `json:"bulk_dir,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`

	// KeyVault and SecretName locate the API key in Azure Key Vault
	KeyVault   string `json:"key_vault,omitempty"`
	SecretName string `json:"secret_name,omitempty"`

	// SSHProxy is user@host[:port] of a bastion to tunnel API calls through
	SSHProxy string `json:"ssh_proxy,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// Defaults applied by the getters.
const (
	DefaultAuditMaxSizeMB  = 10
	DefaultAuditMaxBackups = 5
	DefaultBulkDir         = "data"
	DefaultOutputDir       = "output"
	DefaultKnowledgeBase   = "data/meraki_offline_knowledge.yaml"
)

// Dir returns ~/.merakimate, or the working directory when there is no home.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".merakimate")
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	if _, err := os.UserHomeDir(); err != nil {
		return "merakimate_settings.json"
	}
	return filepath.Join(Dir(), "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// The file may name a vault and secret, so keep it private
	return os.WriteFile(path, data, 0600)
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}

// GetBaseURL returns the API root (with fallback)
func (s *Settings) GetBaseURL() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return meraki.DefaultBaseURL
}

// GetBackupDriver returns the configured backup driver, fs by default
func (s *Settings) GetBackupDriver() (blob.Driver, error) {
	return blob.ParseDriver(s.BackupDriver)
}

// GetBackupDir returns the fs backup directory (with fallback)
func (s *Settings) GetBackupDir() string {
	if s.BackupDir != "" {
		return s.BackupDir
	}
	return filepath.Join(Dir(), "backups")
}

// GetBackupSQLitePath returns the sqlite backup file (with fallback)
func (s *Settings) GetBackupSQLitePath() string {
	if s.BackupSQLitePath != "" {
		return s.BackupSQLitePath
	}
	return filepath.Join(Dir(), "backups.db")
}

// GetOnConflict returns the conflict policy, ask-per-conflict by default
func (s *Settings) GetOnConflict() (reconcile.ConflictPolicy, error) {
	return reconcile.ParseConflictPolicy(s.OnConflict)
}

// GetRetries returns the retry count; an explicit zero disables retries
func (s *Settings) GetRetries() int {
	if s.Retries != nil {
		return *s.Retries
	}
	return reconcile.DefaultRetries
}

// GetRetryBackoff returns the base retry backoff (with fallback)
func (s *Settings) GetRetryBackoff() time.Duration {
	return duration(s.RetryBackoff, reconcile.DefaultBackoff)
}

// GetWorkers returns the scope concurrency, 1 by default
func (s *Settings) GetWorkers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return 1
}

// GetTimeout returns the per-request timeout (with fallback)
func (s *Settings) GetTimeout() time.Duration {
	return duration(s.Timeout, meraki.DefaultTimeout)
}

// GetAuditLogPath returns the audit log file (with fallback)
func (s *Settings) GetAuditLogPath() string {
	if s.AuditLogPath != "" {
		return s.AuditLogPath
	}
	return filepath.Join(Dir(), "audit.log")
}

// GetAuditRotation returns the rotation size in MB and the backups kept
func (s *Settings) GetAuditRotation() (maxSizeMB, maxBackups int) {
	maxSizeMB, maxBackups = DefaultAuditMaxSizeMB, DefaultAuditMaxBackups
	if s.AuditMaxSizeMB > 0 {
		maxSizeMB = s.AuditMaxSizeMB
	}
	if s.AuditMaxBackups > 0 {
		maxBackups = s.AuditMaxBackups
	}
	return maxSizeMB, maxBackups
}

// GetKnowledgeBase returns the offline knowledge base path (with fallback)
func (s *Settings) GetKnowledgeBase() string {
	if s.KnowledgeBase != "" {
		return s.KnowledgeBase
	}
	return DefaultKnowledgeBase
}

// GetBulkDir returns the directory holding YAML bulk files (with fallback)
func (s *Settings) GetBulkDir() string {
	if s.BulkDir != "" {
		return s.BulkDir
	}
	return DefaultBulkDir
}

// GetOutputDir returns the export directory (with fallback)
func (s *Settings) GetOutputDir() string {
	if s.OutputDir != "" {
		return s.OutputDir
	}
	return DefaultOutputDir
}

func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

type field struct {
	get func(*Settings) string
	set func(*Settings, string) error
}

func str(p func(*Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *p(s) },
		set: func(s *Settings, v string) error { *p(s) = v; return nil },
	}
}

func num(p func(*Settings) *int) field {
	return field{
		get: func(s *Settings) string {
			if n := *p(s); n != 0 {
				return strconv.Itoa(n)
			}
			return ""
		},
		set: func(s *Settings, v string) error {
			if v == "" {
				*p(s) = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: want a non-negative integer, got %q", util.ErrInvalidConfig, v)
			}
			*p(s) = n
			return nil
		},
	}
}

func dur(p func(*Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *p(s) },
		set: func(s *Settings, v string) error {
			if v != "" {
				if d, err := time.ParseDuration(v); err != nil || d < 0 {
					return fmt.Errorf("%w: want a duration such as 2s, got %q", util.ErrInvalidConfig, v)
				}
			}
			*p(s) = v
			return nil
		},
	}
}

var fields = map[string]field{
	"default_org":        str(func(s *Settings) *string { return &s.DefaultOrg }),
	"default_network":    str(func(s *Settings) *string { return &s.DefaultNetwork }),
	"base_url":           str(func(s *Settings) *string { return &s.BaseURL }),
	"backup_dir":         str(func(s *Settings) *string { return &s.BackupDir }),
	"backup_bucket":      str(func(s *Settings) *string { return &s.BackupBucket }),
	"backup_prefix":      str(func(s *Settings) *string { return &s.BackupPrefix }),
	"backup_region":      str(func(s *Settings) *string { return &s.BackupRegion }),
	"backup_endpoint":    str(func(s *Settings) *string { return &s.BackupEndpoint }),
	"backup_redis_addr":  str(func(s *Settings) *string { return &s.BackupRedisAddr }),
	"backup_sqlite_path": str(func(s *Settings) *string { return &s.BackupSQLitePath }),
	"audit_log_path":     str(func(s *Settings) *string { return &s.AuditLogPath }),
	"metrics_file":       str(func(s *Settings) *string { return &s.MetricsFile }),
	"knowledge_base":     str(func(s *Settings) *string { return &s.KnowledgeBase }),
	"bulk_dir":           str(func(s *Settings) *string { return &s.BulkDir }),
	"output_dir":         str(func(s *Settings) *string { return &s.OutputDir }),
	"key_vault":          str(func(s *Settings) *string { return &s.KeyVault }),
	"secret_name":        str(func(s *Settings) *string { return &s.SecretName }),
	"ssh_proxy":          str(func(s *Settings) *string { return &s.SSHProxy }),
	"workers":            num(func(s *Settings) *int { return &s.Workers }),
	"audit_max_size_mb":  num(func(s *Settings) *int { return &s.AuditMaxSizeMB }),
	"audit_max_backups":  num(func(s *Settings) *int { return &s.AuditMaxBackups }),
	"retry_backoff":      dur(func(s *Settings) *string { return &s.RetryBackoff }),
	"timeout":            dur(func(s *Settings) *string { return &s.Timeout }),
	"backup_driver": {
		get: func(s *Settings) string { return s.BackupDriver },
		set: func(s *Settings, v string) error {
			if v == "" {
				s.BackupDriver = ""
				return nil
			}
			d, err := blob.ParseDriver(v)
			if err != nil {
				return err
			}
			s.BackupDriver = string(d)
			return nil
		},
	},
	"on_conflict": {
		get: func(s *Settings) string { return s.OnConflict },
		set: func(s *Settings, v string) error {
			if _, err := reconcile.ParseConflictPolicy(v); err != nil {
				return err
			}
			s.OnConflict = v
			return nil
		},
	},
	"retries": {
		get: func(s *Settings) string {
			if s.Retries == nil {
				return ""
			}
			return strconv.Itoa(*s.Retries)
		},
		set: func(s *Settings, v string) error {
			if v == "" {
				s.Retries = nil
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: retries must be a non-negative integer, got %q", util.ErrInvalidConfig, v)
			}
			s.Retries = &n
			return nil
		},
	},
}

// Keys lists the settable keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the stored value of key; unset values are empty.
func (s *Settings) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: unknown setting %q", util.ErrInvalidConfig, key)
	}
	return f.get(s), nil
}

// Set validates and stores value under key. An empty value unsets it.
func (s *Settings) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", util.ErrInvalidConfig, key)
	}
	return f.set(s, value)
}
