package services

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// EnvPrefix prefixes environment overrides: index.mode is read from
// DETECTSEARCH_INDEX_MODE.
const EnvPrefix = "DETECTSEARCH_"

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyDataDir        = "storage.data_dir"
	keyOpTimeout      = "storage.op_timeout"
	keyIndexMode      = "index.mode"
	keyMaxAttempts    = "index.max_attempts"
	keyRetryBase      = "index.retry_base"
	keyRetryMax       = "index.retry_max"
	keyDrainBatch     = "index.drain_batch"
	keyDefaultLimit   = "search.default_limit"
	keyStrict         = "search.strict"
	keyRepairBatch    = "repair.batch_size"
	keyRepairRate     = "repair.rate_per_second"
	keySchedEnabled   = "scheduler.enabled"
	keySchedTick      = "scheduler.tick"
	keyDrainInterval  = "scheduler.drain_interval"
	keyRepairInterval = "scheduler.repair_interval"
	keyMetricsAddr    = "metrics.addr"
	keyInboxDir       = "inbox.dir"
	keyVisionAPIKey   = "vision.api_key"
)

// settingKind selects how a raw value is parsed and persisted.
type settingKind int

const (
	kindString settingKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
)

// setting binds a config key to a field of domain.Settings.
type setting struct {
	kind  settingKind
	apply func(s *domain.Settings, v any)
}

var settingsTable = map[string]setting{
	keyDataDir:      {kindString, func(s *domain.Settings, v any) { s.Storage.DataDir = v.(string) }},
	keyOpTimeout:    {kindDuration, func(s *domain.Settings, v any) { s.Storage.OpTimeout = v.(time.Duration) }},
	keyIndexMode:    {kindString, func(s *domain.Settings, v any) { s.Index.Mode = domain.IndexMode(v.(string)) }},
	keyMaxAttempts:  {kindInt, func(s *domain.Settings, v any) { s.Index.MaxAttempts = v.(int) }},
	keyRetryBase:    {kindDuration, func(s *domain.Settings, v any) { s.Index.RetryBase = v.(time.Duration) }},
	keyRetryMax:     {kindDuration, func(s *domain.Settings, v any) { s.Index.RetryMax = v.(time.Duration) }},
	keyDrainBatch:   {kindInt, func(s *domain.Settings, v any) { s.Index.DrainBatch = v.(int) }},
	keyDefaultLimit: {kindInt, func(s *domain.Settings, v any) { s.Search.DefaultLimit = v.(int) }},
	keyStrict:       {kindBool, func(s *domain.Settings, v any) { s.Search.Strict = v.(bool) }},
	keyRepairBatch:  {kindInt, func(s *domain.Settings, v any) { s.Repair.BatchSize = v.(int) }},
	keyRepairRate:   {kindFloat, func(s *domain.Settings, v any) { s.Repair.RatePerSecond = v.(float64) }},
	keySchedEnabled: {kindBool, func(s *domain.Settings, v any) { s.Scheduler.Enabled = v.(bool) }},
	keySchedTick:    {kindDuration, func(s *domain.Settings, v any) { s.Scheduler.Tick = v.(time.Duration) }},
	keyDrainInterval: {kindDuration, func(s *domain.Settings, v any) {
		setTaskInterval(s, domain.TaskIDIndexDrain, v.(time.Duration))
	}},
	keyRepairInterval: {kindDuration, func(s *domain.Settings, v any) {
		setTaskInterval(s, domain.TaskIDIndexRepair, v.(time.Duration))
	}},
	keyMetricsAddr:  {kindString, func(s *domain.Settings, v any) { s.MetricsAddr = v.(string) }},
	keyInboxDir:     {kindString, func(s *domain.Settings, v any) { s.InboxDir = v.(string) }},
	keyVisionAPIKey: {kindString, func(s *domain.Settings, v any) { s.VisionAPIKey = v.(string) }},
}

// setTaskInterval sets a task interval; zero disables the task.
func setTaskInterval(s *domain.Settings, taskID string, d time.Duration) {
	if s.Scheduler.TaskConfigs == nil {
		s.Scheduler.TaskConfigs = make(map[string]domain.TaskConfig)
	}
	s.Scheduler.TaskConfigs[taskID] = domain.TaskConfig{Enabled: d > 0, Interval: d}
}

// SettingsKeys returns every recognised config key, sorted.
func SettingsKeys() []string {
	keys := make([]string, 0, len(settingsTable))
	for k := range settingsTable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SettingsService resolves typed settings from defaults, the config store
// and DETECTSEARCH_* environment variables, in increasing precedence.
type SettingsService struct {
	configStore driven.ConfigStore
	lookupEnv   func(string) (string, bool)
}

// NewSettingsService creates a new settings service reading the process environment.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		lookupEnv:   os.LookupEnv,
	}
}

// WithEnv replaces the environment lookup. Used by tests.
func (s *SettingsService) WithEnv(lookup func(string) (string, bool)) *SettingsService {
	s.lookupEnv = lookup
	return s
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.Settings, error) {
	settings := domain.DefaultSettings()
	for _, key := range SettingsKeys() {
		field := settingsTable[key]
		v, ok, err := s.lookup(key, field.kind)
		if err != nil {
			return nil, err
		}
		if ok {
			field.apply(&settings, v)
		}
	}
	return &settings, nil
}

// Set validates and persists a single setting.
func (s *SettingsService) Set(key, value string) error {
	field, ok := settingsTable[key]
	if !ok {
		return domain.NewValidationError("key", fmt.Sprintf("unknown setting %q", key))
	}
	v, err := parseSetting(key, field.kind, value)
	if err != nil {
		return err
	}

	probe := domain.DefaultSettings()
	field.apply(&probe, v)
	if err := validateSettings(&probe); err != nil {
		return err
	}

	// Durations persist as strings so the file stays readable.
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	if err := s.configStore.Set(key, v); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Validate checks the current settings.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return validateSettings(settings)
}

// ConfigPath returns the config store location.
func (s *SettingsService) ConfigPath() string {
	return s.configStore.Path()
}

// lookup returns the typed value for key from the environment or the
// config store.
func (s *SettingsService) lookup(key string, kind settingKind) (any, bool, error) {
	if raw, ok := s.lookupEnv(EnvKey(key)); ok && raw != "" {
		v, err := parseSetting(key, kind, raw)
		return v, err == nil, err
	}

	raw, ok := s.configStore.Get(key)
	if !ok {
		return nil, false, nil
	}
	switch kind {
	case kindInt:
		if _, isStr := raw.(string); !isStr {
			return s.configStore.GetInt(key), true, nil
		}
	case kindFloat:
		if _, isStr := raw.(string); !isStr {
			return s.configStore.GetFloat(key), true, nil
		}
	case kindBool:
		if b, isBool := raw.(bool); isBool {
			return b, true, nil
		}
	}
	v, err := parseSetting(key, kind, fmt.Sprint(raw))
	return v, err == nil, err
}

// EnvKey returns the environment variable overriding a config key.
func EnvKey(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func parseSetting(key string, kind settingKind, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	var (
		v   any
		err error
	)
	switch kind {
	case kindInt:
		v, err = strconv.Atoi(raw)
	case kindFloat:
		v, err = strconv.ParseFloat(raw, 64)
	case kindBool:
		v, err = strconv.ParseBool(raw)
	case kindDuration:
		v, err = time.ParseDuration(raw)
	default:
		v = raw
	}
	if err != nil {
		return nil, domain.NewValidationError(key, fmt.Sprintf("cannot parse %q", raw))
	}
	return v, nil
}

func validateSettings(s *domain.Settings) error {
	switch {
	case !s.Index.Mode.IsValid():
		return domain.NewValidationError(keyIndexMode, fmt.Sprintf("must be %q or %q, got %q",
			domain.IndexModeSync, domain.IndexModeAsync, s.Index.Mode))
	case s.Storage.OpTimeout <= 0:
		return domain.NewValidationError(keyOpTimeout, "must be positive")
	case s.Index.MaxAttempts < 1:
		return domain.NewValidationError(keyMaxAttempts, "must be at least 1")
	case s.Index.RetryBase < 0 || s.Index.RetryMax < s.Index.RetryBase:
		return domain.NewValidationError(keyRetryMax, "must not be below index.retry_base")
	case s.Index.DrainBatch < 1:
		return domain.NewValidationError(keyDrainBatch, "must be at least 1")
	case s.Search.DefaultLimit < 1 || s.Search.DefaultLimit > domain.MaxPageSize:
		return domain.NewValidationError(keyDefaultLimit, fmt.Sprintf("must be between 1 and %d", domain.MaxPageSize))
	case s.Repair.BatchSize < 1:
		return domain.NewValidationError(keyRepairBatch, "must be at least 1")
	case s.Repair.RatePerSecond < 0:
		return domain.NewValidationError(keyRepairRate, "must not be negative")
	}
	return nil
}
