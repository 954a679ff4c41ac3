package config

import (
	jsoniter "github.com/json-iterator/go"
)

// SystemConfig maps to system.json: the engine-level tunables from
// the configuration table (rate limiting, pausing, sleep hours,
// admission, context assembly, HTS dispatch, accumulators, retries).
type SystemConfig struct {
	// Rate limiter
	RateLimitMaxMessages int  `json:"rate_limit_max_messages"`
	RateLimitWindowSec   int  `json:"rate_limit_window_sec"`
	RateLimitAutoPause   bool `json:"rate_limit_auto_pause"`

	// Sleep hours, "HH:MM" local wall-clock, may wrap past midnight.
	SleepHoursEnabled bool   `json:"sleep_hours_enabled"`
	SleepHoursStart   string `json:"sleep_hours_start"`
	SleepHoursEnd     string `json:"sleep_hours_end"`

	// Admission
	DeniedContactTTLHours     int    `json:"denied_contact_ttl_hours"`
	AutoApproveOnHistory      bool   `json:"auto_approve_on_history"`
	AdmissionAutoReplyUnknown bool   `json:"admission_auto_reply_unknown"`
	AdmissionAutoReplyText    string `json:"admission_auto_reply_text"`

	// History / context assembly
	HistoryMaxMessages int `json:"history_max_messages"`
	HistoryTTLDays     int `json:"history_ttl_days"`
	StyleCacheTTLSec   int `json:"style_cache_ttl_sec"`

	// HTS dispatcher
	HTSBaseDelayMs      int `json:"hts_base_delay_ms"`
	HTSMsPerChar        int `json:"hts_ms_per_char"`
	HTSCognitivePauseMs int `json:"hts_cognitive_pause_ms"`
	HTSMaxDelayMs       int `json:"hts_max_delay_ms"`

	// Relationship accumulator
	RelationshipBatchSize    int     `json:"relationship_batch_size"`
	RelationshipBatchWaitSec int     `json:"relationship_batch_wait_sec"`
	RelationshipDecayPerDay  float64 `json:"relationship_decay_per_day"`
	RelationshipMinSignals   int     `json:"relationship_min_signals"`
	RelationshipMinDelta     float64 `json:"relationship_min_delta"`

	// Style accumulator
	StyleFlushMinPendingChanges int `json:"style_flush_min_pending_changes"`
	StyleFlushMinSamples        int `json:"style_flush_min_samples"`

	// Pipeline concurrency
	MaxInFlightMessages int `json:"max_in_flight_messages"`

	// Retry / transient error handling
	MaxRetries   int `json:"max_retries"`
	RetryDelayMs int `json:"retry_delay_ms"`
	LLMTimeoutMs int `json:"llm_timeout_ms"`

	// Metrics endpoint; empty disables serving /metrics entirely.
	MetricsAddr string `json:"metrics_addr"`

	// Six-field (seconds-first) cron expression for draining messages
	// deferred during sleep hours.
	DrainDeferredCron string `json:"drain_deferred_cron"`

	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns the hardcoded safe defaults used when
// system.json is absent or partially specified.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		RateLimitMaxMessages: 10,
		RateLimitWindowSec:   60,
		RateLimitAutoPause:   true,

		SleepHoursEnabled: true,
		SleepHoursStart:   "23:00",
		SleepHoursEnd:     "07:00",

		DeniedContactTTLHours:     24,
		AutoApproveOnHistory:      true,
		AdmissionAutoReplyUnknown: true,
		AdmissionAutoReplyText:    "Thanks for reaching out! I've passed this along and someone will get back to you shortly.",

		HistoryMaxMessages: 100,
		HistoryTTLDays:     7,
		StyleCacheTTLSec:   1800,

		HTSBaseDelayMs:      30,
		HTSMsPerChar:        2,
		HTSCognitivePauseMs: 600,
		HTSMaxDelayMs:       5000,

		RelationshipBatchSize:    10,
		RelationshipBatchWaitSec: 30,
		RelationshipDecayPerDay:  0.95,
		RelationshipMinSignals:   3,
		RelationshipMinDelta:     0.3,

		StyleFlushMinPendingChanges: 5,
		StyleFlushMinSamples:        10,

		MaxInFlightMessages: 32,

		MaxRetries:   3,
		RetryDelayMs: 500,
		LLMTimeoutMs: 60000,

		MetricsAddr: ":9090",

		DrainDeferredCron: "0 * * * * *",

		LogLevel: "info",
	}
}

// LoadSystemConfig reads system.json over the defaults, returning the
// defaults untouched if the file is absent or unparsable.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := readFileIfExists(path)
	if err != nil || file == nil {
		return cfg
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig()
	}
	return cfg
}
