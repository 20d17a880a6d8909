/*
Copyright 2024 Adpilot Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"ADPILOT_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"ADPILOT_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ADPILOT_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"ADPILOT_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"ADPILOT_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"ADPILOT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ADPILOT_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ADPILOT_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ADPILOT_REDIS_SKIP_TLS_VERIFY"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"ADPILOT_TYPESENSE_DNS"`
}

// QueueConfig configures the asynq ingestion and notification queues.
type QueueConfig struct {
	AttributionQueue string `json:"attribution_queue" envconfig:"ADPILOT_QUEUE_ATTRIBUTION"`
	MetricQueue      string `json:"metric_queue" envconfig:"ADPILOT_QUEUE_METRIC"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"ADPILOT_QUEUE_WEBHOOK"`
	IndexQueue       string `json:"index_queue" envconfig:"ADPILOT_QUEUE_INDEX"`
	NumberOfQueues   int    `json:"number_of_queues" envconfig:"ADPILOT_NUMBER_OF_QUEUES"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"ADPILOT_QUEUE_MONITORING_PORT"`
}

// ScoringConfig carries every tunable of the blended scoring model. The
// decay-curve shape and boost cap are deliberately configuration, not
// constants.
type ScoringConfig struct {
	IgnoranceZoneHours float64 `json:"ignorance_zone_hours" envconfig:"ADPILOT_SCORING_IGNORANCE_ZONE_HOURS"`
	IgnoranceZoneSpend float64 `json:"ignorance_zone_spend" envconfig:"ADPILOT_SCORING_IGNORANCE_ZONE_SPEND"`
	KillThreshold      float64 `json:"kill_threshold" envconfig:"ADPILOT_SCORING_KILL_THRESHOLD"`
	ScaleThreshold     float64 `json:"scale_threshold" envconfig:"ADPILOT_SCORING_SCALE_THRESHOLD"`
	CTRWeightFloor     float64 `json:"ctr_weight_floor" envconfig:"ADPILOT_SCORING_CTR_WEIGHT_FLOOR"`
	MaturityHours      float64 `json:"maturity_hours" envconfig:"ADPILOT_SCORING_MATURITY_HOURS"`
	BaselineCTR        float64 `json:"baseline_ctr" envconfig:"ADPILOT_SCORING_BASELINE_CTR"`
	TargetROAS         float64 `json:"target_roas" envconfig:"ADPILOT_SCORING_TARGET_ROAS"`
	BoostCap           float64 `json:"boost_cap" envconfig:"ADPILOT_SCORING_BOOST_CAP"`
	BoostMinTenants    int     `json:"boost_min_tenants" envconfig:"ADPILOT_SCORING_BOOST_MIN_TENANTS"`
	BoostROASThreshold float64 `json:"boost_roas_threshold" envconfig:"ADPILOT_SCORING_BOOST_ROAS_THRESHOLD"`
}

// FatigueConfig carries the trend-rule thresholds of the fatigue detector.
type FatigueConfig struct {
	MinHistoryDays       int     `json:"min_history_days" envconfig:"ADPILOT_FATIGUE_MIN_HISTORY_DAYS"`
	CTRDeclineThreshold  float64 `json:"ctr_decline_threshold" envconfig:"ADPILOT_FATIGUE_CTR_DECLINE"`
	FrequencySaturation  float64 `json:"frequency_saturation" envconfig:"ADPILOT_FATIGUE_FREQUENCY_SATURATION"`
	CPMIncreaseThreshold float64 `json:"cpm_increase_threshold" envconfig:"ADPILOT_FATIGUE_CPM_INCREASE"`
	ImpressionGrowthMin  float64 `json:"impression_growth_min" envconfig:"ADPILOT_FATIGUE_IMPRESSION_GROWTH_MIN"`
}

// AllocatorConfig configures the Thompson-sampling budget allocator.
type AllocatorConfig struct {
	SampleCount          int     `json:"sample_count" envconfig:"ADPILOT_ALLOCATOR_SAMPLE_COUNT"`
	ExplorationFloor     float64 `json:"exploration_floor" envconfig:"ADPILOT_ALLOCATOR_EXPLORATION_FLOOR"`
	AttributionUnitValue float64 `json:"attribution_unit_value" envconfig:"ADPILOT_ALLOCATOR_ATTRIBUTION_UNIT_VALUE"`
	DailyBudget          float64 `json:"daily_budget" envconfig:"ADPILOT_ALLOCATOR_DAILY_BUDGET"`
	CycleIntervalSec     int     `json:"cycle_interval_sec" envconfig:"ADPILOT_ALLOCATOR_CYCLE_INTERVAL_SEC"`
}

// ExecutorConfig configures the safe executor worker pool and its retry
// discipline.
type ExecutorConfig struct {
	MaxWorkers         int     `json:"max_workers" envconfig:"ADPILOT_EXECUTOR_MAX_WORKERS"`
	PollIntervalMs     int     `json:"poll_interval_ms" envconfig:"ADPILOT_EXECUTOR_POLL_INTERVAL_MS"`
	ClaimTimeoutSec    int     `json:"claim_timeout_sec" envconfig:"ADPILOT_EXECUTOR_CLAIM_TIMEOUT_SEC"`
	MaxRetries         int     `json:"max_retries" envconfig:"ADPILOT_EXECUTOR_MAX_RETRIES"`
	FuzzPercent        float64 `json:"fuzz_percent" envconfig:"ADPILOT_EXECUTOR_FUZZ_PERCENT"`
	JitterMinSeconds   int     `json:"jitter_min_seconds" envconfig:"ADPILOT_EXECUTOR_JITTER_MIN_SECONDS"`
	JitterMaxSeconds   int     `json:"jitter_max_seconds" envconfig:"ADPILOT_EXECUTOR_JITTER_MAX_SECONDS"`
	BackoffInitialSec  float64 `json:"backoff_initial_sec" envconfig:"ADPILOT_EXECUTOR_BACKOFF_INITIAL_SEC"`
	PlatformRPS        float64 `json:"platform_rps" envconfig:"ADPILOT_EXECUTOR_PLATFORM_RPS"`
	PlatformBurst      int     `json:"platform_burst" envconfig:"ADPILOT_EXECUTOR_PLATFORM_BURST"`
	ArchiveAfterDays   int     `json:"archive_after_days" envconfig:"ADPILOT_EXECUTOR_ARCHIVE_AFTER_DAYS"`
}

// PlatformConfig points at the external ad platform API.
type PlatformConfig struct {
	BaseURL    string `json:"base_url" envconfig:"ADPILOT_PLATFORM_BASE_URL"`
	APIKey     string `json:"api_key" envconfig:"ADPILOT_PLATFORM_API_KEY"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"ADPILOT_PLATFORM_TIMEOUT_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ADPILOT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ADPILOT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ADPILOT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName        string           `json:"project_name" envconfig:"ADPILOT_PROJECT_NAME"`
	BackupDir          string           `json:"backup_dir" envconfig:"ADPILOT_BACKUP_DIR"`
	AwsAccessKeyId     string           `json:"aws_access_key_id"`
	S3Endpoint         string           `json:"s3_endpoint"`
	AwsSecretAccessKey string           `json:"aws_secret_access_key"`
	S3BucketName       string           `json:"s3_bucket_name"`
	S3Region           string           `json:"s3_region"`
	EnableTelemetry    *bool            `json:"enable_telemetry" envconfig:"ADPILOT_ENABLE_TELEMETRY"`
	Server             ServerConfig     `json:"server"`
	DataSource         DataSourceConfig `json:"data_source"`
	Redis              RedisConfig      `json:"redis"`
	TypeSense          TypeSenseConfig  `json:"typesense"`
	TypeSenseKey       string           `json:"type_sense_key"`
	Queue              QueueConfig      `json:"queue"`
	Scoring            ScoringConfig    `json:"scoring"`
	Fatigue            FatigueConfig    `json:"fatigue"`
	Allocator          AllocatorConfig  `json:"allocator"`
	Executor           ExecutorConfig   `json:"executor"`
	Platform           PlatformConfig   `json:"platform"`
	Notification       Notification     `json:"notification"`
	RateLimit          RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("adpilot", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called adpilot.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Adpilot Server"
	}

	if cnf.TypeSense.Dns == "" {
		cnf.TypeSense.Dns = "http://typesense:8108"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Queue.applyDefaults()
	cnf.Scoring.applyDefaults()
	cnf.Fatigue.applyDefaults()
	cnf.Allocator.applyDefaults()
	cnf.Executor.applyDefaults()

	if cnf.Platform.TimeoutSec <= 0 {
		cnf.Platform.TimeoutSec = 15
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (q *QueueConfig) applyDefaults() {
	if q.AttributionQueue == "" {
		q.AttributionQueue = "new:attribution"
	}
	if q.MetricQueue == "" {
		q.MetricQueue = "new:metrics"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "new:webhook"
	}
	if q.IndexQueue == "" {
		q.IndexQueue = "new:index"
	}
	if q.NumberOfQueues <= 0 {
		q.NumberOfQueues = 4
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5004"
	}
}

func (s *ScoringConfig) applyDefaults() {
	if s.IgnoranceZoneHours <= 0 {
		s.IgnoranceZoneHours = 24
	}
	if s.IgnoranceZoneSpend <= 0 {
		s.IgnoranceZoneSpend = 20
	}
	if s.KillThreshold <= 0 {
		s.KillThreshold = 0.3
	}
	if s.ScaleThreshold <= 0 {
		s.ScaleThreshold = 0.7
	}
	if s.CTRWeightFloor <= 0 {
		s.CTRWeightFloor = 0.2
	}
	if s.MaturityHours <= 0 {
		s.MaturityHours = 168 // 7 days
	}
	if s.BaselineCTR <= 0 {
		s.BaselineCTR = 0.02
	}
	if s.TargetROAS <= 0 {
		s.TargetROAS = 3.0
	}
	if s.BoostCap <= 0 {
		s.BoostCap = 1.2
	}
	if s.BoostMinTenants <= 0 {
		s.BoostMinTenants = 3
	}
	if s.BoostROASThreshold <= 0 {
		s.BoostROASThreshold = 2.0
	}
}

func (f *FatigueConfig) applyDefaults() {
	if f.MinHistoryDays <= 0 {
		f.MinHistoryDays = 3
	}
	if f.CTRDeclineThreshold <= 0 {
		f.CTRDeclineThreshold = 0.20
	}
	if f.FrequencySaturation <= 0 {
		f.FrequencySaturation = 3.5
	}
	if f.CPMIncreaseThreshold <= 0 {
		f.CPMIncreaseThreshold = 0.50
	}
	if f.ImpressionGrowthMin <= 0 {
		f.ImpressionGrowthMin = 0.10
	}
}

func (a *AllocatorConfig) applyDefaults() {
	if a.SampleCount <= 0 {
		a.SampleCount = 2000
	}
	if a.ExplorationFloor <= 0 {
		a.ExplorationFloor = 0.05
	}
	if a.AttributionUnitValue <= 0 {
		a.AttributionUnitValue = 100
	}
	if a.DailyBudget <= 0 {
		a.DailyBudget = 1000
	}
	if a.CycleIntervalSec <= 0 {
		a.CycleIntervalSec = 300
	}
}

func (e *ExecutorConfig) applyDefaults() {
	if e.MaxWorkers <= 0 {
		e.MaxWorkers = 5
	}
	if e.PollIntervalMs <= 0 {
		e.PollIntervalMs = 1000
	}
	if e.ClaimTimeoutSec <= 0 {
		e.ClaimTimeoutSec = 300
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = 5
	}
	if e.FuzzPercent <= 0 {
		e.FuzzPercent = 0.03
	}
	if e.JitterMinSeconds <= 0 {
		e.JitterMinSeconds = 3
	}
	if e.JitterMaxSeconds <= e.JitterMinSeconds {
		e.JitterMaxSeconds = 18
	}
	if e.BackoffInitialSec <= 0 {
		e.BackoffInitialSec = 30
	}
	if e.PlatformRPS <= 0 {
		e.PlatformRPS = 2
	}
	if e.PlatformBurst <= 0 {
		e.PlatformBurst = 4
	}
	if e.ArchiveAfterDays <= 0 {
		e.ArchiveAfterDays = 30
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.Queue.applyDefaults()
	mockConfig.Scoring.applyDefaults()
	mockConfig.Fatigue.applyDefaults()
	mockConfig.Allocator.applyDefaults()
	mockConfig.Executor.applyDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
