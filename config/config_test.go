package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
		Redis: RedisConfig{
			Dns: "",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "some-dns",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	if cnf.Scoring.IgnoranceZoneHours != 24 {
		t.Errorf("Expected default ignorance zone of 24h, got %v", cnf.Scoring.IgnoranceZoneHours)
	}
	if cnf.Scoring.CTRWeightFloor != 0.2 {
		t.Errorf("Expected default CTR weight floor of 0.2, got %v", cnf.Scoring.CTRWeightFloor)
	}
	if cnf.Fatigue.FrequencySaturation != 3.5 {
		t.Errorf("Expected default frequency saturation of 3.5, got %v", cnf.Fatigue.FrequencySaturation)
	}
	if cnf.Executor.MaxRetries != 5 {
		t.Errorf("Expected default max retries of 5, got %v", cnf.Executor.MaxRetries)
	}
	if cnf.Executor.JitterMinSeconds != 3 || cnf.Executor.JitterMaxSeconds != 18 {
		t.Errorf("Expected default jitter range 3..18, got %d..%d", cnf.Executor.JitterMinSeconds, cnf.Executor.JitterMaxSeconds)
	}
	if cnf.Allocator.SampleCount != 2000 {
		t.Errorf("Expected default sample count of 2000, got %v", cnf.Allocator.SampleCount)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	content := Configuration{
		ProjectName: "adpilot test",
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432/adpilot"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
		Scoring:     ScoringConfig{KillThreshold: 0.25},
	}
	raw, err := json.Marshal(content)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.CreateTemp(t.TempDir(), "adpilot*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(raw); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	if err := loadConfigFromFile(f.Name()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	cnf, err := Fetch()
	if err != nil {
		t.Fatalf("Expected config to be stored, got %v", err)
	}
	if cnf.ProjectName != "adpilot test" {
		t.Errorf("Expected project name to round-trip, got %s", cnf.ProjectName)
	}
	if cnf.Scoring.KillThreshold != 0.25 {
		t.Errorf("Expected configured kill threshold to survive defaults, got %v", cnf.Scoring.KillThreshold)
	}
	if cnf.Scoring.ScaleThreshold != 0.7 {
		t.Errorf("Expected default scale threshold, got %v", cnf.Scoring.ScaleThreshold)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ADPILOT_SCORING_IGNORANCE_ZONE_HOURS", "48")
	t.Setenv("ADPILOT_DATA_SOURCE_DNS", "postgres://env:5432/adpilot")
	t.Setenv("ADPILOT_REDIS_DNS", "localhost:6379")

	if err := loadConfigFromFile("does-not-exist.json"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	cnf, err := Fetch()
	if err != nil {
		t.Fatal(err)
	}
	if cnf.Scoring.IgnoranceZoneHours != 48 {
		t.Errorf("Expected env override of ignorance zone, got %v", cnf.Scoring.IgnoranceZoneHours)
	}
	if cnf.DataSource.Dns != "postgres://env:5432/adpilot" {
		t.Errorf("Expected env override of datasource DNS, got %s", cnf.DataSource.Dns)
	}
}
