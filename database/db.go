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

package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	err = createAdStateTable(db)
	if err != nil {
		return nil, err
	}
	err = createAdMetricDayTable(db)
	if err != nil {
		return nil, err
	}
	err = createPendingChangeTable(db)
	if err != nil {
		return nil, err
	}
	err = createAttributionEventTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS adpilot`)
	return err
}

// createAdStateTable creates a PostgreSQL table for the AdState struct
func createAdStateTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS adpilot.ad_states (
			id SERIAL PRIMARY KEY,
			ad_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			campaign_name TEXT,
			mode TEXT NOT NULL DEFAULT 'pipeline',
			impressions BIGINT NOT NULL DEFAULT 0,
			clicks BIGINT NOT NULL DEFAULT 0,
			conversions BIGINT NOT NULL DEFAULT 0,
			spend NUMERIC(20, 4) NOT NULL DEFAULT 0,
			pipeline_value NUMERIC(20, 4) NOT NULL DEFAULT 0,
			cash_revenue NUMERIC(20, 4) NOT NULL DEFAULT 0,
			frequency DOUBLE PRECISION NOT NULL DEFAULT 0,
			cpm DOUBLE PRECISION NOT NULL DEFAULT 0,
			first_spend_at TIMESTAMP,
			last_metric_at TIMESTAMP NOT NULL DEFAULT '1970-01-01',
			archived BOOLEAN NOT NULL DEFAULT FALSE,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (tenant_id, ad_id)
		)
	`)
	return err
}

// createAdMetricDayTable creates the daily metric snapshot table used by the
// fatigue detector's trailing windows.
func createAdMetricDayTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS adpilot.ad_metric_days (
			id SERIAL PRIMARY KEY,
			ad_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			day DATE NOT NULL,
			impressions BIGINT NOT NULL DEFAULT 0,
			clicks BIGINT NOT NULL DEFAULT 0,
			spend NUMERIC(20, 4) NOT NULL DEFAULT 0,
			frequency DOUBLE PRECISION NOT NULL DEFAULT 0,
			cpm DOUBLE PRECISION NOT NULL DEFAULT 0,
			UNIQUE (tenant_id, ad_id, day)
		)
	`)
	return err
}

// createPendingChangeTable creates the decision queue table. The two indexes
// back the claim query and the per-ad FIFO guard.
func createPendingChangeTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS adpilot.pending_changes (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			ad_entity_id TEXT NOT NULL,
			change_type TEXT NOT NULL,
			target_value NUMERIC(20, 4),
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			reason TEXT,
			earliest_execute_at TIMESTAMP NOT NULL,
			jitter_seconds INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'PENDING',
			claimed_by TEXT,
			claimed_at TIMESTAMP,
			executed_at TIMESTAMP,
			error_count INT NOT NULL DEFAULT 0,
			last_error TEXT,
			platform_ref TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_pending_changes_claim
			ON adpilot.pending_changes (status, earliest_execute_at);
		CREATE INDEX IF NOT EXISTS idx_pending_changes_ad
			ON adpilot.pending_changes (tenant_id, ad_entity_id);
	`)
	return err
}

// createAttributionEventTable creates the dedup ledger for CRM attribution
// events. The unique event_id constraint is what makes ingestion idempotent.
func createAttributionEventTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS adpilot.attribution_events (
			id SERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			ad_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			stage_from TEXT,
			stage_to TEXT,
			attributed_value NUMERIC(20, 4) NOT NULL DEFAULT 0,
			occurred_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}
