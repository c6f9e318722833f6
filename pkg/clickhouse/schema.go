package clickhouse

import "fmt"

// Table names inside the configured database.
const (
	TableRecords     = "training_records"
	TableAuxSeries   = "aux_series"
	TableModels      = "model_parameters"
	TableActiveModel = "active_model"
	TableTrials      = "hyperparameter_trials"
	TableBestTrials  = "best_trials"
	TableSnapshots   = "performance_snapshots"
)

// Schema returns the idempotent DDL for database. History tables are plain
// MergeTree and only ever appended to. Pointer and backfill tables use
// ReplacingMergeTree and are read with FINAL.
func Schema(database string) []string {
	t := func(name string) string { return database + "." + name }
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts DateTime('UTC'),
			price Nullable(Float64),
			demand Nullable(Float64),
			gen_coal Nullable(Float64),
			gen_gas Nullable(Float64),
			gen_nuclear Nullable(Float64),
			gen_hydro Nullable(Float64),
			gen_wind Nullable(Float64),
			gen_solar Nullable(Float64),
			gen_other Nullable(Float64),
			reserves Nullable(Float64),
			interchange Nullable(Float64),
			temperature Nullable(Float64),
			wind_speed Nullable(Float64),
			cloud_cover Nullable(Float64),
			valid UInt8,
			ingested_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(ingested_at) ORDER BY ts`, t(TableRecords)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name LowCardinality(String),
			day Date,
			value Float64,
			ingested_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(ingested_at) ORDER BY (name, day)`, t(TableAuxSeries)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id String,
			version String,
			model_type LowCardinality(String),
			payload String,
			created_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree ORDER BY (version, created_at, id)`, t(TableModels)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			slot UInt8,
			model_version String,
			ensemble_id String,
			updated_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(updated_at) ORDER BY slot`, t(TableActiveModel)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id String,
			model_version String,
			model_type LowCardinality(String),
			trial_number UInt32,
			hyperparameters String,
			mae Float64,
			rmse Float64,
			mape Float64,
			r2 Float64,
			fold_mae String,
			duration_ms Int64,
			seed UInt64,
			created_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree ORDER BY (model_version, trial_number, id)`, t(TableTrials)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			model_version String,
			trial_id String,
			updated_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(updated_at) ORDER BY model_version`, t(TableBestTrials)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id String,
			model_version String,
			model_type LowCardinality(String),
			split LowCardinality(String),
			mae Float64,
			rmse Float64,
			mape Float64,
			smape Float64,
			sample_count UInt64,
			created_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree ORDER BY (model_version, created_at, id)`, t(TableSnapshots)),
	}
}
