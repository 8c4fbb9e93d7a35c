// Package postgres provides Postgres-backed persistence implementations.
//
// The stores assume the following schema:
//
//	CREATE TABLE platforms (
//	    id             BIGSERIAL PRIMARY KEY,
//	    name           TEXT NOT NULL,
//	    kind           TEXT NOT NULL,
//	    default_config JSONB NOT NULL DEFAULT '{}'
//	);
//
//	CREATE TABLE counties (
//	    id          BIGSERIAL PRIMARY KEY,
//	    name        TEXT NOT NULL,
//	    state       TEXT NOT NULL,
//	    active      BOOLEAN NOT NULL DEFAULT TRUE,
//	    platform_id BIGINT REFERENCES platforms(id),
//	    platform    TEXT NOT NULL DEFAULT '',
//	    config      JSONB NOT NULL DEFAULT '{}'
//	);
//
//	CREATE TABLE liens (
//	    recording_number TEXT PRIMARY KEY,
//	    county_id        BIGINT NOT NULL REFERENCES counties(id),
//	    record_date      TIMESTAMPTZ NOT NULL,
//	    debtor           TEXT NOT NULL DEFAULT '',
//	    debtor_address   TEXT NOT NULL DEFAULT '',
//	    creditor         TEXT NOT NULL DEFAULT '',
//	    amount           DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    pdf_url          TEXT NOT NULL DEFAULT '',
//	    downstream_id    TEXT,
//	    status           TEXT NOT NULL,
//	    created_at       TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE automation_runs (
//	    id           BIGSERIAL PRIMARY KEY,
//	    trigger      TEXT NOT NULL,
//	    status       TEXT NOT NULL,
//	    started_at   TIMESTAMPTZ NOT NULL,
//	    finished_at  TIMESTAMPTZ,
//	    liens_found  INT NOT NULL DEFAULT 0,
//	    liens_synced INT NOT NULL DEFAULT 0,
//	    counties_run INT NOT NULL DEFAULT 0,
//	    error_text   TEXT NOT NULL DEFAULT ''
//	);
//
//	CREATE TABLE county_runs (
//	    id          BIGSERIAL PRIMARY KEY,
//	    run_id      BIGINT NOT NULL REFERENCES automation_runs(id),
//	    county_id   BIGINT NOT NULL REFERENCES counties(id),
//	    status      TEXT NOT NULL,
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    finished_at TIMESTAMPTZ,
//	    found       INT NOT NULL DEFAULT 0,
//	    processed   INT NOT NULL DEFAULT 0,
//	    error_text  TEXT NOT NULL DEFAULT ''
//	);
//
//	CREATE TABLE review_items (
//	    recording_number TEXT PRIMARY KEY REFERENCES liens(recording_number),
//	    run_id           BIGINT NOT NULL REFERENCES automation_runs(id)
//	);
//
//	CREATE TABLE schedule (
//	    id     INT PRIMARY KEY,
//	    config JSONB NOT NULL
//	);
package postgres
