package database

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/EM-ade/realmkin-sub000/pkg/config"
	"github.com/EM-ade/realmkin-sub000/pkg/db"
)

type DBManager struct {
	Db *sql.DB
}

func New(cfg *config.DatabaseConfig) (*DBManager, error) {
	DBDSN := db.GetDBDSN(cfg)
	Db, err := sql.Open("postgres", DBDSN)
	if err != nil {
		return nil, err
	}
	if err := Db.Ping(); err != nil {
		return nil, err
	}
	db.ApplyPool(Db, cfg)

	return &DBManager{
		Db: Db,
	}, nil
}

func (dm *DBManager) ShutDown() {
	if dm.Db != nil {
		dm.Db.Close()
	}
}

// InitSchema creates the ledger tables. The DDL sticks to types both
// Postgres and sqlite understand so the test fixtures can run in memory.
func InitSchema(d *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT PRIMARY KEY,
		total_balance TEXT NOT NULL DEFAULT '0',
		total_staked TEXT NOT NULL DEFAULT '0',
		last_claim_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stakes (
		stake_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		lock_period TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		unlock_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		rewards_earned TEXT NOT NULL DEFAULT '0',
		last_reward_update TIMESTAMP NOT NULL,
		originating_transfer_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stakes_owner ON stakes(owner_id);
	CREATE INDEX IF NOT EXISTS idx_stakes_status ON stakes(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_stakes_origin_transfer ON stakes(originating_transfer_id);

	CREATE TABLE IF NOT EXISTS claims (
		claim_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		deducted_amount TEXT NOT NULL DEFAULT '0',
		destination_wallet TEXT NOT NULL,
		status TEXT NOT NULL,
		payout_transfer_id TEXT,
		error_code TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_claims_owner_created ON claims(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);

	CREATE TABLE IF NOT EXISTS history_entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		token TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		transfer_id TEXT,
		error_code TEXT,
		idempotency_key TEXT,
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_history_owner_ts ON history_entries(owner_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_history_status ON history_entries(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_history_idempotency ON history_entries(owner_id, idempotency_key);

	CREATE TABLE IF NOT EXISTS settlement_anomalies (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		ledger_error TEXT NOT NULL,
		payout_error TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`

	_, err := d.Exec(schema)
	return err
}
