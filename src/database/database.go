package database

import (
	"database/sql"
	stdlog "log"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	// A single writer connection keeps concurrent merges serialized
	// without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	DB = db

	logger.L.Info("Checking database migrations", "databasePath", databasePath)

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS sales_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		marketplace TEXT NOT NULL,
		account_id TEXT NOT NULL,
		total_orders INTEGER NOT NULL DEFAULT 0,
		total_revenue REAL NOT NULL DEFAULT 0,
		net_revenue REAL NOT NULL DEFAULT 0,
		units_sold INTEGER NOT NULL DEFAULT 0,
		refunds_amount REAL NOT NULL DEFAULT 0,
		organic_sales REAL NOT NULL DEFAULT 0,
		promoted_sales REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(date, marketplace, account_id)
	);

	CREATE TABLE IF NOT EXISTS ads_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		marketplace TEXT NOT NULL,
		account_id TEXT NOT NULL,
		ad_spend REAL NOT NULL DEFAULT 0,
		ad_sales REAL NOT NULL DEFAULT 0,
		ad_orders INTEGER NOT NULL DEFAULT 0,
		impressions INTEGER NOT NULL DEFAULT 0,
		clicks INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(date, marketplace, account_id)
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		target_date TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		duration_seconds INTEGER NOT NULL,
		status TEXT NOT NULL,
		reports_requested INTEGER NOT NULL,
		reports_completed INTEGER NOT NULL,
		rows_written INTEGER NOT NULL,
		error_summary TEXT
	);

	CREATE TABLE IF NOT EXISTS anomalies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		record_kind TEXT NOT NULL,
		date TEXT NOT NULL,
		marketplace TEXT NOT NULL,
		account_id TEXT NOT NULL,
		code TEXT NOT NULL,
		field TEXT,
		value REAL,
		detail TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sales_metrics_date ON sales_metrics(date);
	CREATE INDEX IF NOT EXISTS idx_ads_metrics_date ON ads_metrics(date);
	CREATE INDEX IF NOT EXISTS idx_anomalies_run ON anomalies(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_logs_target_date ON run_logs(target_date);
	`
	if _, err := DB.Exec(createTableStatement); err != nil {
		stdlog.Fatalf("failed to run database migrations: %v", err)
	}

	logger.L.Info("Database migrations complete")
}
