package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"pricepilot/models"
)

// SQLiteStore is the local operational database: run records, logs, and the
// command queue external tooling writes into. Catalog data lives in Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vendor_runs (
		id TEXT PRIMARY KEY,
		vendor TEXT NOT NULL,
		status TEXT,
		listings_scraped INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0,
		skipped_count INTEGER DEFAULT 0,
		error_details JSON,
		started_at DATETIME,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		vendor TEXT
	);

	CREATE TABLE IF NOT EXISTS vendor_stats (
		vendor TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_runs INTEGER DEFAULT 0,
		total_listings INTEGER DEFAULT 0,
		success_rate REAL
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_vendor ON vendor_runs(vendor, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveVendorRun upserts a run record; finished runs also roll up into
// vendor_stats.
func (s *SQLiteStore) SaveVendorRun(run *models.VendorRun) error {
	_, err := s.db.Exec(`
		INSERT INTO vendor_runs (id, vendor, status, listings_scraped, errors_count, skipped_count, error_details, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			listings_scraped = excluded.listings_scraped,
			errors_count = excluded.errors_count,
			skipped_count = excluded.skipped_count,
			error_details = excluded.error_details,
			finished_at = excluded.finished_at`,
		run.ID.String(), run.Vendor, run.Status, run.ListingsScraped, run.ErrorsCount,
		run.SkippedCount, string(run.ErrorsJSON()), run.StartedAt, run.FinishedAt)
	if err != nil {
		return err
	}

	if run.FinishedAt != nil {
		return s.updateVendorStats(run.Vendor)
	}
	return nil
}

func (s *SQLiteStore) updateVendorStats(vendor string) error {
	_, err := s.db.Exec(`
		INSERT INTO vendor_stats (vendor, last_run_at, last_run_status, total_runs, total_listings, success_rate)
		SELECT vendor,
			MAX(started_at),
			(SELECT status FROM vendor_runs r2 WHERE r2.vendor = vendor_runs.vendor ORDER BY started_at DESC LIMIT 1),
			COUNT(*),
			SUM(listings_scraped),
			AVG(CASE WHEN status = 'success' THEN 1.0 ELSE 0.0 END)
		FROM vendor_runs
		WHERE vendor = ? AND finished_at IS NOT NULL
		GROUP BY vendor
		ON CONFLICT(vendor) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			total_runs = excluded.total_runs,
			total_listings = excluded.total_listings,
			success_rate = excluded.success_rate`,
		vendor)
	return err
}

func (s *SQLiteStore) GetRecentRuns(vendor string, limit int) ([]models.VendorRun, error) {
	rows, err := s.db.Query(`
		SELECT id, vendor, status, listings_scraped, errors_count, skipped_count, error_details, started_at, finished_at
		FROM vendor_runs WHERE vendor = ? ORDER BY started_at DESC LIMIT ?`,
		vendor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.VendorRun
	for rows.Next() {
		var run models.VendorRun
		var id string
		var details sql.NullString
		if err := rows.Scan(&id, &run.Vendor, &run.Status, &run.ListingsScraped,
			&run.ErrorsCount, &run.SkippedCount, &details, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		run.ID, _ = uuid.Parse(id)
		if details.Valid {
			json.Unmarshal([]byte(details.String), &run.Errors)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetLastRunTime(vendor string) (time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRow(`SELECT MAX(started_at) FROM vendor_runs WHERE vendor = ?`, vendor).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	return last.Time, nil
}

// Log writes to the scrape_logs table. Errors are swallowed: logging must
// never break a run.
func (s *SQLiteStore) Log(runID uuid.UUID, level models.LogLevel, message, vendor string) {
	s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, vendor)
		VALUES (?, ?, ?, ?, ?)`,
		runID.String(), time.Now(), level, message, vendor)
}

func (s *SQLiteStore) GetRecentLogs(limit int) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, vendor
		FROM scrape_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var runID string
		if err := rows.Scan(&l.ID, &runID, &l.Timestamp, &l.Level, &l.Message, &l.Vendor); err != nil {
			return nil, err
		}
		l.RunID, _ = uuid.Parse(runID)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, string(raw))
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, COALESCE(params, ''), created_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params string
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		if params != "" {
			cmd.Params = json.RawMessage(params)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// PruneLogs keeps the log table from growing without bound.
func (s *SQLiteStore) PruneLogs(keep time.Duration) error {
	_, err := s.db.Exec(`DELETE FROM scrape_logs WHERE timestamp < ?`, time.Now().Add(-keep))
	return err
}
