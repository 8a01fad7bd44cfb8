package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
	"github.com/viking76/homeassistant-generic-wmc/internal/sampler"
)

const timeFormat = "2006-01-02 15:04:05"

// Store defines the interface for decision history and unit state storage
type Store interface {
	Close() error
	Migrate() error
	InsertDecision(d *models.Decision) error
	InsertBatch(decisions []*models.Decision) error
	GetDecisionsInRange(unitID string, start, end time.Time, limit int) ([]*models.Decision, error)
	GetRecentDecisions(unitID string, limit int) ([]*models.Decision, error)
	GetLatestDecision(unitID string) (*models.Decision, error)
	GetDailyStats(unitID string, start, end time.Time) ([]DailyStat, error)
	Prune(now time.Time, policy RetentionPolicy) (PruneResult, error)
	GetStorageStats() (*StorageStats, error)
	GetUnitIDs() ([]string, error)
	SaveUnitState(st models.UnitState) error
	LoadUnitState(unitID string) (*models.UnitState, error)
	LoadSamples(unitID string, since time.Time, limit int) ([]sampler.Sample, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore handles persistent storage of unit decisions
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// DailyStat represents aggregated statistics for a single day of one unit
type DailyStat struct {
	Date               time.Time `json:"date"`
	UnitID             string    `json:"unit_id"`
	MinIndoorDewPoint  float64   `json:"min_indoor_dew_point"`
	MaxIndoorDewPoint  float64   `json:"max_indoor_dew_point"`
	AvgIndoorDewPoint  float64   `json:"avg_indoor_dew_point"`
	AvgOutdoorDewPoint float64   `json:"avg_outdoor_dew_point"`
	MinIndoorHumidity  float64   `json:"min_indoor_humidity"`
	MaxIndoorHumidity  float64   `json:"max_indoor_humidity"`
	AvgIndoorHumidity  float64   `json:"avg_indoor_humidity"`
	TickCount          int       `json:"tick_count"`
	RunningTicks       int       `json:"running_ticks"`
	Transitions        int       `json:"transitions"`
	Errors             int       `json:"errors"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalDecisions int64     `json:"total_decisions"`
	OldestDecision time.Time `json:"oldest_decision,omitempty"`
	NewestDecision time.Time `json:"newest_decision,omitempty"`
	UniqueUnits    int       `json:"unique_units"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id TEXT NOT NULL,
		rule TEXT NOT NULL,
		from_level TEXT NOT NULL,
		to_level TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		indoor_temp REAL,
		indoor_humidity REAL,
		outdoor_temp REAL,
		outdoor_humidity REAL,
		indoor_dew_point REAL,
		outdoor_dew_point REAL,
		target REAL,
		delta REAL,
		samples INTEGER NOT NULL DEFAULT 0,
		min_on_until DATETIME,
		max_on_until DATETIME,
		error TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_unit_time ON decisions(unit_id, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_decisions_time ON decisions(recorded_at DESC);

	CREATE TABLE IF NOT EXISTS unit_state (
		unit_id TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		min_on_until DATETIME,
		max_on_until DATETIME,
		enabled INTEGER NOT NULL,
		saved_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

const insertDecision = `
	INSERT INTO decisions (
		unit_id, rule, from_level, to_level, enabled,
		indoor_temp, indoor_humidity, outdoor_temp, outdoor_humidity,
		indoor_dew_point, outdoor_dew_point, target, delta, samples,
		min_on_until, max_on_until, error, recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const decisionColumns = `
	unit_id, rule, from_level, to_level, enabled,
	indoor_temp, indoor_humidity, outdoor_temp, outdoor_humidity,
	indoor_dew_point, outdoor_dew_point, target, delta, samples,
	min_on_until, max_on_until, error, recorded_at
`

// decisionArgs flattens d into the insertDecision parameters. Values the
// tick never produced are stored as NULL.
func decisionArgs(d *models.Decision) []interface{} {
	var inT, inH, outT, outH, inDP, outDP, delta, target interface{}
	if d.Reading != nil {
		inT = d.Reading.IndoorTemp
		inH = d.Reading.IndoorHumidity
		outT = d.Reading.OutdoorTemp
		outH = d.Reading.OutdoorHumidity
		if d.Error == "" {
			inDP = d.IndoorDewPoint
			outDP = d.OutdoorDewPoint
			delta = d.Delta
		}
	}
	if d.Target != nil {
		target = *d.Target
	}
	return []interface{}{
		d.UnitID,
		string(d.Rule),
		d.From.String(),
		d.To.String(),
		d.Enabled,
		inT, inH, outT, outH,
		inDP, outDP, target, delta,
		d.Samples,
		nullableTime(d.MinOnUntil),
		nullableTime(d.MaxOnUntil),
		d.Error,
		formatTime(d.Timestamp),
	}
}

// InsertDecision inserts a single decision into the database
func (s *SQLiteStore) InsertDecision(d *models.Decision) error {
	_, err := s.db.Exec(insertDecision, decisionArgs(d)...)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple decisions in a single transaction
func (s *SQLiteStore) InsertBatch(decisions []*models.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertDecision)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range decisions {
		if _, err := stmt.Exec(decisionArgs(d)...); err != nil {
			return fmt.Errorf("failed to insert decision in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(decisions)).Msg("Batch insert completed")
	return nil
}

// GetDecisionsInRange returns decisions within a time range, newest first.
// An empty unitID matches every unit.
func (s *SQLiteStore) GetDecisionsInRange(unitID string, start, end time.Time, limit int) ([]*models.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions
		WHERE (? = '' OR unit_id = ?) AND recorded_at BETWEEN ? AND ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.Query(query, unitID, unitID, formatTime(start), formatTime(end), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	return s.scanDecisions(rows)
}

// GetRecentDecisions returns the last limit decisions of a unit, newest first
func (s *SQLiteStore) GetRecentDecisions(unitID string, limit int) ([]*models.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions
		WHERE unit_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.Query(query, unitID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	return s.scanDecisions(rows)
}

// GetLatestDecision returns the most recent decision for a unit, or nil
func (s *SQLiteStore) GetLatestDecision(unitID string) (*models.Decision, error) {
	decisions, err := s.GetRecentDecisions(unitID, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest decision: %w", err)
	}
	if len(decisions) == 0 {
		return nil, nil
	}
	return decisions[0], nil
}

// GetDailyStats returns aggregated daily statistics for a time range
func (s *SQLiteStore) GetDailyStats(unitID string, start, end time.Time) ([]DailyStat, error) {
	query := `
		SELECT
			date(recorded_at) as date,
			unit_id,
			MIN(indoor_dew_point),
			MAX(indoor_dew_point),
			AVG(indoor_dew_point),
			AVG(outdoor_dew_point),
			MIN(indoor_humidity),
			MAX(indoor_humidity),
			AVG(indoor_humidity),
			COUNT(*),
			SUM(CASE WHEN to_level != 'off' THEN 1 ELSE 0 END),
			SUM(CASE WHEN to_level != from_level THEN 1 ELSE 0 END),
			SUM(CASE WHEN error != '' THEN 1 ELSE 0 END)
		FROM decisions
		WHERE (? = '' OR unit_id = ?) AND recorded_at BETWEEN ? AND ?
		GROUP BY date(recorded_at), unit_id
		ORDER BY date DESC
	`

	rows, err := s.db.Query(query, unitID, unitID, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		var dateStr string
		var minDP, maxDP, avgDP, avgOutDP, minH, maxH, avgH sql.NullFloat64

		err := rows.Scan(
			&dateStr,
			&stat.UnitID,
			&minDP,
			&maxDP,
			&avgDP,
			&avgOutDP,
			&minH,
			&maxH,
			&avgH,
			&stat.TickCount,
			&stat.RunningTicks,
			&stat.Transitions,
			&stat.Errors,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}

		stat.MinIndoorDewPoint = minDP.Float64
		stat.MaxIndoorDewPoint = maxDP.Float64
		stat.AvgIndoorDewPoint = avgDP.Float64
		stat.AvgOutdoorDewPoint = avgOutDP.Float64
		stat.MinIndoorHumidity = minH.Float64
		stat.MaxIndoorHumidity = maxH.Float64
		stat.AvgIndoorHumidity = avgH.Float64

		stat.Date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}

		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// Prune applies a retention policy in one transaction. Steady ticks go
// first, then everything past the full retention.
func (s *SQLiteStore) Prune(now time.Time, policy RetentionPolicy) (PruneResult, error) {
	var res PruneResult
	all, steady := policy.Cutoffs(now)

	tx, err := s.db.Begin()
	if err != nil {
		return res, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	if steady.After(all) {
		r, err := tx.Exec(
			"DELETE FROM decisions WHERE recorded_at < ? AND from_level = to_level AND error = ''",
			formatTime(steady),
		)
		if err != nil {
			return res, fmt.Errorf("failed to prune steady decisions: %w", err)
		}
		if res.Steady, err = r.RowsAffected(); err != nil {
			return res, fmt.Errorf("failed to get rows affected: %w", err)
		}
	}

	r, err := tx.Exec("DELETE FROM decisions WHERE recorded_at < ?", formatTime(all))
	if err != nil {
		return res, fmt.Errorf("failed to prune decisions: %w", err)
	}
	if res.Expired, err = r.RowsAffected(); err != nil {
		return res, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PruneResult{}, fmt.Errorf("failed to commit prune: %w", err)
	}
	return res, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&stats.TotalDecisions)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}

	if stats.TotalDecisions == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err = s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM decisions").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}

	stats.OldestDecision, _ = parseTimestamp(oldestStr)
	stats.NewestDecision, _ = parseTimestamp(newestStr)

	err = s.db.QueryRow("SELECT COUNT(DISTINCT unit_id) FROM decisions").Scan(&stats.UniqueUnits)
	if err != nil {
		return nil, fmt.Errorf("failed to count units: %w", err)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// GetUnitIDs returns every unit id that has recorded decisions
func (s *SQLiteStore) GetUnitIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT unit_id FROM decisions ORDER BY unit_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query unit IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan unit ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ids, nil
}

// SaveUnitState upserts the controller state of a unit
func (s *SQLiteStore) SaveUnitState(st models.UnitState) error {
	_, err := s.db.Exec(`
		INSERT INTO unit_state (unit_id, level, min_on_until, max_on_until, enabled, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET
			level = excluded.level,
			min_on_until = excluded.min_on_until,
			max_on_until = excluded.max_on_until,
			enabled = excluded.enabled,
			saved_at = excluded.saved_at
	`,
		st.UnitID,
		st.Level.String(),
		nullableTime(st.MinOnUntil),
		nullableTime(st.MaxOnUntil),
		st.Enabled,
		formatTime(st.SavedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save state of %s: %w", st.UnitID, err)
	}
	return nil
}

// LoadUnitState returns the saved state of a unit, or nil if none was saved
func (s *SQLiteStore) LoadUnitState(unitID string) (*models.UnitState, error) {
	var level, savedAt string
	var minOn, maxOn sql.NullString
	st := models.UnitState{UnitID: unitID}

	err := s.db.QueryRow(
		"SELECT level, min_on_until, max_on_until, enabled, saved_at FROM unit_state WHERE unit_id = ?",
		unitID,
	).Scan(&level, &minOn, &maxOn, &st.Enabled, &savedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of %s: %w", unitID, err)
	}

	if st.Level, err = models.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("state of %s: %w", unitID, err)
	}
	if st.MinOnUntil, err = parseNullTime(minOn); err != nil {
		return nil, err
	}
	if st.MaxOnUntil, err = parseNullTime(maxOn); err != nil {
		return nil, err
	}
	if st.SavedAt, err = parseTimestamp(savedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// LoadSamples returns the accepted readings of a unit recorded at or
// after since, oldest first, at most limit of the newest.
func (s *SQLiteStore) LoadSamples(unitID string, since time.Time, limit int) ([]sampler.Sample, error) {
	rows, err := s.db.Query(`
		SELECT indoor_temp, indoor_humidity, outdoor_temp, outdoor_humidity,
			indoor_dew_point, outdoor_dew_point, recorded_at
		FROM decisions
		WHERE unit_id = ? AND recorded_at >= ? AND error = '' AND indoor_dew_point IS NOT NULL
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, unitID, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []sampler.Sample
	for rows.Next() {
		var smp sampler.Sample
		var recordedAt string
		err := rows.Scan(
			&smp.Reading.IndoorTemp,
			&smp.Reading.IndoorHumidity,
			&smp.Reading.OutdoorTemp,
			&smp.Reading.OutdoorHumidity,
			&smp.IndoorDewPoint,
			&smp.OutdoorDewPoint,
			&recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if smp.Reading.Timestamp, err = parseTimestamp(recordedAt); err != nil {
			return nil, err
		}
		samples = append(samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	// oldest first
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// scanDecisions scans multiple rows selected with decisionColumns
func (s *SQLiteStore) scanDecisions(rows *sql.Rows) ([]*models.Decision, error) {
	var decisions []*models.Decision

	for rows.Next() {
		var d models.Decision
		var rule, from, to, recordedAt string
		var inT, inH, outT, outH, inDP, outDP, target, delta sql.NullFloat64
		var minOn, maxOn sql.NullString

		err := rows.Scan(
			&d.UnitID, &rule, &from, &to, &d.Enabled,
			&inT, &inH, &outT, &outH,
			&inDP, &outDP, &target, &delta, &d.Samples,
			&minOn, &maxOn, &d.Error, &recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		d.Rule = models.Rule(rule)
		if d.From, err = models.ParseLevel(from); err != nil {
			return nil, err
		}
		if d.To, err = models.ParseLevel(to); err != nil {
			return nil, err
		}
		if d.Timestamp, err = parseTimestamp(recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		if d.MinOnUntil, err = parseNullTime(minOn); err != nil {
			return nil, err
		}
		if d.MaxOnUntil, err = parseNullTime(maxOn); err != nil {
			return nil, err
		}

		if inT.Valid {
			r := models.NewSensorReading(d.Timestamp, inT.Float64, inH.Float64, outT.Float64, outH.Float64)
			d.Reading = &r
		}
		d.IndoorDewPoint = inDP.Float64
		d.OutdoorDewPoint = outDP.Float64
		d.Delta = delta.Float64
		if target.Valid {
			d.Target = models.Float(target.Float64)
		}

		decisions = append(decisions, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return decisions, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTimestamp(ns.String)
}

// parseTimestamp tries multiple formats to parse a SQLite timestamp
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeFormat,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
