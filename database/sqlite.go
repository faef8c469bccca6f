package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}

	// Create tables if they don't exist
	err = initTables(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			camera_name TEXT NOT NULL,
			source_uri TEXT,
			created_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			uploaded_at TIMESTAMP,
			status TEXT NOT NULL,
			duration REAL DEFAULT 0,
			size INTEGER DEFAULT 0,
			local_path TEXT,
			r2_path TEXT,
			r2_url TEXT,
			error_message TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings (status)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS lifecycle_events (
			event_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			session_id TEXT NOT NULL,
			source_uri TEXT,
			output_path TEXT,
			exit_code INTEGER DEFAULT 0,
			error TEXT,
			at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_session ON lifecycle_events (session_id)
	`)
	if err != nil {
		return err
	}

	return nil
}

// CreateRecording inserts a new recording record into the database
func (s *SQLiteDB) CreateRecording(rec RecordingRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO recordings (
			id, camera_name, source_uri, created_at, finished_at, uploaded_at,
			status, duration, size, local_path, r2_path, r2_url, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.CameraName,
		rec.SourceURI,
		rec.CreatedAt,
		rec.FinishedAt,
		rec.UploadedAt,
		rec.Status,
		rec.Duration,
		rec.Size,
		rec.LocalPath,
		rec.R2Path,
		rec.R2URL,
		rec.ErrorMessage,
	)

	if err != nil {
		return fmt.Errorf("failed to create recording: %v", err)
	}

	return nil
}

// scanRecording extracts a RecordingRecord from a row scanner
func scanRecording(scan func(dest ...interface{}) error) (*RecordingRecord, error) {
	var rec RecordingRecord
	var finishedAt, uploadedAt sql.NullTime
	var sourceURI, localPath, r2Path, r2URL, errorMessage sql.NullString

	err := scan(
		&rec.ID,
		&rec.CameraName,
		&sourceURI,
		&rec.CreatedAt,
		&finishedAt,
		&uploadedAt,
		&rec.Status,
		&rec.Duration,
		&rec.Size,
		&localPath,
		&r2Path,
		&r2URL,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}
	if uploadedAt.Valid {
		rec.UploadedAt = &uploadedAt.Time
	}
	if sourceURI.Valid {
		rec.SourceURI = sourceURI.String
	}
	if localPath.Valid {
		rec.LocalPath = localPath.String
	}
	if r2Path.Valid {
		rec.R2Path = r2Path.String
	}
	if r2URL.Valid {
		rec.R2URL = r2URL.String
	}
	if errorMessage.Valid {
		rec.ErrorMessage = errorMessage.String
	}

	return &rec, nil
}

const recordingColumns = `
	id, camera_name, source_uri, created_at, finished_at, uploaded_at,
	status, duration, size, local_path, r2_path, r2_url, error_message
`

// GetRecording retrieves a recording by its ID
func (s *SQLiteDB) GetRecording(id string) (*RecordingRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+recordingColumns+`
		FROM recordings
		WHERE id = ?
	`, id)

	rec, err := scanRecording(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %v", err)
	}

	return rec, nil
}

// UpdateRecording updates an existing recording record
func (s *SQLiteDB) UpdateRecording(rec RecordingRecord) error {
	_, err := s.db.Exec(`
		UPDATE recordings
		SET
			camera_name = ?,
			source_uri = ?,
			created_at = ?,
			finished_at = ?,
			uploaded_at = ?,
			status = ?,
			duration = ?,
			size = ?,
			local_path = ?,
			r2_path = ?,
			r2_url = ?,
			error_message = ?
		WHERE id = ?
	`,
		rec.CameraName,
		rec.SourceURI,
		rec.CreatedAt,
		rec.FinishedAt,
		rec.UploadedAt,
		rec.Status,
		rec.Duration,
		rec.Size,
		rec.LocalPath,
		rec.R2Path,
		rec.R2URL,
		rec.ErrorMessage,
		rec.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update recording: %v", err)
	}

	return nil
}

// queryRecordings runs a SELECT returning recording rows
func (s *SQLiteDB) queryRecordings(query string, args ...interface{}) ([]RecordingRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RecordingRecord
	for rows.Next() {
		rec, err := scanRecording(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %v", err)
		}
		recs = append(recs, *rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %v", err)
	}

	return recs, nil
}

// ListRecordings retrieves a list of recordings with pagination
func (s *SQLiteDB) ListRecordings(limit, offset int) ([]RecordingRecord, error) {
	recs, err := s.queryRecordings(`
		SELECT `+recordingColumns+`
		FROM recordings
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %v", err)
	}
	return recs, nil
}

// DeleteRecording removes a recording record by its ID
func (s *SQLiteDB) DeleteRecording(id string) error {
	_, err := s.db.Exec("DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %v", err)
	}

	return nil
}

// GetRecordingsByStatus retrieves recordings with a specific status
func (s *SQLiteDB) GetRecordingsByStatus(status RecordingStatus, limit, offset int) ([]RecordingRecord, error) {
	recs, err := s.queryRecordings(`
		SELECT `+recordingColumns+`
		FROM recordings
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get recordings by status: %v", err)
	}
	return recs, nil
}

// UpdateRecordingStatus updates the status and optional error message of a recording
func (s *SQLiteDB) UpdateRecordingStatus(id string, status RecordingStatus, errorMsg string) error {
	var finishedAt *time.Time

	// Terminal statuses stamp finished_at
	if status == StatusReady || status == StatusFailed {
		now := time.Now()
		finishedAt = &now
	}

	if finishedAt != nil {
		_, err := s.db.Exec(`
			UPDATE recordings
			SET status = ?, error_message = ?, finished_at = ?
			WHERE id = ?
		`, status, errorMsg, finishedAt, id)
		if err != nil {
			return fmt.Errorf("failed to update recording status: %v", err)
		}
	} else {
		_, err := s.db.Exec(`
			UPDATE recordings
			SET status = ?, error_message = ?
			WHERE id = ?
		`, status, errorMsg, id)
		if err != nil {
			return fmt.Errorf("failed to update recording status: %v", err)
		}
	}

	log.Printf("Updated recording %s status to %s", id, status)
	return nil
}

// UpdateRecordingR2 updates the R2 object key and public URL for a recording
func (s *SQLiteDB) UpdateRecordingR2(id, r2Path, r2URL string) error {
	now := time.Now()
	_, err := s.db.Exec(`
		UPDATE recordings
		SET r2_path = ?, r2_url = ?, uploaded_at = ?, status = ?
		WHERE id = ?
	`, r2Path, r2URL, now, StatusUploaded, id)

	if err != nil {
		return fmt.Errorf("failed to update recording R2 info: %v", err)
	}

	return nil
}

// InsertEvent persists a lifecycle event
func (s *SQLiteDB) InsertEvent(ev LifecycleEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO lifecycle_events (
			event_id, type, session_id, source_uri, output_path, exit_code, error, at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.EventID,
		ev.Type,
		ev.SessionID,
		ev.SourceURI,
		ev.OutputPath,
		ev.ExitCode,
		ev.Error,
		ev.At,
	)

	if err != nil {
		return fmt.Errorf("failed to insert event: %v", err)
	}

	return nil
}

// ListEvents returns the most recent lifecycle events, optionally scoped to one session
func (s *SQLiteDB) ListEvents(sessionID string, limit int) ([]LifecycleEvent, error) {
	query := `
		SELECT event_id, type, session_id, source_uri, output_path, exit_code, error, at
		FROM lifecycle_events
	`
	args := []interface{}{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %v", err)
	}
	defer rows.Close()

	var events []LifecycleEvent
	for rows.Next() {
		var ev LifecycleEvent
		var sourceURI, outputPath, errMsg sql.NullString

		err := rows.Scan(
			&ev.EventID,
			&ev.Type,
			&ev.SessionID,
			&sourceURI,
			&outputPath,
			&ev.ExitCode,
			&errMsg,
			&ev.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %v", err)
		}

		if sourceURI.Valid {
			ev.SourceURI = sourceURI.String
		}
		if outputPath.Valid {
			ev.OutputPath = outputPath.String
		}
		if errMsg.Valid {
			ev.Error = errMsg.String
		}

		events = append(events, ev)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %v", err)
	}

	return events, nil
}

// DeleteEventsBefore removes lifecycle events older than the cutoff
func (s *SQLiteDB) DeleteEventsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM lifecycle_events WHERE at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %v", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// ListRecordingsBefore returns recordings created before the cutoff
func (s *SQLiteDB) ListRecordingsBefore(cutoff time.Time) ([]RecordingRecord, error) {
	recs, err := s.queryRecordings(`
		SELECT `+recordingColumns+`
		FROM recordings
		WHERE created_at < ?
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list old recordings: %v", err)
	}
	return recs, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
