package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/frame"
)

// Database handles SQLite persistence for detection events
type Database struct {
	db *sql.DB
}

// DetectionRecord is one detection event row. VideoPath is empty when
// the clip had not finished encoding at insert time; it is filled in
// later via UpdateVideoPath.
type DetectionRecord struct {
	ID              string
	Timestamp       time.Time
	Method          string
	DetectedObjects []string
	Confidence      float64
	Regions         []frame.Region
	VideoPath       string
	ImagePath       string
}

// Statistics summarizes the stored detection history
type Statistics struct {
	Total    int            `json:"total"`
	ByMethod map[string]int `json:"by_method"`
	ByClass  map[string]int `json:"by_class"`
	Last24h  int            `json:"last_24h"`
}

// New opens (creating if needed) the database at dbPath
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent reads while the capture loop writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			detection_method TEXT NOT NULL,
			detected_objects TEXT,
			confidence REAL,
			bbox_count INTEGER DEFAULT 0,
			regions TEXT,
			video_path TEXT,
			image_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_time ON detections(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_method ON detections(detection_method, timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed")
	return nil
}

// SaveDetection inserts a detection event
func (d *Database) SaveDetection(rec *DetectionRecord) error {
	objectsJSON, err := json.Marshal(rec.DetectedObjects)
	if err != nil {
		return fmt.Errorf("failed to marshal detected objects: %w", err)
	}
	regionsJSON, err := json.Marshal(rec.Regions)
	if err != nil {
		return fmt.Errorf("failed to marshal regions: %w", err)
	}

	query := `INSERT INTO detections
		(id, timestamp, detection_method, detected_objects, confidence, bbox_count, regions, video_path, image_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = d.db.Exec(query, rec.ID, rec.Timestamp, rec.Method, string(objectsJSON),
		rec.Confidence, len(rec.Regions), string(regionsJSON), rec.VideoPath, rec.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to save detection: %w", err)
	}
	return nil
}

// UpdateVideoPath records the clip location once encoding finishes
func (d *Database) UpdateVideoPath(id, path string) error {
	_, err := d.db.Exec("UPDATE detections SET video_path = ? WHERE id = ?", path, id)
	if err != nil {
		return fmt.Errorf("failed to update video path: %w", err)
	}
	return nil
}

// GetDetection retrieves a detection by ID, nil when absent
func (d *Database) GetDetection(id string) (*DetectionRecord, error) {
	query := `SELECT id, timestamp, detection_method, detected_objects, confidence, regions, video_path, image_path
		FROM detections WHERE id = ?`

	rec, err := scanDetection(d.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}
	return rec, nil
}

// ListDetections returns detections newest first, optionally filtered by
// method and start time
func (d *Database) ListDetections(method string, since *time.Time, limit int) ([]*DetectionRecord, error) {
	query := `SELECT id, timestamp, detection_method, detected_objects, confidence, regions, video_path, image_path
		FROM detections WHERE 1=1`
	args := []interface{}{}

	if method != "" {
		query += " AND detection_method = ?"
		args = append(args, method)
	}
	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *since)
	}

	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var records []*DetectionRecord
	for rows.Next() {
		rec, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStatistics aggregates counts over the stored history
func (d *Database) GetStatistics() (*Statistics, error) {
	stats := &Statistics{
		ByMethod: make(map[string]int),
		ByClass:  make(map[string]int),
	}

	if err := d.db.QueryRow("SELECT COUNT(*) FROM detections").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	if err := d.db.QueryRow("SELECT COUNT(*) FROM detections WHERE timestamp >= ?", cutoff).Scan(&stats.Last24h); err != nil {
		return nil, fmt.Errorf("failed to count recent detections: %w", err)
	}

	rows, err := d.db.Query("SELECT detection_method, COUNT(*) FROM detections GROUP BY detection_method")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by method: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var method string
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			return nil, fmt.Errorf("failed to scan method count: %w", err)
		}
		stats.ByMethod[method] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Object classes are stored as JSON arrays; unpack in Go
	objRows, err := d.db.Query("SELECT detected_objects FROM detections WHERE detected_objects IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to read object classes: %w", err)
	}
	defer objRows.Close()
	for objRows.Next() {
		var objectsJSON string
		if err := objRows.Scan(&objectsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan object classes: %w", err)
		}
		var objects []string
		if objectsJSON == "" || json.Unmarshal([]byte(objectsJSON), &objects) != nil {
			continue
		}
		for _, o := range objects {
			stats.ByClass[o]++
		}
	}
	return stats, objRows.Err()
}

// DeleteOlderThan removes detections before the cutoff and returns the
// number of rows deleted
func (d *Database) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM detections WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old detections: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDetection(row rowScanner) (*DetectionRecord, error) {
	var rec DetectionRecord
	var objectsJSON, regionsJSON sql.NullString
	var videoPath, imagePath sql.NullString

	err := row.Scan(&rec.ID, &rec.Timestamp, &rec.Method, &objectsJSON,
		&rec.Confidence, &regionsJSON, &videoPath, &imagePath)
	if err != nil {
		return nil, err
	}

	rec.VideoPath = videoPath.String
	rec.ImagePath = imagePath.String
	if objectsJSON.Valid && objectsJSON.String != "" {
		if err := json.Unmarshal([]byte(objectsJSON.String), &rec.DetectedObjects); err != nil {
			return nil, fmt.Errorf("failed to unmarshal detected objects: %w", err)
		}
	}
	if regionsJSON.Valid && regionsJSON.String != "" {
		if err := json.Unmarshal([]byte(regionsJSON.String), &rec.Regions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal regions: %w", err)
		}
	}
	return &rec, nil
}
