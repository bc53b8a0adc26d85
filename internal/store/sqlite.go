package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/neo/debatematch_backend/internal/logging"
)

const defaultRating = 1500

// sqliteGateway is the production Gateway, backed by a single sqlite file.
type sqliteGateway struct {
	db *sql.DB
}

// Open creates (or reuses) a sqlite database under dataDir and brings its
// schema up to date.
func Open(dataDir string) (Gateway, error) {
	logging.Info("Initializing store", map[string]interface{}{"data_dir": dataDir})

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "debatematch.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping store: %v", err)
	}

	runner := newMigrationRunner(db)
	if err := runner.up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %v", err)
	}

	logging.Info("Store ready", nil)
	return &sqliteGateway{db: db}, nil
}

func (g *sqliteGateway) Close() error {
	return g.db.Close()
}

func (g *sqliteGateway) GetSubject(id string) (*Subject, error) {
	var s Subject
	err := g.db.QueryRow(`SELECT id, title, body FROM subjects WHERE id = ?`, id).Scan(&s.ID, &s.Title, &s.Body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		logging.Error("GetSubject failed", map[string]interface{}{"error": err, "subject_id": id})
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return &s, nil
}

// InsertSubject adds a debate topic to the subjects table, or replaces one
// with the same ID (used by the seeding command, which is idempotent by
// design).
func (g *sqliteGateway) InsertSubject(s Subject) error {
	_, err := g.db.Exec(`INSERT OR REPLACE INTO subjects (id, title, body) VALUES (?, ?, ?)`, s.ID, s.Title, s.Body)
	if err != nil {
		logging.Error("InsertSubject failed", map[string]interface{}{"error": err, "subject_id": s.ID})
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

func (g *sqliteGateway) ListSubjects() ([]*Subject, error) {
	rows, err := g.db.Query(`SELECT id, title, body FROM subjects ORDER BY id`)
	if err != nil {
		logging.Error("ListSubjects failed", map[string]interface{}{"error": err})
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer rows.Close()

	var subjects []*Subject
	for rows.Next() {
		s := &Subject{}
		if err := rows.Scan(&s.ID, &s.Title, &s.Body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// GetProfile auto-creates a default profile (rating 1500, 0 wins, 0 loses)
// when none exists yet, so every userID that reaches this call is valid to
// use as a rating participant without a separate signup step.
func (g *sqliteGateway) GetProfile(userID string) (*Profile, error) {
	p, err := g.scanProfile(userID)
	if err == nil {
		return p, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	_, err = g.db.Exec(
		`INSERT INTO user_profile (user_id, display_name, rating, wins, loses, is_admin) VALUES (?, ?, ?, 0, 0, 0)`,
		userID, userID, defaultRating,
	)
	if err != nil {
		logging.Error("failed to auto-create profile", map[string]interface{}{"error": err, "user_id": userID})
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	logging.LogStoreEvent("INSERT", "user_profile", map[string]interface{}{"user_id": userID, "default": true})
	return g.scanProfile(userID)
}

func (g *sqliteGateway) scanProfile(userID string) (*Profile, error) {
	var p Profile
	var avatarURL sql.NullString
	var isAdmin int
	err := g.db.QueryRow(
		`SELECT user_id, display_name, rating, wins, loses, is_admin, avatar_url FROM user_profile WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Rating, &p.Wins, &p.Loses, &isAdmin, &avatarURL)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	p.IsAdmin = isAdmin != 0
	if avatarURL.Valid {
		p.AvatarURL = avatarURL.String
	}
	return &p, nil
}

func (g *sqliteGateway) UpdateProfile(userID string, update ProfileUpdate) error {
	current, err := g.GetProfile(userID)
	if err != nil {
		return err
	}

	if update.DisplayName != nil {
		current.DisplayName = *update.DisplayName
	}
	if update.Rating != nil {
		current.Rating = *update.Rating
	}
	if update.Wins != nil {
		current.Wins = *update.Wins
	}
	if update.Loses != nil {
		current.Loses = *update.Loses
	}
	if update.IsAdmin != nil {
		current.IsAdmin = *update.IsAdmin
	}
	if update.AvatarURL != nil {
		current.AvatarURL = *update.AvatarURL
	}

	isAdmin := 0
	if current.IsAdmin {
		isAdmin = 1
	}

	_, err = g.db.Exec(
		`UPDATE user_profile SET display_name = ?, rating = ?, wins = ?, loses = ?, is_admin = ?, avatar_url = ? WHERE user_id = ?`,
		current.DisplayName, current.Rating, current.Wins, current.Loses, isAdmin, current.AvatarURL, userID,
	)
	if err != nil {
		logging.Error("UpdateProfile failed", map[string]interface{}{"error": err, "user_id": userID})
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	logging.LogStoreEvent("UPDATE", "user_profile", map[string]interface{}{"user_id": userID})
	return nil
}

func (g *sqliteGateway) InsertMatch(rec MatchRecord) error {
	_, err := g.db.Exec(
		`INSERT INTO battles (id, player1, player2, subject_id, winner_id, log_json, verdict_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Player1, rec.Player2, rec.SubjectID, nullIfEmpty(rec.WinnerID), rec.LogJSON, rec.VerdictJSON,
	)
	if err != nil {
		logging.Error("InsertMatch failed", map[string]interface{}{"error": err, "match_id": rec.ID})
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	logging.LogStoreEvent("INSERT", "battles", map[string]interface{}{"match_id": rec.ID, "winner_id": rec.WinnerID})
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
