// Package db stores decoded surveys in SQLite. Each device download or
// decoded file is one import; its surveys and their shots hang off it.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mnemo/internal/mnemo"
	"github.com/banshee-data/mnemo/internal/monitoring"
)

// ErrNotFound is returned when an import or survey does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sql.DB
	path string
}

// NewDB opens the database at path and applies pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenDB opens the database without touching its schema.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// ImportMeta describes where an import came from.
type ImportMeta struct {
	Source    string
	ByteCount int
	Protocol  string
	// Partial marks an import whose decode stopped at a bad header.
	Partial bool
}

// Import is one stored batch of surveys.
type Import struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	ByteCount   int       `json:"byte_count"`
	Protocol    string    `json:"protocol,omitempty"`
	Partial     bool      `json:"partial"`
	ImportedAt  time.Time `json:"imported_at"`
	SurveyCount int       `json:"survey_count"`
	ShotCount   int       `json:"shot_count"`
}

// SurveyRecord is a stored survey.
type SurveyRecord struct {
	ID       int64  `json:"id"`
	ImportID string `json:"import_id"`
	Seq      int    `json:"seq"`
	mnemo.Survey
}

// RecordImport stores surveys as a new import in one transaction.
func (db *DB) RecordImport(ctx context.Context, meta ImportMeta, surveys []mnemo.Survey) (Import, error) {
	imp := Import{
		ID:          uuid.NewString(),
		Source:      meta.Source,
		ByteCount:   meta.ByteCount,
		Protocol:    meta.Protocol,
		Partial:     meta.Partial,
		ImportedAt:  time.Now().UTC().Truncate(time.Second),
		SurveyCount: len(surveys),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Import{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO imports (import_id, source, byte_count, protocol, partial, imported_unix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		imp.ID, imp.Source, imp.ByteCount, imp.Protocol, imp.Partial, imp.ImportedAt.Unix(),
	); err != nil {
		return Import{}, fmt.Errorf("failed to insert import: %w", err)
	}

	shotStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO shots (survey_id, seq, shot_type, head_in, head_out, length,
			depth_in, depth_out, pitch_in, pitch_out, marker)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Import{}, err
	}
	defer shotStmt.Close()

	for i, s := range surveys {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO surveys (import_id, seq, survey_date, name, direction) VALUES (?, ?, ?, ?, ?)`,
			imp.ID, i, s.Date.String(), []byte(s.Name), int(s.Direction),
		)
		if err != nil {
			return Import{}, fmt.Errorf("failed to insert survey %d: %w", i, err)
		}
		surveyID, err := res.LastInsertId()
		if err != nil {
			return Import{}, err
		}
		for j, shot := range s.Shots {
			r := shot.Raw
			if _, err := shotStmt.ExecContext(ctx, surveyID, j, int(shot.Type),
				r.HeadIn, r.HeadOut, r.Length, r.DepthIn, r.DepthOut, r.PitchIn, r.PitchOut,
				int(shot.Marker),
			); err != nil {
				return Import{}, fmt.Errorf("failed to insert shot %d of survey %d: %w", j, i, err)
			}
		}
		imp.ShotCount += len(s.Shots)
	}

	if err := tx.Commit(); err != nil {
		return Import{}, err
	}
	monitoring.Debugf("stored import %s: %d surveys, %d shots", imp.ID, imp.SurveyCount, imp.ShotCount)
	return imp, nil
}

const importColumns = `
	SELECT i.import_id, i.source, i.byte_count, i.protocol, i.partial, i.imported_unix,
		(SELECT COUNT(*) FROM surveys s WHERE s.import_id = i.import_id),
		(SELECT COUNT(*) FROM shots sh JOIN surveys s ON sh.survey_id = s.survey_id
			WHERE s.import_id = i.import_id)
	FROM imports i`

func scanImport(row interface{ Scan(...any) error }) (Import, error) {
	var (
		imp      Import
		unixTime int64
	)
	if err := row.Scan(&imp.ID, &imp.Source, &imp.ByteCount, &imp.Protocol, &imp.Partial,
		&unixTime, &imp.SurveyCount, &imp.ShotCount); err != nil {
		return Import{}, err
	}
	imp.ImportedAt = time.Unix(unixTime, 0).UTC()
	return imp, nil
}

// Imports lists every import, newest first.
func (db *DB) Imports(ctx context.Context) ([]Import, error) {
	rows, err := db.QueryContext(ctx, importColumns+` ORDER BY i.imported_unix DESC, i.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	imports := []Import{}
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		imports = append(imports, imp)
	}
	return imports, rows.Err()
}

// Import returns one import by id.
func (db *DB) Import(ctx context.Context, id string) (Import, error) {
	imp, err := scanImport(db.QueryRowContext(ctx, importColumns+` WHERE i.import_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Import{}, fmt.Errorf("import %s: %w", id, ErrNotFound)
	}
	return imp, err
}

// DeleteImport removes an import with its surveys and shots.
func (db *DB) DeleteImport(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM imports WHERE import_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("import %s: %w", id, ErrNotFound)
	}
	return nil
}

// Surveys returns the surveys of an import in recorded order, with shots.
func (db *DB) Surveys(ctx context.Context, importID string) ([]SurveyRecord, error) {
	if _, err := db.Import(ctx, importID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT survey_id, import_id, seq, survey_date, name, direction
		 FROM surveys WHERE import_id = ? ORDER BY seq`, importID)
	if err != nil {
		return nil, err
	}
	surveys := []SurveyRecord{}
	for rows.Next() {
		rec, err := scanSurvey(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		surveys = append(surveys, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range surveys {
		shots, err := db.shots(ctx, surveys[i].ID)
		if err != nil {
			return nil, err
		}
		surveys[i].Shots = shots
	}
	return surveys, nil
}

// Survey returns one survey with its shots.
func (db *DB) Survey(ctx context.Context, id int64) (SurveyRecord, error) {
	rec, err := scanSurvey(db.QueryRowContext(ctx,
		`SELECT survey_id, import_id, seq, survey_date, name, direction
		 FROM surveys WHERE survey_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SurveyRecord{}, fmt.Errorf("survey %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return SurveyRecord{}, err
	}
	rec.Shots, err = db.shots(ctx, id)
	return rec, err
}

func scanSurvey(row interface{ Scan(...any) error }) (SurveyRecord, error) {
	var (
		rec       SurveyRecord
		date      string
		name      []byte
		direction int
	)
	if err := row.Scan(&rec.ID, &rec.ImportID, &rec.Seq, &date, &name, &direction); err != nil {
		return SurveyRecord{}, err
	}
	t, err := time.Parse(mnemo.DeviceTimeLayout, date)
	if err != nil {
		return SurveyRecord{}, fmt.Errorf("survey %d: bad stored date %q: %w", rec.ID, date, err)
	}
	rec.Date = mnemo.DeviceTime{Time: t}
	rec.Name = string(name)
	rec.Direction = mnemo.Direction(direction)
	return rec, nil
}

func (db *DB) shots(ctx context.Context, surveyID int64) ([]mnemo.Shot, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT shot_type, head_in, head_out, length, depth_in, depth_out, pitch_in, pitch_out, marker
		 FROM shots WHERE survey_id = ? ORDER BY seq`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shots := []mnemo.Shot{}
	for rows.Next() {
		var (
			typ, marker int
			r           mnemo.RawShot
		)
		if err := rows.Scan(&typ, &r.HeadIn, &r.HeadOut, &r.Length, &r.DepthIn, &r.DepthOut,
			&r.PitchIn, &r.PitchOut, &marker); err != nil {
			return nil, err
		}
		shots = append(shots, mnemo.NewShot(mnemo.ShotType(typ), r, int8(marker)))
	}
	return shots, rows.Err()
}

// AttachAdminRoutes mounts the debug pages: live SQL through tailsql and a
// gzipped backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Survey DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "mnemo-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("failed to write backup: %v", err)
	}
}
