// Package storage provides SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/fusen/internal/models"
	"github.com/hyperjump/fusen/internal/pointcodec"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ink_strokes (
		id TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		page_index INTEGER NOT NULL,
		layout_profile_id TEXT,
		color INTEGER NOT NULL,
		thickness REAL NOT NULL,
		created_at_ms INTEGER NOT NULL,
		points BLOB NOT NULL,
		PRIMARY KEY (doc_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_ink_doc_page ON ink_strokes(doc_id, page_index, layout_profile_id);

	CREATE TABLE IF NOT EXISTS highlights (
		id TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		page_index INTEGER NOT NULL,
		layout_profile_id TEXT,
		type TEXT NOT NULL,
		color INTEGER NOT NULL,
		opacity REAL NOT NULL,
		created_at_ms INTEGER NOT NULL,
		quad_points BLOB NOT NULL,
		quote TEXT,
		quote_prefix TEXT,
		quote_suffix TEXT,
		doc_progress REAL,
		reflow_location TEXT,
		anchor_start_word INTEGER,
		anchor_end_word INTEGER,
		PRIMARY KEY (doc_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_hl_doc_page ON highlights(doc_id, page_index, layout_profile_id);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		page_index INTEGER NOT NULL,
		layout_profile_id TEXT,
		bounds_left REAL NOT NULL,
		bounds_top REAL NOT NULL,
		bounds_right REAL NOT NULL,
		bounds_bottom REAL NOT NULL,
		text TEXT,
		created_at_ms INTEGER NOT NULL,
		color INTEGER NOT NULL,
		font_size REAL NOT NULL,
		bg_color INTEGER NOT NULL DEFAULT 0,
		bg_opacity REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (doc_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_note_doc_page ON notes(doc_id, page_index, layout_profile_id);
	`
	_, err := db.Exec(schema)
	return err
}

// layoutValue maps the empty layout profile to NULL so fixed-layout rows are
// distinguishable from every reflow layout.
func layoutValue(layoutProfileID string) any {
	if layoutProfileID == "" {
		return nil
	}
	return layoutProfileID
}

// layoutClause builds the layout predicate for page listings.
func layoutClause(layoutProfileID string) (string, []any) {
	if layoutProfileID == "" {
		return "layout_profile_id IS NULL", nil
	}
	return "layout_profile_id = ?", []any{layoutProfileID}
}

// ListInk returns the ink strokes of one page under one layout, in creation
// order. Rows with undecodable point payloads are treated as absent.
func (s *SQLiteStore) ListInk(ctx context.Context, docID string, pageIndex int, layoutProfileID string) ([]*models.InkStroke, error) {
	clause, extra := layoutClause(layoutProfileID)
	args := append([]any{docID, pageIndex}, extra...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_index, layout_profile_id, color, thickness, created_at_ms, points
		 FROM ink_strokes WHERE doc_id = ? AND page_index = ? AND `+clause+`
		 ORDER BY created_at_ms ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInk(rows)
}

// ListAllInk returns every ink stroke of a document across pages and layouts.
func (s *SQLiteStore) ListAllInk(ctx context.Context, docID string) ([]*models.InkStroke, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_index, layout_profile_id, color, thickness, created_at_ms, points
		 FROM ink_strokes WHERE doc_id = ? ORDER BY created_at_ms ASC`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInk(rows)
}

func scanInk(rows *sql.Rows) ([]*models.InkStroke, error) {
	var out []*models.InkStroke
	for rows.Next() {
		var (
			stroke models.InkStroke
			layout sql.NullString
			blob   []byte
		)
		if err := rows.Scan(&stroke.ID, &stroke.PageIndex, &layout, &stroke.Color,
			&stroke.Thickness, &stroke.CreatedAtMs, &blob); err != nil {
			return nil, err
		}
		points, err := pointcodec.Decode(blob)
		if err != nil {
			continue
		}
		stroke.LayoutProfileID = layout.String
		stroke.Points = points
		out = append(out, &stroke)
	}
	return out, rows.Err()
}

// InsertInk upserts strokes in one transaction.
func (s *SQLiteStore) InsertInk(ctx context.Context, docID string, strokes []*models.InkStroke) error {
	if len(strokes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO ink_strokes
		 (id, doc_id, page_index, layout_profile_id, color, thickness, created_at_ms, points)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, stroke := range strokes {
		if _, err := stmt.ExecContext(ctx, stroke.ID, docID, stroke.PageIndex,
			layoutValue(stroke.LayoutProfileID), stroke.Color, stroke.Thickness,
			stroke.CreatedAtMs, pointcodec.Encode(stroke.Points)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteInk removes one stroke by id.
func (s *SQLiteStore) DeleteInk(ctx context.Context, docID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ink_strokes WHERE doc_id = ? AND id = ?`, docID, id)
	return err
}

// ListHighlights returns the highlights of one page under one layout, in
// creation order.
func (s *SQLiteStore) ListHighlights(ctx context.Context, docID string, pageIndex int, layoutProfileID string) ([]*models.Highlight, error) {
	clause, extra := layoutClause(layoutProfileID)
	args := append([]any{docID, pageIndex}, extra...)
	rows, err := s.db.QueryContext(ctx, selectHighlight+
		` WHERE doc_id = ? AND page_index = ? AND `+clause+` ORDER BY created_at_ms ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHighlights(rows)
}

// ListAllHighlights returns every highlight of a document across pages and
// layouts. The reanchor pass feeds on this.
func (s *SQLiteStore) ListAllHighlights(ctx context.Context, docID string) ([]*models.Highlight, error) {
	rows, err := s.db.QueryContext(ctx, selectHighlight+
		` WHERE doc_id = ? ORDER BY created_at_ms ASC`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHighlights(rows)
}

const selectHighlight = `SELECT id, page_index, layout_profile_id, type, color, opacity,
	created_at_ms, quad_points, quote, quote_prefix, quote_suffix, doc_progress,
	reflow_location, anchor_start_word, anchor_end_word FROM highlights`

func scanHighlights(rows *sql.Rows) ([]*models.Highlight, error) {
	var out []*models.Highlight
	for rows.Next() {
		var (
			h          models.Highlight
			layout     sql.NullString
			typ        string
			blob       []byte
			quote      sql.NullString
			prefix     sql.NullString
			suffix     sql.NullString
			progress   sql.NullFloat64
			location   sql.NullString
			startWord  sql.NullInt64
			endWord    sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.PageIndex, &layout, &typ, &h.Color, &h.Opacity,
			&h.CreatedAtMs, &blob, &quote, &prefix, &suffix, &progress,
			&location, &startWord, &endWord); err != nil {
			return nil, err
		}
		points, err := pointcodec.Decode(blob)
		if err != nil {
			continue
		}
		h.LayoutProfileID = layout.String
		h.Type = models.ParseHighlightType(typ)
		h.QuadPoints = points
		h.Quote = quote.String
		h.QuotePrefix = prefix.String
		h.QuoteSuffix = suffix.String
		h.DocProgress01 = -1
		if progress.Valid {
			h.DocProgress01 = float32(progress.Float64)
		}
		h.ReflowLocation = location.String
		h.AnchorStartWord = -1
		if startWord.Valid {
			h.AnchorStartWord = int(startWord.Int64)
		}
		h.AnchorEndWordExcl = -1
		if endWord.Valid {
			h.AnchorEndWordExcl = int(endWord.Int64)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// InsertHighlight upserts one highlight by id.
func (s *SQLiteStore) InsertHighlight(ctx context.Context, docID string, h *models.Highlight) error {
	return s.insertHighlightExec(ctx, s.db, docID, h)
}

// InsertHighlights upserts highlights in one transaction.
func (s *SQLiteStore) InsertHighlights(ctx context.Context, docID string, hs []*models.Highlight) error {
	if len(hs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, h := range hs {
		if err := s.insertHighlightExec(ctx, tx, docID, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insertHighlightExec(ctx context.Context, ex execer, docID string, h *models.Highlight) error {
	var progress any
	if h.DocProgress01 >= 0 {
		progress = h.DocProgress01
	}
	var location any
	if h.ReflowLocation != "" {
		location = h.ReflowLocation
	}
	var startWord, endWord any
	if h.AnchorStartWord >= 0 {
		startWord = h.AnchorStartWord
	}
	if h.AnchorEndWordExcl >= 0 {
		endWord = h.AnchorEndWordExcl
	}
	_, err := ex.ExecContext(ctx,
		`INSERT OR REPLACE INTO highlights
		 (id, doc_id, page_index, layout_profile_id, type, color, opacity, created_at_ms,
		  quad_points, quote, quote_prefix, quote_suffix, doc_progress, reflow_location,
		  anchor_start_word, anchor_end_word)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, docID, h.PageIndex, layoutValue(h.LayoutProfileID), string(h.Type), h.Color,
		h.Opacity, h.CreatedAtMs, pointcodec.Encode(h.QuadPoints),
		nullString(h.Quote), nullString(h.QuotePrefix), nullString(h.QuoteSuffix),
		progress, location, startWord, endWord)
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// DeleteHighlight removes one highlight by id.
func (s *SQLiteStore) DeleteHighlight(ctx context.Context, docID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE doc_id = ? AND id = ?`, docID, id)
	return err
}

// ListNotes returns the notes of one page under one layout, in creation order.
func (s *SQLiteStore) ListNotes(ctx context.Context, docID string, pageIndex int, layoutProfileID string) ([]*models.Note, error) {
	clause, extra := layoutClause(layoutProfileID)
	args := append([]any{docID, pageIndex}, extra...)
	rows, err := s.db.QueryContext(ctx, selectNote+
		` WHERE doc_id = ? AND page_index = ? AND `+clause+` ORDER BY created_at_ms ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotes(rows)
}

// ListAllNotes returns every note of a document across pages and layouts.
func (s *SQLiteStore) ListAllNotes(ctx context.Context, docID string) ([]*models.Note, error) {
	rows, err := s.db.QueryContext(ctx, selectNote+
		` WHERE doc_id = ? ORDER BY created_at_ms ASC`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotes(rows)
}

const selectNote = `SELECT id, page_index, layout_profile_id, bounds_left, bounds_top, bounds_right, bounds_bottom,
	text, created_at_ms, color, font_size, bg_color, bg_opacity FROM notes`

func scanNotes(rows *sql.Rows) ([]*models.Note, error) {
	var out []*models.Note
	for rows.Next() {
		var (
			n      models.Note
			layout sql.NullString
			text   sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.PageIndex, &layout, &n.Bounds.Left, &n.Bounds.Top,
			&n.Bounds.Right, &n.Bounds.Bottom, &text, &n.CreatedAtMs,
			&n.Color, &n.FontSize, &n.BgColor, &n.BgOpacity); err != nil {
			return nil, err
		}
		n.LayoutProfileID = layout.String
		n.Text = text.String
		out = append(out, &n)
	}
	return out, rows.Err()
}

// InsertNote upserts one note by id.
func (s *SQLiteStore) InsertNote(ctx context.Context, docID string, n *models.Note) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO notes
		 (id, doc_id, page_index, layout_profile_id, bounds_left, bounds_top, bounds_right, bounds_bottom, text,
		  created_at_ms, color, font_size, bg_color, bg_opacity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, docID, n.PageIndex, layoutValue(n.LayoutProfileID),
		n.Bounds.Left, n.Bounds.Top, n.Bounds.Right, n.Bounds.Bottom,
		nullString(n.Text), n.CreatedAtMs, n.Color, n.FontSize, n.BgColor, n.BgOpacity)
	return err
}

// InsertNotes upserts notes in one transaction.
func (s *SQLiteStore) InsertNotes(ctx context.Context, docID string, ns []*models.Note) error {
	if len(ns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO notes
		 (id, doc_id, page_index, layout_profile_id, bounds_left, bounds_top, bounds_right, bounds_bottom, text,
		  created_at_ms, color, font_size, bg_color, bg_opacity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, n := range ns {
		if _, err := stmt.ExecContext(ctx, n.ID, docID, n.PageIndex,
			layoutValue(n.LayoutProfileID), n.Bounds.Left, n.Bounds.Top, n.Bounds.Right,
			n.Bounds.Bottom, nullString(n.Text), n.CreatedAtMs, n.Color, n.FontSize,
			n.BgColor, n.BgOpacity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteNote removes one note by id.
func (s *SQLiteStore) DeleteNote(ctx context.Context, docID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE doc_id = ? AND id = ?`, docID, id)
	return err
}

var kindTables = map[models.Kind]string{
	models.KindInk:       "ink_strokes",
	models.KindHighlight: "highlights",
	models.KindNote:      "notes",
}

// HasAny reports whether the document has any annotation of any kind.
func (s *SQLiteStore) HasAny(ctx context.Context, docID string) (bool, error) {
	for _, kind := range models.Kinds() {
		found, err := s.probe(ctx, `SELECT 1 FROM `+kindTables[kind]+` WHERE doc_id = ? LIMIT 1`, docID)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// HasAnyInLayout reports whether any annotation of any kind exists under the
// given layout profile.
func (s *SQLiteStore) HasAnyInLayout(ctx context.Context, docID, layoutProfileID string) (bool, error) {
	clause, extra := layoutClause(layoutProfileID)
	args := append([]any{docID}, extra...)
	for _, kind := range models.Kinds() {
		found, err := s.probe(ctx,
			`SELECT 1 FROM `+kindTables[kind]+` WHERE doc_id = ? AND `+clause+` LIMIT 1`, args...)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// HasAnyOutsideLayout reports whether annotations exist under a different
// layout profile. Drives the "switch layout to see older annotations" prompt.
func (s *SQLiteStore) HasAnyOutsideLayout(ctx context.Context, docID, layoutProfileID string) (bool, error) {
	for _, kind := range models.Kinds() {
		found, err := s.probe(ctx,
			`SELECT 1 FROM `+kindTables[kind]+
				` WHERE doc_id = ? AND (layout_profile_id IS NULL OR layout_profile_id <> ?) LIMIT 1`,
			docID, layoutProfileID)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

func (s *SQLiteStore) probe(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MigrateDocID rewrites ownership of every row from one document identity to
// another in a single transaction.
func (s *SQLiteStore) MigrateDocID(ctx context.Context, fromDocID, toDocID string) error {
	if fromDocID == toDocID {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, kind := range models.Kinds() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+kindTables[kind]+` SET doc_id = ? WHERE doc_id = ?`,
			toDocID, fromDocID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountByKind returns per-kind row counts for a document.
func (s *SQLiteStore) CountByKind(ctx context.Context, docID string) (map[models.Kind]int64, error) {
	out := make(map[models.Kind]int64, len(kindTables))
	for _, kind := range models.Kinds() {
		var count int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+kindTables[kind]+` WHERE doc_id = ?`, docID).Scan(&count); err != nil {
			return nil, err
		}
		out[kind] = count
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
