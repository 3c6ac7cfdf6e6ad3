// Package notestore persists the hierarchical note/folder tree the agent
// reorganizes. Notes and folders are addressed by slash-separated paths
// within a space; deletes are soft so they can be undone by a rollback.
package notestore

import (
	"database/sql"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed note store. Safe for concurrent use across
// requests; per-space write serialization is provided by SQLite itself.
type Store struct {
	db *sql.DB
}

// Note is a single note addressed by path within a space.
type Note struct {
	ID        string
	Space     string
	Path      string
	Content   string
	Deleted   bool
	UpdatedAt time.Time
}

// Entry is one line of a directory listing.
type Entry struct {
	Path     string
	IsFolder bool
}

// Open opens (or creates) the note store at the given path.
// Use ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		dbPath = "file:" + dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open note store: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id         TEXT PRIMARY KEY,
			space      TEXT NOT NULL,
			path       TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			deleted    INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			UNIQUE(space, path)
		);
		CREATE TABLE IF NOT EXISTS folders (
			id         TEXT PRIMARY KEY,
			space      TEXT NOT NULL,
			path       TEXT NOT NULL,
			deleted    INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			UNIQUE(space, path)
		);
		CREATE INDEX IF NOT EXISTS idx_notes_space ON notes(space, deleted);
		CREATE INDEX IF NOT EXISTS idx_folders_space ON folders(space, deleted);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// normalize cleans a user-supplied path to the canonical slash form.
func normalize(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// ---------------------------------------------------------------------------
// Notes
// ---------------------------------------------------------------------------

// CreateNote creates a note at the given path. Fails if a live note already
// exists there.
func (s *Store) CreateNote(space, notePath, content string) error {
	notePath = normalize(notePath)
	if notePath == "" {
		return fmt.Errorf("note path is empty")
	}

	res, err := s.db.Exec(
		`INSERT INTO notes (id, space, path, content, deleted, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(space, path) DO UPDATE SET
		   content = excluded.content, deleted = 0, updated_at = excluded.updated_at
		 WHERE notes.deleted = 1`,
		uuid.New().String(), space, notePath, content, now(),
	)
	if err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("note already exists: %s", notePath)
	}
	return nil
}

// ReadNote returns a live note's content.
func (s *Store) ReadNote(space, notePath string) (string, error) {
	var content string
	err := s.db.QueryRow(
		`SELECT content FROM notes WHERE space = ? AND path = ? AND deleted = 0`,
		space, normalize(notePath),
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("note not found: %s", notePath)
	}
	if err != nil {
		return "", fmt.Errorf("read note: %w", err)
	}
	return content, nil
}

// EditNote replaces the first occurrence of oldText with newText. An empty
// oldText replaces the whole content.
func (s *Store) EditNote(space, notePath, oldText, newText string) error {
	notePath = normalize(notePath)
	content, err := s.ReadNote(space, notePath)
	if err != nil {
		return err
	}

	var updated string
	if oldText == "" {
		updated = newText
	} else {
		if !strings.Contains(content, oldText) {
			return fmt.Errorf("text to replace not found in %s", notePath)
		}
		updated = strings.Replace(content, oldText, newText, 1)
	}

	_, err = s.db.Exec(
		`UPDATE notes SET content = ?, updated_at = ? WHERE space = ? AND path = ? AND deleted = 0`,
		updated, now(), space, notePath,
	)
	if err != nil {
		return fmt.Errorf("edit note: %w", err)
	}
	return nil
}

// MoveNote moves a note into a different folder, keeping its file name.
func (s *Store) MoveNote(space, notePath, destDir string) error {
	notePath = normalize(notePath)
	newPath := path.Join(normalize(destDir), path.Base(notePath))
	return s.repathNote(space, notePath, newPath)
}

// RenameNote changes a note's file name in place.
func (s *Store) RenameNote(space, notePath, newName string) error {
	notePath = normalize(notePath)
	if strings.Contains(newName, "/") {
		return fmt.Errorf("new name must not contain '/': %s", newName)
	}
	newPath := path.Join(path.Dir(notePath), newName)
	return s.repathNote(space, notePath, newPath)
}

func (s *Store) repathNote(space, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	res, err := s.db.Exec(
		`UPDATE notes SET path = ?, updated_at = ? WHERE space = ? AND path = ? AND deleted = 0`,
		newPath, now(), space, oldPath,
	)
	if err != nil {
		return fmt.Errorf("move note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note not found: %s", oldPath)
	}
	return nil
}

// DeleteNote soft-deletes a note.
func (s *Store) DeleteNote(space, notePath string) error {
	res, err := s.db.Exec(
		`UPDATE notes SET deleted = 1, updated_at = ? WHERE space = ? AND path = ? AND deleted = 0`,
		now(), space, normalize(notePath),
	)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note not found: %s", notePath)
	}
	return nil
}

// RestoreNote restores a soft-deleted note.
func (s *Store) RestoreNote(space, notePath string) error {
	res, err := s.db.Exec(
		`UPDATE notes SET deleted = 0, updated_at = ? WHERE space = ? AND path = ? AND deleted = 1`,
		now(), space, normalize(notePath),
	)
	if err != nil {
		return fmt.Errorf("restore note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no deleted note at: %s", notePath)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Folders
// ---------------------------------------------------------------------------

// CreateFolder creates a folder at the given path.
func (s *Store) CreateFolder(space, folderPath string) error {
	folderPath = normalize(folderPath)
	if folderPath == "" {
		return fmt.Errorf("folder path is empty")
	}

	res, err := s.db.Exec(
		`INSERT INTO folders (id, space, path, deleted, updated_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(space, path) DO UPDATE SET deleted = 0, updated_at = excluded.updated_at
		 WHERE folders.deleted = 1`,
		uuid.New().String(), space, folderPath, now(),
	)
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("folder already exists: %s", folderPath)
	}
	return nil
}

// RenameFolder changes a folder's name in place, rewriting the paths of
// everything beneath it.
func (s *Store) RenameFolder(space, folderPath, newName string) error {
	folderPath = normalize(folderPath)
	if strings.Contains(newName, "/") {
		return fmt.Errorf("new name must not contain '/': %s", newName)
	}
	newPath := path.Join(path.Dir(folderPath), newName)
	return s.repathFolder(space, folderPath, newPath)
}

// MoveFolder moves a folder into a different parent, keeping its name.
func (s *Store) MoveFolder(space, folderPath, destDir string) error {
	folderPath = normalize(folderPath)
	newPath := path.Join(normalize(destDir), path.Base(folderPath))
	return s.repathFolder(space, folderPath, newPath)
}

func (s *Store) repathFolder(space, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	if strings.HasPrefix(newPath+"/", oldPath+"/") {
		return fmt.Errorf("cannot move folder %s into itself", oldPath)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.Exec(
		`UPDATE folders SET path = ?, updated_at = ? WHERE space = ? AND path = ? AND deleted = 0`,
		newPath, ts, space, oldPath,
	)
	if err != nil {
		return fmt.Errorf("move folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("folder not found: %s", oldPath)
	}

	// Rewrite descendant paths: oldPath/x → newPath/x.
	prefix := oldPath + "/"
	for _, table := range []string{"folders", "notes"} {
		if _, err := tx.Exec(
			`UPDATE `+table+` SET path = ? || substr(path, ?), updated_at = ?
			 WHERE space = ? AND substr(path, 1, ?) = ? AND deleted = 0`,
			newPath+"/", len(prefix)+1, ts, space, len(prefix), prefix,
		); err != nil {
			return fmt.Errorf("move folder contents: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteFolder soft-deletes a folder and everything beneath it.
func (s *Store) DeleteFolder(space, folderPath string) error {
	return s.setFolderDeleted(space, normalize(folderPath), true)
}

// RestoreFolder restores a soft-deleted folder and its contents.
func (s *Store) RestoreFolder(space, folderPath string) error {
	return s.setFolderDeleted(space, normalize(folderPath), false)
}

func (s *Store) setFolderDeleted(space, folderPath string, deleted bool) error {
	from, to := 0, 1
	if !deleted {
		from, to = 1, 0
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.Exec(
		`UPDATE folders SET deleted = ?, updated_at = ? WHERE space = ? AND path = ? AND deleted = ?`,
		to, ts, space, folderPath, from,
	)
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("folder not found: %s", folderPath)
	}

	prefix := folderPath + "/"
	for _, table := range []string{"folders", "notes"} {
		if _, err := tx.Exec(
			`UPDATE `+table+` SET deleted = ?, updated_at = ?
			 WHERE space = ? AND substr(path, 1, ?) = ? AND deleted = ?`,
			to, ts, space, len(prefix), prefix, from,
		); err != nil {
			return fmt.Errorf("update folder contents: %w", err)
		}
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Listing and search
// ---------------------------------------------------------------------------

// List returns the live entries directly inside dir ("" = space root).
func (s *Store) List(space, dir string) ([]Entry, error) {
	dir = normalize(dir)
	all, err := s.entries(space)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range all {
		if path.Dir(e.Path) == dirKey(dir) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Snapshot renders the full live tree of a space as an indented listing,
// used to seed the agent's system prompt.
func (s *Store) Snapshot(space string) (string, error) {
	all, err := s.entries(space)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "(empty space)", nil
	}

	var b strings.Builder
	for _, e := range all {
		depth := strings.Count(e.Path, "/")
		b.WriteString(strings.Repeat("  ", depth))
		if e.IsFolder {
			b.WriteString(path.Base(e.Path) + "/")
		} else {
			b.WriteString(path.Base(e.Path))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// SearchNotes returns live notes whose path or content matches the query,
// with a short content snippet around the first match.
func (s *Store) SearchNotes(space, query string) ([]Note, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT id, path, content FROM notes
		 WHERE space = ? AND deleted = 0 AND (path LIKE ? OR content LIKE ?)
		 ORDER BY path`,
		space, pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n := Note{Space: space}
		if err := rows.Scan(&n.ID, &n.Path, &n.Content); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// entries returns all live entries of a space sorted by path, folders and
// notes interleaved so parents precede children.
func (s *Store) entries(space string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT path, 1 AS is_folder FROM folders WHERE space = ? AND deleted = 0
		 UNION ALL
		 SELECT path, 0 FROM notes WHERE space = ? AND deleted = 0`,
		space, space,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var isFolder int
		if err := rows.Scan(&e.Path, &isFolder); err != nil {
			return nil, err
		}
		e.IsFolder = isFolder == 1
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// dirKey maps the root directory to the value path.Dir yields for
// top-level entries.
func dirKey(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}
