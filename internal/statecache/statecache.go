// Package statecache persists a snapshot of the engine's state to a local
// SQLite database so startup does not need a full backfill from the backend.
// The cache is advisory: any load failure, schema mismatch, or stale envelope
// degrades to an empty engine and a full resync, never an error the user
// sees.
package statecache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/inbox"
	"github.com/loomworks/loom/internal/domain/project"
	"github.com/loomworks/loom/internal/engine"
)

// SchemaVersion invalidates existing caches when the stored shape changes.
// Bump it whenever a column is added, removed, or reinterpreted.
const SchemaVersion = 1

// maxAgeSecs discards caches older than 7 days.
const maxAgeSecs = 7 * 24 * 60 * 60

// CatchUpSkewSecs is subtracted from the stored watermark before it is used
// as the incremental catch-up baseline, covering clock skew between client
// and backend.
const CatchUpSkewSecs = 5 * 60

// Store wraps the cache database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache at path. ":memory:" is accepted for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    schema_version INTEGER NOT NULL,
    saved_at INTEGER NOT NULL,
    max_created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    parent_id TEXT,
    project_id TEXT NOT NULL,
    title TEXT NOT NULL,
    author TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL,
    last_activity INTEGER NOT NULL,
    archived INTEGER NOT NULL DEFAULT 0,
    position INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_id);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    author TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    reply_to TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS inbox_items (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    title TEXT NOT NULL,
    preview TEXT NOT NULL DEFAULT '',
    project_id TEXT NOT NULL DEFAULT '',
    conversation_id TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS inbox_read (
    id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrating cache schema: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot atomically.
func (s *Store) Save(snap engine.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"meta", "projects", "conversations", "messages", "inbox_items", "inbox_read", "profiles"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO meta (id, schema_version, saved_at, max_created_at) VALUES (1, ?, ?, ?)`,
		SchemaVersion, time.Now().Unix(), snap.MaxCreatedAt,
	); err != nil {
		return fmt.Errorf("writing meta: %w", err)
	}

	for i, p := range snap.Projects {
		if _, err := tx.Exec(
			`INSERT INTO projects (id, title, description, created_at, position) VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.Title, p.Description, p.CreatedAt, i,
		); err != nil {
			return fmt.Errorf("writing project %s: %w", p.ID, err)
		}
	}
	for i, c := range snap.Conversations {
		if _, err := tx.Exec(
			`INSERT INTO conversations (id, parent_id, project_id, title, author, active, last_activity, archived, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ParentID, c.ProjectID, c.Title, c.Author, boolInt(c.Active), c.LastActivity, boolInt(c.Archived), i,
		); err != nil {
			return fmt.Errorf("writing conversation %s: %w", c.ID, err)
		}
	}
	for _, m := range snap.Messages {
		if _, err := tx.Exec(
			`INSERT INTO messages (id, conversation_id, author, content, created_at, reply_to) VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.Author, m.Content, m.CreatedAt, m.ReplyTo,
		); err != nil {
			return fmt.Errorf("writing message %s: %w", m.ID, err)
		}
	}
	for _, item := range snap.InboxItems {
		if _, err := tx.Exec(
			`INSERT INTO inbox_items (id, kind, title, preview, project_id, conversation_id, author, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, string(item.Kind), item.Title, item.Preview, item.ProjectID, item.ConversationID, item.Author, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("writing inbox item %s: %w", item.ID, err)
		}
	}
	for _, id := range snap.InboxReadIDs {
		if _, err := tx.Exec(`INSERT INTO inbox_read (id) VALUES (?)`, id); err != nil {
			return fmt.Errorf("writing inbox read id %s: %w", id, err)
		}
	}
	for id, name := range snap.Profiles {
		if _, err := tx.Exec(`INSERT INTO profiles (id, name) VALUES (?, ?)`, id, name); err != nil {
			return fmt.Errorf("writing profile %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. ok is false when there is no usable
// cache: never saved, schema mismatch, or older than the age limit.
func (s *Store) Load() (engine.Snapshot, bool, error) {
	var snap engine.Snapshot

	var version int
	var savedAt int64
	err := s.db.QueryRow(`SELECT schema_version, saved_at, max_created_at FROM meta WHERE id = 1`).
		Scan(&version, &savedAt, &snap.MaxCreatedAt)
	if err == sql.ErrNoRows {
		return engine.Snapshot{}, false, nil
	}
	if err != nil {
		return engine.Snapshot{}, false, fmt.Errorf("reading meta: %w", err)
	}
	if version != SchemaVersion {
		return engine.Snapshot{}, false, nil
	}
	if time.Now().Unix()-savedAt > maxAgeSecs {
		return engine.Snapshot{}, false, nil
	}

	if err := s.loadProjects(&snap); err != nil {
		return engine.Snapshot{}, false, err
	}
	if err := s.loadConversations(&snap); err != nil {
		return engine.Snapshot{}, false, err
	}
	if err := s.loadMessages(&snap); err != nil {
		return engine.Snapshot{}, false, err
	}
	if err := s.loadInbox(&snap); err != nil {
		return engine.Snapshot{}, false, err
	}
	if err := s.loadProfiles(&snap); err != nil {
		return engine.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) loadProjects(snap *engine.Snapshot) error {
	rows, err := s.db.Query(`SELECT id, title, description, created_at FROM projects ORDER BY position`)
	if err != nil {
		return fmt.Errorf("reading projects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p project.Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.CreatedAt); err != nil {
			return fmt.Errorf("scanning project: %w", err)
		}
		snap.Projects = append(snap.Projects, p)
	}
	return rows.Err()
}

func (s *Store) loadConversations(snap *engine.Snapshot) error {
	rows, err := s.db.Query(
		`SELECT id, parent_id, project_id, title, author, active, last_activity, archived FROM conversations ORDER BY position`)
	if err != nil {
		return fmt.Errorf("reading conversations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c conversation.Conversation
		var active, archived int
		if err := rows.Scan(&c.ID, &c.ParentID, &c.ProjectID, &c.Title, &c.Author, &active, &c.LastActivity, &archived); err != nil {
			return fmt.Errorf("scanning conversation: %w", err)
		}
		c.Active = active != 0
		c.Archived = archived != 0
		snap.Conversations = append(snap.Conversations, c)
	}
	return rows.Err()
}

func (s *Store) loadMessages(snap *engine.Snapshot) error {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, author, content, created_at, reply_to FROM messages ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("reading messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m conversation.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Author, &m.Content, &m.CreatedAt, &m.ReplyTo); err != nil {
			return fmt.Errorf("scanning message: %w", err)
		}
		snap.Messages = append(snap.Messages, m)
	}
	return rows.Err()
}

func (s *Store) loadInbox(snap *engine.Snapshot) error {
	rows, err := s.db.Query(
		`SELECT id, kind, title, preview, project_id, conversation_id, author, created_at FROM inbox_items ORDER BY created_at DESC`)
	if err != nil {
		return fmt.Errorf("reading inbox: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item inbox.Item
		var kind string
		if err := rows.Scan(&item.ID, &kind, &item.Title, &item.Preview, &item.ProjectID, &item.ConversationID, &item.Author, &item.CreatedAt); err != nil {
			return fmt.Errorf("scanning inbox item: %w", err)
		}
		item.Kind = inbox.Kind(kind)
		snap.InboxItems = append(snap.InboxItems, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	readRows, err := s.db.Query(`SELECT id FROM inbox_read`)
	if err != nil {
		return fmt.Errorf("reading inbox read ids: %w", err)
	}
	defer readRows.Close()
	for readRows.Next() {
		var id string
		if err := readRows.Scan(&id); err != nil {
			return fmt.Errorf("scanning inbox read id: %w", err)
		}
		snap.InboxReadIDs = append(snap.InboxReadIDs, id)
	}
	return readRows.Err()
}

func (s *Store) loadProfiles(snap *engine.Snapshot) error {
	rows, err := s.db.Query(`SELECT id, name FROM profiles`)
	if err != nil {
		return fmt.Errorf("reading profiles: %w", err)
	}
	defer rows.Close()
	snap.Profiles = make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scanning profile: %w", err)
		}
		snap.Profiles[id] = name
	}
	return rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
