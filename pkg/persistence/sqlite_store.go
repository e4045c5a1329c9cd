package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/ids"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by every operation on a closed SQLiteStore.
var ErrClosed = errors.New("sqlite conversation store closed")

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    payload_json TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS folders (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    name TEXT NOT NULL
);
`

// SQLiteStore keeps committed conversation snapshots in a SQLite database,
// one JSON payload per conversation row. The list order of the conversation
// store is kept in the position column.
type SQLiteStore struct {
	mu     sync.Mutex
	dsn    string
	db     *sql.DB
	closed bool
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite conversation store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite conversation store")
	}
	s := &SQLiteStore{dsn: dsn, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Open opens (or creates) the database file at path.
func Open(path string) (*SQLiteStore, error) {
	dsn, err := SQLiteDSNForFile(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(dsn)
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(sqliteSchemaV1); err != nil {
		return errors.Wrap(err, "migrate conversation store")
	}
	return nil
}

// Load reads all conversations (in list order) and folders.
func (s *SQLiteStore) Load(ctx context.Context) (conversations.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return conversations.State{}, err
	}

	st := conversations.State{
		Conversations: []*conversations.Conversation{},
		Folders:       []conversations.Folder{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, payload_json FROM conversations ORDER BY position ASC`)
	if err != nil {
		return st, err
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return st, err
		}
		c := &conversations.Conversation{}
		if err := json.Unmarshal([]byte(payload), c); err != nil {
			return st, errors.Wrapf(err, "decode conversation %q", id)
		}
		if c.ID != id {
			return st, errors.Errorf("sqlite conversation store: id mismatch payload=%q row=%q", c.ID, id)
		}
		if err := conversations.Validate(c); err != nil {
			return st, err
		}
		st.Conversations = append(st.Conversations, c)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	frows, err := s.db.QueryContext(ctx, `SELECT id, name FROM folders ORDER BY position ASC`)
	if err != nil {
		return st, err
	}
	defer func() {
		_ = frows.Close()
	}()
	for frows.Next() {
		var f conversations.Folder
		if err := frows.Scan(&f.ID, &f.Name); err != nil {
			return st, err
		}
		st.Folders = append(st.Folders, f)
	}
	return st, frows.Err()
}

// PutConversation upserts a snapshot. A conversation seen for the first time
// is placed at the head of the list.
func (s *SQLiteStore) PutConversation(ctx context.Context, c *conversations.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO conversations (id, position, payload_json, updated_at_ms)
VALUES (?, (SELECT COALESCE(MIN(position), 0) - 1 FROM conversations), ?, ?)
ON CONFLICT(id) DO UPDATE SET payload_json = excluded.payload_json, updated_at_ms = excluded.updated_at_ms`,
		c.ID,
		string(payload),
		c.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// SaveFolders replaces the folder list.
func (s *SQLiteStore) SaveFolders(ctx context.Context, folders []conversations.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders`); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, f := range folders {
		if _, err := tx.ExecContext(ctx, `INSERT INTO folders (id, position, name) VALUES (?, ?, ?)`, f.ID, i, f.Name); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveState replaces everything with st, keeping its order.
func (s *SQLiteStore) SaveState(ctx context.Context, st conversations.State) error {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	err = func() error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
			return err
		}
		for i, c := range st.Conversations {
			payload, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO conversations (id, position, payload_json, updated_at_ms) VALUES (?, ?, ?, ?)`,
				c.ID, i, string(payload), c.UpdatedAt.UnixMilli(),
			); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		_ = tx.Rollback()
		s.mu.Unlock()
		return err
	}
	if err := tx.Commit(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.SaveFolders(ctx, st.Folders)
}

// Restore loads the database into store and moves counter past every
// persisted identifier so new ids never collide with loaded ones. Nothing is
// touched when the database cannot be read.
func (s *SQLiteStore) Restore(ctx context.Context, store *conversations.Store, counter *ids.Counter) error {
	st, err := s.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "restore conversations")
	}
	if counter != nil {
		counter.Observe(maxSuffix(st))
	}
	folders := st.Folders
	if len(folders) == 0 {
		folders = nil
	}
	if err := store.Replace(st.Conversations, folders); err != nil {
		return err
	}
	log.Debug().Int("conversations", len(st.Conversations)).Str("dsn", s.dsn).Msg("Restored conversations")
	return nil
}

// Attach writes every store change to the database.
func (s *SQLiteStore) Attach(store *conversations.Store) {
	store.OnCommit(func(ch conversations.Change) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		switch ch.Kind {
		case conversations.ChangeCommitted:
			err = s.PutConversation(ctx, ch.Conversation)
		case conversations.ChangeDeleted:
			err = s.DeleteConversation(ctx, ch.ConversationID)
		case conversations.ChangeFolders:
			err = s.SaveFolders(ctx, ch.Folders)
		}
		if err != nil {
			log.Error().Err(err).Str("conversation_id", ch.ConversationID).Str("kind", string(ch.Kind)).Msg("Could not persist conversation change")
		}
	})
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func maxSuffix(st conversations.State) uint64 {
	var max uint64
	observe := func(prefix, id string) {
		if n, ok := ids.ParseSuffix(prefix, id); ok && n > max {
			max = n
		}
	}
	for _, c := range st.Conversations {
		observe(ids.PrefixConversation, c.ID)
		for _, m := range c.Messages {
			observe(ids.PrefixMessage, m.ID)
		}
	}
	for _, f := range st.Folders {
		observe(ids.PrefixFolder, f.ID)
	}
	return max
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite conversation store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
