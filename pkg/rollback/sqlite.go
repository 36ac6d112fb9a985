package rollback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS rollbacks(
	key TEXT PRIMARY KEY,
	deployment_id TEXT NOT NULL,
	original_config_id TEXT,
	kind TEXT,
	created_at INTEGER NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rollbacks_deployment ON rollbacks(deployment_id);
CREATE INDEX IF NOT EXISTS idx_rollbacks_config ON rollbacks(original_config_id);`

// SQLiteStore keeps rollbacks in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, key string, rc *model.RollbackConfig) error {
	body, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("encoding rollback %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO rollbacks(key, deployment_id, original_config_id, kind, created_at, body)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET deployment_id=excluded.deployment_id,
			original_config_id=excluded.original_config_id, kind=excluded.kind,
			created_at=excluded.created_at, body=excluded.body`,
		key, rc.DeploymentID, rc.OriginalConfigID, string(rc.Kind), rc.CreatedAt.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("storing rollback %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*model.RollbackConfig, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM rollbacks WHERE key=?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rollback %s: %w", key, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading rollback %s: %w", key, err)
	}
	return decodeBody(body)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*model.RollbackConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, body FROM rollbacks ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("listing rollbacks: %w", err)
	}
	defer rows.Close()

	var out []*model.RollbackConfig
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, err
		}
		rc, err := decodeBody(body)
		if err != nil {
			util.Warnf("rollback: skipping %s: %v", key, err)
			continue
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rollbacks WHERE key=?`, key); err != nil {
		return fmt.Errorf("deleting rollback %s: %w", key, err)
	}
	return nil
}

func decodeBody(body string) (*model.RollbackConfig, error) {
	var rc model.RollbackConfig
	if err := json.Unmarshal([]byte(body), &rc); err != nil {
		return nil, fmt.Errorf("parsing rollback body: %w", err)
	}
	return &rc, nil
}
