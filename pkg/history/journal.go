package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
	"github.com/alister-chowdhury/shader-explorer/pkg/rga"
)

// ErrSessionNotFound is returned by Get for an unknown session id.
var ErrSessionNotFound = errors.New("history: session not found")

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Artifact is one file a session copied into its output directory.
type Artifact struct {
	Stage string `json:"stage" yaml:"stage"`
	Kind  string `json:"kind" yaml:"kind"`
	Path  string `json:"path" yaml:"path"`
}

// Session is one journaled compile.
type Session struct {
	ID        string        `json:"id" yaml:"id"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
	Target    string        `json:"target" yaml:"target"`
	Mode      string        `json:"mode" yaml:"mode"`
	OutputDir string        `json:"output_dir" yaml:"output_dir"`
	ExitCode  int           `json:"exit_code" yaml:"exit_code"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Stdout    string        `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	// ArtifactCount is filled by List; Get fills Artifacts instead.
	ArtifactCount int        `json:"artifact_count" yaml:"artifact_count"`
	Artifacts     []Artifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// Journal stores sessions in SQLite. It satisfies rga.Journal.
type Journal struct {
	db     *sql.DB
	logger *logx.Logger
	now    func() time.Time
}

var _ rga.Journal = (*Journal)(nil)

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer; a single connection also keeps an
	// in-memory database alive for the life of the journal.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.logger.Debug("Journal opened: %s", path)
	return j, nil
}

// New wraps an open database, migrating it to the current schema.
func New(db *sql.DB) (*Journal, error) {
	if err := initializeSchemaWithMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Journal{db: db, logger: logx.NewLogger("history"), now: time.Now}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// RecordSession stores a session and the artifacts it produced.
func (j *Journal) RecordSession(ctx context.Context, req *rga.CompileRequest, res *rga.SessionResult) error {
	if req == nil || res == nil {
		return fmt.Errorf("history: nothing to record")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, target, mode, output_dir, duration_ms, stdout, exit_code, stderr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID, j.now().UTC().Format(timeLayout), req.Target, req.Mode.String(), req.OutputDir,
		res.Duration.Milliseconds(), res.Stdout, res.ExitCode, res.Stderr)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", res.ID, err)
	}

	kinds := []rga.ArtifactKind{rga.ArtifactAnalysis, rga.ArtifactISA, rga.ArtifactParsedISA, rga.ArtifactCFG}
	for _, stage := range rga.AllStages() {
		shader := res.Stage(stage)
		if shader == nil {
			continue
		}
		for _, kind := range kinds {
			path := shader.Artifact(kind)
			if path == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO artifacts (session_id, stage, kind, path) VALUES (?, ?, ?, ?)`,
				res.ID, string(stage), string(kind), path,
			); err != nil {
				return fmt.Errorf("failed to insert artifact %s/%s: %w", stage, kind, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", res.ID, err)
	}
	return nil
}

// List returns the most recent sessions first. limit <= 0 means no limit.
// Captured output is not loaded.
func (j *Journal) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.target, s.mode, s.output_dir, s.exit_code, s.duration_ms,
		       (SELECT COUNT(*) FROM artifacts a WHERE a.session_id = s.id)
		FROM sessions s
		ORDER BY s.created_at DESC, s.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var (
			s          Session
			createdAt  string
			durationMS int64
		)
		if err := rows.Scan(&s.ID, &createdAt, &s.Target, &s.Mode, &s.OutputDir, &s.ExitCode, &durationMS, &s.ArtifactCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.CreatedAt = parseTime(createdAt)
		s.Duration = time.Duration(durationMS) * time.Millisecond
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// Get returns one session with its captured output and artifacts.
func (j *Journal) Get(ctx context.Context, id string) (*Session, error) {
	var (
		s          Session
		createdAt  string
		durationMS int64
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT id, created_at, target, mode, output_dir, exit_code, duration_ms, stdout, stderr
		FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &createdAt, &s.Target, &s.Mode, &s.OutputDir, &s.ExitCode, &durationMS, &s.Stdout, &s.Stderr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	s.CreatedAt = parseTime(createdAt)
	s.Duration = time.Duration(durationMS) * time.Millisecond

	rows, err := j.db.QueryContext(ctx, `
		SELECT stage, kind, path FROM artifacts WHERE session_id = ? ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Stage, &a.Kind, &a.Path); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		s.Artifacts = append(s.Artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifacts: %w", err)
	}
	s.ArtifactCount = len(s.Artifacts)
	return &s, nil
}

// Prune deletes all but the keep most recent sessions and returns how many
// were removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const stale = `SELECT id FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE session_id IN (`+stale+`)`, keep); err != nil {
		return 0, fmt.Errorf("failed to prune artifacts: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	if n > 0 {
		j.logger.Info("Pruned %d journal sessions", n)
	}
	return n, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
