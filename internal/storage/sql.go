package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrSessionNotFound is returned when a session id does not exist
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive is returned when a message is sent to a waiting or ended session
	ErrSessionNotActive = errors.New("session not active")
)

// SQLStore is the authoritative record of live sessions and their messages
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// StoreOption configures a SQLStore
type StoreOption func(*SQLStore)

// WithStoreClock replaces the wall clock used for timestamps
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *SQLStore) { s.now = now }
}

// OpenSQL opens the configured database and applies the schema
func OpenSQL(ctx context.Context, cfg SQLConfig, opts ...StoreOption) (*SQLStore, error) {
	var dsn string
	switch cfg.Driver {
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("DB_DSN is required for postgres")
		}
		dsn = cfg.DSN
	case DriverSQLite:
		path, _, _ := strings.Cut(cfg.DSN, "?")
		if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = sqliteDSN(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// Single writer; serializes the conditional statements below
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: cfg.Driver, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// sqliteDSN appends the connection pragmas, keeping any query the caller set
func sqliteDSN(path string) string {
	const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	// One open session per chat token, enforced by the partial unique index
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS live_sessions (
			id ` + idColumn + `,
			conversation_ref TEXT NOT NULL,
			visitor_id TEXT NOT NULL,
			chat_token TEXT NOT NULL,
			agent_id TEXT,
			handled_by TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			accepted_at BIGINT,
			ended_at BIGINT,
			ended_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_live_sessions_open_token
			ON live_sessions(chat_token) WHERE status IN ('waiting', 'active')`,
		`CREATE INDEX IF NOT EXISTS idx_live_sessions_status ON live_sessions(status, id)`,
		`CREATE INDEX IF NOT EXISTS idx_live_sessions_token ON live_sessions(chat_token, id)`,
		`CREATE TABLE IF NOT EXISTS live_messages (
			id ` + idColumn + `,
			session_id BIGINT NOT NULL,
			sender_type TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_live_messages_session ON live_messages(session_id, id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const sessionColumns = `id, conversation_ref, visitor_id, chat_token, agent_id, handled_by,
	status, started_at, accepted_at, ended_at, ended_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.LiveSession, error) {
	var (
		sess       types.LiveSession
		agentID    sql.NullString
		startedAt  int64
		acceptedAt sql.NullInt64
		endedAt    sql.NullInt64
		status     string
		endedBy    string
	)
	err := row.Scan(&sess.ID, &sess.ConversationRef, &sess.VisitorID, &sess.ChatToken,
		&agentID, &sess.HandledBy, &status, &startedAt, &acceptedAt, &endedAt, &endedBy)
	if err != nil {
		return nil, err
	}

	sess.AgentID = agentID.String
	sess.Status = types.SessionStatus(status)
	sess.EndedBy = types.EndedBy(endedBy)
	sess.StartedAt = fromMillis(startedAt)
	if acceptedAt.Valid {
		t := fromMillis(acceptedAt.Int64)
		sess.AcceptedAt = &t
	}
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (s *SQLStore) querySessions(ctx context.Context, query string, args ...any) ([]types.LiveSession, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]types.LiveSession, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *SQLStore) querySession(ctx context.Context, query string, args ...any) (*types.LiveSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

// Get returns a session by id
func (s *SQLStore) Get(ctx context.Context, sessionID int64) (*types.LiveSession, error) {
	sess, err := s.querySession(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// FindOpenByToken returns the waiting or active session for a chat token, or nil
func (s *SQLStore) FindOpenByToken(ctx context.Context, chatToken string) (*types.LiveSession, error) {
	return s.querySession(ctx, `SELECT `+sessionColumns+` FROM live_sessions
		WHERE chat_token = ? AND status IN ('waiting', 'active')
		ORDER BY id DESC LIMIT 1`, chatToken)
}

// LatestByToken returns the most recent session for a chat token in any state, or nil
func (s *SQLStore) LatestByToken(ctx context.Context, chatToken string) (*types.LiveSession, error) {
	return s.querySession(ctx, `SELECT `+sessionColumns+` FROM live_sessions
		WHERE chat_token = ? ORDER BY id DESC LIMIT 1`, chatToken)
}

// CreateOrReuse returns the open session for chatToken, creating a waiting one
// when none exists. created reports whether this call inserted the row.
func (s *SQLStore) CreateOrReuse(ctx context.Context, conversationRef, visitorID, chatToken string) (*types.LiveSession, bool, error) {
	existing, err := s.FindOpenByToken(ctx, chatToken)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO live_sessions
		(conversation_ref, visitor_id, chat_token, status, started_at)
		VALUES (?, ?, ?, 'waiting', ?)
		ON CONFLICT DO NOTHING
		RETURNING id`),
		conversationRef, visitorID, chatToken, s.now().UnixMilli()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race to a concurrent request for the same token
		winner, err := s.FindOpenByToken(ctx, chatToken)
		if err != nil {
			return nil, false, err
		}
		if winner == nil {
			return nil, false, fmt.Errorf("open session for token vanished during create")
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// Assign moves a waiting session to active with the given agent. It returns
// false when the session was not waiting.
func (s *SQLStore) Assign(ctx context.Context, sessionID int64, agentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE live_sessions
		SET status = 'active', agent_id = ?, handled_by = ?, accepted_at = ?
		WHERE id = ? AND status = 'waiting'`),
		agentID, agentID, s.now().UnixMilli(), sessionID)
	if err != nil {
		return false, fmt.Errorf("assign session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign session: %w", err)
	}
	return n == 1, nil
}

// AppendMessage stores a message if and only if the session is active
func (s *SQLStore) AppendMessage(ctx context.Context, sessionID int64, senderType types.SenderType, senderID, text string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO live_messages
		(session_id, sender_type, sender_id, body, created_at)
		SELECT CAST(? AS BIGINT), CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS BIGINT)
		WHERE EXISTS (SELECT 1 FROM live_sessions WHERE id = ? AND status = 'active')
		RETURNING id`),
		sessionID, string(senderType), senderID, text, s.now().UnixMilli(), sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.Get(ctx, sessionID); err != nil {
			return 0, err
		}
		return 0, ErrSessionNotActive
	}
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// MessagesSince returns the session's messages with id greater than afterID, ascending
func (s *SQLStore) MessagesSince(ctx context.Context, sessionID, afterID int64) ([]types.LiveMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, session_id, sender_type, sender_id, body, created_at
		FROM live_messages WHERE session_id = ? AND id > ? ORDER BY id ASC`), sessionID, afterID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]types.LiveMessage, 0)
	for rows.Next() {
		var (
			m          types.LiveMessage
			senderType string
			createdAt  int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &senderType, &m.SenderID, &m.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SenderType = types.SenderType(senderType)
		m.CreatedAt = fromMillis(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MessageCount returns how many messages a session holds
func (s *SQLStore) MessageCount(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM live_messages WHERE session_id = ?`), sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// End closes a session. Ending an already ended session changes nothing and
// reports changed=false. The returned session reflects the stored row.
func (s *SQLStore) End(ctx context.Context, sessionID int64, endedBy types.EndedBy) (*types.LiveSession, bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE live_sessions
		SET status = 'ended', agent_id = NULL, ended_at = ?, ended_by = ?
		WHERE id = ? AND status IN ('waiting', 'active')`),
		s.now().UnixMilli(), string(endedBy), sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("end session: %w", err)
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return sess, n == 1, nil
}

// QueuePosition returns the 1-based FIFO rank of a waiting session
func (s *SQLStore) QueuePosition(ctx context.Context, sessionID int64) (int, error) {
	var ahead int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM live_sessions
		WHERE status = 'waiting' AND id < ?`), sessionID).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return ahead + 1, nil
}

// OldestWaiting returns the lowest-id waiting session, or nil
func (s *SQLStore) OldestWaiting(ctx context.Context) (*types.LiveSession, error) {
	return s.querySession(ctx, `SELECT `+sessionColumns+` FROM live_sessions
		WHERE status = 'waiting' ORDER BY id ASC LIMIT 1`)
}

// ListWaiting returns all waiting sessions in FIFO order
func (s *SQLStore) ListWaiting(ctx context.Context) ([]types.LiveSession, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM live_sessions
		WHERE status = 'waiting' ORDER BY id ASC`)
}

// ListActiveByAgent returns the agent's active sessions, oldest first
func (s *SQLStore) ListActiveByAgent(ctx context.Context, agentID string) ([]types.LiveSession, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM live_sessions
		WHERE status = 'active' AND agent_id = ? ORDER BY id ASC`, agentID)
}

// ActiveCounts returns the number of active sessions per agent
func (s *SQLStore) ActiveCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, COUNT(*) FROM live_sessions
		WHERE status = 'active' GROUP BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("active counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			agentID sql.NullString
			n       int
		)
		if err := rows.Scan(&agentID, &n); err != nil {
			return nil, fmt.Errorf("scan active count: %w", err)
		}
		if agentID.Valid {
			counts[agentID.String] = n
		}
	}
	return counts, rows.Err()
}

// CountByStatus returns the number of sessions in each state
func (s *SQLStore) CountByStatus(ctx context.Context) (map[types.SessionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM live_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.SessionStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[types.SessionStatus(status)] = n
	}
	return counts, rows.Err()
}
