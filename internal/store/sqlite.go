package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/portfolio-chat/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single writer connection keeps them applied.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL DEFAULT '',
	credits    INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS portfolios (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL REFERENCES users(id),
	handle             TEXT NOT NULL UNIQUE,
	title              TEXT NOT NULL DEFAULT '',
	about              TEXT NOT NULL DEFAULT '',
	is_published       INTEGER NOT NULL DEFAULT 0,
	working_hours      TEXT,
	off_days           TEXT,
	notification_email TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS agents (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL REFERENCES users(id),
	portfolio_id       TEXT REFERENCES portfolios(id),
	is_enabled         INTEGER NOT NULL DEFAULT 1,
	model              TEXT NOT NULL DEFAULT '',
	temperature        REAL NOT NULL DEFAULT 0.5,
	behavior_type      TEXT NOT NULL DEFAULT '',
	strategy_mode      TEXT NOT NULL DEFAULT 'consultative',
	custom_prompt      TEXT NOT NULL DEFAULT '',
	display_name       TEXT NOT NULL DEFAULT '',
	avatar_url         TEXT NOT NULL DEFAULT '',
	intro              TEXT NOT NULL DEFAULT '',
	role               TEXT NOT NULL DEFAULT '',
	working_hours      TEXT,
	off_days           TEXT,
	notification_email TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_agents_portfolio_id ON agents(portfolio_id);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	seq        INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(agent_id, session_id, created_at);

CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY,
	scope_key       TEXT NOT NULL,
	agent_id        TEXT NOT NULL DEFAULT '',
	portfolio_id    TEXT NOT NULL DEFAULT '',
	session_id      TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	budget          TEXT NOT NULL DEFAULT '',
	project_details TEXT NOT NULL DEFAULT '',
	meeting_time    TEXT NOT NULL DEFAULT '',
	confidence      INTEGER NOT NULL DEFAULT 0,
	capture_turn    INTEGER NOT NULL DEFAULT 0,
	revision        INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (scope_key, session_id)
);

CREATE TABLE IF NOT EXISTS telemetry_events (
	id                 TEXT PRIMARY KEY,
	handle             TEXT NOT NULL DEFAULT '',
	agent_id           TEXT NOT NULL DEFAULT '',
	session_id         TEXT NOT NULL,
	model              TEXT NOT NULL DEFAULT '',
	strategy_mode      TEXT NOT NULL DEFAULT '',
	input_tokens       INTEGER NOT NULL DEFAULT 0,
	output_tokens      INTEGER NOT NULL DEFAULT 0,
	lead_candidate     INTEGER NOT NULL DEFAULT 0,
	lead_detected      INTEGER NOT NULL DEFAULT 0,
	lead_confidence    INTEGER NOT NULL DEFAULT 0,
	outcome            TEXT NOT NULL,
	error_type         TEXT NOT NULL DEFAULT '',
	fallback_reason    TEXT NOT NULL DEFAULT '',
	latency_ms         INTEGER NOT NULL DEFAULT 0,
	credit_cost        INTEGER NOT NULL DEFAULT 0,
	estimated_cost_usd REAL NOT NULL DEFAULT 0,
	metadata           TEXT,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_telemetry_events_handle ON telemetry_events(handle, created_at);

CREATE TABLE IF NOT EXISTS analytics_daily (
	portfolio_id TEXT NOT NULL,
	day          TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	count        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (portfolio_id, day, event_type)
);
`

const (
	upsertLeadSQLite = `INSERT INTO leads (id, scope_key, agent_id, portfolio_id, session_id, name, email, phone, website, budget, project_details, meeting_time, confidence, capture_turn, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (scope_key, session_id) DO UPDATE SET
	name = COALESCE(NULLIF(excluded.name, ''), leads.name),
	email = COALESCE(NULLIF(excluded.email, ''), leads.email),
	phone = COALESCE(NULLIF(excluded.phone, ''), leads.phone),
	website = COALESCE(NULLIF(excluded.website, ''), leads.website),
	budget = COALESCE(NULLIF(excluded.budget, ''), leads.budget),
	project_details = COALESCE(NULLIF(excluded.project_details, ''), leads.project_details),
	meeting_time = COALESCE(NULLIF(excluded.meeting_time, ''), leads.meeting_time),
	confidence = MAX(leads.confidence, excluded.confidence),
	revision = leads.revision + 1,
	updated_at = excluded.updated_at
RETURNING id, revision`

	agentColumnsSQLite     = `id, owner_id, COALESCE(portfolio_id, ''), is_enabled, model, temperature, behavior_type, strategy_mode, custom_prompt, display_name, avatar_url, intro, role, working_hours, off_days, notification_email`
	portfolioColumnsSQLite = `id, owner_id, handle, title, about, is_published, working_hours, off_days, notification_email`
)

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Recorder ---

func (s *SQLiteStore) SaveChatMessage(ctx context.Context, turn model.ChatTurn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, agent_id, session_id, role, content, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_messages WHERE session_id = ?), ?)`,
		uuid.New().String(), turn.AgentID, turn.SessionID, string(turn.Role), turn.Content, turn.SessionID, createdAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save chat message %s", turn.SessionID)
}

func (s *SQLiteStore) SaveLeadWithDedup(ctx context.Context, lead *model.Lead) (model.LeadWriteResult, error) {
	now := time.Now().UTC()
	f := lead.Fields

	var id string
	var revision int
	err := s.db.QueryRowContext(ctx, upsertLeadSQLite,
		uuid.New().String(), lead.ScopeKey(), lead.AgentID, lead.PortfolioID, lead.SessionID,
		f.Name, f.Email, f.Phone, f.Website, f.Budget, f.ProjectDetails, f.MeetingTime,
		lead.Confidence, lead.CaptureTurn, now, now,
	).Scan(&id, &revision)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: upsert lead %s", lead.SessionID)
	}
	lead.ID = id
	return leadResult(revision), nil
}

func (s *SQLiteStore) LogTelemetryEvent(ctx context.Context, ev *model.TelemetryEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalOptional(ev.Metadata, len(ev.Metadata) > 0)
	if err != nil {
		return err
	}
	var metaText sql.NullString
	if meta != nil {
		metaText = sql.NullString{String: string(meta), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO telemetry_events (id, handle, agent_id, session_id, model, strategy_mode, input_tokens, output_tokens, lead_candidate, lead_detected, lead_confidence, outcome, error_type, fallback_reason, latency_ms, credit_cost, estimated_cost_usd, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Handle, ev.AgentID, ev.SessionID, ev.Model, string(ev.StrategyMode),
		ev.Usage.InputTokens, ev.Usage.OutputTokens, ev.LeadCandidate, ev.LeadDetected, ev.LeadConfidence,
		string(ev.Outcome), string(ev.ErrorType), string(ev.FallbackReason),
		ev.LatencyMS, ev.CreditCost, ev.EstimatedCostUSD, metaText, ev.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: log telemetry %s", ev.SessionID)
}

func (s *SQLiteStore) TrackAnalyticsEvent(ctx context.Context, ev model.AnalyticsEvent) error {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_daily (portfolio_id, day, event_type, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT (portfolio_id, day, event_type) DO UPDATE SET count = analytics_daily.count + 1`,
		ev.PortfolioID, dayKey(at).Format(time.DateOnly), string(ev.Type),
	)
	return eris.Wrapf(err, "sqlite: track analytics %s", ev.PortfolioID)
}

// --- Directory ---

func scanAgentSQLite(row *sql.Row) (*AgentRecord, error) {
	var a AgentRecord
	var hours, offDays sql.NullString
	err := row.Scan(&a.ID, &a.OwnerID, &a.PortfolioID, &a.IsEnabled, &a.Model, &a.Temperature,
		&a.BehaviorType, &a.StrategyMode, &a.CustomPrompt, &a.DisplayName, &a.AvatarURL, &a.Intro, &a.Role,
		&hours, &offDays, &a.NotificationEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if a.WorkingHours, err = unmarshalHours([]byte(hours.String)); err != nil {
		return nil, err
	}
	if a.OffDays, err = unmarshalOffDays([]byte(offDays.String)); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPortfolioSQLite(row *sql.Row) (*PortfolioRecord, error) {
	var p PortfolioRecord
	var hours, offDays sql.NullString
	err := row.Scan(&p.ID, &p.OwnerID, &p.Handle, &p.Title, &p.About, &p.IsPublished, &hours, &offDays, &p.NotificationEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.WorkingHours, err = unmarshalHours([]byte(hours.String)); err != nil {
		return nil, err
	}
	if p.OffDays, err = unmarshalOffDays([]byte(offDays.String)); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	a, err := scanAgentSQLite(s.db.QueryRowContext(ctx, `SELECT `+agentColumnsSQLite+` FROM agents WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get agent %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) GetAgentByPortfolio(ctx context.Context, portfolioID string) (*AgentRecord, error) {
	a, err := scanAgentSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumnsSQLite+` FROM agents WHERE portfolio_id = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`, portfolioID))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get agent for portfolio %s", portfolioID)
	}
	return a, nil
}

func (s *SQLiteStore) GetPortfolio(ctx context.Context, id string) (*PortfolioRecord, error) {
	p, err := scanPortfolioSQLite(s.db.QueryRowContext(ctx, `SELECT `+portfolioColumnsSQLite+` FROM portfolios WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get portfolio %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) GetPortfolioByHandle(ctx context.Context, handle string) (*PortfolioRecord, error) {
	p, err := scanPortfolioSQLite(s.db.QueryRowContext(ctx, `SELECT `+portfolioColumnsSQLite+` FROM portfolios WHERE handle = ?`, handle))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get portfolio by handle %s", handle)
	}
	return p, nil
}

func (s *SQLiteStore) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = ?`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return "", eris.Wrapf(err, "sqlite: get user email %s", userID)
	}
	return email, nil
}

// --- CreditLedger ---

func (s *SQLiteStore) GetCredits(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return 0, eris.Wrapf(err, "sqlite: get credits %s", userID)
	}
	return credits, nil
}

func (s *SQLiteStore) ConsumeCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET credits = credits - ? WHERE id = ? AND credits >= ? RETURNING credits`,
		amount, userID, amount,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrInsufficientCredits
		}
		return 0, eris.Wrapf(err, "sqlite: consume credits %s", userID)
	}
	return balance, nil
}

// --- Reads ---

func (s *SQLiteStore) ListChatTurns(ctx context.Context, agentID, sessionID string, limit int) ([]model.ChatTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, session_id, role, content, created_at FROM chat_messages
		 WHERE agent_id = ? AND session_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`,
		agentID, sessionID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list chat turns %s", sessionID)
	}
	defer rows.Close() //nolint:errcheck

	var turns []model.ChatTurn
	for rows.Next() {
		var t model.ChatTurn
		var role string
		if err := rows.Scan(&t.AgentID, &t.SessionID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chat turn")
		}
		t.Role = model.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate chat turns")
	}
	slices.Reverse(turns)
	return turns, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, scopeKey, sessionID string) (*model.Lead, error) {
	var l model.Lead
	f := &l.Fields
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, portfolio_id, session_id, name, email, phone, website, budget, project_details, meeting_time, confidence, capture_turn, created_at, updated_at
		 FROM leads WHERE scope_key = ? AND session_id = ?`,
		scopeKey, sessionID,
	).Scan(&l.ID, &l.AgentID, &l.PortfolioID, &l.SessionID, &f.Name, &f.Email, &f.Phone, &f.Website,
		&f.Budget, &f.ProjectDetails, &f.MeetingTime, &l.Confidence, &l.CaptureTurn, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %s", sessionID)
	}
	return &l, nil
}

func (s *SQLiteStore) AnalyticsCount(ctx context.Context, portfolioID string, day time.Time, typ model.AnalyticsEventType) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM analytics_daily WHERE portfolio_id = ? AND day = ? AND event_type = ?`,
		portfolioID, dayKey(day).Format(time.DateOnly), string(typ),
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "sqlite: analytics count %s", portfolioID)
	}
	return n, nil
}

// --- Seeding ---

func (s *SQLiteStore) SaveUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, credits) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET email = excluded.email, credits = excluded.credits`,
		u.ID, u.Email, u.Credits,
	)
	return eris.Wrapf(err, "sqlite: save user %s", u.ID)
}

func (s *SQLiteStore) SavePortfolio(ctx context.Context, p PortfolioRecord) error {
	hours, err := marshalOptional(p.WorkingHours, p.WorkingHours != nil)
	if err != nil {
		return err
	}
	offDays, err := marshalOptional(p.OffDays, p.OffDays != nil)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO portfolios (id, owner_id, handle, title, about, is_published, working_hours, off_days, notification_email)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id, handle = excluded.handle, title = excluded.title,
		   about = excluded.about, is_published = excluded.is_published, working_hours = excluded.working_hours,
		   off_days = excluded.off_days, notification_email = excluded.notification_email`,
		p.ID, p.OwnerID, p.Handle, p.Title, p.About, p.IsPublished, nullText(hours), nullText(offDays), p.NotificationEmail,
	)
	return eris.Wrapf(err, "sqlite: save portfolio %s", p.ID)
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, a AgentRecord) error {
	hours, err := marshalOptional(a.WorkingHours, a.WorkingHours != nil)
	if err != nil {
		return err
	}
	offDays, err := marshalOptional(a.OffDays, a.OffDays != nil)
	if err != nil {
		return err
	}
	portfolioID := sql.NullString{String: a.PortfolioID, Valid: a.PortfolioID != ""}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, owner_id, portfolio_id, is_enabled, model, temperature, behavior_type, strategy_mode, custom_prompt, display_name, avatar_url, intro, role, working_hours, off_days, notification_email)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id, portfolio_id = excluded.portfolio_id,
		   is_enabled = excluded.is_enabled, model = excluded.model, temperature = excluded.temperature,
		   behavior_type = excluded.behavior_type, strategy_mode = excluded.strategy_mode,
		   custom_prompt = excluded.custom_prompt, display_name = excluded.display_name,
		   avatar_url = excluded.avatar_url, intro = excluded.intro, role = excluded.role,
		   working_hours = excluded.working_hours, off_days = excluded.off_days,
		   notification_email = excluded.notification_email`,
		a.ID, a.OwnerID, portfolioID, a.IsEnabled, a.Model, a.Temperature, a.BehaviorType, a.StrategyMode,
		a.CustomPrompt, a.DisplayName, a.AvatarURL, a.Intro, a.Role, nullText(hours), nullText(offDays), a.NotificationEmail,
	)
	return eris.Wrapf(err, "sqlite: save agent %s", a.ID)
}

func nullText(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}

var _ Store = (*SQLiteStore)(nil)
