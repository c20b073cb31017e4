package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/db"
	"github.com/sells-group/portfolio-chat/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL DEFAULT '',
	credits    BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS portfolios (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL REFERENCES users(id),
	handle             TEXT NOT NULL UNIQUE,
	title              TEXT NOT NULL DEFAULT '',
	about              TEXT NOT NULL DEFAULT '',
	is_published       BOOLEAN NOT NULL DEFAULT false,
	working_hours      JSONB,
	off_days           JSONB,
	notification_email TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agents (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL REFERENCES users(id),
	portfolio_id       TEXT REFERENCES portfolios(id),
	is_enabled         BOOLEAN NOT NULL DEFAULT true,
	model              TEXT NOT NULL DEFAULT '',
	temperature        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	behavior_type      TEXT NOT NULL DEFAULT '',
	strategy_mode      TEXT NOT NULL DEFAULT 'consultative',
	custom_prompt      TEXT NOT NULL DEFAULT '',
	display_name       TEXT NOT NULL DEFAULT '',
	avatar_url         TEXT NOT NULL DEFAULT '',
	intro              TEXT NOT NULL DEFAULT '',
	role               TEXT NOT NULL DEFAULT '',
	working_hours      JSONB,
	off_days           JSONB,
	notification_email TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agents_portfolio_id ON agents(portfolio_id);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(agent_id, session_id, created_at DESC);

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
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (scope_key, session_id)
);

CREATE TABLE IF NOT EXISTS telemetry_events (
	id                 TEXT PRIMARY KEY,
	handle             TEXT NOT NULL DEFAULT '',
	agent_id           TEXT NOT NULL DEFAULT '',
	session_id         TEXT NOT NULL,
	model              TEXT NOT NULL DEFAULT '',
	strategy_mode      TEXT NOT NULL DEFAULT '',
	input_tokens       BIGINT NOT NULL DEFAULT 0,
	output_tokens      BIGINT NOT NULL DEFAULT 0,
	lead_candidate     BOOLEAN NOT NULL DEFAULT false,
	lead_detected      BOOLEAN NOT NULL DEFAULT false,
	lead_confidence    INTEGER NOT NULL DEFAULT 0,
	outcome            TEXT NOT NULL,
	error_type         TEXT NOT NULL DEFAULT '',
	fallback_reason    TEXT NOT NULL DEFAULT '',
	latency_ms         BIGINT NOT NULL DEFAULT 0,
	credit_cost        BIGINT NOT NULL DEFAULT 0,
	estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	metadata           JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_telemetry_events_handle ON telemetry_events(handle, created_at DESC);

CREATE TABLE IF NOT EXISTS analytics_daily (
	portfolio_id TEXT NOT NULL,
	day          DATE NOT NULL,
	event_type   TEXT NOT NULL,
	count        BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (portfolio_id, day, event_type)
);
`

const (
	insertChatMessagePG = `INSERT INTO chat_messages (id, agent_id, session_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5, $6)`

	upsertLeadPG = `INSERT INTO leads (id, scope_key, agent_id, portfolio_id, session_id, name, email, phone, website, budget, project_details, meeting_time, confidence, capture_turn, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
ON CONFLICT (scope_key, session_id) DO UPDATE SET
	name = COALESCE(NULLIF(EXCLUDED.name, ''), leads.name),
	email = COALESCE(NULLIF(EXCLUDED.email, ''), leads.email),
	phone = COALESCE(NULLIF(EXCLUDED.phone, ''), leads.phone),
	website = COALESCE(NULLIF(EXCLUDED.website, ''), leads.website),
	budget = COALESCE(NULLIF(EXCLUDED.budget, ''), leads.budget),
	project_details = COALESCE(NULLIF(EXCLUDED.project_details, ''), leads.project_details),
	meeting_time = COALESCE(NULLIF(EXCLUDED.meeting_time, ''), leads.meeting_time),
	confidence = GREATEST(leads.confidence, EXCLUDED.confidence),
	revision = leads.revision + 1,
	updated_at = EXCLUDED.updated_at
RETURNING id, revision`

	insertTelemetryPG = `INSERT INTO telemetry_events (id, handle, agent_id, session_id, model, strategy_mode, input_tokens, output_tokens, lead_candidate, lead_detected, lead_confidence, outcome, error_type, fallback_reason, latency_ms, credit_cost, estimated_cost_usd, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	trackAnalyticsPG = `INSERT INTO analytics_daily (portfolio_id, day, event_type, count) VALUES ($1, $2, $3, 1)
ON CONFLICT (portfolio_id, day, event_type) DO UPDATE SET count = analytics_daily.count + 1`

	consumeCreditsPG = `UPDATE users SET credits = credits - $1 WHERE id = $2 AND credits >= $1 RETURNING credits`

	agentColumnsPG = `id, owner_id, COALESCE(portfolio_id, ''), is_enabled, model, temperature, behavior_type, strategy_mode, custom_prompt, display_name, avatar_url, intro, role, working_hours, off_days, notification_email`

	portfolioColumnsPG = `id, owner_id, handle, title, about, is_published, working_hours, off_days, notification_email`
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Recorder ---

func (s *PostgresStore) SaveChatMessage(ctx context.Context, turn model.ChatTurn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, insertChatMessagePG,
		uuid.New().String(), turn.AgentID, turn.SessionID, string(turn.Role), turn.Content, createdAt,
	)
	return eris.Wrapf(err, "postgres: save chat message %s", turn.SessionID)
}

func (s *PostgresStore) SaveLeadWithDedup(ctx context.Context, lead *model.Lead) (model.LeadWriteResult, error) {
	now := time.Now().UTC()
	f := lead.Fields

	var id string
	var revision int
	err := s.pool.QueryRow(ctx, upsertLeadPG,
		uuid.New().String(), lead.ScopeKey(), lead.AgentID, lead.PortfolioID, lead.SessionID,
		f.Name, f.Email, f.Phone, f.Website, f.Budget, f.ProjectDetails, f.MeetingTime,
		lead.Confidence, lead.CaptureTurn, now,
	).Scan(&id, &revision)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: upsert lead %s", lead.SessionID)
	}
	lead.ID = id
	return leadResult(revision), nil
}

func (s *PostgresStore) LogTelemetryEvent(ctx context.Context, ev *model.TelemetryEvent) error {
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
	_, err = s.pool.Exec(ctx, insertTelemetryPG,
		ev.ID, ev.Handle, ev.AgentID, ev.SessionID, ev.Model, string(ev.StrategyMode),
		ev.Usage.InputTokens, ev.Usage.OutputTokens, ev.LeadCandidate, ev.LeadDetected, ev.LeadConfidence,
		string(ev.Outcome), string(ev.ErrorType), string(ev.FallbackReason),
		ev.LatencyMS, ev.CreditCost, ev.EstimatedCostUSD, meta, ev.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: log telemetry %s", ev.SessionID)
}

func (s *PostgresStore) TrackAnalyticsEvent(ctx context.Context, ev model.AnalyticsEvent) error {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx, trackAnalyticsPG, ev.PortfolioID, dayKey(at), string(ev.Type))
	return eris.Wrapf(err, "postgres: track analytics %s", ev.PortfolioID)
}

// --- Directory ---

func scanAgentPG(row pgx.Row) (*AgentRecord, error) {
	var a AgentRecord
	var hours, offDays []byte
	err := row.Scan(&a.ID, &a.OwnerID, &a.PortfolioID, &a.IsEnabled, &a.Model, &a.Temperature,
		&a.BehaviorType, &a.StrategyMode, &a.CustomPrompt, &a.DisplayName, &a.AvatarURL, &a.Intro, &a.Role,
		&hours, &offDays, &a.NotificationEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if a.WorkingHours, err = unmarshalHours(hours); err != nil {
		return nil, err
	}
	if a.OffDays, err = unmarshalOffDays(offDays); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPortfolioPG(row pgx.Row) (*PortfolioRecord, error) {
	var p PortfolioRecord
	var hours, offDays []byte
	err := row.Scan(&p.ID, &p.OwnerID, &p.Handle, &p.Title, &p.About, &p.IsPublished, &hours, &offDays, &p.NotificationEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.WorkingHours, err = unmarshalHours(hours); err != nil {
		return nil, err
	}
	if p.OffDays, err = unmarshalOffDays(offDays); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	a, err := scanAgentPG(s.pool.QueryRow(ctx, `SELECT `+agentColumnsPG+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get agent %s", id)
	}
	return a, nil
}

func (s *PostgresStore) GetAgentByPortfolio(ctx context.Context, portfolioID string) (*AgentRecord, error) {
	a, err := scanAgentPG(s.pool.QueryRow(ctx,
		`SELECT `+agentColumnsPG+` FROM agents WHERE portfolio_id = $1 ORDER BY created_at ASC LIMIT 1`, portfolioID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get agent for portfolio %s", portfolioID)
	}
	return a, nil
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, id string) (*PortfolioRecord, error) {
	p, err := scanPortfolioPG(s.pool.QueryRow(ctx, `SELECT `+portfolioColumnsPG+` FROM portfolios WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get portfolio %s", id)
	}
	return p, nil
}

func (s *PostgresStore) GetPortfolioByHandle(ctx context.Context, handle string) (*PortfolioRecord, error) {
	p, err := scanPortfolioPG(s.pool.QueryRow(ctx, `SELECT `+portfolioColumnsPG+` FROM portfolios WHERE handle = $1`, handle))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get portfolio by handle %s", handle)
	}
	return p, nil
}

func (s *PostgresStore) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrNotFound
		}
		return "", eris.Wrapf(err, "postgres: get user email %s", userID)
	}
	return email, nil
}

// --- CreditLedger ---

func (s *PostgresStore) GetCredits(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := s.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrNotFound
		}
		return 0, eris.Wrapf(err, "postgres: get credits %s", userID)
	}
	return credits, nil
}

func (s *PostgresStore) ConsumeCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, consumeCreditsPG, amount, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrInsufficientCredits
		}
		return 0, eris.Wrapf(err, "postgres: consume credits %s", userID)
	}
	return balance, nil
}

// --- Reads ---

func (s *PostgresStore) ListChatTurns(ctx context.Context, agentID, sessionID string, limit int) ([]model.ChatTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, session_id, role, content, created_at FROM chat_messages
		 WHERE agent_id = $1 AND session_id = $2 ORDER BY created_at DESC LIMIT $3`,
		agentID, sessionID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list chat turns %s", sessionID)
	}
	defer rows.Close()

	var turns []model.ChatTurn
	for rows.Next() {
		var t model.ChatTurn
		var role string
		if err := rows.Scan(&t.AgentID, &t.SessionID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chat turn")
		}
		t.Role = model.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate chat turns")
	}
	slices.Reverse(turns)
	return turns, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, scopeKey, sessionID string) (*model.Lead, error) {
	var l model.Lead
	f := &l.Fields
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, portfolio_id, session_id, name, email, phone, website, budget, project_details, meeting_time, confidence, capture_turn, created_at, updated_at
		 FROM leads WHERE scope_key = $1 AND session_id = $2`,
		scopeKey, sessionID,
	).Scan(&l.ID, &l.AgentID, &l.PortfolioID, &l.SessionID, &f.Name, &f.Email, &f.Phone, &f.Website,
		&f.Budget, &f.ProjectDetails, &f.MeetingTime, &l.Confidence, &l.CaptureTurn, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", sessionID)
	}
	return &l, nil
}

func (s *PostgresStore) AnalyticsCount(ctx context.Context, portfolioID string, day time.Time, typ model.AnalyticsEventType) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM analytics_daily WHERE portfolio_id = $1 AND day = $2 AND event_type = $3`,
		portfolioID, dayKey(day), string(typ),
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "postgres: analytics count %s", portfolioID)
	}
	return n, nil
}

// --- Seeding ---

func (s *PostgresStore) SaveUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, credits) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, credits = EXCLUDED.credits`,
		u.ID, u.Email, u.Credits,
	)
	return eris.Wrapf(err, "postgres: save user %s", u.ID)
}

func (s *PostgresStore) SavePortfolio(ctx context.Context, p PortfolioRecord) error {
	hours, err := marshalOptional(p.WorkingHours, p.WorkingHours != nil)
	if err != nil {
		return err
	}
	offDays, err := marshalOptional(p.OffDays, p.OffDays != nil)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolios (id, owner_id, handle, title, about, is_published, working_hours, off_days, notification_email)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, handle = EXCLUDED.handle, title = EXCLUDED.title,
		   about = EXCLUDED.about, is_published = EXCLUDED.is_published, working_hours = EXCLUDED.working_hours,
		   off_days = EXCLUDED.off_days, notification_email = EXCLUDED.notification_email`,
		p.ID, p.OwnerID, p.Handle, p.Title, p.About, p.IsPublished, hours, offDays, p.NotificationEmail,
	)
	return eris.Wrapf(err, "postgres: save portfolio %s", p.ID)
}

func (s *PostgresStore) SaveAgent(ctx context.Context, a AgentRecord) error {
	hours, err := marshalOptional(a.WorkingHours, a.WorkingHours != nil)
	if err != nil {
		return err
	}
	offDays, err := marshalOptional(a.OffDays, a.OffDays != nil)
	if err != nil {
		return err
	}
	var portfolioID *string
	if a.PortfolioID != "" {
		portfolioID = &a.PortfolioID
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (id, owner_id, portfolio_id, is_enabled, model, temperature, behavior_type, strategy_mode, custom_prompt, display_name, avatar_url, intro, role, working_hours, off_days, notification_email)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, portfolio_id = EXCLUDED.portfolio_id,
		   is_enabled = EXCLUDED.is_enabled, model = EXCLUDED.model, temperature = EXCLUDED.temperature,
		   behavior_type = EXCLUDED.behavior_type, strategy_mode = EXCLUDED.strategy_mode,
		   custom_prompt = EXCLUDED.custom_prompt, display_name = EXCLUDED.display_name,
		   avatar_url = EXCLUDED.avatar_url, intro = EXCLUDED.intro, role = EXCLUDED.role,
		   working_hours = EXCLUDED.working_hours, off_days = EXCLUDED.off_days,
		   notification_email = EXCLUDED.notification_email`,
		a.ID, a.OwnerID, portfolioID, a.IsEnabled, a.Model, a.Temperature, a.BehaviorType, a.StrategyMode,
		a.CustomPrompt, a.DisplayName, a.AvatarURL, a.Intro, a.Role, hours, offDays, a.NotificationEmail,
	)
	return eris.Wrapf(err, "postgres: save agent %s", a.ID)
}

var _ Store = (*PostgresStore)(nil)
