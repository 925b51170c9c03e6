package orgcontext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by Store implementations when a dialed number has
// no organization mapping. Provider treats this as "fall back to Default",
// not as an error worth surfacing to the call.
var ErrNotFound = errors.New("orgcontext: no organization mapped to this number")

// Store is the backing lookup for organization configuration by dialed
// number. Provider wraps a Store with caching and the default-context
// fallback; Store implementations stay dumb fetchers.
type Store interface {
	FetchByNumber(ctx context.Context, dialedNumber string) (Context, error)
	Ping(ctx context.Context) error
}

// PostgresStore resolves organization context from Postgres. Configuration
// is stored with JSONB columns for the nested structures (scripts,
// services, business hours, voice settings, rules, integrations) rather than
// normalized tables, since the core only ever reads a whole Context by key.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the org_contexts table
// exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("orgcontext: connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `CREATE TABLE IF NOT EXISTS org_contexts (
		dialed_number TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		greeting TEXT NOT NULL,
		fallback TEXT NOT NULL,
		timezone TEXT NOT NULL,
		escalation_number TEXT,
		scripts JSONB NOT NULL DEFAULT '{}',
		services JSONB NOT NULL DEFAULT '[]',
		business_hours JSONB NOT NULL DEFAULT '{}',
		holidays JSONB NOT NULL DEFAULT '[]',
		voice_settings JSONB NOT NULL DEFAULT '{}',
		rules JSONB NOT NULL DEFAULT '{}',
		integrations JSONB NOT NULL DEFAULT '[]',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("orgcontext: init schema: %w", err)
	}
	return nil
}

// FetchByNumber loads the organization context mapped to dialedNumber.
// Returns ErrNotFound if there is no row for that number.
func (s *PostgresStore) FetchByNumber(ctx context.Context, dialedNumber string) (Context, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, display_name, greeting, fallback, timezone, escalation_number,
		        scripts, services, business_hours, holidays, voice_settings, rules, integrations
		 FROM org_contexts WHERE dialed_number = $1`,
		dialedNumber,
	)

	var (
		c                                                                    Context
		escalation                                                           *string
		scriptsRaw, servicesRaw, hoursRaw, holidaysRaw, voiceRaw, rulesRaw    []byte
		integrationsRaw                                                      []byte
	)

	err := row.Scan(&c.ID, &c.DisplayName, &c.Greeting, &c.Fallback, &c.Timezone, &escalation,
		&scriptsRaw, &servicesRaw, &hoursRaw, &holidaysRaw, &voiceRaw, &rulesRaw, &integrationsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	if err != nil {
		return Context{}, fmt.Errorf("orgcontext: fetch %q: %w", dialedNumber, err)
	}

	c.DialedNumber = dialedNumber
	if escalation != nil {
		c.EscalationNumber = *escalation
	}

	if err := unmarshalParts(&c, scriptsRaw, servicesRaw, hoursRaw, holidaysRaw, voiceRaw, rulesRaw, integrationsRaw); err != nil {
		return Context{}, fmt.Errorf("orgcontext: decode %q: %w", dialedNumber, err)
	}

	return c, nil
}

func unmarshalParts(c *Context, scriptsRaw, servicesRaw, hoursRaw, holidaysRaw, voiceRaw, rulesRaw, integrationsRaw []byte) error {
	if err := json.Unmarshal(scriptsRaw, &c.Scripts); err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	if err := json.Unmarshal(servicesRaw, &c.Services); err != nil {
		return fmt.Errorf("services: %w", err)
	}

	var hours map[string]BusinessHours
	if err := json.Unmarshal(hoursRaw, &hours); err != nil {
		return fmt.Errorf("business_hours: %w", err)
	}
	c.BusinessHours = weekdayKeyed(hours)

	if err := json.Unmarshal(holidaysRaw, &c.Holidays); err != nil {
		return fmt.Errorf("holidays: %w", err)
	}
	if err := json.Unmarshal(voiceRaw, &c.VoiceSettings); err != nil {
		return fmt.Errorf("voice_settings: %w", err)
	}
	if err := json.Unmarshal(rulesRaw, &c.Rules); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if err := json.Unmarshal(integrationsRaw, &c.Integrations); err != nil {
		return fmt.Errorf("integrations: %w", err)
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func weekdayKeyed(raw map[string]BusinessHours) map[time.Weekday]BusinessHours {
	out := make(map[time.Weekday]BusinessHours, len(raw))
	for k, v := range raw {
		if wd, ok := weekdayNames[k]; ok {
			out[wd] = v
		}
	}
	return out
}

// Ping verifies Postgres connectivity for the readiness handler.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
