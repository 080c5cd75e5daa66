package telephony

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProviderSettings are one org's credentials at the voice provider.
// Only active settings take part in the polling sweep.
type ProviderSettings struct {
	ID         string    `json:"id" db:"id"`
	OrgID      string    `json:"org_id" db:"org_id"`
	APIKey     string    `json:"-" db:"api_key"`
	APIToken   string    `json:"-" db:"api_token"`
	Subdomain  string    `json:"subdomain" db:"subdomain"`
	AccountSID string    `json:"account_sid" db:"account_sid"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

func (s ProviderSettings) Validate() error {
	var missing []string
	if strings.TrimSpace(s.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(s.APIToken) == "" {
		missing = append(missing, "api_token")
	}
	if strings.TrimSpace(s.Subdomain) == "" {
		missing = append(missing, "subdomain")
	}
	if strings.TrimSpace(s.AccountSID) == "" {
		missing = append(missing, "account_sid")
	}
	if len(missing) > 0 {
		return errors.New("telephony: settings missing " + strings.Join(missing, ", "))
	}
	return nil
}

type SettingsStore interface {
	ListActive(ctx context.Context) ([]ProviderSettings, error)
	ByAccountSID(ctx context.Context, accountSID string) (ProviderSettings, error)
	ByOrgID(ctx context.Context, orgID string) (ProviderSettings, error)
}

// MemorySettings is an in-memory SettingsStore for tests and local runs.
type MemorySettings struct {
	mu    sync.RWMutex
	items map[string]ProviderSettings
}

func NewMemorySettings(items ...ProviderSettings) *MemorySettings {
	m := &MemorySettings{items: map[string]ProviderSettings{}}
	for _, s := range items {
		m.Put(s)
	}
	return m
}

func (m *MemorySettings) Put(s ProviderSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.ID] = s
}

func (m *MemorySettings) ListActive(_ context.Context) ([]ProviderSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ProviderSettings, 0, len(m.items))
	for _, s := range m.items {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemorySettings) ByAccountSID(_ context.Context, accountSID string) (ProviderSettings, error) {
	return m.find(func(s ProviderSettings) bool { return s.AccountSID == accountSID })
}

func (m *MemorySettings) ByOrgID(_ context.Context, orgID string) (ProviderSettings, error) {
	return m.find(func(s ProviderSettings) bool { return s.OrgID == orgID })
}

func (m *MemorySettings) find(match func(ProviderSettings) bool) (ProviderSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if s := m.items[id]; s.IsActive && match(s) {
			return s, nil
		}
	}
	return ProviderSettings{}, ErrSettingsNotFound
}

// PostgresSettings reads the telephony_settings table.
type PostgresSettings struct {
	DB *sql.DB
}

func NewPostgresSettings(db *sql.DB) *PostgresSettings {
	return &PostgresSettings{DB: db}
}

const settingsColumns = `id, org_id, api_key, api_token, subdomain, account_sid, is_active, created_at, updated_at`

func (p *PostgresSettings) ListActive(ctx context.Context) ([]ProviderSettings, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+settingsColumns+` FROM telephony_settings WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ProviderSettings, 0)
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresSettings) ByAccountSID(ctx context.Context, accountSID string) (ProviderSettings, error) {
	q := `SELECT ` + settingsColumns + ` FROM telephony_settings WHERE account_sid = $1 AND is_active ORDER BY id LIMIT 1`
	return scanSettings(p.DB.QueryRowContext(ctx, q, accountSID))
}

func (p *PostgresSettings) ByOrgID(ctx context.Context, orgID string) (ProviderSettings, error) {
	q := `SELECT ` + settingsColumns + ` FROM telephony_settings WHERE org_id = $1 AND is_active ORDER BY id LIMIT 1`
	return scanSettings(p.DB.QueryRowContext(ctx, q, orgID))
}

type settingsScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row settingsScanner) (ProviderSettings, error) {
	var s ProviderSettings
	if err := row.Scan(&s.ID, &s.OrgID, &s.APIKey, &s.APIToken, &s.Subdomain, &s.AccountSID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProviderSettings{}, ErrSettingsNotFound
		}
		return ProviderSettings{}, err
	}
	return s, nil
}
