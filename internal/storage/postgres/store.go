// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weboost/sitewatch/internal/monitor"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements monitor.Store on a pgx connection pool.
type Store struct {
	pool dbPool
}

var _ monitor.Store = (*Store)(nil)

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const getProjectQuery = `
SELECT
	p.id, p.customer_id, p.domain, p.url, p.status, p.health_score,
	p.performance_data, p.broken_links, p.server_status, p.alerts, p.traffic_data,
	c.id, c.name, COALESCE(c.email, ''), COALESCE(c.created_by, 0), COALESCE(c.api_keys, '[]')
FROM projects p
JOIN customers c ON p.customer_id = c.id
WHERE p.id = $1`

// GetProject loads a project with its owning customer.
func (s *Store) GetProject(ctx context.Context, id int64) (*monitor.Project, *monitor.Customer, error) {
	var (
		project  monitor.Project
		customer monitor.Customer

		perfJSON, linksJSON, serverJSON, alertsJSON []byte
		trafficJSON                                 []byte
	)
	err := s.pool.QueryRow(ctx, getProjectQuery, id).Scan(
		&project.ID, &project.CustomerID, &project.Domain, &project.URL,
		&project.Status, &project.HealthScore,
		&perfJSON, &linksJSON, &serverJSON, &alertsJSON, &trafficJSON,
		&customer.ID, &customer.Name, &customer.Email, &customer.OwnerID,
		&customer.APIKeys,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("project %d not found", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get project %d: %w", id, err)
	}

	if snapshot := new(monitor.PerformanceSnapshot); decodeObject(perfJSON, snapshot) {
		project.Performance = snapshot
	}
	if status := new(monitor.ServerStatus); decodeObject(serverJSON, status) {
		project.ServerStat = status
	}
	_ = json.Unmarshal(linksJSON, &project.BrokenLinks)
	_ = json.Unmarshal(alertsJSON, &project.Alerts)
	if len(trafficJSON) > 0 {
		project.TrafficData = json.RawMessage(trafficJSON)
	}
	return &project, &customer, nil
}

const updateAnalysisQuery = `
UPDATE projects SET
	health_score = $2,
	performance_data = $3,
	broken_links = $4,
	server_status = $5,
	alerts = $6,
	updated_at = NOW()
WHERE id = $1`

// UpdateProjectAnalysis writes the analysis field group in one statement.
// A nil performance snapshot or server status persists as an empty object;
// nil slices persist as empty arrays.
func (s *Store) UpdateProjectAnalysis(ctx context.Context, id int64, result monitor.AnalysisResult) error {
	perfJSON, err := marshalOrEmptyObject(result.Performance)
	if err != nil {
		return fmt.Errorf("marshal performance: %w", err)
	}
	serverJSON, err := marshalOrEmptyObject(result.ServerStatus)
	if err != nil {
		return fmt.Errorf("marshal server status: %w", err)
	}
	linksJSON, err := marshalOrEmptyArray(result.BrokenLinks)
	if err != nil {
		return fmt.Errorf("marshal broken links: %w", err)
	}
	alertsJSON, err := marshalOrEmptyArray(result.Alerts)
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}

	tag, err := s.pool.Exec(ctx, updateAnalysisQuery,
		id, result.HealthScore, perfJSON, linksJSON, serverJSON, alertsJSON)
	if err != nil {
		return fmt.Errorf("update project %d analysis: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %d not found", id)
	}
	return nil
}

const listDueQuery = `
SELECT
	n.id, n.project_id, n.type, n.frequency, n.enabled, n.recipients, n.settings,
	p.id, p.customer_id, p.domain, p.url, p.status, p.health_score,
	p.performance_data, p.alerts, p.traffic_data,
	c.id, c.name, COALESCE(c.email, ''), COALESCE(c.created_by, 0)
FROM notifications n
JOIN projects p ON n.project_id = p.id
JOIN customers c ON p.customer_id = c.id
WHERE n.enabled = TRUE AND n.type = $1 AND n.frequency = $2
ORDER BY n.id`

// ListDueNotifications returns enabled configs matching exactly the given
// (type, frequency) pair, joined to project, customer and owner.
func (s *Store) ListDueNotifications(ctx context.Context, t monitor.NotificationType, f monitor.Frequency) ([]monitor.DueNotification, error) {
	rows, err := s.pool.Query(ctx, listDueQuery, string(t), string(f))
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}
	defer rows.Close()

	var due []monitor.DueNotification
	for rows.Next() {
		var (
			item                 monitor.DueNotification
			typeCol, freqCol     string
			perfJSON, alertsJSON []byte
			trafficJSON          []byte
		)
		err := rows.Scan(
			&item.Config.ID, &item.Config.ProjectID, &typeCol,
			&freqCol, &item.Config.Enabled,
			&item.Config.Recipients, &item.Config.Settings,
			&item.Project.ID, &item.Project.CustomerID, &item.Project.Domain,
			&item.Project.URL, &item.Project.Status, &item.Project.HealthScore,
			&perfJSON, &alertsJSON, &trafficJSON,
			&item.Customer.ID, &item.Customer.Name, &item.Customer.Email,
			&item.Customer.OwnerID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due notification: %w", err)
		}
		item.Config.Type = monitor.NotificationType(typeCol)
		item.Config.Frequency = monitor.Frequency(freqCol)
		if snapshot := new(monitor.PerformanceSnapshot); decodeObject(perfJSON, snapshot) {
			item.Project.Performance = snapshot
		}
		_ = json.Unmarshal(alertsJSON, &item.Project.Alerts)
		if len(trafficJSON) > 0 {
			item.Project.TrafficData = json.RawMessage(trafficJSON)
		}
		due = append(due, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due notifications: %w", err)
	}
	return due, nil
}

const getTemplateQuery = `
SELECT type, html_template, COALESCE(css_styles, '')
FROM report_templates
WHERE type = $1`

// GetTemplate returns the stored template for a type, or nil when absent.
func (s *Store) GetTemplate(ctx context.Context, t monitor.NotificationType) (*monitor.ReportTemplate, error) {
	var (
		tmpl    monitor.ReportTemplate
		typeCol string
	)
	err := s.pool.QueryRow(ctx, getTemplateQuery, string(t)).
		Scan(&typeCol, &tmpl.HTMLTemplate, &tmpl.CSSStyles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", t, err)
	}
	tmpl.Type = monitor.NotificationType(typeCol)
	return &tmpl, nil
}

const getSettingsQuery = `
SELECT
	COALESCE(company_name, ''), COALESCE(company_email, ''),
	COALESCE(company_phone, ''), COALESCE(company_address, ''),
	COALESCE(logo_path, ''), COALESCE(support_email, ''),
	COALESCE(alert_email, '')
FROM settings
WHERE user_id = $1`

// GetCompanySettingsForOwner returns the admin's settings, or nil when the
// owner has none on file.
func (s *Store) GetCompanySettingsForOwner(ctx context.Context, ownerID int64) (*monitor.CompanySettings, error) {
	if ownerID == 0 {
		return nil, nil
	}
	var settings monitor.CompanySettings
	err := s.pool.QueryRow(ctx, getSettingsQuery, ownerID).Scan(
		&settings.CompanyName, &settings.CompanyEmail, &settings.CompanyPhone,
		&settings.CompanyAddress, &settings.LogoURL, &settings.SupportEmail,
		&settings.AlertEmail,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings for owner %d: %w", ownerID, err)
	}
	return &settings, nil
}

// decodeObject unmarshals a JSONB object column into dst, reporting whether
// the column held a non-empty object.
func decodeObject(raw []byte, dst any) bool {
	if len(raw) == 0 {
		return false
	}
	trimmed := string(raw)
	if trimmed == "{}" || trimmed == "null" {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func marshalOrEmptyObject(v any) ([]byte, error) {
	if v == nil || isNilPointer(v) {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func marshalOrEmptyArray[T any](items []T) ([]byte, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *monitor.PerformanceSnapshot:
		return p == nil
	case *monitor.ServerStatus:
		return p == nil
	default:
		return false
	}
}
