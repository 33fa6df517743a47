package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	ActionRegister        = "auth.register"
	ActionAdminCreated    = "auth.admin.created"
	ActionLoginSuccess    = "auth.login.success"
	ActionLoginFailed     = "auth.login.failed"
	ActionLoginRateLimit  = "auth.login.rate_limited"
	ActionRefreshSuccess  = "auth.refresh.success"
	ActionRefreshFailed   = "auth.refresh.failed"
	ActionRefreshReuse    = "auth.refresh.reuse_detected"
	ActionLogout          = "auth.logout"
	ActionLogoutAll       = "auth.logout_all"
	ActionLogoutDevice    = "auth.logout_device"
	ActionLoginVerified   = "auth.login.verified"
	ActionAdminForceOut   = "admin.force_logout"
	ActionAdminToggleFlag = "admin.session.toggle_suspicious"
)

// AuditEntry is one security-relevant event. Meta must never carry secrets.
type AuditEntry struct {
	Action    string
	AccountID string
	SessionID string
	IP        string
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// Auditor records audit entries. Implementations must not fail the request;
// write errors are logged and dropped.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry)
}

// LogAuditor writes audit entries to a structured logger.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Record(_ context.Context, e AuditEntry) {
	if a.Log == nil {
		return
	}
	attrs := []any{"action", e.Action}
	if e.AccountID != "" {
		attrs = append(attrs, "account_id", e.AccountID)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.IP != "" {
		attrs = append(attrs, "ip", e.IP)
	}
	if len(e.Meta) > 0 {
		attrs = append(attrs, "meta", e.Meta)
	}
	a.Log.Info("auth.audit", attrs...)
}

// PostgresAuditor inserts audit entries into <schema>.audit_log.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, fmt.Errorf("authapi: postgres auditor needs a pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "secureauth"
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
		log:   log,
	}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, e AuditEntry) {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			account_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, trimOrNil(e.AccountID), trimOrNil(e.SessionID), action, at, trimOrNil(e.IP), trimOrNil(e.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
