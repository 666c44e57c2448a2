// Package sqlstore owns the shared Postgres connection pool and the
// schema-aware query templating described in spec.md §9 ("Template SQL"):
// `{{tables.name}}` placeholders are expanded per-schema by straight text
// substitution before a query reaches the driver.
//
// The core supports both startup orderings spec.md §9 requires: Open creates
// and owns its own *sql.DB (standalone mode), while NewFromDB adopts an
// already-initialized connection (library mode, e.g. when BeadHub is
// embedded in a larger host process that owns the pool).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Pool wraps a *sql.DB with BeadHub's schema-template expansion. The three
// schemas are server (workspaces, repos, projects, bead_claims,
// escalations, subscriptions, notification outbox, audit_log,
// project_policies), beads (beads_issues), and aweb (agents, projects,
// api_keys, messages, chat_*).
type Pool struct {
	db     *sql.DB
	owns   bool
	tables map[string]string
}

// DefaultTables is the schema-qualified table map used outside of tests.
var DefaultTables = map[string]string{
	"projects":        "server.projects",
	"repos":           "server.repos",
	"workspaces":      "server.workspaces",
	"bead_claims":     "server.bead_claims",
	"escalations":     "server.escalations",
	"subscriptions":   "server.subscriptions",
	"notifications":   "server.notification_outbox",
	"audit_log":       "server.audit_log",
	"project_policies": "server.project_policies",
	"beads_issues":    "beads.beads_issues",
	"agents":          "aweb.agents",
	"aweb_projects":   "aweb.projects",
	"api_keys":        "aweb.api_keys",
	"messages":        "aweb.messages",
}

// QueryTimeout is the default per-query timeout (spec.md §5).
const QueryTimeout = 30 * time.Second

// Open creates and owns a new connection pool against databaseURL.
// Failed initialization never leaks a half-open pool: on error the
// partially-opened *sql.DB is closed before returning.
func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Pool{db: db, owns: true, tables: DefaultTables}, nil
}

// NewFromDB adopts an already-initialized *sql.DB (library mode). The
// caller retains ownership and Close is a no-op.
func NewFromDB(db *sql.DB) *Pool {
	return &Pool{db: db, owns: false, tables: DefaultTables}
}

// WithTables returns a copy of p using an alternate table map, for tests
// that point at a scratch schema.
func (p *Pool) WithTables(tables map[string]string) *Pool {
	return &Pool{db: p.db, owns: false, tables: tables}
}

// Close releases the pool if this Pool created it. In library mode the
// caller owns the lifecycle and Close does nothing.
func (p *Pool) Close() error {
	if p.owns && p.db != nil {
		return p.db.Close()
	}
	return nil
}

// DB returns the underlying *sql.DB for callers that need raw access
// (health checks, migrations).
func (p *Pool) DB() *sql.DB { return p.db }

// Expand substitutes every "{{tables.name}}" placeholder in query with its
// schema-qualified table name. Unknown placeholders are left unexpanded so
// a typo fails loudly at the driver instead of silently querying garbage.
func (p *Pool) Expand(query string) string {
	var b strings.Builder
	rest := query
	for {
		start := strings.Index(rest, "{{tables.")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start
		name := rest[start+len("{{tables.") : end]
		b.WriteString(rest[:start])
		if table, ok := p.tables[name]; ok {
			b.WriteString(table)
		} else {
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return b.String()
}

// QueryContext expands query and delegates to the pool.
func (p *Pool) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()
	return p.db.QueryContext(ctx, p.Expand(query), args...)
}

// QueryRowContext expands query and delegates to the pool.
func (p *Pool) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()
	return p.db.QueryRowContext(ctx, p.Expand(query), args...)
}

// ExecContext expands query and delegates to the pool.
func (p *Pool) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()
	return p.db.ExecContext(ctx, p.Expand(query), args...)
}

// Tx is a transaction handle that also expands {{tables.*}} placeholders.
type Tx struct {
	tx     *sql.Tx
	tables map[string]string
}

func (t *Tx) expand(query string) string {
	return (&Pool{tables: t.tables}).Expand(query)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.expand(query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.expand(query), args...)
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.expand(query), args...)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Row locks taken inside fn must follow the fixed
// acquisition order from spec.md §5: project → repo → workspace → claim →
// outbox, to avoid deadlocks with concurrent handlers.
func (p *Pool) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx, tables: p.tables}

	defer func() {
		if r := recover(); r != nil {
			sqlTx.Rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), used by callers to translate DB errors into
// 409 Conflict per spec.md §7.
func IsUniqueViolation(err error) bool {
	return pqErrorCode(err) == "23505"
}
