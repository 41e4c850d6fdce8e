// Package integration runs the EVV services against a real PostgreSQL.
// Each test migrates its own schema, so tests can run in parallel.
package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/careconnect/evv/internal/domain/audit"
	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/domain/offline"
	"github.com/careconnect/evv/internal/domain/patient"
	"github.com/careconnect/evv/internal/domain/schedule"
	"github.com/careconnect/evv/internal/domain/submission"
	"github.com/careconnect/evv/internal/domain/visit"
	"github.com/careconnect/evv/internal/platform/db"
	"github.com/careconnect/evv/migrations"
)

var connStr string

func TestMain(m *testing.M) {
	if _, err := exec.LookPath("docker"); err != nil {
		fmt.Fprintln(os.Stderr, "docker not found, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()
	cs, cleanup, err := startPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}
	connStr = cs

	code := m.Run()
	cleanup()
	os.Exit(code)
}

// newSchema migrates a fresh schema and returns a pool whose connections
// resolve unqualified table names to it.
func newSchema(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := "evv_" + strings.ReplaceAll(uuid.NewString()[:13], "-", "")

	admin, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 2, MinConns: 1})
	if err != nil {
		t.Fatalf("admin pool: %v", err)
	}
	if _, err := db.NewMigrator(admin, migrations.FS).Up(ctx, schema); err != nil {
		admin.Close()
		t.Fatalf("migrate %s: %v", schema, err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr + "&search_path=" + schema, MaxConns: 8, MinConns: 1})
	if err != nil {
		admin.Close()
		t.Fatalf("schema pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if _, err := admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})
	return pool
}

// stack is the set of services wired to one schema.
type stack struct {
	pool        *pgxpool.Pool
	audit       *audit.Logger
	records     *visit.Service
	corrections *visit.CorrectionService
	outbox      *submission.Outbox
	queue       *offline.Queue
	router      *submission.Router
}

func newStack(t *testing.T) *stack {
	t.Helper()
	pool := newSchema(t)
	log := zerolog.Nop()

	s := &stack{pool: pool, router: submission.NewRouter(nil)}
	s.audit = audit.NewLogger(audit.NewRepoPG(pool), log, nil)
	s.outbox = submission.NewOutbox(submission.NewRepoPG(pool), s.router, submission.WithAudit(s.audit))
	s.records = visit.NewService(
		visit.NewRecordRepoPG(pool),
		visit.NewCorrectionRepoPG(pool),
		patient.NewRepoPG(pool),
		s.router,
		visit.WithTransactor(db.NewTransactor(pool)),
		visit.WithAudit(s.audit),
		visit.WithLocationResolver(location.NewResolver()),
		visit.WithVisitCompleter(schedule.NewRepoPG(pool)),
		visit.WithApprovalListener(s.outbox),
	)
	s.corrections = visit.NewCorrectionService(s.records)
	s.queue = offline.NewQueue(offline.NewRepoPG(pool), s.router, offline.WithAudit(s.audit))
	return s
}

func (s *stack) seedPatient(t *testing.T, first, last, state string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO patient (id, first_name, last_name, address_line1, city, state, zip)
		 VALUES ($1, $2, $3, '1 Main St', 'Springfield', $4, '20001')`,
		id, first, last, state)
	if err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	return id
}

func ptrFloat(f float64) *float64 { return &f }
