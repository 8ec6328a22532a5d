package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"opsdesk/test/actors"
	"opsdesk/test/chaos"
	"opsdesk/test/infra"
	"opsdesk/test/oracles"
	"opsdesk/workitem"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "owner/reviewer pairs per app instance")
	flItems       = flag.Int("items", 8, "work items seeded before actors start")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

func TestWorkItemConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	shared := *flDSN != "" || os.Getenv(infra.DSNEnv) != ""
	if !shared && !dockerAvailable(ctx) {
		t.Skipf("no docker and neither -dsn nor %s set", infra.DSNEnv)
	}
	pgC, dsn, err := infra.StartPostgres(ctx, *flDSN)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.Open(ctx, dsn, 32, shared)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Two services over one database stand in for two app servers: their
	// in-process locks are independent, so only the store keeps them honest.
	apps := []*workitem.Service{
		workitem.NewService(workitem.NewPGStore(pool), nil).WithLogger(logger),
		workitem.NewService(workitem.NewPGStore(pool), nil).WithLogger(logger),
	}

	const owner, reviewer = "owner-stress", "reviewer-stress"
	items := &actors.Items{}
	for i := 0; i < *flItems; i++ {
		item, err := apps[0].Create(ctx, workitem.CreateParams{OwnerID: owner, ReviewerID: reviewer})
		if err != nil {
			t.Fatalf("seed item %d: %v", i, err)
		}
		items.Add(item.ID)
	}

	stats := &actors.Stats{}
	stop := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range apps {
		g.Go(func() error {
			return actors.Creator(gctx, svc, owner, reviewer, items, 500*time.Millisecond, stop)
		})
		for i := 0; i < *flConcurrency; i++ {
			g.Go(func() error { return actors.Party(gctx, svc, owner, items, stats, stop) })
			g.Go(func() error { return actors.Party(gctx, svc, reviewer, items, stats, stop) })
		}
	}
	if *flChaos {
		go chaos.TerminateRandomBackend(gctx, pool, time.Second, stop)
	}

	deadline := time.After(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			if checkOracles(t, gctx, pool) {
				close(stop)
				_ = g.Wait()
				t.FailNow()
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("actors errored: %v", err)
	}
	if checkOracles(t, ctx, pool) {
		t.FailNow()
	}
	t.Logf("items=%d %s", items.Len(), stats)
	if stats.Applied.Load() == 0 {
		t.Fatal("no transition was applied")
	}
}

// checkOracles reports whether any oracle returned rows. Query errors are
// logged and tolerated because chaos may kill the oracle's own connection.
func checkOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool) bool {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if ctx.Err() == nil {
			t.Logf("oracle query: %v", err)
		}
		return false
	}
	if name == "" {
		return false
	}
	t.Errorf("oracle %s failed, first row: %s", name, row)
	dumpHistory(t, ctx, pool)
	return true
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpHistory(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	rows, err := pool.Query(ctx, `SELECT work_item_id, seq, actor_id, action, from_status, to_status, at
		FROM work_item_history ORDER BY at DESC LIMIT 50`)
	if err != nil {
		t.Logf("dump history: %v", err)
		return
	}
	defer rows.Close()
	cols := rows.FieldDescriptions()
	for rows.Next() {
		vals, _ := rows.Values()
		buf := make([]string, 0, len(vals))
		for i := range vals {
			buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
		}
		t.Logf("%v", buf)
	}
}
