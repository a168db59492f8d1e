// reconcile 扫描支付与出席记录之间的孤儿数据。
// 补偿失败会留下单边记录（有支付没出席，或反过来），此工具把它们找出来
// 供人工对账，可一次性运行，也可用 --cron 定时跑。
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/plazmica10/fitness-center/pkg/health"
	commonredis "github.com/plazmica10/fitness-center/pkg/redis"
)

const (
	orphanedPaymentsQuery = `
SELECT p.id, p.member_id, p.class_id, p.transaction_id
FROM fitness_ops.payments p
LEFT JOIN fitness_ops.attendances a
    ON a.member_id = p.member_id AND a.class_id = p.class_id AND a.status != 'cancelled'
WHERE a.id IS NULL
ORDER BY p.created_at_ms ASC;
`
	orphanedAttendancesQuery = `
SELECT a.id, a.member_id, a.class_id, a.transaction_id
FROM fitness_ops.attendances a
LEFT JOIN fitness_ops.payments p
    ON p.member_id = a.member_id AND p.class_id = a.class_id
WHERE a.status != 'cancelled' AND p.id IS NULL
ORDER BY a.created_at_ms ASC;
`
	recordCountQuery = `
SELECT
    (SELECT COUNT(*) FROM fitness_ops.payments),
    (SELECT COUNT(*) FROM fitness_ops.attendances);
`
)

type reconcileConfig struct {
	DBURL      string
	Verbose    bool
	Alert      bool
	ReportPath string
	Cron       string
	RedisAddr  string
	LockTTL    time.Duration
}

type orphan struct {
	ID            string `json:"id"`
	MemberID      string `json:"memberId"`
	ClassID       string `json:"classId"`
	TransactionID string `json:"transactionId"`
	Kind          string `json:"kind"` // payment_without_attendance | attendance_without_payment
}

var (
	runCLIFunc = runCLI
	exitFunc   = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runCLIFunc(ctx, os.Args[1:], os.Stdout, os.Stderr, func(dsn string) (*sql.DB, error) {
		return sql.Open("postgres", dsn)
	})
	exitFunc(code)
}

func parseFlags(args []string) (reconcileConfig, error) {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg reconcileConfig
	fs.StringVar(&cfg.DBURL, "db-url", "", "PostgreSQL connection string")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "show detailed progress")
	fs.BoolVar(&cfg.Alert, "alert", true, "return non-zero exit code on orphaned records")
	fs.StringVar(&cfg.ReportPath, "report", "", "write detailed report to file")
	fs.StringVar(&cfg.Cron, "cron", "", "cron expression for scheduled runs")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the run lock (skip overlapping runs)")
	fs.DurationVar(&cfg.LockTTL, "lock-ttl", 5*time.Minute, "run lock TTL")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.DBURL) == "" {
		return cfg, errors.New("missing required --db-url")
	}
	return cfg, nil
}

func runCLI(ctx context.Context, args []string, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	if strings.TrimSpace(cfg.Cron) != "" {
		return runScheduled(ctx, cfg, out, errOut, opener)
	}
	return runOnce(ctx, cfg, out, errOut, opener)
}

func runOnce(ctx context.Context, cfg reconcileConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	if cfg.RedisAddr != "" {
		release, acquired, err := acquireRunLock(ctx, cfg)
		if err != nil {
			fmt.Fprintf(errOut, "run lock error: %v\n", err)
			return 2
		}
		if !acquired {
			fmt.Fprintln(out, "another reconcile run holds the lock, skipping")
			return 0
		}
		defer release()
	}

	db, err := opener(cfg.DBURL)
	if err != nil {
		fmt.Fprintf(errOut, "failed to connect to database: %v\n", err)
		return 2
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		fmt.Fprintf(errOut, "failed to ping database: %v\n", err)
		return 2
	}

	code, err := runWithDB(ctx, db, cfg, out, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		if code == 0 {
			code = 2
		}
	}
	return code
}

func runScheduled(ctx context.Context, cfg reconcileConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	if cfg.Verbose {
		fmt.Fprintln(out, "Starting scheduled reconcile...")
	}

	scheduledCfg := cfg
	scheduledCfg.Alert = false

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		fmt.Fprintf(errOut, "invalid cron expression: %v\n", err)
		return 2
	}

	if code := runOnce(ctx, scheduledCfg, out, errOut, opener); code == 2 {
		return code
	}

	var monitor health.LoopMonitor
	monitor.Tick()
	now := time.Now()
	interval := schedule.Next(now).Sub(now)

	c := cron.New(cron.WithParser(parser))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if cfg.Verbose {
			fmt.Fprintln(out, "Running scheduled reconcile...")
		}
		code := runOnce(ctx, scheduledCfg, out, errOut, opener)
		if code != 0 {
			monitor.SetError(fmt.Errorf("scheduled reconcile exited with code %d", code))
			fmt.Fprintf(errOut, "scheduled reconcile exited with code %d\n", code)
			return
		}
		monitor.Tick()
	}))

	c.Start()
	<-ctx.Done()
	c.Stop()

	if ok, age, lastErr := monitor.Healthy(time.Now(), 2*interval); !ok {
		fmt.Fprintf(errOut, "last successful run was %s ago (last error: %s)\n", age.Round(time.Second), lastErr)
	}
	return 0
}

func acquireRunLock(ctx context.Context, cfg reconcileConfig) (release func(), acquired bool, err error) {
	client, err := commonredis.NewClient(&commonredis.Config{
		Addr:        cfg.RedisAddr,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, false, err
	}

	lock := commonredis.NewLock(client.Client, "fitness:reconcile:lock", fmt.Sprintf("run-%d", time.Now().UnixNano()), cfg.LockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		client.Close()
		return nil, false, err
	}
	if !ok {
		client.Close()
		return nil, false, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lock.Release(releaseCtx)
		client.Close()
	}, true, nil
}

func runWithDB(ctx context.Context, db *sql.DB, cfg reconcileConfig, out, errOut io.Writer) (int, error) {
	if cfg.Verbose {
		fmt.Fprintln(out, "Starting orphan checks...")
	}

	paymentCount, attendanceCount, err := fetchCounts(ctx, db)
	if err != nil {
		return 2, fmt.Errorf("failed to count records: %w", err)
	}

	if cfg.Verbose {
		fmt.Fprintln(out, "Checking payments without attendance...")
	}
	orphanedPayments, err := fetchOrphans(ctx, db, orphanedPaymentsQuery, "payment_without_attendance")
	if err != nil {
		return 2, fmt.Errorf("failed to query orphaned payments: %w", err)
	}

	if cfg.Verbose {
		fmt.Fprintln(out, "Checking attendances without payment...")
	}
	orphanedAttendances, err := fetchOrphans(ctx, db, orphanedAttendancesQuery, "attendance_without_payment")
	if err != nil {
		return 2, fmt.Errorf("failed to query orphaned attendances: %w", err)
	}

	orphans := append(orphanedPayments, orphanedAttendances...)

	report := buildReport(paymentCount, attendanceCount, orphans)
	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, report); err != nil {
			return 2, fmt.Errorf("failed to write report: %w", err)
		}
	}

	if len(orphans) == 0 {
		fmt.Fprintf(out, "✓ Reconcile passed: %d payments, %d attendances checked\n", paymentCount, attendanceCount)
		return 0, nil
	}

	for _, o := range orphans {
		fmt.Fprintf(errOut, "✗ Orphan found: id=%s, member=%s, class=%s, tx=%s, kind=%s\n",
			o.ID, o.MemberID, o.ClassID, o.TransactionID, o.Kind)
	}

	if cfg.Alert {
		return 1, nil
	}
	return 0, nil
}

type reconcileReport struct {
	RunAt           string   `json:"runAt"`
	PaymentCount    int64    `json:"paymentCount"`
	AttendanceCount int64    `json:"attendanceCount"`
	OrphanCount     int      `json:"orphanCount"`
	Orphans         []orphan `json:"orphans"`
}

func buildReport(paymentCount, attendanceCount int64, orphans []orphan) reconcileReport {
	return reconcileReport{
		RunAt:           time.Now().UTC().Format(time.RFC3339),
		PaymentCount:    paymentCount,
		AttendanceCount: attendanceCount,
		OrphanCount:     len(orphans),
		Orphans:         orphans,
	}
}

func writeReport(path string, report reconcileReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func fetchCounts(ctx context.Context, db *sql.DB) (int64, int64, error) {
	var payments, attendances int64
	if err := db.QueryRowContext(ctx, recordCountQuery).Scan(&payments, &attendances); err != nil {
		return 0, 0, err
	}
	return payments, attendances, nil
}

func fetchOrphans(ctx context.Context, db *sql.DB, query, kind string) ([]orphan, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []orphan
	for rows.Next() {
		var o orphan
		var txID sql.NullString
		if err := rows.Scan(&o.ID, &o.MemberID, &o.ClassID, &txID); err != nil {
			return nil, err
		}
		o.TransactionID = txID.String
		o.Kind = kind
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
