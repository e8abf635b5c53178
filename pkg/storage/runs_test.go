package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"corecu_go/models"
)

type runsTestDriver struct{}

type runsTestConn struct{}

type runsTestRows struct {
	columns []string
	data    [][]driver.Value
	idx     int
}

type runsTestResult struct{ affected int64 }

// runsState имитирует таблицу engagement_runs и журнал запросов.
var runsState struct {
	sync.Mutex
	latest     []driver.Value
	affected   int64
	failUnlock bool
	closed     int
	queries    []string
	args       [][]driver.NamedValue
}

func resetRunsState() {
	runsState.Lock()
	defer runsState.Unlock()
	runsState.latest = nil
	runsState.affected = 1
	runsState.failUnlock = false
	runsState.closed = 0
	runsState.queries = nil
	runsState.args = nil
}

func recordQuery(query string, args []driver.NamedValue) {
	runsState.Lock()
	defer runsState.Unlock()
	runsState.queries = append(runsState.queries, strings.Join(strings.Fields(query), " "))
	runsState.args = append(runsState.args, args)
}

func (runsTestDriver) Open(name string) (driver.Conn, error) { return &runsTestConn{}, nil }

func (c *runsTestConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("not implemented")
}
func (c *runsTestConn) Close() error {
	runsState.Lock()
	defer runsState.Unlock()
	runsState.closed++
	return nil
}

func (c *runsTestConn) Begin() (driver.Tx, error) { return nil, errors.New("not implemented") }

func (c *runsTestConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	recordQuery(query, args)
	if !strings.Contains(query, "FROM engagement_runs") {
		return nil, errors.New("unexpected query")
	}
	runsState.Lock()
	defer runsState.Unlock()
	rows := &runsTestRows{columns: []string{"id", "actor_id", "scope_key", "channel_username", "period", "started_at", "created_at", "status", "error"}}
	if runsState.latest != nil {
		rows.data = [][]driver.Value{runsState.latest}
	}
	return rows, nil
}

func (c *runsTestConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	recordQuery(query, args)
	runsState.Lock()
	defer runsState.Unlock()
	if runsState.failUnlock && strings.Contains(query, "pg_advisory_unlock") {
		return nil, errors.New("connection lost")
	}
	if strings.HasPrefix(strings.TrimSpace(query), "UPDATE") {
		return runsTestResult{affected: runsState.affected}, nil
	}
	return runsTestResult{affected: 1}, nil
}

func (r runsTestResult) LastInsertId() (int64, error) { return 0, nil }
func (r runsTestResult) RowsAffected() (int64, error) { return r.affected, nil }

func (r *runsTestRows) Columns() []string { return r.columns }
func (r *runsTestRows) Close() error      { return nil }
func (r *runsTestRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.idx])
	r.idx++
	return nil
}

func init() { sql.Register("runsDummy", runsTestDriver{}) }

func openRunsDB(t *testing.T) *DB {
	t.Helper()
	resetRunsState()
	conn, err := sql.Open("runsDummy", "")
	if err != nil {
		t.Fatalf("не удалось открыть мок БД: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewDB(conn)
}

func TestLatestRunEmpty(t *testing.T) {
	db := openRunsDB(t)
	run, err := db.LatestRun(context.Background(), 1, "10:14d")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if run != nil {
		t.Fatalf("ожидался nil, получено %+v", run)
	}
}

func TestLatestRunScansRow(t *testing.T) {
	db := openRunsDB(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	runsState.latest = []driver.Value{"run-1", int64(7), "10:14d", "@chan", "14d", created, created, "failed", "boom"}

	run, err := db.LatestRun(context.Background(), 7, "10:14d")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if run == nil || run.ID != "run-1" || run.Status != models.RunFailed || !run.CreatedAt.Equal(created) {
		t.Fatalf("неверная запись: %+v", run)
	}
	if run.Error == nil || *run.Error != "boom" {
		t.Fatalf("неверный текст ошибки: %v", run.Error)
	}
	if got := runsState.args[0]; got[0].Value != int64(7) || got[1].Value != "10:14d" {
		t.Fatalf("неверные аргументы запроса: %+v", got)
	}
}

func TestCreateRunAssignsID(t *testing.T) {
	db := openRunsDB(t)
	now := time.Now()
	run, err := db.CreateRun(context.Background(), models.RunRecord{ActorID: 1, ScopeKey: "s", StartedAt: now, CreatedAt: now})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if run.ID == "" || run.Status != models.RunRunning {
		t.Fatalf("ожидались id и статус running: %+v", run)
	}
	q := runsState.queries[0]
	if !strings.HasPrefix(q, "INSERT INTO engagement_runs") {
		t.Fatalf("неожиданный запрос: %s", q)
	}
	if runsState.args[0][7].Value != "running" {
		t.Fatalf("статус передан неверно: %v", runsState.args[0][7].Value)
	}
}

func TestFinishRunOnlyFromRunning(t *testing.T) {
	db := openRunsDB(t)
	text := "ошибка"
	if err := db.FinishRun(context.Background(), "run-1", models.RunFailed, &text); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.Contains(runsState.queries[0], "AND status = 'running'") {
		t.Fatalf("обновление должно быть условным: %s", runsState.queries[0])
	}

	runsState.affected = 0
	if err := db.FinishRun(context.Background(), "run-1", models.RunSuccess, nil); !errors.Is(err, ErrRunNotRunning) {
		t.Fatalf("ожидалась ErrRunNotRunning, получено %v", err)
	}

	if err := db.FinishRun(context.Background(), "run-1", models.RunRunning, nil); err == nil {
		t.Fatal("ожидалась ошибка для нетерминального статуса")
	}
}

func TestPostgresLockUnlock(t *testing.T) {
	db := openRunsDB(t)
	unlock, err := db.Lock(context.Background(), 3, "10:90d")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	unlock()
	if len(runsState.queries) != 2 {
		t.Fatalf("ожидалось 2 запроса, получено %d", len(runsState.queries))
	}
	if !strings.Contains(runsState.queries[0], "pg_advisory_lock") || !strings.Contains(runsState.queries[1], "pg_advisory_unlock") {
		t.Fatalf("неверные запросы блокировки: %v", runsState.queries)
	}
	if runsState.args[0][0].Value != "3/10:90d" {
		t.Fatalf("неверный ключ блокировки: %v", runsState.args[0][0].Value)
	}
}

func TestPostgresUnlockFailureDropsConnection(t *testing.T) {
	db := openRunsDB(t)

	unlock, err := db.Lock(context.Background(), 3, "10:90d")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	unlock()
	runsState.Lock()
	closed := runsState.closed
	runsState.Unlock()
	if closed != 0 {
		t.Fatalf("после успешного unlock соединение должно вернуться в пул, закрыто %d", closed)
	}

	runsState.Lock()
	runsState.failUnlock = true
	runsState.Unlock()
	unlock, err = db.Lock(context.Background(), 3, "10:90d")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	unlock()
	runsState.Lock()
	closed = runsState.closed
	runsState.Unlock()
	if closed != 1 {
		t.Fatalf("соединение с невысвобожденной блокировкой должно быть закрыто, закрыто %d", closed)
	}
}
