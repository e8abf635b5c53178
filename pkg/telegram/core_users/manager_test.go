package core_users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"corecu_go/models"
	"corecu_go/pkg/storage"
	"corecu_go/pkg/telegram/scanner"
)

type fakeResolver struct {
	info  models.PeerInfo
	err   error
	calls int
}

func (f *fakeResolver) ResolvePeer(ctx context.Context, identifier string) (models.PeerInfo, error) {
	f.calls++
	if f.err != nil {
		return models.PeerInfo{}, f.err
	}
	info := f.info
	info.Channel.Username = strings.TrimPrefix(identifier, "@")
	return info, nil
}

type fakePipeline struct {
	mu      sync.Mutex
	calls   int
	windows []scanner.Window
	run     func(ctx context.Context) (models.EngagementReport, error)
}

func (f *fakePipeline) Run(ctx context.Context, target models.PeerInfo, window scanner.Window) (models.EngagementReport, error) {
	f.mu.Lock()
	f.calls++
	f.windows = append(f.windows, window)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx)
	}
	return models.EngagementReport{Type: models.ReportOK, Items: []models.ReportItem{{AuthorID: 1, CommentCount: 2, PostCount: 1}}}, nil
}

// ctxCheckingStore отказывает в записи, если контекст уже отменён.
type ctxCheckingStore struct {
	*storage.MemoryRunStore
}

func (s ctxCheckingStore) FinishRun(ctx context.Context, id string, status models.RunStatus, errText *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryRunStore.FinishRun(ctx, id, status, errText)
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(store RunStore) (*Manager, *fakeResolver, *fakePipeline) {
	res := &fakeResolver{info: models.PeerInfo{Channel: models.Peer{ID: 100}, Discussion: models.Peer{ID: 200}}}
	pipe := &fakePipeline{}
	m := NewManager(res, pipe, store, Config{}, nil, nil)
	m.Now = func() time.Time { return testNow }
	return m, res, pipe
}

func startReq() StartRequest {
	return StartRequest{ActorID: 42, Channel: "@chan", Period: "14d"}
}

func TestStartSuccess(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, pipe := newTestManager(store)

	res, err := m.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Outcome != OutcomeSuccess || res.Report == nil || res.RunID == "" {
		t.Fatalf("неверный результат: %+v", res)
	}
	runs := store.Runs()
	if len(runs) != 1 || runs[0].Status != models.RunSuccess || runs[0].ScopeKey != "100:14d" {
		t.Fatalf("неверные запуски: %+v", runs)
	}
	w := pipe.windows[0]
	if !w.To.Equal(testNow) || !w.From.Equal(testNow.Add(-14*24*time.Hour)) {
		t.Fatalf("неверное окно: %+v", w)
	}
}

func TestStartValidationCreatesNoRun(t *testing.T) {
	cases := []struct {
		name string
		req  StartRequest
		err  error
	}{
		{"период", StartRequest{ActorID: 1, Channel: "@chan", Period: "week"}, nil},
		{"период вне диапазона", StartRequest{ActorID: 1, Channel: "@chan", Period: "0d"}, nil},
		{"без @", StartRequest{ActorID: 1, Channel: "chan", Period: "14d"}, nil},
		{"ссылка", StartRequest{ActorID: 1, Channel: "@t.me/chan", Period: "14d"}, nil},
		{"не канал", startReq(), models.ErrNotBroadcast},
		{"без обсуждения", startReq(), models.ErrNoDiscussion},
		{"не найден", startReq(), models.ErrPeerNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := storage.NewMemoryRunStore()
			m, res, pipe := newTestManager(store)
			res.err = tc.err

			_, err := m.Start(context.Background(), tc.req)
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Message == "" {
				t.Fatalf("ожидалась ValidationError, получено %v", err)
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("ожидалась обёртка над %v, получено %v", tc.err, err)
			}
			if len(store.Runs()) != 0 || pipe.calls != 0 {
				t.Fatal("при ошибке проверки не должно быть запусков")
			}
		})
	}
}

func TestStartResolverTransportErrorIsNotValidation(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, res, _ := newTestManager(store)
	res.err = errors.New("connection reset")

	_, err := m.Start(context.Background(), startReq())
	var vErr *ValidationError
	if !errors.Is(err, ErrResolve) || errors.As(err, &vErr) {
		t.Fatalf("ожидалась ErrResolve, получено %v", err)
	}
	if len(store.Runs()) != 0 {
		t.Fatal("запуск не должен создаваться")
	}
}

func TestStartLimitedAfterSuccess(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, pipe := newTestManager(store)
	if _, err := m.Start(context.Background(), startReq()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	m.Now = func() time.Time { return testNow.Add(22*time.Hour + 55*time.Minute) }
	res, err := m.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Outcome != OutcomeLimited {
		t.Fatalf("ожидался limited, получено %s", res.Outcome)
	}
	if res.NextAllowedAt == nil || !res.NextAllowedAt.Equal(testNow.Add(24*time.Hour)) {
		t.Fatalf("неверное время следующего запуска: %v", res.NextAllowedAt)
	}
	if !strings.Contains(res.Message, "1ч 5м") {
		t.Fatalf("в сообщении нет оставшегося времени: %q", res.Message)
	}
	if !strings.Contains(res.Message, "по этому каналу за этот период") {
		t.Fatalf("сообщение не называет область лимита: %q", res.Message)
	}
	if pipe.calls != 1 || len(store.Runs()) != 1 {
		t.Fatal("отказ не должен создавать запуск")
	}

	m.Now = func() time.Time { return testNow.Add(24 * time.Hour) }
	res, err = m.Start(context.Background(), startReq())
	if err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("после окна ожидался успех: %+v, %v", res, err)
	}
}

func TestStartPeriodSpellingsShareLimit(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, pipe := newTestManager(store)
	ctx := context.Background()
	if _, err := m.Start(ctx, startReq()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	for _, period := range []string{"014d", " 14d", "14d "} {
		req := startReq()
		req.Period = period
		res, err := m.Start(ctx, req)
		if err != nil {
			t.Fatalf("%q: неожиданная ошибка: %v", period, err)
		}
		if res.Outcome != OutcomeLimited {
			t.Fatalf("%q: ожидался limited, получено %s", period, res.Outcome)
		}
	}
	runs := store.Runs()
	if pipe.calls != 1 || len(runs) != 1 || runs[0].Period != "14d" {
		t.Fatalf("ожидался один запуск с периодом 14d: %+v", runs)
	}
}

func TestStartScopesAreIndependent(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, _ := newTestManager(store)
	ctx := context.Background()
	if _, err := m.Start(ctx, startReq()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	other := startReq()
	other.Period = "90d"
	if res, err := m.Start(ctx, other); err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("другой период должен запускаться: %+v, %v", res, err)
	}
	otherActor := startReq()
	otherActor.ActorID = 43
	if res, err := m.Start(ctx, otherActor); err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("другой пользователь должен запускаться: %+v, %v", res, err)
	}
}

func TestStartFailedRunDoesNotConsumeQuota(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, pipe := newTestManager(store)
	boom := errors.New("FLOOD_WAIT exhausted")
	pipe.run = func(ctx context.Context) (models.EngagementReport, error) {
		return models.EngagementReport{}, boom
	}

	res, err := m.Start(context.Background(), startReq())
	if !errors.Is(err, boom) || res.Outcome != OutcomeFailed || res.RunID == "" {
		t.Fatalf("ожидался failed: %+v, %v", res, err)
	}
	runs := store.Runs()
	if runs[0].Status != models.RunFailed || runs[0].Error == nil || *runs[0].Error != boom.Error() {
		t.Fatalf("неверная запись: %+v", runs[0])
	}

	pipe.run = nil
	m.Now = func() time.Time { return testNow.Add(time.Minute) }
	res, err = m.Start(context.Background(), startReq())
	if err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("после failed повтор должен быть разрешён: %+v, %v", res, err)
	}
}

func TestStartErrorTextTruncated(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, pipe := newTestManager(store)
	pipe.run = func(ctx context.Context) (models.EngagementReport, error) {
		return models.EngagementReport{}, errors.New(strings.Repeat("я", 5000))
	}
	_, _ = m.Start(context.Background(), startReq())
	got := store.Runs()[0].Error
	if got == nil || len([]rune(*got)) != DefaultErrorLimit {
		t.Fatalf("ожидалось %d символов", DefaultErrorLimit)
	}
}

func TestStartPanicRecordedAsFailed(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, pipe := newTestManager(store)
	pipe.run = func(ctx context.Context) (models.EngagementReport, error) {
		panic("nil map")
	}
	res, err := m.Start(context.Background(), startReq())
	if err == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("ожидался failed: %+v, %v", res, err)
	}
	if store.Runs()[0].Status != models.RunFailed {
		t.Fatalf("паника должна записываться как failed: %+v", store.Runs()[0])
	}
}

func TestStartCancelledStillFinishes(t *testing.T) {
	store := ctxCheckingStore{storage.NewMemoryRunStore()}
	m, _, pipe := newTestManager(store)
	ctx, cancel := context.WithCancel(context.Background())
	pipe.run = func(ctx context.Context) (models.EngagementReport, error) {
		cancel()
		return models.EngagementReport{}, ctx.Err()
	}

	res, err := m.Start(ctx, startReq())
	if !errors.Is(err, context.Canceled) || res.Outcome != OutcomeFailed {
		t.Fatalf("ожидалась отмена: %+v, %v", res, err)
	}
	if got := store.Runs()[0].Status; got != models.RunFailed {
		t.Fatalf("статус должен быть записан несмотря на отмену, получено %s", got)
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, _ := newTestManager(store)
	ctx := context.Background()
	_, _ = store.CreateRun(ctx, models.RunRecord{ActorID: 42, ScopeKey: "100:14d", CreatedAt: testNow.Add(-5 * time.Minute), Status: models.RunRunning})

	res, err := m.Start(ctx, startReq())
	if err != nil || res.Outcome != OutcomeAlreadyRunning {
		t.Fatalf("ожидался already-running: %+v, %v", res, err)
	}

	// через 20 минут запись считается брошенной, но лимит по ней ещё действует
	m.Now = func() time.Time { return testNow.Add(30 * time.Minute) }
	res, err = m.Start(ctx, startReq())
	if err != nil || res.Outcome != OutcomeLimited {
		t.Fatalf("ожидался limited: %+v, %v", res, err)
	}
}

func TestStartConcurrentSingleRun(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, pipe := newTestManager(store)
	release := make(chan struct{})
	pipe.run = func(ctx context.Context) (models.EngagementReport, error) {
		<-release
		return models.EngagementReport{Type: models.ReportNoData}, nil
	}

	const n = 6
	results := make(chan Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Start(context.Background(), startReq())
			if err != nil {
				t.Errorf("неожиданная ошибка: %v", err)
			}
			results <- res.Outcome
		}()
	}
	// ждём, пока все, кроме одного, получат отказ
	got := map[Outcome]int{}
	for i := 0; i < n-1; i++ {
		got[<-results]++
	}
	close(release)
	wg.Wait()
	got[<-results]++

	if got[OutcomeSuccess] != 1 || got[OutcomeAlreadyRunning] != n-1 {
		t.Fatalf("неверное распределение исходов: %v", got)
	}
	if len(store.Runs()) != 1 {
		t.Fatalf("ожидался один запуск, получено %d", len(store.Runs()))
	}
}

func TestLatest(t *testing.T) {
	store := storage.NewMemoryRunStore()
	m, _, _ := newTestManager(store)
	ctx := context.Background()

	run, err := m.Latest(ctx, 42, "@chan", "14d")
	if err != nil || run != nil {
		t.Fatalf("ожидался nil: %+v, %v", run, err)
	}
	res, _ := m.Start(ctx, startReq())
	run, err = m.Latest(ctx, 42, "@chan", "14d")
	if err != nil || run == nil || run.ID != res.RunID {
		t.Fatalf("ожидался запуск %s: %+v, %v", res.RunID, run, err)
	}
}

func TestFormatWait(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "1м"},
		{30 * time.Second, "1м"},
		{59 * time.Minute, "59м"},
		{time.Hour, "1ч"},
		{time.Hour + 30*time.Second, "1ч 1м"},
		{23*time.Hour + 59*time.Minute, "23ч 59м"},
		{24 * time.Hour, "24ч"},
	}
	for _, tc := range cases {
		if got := FormatWait(tc.d); got != tc.want {
			t.Errorf("FormatWait(%v) = %q, ожидалось %q", tc.d, got, tc.want)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	if d, err := ParsePeriod("14d", 365); err != nil || d != 14 {
		t.Fatalf("14d: %d, %v", d, err)
	}
	if d, err := ParsePeriod(" 90d ", 365); err != nil || d != 90 {
		t.Fatalf("90d: %d, %v", d, err)
	}
	if d, err := ParsePeriod("014d", 365); err != nil || PeriodKey(d) != "14d" {
		t.Fatalf("014d: %d, %v", d, err)
	}
	for _, p := range []string{"", "d", "14", "-1d", "366d", "0d", "1000d"} {
		if _, err := ParsePeriod(p, 365); err == nil {
			t.Errorf("%q: ожидалась ошибка", p)
		}
	}
}
