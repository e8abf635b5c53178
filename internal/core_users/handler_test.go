package core_users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"corecu_go/models"
	core "corecu_go/pkg/telegram/core_users"

	"github.com/gin-gonic/gin"
)

type fakeRunner struct {
	res    core.StartResult
	err    error
	req    core.StartRequest
	latest *models.RunRecord
}

func (f *fakeRunner) Start(ctx context.Context, req core.StartRequest) (core.StartResult, error) {
	f.req = req
	return f.res, f.err
}

func (f *fakeRunner) Latest(ctx context.Context, actorID int64, channel, period string) (*models.RunRecord, error) {
	return f.latest, f.err
}

func serve(runner Runner, method, target string, body any) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r.Group("/core-users"), runner, nil)

	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRunStatusMapping(t *testing.T) {
	next := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		runner *fakeRunner
		want   int
	}{
		{"успех", &fakeRunner{res: core.StartResult{Outcome: core.OutcomeSuccess, RunID: "r1", Report: &models.EngagementReport{Type: models.ReportNoData}}}, http.StatusOK},
		{"лимит", &fakeRunner{res: core.StartResult{Outcome: core.OutcomeLimited, Message: "подождите", NextAllowedAt: &next}}, http.StatusTooManyRequests},
		{"уже идёт", &fakeRunner{res: core.StartResult{Outcome: core.OutcomeAlreadyRunning, Message: "идёт"}}, http.StatusConflict},
		{"проверка", &fakeRunner{err: &core.ValidationError{Message: "⚠️ формат"}}, http.StatusBadRequest},
		{"ошибка запуска", &fakeRunner{res: core.StartResult{Outcome: core.OutcomeFailed, RunID: "r2", Message: "❌"}, err: errors.New("flood")}, http.StatusBadGateway},
		{"telegram недоступен", &fakeRunner{err: fmt.Errorf("%w @c: %w", core.ErrResolve, errors.New("timeout"))}, http.StatusBadGateway},
		{"хранилище", &fakeRunner{err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(tc.runner, http.MethodPost, "/core-users/run", gin.H{"actor_id": 1, "channel": "@chan", "period": "90d"})
			if w.Code != tc.want {
				t.Fatalf("ожидался статус %d, получен %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRunDefaultsPeriodAndReturnsBody(t *testing.T) {
	runner := &fakeRunner{res: core.StartResult{Outcome: core.OutcomeSuccess, RunID: "r1", Report: &models.EngagementReport{Type: models.ReportOK}}}
	w := serve(runner, http.MethodPost, "/core-users/run", gin.H{"actor_id": 7, "channel": "@chan"})
	if w.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", w.Code)
	}
	if runner.req.Period != "14d" || runner.req.ActorID != 7 {
		t.Fatalf("неверный запрос к менеджеру: %+v", runner.req)
	}
	var body struct {
		RunID  string                  `json:"run_id"`
		Report models.EngagementReport `json:"report"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("неверный JSON: %v", err)
	}
	if body.RunID != "r1" || body.Report.Type != models.ReportOK {
		t.Fatalf("неверное тело ответа: %s", w.Body.String())
	}
}

func TestRunBadRequest(t *testing.T) {
	w := serve(&fakeRunner{}, http.MethodPost, "/core-users/run", gin.H{"channel": "@chan"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("без actor_id ожидался 400, получен %d", w.Code)
	}
}

func TestLatestRun(t *testing.T) {
	runner := &fakeRunner{latest: &models.RunRecord{ID: "r1", Status: models.RunSuccess}}
	w := serve(runner, http.MethodGet, "/core-users/runs/latest?actor_id=1&channel=@chan", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", w.Code)
	}

	w = serve(&fakeRunner{}, http.MethodGet, "/core-users/runs/latest?actor_id=1&channel=@chan", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("ожидался 404, получен %d", w.Code)
	}

	w = serve(&fakeRunner{}, http.MethodGet, "/core-users/runs/latest?channel=@chan", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("без actor_id ожидался 400, получен %d", w.Code)
	}
}
