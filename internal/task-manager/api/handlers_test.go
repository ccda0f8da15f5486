package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ai-task-platform/internal/ledger"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/models"
	taskDB "ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/task-manager/engine"
	"ai-task-platform/internal/testutil"
)

const (
	typeEcho     models.TaskTypeKey = "echo"
	typeReviewed models.TaskTypeKey = "reviewed"
)

type echoProcessor struct{}

func (echoProcessor) ValidateInputs(in json.RawMessage) error {
	var probe map[string]any
	if err := json.Unmarshal(in, &probe); err != nil {
		return err
	}
	if _, ok := probe["text"]; !ok {
		return errors.New("text is required")
	}
	return nil
}

func (echoProcessor) Process(_ context.Context, task *taskDB.Task) (any, error) {
	return map[string]any{"echo": string(task.Inputs)}, nil
}

type MockCacheClearer struct {
	mock.Mock
}

func (m *MockCacheClearer) ClearService(ctx context.Context, service string) (int, error) {
	args := m.Called(ctx, service)
	return args.Int(0), args.Error(1)
}

func (m *MockCacheClearer) ClearEndpoint(ctx context.Context, service, endpoint string) (int, error) {
	args := m.Called(ctx, service, endpoint)
	return args.Int(0), args.Error(1)
}

func (m *MockCacheClearer) ClearAll(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type countingPasses struct {
	dispatch     atomic.Int64
	dependencies atomic.Int64
}

func (p *countingPasses) TriggerDispatch()        { p.dispatch.Add(1) }
func (p *countingPasses) TriggerDependencyCheck() { p.dependencies.Add(1) }

type testApp struct {
	router  *route.Engine
	engine  *engine.Engine
	ledger  *ledger.Ledger
	apiLogs *taskDB.APILogStore
	cache   *MockCacheClearer
	passes  *countingPasses
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	gormDB := testutil.NewDB(t)
	log := logger.NewNop()
	l := ledger.New(gormDB, log)
	e := engine.New(taskDB.NewTaskStore(gormDB), l, nil, log, engine.Options{})
	require.NoError(t, e.RegisterTaskType(models.TaskType{Key: typeEcho, Name: "Echo", CreditsCost: 2}))
	require.NoError(t, e.RegisterTaskType(models.TaskType{Key: typeReviewed, Name: "Reviewed", CreditsCost: 1, RequiresApproval: true}))
	require.NoError(t, e.RegisterTaskProcessor(typeEcho, echoProcessor{}))
	require.NoError(t, e.RegisterTaskProcessor(typeReviewed, echoProcessor{}))

	app := &testApp{
		engine:  e,
		ledger:  l,
		apiLogs: taskDB.NewAPILogStore(gormDB),
		cache:   &MockCacheClearer{},
		passes:  &countingPasses{},
	}

	hlog.SetLevel(hlog.LevelFatal)
	h := server.Default(
		server.WithHostPorts("127.0.0.1:0"),
		server.WithExitWaitTime(time.Duration(0)),
	)
	Register(h, Handlers{
		Tasks:   NewTaskHandler(e, log),
		Credits: NewCreditHandler(l, log),
		Admin:   NewAdminHandler(app.cache, app.passes, app.apiLogs, log),
	})
	app.router = h.Engine
	return app
}

func (a *testApp) do(method, url string, payload any) (int, []byte) {
	var body *ut.Body
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}
	}
	w := ut.PerformRequest(a.router, method, url, body, ut.Header{Key: "Content-Type", Value: "application/json"})
	resp := w.Result()
	return resp.StatusCode(), resp.Body()
}

func (a *testApp) createTask(t *testing.T, payload map[string]any) taskDB.Task {
	t.Helper()
	code, body := a.do("POST", "/tasks", payload)
	require.Equal(t, http.StatusCreated, code, string(body))
	var task taskDB.Task
	require.NoError(t, json.Unmarshal(body, &task))
	return task
}

func taskURL(id uint, suffix string) string {
	return "/tasks/" + strconv.FormatUint(uint64(id), 10) + suffix
}

func decodeError(t *testing.T, body []byte) (string, string) {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp["code"], resp["error"]
}

func TestPing(t *testing.T) {
	app := setupTestApp(t)
	code, body := app.do("GET", "/ping", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"pong"}`, string(body))
}

func TestCreateTaskAPI_Valid(t *testing.T) {
	app := setupTestApp(t)
	_, err := app.ledger.Grant(context.Background(), 7, 10, "")
	require.NoError(t, err)

	task := app.createTask(t, map[string]any{
		"user_id":   7,
		"task_type": "echo",
		"title":     "  Say hi  ",
		"inputs":    map[string]any{"text": "hi"},
		"priority":  120,
	})
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, "Say hi", task.Title)
	assert.Equal(t, 100, task.Priority)
	assert.Equal(t, int64(2), task.CreditsCost)

	balance, err := app.ledger.Balance(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestCreateTaskAPI_ErrorMapping(t *testing.T) {
	app := setupTestApp(t)
	_, err := app.ledger.Grant(context.Background(), 1, 1, "")
	require.NoError(t, err)

	cases := []struct {
		name    string
		payload map[string]any
		status  int
		code    string
	}{
		{"missing user", map[string]any{"task_type": "echo", "title": "x", "inputs": map[string]any{"text": "a"}}, http.StatusBadRequest, "invalid_request"},
		{"unknown type", map[string]any{"user_id": 1, "task_type": "nope", "title": "x", "inputs": map[string]any{}}, http.StatusBadRequest, "invalid_task_type"},
		{"empty title", map[string]any{"user_id": 1, "task_type": "echo", "title": " ", "inputs": map[string]any{"text": "a"}}, http.StatusBadRequest, "empty_title"},
		{"inputs not an object", map[string]any{"user_id": 1, "task_type": "echo", "title": "x", "inputs": []int{1}}, http.StatusBadRequest, "invalid_inputs"},
		{"missing dependency", map[string]any{"user_id": 1, "task_type": "reviewed", "title": "x", "inputs": map[string]any{"text": "a"}, "dependencies": []uint{999}}, http.StatusBadRequest, "invalid_dependency"},
		{"insufficient credits", map[string]any{"user_id": 1, "task_type": "echo", "title": "x", "inputs": map[string]any{"text": "a"}}, http.StatusPaymentRequired, "insufficient_credits"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := app.do("POST", "/tasks", tc.payload)
			assert.Equal(t, tc.status, status, string(body))
			code, msg := decodeError(t, body)
			assert.Equal(t, tc.code, code)
			assert.NotEmpty(t, msg)
		})
	}

	tasks, err := app.engine.ListTasks(context.Background(), taskDB.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestGetTaskAPI(t *testing.T) {
	app := setupTestApp(t)
	_, err := app.ledger.Grant(context.Background(), 3, 10, "")
	require.NoError(t, err)
	created := app.createTask(t, map[string]any{"user_id": 3, "task_type": "echo", "title": "t", "inputs": map[string]any{"text": "a"}})

	code, body := app.do("GET", taskURL(created.ID, ""), nil)
	assert.Equal(t, http.StatusOK, code)
	var fetched taskDB.Task
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.ID, fetched.ID)
	assert.JSONEq(t, `{"text":"a"}`, string(fetched.Inputs))

	code, body = app.do("GET", "/tasks/4242", nil)
	assert.Equal(t, http.StatusNotFound, code)
	errCode, _ := decodeError(t, body)
	assert.Equal(t, "task_not_found", errCode)

	code, _ = app.do("GET", "/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListTasksAPI_Filters(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()
	for _, uid := range []uint{1, 2} {
		_, err := app.ledger.Grant(ctx, uid, 20, "")
		require.NoError(t, err)
	}
	app.createTask(t, map[string]any{"user_id": 1, "task_type": "echo", "title": "a", "inputs": map[string]any{"text": "a"}})
	app.createTask(t, map[string]any{"user_id": 1, "task_type": "reviewed", "title": "b", "inputs": map[string]any{"text": "b"}})
	app.createTask(t, map[string]any{"user_id": 2, "task_type": "echo", "title": "c", "inputs": map[string]any{"text": "c"}})

	list := func(query string) []taskDB.Task {
		code, body := app.do("GET", "/tasks"+query, nil)
		require.Equal(t, http.StatusOK, code, string(body))
		var tasks []taskDB.Task
		require.NoError(t, json.Unmarshal(body, &tasks))
		return tasks
	}
	assert.Len(t, list(""), 3)
	assert.Len(t, list("?user_id=1"), 2)
	assert.Len(t, list("?status=approval_required"), 1)
	assert.Len(t, list("?task_type=echo&user_id=2"), 1)
	assert.Len(t, list("?limit=1"), 1)

	code, _ := app.do("GET", "/tasks?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = app.do("GET", "/tasks?user_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApproveAndCancelAPI(t *testing.T) {
	app := setupTestApp(t)
	_, err := app.ledger.Grant(context.Background(), 5, 10, "")
	require.NoError(t, err)
	reviewed := app.createTask(t, map[string]any{"user_id": 5, "task_type": "reviewed", "title": "r", "inputs": map[string]any{"text": "r"}})
	other := app.createTask(t, map[string]any{"user_id": 5, "task_type": "echo", "title": "e", "inputs": map[string]any{"text": "e"}})
	require.Equal(t, models.StatusApprovalRequired, reviewed.Status)

	code, body := app.do("POST", taskURL(reviewed.ID, "/approve"), nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var approved taskDB.Task
	require.NoError(t, json.Unmarshal(body, &approved))
	assert.Equal(t, models.StatusPending, approved.Status)

	code, body = app.do("POST", taskURL(reviewed.ID, "/approve"), nil)
	assert.Equal(t, http.StatusConflict, code)
	errCode, _ := decodeError(t, body)
	assert.Equal(t, "invalid_transition", errCode)

	code, body = app.do("POST", taskURL(other.ID, "/cancel"), nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var canceled taskDB.Task
	require.NoError(t, json.Unmarshal(body, &canceled))
	assert.Equal(t, models.StatusCanceled, canceled.Status)

	code, _ = app.do("POST", taskURL(other.ID, "/cancel"), nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = app.do("POST", "/tasks/999/cancel", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAddDependencyAPI(t *testing.T) {
	app := setupTestApp(t)
	_, err := app.ledger.Grant(context.Background(), 1, 10, "")
	require.NoError(t, err)
	first := app.createTask(t, map[string]any{"user_id": 1, "task_type": "reviewed", "title": "1", "inputs": map[string]any{"text": "1"}})
	second := app.createTask(t, map[string]any{"user_id": 1, "task_type": "reviewed", "title": "2", "inputs": map[string]any{"text": "2"}})

	code, body := app.do("POST", taskURL(second.ID, "/dependencies"), map[string]any{"depends_on_id": first.ID})
	require.Equal(t, http.StatusOK, code, string(body))
	var updated taskDB.Task
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, []uint{first.ID}, updated.DependencyIDs())
	assert.Equal(t, models.StatusWaitingDependency, updated.Status)

	code, body = app.do("POST", taskURL(first.ID, "/dependencies"), map[string]any{"depends_on_id": second.ID})
	assert.Equal(t, http.StatusBadRequest, code)
	errCode, _ := decodeError(t, body)
	assert.Equal(t, "circular_dependency", errCode)

	code, _ = app.do("POST", taskURL(first.ID, "/dependencies"), map[string]any{"depends_on_id": 0})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTaskLogsAndStatsAPI(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()
	_, err := app.ledger.Grant(ctx, 9, 10, "")
	require.NoError(t, err)
	task := app.createTask(t, map[string]any{"user_id": 9, "task_type": "echo", "title": "run me", "inputs": map[string]any{"text": "x"}})
	app.createTask(t, map[string]any{"user_id": 9, "task_type": "reviewed", "title": "wait", "inputs": map[string]any{"text": "y"}})

	n, err := app.engine.ProcessPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	code, body := app.do("GET", taskURL(task.ID, "/logs"), nil)
	require.Equal(t, http.StatusOK, code)
	var logs []taskDB.TaskLog
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.GreaterOrEqual(t, len(logs), 2)
	assert.Equal(t, "Task created", logs[0].Message)

	code, body = app.do("GET", "/stats?user_id=9", nil)
	require.Equal(t, http.StatusOK, code)
	var stats map[string]int64
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, int64(1), stats["completed"])
	assert.Equal(t, int64(1), stats["approval_required"])

	code, _ = app.do("GET", "/tasks/77/logs", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTaskTypesAPI(t *testing.T) {
	app := setupTestApp(t)
	code, body := app.do("GET", "/task-types", nil)
	require.Equal(t, http.StatusOK, code)
	var types []models.TaskType
	require.NoError(t, json.Unmarshal(body, &types))
	require.Len(t, types, 2)
	assert.Equal(t, typeEcho, types[0].Key)
	assert.Equal(t, typeReviewed, types[1].Key)
}

func TestCreditsAPI(t *testing.T) {
	app := setupTestApp(t)

	code, body := app.do("POST", "/users/4/credits", map[string]any{"amount": 15, "credit_type": "bonus"})
	require.Equal(t, http.StatusCreated, code, string(body))
	var granted struct {
		Entry   taskDB.CreditEntry `json:"entry"`
		Balance int64              `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(body, &granted))
	assert.Equal(t, int64(15), granted.Balance)
	assert.Equal(t, models.CreditBonus, granted.Entry.CreditType)

	app.createTask(t, map[string]any{"user_id": 4, "task_type": "echo", "title": "spend", "inputs": map[string]any{"text": "s"}})

	code, body = app.do("GET", "/users/4/credits", nil)
	require.Equal(t, http.StatusOK, code)
	var credits CreditsResponse
	require.NoError(t, json.Unmarshal(body, &credits))
	assert.Equal(t, uint(4), credits.UserID)
	assert.Equal(t, int64(13), credits.Balance)
	require.Len(t, credits.Entries, 2)
	assert.Equal(t, int64(-2), credits.Entries[0].Amount)

	code, _ = app.do("POST", "/users/4/credits", map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = app.do("POST", "/users/4/credits", map[string]any{"amount": 5, "credit_type": "gold"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdminCacheAPI(t *testing.T) {
	app := setupTestApp(t)
	app.cache.On("ClearAll", mock.Anything).Return(4, nil).Once()
	app.cache.On("ClearService", mock.Anything, "openai").Return(2, nil).Once()
	app.cache.On("ClearEndpoint", mock.Anything, "dataforseo", "search_volume").Return(1, nil).Once()
	app.cache.On("ClearService", mock.Anything, "broken").Return(0, errors.New("redis down")).Once()

	code, body := app.do("DELETE", "/admin/cache", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"cleared":4}`, string(body))

	code, body = app.do("DELETE", "/admin/cache?service=openai", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"cleared":2}`, string(body))

	code, body = app.do("DELETE", "/admin/cache?service=dataforseo&endpoint=search_volume", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"cleared":1}`, string(body))

	code, _ = app.do("DELETE", "/admin/cache?endpoint=search_volume", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = app.do("DELETE", "/admin/cache?service=broken", nil)
	assert.Equal(t, http.StatusInternalServerError, code)

	app.cache.AssertExpectations(t)
}

func TestAdminSchedulerAPI(t *testing.T) {
	app := setupTestApp(t)

	code, _ := app.do("POST", "/admin/scheduler/dispatch", nil)
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = app.do("POST", "/admin/scheduler/dependencies", nil)
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = app.do("POST", "/admin/scheduler/dependencies", nil)
	assert.Equal(t, http.StatusAccepted, code)

	assert.Equal(t, int64(1), app.passes.dispatch.Load())
	assert.Equal(t, int64(2), app.passes.dependencies.Load())
}

func TestAdminAPILogsAPI(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()
	for _, uid := range []uint{1, 1, 2} {
		require.NoError(t, app.apiLogs.CreateAPILog(ctx, &taskDB.APILog{UserID: uid, Service: "openai", Endpoint: "chat"}))
	}

	code, body := app.do("GET", "/admin/api-logs?user_id=1", nil)
	require.Equal(t, http.StatusOK, code)
	var logs []taskDB.APILog
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Len(t, logs, 2)

	code, body = app.do("GET", "/admin/api-logs?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, uint(2), logs[0].UserID)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(models.ErrCircularDependency))
	assert.Equal(t, http.StatusPaymentRequired, statusFor(models.ErrInsufficientCredits))
	assert.Equal(t, http.StatusNotFound, statusFor(models.ErrTaskNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(models.ErrInvalidTransition))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
