// Package apiservice is the shared client layer for external AI/SEO APIs. It
// adds response caching, credit checks and debits, sandbox mocks and call logs
// on top of a Provider.
package apiservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"ai-task-platform/internal/apicache"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/models"
	"ai-task-platform/internal/resilience"
	"ai-task-platform/internal/task-manager/db"
)

const defaultTimeout = 30 * time.Second

// Ledger is the credit balance provider used for pre-checks and usage debits.
type Ledger interface {
	Lock(userID uint) func()
	Balance(ctx context.Context, userID uint) (int64, error)
	Charge(ctx context.Context, userID uint, amount int64, txType models.TransactionType, refType models.ReferenceType, refID uint) (int64, error)
}

type LogStore interface {
	CreateAPILog(ctx context.Context, entry *db.APILog) error
}

type Deps struct {
	Cache   *apicache.Cache
	Ledger  Ledger
	Logs    LogStore
	Breaker *resilience.Breaker
	Logger  *logger.Logger
}

type Options struct {
	Sandbox bool
	Timeout time.Duration
}

type Service struct {
	provider Provider
	cache    *apicache.Cache
	ledger   Ledger
	logs     LogStore
	breaker  *resilience.Breaker
	client   *client.Client
	log      *logger.Logger
	sandbox  bool
	timeout  time.Duration
}

func New(p Provider, deps Deps, opts Options) (*Service, error) {
	if p == nil {
		return nil, errors.New("apiservice: provider is required")
	}
	if deps.Ledger == nil || deps.Logs == nil {
		return nil, errors.New("apiservice: ledger and log store are required")
	}
	c, err := client.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}
	breaker := deps.Breaker
	if breaker == nil {
		breaker = NewBreaker(5, 30*time.Second)
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		provider: p,
		cache:    deps.Cache,
		ledger:   deps.Ledger,
		logs:     deps.Logs,
		breaker:  breaker,
		client:   c,
		log:      log.Named(p.Name()),
		sandbox:  opts.Sandbox,
		timeout:  timeout,
	}, nil
}

// NewBreaker returns a breaker that only counts provider outages.
func NewBreaker(maxFailures int, timeout time.Duration) *resilience.Breaker {
	return resilience.NewBreaker(maxFailures, timeout, resilience.WithFailureFilter(countsAsOutage))
}

func (s *Service) Name() string  { return s.provider.Name() }
func (s *Service) Sandbox() bool { return s.sandbox }

// EstimateCost returns the credits a call is expected to consume.
func (s *Service) EstimateCost(endpoint string, params map[string]any) int64 {
	return s.provider.EstimateCost(endpoint, params)
}

// CheckCredits reports whether the user can afford required credits.
func (s *Service) CheckCredits(ctx context.Context, userID uint, required int64) (bool, error) {
	if required <= 0 {
		return true, nil
	}
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= required, nil
}

func (s *Service) cacheable(req Request) bool {
	if s.sandbox || s.cache == nil || len(req.Files) > 0 {
		return false
	}
	return req.method() == consts.MethodGet || s.provider.Idempotent(req)
}

// RequestWithCache serves idempotent calls from the API cache and stores
// successful live responses. Cache hits are free.
func (s *Service) RequestWithCache(ctx context.Context, req Request) (*Response, error) {
	if !s.cacheable(req) {
		return s.MakeRequest(ctx, req)
	}

	name := s.provider.Name()
	body, found, err := s.cache.Get(ctx, name, req.Endpoint, req.Params)
	if err == nil && found {
		s.log.Debugw("api cache hit", "endpoint", req.Endpoint, "user_id", req.UserID)
		return &Response{Body: body, StatusCode: consts.StatusOK, Cached: true}, nil
	}

	resp, err := s.MakeRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, name, req.Endpoint, req.Params, resp.Body, req.TTL); err != nil {
		s.log.Warnw("failed to cache api response", "endpoint", req.Endpoint, "error", err)
	}
	return resp, nil
}

// MakeRequest performs one call without consulting the cache. In sandbox mode
// it returns the provider mock without touching the network, ledger or logs.
// User id 0 marks a system call, which is neither checked nor charged.
func (s *Service) MakeRequest(ctx context.Context, req Request) (*Response, error) {
	name := s.provider.Name()
	if s.sandbox {
		s.log.Debugw("sandbox api call", "endpoint", req.Endpoint, "user_id", req.UserID)
		return &Response{
			Body:       s.provider.MockResponse(req.Endpoint, req.Params),
			StatusCode: consts.StatusOK,
			Sandbox:    true,
		}, nil
	}

	if !s.provider.HasCredentials() {
		err := &Error{Code: CodeMissingCredentials, Service: name, Endpoint: req.Endpoint, Message: "api credentials are not configured"}
		s.log.Errorw("api call rejected", "endpoint", req.Endpoint, "code", err.Code)
		return nil, err
	}

	estimate := s.provider.EstimateCost(req.Endpoint, req.Params)
	if req.UserID != 0 && estimate > 0 {
		if err := s.precheck(ctx, req, estimate); err != nil {
			return nil, err
		}
	}

	requestID := uuid.NewString()
	start := time.Now()
	var result *httpResult
	err := s.breaker.Execute(func() error {
		var callErr error
		result, callErr = s.do(ctx, req)
		return callErr
	})
	duration := time.Since(start)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = &Error{Code: CodeCircuitOpen, Service: name, Endpoint: req.Endpoint, Message: "provider temporarily disabled after repeated failures", Err: err}
	}

	entry := &db.APILog{
		RequestID:  requestID,
		UserID:     req.UserID,
		Service:    name,
		Endpoint:   req.Endpoint,
		Method:     req.method(),
		Request:    redactedJSON(req.Params),
		DurationMs: duration.Milliseconds(),
	}
	if result != nil {
		entry.HTTPStatus = result.status
		entry.Response = redactedBody(result.body)
	}

	if err != nil {
		entry.Status = "error"
		entry.ErrorMessage = err.Error()
		s.writeLog(ctx, entry)
		s.log.Errorw("api call failed",
			"request_id", requestID,
			"endpoint", req.Endpoint,
			"user_id", req.UserID,
			"code", ErrorCode(err),
			"duration_ms", entry.DurationMs,
			"error", err,
		)
		return nil, err
	}

	credits, ok := s.provider.ActualCost(req.Endpoint, req.Params, result.body)
	if !ok {
		credits = estimate
	}
	entry.Status = "success"
	entry.CreditsUsed = credits
	s.writeLog(ctx, entry)

	if req.UserID != 0 && credits > 0 {
		charged, err := s.ledger.Charge(ctx, req.UserID, credits, models.TxAPIUsage, models.RefAPILog, entry.ID)
		if err != nil {
			s.log.Errorw("failed to debit api usage", "request_id", requestID, "user_id", req.UserID, "credits", credits, "error", err)
		} else {
			credits = charged
		}
	}

	s.log.Infow("api call completed",
		"request_id", requestID,
		"endpoint", req.Endpoint,
		"user_id", req.UserID,
		"status", result.status,
		"credits", credits,
		"duration_ms", entry.DurationMs,
	)
	return &Response{
		RequestID:   requestID,
		Body:        result.body,
		StatusCode:  result.status,
		CreditsUsed: credits,
		Duration:    duration,
	}, nil
}

func (s *Service) precheck(ctx context.Context, req Request, estimate int64) error {
	unlock := s.ledger.Lock(req.UserID)
	defer unlock()

	balance, err := s.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("failed to read credit balance: %w", err)
	}
	if balance < estimate {
		apiErr := insufficientCredits(s.provider.Name(), req.Endpoint, balance, estimate)
		s.log.Warnw("api call rejected", "endpoint", req.Endpoint, "user_id", req.UserID, "code", apiErr.Code, "balance", balance, "estimate", estimate)
		return apiErr
	}
	return nil
}

func (s *Service) writeLog(ctx context.Context, entry *db.APILog) {
	if err := s.logs.CreateAPILog(ctx, entry); err != nil {
		s.log.Errorw("failed to write api log", "request_id", entry.RequestID, "error", err)
	}
}
