package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/models"
	taskDB "ai-task-platform/internal/task-manager/db"
)

const defaultEntriesLimit = 100

type CreditLedger interface {
	Balance(ctx context.Context, userID uint) (int64, error)
	Grant(ctx context.Context, userID uint, amount int64, creditType models.CreditType) (*taskDB.CreditEntry, error)
	Entries(ctx context.Context, userID uint, limit int) ([]taskDB.CreditEntry, error)
}

type CreditHandler struct {
	Ledger CreditLedger
	log    *logger.Logger
}

func NewCreditHandler(l CreditLedger, log *logger.Logger) *CreditHandler {
	return &CreditHandler{Ledger: l, log: log.Named("api")}
}

type GrantCreditsRequest struct {
	Amount     int64  `json:"amount" vd:"$>0"`
	CreditType string `json:"credit_type" vd:"$=='' || $=='regular' || $=='bonus'"`
}

type CreditsResponse struct {
	UserID  uint                 `json:"user_id"`
	Balance int64                `json:"balance"`
	Entries []taskDB.CreditEntry `json:"entries"`
}

func (h *CreditHandler) GetCredits(ctx context.Context, c *app.RequestContext) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit := defaultEntriesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid limit", "code": "invalid_request"})
			return
		}
		limit = n
	}

	balance, err := h.Ledger.Balance(ctx, userID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	entries, err := h.Ledger.Entries(ctx, userID, limit)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, CreditsResponse{UserID: userID, Balance: balance, Entries: entries})
}

func (h *CreditHandler) GrantCredits(ctx context.Context, c *app.RequestContext) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req GrantCreditsRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error(), "code": "invalid_request"})
		return
	}

	entry, err := h.Ledger.Grant(ctx, userID, req.Amount, models.CreditType(req.CreditType))
	if err != nil {
		h.internalError(c, err)
		return
	}
	balance, err := h.Ledger.Balance(ctx, userID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, utils.H{"entry": entry, "balance": balance})
}

func (h *CreditHandler) internalError(c *app.RequestContext, err error) {
	h.log.Errorw("credit request failed", "path", string(c.Path()), "error", err)
	c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error(), "code": models.ErrorCode(err)})
}
