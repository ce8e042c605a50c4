package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vbank/platform/shared/cqrs"
	"github.com/vbank/platform/shared/middleware"
	"github.com/vbank/platform/shared/models"
)

// IdempotencyKeyHeader carries the caller's deduplication key on PUT /accounts/transfer.
const IdempotencyKeyHeader = "Idempotency-Key"

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	OpenAccount(context.Context, cqrs.OpenAccountCommand) (*models.AccountView, error)
	ApplyTransfer(context.Context, cqrs.ApplyTransferCommand) (*models.TransferReceipt, error)
}

// AccountQuerier defines the read-side operations used by AccountHandler.
type AccountQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountView, error)
	ListAccounts(context.Context, cqrs.ListAccountsQuery) ([]models.AccountView, error)
	GetTransferReceipt(context.Context, cqrs.GetTransferReceiptQuery) (*models.TransferReceipt, error)
}

// AccountHandler handles account-related HTTP requests.
type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
	logger   *zap.Logger
}

type CreateAccountRequest struct {
	UserID         string          `json:"userId" validate:"required,uuid"`
	AccountType    string          `json:"accountType" validate:"required,oneof=SAVINGS CHECKING"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
}

type TransferRequest struct {
	FromAccountID string          `json:"fromAccountId" validate:"required,uuid"`
	ToAccountID   string          `json:"toAccountId" validate:"required,uuid"`
	Amount        decimal.Decimal `json:"amount"`
}

type TransferResponse struct {
	Message string `json:"message"`
	models.TransferReceipt
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries, logger: logger}
}

// Register mounts the account routes on r.
func (h *AccountHandler) Register(r gin.IRouter) {
	accounts := r.Group("/accounts")
	accounts.POST("", h.CreateAccount)
	accounts.PUT("/transfer", h.Transfer)
	accounts.GET("/transfers/:key", h.GetTransfer)
	accounts.GET("/users/:userId", h.ListAccounts)
	accounts.GET("/:accountId", h.GetAccount)
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	view, err := h.commands.OpenAccount(c.Request.Context(), cqrs.OpenAccountCommand{
		UserID:         uuid.MustParse(req.UserID),
		AccountType:    models.AccountType(req.AccountType),
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	id, ok := h.uuidParam(c, "accountId")
	if !ok {
		return
	}

	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{AccountID: id})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	userID, ok := h.uuidParam(c, "userId")
	if !ok {
		return
	}

	views, err := h.queries.ListAccounts(c.Request.Context(), cqrs.ListAccountsQuery{UserID: userID})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, views)
}

// Transfer applies a ledger transfer. It is called by the transfer
// coordinator, never by end users.
func (h *AccountHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	receipt, err := h.commands.ApplyTransfer(c.Request.Context(), cqrs.ApplyTransferCommand{
		FromAccountID:  uuid.MustParse(req.FromAccountID),
		ToAccountID:    uuid.MustParse(req.ToAccountID),
		Amount:         req.Amount,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, TransferResponse{
		Message:         "Transfer completed successfully.",
		TransferReceipt: *receipt,
	})
}

func (h *AccountHandler) GetTransfer(c *gin.Context) {
	receipt, err := h.queries.GetTransferReceipt(c.Request.Context(), cqrs.GetTransferReceiptQuery{
		IdempotencyKey: c.Param("key"),
	})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *AccountHandler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "VALIDATION", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
