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

// TransferCommander defines the write-side operations used by TransactionHandler.
type TransferCommander interface {
	Initiate(context.Context, cqrs.InitiateTransferCommand) (*models.Transaction, error)
	Execute(context.Context, cqrs.ExecuteTransferCommand) (*models.Transaction, error)
}

// TransactionQuerier defines the read-side operations used by TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(context.Context, cqrs.GetTransactionQuery) (*models.Transaction, error)
	ListTransactions(context.Context, cqrs.ListTransactionsQuery) ([]models.TransactionView, error)
}

type TransactionHandler struct {
	commands TransferCommander
	queries  TransactionQuerier
	logger   *zap.Logger
}

type InitiateTransferRequest struct {
	FromAccountID string          `json:"fromAccountId" validate:"required,uuid"`
	ToAccountID   string          `json:"toAccountId" validate:"required,uuid"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" validate:"max=255"`
}

type ExecuteTransferRequest struct {
	TransactionID string `json:"transactionId" validate:"required,uuid"`
}

func NewTransactionHandler(commands TransferCommander, queries TransactionQuerier, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries, logger: logger}
}

// Register mounts the transfer and history routes on r.
func (h *TransactionHandler) Register(r gin.IRouter) {
	transfers := r.Group("/transfers")
	transfers.POST("/initiate", h.InitiateTransfer)
	transfers.POST("/execute", h.ExecuteTransfer)
	transfers.GET("/:transactionId", h.GetTransaction)

	r.GET("/accounts/:accountId/transactions", h.ListTransactions)
}

func (h *TransactionHandler) InitiateTransfer(c *gin.Context) {
	var req InitiateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	txn, err := h.commands.Initiate(c.Request.Context(), cqrs.InitiateTransferCommand{
		FromAccountID: uuid.MustParse(req.FromAccountID),
		ToAccountID:   uuid.MustParse(req.ToAccountID),
		Amount:        req.Amount,
		Description:   req.Description,
	})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, models.NewTransferStatusView(txn))
}

func (h *TransactionHandler) ExecuteTransfer(c *gin.Context) {
	var req ExecuteTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	txn, err := h.commands.Execute(c.Request.Context(), cqrs.ExecuteTransferCommand{
		TransactionID: uuid.MustParse(req.TransactionID),
	})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.NewTransferStatusView(txn))
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id, ok := h.uuidParam(c, "transactionId")
	if !ok {
		return
	}

	txn, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{TransactionID: id})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, txn)
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	accountID, ok := h.uuidParam(c, "accountId")
	if !ok {
		return
	}

	views, err := h.queries.ListTransactions(c.Request.Context(), cqrs.ListTransactionsQuery{AccountID: accountID})
	if err != nil {
		middleware.RespondWithAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, views)
}

func (h *TransactionHandler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "VALIDATION", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
