package handler

import (
	"clinic-ledger/internal/adapter/http/dto"
	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/pkg/apperror"
	"clinic-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles wallet read endpoints. Wallets have no write
// endpoints: balances only change through the ledger.
type WalletHandler struct {
	reportingSvc ports.ReportingService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(reportingSvc ports.ReportingService) *WalletHandler {
	return &WalletHandler{reportingSvc: reportingSvc}
}

// GetOwnerWallet handles GET /api/v1/wallets/owner/:kind/:owner_id.
func (h *WalletHandler) GetOwnerWallet(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Param("owner_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid owner id"))
		return
	}

	w, err := h.reportingSvc.GetOwnerWallet(c.Request.Context(), domain.OwnerKind(c.Param("kind")), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toWalletResponse(w))
}

// GetStatement handles GET /api/v1/wallets/:id/statement.
func (h *WalletHandler) GetStatement(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid wallet id"))
		return
	}
	page, pageSize := paging(c)

	w, txns, total, err := h.reportingSvc.GetWalletStatement(c.Request.Context(), walletID, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}

	response.OK(c, dto.WalletStatementResponse{
		Wallet:       toWalletResponse(w),
		Transactions: items,
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
	})
}

func toWalletResponse(w *domain.Wallet) dto.WalletResponse {
	return dto.WalletResponse{
		ID:        w.ID.String(),
		OwnerKind: string(w.OwnerKind),
		OwnerID:   w.OwnerID.String(),
		Balance:   w.Balance,
		Currency:  w.Currency,
	}
}
