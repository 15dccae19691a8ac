package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"walletbridge/internal/repository"
	"walletbridge/internal/service"
	"walletbridge/pkg/response"

	"github.com/gin-gonic/gin"
)

// CacheInvalidator 代理/游戏目录的缓存失效
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

type Handler struct {
	wager  *service.WagerService
	ledger *service.BetLedger
	audits *repository.AuditRepository
	agents CacheInvalidator
	games  CacheInvalidator
}

func NewHandler(wager *service.WagerService, ledger *service.BetLedger, audits *repository.AuditRepository, agents, games CacheInvalidator) *Handler {
	return &Handler{
		wager:  wager,
		ledger: ledger,
		audits: audits,
		agents: agents,
		games:  games,
	}
}

// ============================================================
// 钱包
// ============================================================

// GetBalance 查询钱包余额
// GET /api/v1/wallet/balance?agentId=xxx&userId=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	req := service.BalanceRequest{
		RequestID: requestID(c),
		AgentID:   c.Query("agentId"),
		UserID:    c.Query("userId"),
	}
	if req.AgentID == "" || req.UserID == "" {
		response.ParamError(c, "agentId 和 userId 不能为空")
		return
	}

	resp, err := h.wager.GetBalance(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, resp)
}

// ============================================================
// 下注 / 结算 / 退款
// ============================================================

// PlaceBet POST /api/v1/bet/place
func (h *Handler) PlaceBet(c *gin.Context) {
	var req service.PlaceWagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if !req.BetAmount.IsPositive() {
		response.ParamError(c, "betAmount 必须大于 0")
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID(c)
	}

	result, err := h.wager.Place(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// SettleBet POST /api/v1/bet/settle
func (h *Handler) SettleBet(c *gin.Context) {
	var req service.SettleWagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.WinAmount.IsNegative() {
		response.ParamError(c, "winAmount 不能为负")
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID(c)
	}

	result, err := h.wager.Settle(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// RefundBet POST /api/v1/bet/refund
func (h *Handler) RefundBet(c *gin.Context) {
	var req service.RefundWagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if len(req.Txns) == 0 {
		response.ParamError(c, "txns 不能为空")
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID(c)
	}

	result, err := h.wager.Refund(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 注单维护
// ============================================================

type UpdateStatusRequest struct {
	ExternalPlatformTxID string `json:"externalPlatformTxId" binding:"required"`
	Status               string `json:"status" binding:"required"`
	UpdatedBy            string `json:"updatedBy" binding:"required"`
}

// UpdateStatus POST /api/v1/bet/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	bet, err := h.ledger.UpdateStatus(c.Request.Context(), req.ExternalPlatformTxID, req.Status, req.UpdatedBy)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, bet)
}

// UpdateBet PATCH /api/v1/bet
func (h *Handler) UpdateBet(c *gin.Context) {
	var req service.UpdateBetParams
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	bet, err := h.ledger.UpdateBet(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, bet)
}

// ============================================================
// 查询
// ============================================================

// GetBet GET /api/v1/bet/detail?txId=xxx[&gameCode=xxx]
func (h *Handler) GetBet(c *gin.Context) {
	txID := c.Query("txId")
	if txID == "" {
		response.ParamError(c, "txId 不能为空")
		return
	}

	bet, err := h.ledger.GetBet(c.Request.Context(), txID, c.Query("gameCode"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, bet)
}

// GetBetByRound GET /api/v1/bet/by-round?gameCode=xxx&roundId=xxx
func (h *Handler) GetBetByRound(c *gin.Context) {
	gameCode, roundID := c.Query("gameCode"), c.Query("roundId")
	if gameCode == "" || roundID == "" {
		response.ParamError(c, "gameCode 和 roundId 不能为空")
		return
	}

	bet, err := h.ledger.GetBetByRound(c.Request.Context(), gameCode, roundID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, bet)
}

// ListUserBets GET /api/v1/bet/list?userId=xxx&limit=50[&from=RFC3339&to=RFC3339]
func (h *Handler) ListUserBets(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		response.ParamError(c, "userId 不能为空")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	from, to := c.Query("from"), c.Query("to")
	if from == "" && to == "" {
		bets, err := h.ledger.ListUserBets(c.Request.Context(), userID, limit)
		if err != nil {
			response.ServerError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"list": bets})
		return
	}

	fromTime, err1 := time.Parse(time.RFC3339, from)
	toTime, err2 := time.Parse(time.RFC3339, to)
	if err1 != nil || err2 != nil || !fromTime.Before(toTime) {
		response.ParamError(c, "from/to 必须是 RFC3339 时间且 from < to")
		return
	}

	bets, err := h.ledger.ListUserBetsBetween(c.Request.Context(), userID, fromTime, toTime, limit)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": bets})
}

// ListRoundBets GET /api/v1/round/:roundId/bets
func (h *Handler) ListRoundBets(c *gin.Context) {
	bets, err := h.ledger.ListRoundBets(c.Request.Context(), c.Param("roundId"))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": bets})
}

// ListStuckBets GET /api/v1/bet/stuck?maxAgeMinutes=30
func (h *Handler) ListStuckBets(c *gin.Context) {
	minutes, err := strconv.Atoi(c.DefaultQuery("maxAgeMinutes", "30"))
	if err != nil || minutes <= 0 {
		response.ParamError(c, "maxAgeMinutes 参数错误")
		return
	}

	bets, err := h.ledger.FindOldPlacedBets(c.Request.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": bets})
}

// ListAudits GET /api/v1/audit?requestId=xxx 或 ?platformTxId=xxx
func (h *Handler) ListAudits(c *gin.Context) {
	ctx := c.Request.Context()
	if id := c.Query("requestId"); id != "" {
		records, err := h.audits.ListByRequestID(ctx, id)
		if err != nil {
			response.ServerError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"list": records})
		return
	}
	if txID := c.Query("platformTxId"); txID != "" {
		records, err := h.audits.ListByPlatformTxID(ctx, txID)
		if err != nil {
			response.ServerError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"list": records})
		return
	}
	response.ParamError(c, "requestId 或 platformTxId 至少提供一个")
}

// ============================================================
// 管理
// ============================================================

// DeletePlacedBets DELETE /api/v1/admin/bets/placed
func (h *Handler) DeletePlacedBets(c *gin.Context) {
	n, err := h.ledger.DeletePlacedBets(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"deleted": n})
}

// DeleteBetsBefore DELETE /api/v1/admin/bets?before=RFC3339
func (h *Handler) DeleteBetsBefore(c *gin.Context) {
	cutoff, err := time.Parse(time.RFC3339, c.Query("before"))
	if err != nil {
		response.ParamError(c, "before 必须是 RFC3339 时间")
		return
	}

	n, err := h.ledger.DeleteBetsBeforeDate(c.Request.Context(), cutoff)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"deleted": n})
}

// InvalidateAgent 管理后台停用代理或更换密钥后调用
// DELETE /api/v1/admin/cache/agents/:agentId
func (h *Handler) InvalidateAgent(c *gin.Context) {
	if err := h.agents.Invalidate(c.Request.Context(), c.Param("agentId")); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, nil)
}

// InvalidateGame DELETE /api/v1/admin/cache/games/:gameCode
func (h *Handler) InvalidateGame(c *gin.Context) {
	if err := h.games.Invalidate(c.Request.Context(), c.Param("gameCode")); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, nil)
}

// fail 校验类错误按参数错误返回，其余按错误类别映射业务码
func fail(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidBetStatus) || errors.Is(err, service.ErrEmptyRefundBatch) {
		response.ParamError(c, err.Error())
		return
	}
	response.FromError(c, err)
}
