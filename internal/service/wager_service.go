package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"walletbridge/internal/apperr"
	"walletbridge/internal/infrastructure/lock"
	"walletbridge/internal/model"
	"walletbridge/internal/wallet"
	"walletbridge/pkg/idgen"
)

// ============================================================================
// 下注编排
// ============================================================================
//
// 账本与网关互不调用，由这里按顺序编排：
//
//   下注：校验游戏 → 钱包扣款 → 本地落单（Conflict 视为已下注）
//         本地落单失败时向钱包发起 cancelBet 冲正
//   结算：按交易号加锁 → 查注单（已退款/取消拒绝）→ PendingSettlement → 钱包结算 → 记录结果
//         钱包失败标记 SettlementFailed，补偿任务已由网关写入
//   退款：钱包 cancelBet → 逐笔标记 Refunded
// ============================================================================

const systemOperator = "walletbridge"

type WagerService struct {
	ledger      *BetLedger
	gateway     *WalletGateway
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewWagerService redisClient 为 nil 时结算不加分布式锁
func NewWagerService(ledger *BetLedger, gateway *WalletGateway, redisClient *redis.Client, logger *zap.Logger) *WagerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WagerService{
		ledger:      ledger,
		gateway:     gateway,
		redisClient: redisClient,
		logger:      logger,
	}
}

type PlaceWagerRequest struct {
	PlaceBetRequest
	OperatorID   string         `json:"operatorId"`
	CreatedBy    string         `json:"createdBy"`
	GameMetadata datatypes.JSON `json:"gameMetadata"`
	FairnessData datatypes.JSON `json:"fairnessData"`
}

type SettleWagerRequest struct {
	SettleBetRequest
	UpdatedBy string   `json:"updatedBy"`
	Fields    BetPatch `json:"fields"`
}

type RefundWagerRequest struct {
	RefundBetRequest
	UpdatedBy string `json:"updatedBy"`
}

type WagerResult struct {
	Bet           *model.Bet       `json:"bet"`
	Wallet        *wallet.Response `json:"wallet,omitempty"`
	AlreadyPlaced bool             `json:"alreadyPlaced,omitempty"`
}

type RefundResult struct {
	Wallet *wallet.Response `json:"wallet"`
	Bets   []*model.Bet     `json:"bets"`
	// 钱包已退款但本地没有对应注单的交易号
	Missing []string `json:"missing,omitempty"`
}

func (s *WagerService) GetBalance(ctx context.Context, req *BalanceRequest) (*wallet.Response, error) {
	return s.gateway.GetBalance(ctx, req)
}

// Place 下注
func (s *WagerService) Place(ctx context.Context, req *PlaceWagerRequest) (*WagerResult, error) {
	if req.RequestID == "" {
		req.RequestID = idgen.GenerateRequestID()
	}
	if req.BetTime.IsZero() {
		req.BetTime = time.Now().UTC()
	}

	// 本地已有记录不再扣款
	existing, err := s.ledger.GetBet(ctx, req.PlatformTxID, req.GameCode)
	if err == nil {
		return &WagerResult{Bet: existing, AlreadyPlaced: true}, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	// 先校验游戏，避免无效游戏先扣款再冲正
	if err := s.ledger.ValidateGame(ctx, req.GameCode); err != nil {
		return nil, err
	}

	resp, err := s.gateway.PlaceBet(ctx, &req.PlaceBetRequest)
	if err != nil {
		return nil, err
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = systemOperator
	}
	betTime := req.BetTime
	bet, err := s.ledger.CreatePlacement(ctx, &PlacementParams{
		ExternalPlatformTxID: req.PlatformTxID,
		UserID:               req.UserID,
		RoundID:              req.RoundID,
		GameCode:             req.GameCode,
		OperatorID:           req.OperatorID,
		BetAmount:            req.BetAmount,
		Currency:             req.Currency,
		GameMetadata:         req.GameMetadata,
		FairnessData:         req.FairnessData,
		BalanceAfterBet:      resp.Balance,
		BetPlacedAt:          &betTime,
		CreatedBy:            createdBy,
	})
	if err == nil {
		return &WagerResult{Bet: bet, Wallet: resp}, nil
	}

	if errors.Is(err, apperr.ErrConflict) {
		existing, getErr := s.ledger.GetBet(ctx, req.PlatformTxID, req.GameCode)
		if getErr != nil {
			return nil, getErr
		}
		return &WagerResult{Bet: existing, Wallet: resp, AlreadyPlaced: true}, nil
	}

	s.logger.Error("钱包已扣款但本地落单失败，发起冲正",
		zap.String("request_id", req.RequestID),
		zap.String("platform_tx_id", req.PlatformTxID),
		zap.Error(err),
	)
	s.compensatePlacement(ctx, req)
	return nil, err
}

func (s *WagerService) compensatePlacement(ctx context.Context, req *PlaceWagerRequest) {
	_, err := s.gateway.RefundBet(ctx, &RefundBetRequest{
		AgentID: req.AgentID,
		UserID:  req.UserID,
		Txns: []RefundTxn{{
			PlatformTxID:       req.PlatformTxID,
			RefundPlatformTxID: req.PlatformTxID,
			RoundID:            req.RoundID,
			GameCode:           req.GameCode,
			Currency:           req.Currency,
			BetAmount:          req.BetAmount,
		}},
	})
	if err != nil {
		// 冲正失败已由网关写入重试任务
		s.logger.Error("下注冲正失败", zap.String("platform_tx_id", req.PlatformTxID), zap.Error(err))
	}
}

// Settle 结算
func (s *WagerService) Settle(ctx context.Context, req *SettleWagerRequest) (*WagerResult, error) {
	if req.RequestID == "" {
		req.RequestID = idgen.GenerateRequestID()
	}
	updatedBy := req.UpdatedBy
	if updatedBy == "" {
		updatedBy = systemOperator
	}

	if s.redisClient != nil {
		settleLock := lock.NewSettleLock(s.redisClient, req.PlatformTxID, req.RequestID)
		if err := settleLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer settleLock.Unlock(context.WithoutCancel(ctx))
	}

	bet, err := s.ledger.GetBet(ctx, req.PlatformTxID, "")
	if err != nil {
		return nil, err
	}
	if model.IsSettled(bet.Status) {
		return &WagerResult{Bet: bet}, nil
	}
	// 已退款或已取消的注单不能再派彩
	if !model.CanSettle(bet.Status) {
		return nil, apperr.Conflict(fmt.Sprintf("注单状态为 %s，不能结算: %s", bet.Status, bet.ExternalPlatformTxID))
	}

	// 请求未给出的字段取注单上的值
	if req.UserID == "" {
		req.UserID = bet.UserID
	}
	if req.GameCode == "" {
		req.GameCode = bet.GameCode
	}
	if req.RoundID == "" {
		req.RoundID = bet.RoundID
	}
	if req.Currency == "" {
		req.Currency = bet.Currency
	}
	if req.BetAmount.IsZero() {
		req.BetAmount = bet.BetAmount
	}
	if len(req.GameInfo) == 0 && len(bet.GameInfo) > 0 {
		req.GameInfo = []byte(bet.GameInfo)
	}

	if _, err := s.ledger.MarkPendingSettlement(ctx, req.PlatformTxID, updatedBy); err != nil {
		return nil, err
	}

	resp, err := s.gateway.SettleBet(ctx, &req.SettleBetRequest)
	if err != nil {
		if _, markErr := s.ledger.MarkSettlementFailed(ctx, req.PlatformTxID, updatedBy); markErr != nil {
			s.logger.Error("标记结算失败出错", zap.String("platform_tx_id", req.PlatformTxID), zap.Error(markErr))
		}
		return nil, err
	}

	fields := req.Fields
	if fields.BalanceAfterSettlement == nil && resp.Balance.Valid {
		balance := resp.Balance.Decimal
		fields.BalanceAfterSettlement = &balance
	}
	if fields.GameInfo == nil && len(req.GameInfo) > 0 {
		info := datatypes.JSON(req.GameInfo)
		fields.GameInfo = &info
	}

	settled, err := s.ledger.RecordSettlement(ctx, &SettlementParams{
		ExternalPlatformTxID: req.PlatformTxID,
		WinAmount:            req.WinAmount,
		UpdatedBy:            updatedBy,
		Fields:               fields,
	})
	if err != nil {
		return nil, err
	}
	return &WagerResult{Bet: settled, Wallet: resp}, nil
}

// Refund 批量退款
func (s *WagerService) Refund(ctx context.Context, req *RefundWagerRequest) (*RefundResult, error) {
	if req.RequestID == "" {
		req.RequestID = idgen.GenerateRequestID()
	}
	updatedBy := req.UpdatedBy
	if updatedBy == "" {
		updatedBy = systemOperator
	}

	resp, err := s.gateway.RefundBet(ctx, &req.RefundBetRequest)
	if err != nil {
		return nil, err
	}

	result := &RefundResult{Wallet: resp}
	for _, t := range req.Txns {
		bet, err := s.ledger.UpdateStatus(ctx, t.PlatformTxID, model.BetStatusRefunded, updatedBy)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				result.Missing = append(result.Missing, t.PlatformTxID)
				continue
			}
			return nil, err
		}
		result.Bets = append(result.Bets, bet)
	}

	if len(result.Missing) > 0 {
		s.logger.Warn("退款交易在本地不存在", zap.Strings("platform_tx_ids", result.Missing))
	}
	return result, nil
}
