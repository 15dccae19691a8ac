package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"walletbridge/internal/apperr"
	"walletbridge/internal/model"
	"walletbridge/internal/repository"
)

// ============================================================================
// 注单账本
// ============================================================================
//
// 【状态流转】
//
//   Placed ──► PendingSettlement ──► Won / Lost（结算终态）
//     │                  │
//     │                  └──► SettlementFailed
//     └──► Cancelled / Refunded
//
// 【幂等】
// - 下注：(externalPlatformTxId, gameCode) 已存在返回 Conflict，由唯一索引兜底并发
// - 结算：已是 Won/Lost 直接返回原记录，不写库，吸收钱包的重复回调
// - 结算按交易号全局查找，不按 gameCode 过滤
// ============================================================================

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var ErrInvalidBetStatus = errors.New("无效的注单状态")

type BetLedger struct {
	bets      *repository.BetRepository
	validator GameValidator
	logger    *zap.Logger
	now       func() time.Time
}

type LedgerOption func(*BetLedger)

// WithGameValidator 下注前校验游戏；不注入时不校验
func WithGameValidator(v GameValidator) LedgerOption {
	return func(l *BetLedger) { l.validator = v }
}

func WithLedgerLogger(logger *zap.Logger) LedgerOption {
	return func(l *BetLedger) { l.logger = logger }
}

func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *BetLedger) { l.now = now }
}

func NewBetLedger(bets *repository.BetRepository, opts ...LedgerOption) *BetLedger {
	l := &BetLedger{
		bets:   bets,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ---------------------------------------------------------------------------
// 参数
// ---------------------------------------------------------------------------

type PlacementParams struct {
	ExternalPlatformTxID string              `json:"externalPlatformTxId" binding:"required"`
	UserID               string              `json:"userId" binding:"required"`
	RoundID              string              `json:"roundId"`
	GameCode             string              `json:"gameCode" binding:"required"`
	OperatorID           string              `json:"operatorId"`
	BetAmount            decimal.Decimal     `json:"betAmount"`
	Currency             string              `json:"currency" binding:"required"`
	Status               string              `json:"status"` // 为空时为 Placed
	GameMetadata         datatypes.JSON      `json:"gameMetadata"`
	FairnessData         datatypes.JSON      `json:"fairnessData"`
	GameInfo             datatypes.JSON      `json:"gameInfo"`
	BalanceAfterBet      decimal.NullDecimal `json:"balanceAfterBet"`
	BetPlacedAt          *time.Time          `json:"betPlacedAt"`
	CreatedBy            string              `json:"createdBy"`
	UpdatedBy            string              `json:"updatedBy"` // 为空时取 CreatedBy
}

// BetPatch 局部更新，nil 字段保持原值，不会被置空
type BetPatch struct {
	RoundID                *string          `json:"roundId"`
	OperatorID             *string          `json:"operatorId"`
	BetAmount              *decimal.Decimal `json:"betAmount"`
	WinAmount              *decimal.Decimal `json:"winAmount"`
	Currency               *string          `json:"currency"`
	Status                 *string          `json:"status"`
	GameMetadata           *datatypes.JSON  `json:"gameMetadata"`
	FairnessData           *datatypes.JSON  `json:"fairnessData"`
	GameInfo               *datatypes.JSON  `json:"gameInfo"`
	BalanceAfterBet        *decimal.Decimal `json:"balanceAfterBet"`
	BalanceAfterSettlement *decimal.Decimal `json:"balanceAfterSettlement"`
	FinalCoeff             *decimal.Decimal `json:"finalCoeff"`
	WithdrawCoeff          *decimal.Decimal `json:"withdrawCoeff"`
	SettlementRefTxID      *string          `json:"settlementRefTxId"`
	BetPlacedAt            *time.Time       `json:"betPlacedAt"`
	SettledAt              *time.Time       `json:"settledAt"`
}

// SettlementParams 结算参数；Fields.Status 非空时作为显式终态
type SettlementParams struct {
	ExternalPlatformTxID string          `json:"externalPlatformTxId" binding:"required"`
	WinAmount            decimal.Decimal `json:"winAmount"`
	UpdatedBy            string          `json:"updatedBy"`
	Fields               BetPatch        `json:"fields"`
}

type UpdateBetParams struct {
	ExternalPlatformTxID string   `json:"externalPlatformTxId" binding:"required"`
	UpdatedBy            string   `json:"updatedBy"`
	Fields               BetPatch `json:"fields"`
}

func (p *BetPatch) updates() map[string]interface{} {
	u := make(map[string]interface{})
	if p.RoundID != nil {
		u["round_id"] = *p.RoundID
	}
	if p.OperatorID != nil {
		u["operator_id"] = *p.OperatorID
	}
	if p.BetAmount != nil {
		u["bet_amount"] = *p.BetAmount
	}
	if p.WinAmount != nil {
		u["win_amount"] = decimal.NewNullDecimal(*p.WinAmount)
	}
	if p.Currency != nil {
		u["currency"] = *p.Currency
	}
	if p.Status != nil {
		u["status"] = *p.Status
	}
	if p.GameMetadata != nil {
		u["game_metadata"] = *p.GameMetadata
	}
	if p.FairnessData != nil {
		u["fairness_data"] = *p.FairnessData
	}
	if p.GameInfo != nil {
		u["game_info"] = *p.GameInfo
	}
	if p.BalanceAfterBet != nil {
		u["balance_after_bet"] = decimal.NewNullDecimal(*p.BalanceAfterBet)
	}
	if p.BalanceAfterSettlement != nil {
		u["balance_after_settlement"] = decimal.NewNullDecimal(*p.BalanceAfterSettlement)
	}
	if p.FinalCoeff != nil {
		u["final_coeff"] = decimal.NewNullDecimal(*p.FinalCoeff)
	}
	if p.WithdrawCoeff != nil {
		u["withdraw_coeff"] = decimal.NewNullDecimal(*p.WithdrawCoeff)
	}
	if p.SettlementRefTxID != nil {
		u["settlement_ref_tx_id"] = *p.SettlementRefTxID
	}
	if p.BetPlacedAt != nil {
		u["bet_placed_at"] = p.BetPlacedAt.UTC()
	}
	if p.SettledAt != nil {
		u["settled_at"] = p.SettledAt.UTC()
	}
	return u
}

// ---------------------------------------------------------------------------
// 写操作
// ---------------------------------------------------------------------------

// ValidateGame 未配置校验器时总是通过；校验失败统一为 NotFound
func (l *BetLedger) ValidateGame(ctx context.Context, gameCode string) error {
	if l.validator == nil {
		return nil
	}
	if err := l.validator.ValidateGame(ctx, gameCode); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("游戏校验失败: %s", gameCode), err)
	}
	return nil
}

// CreatePlacement 记录下注
func (l *BetLedger) CreatePlacement(ctx context.Context, p *PlacementParams) (*model.Bet, error) {
	if err := l.ValidateGame(ctx, p.GameCode); err != nil {
		return nil, err
	}

	existing, err := l.bets.GetByTxID(ctx, p.ExternalPlatformTxID, p.GameCode)
	if err != nil && !errors.Is(err, repository.ErrBetNotFound) {
		return nil, fmt.Errorf("查询注单失败: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict(fmt.Sprintf("注单已存在: %s/%s", p.ExternalPlatformTxID, p.GameCode))
	}

	status := p.Status
	if status == "" {
		status = model.BetStatusPlaced
	}
	if !model.IsValidBetStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBetStatus, status)
	}

	updatedBy := p.UpdatedBy
	if updatedBy == "" {
		updatedBy = p.CreatedBy
	}

	bet := &model.Bet{
		ExternalPlatformTxID: p.ExternalPlatformTxID,
		UserID:               p.UserID,
		RoundID:              p.RoundID,
		GameCode:             p.GameCode,
		OperatorID:           p.OperatorID,
		BetAmount:            p.BetAmount,
		Currency:             p.Currency,
		Status:               status,
		GameMetadata:         p.GameMetadata,
		FairnessData:         p.FairnessData,
		GameInfo:             p.GameInfo,
		BalanceAfterBet:      p.BalanceAfterBet,
		BetPlacedAt:          p.BetPlacedAt,
		CreatedBy:            p.CreatedBy,
		UpdatedBy:            updatedBy,
	}

	// 先查后插不是原子的，并发重复由唯一索引拒绝
	if err := l.bets.Create(ctx, nil, bet); err != nil {
		if errors.Is(err, repository.ErrDuplicateBet) {
			return nil, apperr.Conflict(fmt.Sprintf("注单已存在: %s/%s", p.ExternalPlatformTxID, p.GameCode))
		}
		return nil, fmt.Errorf("创建注单失败: %w", err)
	}

	l.logger.Info("注单已记录",
		zap.Int64("bet_id", bet.ID),
		zap.String("platform_tx_id", bet.ExternalPlatformTxID),
		zap.String("game_code", bet.GameCode),
		zap.String("status", bet.Status),
	)
	return bet, nil
}

// RecordSettlement 记录结算结果
//
// 【关键点】
// 1. 已是 Won/Lost 直接返回原记录，不写库
// 2. 只更新调用方显式给出的字段
// 3. 未指定状态时 winAmount > 0 为 Won，否则 Lost（十进制比较，不经过浮点）
func (l *BetLedger) RecordSettlement(ctx context.Context, p *SettlementParams) (*model.Bet, error) {
	bet, err := l.findByTxID(ctx, p.ExternalPlatformTxID)
	if err != nil {
		return nil, err
	}

	if model.IsSettled(bet.Status) {
		l.logger.Info("注单已结算，忽略重复结算",
			zap.String("platform_tx_id", bet.ExternalPlatformTxID),
			zap.String("status", bet.Status),
		)
		return bet, nil
	}

	updates := p.Fields.updates()
	updates["win_amount"] = decimal.NewNullDecimal(p.WinAmount)
	updates["updated_by"] = p.UpdatedBy
	if p.Fields.SettledAt == nil {
		updates["settled_at"] = l.now().UTC()
	}

	status := ""
	if p.Fields.Status != nil {
		status = *p.Fields.Status
	}
	if status == "" {
		status = model.BetStatusLost
		if p.WinAmount.IsPositive() {
			status = model.BetStatusWon
		}
	}
	if !model.IsValidBetStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBetStatus, status)
	}
	updates["status"] = status

	if err := l.bets.UpdateFields(ctx, nil, bet.ID, updates); err != nil {
		return nil, fmt.Errorf("更新结算结果失败: %w", err)
	}

	l.logger.Info("注单已结算",
		zap.String("platform_tx_id", bet.ExternalPlatformTxID),
		zap.String("status", status),
		zap.String("win_amount", p.WinAmount.String()),
	)
	return l.reload(ctx, bet.ID)
}

// UpdateStatus 只修改状态与 updatedBy；已结算注单拒绝回退到 Placed/PendingSettlement/SettlementFailed
func (l *BetLedger) UpdateStatus(ctx context.Context, txID, status, updatedBy string) (*model.Bet, error) {
	if !model.IsValidBetStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBetStatus, status)
	}

	bet, err := l.findByTxID(ctx, txID)
	if err != nil {
		return nil, err
	}
	// Won/Lost 不能回到结算前的状态，否则会被再次结算
	if model.IsSettled(bet.Status) && model.CanSettle(status) {
		return nil, apperr.Conflict(fmt.Sprintf("注单已结算，不能改为 %s: %s", status, txID))
	}

	updates := map[string]interface{}{
		"status":     status,
		"updated_by": updatedBy,
	}
	if err := l.bets.UpdateFields(ctx, nil, bet.ID, updates); err != nil {
		return nil, fmt.Errorf("更新注单状态失败: %w", err)
	}

	l.logger.Info("注单状态已更新",
		zap.String("platform_tx_id", txID),
		zap.String("from", bet.Status),
		zap.String("to", status),
	)
	return l.reload(ctx, bet.ID)
}

func (l *BetLedger) MarkPendingSettlement(ctx context.Context, txID, updatedBy string) (*model.Bet, error) {
	return l.UpdateStatus(ctx, txID, model.BetStatusPendingSettlement, updatedBy)
}

func (l *BetLedger) MarkSettlementFailed(ctx context.Context, txID, updatedBy string) (*model.Bet, error) {
	return l.UpdateStatus(ctx, txID, model.BetStatusSettlementFailed, updatedBy)
}

// UpdateBet 局部更新，始终写入 updatedBy
func (l *BetLedger) UpdateBet(ctx context.Context, p *UpdateBetParams) (*model.Bet, error) {
	if p.Fields.Status != nil && !model.IsValidBetStatus(*p.Fields.Status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBetStatus, *p.Fields.Status)
	}

	bet, err := l.findByTxID(ctx, p.ExternalPlatformTxID)
	if err != nil {
		return nil, err
	}

	updates := p.Fields.updates()
	updates["updated_by"] = p.UpdatedBy

	if err := l.bets.UpdateFields(ctx, nil, bet.ID, updates); err != nil {
		return nil, fmt.Errorf("更新注单失败: %w", err)
	}
	return l.reload(ctx, bet.ID)
}

// ---------------------------------------------------------------------------
// 查询
// ---------------------------------------------------------------------------

// GetBet 按交易号查询，gameCode 为空时全局查找
func (l *BetLedger) GetBet(ctx context.Context, txID, gameCode string) (*model.Bet, error) {
	bet, err := l.bets.GetByTxID(ctx, txID, gameCode)
	return l.found(bet, err, txID)
}

func (l *BetLedger) GetBetByGameAndTx(ctx context.Context, gameCode, txID string) (*model.Bet, error) {
	return l.GetBet(ctx, txID, gameCode)
}

func (l *BetLedger) GetBetByRound(ctx context.Context, gameCode, roundID string) (*model.Bet, error) {
	bet, err := l.bets.GetByGameAndRound(ctx, gameCode, roundID)
	return l.found(bet, err, gameCode+"/"+roundID)
}

// ListUserBets 按创建时间倒序
func (l *BetLedger) ListUserBets(ctx context.Context, userID string, limit int) ([]*model.Bet, error) {
	return l.bets.ListByUserID(ctx, userID, normalizeLimit(limit))
}

// ListUserBetsBetween 时间窗口 [from, to)
func (l *BetLedger) ListUserBetsBetween(ctx context.Context, userID string, from, to time.Time, limit int) ([]*model.Bet, error) {
	return l.bets.ListByUserIDBetween(ctx, userID, from.UTC(), to.UTC(), normalizeLimit(limit))
}

func (l *BetLedger) ListRoundBets(ctx context.Context, roundID string) ([]*model.Bet, error) {
	return l.bets.ListByRound(ctx, roundID)
}

// ---------------------------------------------------------------------------
// 对账与清理
// ---------------------------------------------------------------------------

// FindOldPlacedBets 超过 maxAge 仍为 Placed 的注单，供滞留注单退款任务使用
func (l *BetLedger) FindOldPlacedBets(ctx context.Context, maxAge time.Duration) ([]*model.Bet, error) {
	cutoff := l.now().UTC().Add(-maxAge)
	return l.bets.FindPlacedBefore(ctx, cutoff, 0)
}

// DeletePlacedBets 清空所有 Placed 注单，只影响 bet 表
func (l *BetLedger) DeletePlacedBets(ctx context.Context) (int64, error) {
	n, err := l.bets.DeleteByStatus(ctx, model.BetStatusPlaced)
	if err != nil {
		return 0, fmt.Errorf("删除 Placed 注单失败: %w", err)
	}
	l.logger.Warn("已删除 Placed 注单", zap.Int64("count", n))
	return n, nil
}

// DeleteBetsBeforeDate 删除 cutoff 之前创建的注单
func (l *BetLedger) DeleteBetsBeforeDate(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := l.bets.DeleteCreatedBefore(ctx, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("删除历史注单失败: %w", err)
	}
	l.logger.Info("已删除历史注单", zap.Time("cutoff", cutoff), zap.Int64("count", n))
	return n, nil
}

// ---------------------------------------------------------------------------

func (l *BetLedger) findByTxID(ctx context.Context, txID string) (*model.Bet, error) {
	bet, err := l.bets.GetByTxID(ctx, txID, "")
	return l.found(bet, err, txID)
}

func (l *BetLedger) found(bet *model.Bet, err error, key string) (*model.Bet, error) {
	if err != nil {
		if errors.Is(err, repository.ErrBetNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("注单不存在: %s", key))
		}
		return nil, fmt.Errorf("查询注单失败: %w", err)
	}
	return bet, nil
}

func (l *BetLedger) reload(ctx context.Context, id int64) (*model.Bet, error) {
	bet, err := l.bets.GetByID(ctx, id)
	return l.found(bet, err, fmt.Sprint(id))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
