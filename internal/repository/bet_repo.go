package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"walletbridge/internal/model"

	"gorm.io/gorm"
)

var (
	ErrBetNotFound  = errors.New("注单不存在")
	ErrDuplicateBet = errors.New("注单已存在")
)

type BetRepository struct {
	db *gorm.DB
}

func NewBetRepository(db *gorm.DB) *BetRepository {
	return &BetRepository{db: db}
}

// Create 插入注单，唯一索引冲突返回 ErrDuplicateBet
func (r *BetRepository) Create(ctx context.Context, tx *gorm.DB, bet *model.Bet) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(bet).Error
	if err != nil && isDuplicateKey(err) {
		return ErrDuplicateBet
	}
	return err
}

func (r *BetRepository) GetByID(ctx context.Context, id int64) (*model.Bet, error) {
	var bet model.Bet
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&bet).Error
	return r.one(&bet, err)
}

// GetByTxID 按平台交易号查询，gameCode 为空时不按游戏过滤
func (r *BetRepository) GetByTxID(ctx context.Context, txID, gameCode string) (*model.Bet, error) {
	query := r.db.WithContext(ctx).Where("external_platform_tx_id = ?", txID)
	if gameCode != "" {
		query = query.Where("game_code = ?", gameCode)
	}

	var bet model.Bet
	err := query.Order("id ASC").First(&bet).Error
	return r.one(&bet, err)
}

func (r *BetRepository) GetByGameAndRound(ctx context.Context, gameCode, roundID string) (*model.Bet, error) {
	var bet model.Bet
	err := r.db.WithContext(ctx).
		Where("game_code = ? AND round_id = ?", gameCode, roundID).
		Order("id ASC").
		First(&bet).Error
	return r.one(&bet, err)
}

func (r *BetRepository) UpdateFields(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error {
	if tx == nil {
		tx = r.db
	}

	// 不按 RowsAffected 判断是否存在：MySQL 对值未变化的行返回 0
	return tx.WithContext(ctx).
		Model(&model.Bet{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *BetRepository) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Bet, error) {
	var bets []*model.Bet
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&bets).Error
	return bets, err
}

// ListByUserIDBetween 时间窗口 [from, to)
func (r *BetRepository) ListByUserIDBetween(ctx context.Context, userID string, from, to time.Time, limit int) ([]*model.Bet, error) {
	var bets []*model.Bet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&bets).Error
	return bets, err
}

func (r *BetRepository) ListByRound(ctx context.Context, roundID string) ([]*model.Bet, error) {
	var bets []*model.Bet
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&bets).Error
	return bets, err
}

// FindPlacedBefore 查询下注时间早于 cutoff 仍处于 Placed 的注单
// bet_placed_at 为空时以 created_at 为准
func (r *BetRepository) FindPlacedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Bet, error) {
	var bets []*model.Bet
	query := r.db.WithContext(ctx).
		Where("status = ?", model.BetStatusPlaced).
		Where("COALESCE(bet_placed_at, created_at) < ?", cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&bets).Error
	return bets, err
}

func (r *BetRepository) DeleteByStatus(ctx context.Context, status string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ?", status).
		Delete(&model.Bet{})
	return result.RowsAffected, result.Error
}

func (r *BetRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.Bet{})
	return result.RowsAffected, result.Error
}

func (r *BetRepository) one(bet *model.Bet, err error) (*model.Bet, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBetNotFound
		}
		return nil, err
	}
	return bet, nil
}

// isDuplicateKey 兼容 TranslateError 与未翻译的驱动错误
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
