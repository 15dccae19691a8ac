package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ============================================================================
// 注单状态
// ============================================================================

const (
	BetStatusPlaced            = "Placed"
	BetStatusPendingSettlement = "PendingSettlement"
	BetStatusWon               = "Won"
	BetStatusLost              = "Lost"
	BetStatusCancelled         = "Cancelled"
	BetStatusRefunded          = "Refunded"
	BetStatusSettlementFailed  = "SettlementFailed"
)

// IsSettled Won/Lost 为结算终态，重复结算直接返回原记录
func IsSettled(status string) bool {
	return status == BetStatusWon || status == BetStatusLost
}

// CanSettle 只有未结算且未撤销的注单可以向钱包结算
func CanSettle(status string) bool {
	switch status {
	case BetStatusPlaced, BetStatusPendingSettlement, BetStatusSettlementFailed:
		return true
	}
	return false
}

func IsValidBetStatus(status string) bool {
	switch status {
	case BetStatusPlaced, BetStatusPendingSettlement, BetStatusWon, BetStatusLost,
		BetStatusCancelled, BetStatusRefunded, BetStatusSettlementFailed:
		return true
	}
	return false
}

// ============================================================================
// 注单实体
// ============================================================================

// Bet 注单表，一笔下注一行
//
// 【重要】(external_platform_tx_id, game_code) 唯一索引是下注幂等的最终保障：
// 服务层"先查后插"不是原子的，并发重复下注只能靠数据库约束拒绝。
type Bet struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalPlatformTxID string `gorm:"type:varchar(128);not null;uniqueIndex:uk_bet_tx_game,priority:1;index" json:"externalPlatformTxId"`
	UserID               string `gorm:"type:varchar(64);not null;index:idx_bet_user_created,priority:1" json:"userId"`
	RoundID              string `gorm:"type:varchar(128);index" json:"roundId"`
	GameCode             string `gorm:"type:varchar(64);not null;uniqueIndex:uk_bet_tx_game,priority:2" json:"gameCode"`
	OperatorID           string `gorm:"type:varchar(64);index" json:"operatorId"`

	BetAmount decimal.Decimal     `gorm:"type:decimal(20,6);not null" json:"betAmount"`
	WinAmount decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"winAmount"`
	Currency  string              `gorm:"type:varchar(8);not null" json:"currency"`

	Status string `gorm:"type:varchar(32);index;not null" json:"status"`

	GameMetadata datatypes.JSON `json:"gameMetadata,omitempty"` // 游戏自定义字段
	FairnessData datatypes.JSON `json:"fairnessData,omitempty"` // 种子/哈希，可验证公平
	GameInfo     datatypes.JSON `json:"gameInfo,omitempty"`     // 游戏会话信息

	BalanceAfterBet        decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"balanceAfterBet"`
	BalanceAfterSettlement decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"balanceAfterSettlement"`
	FinalCoeff             decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"finalCoeff"`
	WithdrawCoeff          decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"withdrawCoeff"`
	SettlementRefTxID      *string             `gorm:"type:varchar(128)" json:"settlementRefTxId"`

	CreatedAt   time.Time  `gorm:"autoCreateTime;index:idx_bet_user_created,priority:2" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
	CreatedBy   string     `gorm:"type:varchar(64)" json:"createdBy"`
	UpdatedBy   string     `gorm:"type:varchar(64)" json:"updatedBy"`
	BetPlacedAt *time.Time `gorm:"index" json:"betPlacedAt"`
	SettledAt   *time.Time `json:"settledAt"`
}

func (Bet) TableName() string {
	return "bet"
}
