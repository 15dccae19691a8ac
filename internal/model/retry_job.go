package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	RetryJobStatusPending = "PENDING"
)

// RetryJob 结算/退款失败的补偿任务，仅由网关创建
// 调度、重发、耗尽后的处理由外部重试服务负责
type RetryJob struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	JobNo     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"jobNo"`
	RequestID string `gorm:"type:varchar(64);index;not null" json:"requestId"`
	AgentID   string `gorm:"type:varchar(64);index;not null" json:"agentId"`
	UserID    string `gorm:"type:varchar(64)" json:"userId"`
	APIAction string `gorm:"column:api_action;type:varchar(20);not null" json:"apiAction"`

	PlatformTxID string              `gorm:"type:varchar(128);index" json:"platformTxId"`
	RoundID      string              `gorm:"type:varchar(128)" json:"roundId"`
	GameCode     string              `gorm:"type:varchar(64)" json:"gameCode"`
	BetAmount    decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"betAmount"`
	WinAmount    decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"winAmount"`
	Currency     string              `gorm:"type:varchar(8)" json:"currency"`

	RequestSnapshot datatypes.JSON `json:"requestSnapshot"` // 原始请求报文，退款包含整批交易
	GamePayload     datatypes.JSON `json:"gamePayload"`
	AuditRecordID   int64          `gorm:"index" json:"auditRecordId"`
	ErrorMessage    string         `gorm:"type:varchar(1024)" json:"errorMessage"`

	Status    string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (RetryJob) TableName() string {
	return "wallet_retry_job"
}
