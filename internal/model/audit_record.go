package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// 外部钱包接口动作
const (
	APIActionGetBalance = "GetBalance"
	APIActionPlaceBet   = "PlaceBet"
	APIActionSettleBet  = "SettleBet"
	APIActionRefundBet  = "RefundBet"
)

const (
	AuditStatusSuccess = "Success"
	AuditStatusFailure = "Failure"
)

// AuditRecord 钱包调用审计表
//
// 【重要】审计表设计原则：
// 1. 每次外部调用一行，不是每笔业务一行
// 2. 只追加，不修改，不删除
// 3. 请求快照只存 action 报文，不存签名密钥
type AuditRecord struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID      string         `gorm:"type:varchar(64);index;not null" json:"requestId"`
	AgentID        string         `gorm:"type:varchar(64);index;not null" json:"agentId"`
	UserID         string         `gorm:"type:varchar(64);index" json:"userId"`
	APIAction      string         `gorm:"column:api_action;type:varchar(20);not null" json:"apiAction"`
	Status         string         `gorm:"type:varchar(16);index;not null" json:"status"`
	FailureType    string         `gorm:"type:varchar(32)" json:"failureType,omitempty"`
	ErrorMessage   string         `gorm:"type:varchar(1024)" json:"errorMessage,omitempty"`
	RequestBody    datatypes.JSON `json:"requestBody,omitempty"`
	ResponseBody   datatypes.JSON `json:"responseBody,omitempty"`
	HTTPStatus     int            `gorm:"column:http_status" json:"httpStatus"`
	ResponseTimeMs int64          `json:"responseTimeMs"`

	PlatformTxID string              `gorm:"type:varchar(128);index" json:"platformTxId,omitempty"`
	RoundID      string              `gorm:"type:varchar(128)" json:"roundId,omitempty"`
	BetAmount    decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"betAmount"`
	WinAmount    decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"winAmount"`
	Currency     string              `gorm:"type:varchar(8)" json:"currency,omitempty"`
	CallbackURL  string              `gorm:"type:varchar(512)" json:"callbackUrl,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (AuditRecord) TableName() string {
	return "wallet_audit_record"
}
