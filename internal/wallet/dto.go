package wallet

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// 钱包协议 action
const (
	ActionGetBalance = "getBalance"
	ActionBet        = "bet"
	ActionSettle     = "settle"
	ActionCancelBet  = "cancelBet"
)

// DefaultSuccessStatus 对方返回该 status 视为成功，其余任何非空值均为业务拒绝
const DefaultSuccessStatus = "RS_OK"

// Envelope 外层报文，message 为 JSON 编码后的 action 报文
type Envelope struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

type BalanceMessage struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

// Txn 单笔交易报文，游戏字段是开放的，因此使用 map
type Txn map[string]interface{}

type TxnMessage struct {
	Action string `json:"action"`
	Txns   []Txn  `json:"txns"`
}

// Response 钱包响应
type Response struct {
	Status    string              `json:"status"`
	Balance   decimal.NullDecimal `json:"balance"`
	BalanceTs string              `json:"balanceTs,omitempty"`
	UserID    string              `json:"userId,omitempty"`

	// 原始字段，便于调用方读取协议扩展字段
	Fields map[string]json.RawMessage `json:"-"`
}

// Amount 金额按十进制原样写成 JSON number，不经过浮点
func Amount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// Timestamp ISO-8601 毫秒精度
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
