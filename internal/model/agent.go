package model

import (
	"time"

	"gorm.io/datatypes"
)

// Agent 运营商（代理）回调配置，只读；增删改由管理后台负责
type Agent struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"agentId"`
	CallbackURL string    `gorm:"type:varchar(512);not null" json:"callbackUrl"`
	SecretKey   string    `gorm:"type:varchar(256);not null" json:"-"`
	Active      bool      `gorm:"not null" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Agent) TableName() string {
	return "agent"
}

// Game 游戏目录
type Game struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	GameCode   string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"gameCode"`
	GameName   string         `gorm:"type:varchar(128)" json:"gameName"`
	Platform   string         `gorm:"type:varchar(32)" json:"platform"`
	GameType   string         `gorm:"type:varchar(32)" json:"gameType"`
	SettleType string         `gorm:"type:varchar(32)" json:"settleType"`
	Extra      datatypes.JSON `json:"extra,omitempty"` // 透传到钱包报文的附加字段
	Active     bool           `gorm:"not null" json:"active"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Game) TableName() string {
	return "game"
}
