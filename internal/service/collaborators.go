package service

import (
	"context"

	"walletbridge/internal/model"
)

// AgentEndpoint 代理的回调地址与签名密钥
type AgentEndpoint struct {
	AgentID     string
	CallbackURL string
	Credential  string
}

// AgentDirectory 未知代理返回 apperr NotFound
type AgentDirectory interface {
	Resolve(ctx context.Context, agentID string) (*AgentEndpoint, error)
}

// GamePayload 用于丰富钱包报文的游戏描述字段
type GamePayload struct {
	GameCode   string
	GameName   string
	Platform   string
	GameType   string
	SettleType string
	Extra      map[string]interface{}
}

// Fields 平铺为报文字段，固定字段覆盖同名 Extra
func (p *GamePayload) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Extra)+5)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["gameCode"] = p.GameCode
	setIfNotEmpty(out, "gameName", p.GameName)
	setIfNotEmpty(out, "platform", p.Platform)
	setIfNotEmpty(out, "gameType", p.GameType)
	setIfNotEmpty(out, "settleType", p.SettleType)
	return out
}

func setIfNotEmpty(m map[string]interface{}, key, val string) {
	if val != "" {
		m[key] = val
	}
}

// GameMetadataProvider 可选；失败时网关退化为 {gameCode}
type GameMetadataProvider interface {
	GetGamePayloads(ctx context.Context, gameCode string) (*GamePayload, error)
}

// GameValidator 可选；未知或停用的游戏返回 apperr NotFound
type GameValidator interface {
	ValidateGame(ctx context.Context, gameCode string) error
}

// AuditLog 只追加的审计日志
type AuditLog interface {
	Append(ctx context.Context, record *model.AuditRecord) (int64, error)
}

// RetryQueue 失败调用的补偿队列，调度由外部重试服务负责
type RetryQueue interface {
	Enqueue(ctx context.Context, job *model.RetryJob) (int64, error)
}
