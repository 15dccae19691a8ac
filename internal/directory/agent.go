package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"walletbridge/internal/apperr"
	"walletbridge/internal/repository"
	"walletbridge/internal/service"
)

const agentKeyPrefix = "walletbridge:agent:"

// agentRoute Redis 中只缓存路由信息，签名密钥不出进程
type agentRoute struct {
	AgentID     string `json:"agentId"`
	CallbackURL string `json:"callbackUrl"`
}

// AgentDirectory 按 agentId 解析回调地址与签名密钥，停用的代理视为不存在
//
// 【关键点】
// 1. Redis 条目决定缓存是否有效（TTL），密钥保存在本进程内存
// 2. 只有 Redis 条目与本地密钥同时存在才算命中，否则回源数据库
// 3. 代理停用或改密钥后调用 Invalidate，立即失效
type AgentDirectory struct {
	agents *repository.AgentRepository
	opts   options

	mu      sync.RWMutex
	secrets map[string]string
}

func NewAgentDirectory(agents *repository.AgentRepository, opts ...Option) *AgentDirectory {
	return &AgentDirectory{
		agents:  agents,
		opts:    newOptions(opts),
		secrets: make(map[string]string),
	}
}

func (d *AgentDirectory) Resolve(ctx context.Context, agentID string) (*service.AgentEndpoint, error) {
	key := agentKeyPrefix + agentID

	var cached agentRoute
	if d.opts.cacheGet(ctx, key, &cached) {
		if secret, ok := d.secret(agentID); ok {
			return &service.AgentEndpoint{
				AgentID:     cached.AgentID,
				CallbackURL: cached.CallbackURL,
				Credential:  secret,
			}, nil
		}
	}

	agent, err := d.agents.GetByAgentID(ctx, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrAgentNotFound) {
			d.forget(agentID)
			return nil, apperr.NotFound(fmt.Sprintf("代理不存在: %s", agentID))
		}
		return nil, fmt.Errorf("查询代理失败: %w", err)
	}
	if !agent.Active {
		d.forget(agentID)
		d.opts.logger.Info("代理已停用", zap.String("agent_id", agentID))
		return nil, apperr.NotFound(fmt.Sprintf("代理已停用: %s", agentID))
	}

	d.mu.Lock()
	d.secrets[agentID] = agent.SecretKey
	d.mu.Unlock()
	d.opts.cacheSet(ctx, key, agentRoute{AgentID: agent.AgentID, CallbackURL: agent.CallbackURL})

	return &service.AgentEndpoint{
		AgentID:     agent.AgentID,
		CallbackURL: agent.CallbackURL,
		Credential:  agent.SecretKey,
	}, nil
}

// Invalidate 代理停用、改地址或改密钥后清除缓存
func (d *AgentDirectory) Invalidate(ctx context.Context, agentID string) error {
	d.forget(agentID)
	return d.opts.cacheDel(ctx, agentKeyPrefix+agentID)
}

func (d *AgentDirectory) secret(agentID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.secrets[agentID]
	return s, ok
}

func (d *AgentDirectory) forget(agentID string) {
	d.mu.Lock()
	delete(d.secrets, agentID)
	d.mu.Unlock()
}
