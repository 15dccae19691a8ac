package repository

import (
	"context"
	"errors"

	"walletbridge/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAgentNotFound = errors.New("代理不存在")
	ErrGameNotFound  = errors.New("游戏不存在")
)

type AgentRepository struct {
	db *gorm.DB
}

func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

func (r *AgentRepository) GetByAgentID(ctx context.Context, agentID string) (*model.Agent, error) {
	var agent model.Agent
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

type GameRepository struct {
	db *gorm.DB
}

func NewGameRepository(db *gorm.DB) *GameRepository {
	return &GameRepository{db: db}
}

func (r *GameRepository) GetByGameCode(ctx context.Context, gameCode string) (*model.Game, error) {
	var game model.Game
	err := r.db.WithContext(ctx).Where("game_code = ?", gameCode).First(&game).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return &game, nil
}
