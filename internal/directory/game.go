package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"walletbridge/internal/apperr"
	"walletbridge/internal/model"
	"walletbridge/internal/repository"
	"walletbridge/internal/service"
)

const gameKeyPrefix = "walletbridge:game:"

// GameCatalog 同时作为下注前的游戏校验与钱包报文的游戏字段来源
type GameCatalog struct {
	games *repository.GameRepository
	opts  options
}

func NewGameCatalog(games *repository.GameRepository, opts ...Option) *GameCatalog {
	return &GameCatalog{games: games, opts: newOptions(opts)}
}

// ValidateGame 未知或停用的游戏返回 NotFound
func (c *GameCatalog) ValidateGame(ctx context.Context, gameCode string) error {
	_, err := c.activeGame(ctx, gameCode)
	return err
}

func (c *GameCatalog) GetGamePayloads(ctx context.Context, gameCode string) (*service.GamePayload, error) {
	game, err := c.activeGame(ctx, gameCode)
	if err != nil {
		return nil, err
	}

	payload := &service.GamePayload{
		GameCode:   game.GameCode,
		GameName:   game.GameName,
		Platform:   game.Platform,
		GameType:   game.GameType,
		SettleType: game.SettleType,
	}
	if len(game.Extra) > 0 {
		if err := json.Unmarshal(game.Extra, &payload.Extra); err != nil {
			c.opts.logger.Warn("游戏附加字段不是 JSON 对象，已忽略",
				zap.String("game_code", gameCode), zap.Error(err))
			payload.Extra = nil
		}
	}
	return payload, nil
}

func (c *GameCatalog) Invalidate(ctx context.Context, gameCode string) error {
	return c.opts.cacheDel(ctx, gameKeyPrefix+gameCode)
}

func (c *GameCatalog) activeGame(ctx context.Context, gameCode string) (*model.Game, error) {
	key := gameKeyPrefix + gameCode

	var game model.Game
	if !c.opts.cacheGet(ctx, key, &game) {
		found, err := c.games.GetByGameCode(ctx, gameCode)
		if err != nil {
			if errors.Is(err, repository.ErrGameNotFound) {
				return nil, apperr.NotFound(fmt.Sprintf("游戏不存在: %s", gameCode))
			}
			return nil, fmt.Errorf("查询游戏失败: %w", err)
		}
		game = *found
		c.opts.cacheSet(ctx, key, &game)
	}

	if !game.Active {
		return nil, apperr.NotFound(fmt.Sprintf("游戏已停用: %s", gameCode))
	}
	return &game, nil
}
