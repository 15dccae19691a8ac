package job

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"walletbridge/internal/metrics"
	"walletbridge/internal/model"
	"walletbridge/internal/repository"
	"walletbridge/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StuckBetEvent 通知外部退款任务：注单下注后长时间未结算
type StuckBetEvent struct {
	BetID                int64           `json:"betId"`
	ExternalPlatformTxID string          `json:"externalPlatformTxId"`
	GameCode             string          `json:"gameCode"`
	RoundID              string          `json:"roundId"`
	UserID               string          `json:"userId"`
	OperatorID           string          `json:"operatorId"`
	BetAmount            decimal.Decimal `json:"betAmount"`
	Currency             string          `json:"currency"`
	PlacedAt             time.Time       `json:"placedAt"`
	DetectedAt           time.Time       `json:"detectedAt"`
}

// StuckBetJob 定期扫描超过 maxAge 仍为 Placed 的注单，每笔写一条 outbox 事件
//
// 同一注单在持续滞留期间只上报一次；注单离开 Placed 后从去重集合移除。
// 退款本身由外部任务处理，这里不修改注单。
type StuckBetJob struct {
	ledger     *service.BetLedger
	outboxRepo *repository.OutboxRepository
	topic      string
	maxAge     time.Duration
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	reported map[int64]struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewStuckBetJob(ledger *service.BetLedger, outboxRepo *repository.OutboxRepository, topic string, maxAge, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *StuckBetJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckBetJob{
		ledger:     ledger,
		outboxRepo: outboxRepo,
		topic:      topic,
		maxAge:     maxAge,
		interval:   interval,
		metrics:    m,
		logger:     logger.Named("stuck_bet_job"),
		now:        time.Now,
		reported:   make(map[int64]struct{}),
		stopCh:     make(chan struct{}),
	}
}

func (j *StuckBetJob) Start(ctx context.Context) {
	j.logger.Info("滞留注单扫描任务启动", zap.Duration("max_age", j.maxAge), zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.scan(ctx)
		}
	}
}

func (j *StuckBetJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// scan 返回本轮新上报的注单数
func (j *StuckBetJob) scan(ctx context.Context) int {
	bets, err := j.ledger.FindOldPlacedBets(ctx, j.maxAge)
	if err != nil {
		j.logger.Error("查询滞留注单失败", zap.Error(err))
		return 0
	}

	current := make(map[int64]struct{}, len(bets))
	reported := 0
	for _, bet := range bets {
		current[bet.ID] = struct{}{}
		if _, ok := j.reported[bet.ID]; ok {
			continue
		}
		if err := j.report(ctx, bet); err != nil {
			j.logger.Error("写入滞留注单事件失败",
				zap.String("platform_tx_id", bet.ExternalPlatformTxID),
				zap.Error(err),
			)
			delete(current, bet.ID)
			continue
		}
		reported++
	}
	j.reported = current

	if reported > 0 {
		j.metrics.StuckBetsFound(reported)
		j.logger.Info("发现滞留注单", zap.Int("count", reported))
	}
	return reported
}

func (j *StuckBetJob) report(ctx context.Context, bet *model.Bet) error {
	placedAt := bet.CreatedAt
	if bet.BetPlacedAt != nil {
		placedAt = *bet.BetPlacedAt
	}

	payload, err := json.Marshal(StuckBetEvent{
		BetID:                bet.ID,
		ExternalPlatformTxID: bet.ExternalPlatformTxID,
		GameCode:             bet.GameCode,
		RoundID:              bet.RoundID,
		UserID:               bet.UserID,
		OperatorID:           bet.OperatorID,
		BetAmount:            bet.BetAmount,
		Currency:             bet.Currency,
		PlacedAt:             placedAt.UTC(),
		DetectedAt:           j.now().UTC(),
	})
	if err != nil {
		return err
	}

	return j.outboxRepo.Create(ctx, nil, &model.OutboxMessage{
		MessageKey: "bet:" + strconv.FormatInt(bet.ID, 10),
		EventType:  model.EventBetStuck,
		Topic:      j.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
