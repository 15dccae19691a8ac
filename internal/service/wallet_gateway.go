package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"walletbridge/internal/apperr"
	"walletbridge/internal/metrics"
	"walletbridge/internal/model"
	"walletbridge/internal/wallet"
	"walletbridge/pkg/idgen"
)

// ============================================================================
// 钱包网关
// ============================================================================
//
// 每次调用：解析代理 → 组装报文 → 发送 → 映射响应 → 成功 / 业务拒绝 / 传输失败
//
// 【关键点】
// 1. 每个终态恰好写一条审计记录
// 2. 结算、退款失败额外写一条重试任务，且必须在审计写完之后，引用审计记录 ID
// 3. 审计与重试都在后台执行，失败只记日志和指标，不影响调用方看到的结果
// 4. 网关从不修改注单
// ============================================================================

var ErrEmptyRefundBatch = errors.New("退款批次为空")

const (
	defaultAuditTimeout = 5 * time.Second
	maxErrorMessageLen  = 1024
)

type WalletGateway struct {
	agents AgentDirectory
	games  GameMetadataProvider
	audit  AuditLog
	retry  RetryQueue
	client *wallet.Client

	metrics      *metrics.Metrics
	logger       *zap.Logger
	auditTimeout time.Duration
	now          func() time.Time

	wg sync.WaitGroup
}

type GatewayOption func(*WalletGateway)

// WithGameMetadata 注入游戏元数据；不注入时报文只带 gameCode
func WithGameMetadata(p GameMetadataProvider) GatewayOption {
	return func(g *WalletGateway) { g.games = p }
}

func WithGatewayMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *WalletGateway) { g.metrics = m }
}

func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(g *WalletGateway) { g.logger = l }
}

func WithAuditTimeout(d time.Duration) GatewayOption {
	return func(g *WalletGateway) {
		if d > 0 {
			g.auditTimeout = d
		}
	}
}

func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *WalletGateway) { g.now = now }
}

func NewWalletGateway(agents AgentDirectory, audit AuditLog, retry RetryQueue, client *wallet.Client, opts ...GatewayOption) *WalletGateway {
	g := &WalletGateway{
		agents:       agents,
		audit:        audit,
		retry:        retry,
		client:       client,
		logger:       zap.NewNop(),
		auditTimeout: defaultAuditTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wait 等待所有后台审计/重试写入完成，用于优雅退出
func (g *WalletGateway) Wait() {
	g.wg.Wait()
}

// ---------------------------------------------------------------------------
// 请求参数
// ---------------------------------------------------------------------------

type BalanceRequest struct {
	RequestID string `json:"requestId"`
	AgentID   string `json:"agentId" binding:"required"`
	UserID    string `json:"userId" binding:"required"`
}

type PlaceBetRequest struct {
	RequestID    string          `json:"requestId"`
	AgentID      string          `json:"agentId" binding:"required"`
	UserID       string          `json:"userId" binding:"required"`
	PlatformTxID string          `json:"platformTxId" binding:"required"`
	RoundID      string          `json:"roundId"`
	GameCode     string          `json:"gameCode" binding:"required"`
	Currency     string          `json:"currency" binding:"required"`
	BetAmount    decimal.Decimal `json:"betAmount"`
	BetTime      time.Time       `json:"betTime"`
}

type SettleBetRequest struct {
	RequestID    string          `json:"requestId"`
	AgentID      string          `json:"agentId" binding:"required"`
	UserID       string          `json:"userId"`
	PlatformTxID string          `json:"platformTxId" binding:"required"`
	RoundID      string          `json:"roundId"`
	GameCode     string          `json:"gameCode"`
	Currency     string          `json:"currency"`
	BetAmount    decimal.Decimal `json:"betAmount"`
	WinAmount    decimal.Decimal `json:"winAmount"`
	GameInfo     json.RawMessage `json:"gameInfo,omitempty"`
	SettleTime   time.Time       `json:"settleTime"`
}

type RefundTxn struct {
	PlatformTxID       string          `json:"platformTxId" binding:"required"`
	RefundPlatformTxID string          `json:"refundPlatformTxId" binding:"required"`
	RoundID            string          `json:"roundId"`
	GameCode           string          `json:"gameCode"`
	Currency           string          `json:"currency"`
	BetAmount          decimal.Decimal `json:"betAmount"`
	WinAmount          decimal.Decimal `json:"winAmount"`
}

// RefundBetRequest 同一代理、同一用户的一批退款
type RefundBetRequest struct {
	RequestID string      `json:"requestId"`
	AgentID   string      `json:"agentId" binding:"required"`
	UserID    string      `json:"userId" binding:"required"`
	Txns      []RefundTxn `json:"txns" binding:"required,dive"`
}

// ---------------------------------------------------------------------------
// 对外操作
// ---------------------------------------------------------------------------

func (g *WalletGateway) ResolveAgent(ctx context.Context, agentID string) (*AgentEndpoint, error) {
	agent, err := g.agents.Resolve(ctx, agentID)
	if err != nil {
		if apperr.KindOf(err) != "" {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindUnknownError, "解析代理失败", err)
	}
	if agent == nil {
		return nil, apperr.NotFound(fmt.Sprintf("代理不存在: %s", agentID))
	}
	return agent, nil
}

// GetBalance 查询余额，失败只审计不重试
func (g *WalletGateway) GetBalance(ctx context.Context, req *BalanceRequest) (*wallet.Response, error) {
	agent, err := g.ResolveAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	return g.call(ctx, &walletCall{
		action:    model.APIActionGetBalance,
		requestID: req.RequestID,
		agent:     agent,
		userID:    req.UserID,
		message:   wallet.BalanceMessage{Action: wallet.ActionGetBalance, UserID: req.UserID},
	})
}

// PlaceBet 下注扣款；失败由调用方同步处理，不写重试任务
func (g *WalletGateway) PlaceBet(ctx context.Context, req *PlaceBetRequest) (*wallet.Response, error) {
	agent, err := g.ResolveAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	game := g.enrich(ctx, req.GameCode)
	betTime := req.BetTime
	if betTime.IsZero() {
		betTime = g.now()
	}

	txn := newTxn(game)
	txn["platformTxId"] = req.PlatformTxID
	txn["userId"] = req.UserID
	txn["currency"] = req.Currency
	txn["betAmount"] = wallet.Amount(req.BetAmount)
	txn["betTime"] = wallet.Timestamp(betTime)
	txn["roundId"] = req.RoundID

	return g.call(ctx, &walletCall{
		action:       model.APIActionPlaceBet,
		requestID:    req.RequestID,
		agent:        agent,
		userID:       req.UserID,
		message:      wallet.TxnMessage{Action: wallet.ActionBet, Txns: []wallet.Txn{txn}},
		platformTxID: req.PlatformTxID,
		roundID:      req.RoundID,
		gameCode:     req.GameCode,
		currency:     req.Currency,
		betAmount:    decimal.NewNullDecimal(req.BetAmount),
		game:         game,
	})
}

// SettleBet 结算；失败时写重试任务
func (g *WalletGateway) SettleBet(ctx context.Context, req *SettleBetRequest) (*wallet.Response, error) {
	agent, err := g.ResolveAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	game := g.enrich(ctx, req.GameCode)
	settleTime := req.SettleTime
	if settleTime.IsZero() {
		settleTime = g.now()
	}

	txn := newTxn(game)
	txn["platformTxId"] = req.PlatformTxID
	txn["userId"] = req.UserID
	txn["currency"] = req.Currency
	txn["betAmount"] = wallet.Amount(req.BetAmount)
	txn["winAmount"] = wallet.Amount(req.WinAmount)
	txn["updateTime"] = wallet.Timestamp(settleTime)
	txn["roundId"] = req.RoundID
	if len(req.GameInfo) > 0 {
		txn["gameInfo"] = string(req.GameInfo)
	}

	return g.call(ctx, &walletCall{
		action:       model.APIActionSettleBet,
		requestID:    req.RequestID,
		agent:        agent,
		userID:       req.UserID,
		message:      wallet.TxnMessage{Action: wallet.ActionSettle, Txns: []wallet.Txn{txn}},
		platformTxID: req.PlatformTxID,
		roundID:      req.RoundID,
		gameCode:     req.GameCode,
		currency:     req.Currency,
		betAmount:    decimal.NewNullDecimal(req.BetAmount),
		winAmount:    decimal.NewNullDecimal(req.WinAmount),
		game:         game,
		retryable:    true,
	})
}

// RefundBet 批量退款
//
// 代理只解析一次，游戏字段按第一笔的 gameCode 丰富一次；
// 审计与重试记录的金额为整批合计，重试任务的标识字段取第一笔，请求快照包含整批。
func (g *WalletGateway) RefundBet(ctx context.Context, req *RefundBetRequest) (*wallet.Response, error) {
	if len(req.Txns) == 0 {
		return nil, ErrEmptyRefundBatch
	}

	agent, err := g.ResolveAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	first := req.Txns[0]
	game := g.enrich(ctx, first.GameCode)
	updateTime := wallet.Timestamp(g.now())

	txns := make([]wallet.Txn, 0, len(req.Txns))
	totalBet, totalWin := decimal.Zero, decimal.Zero
	for _, t := range req.Txns {
		txn := newTxn(game)
		if t.GameCode != "" {
			txn["gameCode"] = t.GameCode
		}
		txn["platformTxId"] = t.PlatformTxID
		txn["refundPlatformTxId"] = t.RefundPlatformTxID
		txn["userId"] = req.UserID
		txn["currency"] = t.Currency
		txn["betAmount"] = wallet.Amount(t.BetAmount)
		txn["winAmount"] = wallet.Amount(t.WinAmount)
		txn["updateTime"] = updateTime
		txn["roundId"] = t.RoundID
		txns = append(txns, txn)

		totalBet = totalBet.Add(t.BetAmount)
		totalWin = totalWin.Add(t.WinAmount)
	}

	return g.call(ctx, &walletCall{
		action:       model.APIActionRefundBet,
		requestID:    req.RequestID,
		agent:        agent,
		userID:       req.UserID,
		message:      wallet.TxnMessage{Action: wallet.ActionCancelBet, Txns: txns},
		platformTxID: first.PlatformTxID,
		roundID:      first.RoundID,
		gameCode:     first.GameCode,
		currency:     first.Currency,
		betAmount:    decimal.NewNullDecimal(totalBet),
		winAmount:    decimal.NewNullDecimal(totalWin),
		game:         game,
		retryable:    true,
	})
}

// ---------------------------------------------------------------------------
// 内部实现
// ---------------------------------------------------------------------------

type walletCall struct {
	action    string
	requestID string
	agent     *AgentEndpoint
	userID    string
	message   interface{}

	platformTxID string
	roundID      string
	gameCode     string
	currency     string
	betAmount    decimal.NullDecimal
	winAmount    decimal.NullDecimal
	game         map[string]interface{}

	retryable bool
}

func (g *WalletGateway) call(ctx context.Context, c *walletCall) (*wallet.Response, error) {
	if c.requestID == "" {
		c.requestID = idgen.GenerateRequestID()
	}

	ex, err := g.client.Send(ctx, c.agent.CallbackURL, c.agent.Credential, c.message)

	outcome := "success"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	g.metrics.ObserveWalletCall(c.action, outcome, ex.Elapsed)

	record := g.buildAuditRecord(c, ex, err)
	g.recordAsync(ctx, c, record, ex, err)

	if err != nil {
		g.logger.Warn("钱包调用失败",
			zap.String("request_id", c.requestID),
			zap.String("action", c.action),
			zap.String("agent_id", c.agent.AgentID),
			zap.String("platform_tx_id", c.platformTxID),
			zap.String("failure_type", outcome),
			zap.Error(err),
		)
		return nil, err
	}

	g.logger.Info("钱包调用成功",
		zap.String("request_id", c.requestID),
		zap.String("action", c.action),
		zap.String("agent_id", c.agent.AgentID),
		zap.Duration("elapsed", ex.Elapsed),
	)
	return ex.Response, nil
}

// recordAsync 后台写审计，再按需写重试任务
//
// 【关键点】使用脱离调用方取消的 context，调用方请求结束后写入仍会完成；
// 任何错误（包括 panic）都在这里吞掉。
func (g *WalletGateway) recordAsync(ctx context.Context, c *walletCall, record *model.AuditRecord, ex *wallet.Exchange, callErr error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("审计/重试写入 panic",
					zap.String("request_id", c.requestID),
					zap.Any("panic", r),
				)
			}
		}()

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.auditTimeout)
		defer cancel()

		auditID, err := g.audit.Append(bgCtx, record)
		if err != nil {
			g.metrics.AuditWriteFailed()
			g.logger.Error("写入审计记录失败",
				zap.String("request_id", c.requestID),
				zap.String("action", c.action),
				zap.Error(err),
			)
		}

		if callErr == nil || !c.retryable {
			return
		}

		job := g.buildRetryJob(c, ex, auditID, callErr)
		if _, err := g.retry.Enqueue(bgCtx, job); err != nil {
			g.metrics.RetryEnqueueFailed()
			g.logger.Error("创建重试任务失败",
				zap.String("request_id", c.requestID),
				zap.String("action", c.action),
				zap.String("platform_tx_id", c.platformTxID),
				zap.Error(err),
			)
			return
		}
		g.metrics.RetryJobEnqueued(c.action)
		g.logger.Info("已创建重试任务",
			zap.String("job_no", job.JobNo),
			zap.Int64("audit_record_id", auditID),
			zap.String("action", c.action),
		)
	}()
}

// enrich 拉取游戏字段，提供方缺失、报错或 panic 时退化为 {gameCode}
func (g *WalletGateway) enrich(ctx context.Context, gameCode string) (fields map[string]interface{}) {
	fallback := map[string]interface{}{"gameCode": gameCode}
	if g.games == nil {
		return fallback
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("获取游戏元数据 panic，使用最小报文", zap.String("game_code", gameCode), zap.Any("panic", r))
			fields = fallback
		}
	}()

	payload, err := g.games.GetGamePayloads(ctx, gameCode)
	if err != nil || payload == nil {
		g.logger.Warn("获取游戏元数据失败，使用最小报文", zap.String("game_code", gameCode), zap.Error(err))
		return fallback
	}

	fields = payload.Fields()
	if v, _ := fields["gameCode"].(string); v == "" {
		fields["gameCode"] = gameCode
	}
	return fields
}

func newTxn(game map[string]interface{}) wallet.Txn {
	txn := make(wallet.Txn, len(game)+10)
	for k, v := range game {
		txn[k] = v
	}
	return txn
}

func (g *WalletGateway) buildAuditRecord(c *walletCall, ex *wallet.Exchange, callErr error) *model.AuditRecord {
	record := &model.AuditRecord{
		RequestID:      c.requestID,
		AgentID:        c.agent.AgentID,
		UserID:         c.userID,
		APIAction:      c.action,
		Status:         model.AuditStatusSuccess,
		RequestBody:    jsonOrNil(ex.Message),
		ResponseBody:   responseJSON(ex.Body),
		HTTPStatus:     ex.HTTPStatus,
		ResponseTimeMs: ex.Elapsed.Milliseconds(),
		PlatformTxID:   c.platformTxID,
		RoundID:        c.roundID,
		BetAmount:      c.betAmount,
		WinAmount:      c.winAmount,
		Currency:       c.currency,
		CallbackURL:    c.agent.CallbackURL,
	}
	if callErr != nil {
		record.Status = model.AuditStatusFailure
		record.FailureType = string(apperr.KindOf(callErr))
		record.ErrorMessage = truncate(callErr.Error(), maxErrorMessageLen)
	}
	return record
}

func (g *WalletGateway) buildRetryJob(c *walletCall, ex *wallet.Exchange, auditID int64, callErr error) *model.RetryJob {
	var gamePayload datatypes.JSON
	if b, err := json.Marshal(c.game); err == nil {
		gamePayload = b
	}
	return &model.RetryJob{
		JobNo:           idgen.GenerateRetryJobNo(),
		RequestID:       c.requestID,
		AgentID:         c.agent.AgentID,
		UserID:          c.userID,
		APIAction:       c.action,
		PlatformTxID:    c.platformTxID,
		RoundID:         c.roundID,
		GameCode:        c.gameCode,
		BetAmount:       c.betAmount,
		WinAmount:       c.winAmount,
		Currency:        c.currency,
		RequestSnapshot: jsonOrNil(ex.Message),
		GamePayload:     gamePayload,
		AuditRecordID:   auditID,
		ErrorMessage:    truncate(callErr.Error(), maxErrorMessageLen),
		Status:          model.RetryJobStatusPending,
	}
}

func jsonOrNil(b []byte) datatypes.JSON {
	if len(b) == 0 {
		return nil
	}
	return datatypes.JSON(b)
}

// responseJSON 非 JSON 响应体按字符串存储
func responseJSON(body []byte) datatypes.JSON {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	b, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return b
}

// truncate 最多保留 n 字节，回退到 UTF-8 字符边界
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
