package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"walletbridge/internal/apperr"
	"walletbridge/internal/infrastructure/database/dbtest"
	"walletbridge/internal/model"
	"walletbridge/internal/repository"
	"walletbridge/internal/wallet"
)

const testCredential = "s3cr3t-key"

type gatewayFixture struct {
	gw    *WalletGateway
	audit *fakeAudit
	retry *fakeRetry
}

func newGatewayFixture(t *testing.T, callbackURL string, opts ...GatewayOption) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{audit: &fakeAudit{}, retry: &fakeRetry{}}
	agents := fakeAgents{"A1": {AgentID: "A1", CallbackURL: callbackURL, Credential: testCredential}}
	f.gw = NewWalletGateway(agents, f.audit, f.retry, wallet.NewClient(2*time.Second, ""), opts...)
	return f
}

func settleReq() *SettleBetRequest {
	return &SettleBetRequest{
		RequestID:    "req-settle",
		AgentID:      "A1",
		UserID:       "u1",
		PlatformTxID: "T1",
		RoundID:      "R1",
		GameCode:     "G1",
		Currency:     "USD",
		BetAmount:    decimal.RequireFromString("5.00"),
		WinAmount:    decimal.RequireFromString("10.50"),
	}
}

func placeReq() *PlaceBetRequest {
	return &PlaceBetRequest{
		RequestID:    "req-place",
		AgentID:      "A1",
		UserID:       "u1",
		PlatformTxID: "T1",
		RoundID:      "R1",
		GameCode:     "G1",
		Currency:     "USD",
		BetAmount:    decimal.RequireFromString("5.00"),
	}
}

func refundReq() *RefundBetRequest {
	return &RefundBetRequest{
		RequestID: "req-refund",
		AgentID:   "A1",
		UserID:    "u1",
		Txns: []RefundTxn{
			{PlatformTxID: "T1", RefundPlatformTxID: "RF1", RoundID: "R1", GameCode: "G1", Currency: "USD",
				BetAmount: decimal.RequireFromString("5.00"), WinAmount: decimal.RequireFromString("1.25")},
			{PlatformTxID: "T2", RefundPlatformTxID: "RF2", RoundID: "R1", GameCode: "G1", Currency: "USD",
				BetAmount: decimal.RequireFromString("2.50"), WinAmount: decimal.Zero},
		},
	}
}

func TestGetBalanceSuccess(t *testing.T) {
	ws := newWalletServer(t, 200, `{"status":"RS_OK","balance":"120.75","userId":"u1"}`)
	f := newGatewayFixture(t, ws.URL)

	resp, err := f.gw.GetBalance(context.Background(), &BalanceRequest{RequestID: "r1", AgentID: "A1", UserID: "u1"})
	f.gw.Wait()
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !resp.Balance.Decimal.Equal(decimal.RequireFromString("120.75")) {
		t.Errorf("balance = %s", resp.Balance.Decimal)
	}
	msg, key := ws.first(t)
	if key != testCredential {
		t.Errorf("envelope key = %q", key)
	}
	if msg["action"] != wallet.ActionGetBalance || msg["userId"] != "u1" {
		t.Errorf("message = %v", msg)
	}

	records := f.audit.all()
	if len(records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Status != model.AuditStatusSuccess || r.APIAction != model.APIActionGetBalance || r.HTTPStatus != 200 {
		t.Errorf("audit = %+v", r)
	}
	if strings.Contains(string(r.RequestBody), testCredential) {
		t.Errorf("audit request body leaks credential: %s", r.RequestBody)
	}
	if len(f.retry.all()) != 0 {
		t.Error("balance success must not create retry job")
	}
}

func TestGetBalanceFailureNeverRetries(t *testing.T) {
	ws := newWalletServer(t, 500, `oops`)
	f := newGatewayFixture(t, ws.URL)

	_, err := f.gw.GetBalance(context.Background(), &BalanceRequest{AgentID: "A1", UserID: "u1"})
	f.gw.Wait()

	if !errors.Is(err, apperr.ErrHTTPError) {
		t.Fatalf("err = %v, want HttpError", err)
	}
	records := f.audit.all()
	if len(records) != 1 || records[0].FailureType != string(apperr.KindHTTPError) {
		t.Fatalf("audit = %+v", records)
	}
	if records[0].RequestID == "" {
		t.Error("missing generated request id")
	}
	if len(f.retry.all()) != 0 {
		t.Error("balance failure must not create retry job")
	}
}

func TestRejectionIsApplicationFailure(t *testing.T) {
	ws := newWalletServer(t, 200, `{"status":"INSUFFICIENT_BALANCE"}`)
	f := newGatewayFixture(t, ws.URL)

	_, err := f.gw.PlaceBet(context.Background(), placeReq())
	f.gw.Wait()

	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindAgentRejected {
		t.Fatalf("err = %v, want AgentRejected", err)
	}
	if ae.AgentStatus != "INSUFFICIENT_BALANCE" {
		t.Errorf("agent status = %q", ae.AgentStatus)
	}

	records := f.audit.all()
	if len(records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(records))
	}
	if records[0].Status != model.AuditStatusFailure || records[0].FailureType != string(apperr.KindAgentRejected) {
		t.Errorf("audit = %+v", records[0])
	}
	if len(f.retry.all()) != 0 {
		t.Error("placement failure must not create retry job")
	}
}

func TestNetworkFailureRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		call      func(gw *WalletGateway) error
		wantRetry bool
	}{
		{
			name: "settle",
			call: func(gw *WalletGateway) error {
				_, err := gw.SettleBet(context.Background(), settleReq())
				return err
			},
			wantRetry: true,
		},
		{
			name: "refund",
			call: func(gw *WalletGateway) error {
				_, err := gw.RefundBet(context.Background(), refundReq())
				return err
			},
			wantRetry: true,
		},
		{
			name: "place",
			call: func(gw *WalletGateway) error {
				_, err := gw.PlaceBet(context.Background(), placeReq())
				return err
			},
		},
		{
			name: "balance",
			call: func(gw *WalletGateway) error {
				_, err := gw.GetBalance(context.Background(), &BalanceRequest{AgentID: "A1", UserID: "u1"})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t, deadURL(t))

			err := tt.call(f.gw)
			f.gw.Wait()

			if !errors.Is(err, apperr.ErrNetworkError) {
				t.Fatalf("err = %v, want NetworkError", err)
			}
			records := f.audit.all()
			if len(records) != 1 {
				t.Fatalf("audit records = %d, want 1", len(records))
			}
			jobs := f.retry.all()
			if !tt.wantRetry {
				if len(jobs) != 0 {
					t.Fatalf("retry jobs = %d, want 0", len(jobs))
				}
				return
			}
			if len(jobs) != 1 {
				t.Fatalf("retry jobs = %d, want 1", len(jobs))
			}
			if jobs[0].AuditRecordID != records[0].ID {
				t.Errorf("job audit id = %d, want %d", jobs[0].AuditRecordID, records[0].ID)
			}
			if jobs[0].Status != model.RetryJobStatusPending || jobs[0].ErrorMessage == "" {
				t.Errorf("job = %+v", jobs[0])
			}
		})
	}
}

func TestRefundAggregatesBatch(t *testing.T) {
	f := newGatewayFixture(t, deadURL(t))

	_, _ = f.gw.RefundBet(context.Background(), refundReq())
	f.gw.Wait()

	record := f.audit.all()[0]
	if !record.BetAmount.Decimal.Equal(decimal.RequireFromString("7.50")) {
		t.Errorf("audit betAmount = %s", record.BetAmount.Decimal)
	}
	if !record.WinAmount.Decimal.Equal(decimal.RequireFromString("1.25")) {
		t.Errorf("audit winAmount = %s", record.WinAmount.Decimal)
	}

	job := f.retry.all()[0]
	if job.PlatformTxID != "T1" || job.APIAction != model.APIActionRefundBet {
		t.Errorf("job identity = %s/%s", job.PlatformTxID, job.APIAction)
	}
	if !job.BetAmount.Decimal.Equal(decimal.RequireFromString("7.50")) {
		t.Errorf("job betAmount = %s", job.BetAmount.Decimal)
	}

	var snapshot wallet.TxnMessage
	if err := json.Unmarshal(job.RequestSnapshot, &snapshot); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Action != wallet.ActionCancelBet || len(snapshot.Txns) != 2 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot.Txns[1]["refundPlatformTxId"] != "RF2" {
		t.Errorf("second txn = %v", snapshot.Txns[1])
	}
}

func TestRefundWirePayload(t *testing.T) {
	ws := newWalletServer(t, 200, `{"status":"RS_OK"}`)
	f := newGatewayFixture(t, ws.URL)

	if _, err := f.gw.RefundBet(context.Background(), refundReq()); err != nil {
		t.Fatalf("RefundBet: %v", err)
	}
	f.gw.Wait()

	txns := ws.lastTxns(t)
	if len(txns) != 2 {
		t.Fatalf("txns = %d", len(txns))
	}
	if txns[0]["refundPlatformTxId"] != "RF1" || txns[0]["platformTxId"] != "T1" {
		t.Errorf("txn[0] = %v", txns[0])
	}
	if txns[0]["betAmount"].(float64) != 5 || txns[0]["winAmount"].(float64) != 1.25 {
		t.Errorf("amounts = %v / %v", txns[0]["betAmount"], txns[0]["winAmount"])
	}
	if len(f.retry.all()) != 0 {
		t.Error("successful refund must not create retry job")
	}
}

func TestRefundEmptyBatch(t *testing.T) {
	f := newGatewayFixture(t, deadURL(t))
	_, err := f.gw.RefundBet(context.Background(), &RefundBetRequest{AgentID: "A1", UserID: "u1"})
	f.gw.Wait()
	if !errors.Is(err, ErrEmptyRefundBatch) {
		t.Fatalf("err = %v", err)
	}
	if len(f.audit.all()) != 0 {
		t.Error("no call, no audit")
	}
}

func TestEnrichmentFallback(t *testing.T) {
	tests := []struct {
		name  string
		games GameMetadataProvider
	}{
		{name: "no provider"},
		{name: "provider error", games: &fakeGames{err: errors.New("catalog offline")}},
		{name: "provider panic", games: &fakeGames{panics: true}},
	}

	calls := map[string]func(gw *WalletGateway) error{
		"place": func(gw *WalletGateway) error {
			_, err := gw.PlaceBet(context.Background(), placeReq())
			return err
		},
		"settle": func(gw *WalletGateway) error {
			_, err := gw.SettleBet(context.Background(), settleReq())
			return err
		},
		"refund": func(gw *WalletGateway) error {
			_, err := gw.RefundBet(context.Background(), refundReq())
			return err
		},
	}

	for _, tt := range tests {
		for op, call := range calls {
			t.Run(tt.name+"/"+op, func(t *testing.T) {
				ws := newWalletServer(t, 200, `{"status":"RS_OK"}`)
				var opts []GatewayOption
				if tt.games != nil {
					opts = append(opts, WithGameMetadata(tt.games))
				}
				f := newGatewayFixture(t, ws.URL, opts...)

				if err := call(f.gw); err != nil {
					t.Fatalf("call: %v", err)
				}
				f.gw.Wait()

				txn := ws.lastTxns(t)[0]
				if txn["gameCode"] != "G1" {
					t.Errorf("gameCode = %v", txn["gameCode"])
				}
				if _, ok := txn["gameName"]; ok {
					t.Errorf("unexpected gameName in fallback payload: %v", txn)
				}
			})
		}
	}
}

func TestEnrichmentMergesGameFields(t *testing.T) {
	ws := newWalletServer(t, 200, `{"status":"RS_OK"}`)
	games := &fakeGames{payload: &GamePayload{
		GameCode:   "G1",
		GameName:   "Lucky Dice",
		Platform:   "SEXYBCRT",
		GameType:   "LIVE",
		SettleType: "platformTxId",
		Extra:      map[string]interface{}{"gameName": "overridden", "tableId": "T-9"},
	}}
	f := newGatewayFixture(t, ws.URL, WithGameMetadata(games))

	if _, err := f.gw.SettleBet(context.Background(), settleReq()); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}
	f.gw.Wait()

	txn := ws.lastTxns(t)[0]
	want := map[string]interface{}{
		"gameCode":     "G1",
		"gameName":     "Lucky Dice",
		"platform":     "SEXYBCRT",
		"gameType":     "LIVE",
		"settleType":   "platformTxId",
		"tableId":      "T-9",
		"platformTxId": "T1",
		"roundId":      "R1",
		"userId":       "u1",
		"currency":     "USD",
	}
	for k, v := range want {
		if txn[k] != v {
			t.Errorf("%s = %v, want %v", k, txn[k], v)
		}
	}
	if txn["winAmount"].(float64) != 10.5 {
		t.Errorf("winAmount = %v", txn["winAmount"])
	}
}

func TestUnknownAgentIsNotFound(t *testing.T) {
	f := newGatewayFixture(t, deadURL(t))
	req := settleReq()
	req.AgentID = "nobody"

	_, err := f.gw.SettleBet(context.Background(), req)
	f.gw.Wait()

	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
	if len(f.audit.all()) != 0 || len(f.retry.all()) != 0 {
		t.Error("unresolved agent must not produce audit or retry rows")
	}
}

func TestAuditFailureIsContained(t *testing.T) {
	t.Run("success stays success", func(t *testing.T) {
		ws := newWalletServer(t, 200, `{"status":"RS_OK"}`)
		f := newGatewayFixture(t, ws.URL)
		f.audit.err = errStoreDown

		_, err := f.gw.SettleBet(context.Background(), settleReq())
		f.gw.Wait()
		if err != nil {
			t.Fatalf("audit failure leaked: %v", err)
		}
	})

	t.Run("failure keeps its kind and still enqueues", func(t *testing.T) {
		f := newGatewayFixture(t, deadURL(t))
		f.audit.err = errStoreDown

		_, err := f.gw.SettleBet(context.Background(), settleReq())
		f.gw.Wait()
		if !errors.Is(err, apperr.ErrNetworkError) {
			t.Fatalf("err = %v, want NetworkError", err)
		}
		jobs := f.retry.all()
		if len(jobs) != 1 || jobs[0].AuditRecordID != 0 {
			t.Fatalf("jobs = %+v", jobs)
		}
	})
}

func TestRetryEnqueueFailureIsContained(t *testing.T) {
	ws := newWalletServer(t, 200, `{"status":"TX_NOT_FOUND"}`)
	f := newGatewayFixture(t, ws.URL)
	f.retry.err = errStoreDown

	_, err := f.gw.SettleBet(context.Background(), settleReq())
	f.gw.Wait()

	if !errors.Is(err, apperr.ErrAgentRejected) {
		t.Fatalf("err = %v, want AgentRejected", err)
	}
	if len(f.audit.all()) != 1 {
		t.Error("audit should still be written")
	}
}

func TestAuditSurvivesCallerCancellation(t *testing.T) {
	ws := newWalletServer(t, 200, `{"status":"RS_OK"}`)
	f := newGatewayFixture(t, ws.URL)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.gw.GetBalance(ctx, &BalanceRequest{AgentID: "A1", UserID: "u1"})
	cancel()
	f.gw.Wait()

	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if len(f.audit.all()) != 1 {
		t.Error("audit lost after caller cancelled")
	}
}

func TestGatewayPersistsAuditAndRetryRows(t *testing.T) {
	db := dbtest.NewDB(t)
	auditRepo := repository.NewAuditRepository(db)
	retryRepo := repository.NewRetryJobRepository(db, "wallet.retry_job")
	outboxRepo := repository.NewOutboxRepository(db)

	agents := fakeAgents{"A1": {AgentID: "A1", CallbackURL: deadURL(t), Credential: testCredential}}
	gw := NewWalletGateway(agents, auditRepo, retryRepo, wallet.NewClient(time.Second, ""))

	_, err := gw.SettleBet(context.Background(), settleReq())
	gw.Wait()
	if !errors.Is(err, apperr.ErrNetworkError) {
		t.Fatalf("err = %v", err)
	}

	ctx := context.Background()
	records, err := auditRepo.ListByRequestID(ctx, "req-settle")
	if err != nil || len(records) != 1 {
		t.Fatalf("audit rows = %d, err = %v", len(records), err)
	}
	if records[0].FailureType != string(apperr.KindNetworkError) || records[0].PlatformTxID != "T1" {
		t.Errorf("audit row = %+v", records[0])
	}

	jobs, err := retryRepo.ListByAuditRecordID(ctx, records[0].ID)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("retry rows = %d, err = %v", len(jobs), err)
	}
	if !jobs[0].WinAmount.Decimal.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("job winAmount = %s", jobs[0].WinAmount.Decimal)
	}

	pending, err := outboxRepo.ListByStatus(ctx, model.OutboxStatusPending, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("outbox rows = %d, err = %v", len(pending), err)
	}
	if pending[0].MessageKey != jobs[0].JobNo || pending[0].Topic != "wallet.retry_job" {
		t.Errorf("outbox = %+v", pending[0])
	}
}

func TestTruncateKeepsByteLimitAndRuneBoundary(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"ascii", strings.Repeat("a", 20), 8, strings.Repeat("a", 8)},
		// “余”占 3 字节，4 字节上限只能保留 1 个字符
		{"multibyte", "余额不足", 4, "余"},
		{"exact", "余额", 6, "余额"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.n)
			if got != tc.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
			}
			if len(got) > tc.n || !utf8.ValidString(got) {
				t.Errorf("result %q breaks byte limit or rune boundary", got)
			}
		})
	}

	long := truncate(strings.Repeat("错", 1000), maxErrorMessageLen)
	if len(long) > maxErrorMessageLen || !utf8.ValidString(long) {
		t.Errorf("len = %d, valid = %v", len(long), utf8.ValidString(long))
	}
}
