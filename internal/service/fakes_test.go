package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"walletbridge/internal/apperr"
	"walletbridge/internal/model"
	"walletbridge/internal/wallet"
)

type fakeAgents map[string]*AgentEndpoint

func (f fakeAgents) Resolve(_ context.Context, agentID string) (*AgentEndpoint, error) {
	a, ok := f[agentID]
	if !ok {
		return nil, apperr.NotFound("代理不存在: " + agentID)
	}
	return a, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []*model.AuditRecord
	err     error
}

func (f *fakeAudit) Append(_ context.Context, r *model.AuditRecord) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	r.ID = int64(100 + len(f.records))
	return r.ID, nil
}

func (f *fakeAudit) all() []*model.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.AuditRecord(nil), f.records...)
}

type fakeRetry struct {
	mu   sync.Mutex
	jobs []*model.RetryJob
	err  error
}

func (f *fakeRetry) Enqueue(_ context.Context, j *model.RetryJob) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
	j.ID = int64(len(f.jobs))
	return j.ID, nil
}

func (f *fakeRetry) all() []*model.RetryJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.RetryJob(nil), f.jobs...)
}

type fakeGames struct {
	payload *GamePayload
	err     error
	panics  bool
}

func (f *fakeGames) GetGamePayloads(_ context.Context, gameCode string) (*GamePayload, error) {
	if f.panics {
		panic("metadata backend exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type fakeValidator struct {
	known map[string]bool
}

func (f *fakeValidator) ValidateGame(_ context.Context, gameCode string) error {
	if !f.known[gameCode] {
		return apperr.NotFound("游戏不存在: " + gameCode)
	}
	return nil
}

// walletServer 记录收到的 action 报文并返回固定响应
type walletServer struct {
	*httptest.Server

	mu       sync.Mutex
	messages []map[string]interface{}
	keys     []string
}

func newWalletServer(t *testing.T, status int, body string) *walletServer {
	t.Helper()
	ws := &walletServer{}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env wallet.Envelope
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &env); err == nil {
			var msg map[string]interface{}
			_ = json.Unmarshal([]byte(env.Message), &msg)
			ws.mu.Lock()
			ws.messages = append(ws.messages, msg)
			ws.keys = append(ws.keys, env.Key)
			ws.mu.Unlock()
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ws.Close)
	return ws
}

func (ws *walletServer) lastTxns(t *testing.T) []map[string]interface{} {
	t.Helper()
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if len(ws.messages) == 0 {
		t.Fatal("wallet received no message")
	}
	raw, _ := ws.messages[len(ws.messages)-1]["txns"].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		m, _ := r.(map[string]interface{})
		out = append(out, m)
	}
	return out
}

func (ws *walletServer) first(t *testing.T) (map[string]interface{}, string) {
	t.Helper()
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if len(ws.messages) == 0 {
		t.Fatal("wallet received no message")
	}
	return ws.messages[0], ws.keys[0]
}

// deadURL 已关闭的端口，连接会被拒绝
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	return url
}

var errStoreDown = errors.New("store down")
