package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"walletbridge/internal/apperr"
)

func TestSendPostsEnvelope(t *testing.T) {
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		io.WriteString(w, `{"status":"RS_OK","balance":100.5,"balanceTs":"2024-01-01T00:00:00.000Z","userId":"u1"}`)
	}))
	defer srv.Close()

	c := NewClient(time.Second, "")
	ex, err := c.Send(context.Background(), srv.URL, "secret", BalanceMessage{Action: ActionGetBalance, UserID: "u1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.Key != "secret" {
		t.Errorf("key = %q", got.Key)
	}
	var msg BalanceMessage
	if err := json.Unmarshal([]byte(got.Message), &msg); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if msg.Action != ActionGetBalance || msg.UserID != "u1" {
		t.Errorf("message = %+v", msg)
	}
	if strings.Contains(string(ex.Message), "secret") {
		t.Errorf("exchange message leaks credential: %s", ex.Message)
	}
	if ex.HTTPStatus != http.StatusOK {
		t.Errorf("http status = %d", ex.HTTPStatus)
	}
	if !ex.Response.Balance.Valid || !ex.Response.Balance.Decimal.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("balance = %+v", ex.Response.Balance)
	}
	if ex.Response.UserID != "u1" {
		t.Errorf("userId = %q", ex.Response.UserID)
	}
}

func TestSendClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    apperr.Kind
	}{
		{
			name: "agent rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"status":"INSUFFICIENT_FUNDS"}`)
			},
			kind: apperr.KindAgentRejected,
		},
		{
			name: "http 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, "boom")
			},
			kind: apperr.KindHTTPError,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "<html>ok</html>")
			},
			kind: apperr.KindMalformedResponse,
		},
		{
			name: "missing status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"balance":1}`)
			},
			kind: apperr.KindMalformedResponse,
		},
		{
			name: "numeric status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"status":0}`)
			},
			kind: apperr.KindMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(time.Second, DefaultSuccessStatus)
			_, err := c.Send(context.Background(), srv.URL, "k", BalanceMessage{Action: ActionGetBalance})
			if got := apperr.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %q, want %q (err=%v)", got, tt.kind, err)
			}
		})
	}
}

func TestSendHTTPErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, strings.Repeat("x", 10000))
	}))
	defer srv.Close()

	c := NewClient(time.Second, "")
	ex, err := c.Send(context.Background(), srv.URL, "k", BalanceMessage{Action: ActionGetBalance})

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v", err)
	}
	if ae.StatusCode != http.StatusBadGateway {
		t.Errorf("status code = %d", ae.StatusCode)
	}
	if len(ae.Body) != maxErrorBodyBytes {
		t.Errorf("body length = %d, want %d", len(ae.Body), maxErrorBodyBytes)
	}
	if ex.HTTPStatus != http.StatusBadGateway {
		t.Errorf("exchange http status = %d", ex.HTTPStatus)
	}
}

func TestSendRejectionKeepsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"DUPLICATE_TX"}`)
	}))
	defer srv.Close()

	c := NewClient(time.Second, "")
	ex, err := c.Send(context.Background(), srv.URL, "k", BalanceMessage{Action: ActionGetBalance})

	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.AgentStatus != "DUPLICATE_TX" {
		t.Fatalf("err = %v", err)
	}
	if ex.Response == nil || ex.Response.Status != "DUPLICATE_TX" {
		t.Errorf("response = %+v", ex.Response)
	}
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		io.WriteString(w, `{"status":"RS_OK"}`)
	}))
	defer srv.Close()

	c := NewClient(50*time.Millisecond, "")
	_, err := c.Send(context.Background(), srv.URL, "k", BalanceMessage{Action: ActionGetBalance})
	if !errors.Is(err, apperr.ErrTimeoutError) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(time.Second, "")
	_, err := c.Send(context.Background(), url, "k", BalanceMessage{Action: ActionGetBalance})
	if !errors.Is(err, apperr.ErrNetworkError) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestMapResponseCustomSuccessStatus(t *testing.T) {
	c := &Client{SuccessStatus: "SUCCESS"}

	if _, err := c.MapResponse([]byte(`{"status":"SUCCESS"}`)); err != nil {
		t.Errorf("SUCCESS: %v", err)
	}
	if _, err := c.MapResponse([]byte(`{"status":"RS_OK"}`)); !errors.Is(err, apperr.ErrAgentRejected) {
		t.Errorf("RS_OK with custom sentinel: %v", err)
	}
	if _, err := c.MapResponse([]byte(`{"status":""}`)); !errors.Is(err, apperr.ErrMalformedResponse) {
		t.Errorf("empty status: %v", err)
	}
}

func TestAmountKeepsDecimalText(t *testing.T) {
	b, err := json.Marshal(map[string]interface{}{"betAmount": Amount(decimal.RequireFromString("0.1"))})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"betAmount":0.1}` {
		t.Errorf("got %s", b)
	}
}
