package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"walletbridge/internal/apperr"
)

const (
	maxErrorBodyBytes = 4 << 10
	maxBodyBytes      = 1 << 20
)

// Client 钱包 HTTP 客户端，只负责收发与响应分类，不做审计
type Client struct {
	HTTP          *http.Client
	SuccessStatus string
}

func NewClient(timeout time.Duration, successStatus string) *Client {
	if successStatus == "" {
		successStatus = DefaultSuccessStatus
	}
	return &Client{
		HTTP:          &http.Client{Timeout: timeout},
		SuccessStatus: successStatus,
	}
}

// Exchange 一次调用的完整记录，失败时也会尽量填充，供审计使用
type Exchange struct {
	Message    []byte // action 报文（不含密钥）
	HTTPStatus int
	Body       []byte
	Elapsed    time.Duration
	Response   *Response
}

// Send 签名并 POST 到代理回调地址
//
// 返回的 error 一定是 *apperr.Error：
//   - 传输层: NetworkError / TimeoutError / HttpError / UnknownError
//   - 协议层: MalformedResponse
//   - 业务层: AgentRejected
func (c *Client) Send(ctx context.Context, url, key string, message interface{}) (*Exchange, error) {
	ex := &Exchange{}

	msg, err := json.Marshal(message)
	if err != nil {
		return ex, apperr.Wrap(apperr.KindUnknownError, "序列化钱包报文失败", err)
	}
	ex.Message = msg

	body, err := json.Marshal(Envelope{Key: key, Message: string(msg)})
	if err != nil {
		return ex, apperr.Wrap(apperr.KindUnknownError, "序列化钱包报文失败", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ex, apperr.Wrap(apperr.KindUnknownError, "构造钱包请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := c.HTTP.Do(req)
	if err != nil {
		ex.Elapsed = time.Since(start)
		return ex, classifyTransport(err)
	}
	defer res.Body.Close()

	ex.HTTPStatus = res.StatusCode

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		ex.Body = errBody
		ex.Elapsed = time.Since(start)
		return ex, &apperr.Error{
			Kind:       apperr.KindHTTPError,
			Message:    "钱包返回非 2xx 状态",
			StatusCode: res.StatusCode,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	ex.Elapsed = time.Since(start)
	if err != nil {
		return ex, classifyTransport(err)
	}
	ex.Body = respBody

	resp, err := c.MapResponse(respBody)
	ex.Response = resp
	return ex, err
}

// MapResponse 响应映射
//
// 【关键点】status 缺失或不是字符串属于协议违规，直接返回 MalformedResponse，
// 不进入成功/拒绝分支；status 等于成功值才算成功，其余都是业务拒绝，和传输失败区分开。
func (c *Client) MapResponse(body []byte) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, "钱包响应不是 JSON 对象", err)
	}

	rawStatus, ok := fields["status"]
	if !ok {
		return nil, apperr.New(apperr.KindMalformedResponse, "钱包响应缺少 status")
	}
	var status string
	if err := json.Unmarshal(rawStatus, &status); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, "钱包响应 status 不是字符串", err)
	}
	if status == "" {
		return nil, apperr.New(apperr.KindMalformedResponse, "钱包响应 status 为空")
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, "解析钱包响应失败", err)
	}
	resp.Fields = fields

	if status != c.SuccessStatus {
		return &resp, &apperr.Error{
			Kind:        apperr.KindAgentRejected,
			Message:     "钱包拒绝请求",
			AgentStatus: status,
		}
	}
	return &resp, nil
}

func classifyTransport(err error) *apperr.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(apperr.KindTimeoutError, "钱包请求超时", err)
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return apperr.Wrap(apperr.KindNetworkError, "钱包网络不可达", err)
	}

	return apperr.Wrap(apperr.KindUnknownError, fmt.Sprintf("钱包请求失败(%T)", err), err)
}
