// Package apperr 定义账本与钱包网关共用的错误分类。
//
// 调用方只需按 Kind 分支，例如下注时遇到 Conflict 表示"已下注，可继续后续流程"。
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConflict          Kind = "Conflict"
	KindNotFound          Kind = "NotFound"
	KindAgentRejected     Kind = "AgentRejected"
	KindNetworkError      Kind = "NetworkError"
	KindTimeoutError      Kind = "TimeoutError"
	KindHTTPError         Kind = "HttpError"
	KindMalformedResponse Kind = "MalformedResponse"
	KindUnknownError      Kind = "UnknownError"
)

// Error 携带分类信息的错误
type Error struct {
	Kind    Kind
	Message string

	// 仅钱包类错误使用
	StatusCode  int    // HttpError: HTTP 状态码
	Body        string // HttpError: 响应体（截断）
	AgentStatus string // AgentRejected: 对方返回的 status 值

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch e.Kind {
	case KindHTTPError:
		msg = fmt.Sprintf("%s (http %d)", msg, e.StatusCode)
	case KindAgentRejected:
		msg = fmt.Sprintf("%s (status=%s)", msg, e.AgentStatus)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按 Kind 匹配，errors.Is(err, apperr.ErrNotFound) 对任意 NotFound 错误成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAgentRejected     = &Error{Kind: KindAgentRejected}
	ErrNetworkError      = &Error{Kind: KindNetworkError}
	ErrTimeoutError      = &Error{Kind: KindTimeoutError}
	ErrHTTPError         = &Error{Kind: KindHTTPError}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrUnknownError      = &Error{Kind: KindUnknownError}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Conflict(message string) *Error { return New(KindConflict, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

// KindOf 返回错误链上第一个 *Error 的分类，非分类错误返回空串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsWalletFailure 外部钱包调用失败（业务拒绝或传输层失败）
func IsWalletFailure(err error) bool {
	switch KindOf(err) {
	case KindAgentRejected, KindNetworkError, KindTimeoutError, KindHTTPError,
		KindMalformedResponse, KindUnknownError:
		return true
	}
	return false
}
