package response

import (
	"errors"
	"net/http"

	"walletbridge/internal/apperr"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeNotFound    = 404
	CodeServerError = 500
)

// 业务错误码
const (
	CodeBetConflict       = 1001 // 重复下注
	CodeAgentRejected     = 1002 // 钱包业务拒绝
	CodeWalletUnavailable = 1003 // 钱包网络/超时/HTTP 错误
	CodeWalletProtocol    = 1004 // 钱包响应不符合协议
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// FromError 按错误分类返回业务码，调用方可据 kind 分支
func FromError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	resp := Response{Code: codeOf(kind), Message: err.Error(), Kind: string(kind)}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case apperr.KindAgentRejected:
			resp.Data = gin.H{"agentStatus": ae.AgentStatus}
		case apperr.KindHTTPError:
			resp.Data = gin.H{"httpStatus": ae.StatusCode}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func codeOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindConflict:
		return CodeBetConflict
	case apperr.KindNotFound:
		return CodeNotFound
	case apperr.KindAgentRejected:
		return CodeAgentRejected
	case apperr.KindNetworkError, apperr.KindTimeoutError, apperr.KindHTTPError:
		return CodeWalletUnavailable
	case apperr.KindMalformedResponse, apperr.KindUnknownError:
		return CodeWalletProtocol
	default:
		return CodeServerError
	}
}
