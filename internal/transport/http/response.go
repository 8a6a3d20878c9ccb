package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"narrator-server-go/internal/domain/tts"
	"narrator-server-go/internal/platform/errors"
)

// APIResponse 定义统一的接口返回结构体
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	resp := APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	}

	c.JSON(httpStatus, resp)
}

// RespondError 返回失败响应
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	resp := APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	}

	c.JSON(httpStatus, resp)
}

// RespondFailure maps err to a status code and writes the error response.
func RespondFailure(c *gin.Context, err error) {
	status, data := StatusForError(err)
	_ = c.Error(err)
	RespondError(c, status, err.Error(), data)
}

// StatusForError 将领域错误映射为 HTTP 状态码与附加数据
func StatusForError(err error) (int, gin.H) {
	if se, ok := tts.AsSynthesisError(err); ok {
		data := gin.H{
			"retryable":   se.Transient,
			"attempts":    se.Attempts,
			"chunk_index": se.ChunkIndex,
		}
		if se.StatusCode > 0 {
			data["upstream_status"] = se.StatusCode
		}
		if se.Transient {
			return http.StatusBadGateway, data
		}
		return http.StatusUnprocessableEntity, data
	}

	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return http.StatusNotFound, nil
	case errors.KindDomain, errors.KindConfig:
		return http.StatusBadRequest, nil
	case errors.KindPlayback:
		return http.StatusConflict, nil
	}
	return http.StatusInternalServerError, nil
}
