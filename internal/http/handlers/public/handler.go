package public

import (
	"github.com/referral-next/internal/http/response"
	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// Handler 对外接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

// respondError 返回错误响应，并在有原始错误时记录日志
func respondError(c *gin.Context, code int, msg string, err error) {
	if err != nil {
		log := logger.S()
		if requestID, ok := c.Get("request_id"); ok {
			if id, ok := requestID.(string); ok && id != "" {
				log = logger.SW("request_id", id)
			}
		}
		log.Errorw("handler_error", "code", code, "message", msg, "error", err)
	}
	response.Error(c, code, msg)
}
