package handler

import (
	"errors"
	"io"
	"net/http"

	apperrors "go-gin-event-registration/pkg/app_errors"
	"go-gin-event-registration/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BindJson 空 body 視為空物件，交給服務層驗證必填欄位
func BindJson(c *gin.Context, obj interface{}) error {
	if c.Request.Body == nil {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
			"code":  apperrors.CodeInvalidInput,
		})
		return err
	}
	return nil
}

func BindQuery(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindQuery(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
			"code":  apperrors.CodeInvalidInput,
		})
		return err
	}
	return nil
}

// statusFor 依錯誤類別對應 HTTP 狀態碼
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindStateConflict, apperrors.KindConflictExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleError 回傳 {"error", "code"}，訊息只來自錯誤代碼，不會帶出底層 store 錯誤
func handleError(c *gin.Context, err error, operation string, status int) {
	log := logger.WithComponent("handler").With(zap.String("operation", operation), zap.Error(err))

	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Storage(err)
	}
	if status == 0 {
		status = statusFor(appErr.Kind())
	}

	if status >= http.StatusInternalServerError {
		log.Error("Unexpected error", zap.String("code", string(appErr.Code)))
	} else {
		log.Warn(appErr.Message, zap.String("code", string(appErr.Code)))
	}

	body := gin.H{
		"error": appErr.Message,
		"code":  appErr.Code,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.JSON(status, body)
}

func handleSuccess(c *gin.Context, data interface{}, statusCode int) {
	if data != nil {
		c.JSON(statusCode, data)
	} else {
		c.Status(statusCode)
	}
}
