package response

import (
	"errors"
	"net/http"

	"loyaltysystem/internal/service"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidOption       = "INVALID_OPTION"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeInsufficientPoints  = "INSUFFICIENT_POINTS"
	CodeBelowMinimum        = "BELOW_MINIMUM"
	CodeInvalidReferralCode = "INVALID_REFERRAL_CODE"
	CodeStorageTimeout      = "STORAGE_TIMEOUT"
	CodeConflict            = "CONFLICT"
	CodeDataIntegrity       = "DATA_INTEGRITY"
	CodeServerError         = "SERVER_ERROR"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

func Error(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Error: message,
		Code:  code,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeInvalidInput, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}

// mapping is checked in order; ErrInvalidOption wraps ErrInvalidInput and
// must come first.
var mapping = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrInvalidOption, http.StatusBadRequest, CodeInvalidOption},
	{service.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
	{service.ErrBelowMinimum, http.StatusBadRequest, CodeBelowMinimum},
	{service.ErrInvalidReferralCode, http.StatusBadRequest, CodeInvalidReferralCode},
	{service.ErrAccountNotFound, http.StatusNotFound, CodeAccountNotFound},
	{service.ErrInsufficientPoints, http.StatusUnprocessableEntity, CodeInsufficientPoints},
	{service.ErrStorageConflict, http.StatusConflict, CodeConflict},
	{service.ErrStorageTimeout, http.StatusServiceUnavailable, CodeStorageTimeout},
	{service.ErrDataIntegrity, http.StatusInternalServerError, CodeDataIntegrity},
}

// FromError writes the envelope for an engine error. Unknown errors are
// logged and reported without their detail.
func FromError(c *gin.Context, err error) {
	for _, m := range mapping {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				log.WithFields(log.Fields{
					"path":  c.FullPath(),
					"code":  m.code,
					"error": err,
				}).Error("[HTTP] request failed")
			}
			Error(c, m.status, m.code, err.Error())
			return
		}
	}

	log.WithFields(log.Fields{
		"path":  c.FullPath(),
		"error": err,
	}).Error("[HTTP] unexpected error")
	ServerError(c, "internal server error")
}
