// Package handler provides the HTTP handlers and the websocket entry.
package handler

import (
	"errors"

	"talkroom_server/pkg/errorx"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// HandleSuccess writes the success envelope.
func HandleSuccess(c *gin.Context, data any) {
	c.JSON(errorx.HTTPStatus(errorx.CodeOK), gin.H{
		"response": 1,
		"data":     data,
	})
}

// HandleError writes the error envelope. Business errors keep their
// code and message; anything else logs and turns into a server error.
func HandleError(c *gin.Context, err error) {
	var codeErr *errorx.CodeError
	if errors.As(err, &codeErr) {
		c.JSON(errorx.HTTPStatus(codeErr.Code), gin.H{
			"response": 0,
			"error": gin.H{
				"code":    codeErr.Code,
				"message": codeErr.Msg,
			},
		})
		return
	}

	zap.L().Error("unhandled error",
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.Error(err),
	)
	c.JSON(errorx.HTTPStatus(errorx.CodeInternalServerError), gin.H{
		"response": 0,
		"error": gin.H{
			"code":    errorx.CodeInternalServerError,
			"message": errorx.Message(errorx.CodeInternalServerError),
		},
	})
}

// HandleParamError writes the error envelope for a bind failure,
// translating validator errors field by field.
func HandleParamError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(errorx.HTTPStatus(errorx.CodeInvalid), gin.H{
			"response": 0,
			"error": gin.H{
				"code":    errorx.CodeInvalid,
				"message": RemoveTopStruct(validationErrs.Translate(Trans)),
			},
		})
		return
	}

	zap.L().Warn("param bind error", zap.Error(err))
	c.JSON(errorx.HTTPStatus(errorx.CodeInvalidJSONFormat), gin.H{
		"response": 0,
		"error": gin.H{
			"code":    errorx.CodeInvalidJSONFormat,
			"message": errorx.Message(errorx.CodeInvalidJSONFormat),
		},
	})
}
