package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/facility"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/transaction"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
)

// エラーコード。クライアントはこの値で文言を出し分けるため、意味を変えてはならない
const (
	CodeValidation          = "validation_error"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeFacilityNotFound    = "facility_not_found"
	CodeReservationNotFound = "reservation_not_found"
	CodeConflict            = "reservation_conflict"
	CodeAlreadyCanceled     = "already_canceled"
	CodeCannotCancel        = "cannot_cancel"
	CodeTooLateToCancel     = "too_late_to_cancel"
	CodeNotFound            = "not_found"
	CodeMethodNotAllowed    = "method_not_allowed"
	CodeServerError         = "server_error"
)

const serverErrorMessage = "内部サーバーエラー"

// ErrorResponse はエラーレスポンスの統一フォーマット
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error はHTTPステータスとエラーコードを持つAPIエラー
type Error struct {
	Status  int
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// NewError はAPIエラーを作成する
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

type mapping struct {
	target error
	status int
	code   string
}

// 上から順に判定する
var domainMappings = []mapping{
	{facility.ErrFacilityNotFound, http.StatusNotFound, CodeFacilityNotFound},
	{facility.ErrSlotNotFound, http.StatusBadRequest, CodeValidation},
	{reservation.ErrReservationNotFound, http.StatusNotFound, CodeReservationNotFound},
	{reservation.ErrReservationConflict, http.StatusConflict, CodeConflict},
	{transaction.ErrSerializationFailure, http.StatusConflict, CodeConflict},
	{reservation.ErrForbidden, http.StatusForbidden, CodeForbidden},
	{reservation.ErrAlreadyCanceled, http.StatusConflict, CodeAlreadyCanceled},
	{reservation.ErrCannotCancel, http.StatusConflict, CodeCannotCancel},
	{reservation.ErrTooLateToCancel, http.StatusConflict, CodeTooLateToCancel},
}

// Classify は任意のエラーをAPIエラーに変換する
// 対応表にないエラーは内部の詳細を出さずに server_error にする
func Classify(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fromHTTPError(he)
	}

	for _, m := range domainMappings {
		if errors.Is(err, m.target) {
			return &Error{Status: m.status, Code: m.code, Message: m.target.Error(), cause: err}
		}
	}
	if reservation.IsValidationError(err) {
		return &Error{Status: http.StatusBadRequest, Code: CodeValidation, Message: validationMessage(err), cause: err}
	}
	return &Error{Status: http.StatusInternalServerError, Code: CodeServerError, Message: serverErrorMessage, cause: err}
}

func fromHTTPError(he *echo.HTTPError) *Error {
	message := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok {
		message = m
	}
	code := CodeServerError
	switch {
	case he.Code == http.StatusUnauthorized:
		code = CodeUnauthorized
	case he.Code == http.StatusForbidden:
		code = CodeForbidden
	case he.Code == http.StatusNotFound:
		code = CodeNotFound
	case he.Code == http.StatusMethodNotAllowed:
		code = CodeMethodNotAllowed
	case he.Code >= 400 && he.Code < 500:
		code = CodeValidation
	default:
		message = serverErrorMessage
	}
	return &Error{Status: he.Code, Code: code, Message: message, cause: he}
}

// validationMessage はドメインの検証エラーのうち最初に一致したものの文言を返す
func validationMessage(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if reservation.IsValidationError(e) && errors.Unwrap(e) == nil {
			return e.Error()
		}
	}
	return err.Error()
}

// CustomHTTPErrorHandler はエラーを {"error", "code"} 形式で返す
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	apiErr := Classify(err)

	// エラーログを出力（5xx エラーの場合）
	if apiErr.Status >= 500 {
		logger.FromContext(c.Request().Context()).Error("サーバーエラー",
			zap.Int("status", apiErr.Status),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(apiErr.Status)
	} else {
		err = c.JSON(apiErr.Status, ErrorResponse{Error: apiErr.Message, Code: apiErr.Code})
	}
	if err != nil {
		logger.Error("エラーレスポンス送信失敗", zap.Error(err))
	}
}
