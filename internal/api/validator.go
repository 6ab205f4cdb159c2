package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CustomValidator はEcho用のカスタムバリデーター
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator は新しいバリデーターを作成する
// 独自タグ clock は HH:MM と終了時刻用の 24:00 を受け付ける
func NewValidator() *CustomValidator {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "24:00" {
			return true
		}
		_, err := time.Parse("15:04", s)
		return err == nil
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return &CustomValidator{validator: v}
}

// Validate はリクエストのバリデーションを実行する
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return NewError(http.StatusBadRequest, CodeValidation, describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "入力が不正です"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s は必須です", fe.Field()))
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s は %s 形式で指定してください", fe.Field(), dateHint(fe.Param())))
		case "clock":
			msgs = append(msgs, fmt.Sprintf("%s は HH:MM 形式で指定してください", fe.Field()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s は %s 以上で指定してください", fe.Field(), fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s は %s 以下で指定してください", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s が不正です", fe.Field()))
		}
	}
	return strings.Join(msgs, "、")
}

func dateHint(layout string) string {
	if layout == "2006-01-02" {
		return "YYYY-MM-DD"
	}
	return layout
}
