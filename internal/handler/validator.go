package handler

import (
	"reflect"
	"strings"

	"talkroom_server/pkg/errorx"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/ko"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Trans translates validator errors for the error envelope.
var Trans ut.Translator

// InitTrans wires the validator translator. Field names come from json
// tags so errors match what clients actually sent.
func InitTrans(locale string) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errorx.Newf(errorx.CodeInternalServerError, "unexpected validator engine")
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enT := en.New()
	koT := ko.New()
	uni := ut.New(enT, koT, enT)

	Trans, ok = uni.GetTranslator(locale)
	if !ok {
		return errorx.Newf(errorx.CodeInternalServerError, "no translator for locale %q", locale)
	}
	// Korean translations do not ship with the validator; English
	// messages back every locale.
	return en_translations.RegisterDefaultTranslations(v, Trans)
}

// RemoveTopStruct strips the struct name prefix from translated field
// errors.
func RemoveTopStruct(fields map[string]string) map[string]string {
	res := make(map[string]string, len(fields))
	for field, msg := range fields {
		res[field[strings.Index(field, ".")+1:]] = msg
	}
	return res
}
