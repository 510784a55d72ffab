// Package i18n renders user-visible error messages in the session language.
package i18n

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/Zereker/social/internal/domain"
)

// LangParam is the query parameter used to select a language.
const LangParam = "lang"

// message keys
const (
	keyValidation  = "error.validation"
	keyConflict    = "error.conflict"
	keyNotFound    = "error.not_found"
	keyPersistence = "error.persistence"
	keyRateLimited = "error.rate_limited"
	keyInternal    = "error.internal"
)

var supported = []language.Tag{
	language.English,
	language.Russian,
	language.Chinese,
}

var (
	matcher = language.NewMatcher(supported)
	cat     = build()
)

func build() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	set := func(tag language.Tag, key, msg string) {
		// 模板都是静态字符串，出错说明代码有误
		if err := b.SetString(tag, key, msg); err != nil {
			panic(err)
		}
	}

	set(language.English, keyValidation, "Invalid request: %s")
	set(language.English, keyConflict, "This action is not possible right now (current status: %s)")
	set(language.English, keyNotFound, "User %s was not found")
	set(language.English, keyPersistence, "Service is temporarily unavailable, please try again")
	set(language.English, keyRateLimited, "Too many requests, slow down")
	set(language.English, keyInternal, "Something went wrong")

	set(language.Russian, keyValidation, "Некорректный запрос: %s")
	set(language.Russian, keyConflict, "Сейчас это действие недоступно (текущий статус: %s)")
	set(language.Russian, keyNotFound, "Пользователь %s не найден")
	set(language.Russian, keyPersistence, "Сервис временно недоступен, попробуйте позже")
	set(language.Russian, keyRateLimited, "Слишком много запросов")
	set(language.Russian, keyInternal, "Что-то пошло не так")

	set(language.Chinese, keyValidation, "请求无效：%s")
	set(language.Chinese, keyConflict, "当前无法执行该操作（当前关系：%s）")
	set(language.Chinese, keyNotFound, "用户 %s 不存在")
	set(language.Chinese, keyPersistence, "服务暂时不可用，请稍后重试")
	set(language.Chinese, keyRateLimited, "请求过于频繁")
	set(language.Chinese, keyInternal, "服务内部错误")

	return b
}

// Default returns the fallback language.
func Default() language.Tag { return language.English }

// Supported returns the languages with a translation.
func Supported() []language.Tag {
	out := make([]language.Tag, len(supported))
	copy(out, supported)
	return out
}

// Match picks the best supported language for the given BCP 47 values.
func Match(values ...string) language.Tag {
	var tags []language.Tag
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if parsed, _, err := language.ParseAcceptLanguage(v); err == nil {
			tags = append(tags, parsed...)
		}
	}
	if len(tags) == 0 {
		return Default()
	}

	_, index, _ := matcher.Match(tags...)
	return supported[index]
}

// ResolveTag determines the language of a request from the lang query
// parameter, then Accept-Language.
func ResolveTag(r *http.Request) language.Tag {
	if r == nil {
		return Default()
	}
	return Match(r.URL.Query().Get(LangParam), r.Header.Get("Accept-Language"))
}

// Printer returns a printer bound to the message catalog.
func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(cat))
}

// Message renders err for an end user in tag.
func Message(tag language.Tag, err error) string {
	p := Printer(tag)

	var (
		validation *domain.ValidationError
		conflict   *domain.ConflictError
		notFound   *domain.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return p.Sprintf(keyValidation, validation.Reason)
	case errors.As(err, &conflict):
		return p.Sprintf(keyConflict, conflict.Current)
	case errors.As(err, &notFound):
		return p.Sprintf(keyNotFound, notFound.UserID)
	case domain.IsPersistence(err):
		return p.Sprintf(keyPersistence)
	case errors.Is(err, domain.ErrRateLimited):
		return p.Sprintf(keyRateLimited)
	default:
		return p.Sprintf(keyInternal)
	}
}
