package imageboard

import (
	"errors"
	"fmt"
)

// APIError 表示服务端返回了非预期状态码或无法使用的响应体。
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// ErrCSRFTokenMissing 表示表单页面中找不到 csrfmiddlewaretoken。
var ErrCSRFTokenMissing = errors.New("csrf token not found in form")

// ErrEmptyBody 表示上游返回 2xx 但响应体为空。
var ErrEmptyBody = errors.New("empty response body")
