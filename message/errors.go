package message

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrTooManyOptions     = errors.New("too many options")
	ErrUnknownOption      = errors.New("unknown option")
	ErrOptionValue        = errors.New("invalid option value")
	ErrOptionRepeated     = errors.New("option repeated")
	ErrProxyURIConflict   = errors.New("proxy-uri conflicts with uri-host, uri-port and uri-path")
	ErrInvalidPathSegment = errors.New("uri-path segment contains '/'")
	ErrInvalidToken       = errors.New("token length must be 1-8")
)

// FormatError 消息格式错误, 无法解析出完整的消息
//
// Header为true时消息头(类型, 方法码, 消息ID)已解析, 仅选项或负载不完整.
type FormatError struct {
	Reason string
	Header bool
}

func (e *FormatError) Error() string {
	return "message format error: " + e.Reason
}

// BadOptionsError 消息包含无法识别的关键选项或者选项组合非法
type BadOptionsError struct {
	Options []OptionID
	Cause   error
}

func (e *BadOptionsError) Error() string {
	names := make([]string, 0, len(e.Options))
	for _, id := range e.Options {
		names = append(names, id.String())
	}
	if e.Cause != nil {
		return fmt.Sprintf("bad options [%s]: %v", strings.Join(names, ","), e.Cause)
	}
	return fmt.Sprintf("bad options [%s]", strings.Join(names, ","))
}

func (e *BadOptionsError) Unwrap() error {
	return e.Cause
}

// IsFormatError 判断err是否为消息格式错误.
func IsFormatError(err error) bool {
	var e *FormatError
	return errors.As(err, &e)
}

// IsMalformedOptions 判断err是否为消息头完整而选项非法或不完整的错误.
func IsMalformedOptions(err error) bool {
	if IsBadOptionsError(err) {
		return true
	}
	var e *FormatError
	return errors.As(err, &e) && e.Header
}

// IsBadOptionsError 判断err是否为选项错误.
func IsBadOptionsError(err error) bool {
	var e *BadOptionsError
	return errors.As(err, &e)
}
