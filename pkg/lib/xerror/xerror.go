package xerror

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
)

// Wrap 包装错误，添加上下文信息和调用栈
// 如果 err 为 nil，返回 nil
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, message)
}

// Wrapf 包装错误，使用格式化字符串添加上下文信息
// 如果 err 为 nil，返回 nil
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Cause 返回最底层的错误
func Cause(err error) error {
	return errors.Cause(err)
}

// PanicMessage 将 recover 得到的值转为可读的字符串
func PanicMessage(r interface{}) string {
	switch v := r.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PrintCoreDump 把 panic 和调用栈写入当前目录的 dump 文件
func PrintCoreDump(r interface{}) {
	if r == nil {
		return
	}
	fileName := fmt.Sprintf("%s-%d-dump", time.Now().Format("20060102150405"), os.Getpid())
	file, err := os.Create(fileName)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = fmt.Fprintf(file, "%v\n==================\n%s", r, debug.Stack())
}
