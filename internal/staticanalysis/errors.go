package staticanalysis

import (
	"errors"
	"fmt"
)

// 对调用方可见的错误
var (
	ErrInvalidArchive = errors.New("invalid archive")
	ErrTooLarge       = errors.New("archive too large")
)

// EntryDecodeError 单个条目解压/解码失败（扫描时在本地恢复）
type EntryDecodeError struct {
	Entry string
	Err   error
}

func (e *EntryDecodeError) Error() string {
	return fmt.Sprintf("decode entry %s: %v", e.Entry, e.Err)
}

func (e *EntryDecodeError) Unwrap() error {
	return e.Err
}

// CapabilityError 结构化解析层失败（降级到下一层）
type CapabilityError struct {
	Extractor string
	Err       error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("extractor %s failed: %v", e.Extractor, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// errBudgetExceeded 解压超出字节预算
var errBudgetExceeded = errors.New("decompressed size budget exceeded")
