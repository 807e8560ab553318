package staticanalysis

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/h2non/filetype"
)

// Limits 解压预算
type Limits struct {
	MaxEntryBytes int64 // 单个条目最大解压字节数
	MaxTotalBytes int64 // 一次分析的解压总字节数
}

// DefaultLimits 默认解压预算
func DefaultLimits() Limits {
	return Limits{
		MaxEntryBytes: 64 << 20,
		MaxTotalBytes: 512 << 20,
	}
}

func (l Limits) normalize() Limits {
	d := DefaultLimits()
	if l.MaxEntryBytes <= 0 {
		l.MaxEntryBytes = d.MaxEntryBytes
	}
	if l.MaxTotalBytes <= 0 {
		l.MaxTotalBytes = d.MaxTotalBytes
	}
	return l
}

// Archive 已打开的 APK 容器，只在单次分析内使用
type Archive struct {
	data   []byte
	zr     *zip.Reader
	limits Limits
}

// Validate 校验输入是否为完整的 zip 容器
func Validate(data []byte, maxSize int64) error {
	_, err := OpenArchive(data, maxSize, DefaultLimits())
	return err
}

// OpenArchive 校验并打开容器
// 超过 maxSize 返回 ErrTooLarge；无法解析或 CRC 校验失败返回 ErrInvalidArchive
func OpenArchive(data []byte, maxSize int64, limits Limits) (*Archive, error) {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), maxSize)
	}

	head := data
	if len(head) > 262 {
		head = head[:262]
	}
	if !filetype.IsArchive(head) {
		return nil, fmt.Errorf("%w: not a zip container", ErrInvalidArchive)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	archive := &Archive{
		data:   data,
		zr:     zr,
		limits: limits.normalize(),
	}

	if err := archive.verify(); err != nil {
		return nil, err
	}

	return archive, nil
}

// verify 在解压预算内逐条目校验 CRC
func (a *Archive) verify() error {
	remaining := a.limits.MaxTotalBytes

	for _, f := range a.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if remaining <= 0 {
			// 预算耗尽，剩余条目在扫描阶段再次受限
			return nil
		}

		budget := a.limits.MaxEntryBytes
		if budget > remaining {
			budget = remaining
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: entry %s: %v", ErrInvalidArchive, f.Name, err)
		}
		n, err := io.Copy(io.Discard, io.LimitReader(rc, budget))
		rc.Close()
		if err != nil {
			return fmt.Errorf("%w: entry %s: %v", ErrInvalidArchive, f.Name, err)
		}
		remaining -= n
	}

	return nil
}

// Files 返回条目列表
func (a *Archive) Files() []*zip.File {
	return a.zr.File
}

// Names 返回所有条目名（保持容器内顺序）
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		names = append(names, f.Name)
	}
	return names
}

// Bytes 返回原始字节
func (a *Archive) Bytes() []byte {
	return a.data
}

// Size 返回原始字节长度
func (a *Archive) Size() int64 {
	return int64(len(a.data))
}

// Limits 返回解压预算
func (a *Archive) Limits() Limits {
	return a.limits
}

// Lookup 按名称查找条目
func (a *Archive) Lookup(name string) *zip.File {
	for _, f := range a.zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ReadEntry 在单条目预算内读取指定条目
func (a *Archive) ReadEntry(name string) ([]byte, error) {
	f := a.Lookup(name)
	if f == nil {
		return nil, &EntryDecodeError{Entry: name, Err: fs.ErrNotExist}
	}
	return a.readFile(f, a.limits.MaxEntryBytes)
}

// readFile 读取条目，超出 budget 视为失败
func (a *Archive) readFile(f *zip.File, budget int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(budget) {
		return nil, &EntryDecodeError{Entry: f.Name, Err: errBudgetExceeded}
	}

	rc, err := f.Open()
	if err != nil {
		return nil, &EntryDecodeError{Entry: f.Name, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, budget+1))
	if err != nil {
		return nil, &EntryDecodeError{Entry: f.Name, Err: err}
	}
	if int64(len(data)) > budget {
		return nil, &EntryDecodeError{Entry: f.Name, Err: errBudgetExceeded}
	}

	return data, nil
}
