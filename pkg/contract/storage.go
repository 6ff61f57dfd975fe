package contract

import (
	"context"
	"io"
)

// FileCategory: 存储分类，作为规范化文件名的后缀。
type FileCategory string

const (
	CategoryToneSource   FileCategory = "TONE_SOURCE"
	CategoryOriginalTone FileCategory = "ORIGINAL_TONE"
	CategoryAdjustedTone FileCategory = "ADJUSTED_TONE"
)

// Valid 报告 c 是否为已声明分类。
func (c FileCategory) Valid() bool {
	switch c {
	case CategoryToneSource, CategoryOriginalTone, CategoryAdjustedTone:
		return true
	}
	return false
}

// Storage: 按 (文件名, 分类) 寻址的扁平文件存储。
// 约束：
//  1. 名称映射确定且不越出根目录，否则返回 ErrPathInvalid；
//  2. Write 为整体替换（原子或覆盖写由实现选项决定）；
//  3. Delete 对不存在的文件不报错；
//  4. List 仅返回根目录下的常规文件名（不递归）。
type Storage interface {
	List(ctx context.Context) ([]string, error)
	Exists(name string, cat FileCategory) (bool, error)
	Read(ctx context.Context, name string, cat FileCategory) (io.ReadCloser, error)
	Write(ctx context.Context, name string, cat FileCategory, r io.Reader) (string, error)
	Delete(name string, cat FileCategory) error
	// Open 按已规范化的存储名读取（List 返回的名称）。
	Open(ctx context.Context, stored string) (io.ReadCloser, error)
}
