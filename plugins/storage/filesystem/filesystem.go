package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"toneshift/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// RootDir: 存储根目录（必需）；不存在时在首次写入时创建。
	RootDir string `json:"root_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 为扁平目录存储，实现 contract.Storage。
type FS struct {
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

var _ contract.Storage = (*FS)(nil)

const tmpPrefix = ".tmp-"

// New 创建文件系统存储。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.RootDir) == "" {
		return nil, fmt.Errorf("storage: root_dir required: %w", contract.ErrInvalidInput)
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{root: filepath.Clean(opts.RootDir), atomic: atomic, permF: pf, permD: pd, bufSize: bsz}, nil
}

// Root 返回存储根目录。
func (s *FS) Root() string { return s.root }

// NormalizedName 将原始文件名映射为存储名：空格→"_"，并在最后一个扩展名前插入 "-<分类>"。
//
//	"a b.docx", TONE_SOURCE → "a_b-TONE_SOURCE.docx"
//	"noext", ADJUSTED_TONE  → "noext-ADJUSTED_TONE"
func NormalizedName(name string, cat contract.FileCategory) string {
	n := strings.ReplaceAll(name, " ", "_")
	suffix := "-" + string(cat)
	if i := strings.LastIndexByte(n, '.'); i > 0 {
		return n[:i] + suffix + n[i:]
	}
	return n + suffix
}

// mapPath: 规范化 + 越界校验；仅允许根目录下的扁平文件名。
func (s *FS) mapPath(name string, cat contract.FileCategory) (string, string, error) {
	if !cat.Valid() {
		return "", "", fmt.Errorf("storage: unknown category %q: %w", cat, contract.ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("storage: empty name: %w", contract.ErrPathInvalid)
	}
	stored := NormalizedName(name, cat)
	p, err := s.storedPath(stored)
	return stored, p, err
}

func (s *FS) storedPath(stored string) (string, error) {
	if stored == "" || stored == "." || stored == ".." ||
		strings.ContainsAny(stored, `/\`) ||
		filepath.IsAbs(stored) || filepath.VolumeName(stored) != "" ||
		strings.HasPrefix(stored, tmpPrefix) {
		return "", fmt.Errorf("storage: %q: %w", stored, contract.ErrPathInvalid)
	}
	return filepath.Join(s.root, stored), nil
}

// List 返回根目录下的常规文件名（按名称排序，不含临时文件）；根目录不存在时返回空。
func (s *FS) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func (s *FS) Exists(name string, cat contract.FileCategory) (bool, error) {
	_, p, err := s.mapPath(name, cat)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Mode().IsRegular(), nil
}

func (s *FS) Read(ctx context.Context, name string, cat contract.FileCategory) (io.ReadCloser, error) {
	stored, _, err := s.mapPath(name, cat)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, stored)
}

// Open 按已规范化的存储名读取。
func (s *FS) Open(ctx context.Context, stored string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.storedPath(stored)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("could not read file %s: %w", stored, err)
	}
	return f, nil
}

// Write 将 r 的全部字节写入 (name, cat) 对应的文件，返回存储名。
func (s *FS) Write(ctx context.Context, name string, cat contract.FileCategory, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored, dest, err := s.mapPath(name, cat)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.root, s.permD); err != nil {
		return "", err
	}
	if s.atomic {
		err = s.writeAtomic(ctx, dest, r)
	} else {
		err = s.writeOverwrite(ctx, dest, r)
	}
	if err != nil {
		return "", err
	}
	return stored, nil
}

// Delete 删除 (name, cat) 对应文件；不存在时不报错。
func (s *FS) Delete(name string, cat contract.FileCategory) error {
	_, p, err := s.mapPath(name, cat)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.permF)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, s.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (s *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, s.permF)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	bw := bufio.NewWriterSize(tmp, s.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 平台特定的原子替换（或最佳努力）
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
