package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"texgc/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// Extensions: 目录递归时仅收集这些扩展名（大小写不敏感，含点）。nil 采用 [".tex"]；
	// 显式空切片表示不过滤。显式给出的单文件 root 不受此限制。
	Extensions []string `json:"extensions"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名大小写不敏感匹配），如 [".git","build"]。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// DefaultExtensions: 默认收集的源文件扩展名。
var DefaultExtensions = []string{".tex"}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
// 字节原样交付：不解码、不做换行归一。
type FileSystem struct {
	bufSize    int
	exts       map[string]bool // nil 表示不过滤
	excludeDir map[string]bool
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: 64 * 1024, excludeDir: map[string]bool{}}
	exts := DefaultExtensions
	if opts != nil {
		if opts.BufSize > 0 {
			r.bufSize = opts.BufSize
		}
		if opts.Extensions != nil {
			exts = opts.Extensions
		}
		for _, name := range opts.ExcludeDirNames {
			if name = strings.Trim(name, `/\`); name != "" {
				r.excludeDir[strings.ToLower(name)] = true
			}
		}
	}
	if len(exts) > 0 {
		r.exts = make(map[string]bool, len(exts))
		for _, e := range exts {
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			r.exts[strings.ToLower(e)] = true
		}
	}
	return r
}

// Iterate 遍历 roots，按稳定（字典序）顺序对每个常规文件调用 yield。
// roots 为空或仅为 "-" 时读取 STDIN，FileID 为 "stdin"；"-" 不得与其他根混用。
// yield 负责关闭 rc；yield 返回错误时立即终止遍历。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), r.buffered(os.Stdin))
	}
	for _, s := range roots {
		if s == "-" {
			return errors.New("stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		// 指向常规文件的链接视作文件；目录链接不跟随
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
	case info.IsDir():
		return r.walk(ctx, root, yield)
	case !info.Mode().IsRegular():
		return nil
	}
	return r.open(root, yield)
}

// walk 递归目录；filepath.WalkDir 保证字典序且不跟随目录链接。
func (r *FileSystem) walk(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && r.excludeDir[strings.ToLower(d.Name())] {
				return filepath.SkipDir
			}
			return nil
		}
		if !r.accept(d.Name()) {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		return r.open(p, yield)
	})
}

func (r *FileSystem) accept(name string) bool {
	if r.exts == nil {
		return true
	}
	return r.exts[strings.ToLower(filepath.Ext(name))]
}

func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	brc := r.buffered(f)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func (r *FileSystem) buffered(c io.ReadCloser) *bufferedCloser {
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, r.bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }

var _ contract.Reader = (*FileSystem)(nil)
