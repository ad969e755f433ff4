package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"texgc/pkg/contract"
)

// Options 为文件系统 Writer 的配置。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 同目录临时文件 + rename。nil 时默认 true；显式 false 关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 仅保留文件名，不保留目录层级。nil 时默认 true。
	Flat *bool `json:"flat,omitempty"`
	// Suffix: 插入到文件名首个 '.' 之前，如 "_fixed" 使 paper.tex → paper_fixed.tex、
	// paper.tex.jsonl → paper_fixed.tex.jsonl。输出目录与源目录相同时避免覆盖源文件。
	Suffix string `json:"suffix,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 实现 contract.Writer：按 ArtifactID 映射到 OutputDir 下的路径并写入全部字节。
type FS struct {
	root    string
	atomic  bool
	flat    bool
	suffix  string
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer。OutputDir 为空时返回 os.ErrInvalid。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	if strings.ContainsAny(opts.Suffix, `/\`) {
		return nil, contract.ErrPathInvalid
	}
	w := &FS{
		root:    opts.OutputDir,
		atomic:  true,
		flat:    true,
		suffix:  opts.Suffix,
		permF:   0o644,
		permD:   0o755,
		bufSize: 64 * 1024,
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.Flat != nil {
		w.flat = *opts.Flat
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Write 将 r 的全部字节写入基于 id 映射的目标路径；ctx 取消时尽快返回且不留下半成品（原子模式）。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeOverwrite(ctx, dest, r)
}

// mapPath: Clean + 后缀 + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if w.flat {
		rel = filepath.Base(rel)
	} else if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" ||
		rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, withSuffix(rel, w.suffix)), nil
}

// withSuffix 在基名首个 '.'（不含前导点）之前插入后缀。
func withSuffix(rel, suffix string) string {
	if suffix == "" {
		return rel
	}
	dir, base := filepath.Split(rel)
	i := strings.IndexByte(strings.TrimLeft(base, "."), '.')
	if i < 0 {
		return dir + base + suffix
	}
	i += len(base) - len(strings.TrimLeft(base, "."))
	return dir + base[:i] + suffix + base[i:]
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if err != nil {
			if !closed {
				_ = tmp.Close()
			}
			_ = os.Remove(tmpPath)
		}
	}()
	_ = os.Chmod(tmpPath, w.permF)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err = io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = osReplace(tmpPath, dest); err != nil {
		return err
	}
	// 最佳努力：同步父目录元数据
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
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
