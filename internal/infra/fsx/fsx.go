package fsx

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// 测试里替换它来模拟 rename 失败。
var renameFunc = os.Rename

// WriteFileAtomic 在 dir 下原子写入 name：同目录临时文件 + fsync + rename，已存在则覆盖。
//
// 约束：
// - 失败时不留下临时文件，也不产生半写的目标文件
// - 目录 fsync 为 best-effort
func WriteFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := renameFunc(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}
	_ = syncDir(dir)
	return nil
}

// ReadFile 读取文件及其修改时间；文件不存在时 ok=false 且 err=nil。
func ReadFile(path string) (data []byte, modTime time.Time, ok bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, false, err
	}
	if !fi.Mode().IsRegular() {
		return nil, time.Time{}, false, &fs.PathError{Op: "read", Path: path, Err: errors.New("不是普通文件")}
	}
	data, err = io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return data, fi.ModTime(), true, nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
