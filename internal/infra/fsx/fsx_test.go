package fsx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func noTemp(t *testing.T, dir, name string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "."+name+".tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteFileAtomic_ReplaceAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	if err := WriteFileAtomic(dir, "a.html", []byte("v1")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := WriteFileAtomic(dir, "a.html", []byte("v2")); err != nil {
		t.Fatalf("覆盖写入不应报错：%v", err)
	}
	b, mt, ok, err := ReadFile(filepath.Join(dir, "a.html"))
	if err != nil || !ok {
		t.Fatalf("应能读回：%v %v", ok, err)
	}
	if string(b) != "v2" || mt.IsZero() {
		t.Fatalf("内容/时间不符合预期：%q %v", b, mt)
	}
	noTemp(t, dir, "a.html")
}

func TestWriteFileAtomic_RenameFailCleansUp(t *testing.T) {
	dir := t.TempDir()
	old := renameFunc
	renameFunc = func(string, string) error { return os.ErrPermission }
	defer func() { renameFunc = old }()

	if err := WriteFileAtomic(dir, "a.html", []byte("x")); err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}
	noTemp(t, dir, "a.html")
	if _, err := os.Stat(filepath.Join(dir, "a.html")); !os.IsNotExist(err) {
		t.Fatalf("不应写出目标文件：%v", err)
	}
}

func TestReadFile_MissingAndDir(t *testing.T) {
	dir := t.TempDir()
	if _, _, ok, err := ReadFile(filepath.Join(dir, "nope")); ok || err != nil {
		t.Fatalf("不存在的文件应返回 ok=false：%v %v", ok, err)
	}
	if _, _, _, err := ReadFile(dir); err == nil {
		t.Fatalf("目录应报错")
	}
}
