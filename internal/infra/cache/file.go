package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/John-Robertt/avresolve/internal/infra/fsx"
)

// 缓存 key 是 URL 的 sha256 十六进制串；这里只做最小校验，避免路径穿越。
var keyRE = regexp.MustCompile(`^[a-f0-9]{16,128}$`)

func cleanKey(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if !keyRE.MatchString(key) {
		return "", fmt.Errorf("非法缓存 key：%q", key)
	}
	return key, nil
}

// FileStore 把页面缓存放在本地目录：<Root>/<key[:2]>/<key>.page。
//
// 约束：
// - 写入走 fsx 原子替换，并发写同一 key 时读方只会看到完整内容
// - storedAt 取文件修改时间
type FileStore struct {
	Root string
}

func NewFileStore(root string) FileStore {
	return FileStore{Root: filepath.Clean(strings.TrimSpace(root))}
}

func (s FileStore) path(key string) (dir, name string) {
	return filepath.Join(s.Root, key[:2]), key + ".page"
}

func (s FileStore) Get(_ context.Context, key string) ([]byte, time.Time, bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	dir, name := s.path(key)
	return fsx.ReadFile(filepath.Join(dir, name))
}

func (s FileStore) Put(_ context.Context, key string, body []byte) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	dir, name := s.path(key)
	return fsx.WriteFileAtomic(dir, name, body)
}
