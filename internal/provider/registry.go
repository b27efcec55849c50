package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Registry 是 provider 的只读注册表（按 name 索引）。
// 用 map 做 O(1) 查找；provider 数量极小，保持简单即可。
type Registry struct {
	byName map[string]MetadataProvider
}

func NewRegistry(providers ...MetadataProvider) (Registry, error) {
	byName := make(map[string]MetadataProvider, len(providers))
	for _, p := range providers {
		if p == nil {
			return Registry{}, fmt.Errorf("provider 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("provider.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 provider：%q", name)
		}
		byName[name] = p
	}
	return Registry{byName: byName}, nil
}

func (r Registry) Get(name string) (MetadataProvider, bool) {
	if r.byName == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	p, ok := r.byName[name]
	return p, ok
}

// Lookup 按顺序取出多个 provider；任一缺失即报错（启动装配阶段使用）。
func (r Registry) Lookup(names ...string) ([]MetadataProvider, error) {
	out := make([]MetadataProvider, 0, len(names))
	for _, n := range names {
		p, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("provider 未注册：%q（已注册：%s）", n, strings.Join(r.Names(), ", "))
		}
		out = append(out, p)
	}
	return out, nil
}

// Names 返回已注册的 provider 名（排序，保证稳定）。
func (r Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
