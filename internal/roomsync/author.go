package roomsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Authors 把作者 id 解析为显示名并缓存命中结果，失败和未知的查询不缓存。
type Authors struct {
	profiles Profiles

	mu    sync.Mutex
	cache map[string]string
}

func NewAuthors(p Profiles) *Authors {
	return &Authors{profiles: p, cache: make(map[string]string)}
}

// Remember 预先写入缓存，例如当前登录用户。
func (a *Authors) Remember(id, name string) {
	if id == "" || name == "" {
		return
	}
	a.mu.Lock()
	a.cache[id] = name
	a.mu.Unlock()
}

func (a *Authors) cached(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.cache[id]
	return name, ok
}

// Resolve 不会失败：无法解析的一律返回 Anonymous。
func (a *Authors) Resolve(ctx context.Context, id string) string {
	if id == "" {
		return Anonymous
	}
	if name, ok := a.cached(id); ok {
		return name
	}
	name, err := a.profiles.Profile(ctx, id)
	if err != nil || name == "" {
		if err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Str("author_id", id).Msg("resolve author")
		}
		return Anonymous
	}
	a.Remember(id, name)
	return name
}

// ResolveMany 对未缓存的 id 至多发起一次批量查询，结果包含每个非空 id。
func (a *Authors) ResolveMany(ctx context.Context, ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	var missing []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		if name, ok := a.cached(id); ok {
			out[id] = name
			continue
		}
		out[id] = Anonymous
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out
	}

	names, err := a.profiles.Profiles(ctx, missing)
	if err != nil {
		log.Warn().Err(err).Int("count", len(missing)).Msg("batch resolve authors")
		return out
	}
	for _, id := range missing {
		if name := names[id]; name != "" {
			out[id] = name
			a.Remember(id, name)
		}
	}
	return out
}
