package procinfo

import (
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Resolver maps PIDs seen on a GPU to the owning username and command
// line. Lookups go through a TTL cache so that polling the same window
// many times does not re-stat every process every tick.

const UnknownUser = "unknown"

type Info struct {
	PID     int
	User    string
	Cmdline string
}

type Resolver struct {
	cache *ttlCache

	// overridable in tests
	lookup func(pid int) (Info, error)
}

func NewResolver(ttl time.Duration) *Resolver {
	return &Resolver{
		cache:  newTTLCache(ttl),
		lookup: lookupProcess,
	}
}

// Resolve never fails: processes that exited between the GPU query and
// the lookup, and PIDs we may not inspect, come back as "unknown".
func (r *Resolver) Resolve(pid int) Info {
	if info, ok := r.cache.Get(pid); ok {
		return info
	}

	info, err := r.lookup(pid)
	if err != nil {
		info = Info{PID: pid, User: UnknownUser, Cmdline: UnknownUser}
	}
	r.cache.Set(pid, info)
	return info
}

func lookupProcess(pid int) (Info, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Info{}, err
	}

	info := Info{PID: pid}
	user, err := p.Username()
	if err != nil {
		return Info{}, err
	}
	info.User = user

	cmd, err := p.Cmdline()
	if err != nil || strings.TrimSpace(cmd) == "" {
		cmd = UnknownUser
	}
	info.Cmdline = cmd
	return info, nil
}

// ---- tiny TTL cache ----

type ttlCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[int]cacheItem
}

type cacheItem struct {
	val     Info
	expires time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, m: map[int]cacheItem{}}
}

func (c *ttlCache) Get(key int) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.m[key]
	if !ok {
		return Info{}, false
	}
	if time.Now().After(it.expires) {
		delete(c.m, key)
		return Info{}, false
	}
	return it.val, true
}

func (c *ttlCache) Set(key int, val Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cacheItem{val: val, expires: time.Now().Add(c.ttl)}
}
