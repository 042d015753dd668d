package cache

import (
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/karlseguin/ccache/v3"

	"github.com/iamrita-ai/Terabox-Drive/leech"
)

var (
	DefaultResolvedLinkTTL  = 10 * time.Minute
	DefaultUploadedThumbTTL = 1 * time.Hour
)

type Cache struct {
	ResolvedLinks  ResolvedLinksCache
	UploadedThumbs UploadedThumbsCache
}

func New() *Cache {
	resolvedLinksCache := ccache.New(
		ccache.Configure[leech.ResolvedLink]().
			MaxSize(1000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	uploadedThumbsCache := ccache.New(
		ccache.Configure[tg.InputFileClass]().
			MaxSize(100).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		ResolvedLinks: ResolvedLinksCache{
			c:   resolvedLinksCache,
			mux: sync.Mutex{},
		},
		UploadedThumbs: UploadedThumbsCache{
			c:   uploadedThumbsCache,
			mux: sync.Mutex{},
		},
	}
}

type ResolvedLinksCache struct {
	c   *ccache.Cache[leech.ResolvedLink]
	mux sync.Mutex
}

func (c *ResolvedLinksCache) Fetch(k string, ttl time.Duration, fetch func() (leech.ResolvedLink, error)) (*ccache.Item[leech.ResolvedLink], error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.c.Fetch(k, ttl, fetch)
}

func (c *ResolvedLinksCache) Delete(k string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.c.Delete(k)
}

type UploadedThumbsCache struct {
	c   *ccache.Cache[tg.InputFileClass]
	mux sync.Mutex
}

func (c *UploadedThumbsCache) Fetch(k string, ttl time.Duration, fetch func() (tg.InputFileClass, error)) (*ccache.Item[tg.InputFileClass], error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.c.Fetch(k, ttl, fetch)
}

func (c *UploadedThumbsCache) Delete(k string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.c.Delete(k)
}
