package cache

import (
	"net/http"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/turbolite/turbo/internal/analytics"
	"github.com/turbolite/turbo/internal/fs"
	"github.com/turbolite/turbo/internal/turbopath"
	"github.com/turbolite/turbo/internal/util"
)

// memCache is an in-memory Cache stand-in keyed by hash, used to drive the
// cacheMultiplexer without touching the filesystem or network.
type memCache struct {
	disabledErr *util.CacheDisabledError
	entries     map[string][]turbopath.AnchoredSystemPath
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]turbopath.AnchoredSystemPath)}
}

func newDisabledMemCache() *memCache {
	return &memCache{disabledErr: &util.CacheDisabledError{
		Status:  util.CachingStatusDisabled,
		Message: "remote caching is disabled",
	}}
}

func (c *memCache) Fetch(_ turbopath.AbsoluteSystemPath, hash string, _ []string) (ItemStatus, []turbopath.AnchoredSystemPath, int, error) {
	if c.disabledErr != nil {
		return ItemStatus{}, nil, 0, c.disabledErr
	}
	if files, ok := c.entries[hash]; ok {
		return ItemStatus{Local: true}, files, 5, nil
	}
	return ItemStatus{}, nil, 0, nil
}

func (c *memCache) Exists(hash string) ItemStatus {
	if c.disabledErr != nil {
		return ItemStatus{}
	}
	if _, ok := c.entries[hash]; ok {
		return ItemStatus{Local: true}
	}
	return ItemStatus{}
}

func (c *memCache) Put(_ turbopath.AbsoluteSystemPath, hash string, _ int, files []turbopath.AnchoredSystemPath) error {
	if c.disabledErr != nil {
		return c.disabledErr
	}
	c.entries[hash] = files
	return nil
}

func (c *memCache) Clean(_ turbopath.AbsoluteSystemPath) {}
func (c *memCache) CleanAll()                            {}
func (c *memCache) Shutdown()                             {}

func countingRemovalCallback() (OnCacheRemoved, func() uint64) {
	var count uint64
	return func(Cache, error) { atomic.AddUint64(&count, 1) }, func() uint64 { return atomic.LoadUint64(&count) }
}

func TestMultiplexer_PutDropsADisabledCacheAndKeepsServingTheRest(t *testing.T) {
	disabled := newDisabledMemCache()
	onRemoved, removedCount := countingRemovalCallback()
	mplex := &cacheMultiplexer{
		caches:         []Cache{newMemCache(), disabled, newMemCache(), newMemCache()},
		onCacheRemoved: onRemoved,
	}

	if err := mplex.Put("unused-target", "some-hash", 5, []turbopath.AnchoredSystemPath{"a-file"}); err != nil {
		t.Fatalf("Put returned %v, want nil (disabled-cache errors must not leak)", err)
	}
	if got := removedCount(); got != 1 {
		t.Errorf("removal callback fired %d times, want 1", got)
	}

	mplex.mu.RLock()
	if len(mplex.caches) != 3 {
		t.Errorf("%d caches remain, want 3 after the disabled one is pruned", len(mplex.caches))
	}
	for _, cache := range mplex.caches {
		if cache == disabled {
			t.Error("disabled cache is still in the pool")
		}
	}
	mplex.mu.RUnlock()

	// A subsequent Fetch must still succeed from the remaining caches, and
	// must not trigger a second removal.
	status, _, _, err := mplex.Fetch("unused-target", "some-hash", []string{"unused", "files"})
	if err != nil {
		t.Errorf("Fetch returned %v, want nil", err)
	}
	if !status.Local && !status.Remote {
		t.Error("Fetch missed an entry that Put had just stored")
	}
	if got := removedCount(); got != 1 {
		t.Errorf("removal callback fired %d times after Fetch, want still 1", got)
	}
}

func TestMultiplexer_FetchSkipsADisabledCacheWithoutFailing(t *testing.T) {
	disabled := newDisabledMemCache()
	onRemoved, removedCount := countingRemovalCallback()
	mplex := &cacheMultiplexer{
		caches:         []Cache{newMemCache(), disabled, newMemCache(), newMemCache()},
		onCacheRemoved: onRemoved,
	}

	status, _, _, err := mplex.Fetch("unused-target", "some-hash", []string{"unused", "files"})
	if err != nil {
		t.Errorf("Fetch returned %v, want nil", err)
	}
	if status.Local || status.Remote {
		t.Error("Fetch reported a hit against an empty cache")
	}
	if got := removedCount(); got != 1 {
		t.Errorf("removal callback fired %d times, want 1", got)
	}

	mplex.mu.RLock()
	defer mplex.mu.RUnlock()
	if len(mplex.caches) != 3 {
		t.Errorf("%d caches remain, want 3 after the disabled one is pruned", len(mplex.caches))
	}
}

func TestMultiplexer_ExistsReflectsPriorPut(t *testing.T) {
	mplex := &cacheMultiplexer{caches: []Cache{newMemCache()}}

	if mplex.Exists("some-hash").Local {
		t.Fatal("Exists reported a hit before anything was stored")
	}
	if err := mplex.Put("unused-target", "some-hash", 5, []turbopath.AnchoredSystemPath{"a-file"}); err != nil {
		t.Fatalf("Put returned %v, want nil", err)
	}
	if !mplex.Exists("some-hash").Local {
		t.Error("Exists missed an entry that Put had just stored")
	}
}

type stubClient struct{}

func (*stubClient) FetchArtifact(hash string) (*http.Response, error)          { panic("unimplemented") }
func (*stubClient) ArtifactExists(hash string) (*http.Response, error)         { panic("unimplemented") }
func (*stubClient) GetTeamID() string                                         { return "fake-team-id" }
func (*stubClient) PutArtifact(hash string, body []byte, duration int, tag string) error {
	panic("unimplemented")
}

var _ client = &stubClient{}

type nullRecorder struct{}

func (nullRecorder) LogEvent(analytics.EventPayload) {}

func TestNew_PicksTheBackendCombinationImpliedByOpts(t *testing.T) {
	repoRoot := fs.AbsoluteSystemPathFromUpstream(t.TempDir())

	cases := []struct {
		name    string
		opts    Opts
		want    []Cache
		wantErr bool
	}{
		{
			name:    "neither backend enabled falls back to a noopCache and an error",
			opts:    Opts{SkipFilesystem: true, SkipRemote: true},
			want:    []Cache{&noopCache{}},
			wantErr: true,
		},
		{
			name: "remote only also gets a noopCache as its fallback slot",
			opts: Opts{SkipFilesystem: true, RemoteCacheOpts: fs.RemoteCacheOptions{Signature: true}},
			want: []Cache{&httpCache{}, &noopCache{}},
		},
		{
			name: "filesystem only skips the multiplexer entirely",
			opts: Opts{SkipRemote: true},
			want: []Cache{&fsCache{}},
		},
		{
			name: "both backends are multiplexed filesystem-first",
			opts: Opts{RemoteCacheOpts: fs.RemoteCacheOptions{Signature: true}},
			want: []Cache{&fsCache{}, &httpCache{}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := New(tc.opts, repoRoot, &stubClient{}, nullRecorder{}, func(Cache, error) {})
			if (err != nil) != tc.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tc.wantErr)
			}

			var gotCaches []Cache
			if mplex, ok := got.(*cacheMultiplexer); ok {
				gotCaches = mplex.caches
			} else {
				gotCaches = []Cache{got}
			}

			if len(gotCaches) != len(tc.want) {
				t.Fatalf("New() produced %d caches, want %d", len(gotCaches), len(tc.want))
			}
			for i := range gotCaches {
				if reflect.TypeOf(gotCaches[i]) != reflect.TypeOf(tc.want[i]) {
					t.Errorf("cache[%d] = %T, want %T", i, gotCaches[i], tc.want[i])
				}
			}
		})
	}
}
