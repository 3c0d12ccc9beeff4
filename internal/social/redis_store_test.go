package social

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"contentflow/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *RedisStore {
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url")
	require.Error(t, err)
}

func TestAttachTagsKeepsInsertionOrderAndDeduplicates(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()

	added, err := rs.AttachTags(ctx, "node-1", []string{"draft", "legal", "draft"})
	require.NoError(t, err)
	require.Equal(t, []string{"draft", "legal"}, added)

	added, err = rs.AttachTags(ctx, "node-1", []string{"legal", "final"})
	require.NoError(t, err)
	require.Equal(t, []string{"final"}, added)

	tags, err := rs.ListTags(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, []string{"draft", "legal", "final"}, tags)
}

func TestListTagsOnUntaggedNodeIsEmpty(t *testing.T) {
	rs := setupTestRedis(t)

	tags, err := rs.ListTags(context.Background(), "node-untagged")
	require.NoError(t, err)
	require.Empty(t, tags)
}

func TestDetachTag(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()

	_, err := rs.AttachTags(ctx, "node-1", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.NoError(t, rs.DetachTag(ctx, "node-1", "b"))

	tags, err := rs.ListTags(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, tags)

	err = rs.DetachTag(ctx, "node-1", "b")
	require.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func TestCommentsAreReturnedNewestFirst(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, rs.AttachComments(ctx, "node-1", []store.Comment{
		{ID: "c1", NodeID: "node-1", Author: "alice", Text: "v1", CreatedAt: now},
		{ID: "c2", NodeID: "node-1", Author: "alice", Text: "v2", CreatedAt: now},
	}))
	require.NoError(t, rs.AttachComments(ctx, "node-1", []store.Comment{
		{ID: "c3", NodeID: "node-1", Author: "bob", Text: "v3", CreatedAt: now},
	}))

	comments, err := rs.ListComments(ctx, "node-1")
	require.NoError(t, err)
	require.Len(t, comments, 3)
	require.Equal(t, []string{"v3", "v2", "v1"}, []string{comments[0].Text, comments[1].Text, comments[2].Text})
	require.Equal(t, "bob", comments[0].Author)
}

func TestDetachCommentRemovesNewestMatchOnly(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rs.AttachComments(ctx, "node-1", []store.Comment{
		{ID: "c1", Text: "same"},
		{ID: "c2", Text: "other"},
		{ID: "c3", Text: "same"},
	}))

	removed, err := rs.DetachComment(ctx, "node-1", "same")
	require.NoError(t, err)
	require.Equal(t, "c3", removed.ID)

	comments, err := rs.ListComments(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, []string{"c2", "c1"}, []string{comments[0].ID, comments[1].ID})

	_, err = rs.DetachComment(ctx, "node-1", "missing")
	require.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func TestLikesArePerPrincipal(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rs.AddLike(ctx, "node-1", "alice"))
	require.NoError(t, rs.AddLike(ctx, "node-1", "alice"))
	require.NoError(t, rs.AddLike(ctx, "node-1", "bob"))

	count, err := rs.CountLikes(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	liked, err := rs.HasLike(ctx, "node-1", "bob")
	require.NoError(t, err)
	require.True(t, liked)

	require.NoError(t, rs.RemoveLike(ctx, "node-1", "alice"))
	require.NoError(t, rs.RemoveLike(ctx, "node-1", "bob"))
	count, err = rs.CountLikes(ctx, "node-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestFavoritesAreIdempotent(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rs.AddFavorite(ctx, "alice", "node-2"))
	require.NoError(t, rs.AddFavorite(ctx, "alice", "node-2"))
	require.NoError(t, rs.AddFavorite(ctx, "alice", "node-1"))

	favorites, err := rs.ListFavorites(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"node-1", "node-2"}, favorites)

	require.NoError(t, rs.RemoveFavorite(ctx, "alice", "node-2"))
	require.NoError(t, rs.RemoveFavorite(ctx, "alice", "node-2"))
	favorite, err := rs.IsFavorite(ctx, "alice", "node-2")
	require.NoError(t, err)
	require.False(t, favorite)

	favorite, err = rs.IsFavorite(ctx, "bob", "node-1")
	require.NoError(t, err)
	require.False(t, favorite)
}

func TestConcurrentAttachTagsKeepsEveryTag(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()
	const writers = 40

	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rs.AttachTags(ctx, "node-1", []string{fmt.Sprintf("tag%02d", i), "shared"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tags, err := rs.ListTags(ctx, "node-1")
	require.NoError(t, err)
	require.Len(t, tags, writers+1)

	want := []string{"shared"}
	for i := 0; i < writers; i++ {
		want = append(want, fmt.Sprintf("tag%02d", i))
	}
	got := append([]string(nil), tags...)
	sort.Strings(want)
	sort.Strings(got)
	require.Equal(t, want, got)
}

func TestConcurrentAttachTagsAddsSharedTagOnce(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()
	const writers = 20

	var mu sync.Mutex
	addedShared := 0
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := rs.AttachTags(ctx, "node-1", []string{"shared"})
			assert.NoError(t, err)
			mu.Lock()
			addedShared += len(added)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, addedShared)
	tags, err := rs.ListTags(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, []string{"shared"}, tags)
}

func TestConcurrentDetachTagAndComment(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()
	const writers = 20

	tags := make([]string, 0, writers)
	comments := make([]store.Comment, 0, writers)
	for i := 0; i < writers; i++ {
		tags = append(tags, fmt.Sprintf("tag%02d", i))
		comments = append(comments, store.Comment{ID: fmt.Sprintf("c%02d", i), Text: fmt.Sprintf("text%02d", i)})
	}
	_, err := rs.AttachTags(ctx, "node-1", tags)
	require.NoError(t, err)
	require.NoError(t, rs.AttachComments(ctx, "node-1", comments))

	errs := make(chan error, 2*writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- rs.DetachTag(ctx, "node-1", fmt.Sprintf("tag%02d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := rs.DetachComment(ctx, "node-1", fmt.Sprintf("text%02d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	remainingTags, err := rs.ListTags(ctx, "node-1")
	require.NoError(t, err)
	require.Empty(t, remainingTags)
	remainingComments, err := rs.ListComments(ctx, "node-1")
	require.NoError(t, err)
	require.Empty(t, remainingComments)
}

func TestConcurrentLikesFromDistinctPrincipals(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()
	const principals = 30

	var wg sync.WaitGroup
	for i := 0; i < principals; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			principal := fmt.Sprintf("user%02d", i)
			assert.NoError(t, rs.AddLike(ctx, "node-1", principal))
			assert.NoError(t, rs.AddFavorite(ctx, principal, "node-1"))
		}(i)
	}
	wg.Wait()

	count, err := rs.CountLikes(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, principals, count)
	for i := 0; i < principals; i++ {
		favorite, err := rs.IsFavorite(ctx, fmt.Sprintf("user%02d", i), "node-1")
		require.NoError(t, err)
		require.True(t, favorite)
	}
}
