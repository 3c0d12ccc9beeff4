// Package social stores per-node annotations (tags, comments, likes and
// favorites) in Redis.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"contentflow/internal/store"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tags in a sorted set scored by a per-node sequence, so
// concurrent writers append without reading first. Comments are a list,
// newest at the head. Likes and favorites are set members, one per
// principal.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed annotation store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "social:",
	}
}

func (s *RedisStore) tagsKey(nodeID string) string {
	return s.prefix + "tags:" + nodeID
}

func (s *RedisStore) tagSeqKey(nodeID string) string {
	return s.prefix + "tagseq:" + nodeID
}

func (s *RedisStore) commentsKey(nodeID string) string {
	return s.prefix + "comments:" + nodeID
}

func (s *RedisStore) likesKey(nodeID string) string {
	return s.prefix + "likes:" + nodeID
}

func (s *RedisStore) favoritesKey(principal string) string {
	return s.prefix + "favorites:" + principal
}

// AttachTags appends the tags not already present, in order, and returns
// the ones that were added.
func (s *RedisStore) AttachTags(ctx context.Context, nodeID string, tags []string) ([]string, error) {
	unique := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		unique = append(unique, tag)
	}
	if len(unique) == 0 {
		return []string{}, nil
	}

	// Reserve a contiguous block of positions; ZADD NX keeps the first
	// position a tag was given.
	last, err := s.client.IncrBy(ctx, s.tagSeqKey(nodeID), int64(len(unique))).Result()
	if err != nil {
		return nil, fmt.Errorf("attach tags: reserve order: %w", err)
	}
	first := last - int64(len(unique)) + 1

	key := s.tagsKey(nodeID)
	cmds := make([]*redis.IntCmd, len(unique))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, tag := range unique {
			cmds[i] = pipe.ZAddNX(ctx, key, redis.Z{Score: float64(first + int64(i)), Member: tag})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attach tags: %w", err)
	}

	added := make([]string, 0, len(unique))
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			added = append(added, unique[i])
		}
	}
	return added, nil
}

// DetachTag removes tag from the node, failing with store.ErrNotFound when
// the node does not carry it.
func (s *RedisStore) DetachTag(ctx context.Context, nodeID, tag string) error {
	removed, err := s.client.ZRem(ctx, s.tagsKey(nodeID), tag).Result()
	if err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("detach tag: tag %q on node %s: %w", tag, nodeID, store.ErrNotFound)
	}
	return nil
}

// ListTags returns the node's tags in insertion order.
func (s *RedisStore) ListTags(ctx context.Context, nodeID string) ([]string, error) {
	tags, err := s.client.ZRange(ctx, s.tagsKey(nodeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// AttachComments pushes comments in order with a single LPUSH, which leaves
// the last one at the head of the list.
func (s *RedisStore) AttachComments(ctx context.Context, nodeID string, comments []store.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	values := make([]any, 0, len(comments))
	for _, comment := range comments {
		payload, err := json.Marshal(comment)
		if err != nil {
			return fmt.Errorf("marshal comment: %w", err)
		}
		values = append(values, payload)
	}
	if err := s.client.LPush(ctx, s.commentsKey(nodeID), values...).Err(); err != nil {
		return fmt.Errorf("attach comments: %w", err)
	}
	return nil
}

// ListComments returns the node's comments newest first.
func (s *RedisStore) ListComments(ctx context.Context, nodeID string) ([]store.Comment, error) {
	raw, err := s.client.LRange(ctx, s.commentsKey(nodeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	comments, err := decodeComments(raw)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// DetachComment removes the newest comment whose text equals text. Entries
// carry unique IDs, so LREM of the matched value removes exactly that
// comment; if another caller removed it first the list is scanned again.
func (s *RedisStore) DetachComment(ctx context.Context, nodeID, text string) (store.Comment, error) {
	key := s.commentsKey(nodeID)
	for {
		if err := ctx.Err(); err != nil {
			return store.Comment{}, fmt.Errorf("detach comment: %w", err)
		}
		raw, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return store.Comment{}, fmt.Errorf("detach comment: %w", err)
		}
		entry, comment, found, err := newestMatch(raw, text)
		if err != nil {
			return store.Comment{}, fmt.Errorf("detach comment: %w", err)
		}
		if !found {
			return store.Comment{}, fmt.Errorf("detach comment: comment %q on node %s: %w", text, nodeID, store.ErrNotFound)
		}
		removed, err := s.client.LRem(ctx, key, 1, entry).Result()
		if err != nil {
			return store.Comment{}, fmt.Errorf("detach comment: %w", err)
		}
		if removed == 1 {
			return comment, nil
		}
	}
}

func newestMatch(raw []string, text string) (string, store.Comment, bool, error) {
	for _, entry := range raw {
		var comment store.Comment
		if err := json.Unmarshal([]byte(entry), &comment); err != nil {
			return "", store.Comment{}, false, fmt.Errorf("unmarshal comment: %w", err)
		}
		if comment.Text == text {
			return entry, comment, true, nil
		}
	}
	return "", store.Comment{}, false, nil
}

func (s *RedisStore) AddLike(ctx context.Context, nodeID, principal string) error {
	if err := s.client.SAdd(ctx, s.likesKey(nodeID), principal).Err(); err != nil {
		return fmt.Errorf("add like: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveLike(ctx context.Context, nodeID, principal string) error {
	if err := s.client.SRem(ctx, s.likesKey(nodeID), principal).Err(); err != nil {
		return fmt.Errorf("remove like: %w", err)
	}
	return nil
}

func (s *RedisStore) HasLike(ctx context.Context, nodeID, principal string) (bool, error) {
	liked, err := s.client.SIsMember(ctx, s.likesKey(nodeID), principal).Result()
	if err != nil {
		return false, fmt.Errorf("check like: %w", err)
	}
	return liked, nil
}

func (s *RedisStore) CountLikes(ctx context.Context, nodeID string) (int, error) {
	count, err := s.client.SCard(ctx, s.likesKey(nodeID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return int(count), nil
}

func (s *RedisStore) AddFavorite(ctx context.Context, principal, nodeID string) error {
	if err := s.client.SAdd(ctx, s.favoritesKey(principal), nodeID).Err(); err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveFavorite(ctx context.Context, principal, nodeID string) error {
	if err := s.client.SRem(ctx, s.favoritesKey(principal), nodeID).Err(); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (s *RedisStore) IsFavorite(ctx context.Context, principal, nodeID string) (bool, error) {
	favorite, err := s.client.SIsMember(ctx, s.favoritesKey(principal), nodeID).Result()
	if err != nil {
		return false, fmt.Errorf("check favorite: %w", err)
	}
	return favorite, nil
}

// ListFavorites returns the principal's favorite node IDs sorted.
func (s *RedisStore) ListFavorites(ctx context.Context, principal string) ([]string, error) {
	nodeIDs, err := s.client.SMembers(ctx, s.favoritesKey(principal)).Result()
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	sort.Strings(nodeIDs)
	return nodeIDs, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeComments(raw []string) ([]store.Comment, error) {
	comments := make([]store.Comment, 0, len(raw))
	for _, entry := range raw {
		var comment store.Comment
		if err := json.Unmarshal([]byte(entry), &comment); err != nil {
			return nil, fmt.Errorf("unmarshal comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, nil
}
