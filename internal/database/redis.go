package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"urlshortener/internal/types"
)

// Key layout under prefix p:
//
//	p link:<code>  hash with the link fields
//	p url:<url>    string holding the code that owns url
//	p expiry       sorted set of codes scored by expires_at (unix microseconds)
//	p seq          id sequence
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return -1 end
if redis.call('EXISTS', KEYS[2]) == 1 then return -2 end
local id = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'id', id, 'original_url', ARGV[2], 'short_code', ARGV[1],
	'created_at', ARGV[3], 'expires_at', ARGV[4], 'visit_count', 0, 'owner_id', ARGV[5])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[6], ARGV[1])
return id
`)

	incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {} end
redis.call('HINCRBY', KEYS[1], 'visit_count', 1)
return redis.call('HGETALL', KEYS[1])
`)

	updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if KEYS[1] ~= KEYS[2] and redis.call('EXISTS', KEYS[2]) == 1 then return -2 end
local holder = redis.call('GET', KEYS[3])
if holder and holder ~= ARGV[1] then return -3 end
local oldURL = redis.call('HGET', KEYS[1], 'original_url')
redis.call('DEL', ARGV[4] .. oldURL)
redis.call('HSET', KEYS[1], 'original_url', ARGV[3], 'short_code', ARGV[2])
if KEYS[1] ~= KEYS[2] then
	redis.call('RENAME', KEYS[1], KEYS[2])
	local score = redis.call('ZSCORE', KEYS[4], ARGV[1])
	redis.call('ZREM', KEYS[4], ARGV[1])
	if score then redis.call('ZADD', KEYS[4], score, ARGV[2]) end
end
redis.call('SET', KEYS[3], ARGV[2])
return 1
`)

	deleteScript = redis.NewScript(`
local url = redis.call('HGET', KEYS[1], 'original_url')
if not url then return 0 end
redis.call('DEL', KEYS[1])
redis.call('DEL', ARGV[2] .. url)
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

	purgeScript = redis.NewScript(`
local codes = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, code in ipairs(codes) do
	local key = ARGV[2] .. code
	local url = redis.call('HGET', key, 'original_url')
	if url then redis.call('DEL', ARGV[3] .. url) end
	redis.call('DEL', key)
	redis.call('ZREM', KEYS[1], code)
end
return #codes
`)
)

// RedisStore keeps links in Redis. Every mutation runs as a Lua script so the
// uniqueness checks and the writes they guard execute atomically.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func ConnectRedis(addr, password string, db int, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return NewRedisStore(rdb, prefix), nil
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) linkKey(code string) string { return s.prefix + "link:" + code }
func (s *RedisStore) urlKey(url string) string   { return s.prefix + "url:" + url }
func (s *RedisStore) expiryKey() string          { return s.prefix + "expiry" }
func (s *RedisStore) seqKey() string             { return s.prefix + "seq" }

func (s *RedisStore) CreateLink(ctx context.Context, link *types.Link) error {
	owner := ""
	if link.OwnerID != nil {
		owner = strconv.FormatInt(*link.OwnerID, 10)
	}

	id, err := createScript.Run(ctx, s.rdb,
		[]string{s.linkKey(link.ShortCode), s.urlKey(link.OriginalURL), s.seqKey(), s.expiryKey()},
		link.ShortCode, link.OriginalURL,
		formatTime(link.CreatedAt), formatTime(link.ExpiresAt),
		owner, link.ExpiresAt.UnixMicro(),
	).Int64()
	if err != nil {
		return fmt.Errorf("create link %q: %w", link.ShortCode, err)
	}

	switch id {
	case -1:
		return fmt.Errorf("%w: %s", types.ErrShortCodeTaken, link.ShortCode)
	case -2:
		return fmt.Errorf("%w: %s", types.ErrOriginalURLTaken, link.OriginalURL)
	}
	link.ID = id
	return nil
}

func (s *RedisStore) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.linkKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("check short code %q: %w", code, err)
	}
	return n > 0, nil
}

func (s *RedisStore) GetLinkByCode(ctx context.Context, code string) (*types.Link, error) {
	fields, err := s.rdb.HGetAll(ctx, s.linkKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("get link %q: %w", code, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: short_code = %q", types.ErrNotFound, code)
	}
	return linkFromHash(fields)
}

func (s *RedisStore) GetLinkByOriginalURL(ctx context.Context, originalURL string) (*types.Link, error) {
	code, err := s.rdb.Get(ctx, s.urlKey(originalURL)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: original_url = %q", types.ErrNotFound, originalURL)
	}
	if err != nil {
		return nil, fmt.Errorf("get link by url: %w", err)
	}
	return s.GetLinkByCode(ctx, code)
}

func (s *RedisStore) IncrementVisits(ctx context.Context, code string) (*types.Link, error) {
	res, err := incrementScript.Run(ctx, s.rdb, []string{s.linkKey(code)}).Slice()
	if err != nil {
		return nil, fmt.Errorf("increment visits for %q: %w", code, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: short_code = %q", types.ErrNotFound, code)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return linkFromHash(fields)
}

func (s *RedisStore) UpdateLink(ctx context.Context, code string, upd types.LinkUpdate) error {
	rc, err := updateScript.Run(ctx, s.rdb,
		[]string{s.linkKey(code), s.linkKey(upd.ShortCode), s.urlKey(upd.OriginalURL), s.expiryKey()},
		code, upd.ShortCode, upd.OriginalURL, s.prefix+"url:",
	).Int64()
	if err != nil {
		return fmt.Errorf("update link %q: %w", code, err)
	}

	switch rc {
	case -1:
		return fmt.Errorf("%w: short_code = %q", types.ErrNotFound, code)
	case -2:
		return fmt.Errorf("%w: %s", types.ErrShortCodeTaken, upd.ShortCode)
	case -3:
		return fmt.Errorf("%w: %s", types.ErrOriginalURLTaken, upd.OriginalURL)
	}
	return nil
}

func (s *RedisStore) DeleteLink(ctx context.Context, code string) error {
	n, err := deleteScript.Run(ctx, s.rdb,
		[]string{s.linkKey(code), s.expiryKey()},
		code, s.prefix+"url:",
	).Int64()
	if err != nil {
		return fmt.Errorf("delete link %q: %w", code, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: short_code = %q", types.ErrNotFound, code)
	}
	return nil
}

func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := purgeScript.Run(ctx, s.rdb,
		[]string{s.expiryKey()},
		now.UnixMicro(), s.prefix+"link:", s.prefix+"url:",
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("purge expired links: %w", err)
	}
	return n, nil
}

func (s *RedisStore) ListLinks(ctx context.Context) ([]types.Link, error) {
	codes, err := s.rdb.ZRange(ctx, s.expiryKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	links := make([]types.Link, 0, len(codes))
	for _, code := range codes {
		link, err := s.GetLinkByCode(ctx, code)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func linkFromHash(fields map[string]string) (*types.Link, error) {
	link := &types.Link{
		OriginalURL: fields["original_url"],
		ShortCode:   fields["short_code"],
	}

	var err error
	if link.ID, err = strconv.ParseInt(fields["id"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode link id: %w", err)
	}
	if link.VisitCount, err = strconv.ParseInt(fields["visit_count"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode visit count: %w", err)
	}
	if link.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if link.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	if owner := fields["owner_id"]; owner != "" {
		id, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode owner_id: %w", err)
		}
		link.OwnerID = &id
	}
	return link, nil
}
