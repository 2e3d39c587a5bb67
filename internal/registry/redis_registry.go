package registry

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisConnKeyPrefix = "chat:conn:"
	redisIndexKey      = "chat:conns"
	redisScanPage      = 100
)

// redisNodeKey is the set of connection ids held by one server node.
func redisNodeKey(node string) string { return "chat:node:" + node + ":conns" }

// redisRegistry stores one hash per connection ("un" user name, "ca" created-at
// in unix ms, "nd" owning node) plus an index set used for enumeration.
// Mutations go through the "chat" Redis Functions library so the hash and
// both sets change atomically.
type redisRegistry struct {
	rdc *redis.Client
	now func() time.Time
}

var _ Registry = (*redisRegistry)(nil)

func NewRedisRegistry(rdc *redis.Client) Registry {
	return &redisRegistry{rdc: rdc, now: time.Now}
}

func (r *redisRegistry) Insert(ctx context.Context, id, node string) error {
	err := r.rdc.FCall(ctx, "chat_conn_insert",
		[]string{
			redisConnKeyPrefix + id,
			redisIndexKey,
			redisNodeKey(node),
		},
		id,
		r.now().UnixMilli(),
		node,
	).Err()
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

func (r *redisRegistry) Remove(ctx context.Context, id string) error {
	err := r.rdc.FCall(ctx, "chat_conn_remove",
		[]string{redisConnKeyPrefix + id, redisIndexKey},
		id,
	).Err()
	if err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (r *redisRegistry) UpdateUserName(ctx context.Context, id, userName string) error {
	err := r.rdc.FCall(ctx, "chat_conn_rename",
		[]string{redisConnKeyPrefix + id},
		userName,
	).Err()
	if err != nil {
		if strings.Contains(err.Error(), "conn_not_found") {
			return notFound(id)
		}
		return unavailable("rename", err)
	}
	return nil
}

func (r *redisRegistry) Get(ctx context.Context, id string) (ConnectionRecord, error) {
	data, err := r.rdc.HGetAll(ctx, redisConnKeyPrefix+id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return ConnectionRecord{}, unavailable("get", err)
	}
	if len(data) == 0 {
		return ConnectionRecord{}, notFound(id)
	}
	return fromHash(id, data), nil
}

func (r *redisRegistry) ListAll(ctx context.Context) iter.Seq2[ConnectionRecord, error] {
	return func(yield func(ConnectionRecord, error) bool) {
		var cursor uint64
		for {
			ids, next, err := r.rdc.SScan(ctx, redisIndexKey, cursor, "", redisScanPage).Result()
			if err != nil {
				yield(ConnectionRecord{}, unavailable("list", err))
				return
			}

			if len(ids) > 0 {
				// fetch the page's hashes in one pipelined round-trip
				pipe := r.rdc.Pipeline()
				cmds := make([]*redis.MapStringStringCmd, len(ids))
				for i, id := range ids {
					cmds[i] = pipe.HGetAll(ctx, redisConnKeyPrefix+id)
				}
				if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
					yield(ConnectionRecord{}, unavailable("list", err))
					return
				}
				for i, cmd := range cmds {
					data, err := cmd.Result()
					if err != nil || len(data) == 0 {
						continue // removed between SSCAN and HGETALL
					}
					if !yield(fromHash(ids[i], data), nil) {
						return
					}
				}
			}

			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

func (r *redisRegistry) RemoveNode(ctx context.Context, node string) (int, error) {
	n, err := r.rdc.FCall(ctx, "chat_node_reap",
		[]string{redisNodeKey(node), redisIndexKey},
	).Int()
	if err != nil {
		return 0, unavailable("remove node", err)
	}
	return n, nil
}

// helpers
func fromHash(id string, data map[string]string) ConnectionRecord {
	ms, _ := strconv.ParseInt(data["ca"], 10, 64)
	return ConnectionRecord{
		ConnectionID: id,
		UserName:     data["un"],
		Node:         data["nd"],
		CreatedAt:    time.UnixMilli(ms).UTC(),
	}
}
