package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/pinboard/internal/apperr"
)

const (
	redisDocPrefix  = "pinboard:doc:"
	redisCollPrefix = "pinboard:coll:"
	redisChannel    = "pinboard:changes"
	redisRevKey     = "pinboard:rev"
	redisMaxRetries = 5
)

// Redis implements Store on Redis. Each document is a JSON string key,
// each collection a set of member ids, and changes are announced on a
// pub/sub channel so every process sharing the server sees them.
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	hub    *hub
	logger *slog.Logger
	done   chan struct{}
}

var _ Store = (*Redis)(nil)

// OpenRedis connects to redisURL and starts listening for change announcements.
func OpenRedis(redisURL string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("docstore: parse redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opts), logger)
}

// NewRedisWithClient builds a store from an existing client. The store
// owns the client and closes it on Close.
func NewRedisWithClient(client *redis.Client, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("docstore: connect to redis: %w", err)
	}

	ps := client.Subscribe(ctx, redisChannel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		client.Close()
		return nil, fmt.Errorf("docstore: subscribe %s: %w", redisChannel, err)
	}

	s := &Redis{
		client: client,
		pubsub: ps,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.hub = newHub(s.load, logger)
	go s.listen()
	return s, nil
}

func (s *Redis) listen() {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		s.hub.notify(msg.Payload)
	}
}

// Close stops subscriptions and closes the connection.
func (s *Redis) Close() error {
	s.hub.close()
	err := s.pubsub.Close()
	<-s.done
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create stores a document with a generated id.
func (s *Redis) Create(ctx context.Context, parent string, fields Fields) (string, error) {
	res, err := s.Commit(ctx, []Op{CreateOp(parent, fields)})
	if err != nil {
		return "", err
	}
	return res.IDs[0], nil
}

// Update merges fields into an existing document.
func (s *Redis) Update(ctx context.Context, path string, fields Fields) error {
	_, err := s.Commit(ctx, []Op{UpdateOp(path, fields)})
	return err
}

// Delete removes a document.
func (s *Redis) Delete(ctx context.Context, path string) error {
	_, err := s.Commit(ctx, []Op{DeleteOp(path)})
	return err
}

// Commit applies ops in one MULTI/EXEC, watching every touched document so
// a concurrent writer forces a retry instead of a lost update.
func (s *Redis) Commit(ctx context.Context, ops []Op) (Result, error) {
	if err := validateOps(ops); err != nil {
		return Result{}, err
	}

	var watched []string
	for _, op := range ops {
		if op.Kind != OpCreate {
			watched = append(watched, redisDocPrefix+op.Path)
		}
	}

	ids := make([]string, len(ops))
	for i, op := range ops {
		if op.Kind == OpCreate {
			ids[i] = NewID()
		}
	}

	var rev *redis.IntCmd
	txf := func(tx *redis.Tx) error {
		bodies := make([]string, len(ops))
		for i, op := range ops {
			switch op.Kind {
			case OpCreate:
				body, err := encodeFields(op.Fields)
				if err != nil {
					return err
				}
				bodies[i] = body
			case OpUpdate:
				raw, err := tx.Get(ctx, redisDocPrefix+op.Path).Result()
				if errors.Is(err, redis.Nil) {
					return fmt.Errorf("docstore: update %s: %w", op.Path, apperr.ErrNotFound)
				}
				if err != nil {
					return fmt.Errorf("docstore: read %s: %w", op.Path, err)
				}
				body, err := encodeFields(merge(decodeFields(raw), op.Fields))
				if err != nil {
					return err
				}
				bodies[i] = body
			case OpDelete:
				n, err := tx.Exists(ctx, redisDocPrefix+op.Path).Result()
				if err != nil {
					return fmt.Errorf("docstore: read %s: %w", op.Path, err)
				}
				if n == 0 {
					return fmt.Errorf("docstore: delete %s: %w", op.Path, apperr.ErrNotFound)
				}
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, op := range ops {
				switch op.Kind {
				case OpCreate:
					pipe.Set(ctx, redisDocPrefix+Join(op.Path, ids[i]), bodies[i], 0)
					pipe.SAdd(ctx, redisCollPrefix+op.Path, ids[i])
				case OpUpdate:
					pipe.Set(ctx, redisDocPrefix+op.Path, bodies[i], 0)
				case OpDelete:
					parent, id, _ := Split(op.Path)
					pipe.Del(ctx, redisDocPrefix+op.Path)
					pipe.SRem(ctx, redisCollPrefix+parent, id)
				}
			}
			rev = pipe.Incr(ctx, redisRevKey)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < redisMaxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("docstore: commit: %w", err)
	}

	for _, parent := range parentsOf(ops) {
		if perr := s.client.Publish(ctx, redisChannel, parent).Err(); perr != nil {
			s.logger.Warn("docstore: publish change failed",
				slog.String("collection", parent),
				slog.String("error", perr.Error()))
		}
	}
	return Result{IDs: ids, Rev: uint64(rev.Val())}, nil
}

// Subscribe registers fn for snapshots of collection.
func (s *Redis) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (func(), error) {
	return s.hub.subscribe(ctx, collection, fn)
}

func (s *Redis) load(ctx context.Context, collection string) ([]Document, uint64, error) {
	rev, err := s.client.Get(ctx, redisRevKey).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("docstore: read revision: %w", err)
	}
	members, err := s.client.SMembers(ctx, redisCollPrefix+collection).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("docstore: members %s: %w", collection, err)
	}
	if len(members) == 0 {
		return nil, rev, nil
	}

	keys := make([]string, len(members))
	for i, id := range members {
		keys[i] = redisDocPrefix + Join(collection, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("docstore: load %s: %w", collection, err)
	}

	out := make([]Document, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Member without a body: deleted between SMEMBERS and MGET.
			continue
		}
		out = append(out, Document{
			ID:     members[i],
			Path:   Join(collection, members[i]),
			Fields: decodeFields(raw),
		})
	}
	return out, rev, nil
}
