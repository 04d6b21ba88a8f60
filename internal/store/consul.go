package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	consulapi "github.com/hashicorp/consul/api"
)

const defaultConsulPrefix = "scanqueue"

// ConsulStore keeps one KV entry per task field under
// <prefix>/tasks/<id>/<field>.
type ConsulStore struct {
	cli    *consulapi.Client
	prefix string
}

func NewConsulStore(addr, token, prefix string) (*ConsulStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if token != "" {
		cfg.Token = token
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultConsulPrefix
	}
	return &ConsulStore{cli: cli, prefix: prefix}, nil
}

func (c *ConsulStore) tasksPrefix() string { return c.prefix + "/tasks/" }

func (c *ConsulStore) taskPrefix(taskID string) string { return c.tasksPrefix() + taskID + "/" }

func (c *ConsulStore) Set(ctx context.Context, taskID, field, value string) error {
	pair := &consulapi.KVPair{Key: c.taskPrefix(taskID) + field, Value: []byte(value)}
	if _, err := c.cli.KV().Put(pair, (&consulapi.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("consul put %s.%s: %w", taskID, field, err)
	}
	return nil
}

// SetFields writes all fields in one transaction.
func (c *ConsulStore) SetFields(ctx context.Context, taskID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	ok, resp, _, err := c.cli.Txn().Txn(c.setOps(taskID, fields), (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("consul txn %s: %w", taskID, err)
	}
	if !ok {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.What)
		}
		return fmt.Errorf("consul txn %s rolled back: %s", taskID, strings.Join(msgs, "; "))
	}
	return nil
}

func (c *ConsulStore) setOps(taskID string, fields map[string]string) consulapi.TxnOps {
	ops := make(consulapi.TxnOps, 0, len(fields))
	for field, value := range fields {
		ops = append(ops, &consulapi.TxnOp{KV: &consulapi.KVTxnOp{
			Verb:  consulapi.KVSet,
			Key:   c.taskPrefix(taskID) + field,
			Value: []byte(value),
		}})
	}
	return ops
}

const consulCASAttempts = 5

// SetFieldsUnless is a check-and-set on the guard key's ModifyIndex. A
// rolled back transaction means the guard changed underneath us, so the
// guard is read again.
func (c *ConsulStore) SetFieldsUnless(ctx context.Context, taskID, guard string, blocked []string, fields map[string]string) (bool, error) {
	guardKey := c.taskPrefix(taskID) + guard
	for attempt := 0; attempt < consulCASAttempts; attempt++ {
		pair, _, err := c.cli.KV().Get(guardKey, (&consulapi.QueryOptions{}).WithContext(ctx))
		if err != nil {
			return false, fmt.Errorf("consul get %s.%s: %w", taskID, guard, err)
		}
		check := &consulapi.KVTxnOp{Key: guardKey}
		if pair == nil {
			ok, err := c.Exists(ctx, taskID)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, ErrNotFound
			}
			check.Verb = consulapi.KVCheckNotExists
		} else {
			if slices.Contains(blocked, string(pair.Value)) {
				return false, nil
			}
			check.Verb = consulapi.KVCheckIndex
			check.Index = pair.ModifyIndex
		}
		ops := append(consulapi.TxnOps{{KV: check}}, c.setOps(taskID, fields)...)
		ok, _, _, err := c.cli.Txn().Txn(ops, (&consulapi.QueryOptions{}).WithContext(ctx))
		if err != nil {
			return false, fmt.Errorf("consul txn %s: %w", taskID, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, fmt.Errorf("consul guarded write %s: %s kept changing after %d attempts", taskID, guard, consulCASAttempts)
}

func (c *ConsulStore) Get(ctx context.Context, taskID string) (Record, error) {
	prefix := c.taskPrefix(taskID)
	pairs, _, err := c.cli.KV().List(prefix, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul list %s: %w", taskID, err)
	}
	if len(pairs) == 0 {
		return nil, ErrNotFound
	}
	rec := make(Record, len(pairs))
	for _, p := range pairs {
		rec[strings.TrimPrefix(p.Key, prefix)] = string(p.Value)
	}
	return rec, nil
}

func (c *ConsulStore) Exists(ctx context.Context, taskID string) (bool, error) {
	_, err := c.Get(ctx, taskID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (c *ConsulStore) List(ctx context.Context) ([]string, error) {
	pairs, _, err := c.cli.KV().List(c.tasksPrefix(), (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul list tasks: %w", err)
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, p := range pairs {
		rest := strings.TrimPrefix(p.Key, c.tasksPrefix())
		id, _, found := strings.Cut(rest, "/")
		if !found || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping asks the agent for the current raft leader.
func (c *ConsulStore) Ping(context.Context) error {
	leader, err := c.cli.Status().Leader()
	if err != nil {
		return fmt.Errorf("consul leader: %w", err)
	}
	if leader == "" {
		return fmt.Errorf("consul has no leader")
	}
	return nil
}

func (c *ConsulStore) Close() error { return nil }
