package aide

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arbormesh/mesharbiter/encoding"
	"github.com/rs/zerolog/log"
)

// EtcdAide is the production MeshAide, backed by an etcd keyspace of
// "<prefix><hsid>" -> decimal safe-txn-id, with a local msgpack cache file
// that keeps last-known values available if etcd is briefly unreachable.
type EtcdAide struct {
	client         *clientv3.Client
	keyPrefix      string
	requestTimeout time.Duration
	cacheFile      string

	mu    sync.RWMutex
	cache map[uint64]int64
}

// NewEtcdAide dials etcd and loads the local fallback cache, if present.
func NewEtcdAide(endpoints []string, dialTimeout, requestTimeout time.Duration, keyPrefix, cacheFile string) (*EtcdAide, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("aide: failed to connect to etcd: %w", err)
	}

	aide := &EtcdAide{
		client:         client,
		keyPrefix:      keyPrefix,
		requestTimeout: requestTimeout,
		cacheFile:      cacheFile,
		cache:          make(map[uint64]int64),
	}

	if err := aide.loadCache(); err != nil {
		log.Warn().Err(err).Str("file", cacheFile).Msg("aide: failed to load local fallback cache")
	}

	return aide, nil
}

func (a *EtcdAide) key(hsid uint64) string {
	return a.keyPrefix + strconv.FormatUint(hsid, 10)
}

// NewestSafeTransactionForInitiator reads the watermark from etcd, falling
// back to the last value seen in the local cache if etcd cannot be reached.
func (a *EtcdAide) NewestSafeTransactionForInitiator(ctx context.Context, hsid uint64) (int64, bool) {
	qctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	resp, err := a.client.Get(qctx, a.key(hsid))
	if err != nil {
		log.Warn().Err(err).Uint64("hsid", hsid).Msg("aide: etcd query failed, using local cache")
		return a.cachedValue(hsid)
	}
	if len(resp.Kvs) == 0 {
		return a.cachedValue(hsid)
	}

	txn, err := strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		log.Warn().Err(err).Uint64("hsid", hsid).Msg("aide: malformed safe-txn value in etcd")
		return a.cachedValue(hsid)
	}

	a.mu.Lock()
	a.cache[hsid] = txn
	a.mu.Unlock()

	return txn, true
}

func (a *EtcdAide) cachedValue(hsid uint64) (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	txn, ok := a.cache[hsid]
	return txn, ok
}

// SendHeartbeats writes a liveness timestamp for each site under the
// heartbeat sub-namespace, keeping the surrounding dead-host timer fed.
func (a *EtcdAide) SendHeartbeats(ctx context.Context, hsIds []uint64) error {
	qctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	now := time.Now().UnixNano()
	var firstErr error
	for _, hsid := range hsIds {
		key := a.keyPrefix + "heartbeat/" + strconv.FormatUint(hsid, 10)
		if _, err := a.client.Put(qctx, key, strconv.FormatInt(now, 10)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("aide: heartbeat failed for hsid %d: %w", hsid, err)
		}
	}
	return firstErr
}

// Close persists the local cache and closes the etcd client.
func (a *EtcdAide) Close() error {
	if err := a.persistCache(); err != nil {
		log.Warn().Err(err).Msg("aide: failed to persist local fallback cache")
	}
	return a.client.Close()
}

func (a *EtcdAide) loadCache() error {
	if a.cacheFile == "" {
		return nil
	}

	data, err := os.ReadFile(a.cacheFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snapshot map[uint64]int64
	if err := encoding.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	a.mu.Lock()
	a.cache = snapshot
	a.mu.Unlock()
	return nil
}

func (a *EtcdAide) persistCache() error {
	if a.cacheFile == "" {
		return nil
	}

	a.mu.RLock()
	data, err := encoding.Marshal(a.cache)
	a.mu.RUnlock()
	if err != nil {
		return err
	}

	return os.WriteFile(a.cacheFile, data, 0o600)
}
