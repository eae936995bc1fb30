package objectstore

import (
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"
)

const (
	objectPrefix  = "o/"
	metaPrefix    = "m/"
	indexPrefix   = "i/"
	accountPrefix = "a/"
	nextIdKey     = "c/next"
	saveKey       = "s/current"
)

// repository keeps blobs, their (path, hash) index, the published save and
// the account table in one leveldb database. Objects are never deleted.
type repository struct {
	ldb    *leveldb.DB
	cache  *lru.Cache[domain.ObjectId, []byte]
	mu     *sync.Mutex
	nextId uint64
	logger *zap.Logger
}

func Open(path string, cacheEntries int, logger *zap.Logger) (*repository, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "open leveldb at '%s'", path)
	}
	return newRepository(ldb, cacheEntries, logger)
}

// OpenMemory is backed by an in-memory leveldb storage.
func OpenMemory(cacheEntries int, logger *zap.Logger) (*repository, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.WithMessage(err, "open in-memory leveldb")
	}
	return newRepository(ldb, cacheEntries, logger)
}

func newRepository(ldb *leveldb.DB, cacheEntries int, logger *zap.Logger) (*repository, error) {
	if cacheEntries < 1 {
		cacheEntries = 1
	}
	cache, err := lru.New[domain.ObjectId, []byte](cacheEntries)
	if err != nil {
		_ = ldb.Close()
		return nil, errors.WithMessage(err, "create object cache")
	}
	r := &repository{
		ldb:    ldb,
		cache:  cache,
		mu:     &sync.Mutex{},
		logger: logger,
	}
	raw, err := ldb.Get([]byte(nextIdKey), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		_ = ldb.Close()
		return nil, errors.WithMessage(err, "read object id counter")
	default:
		r.nextId = binary.BigEndian.Uint64(raw)
	}
	logger.Info("object store opened", zap.Uint64("next id", r.nextId))
	return r, nil
}

func (r *repository) Close() error {
	return r.ldb.Close()
}

func idKey(prefix string, id domain.ObjectId) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(id))
	return key
}

func indexKey(path string, hash string) []byte {
	return []byte(indexPrefix + path + "\x00" + hash)
}

func (r *repository) Exists(path string, hash string) (domain.ObjectId, bool, error) {
	raw, err := r.ldb.Get(indexKey(path, hash), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return 0, false, nil
	case err != nil:
		return 0, false, domain.TransientIO(errors.WithMessage(err, "read object index"))
	}
	return domain.ObjectId(binary.BigEndian.Uint64(raw)), true, nil
}

func (r *repository) AllocateId() (domain.ObjectId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, r.nextId+1)
	if err := r.ldb.Put([]byte(nextIdKey), next, nil); err != nil {
		return 0, domain.TransientIO(errors.WithMessage(err, "persist object id counter"))
	}
	id := domain.ObjectId(r.nextId)
	r.nextId++
	return id, nil
}

// Store writes the blob, its metadata and its index entry in one batch, so an
// object is either fully visible through Exists or not at all.
func (r *repository) Store(obj domain.Object, data []byte) error {
	meta, err := jsoniter.Marshal(obj)
	if err != nil {
		return errors.WithMessage(err, "marshal object metadata")
	}
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, uint64(obj.Id))
	batch := new(leveldb.Batch)
	batch.Put(idKey(objectPrefix, obj.Id), data)
	batch.Put(idKey(metaPrefix, obj.Id), meta)
	batch.Put(indexKey(obj.Path, obj.Hash), id)
	if err := r.ldb.Write(batch, nil); err != nil {
		return domain.TransientIO(errors.WithMessagef(err, "write object %d", obj.Id))
	}
	r.cache.Add(obj.Id, data)
	metricObjectsStored.Inc()
	metricBytesStored.Add(float64(len(data)))
	return nil
}

func (r *repository) Load(id domain.ObjectId) ([]byte, error) {
	if data, ok := r.cache.Get(id); ok {
		metricCacheHits.Inc()
		return data, nil
	}
	data, err := r.ldb.Get(idKey(objectPrefix, id), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, errors.WithMessagef(domain.ErrUnknownObject, "object %d", id)
	case err != nil:
		return nil, domain.TransientIO(errors.WithMessagef(err, "read object %d", id))
	}
	r.cache.Add(id, data)
	return data, nil
}

func (r *repository) LoadSave() (domain.Save, error) {
	raw, err := r.ldb.Get([]byte(saveKey), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return domain.Save{}, nil
	case err != nil:
		return nil, domain.TransientIO(errors.WithMessage(err, "read current save"))
	}
	var save domain.Save
	if err := jsoniter.Unmarshal(raw, &save); err != nil {
		return nil, errors.WithMessage(err, "unmarshal current save")
	}
	return save, nil
}

func (r *repository) StoreSave(save domain.Save) error {
	raw, err := jsoniter.Marshal(save)
	if err != nil {
		return errors.WithMessage(err, "marshal save")
	}
	if err := r.ldb.Put([]byte(saveKey), raw, nil); err != nil {
		return domain.TransientIO(errors.WithMessage(err, "write current save"))
	}
	return nil
}

func (r *repository) GetAccount(name string) (domain.Account, error) {
	raw, err := r.ldb.Get([]byte(accountPrefix+name), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return domain.Account{}, errors.WithMessagef(domain.ErrNotFound, "account '%s'", name)
	case err != nil:
		return domain.Account{}, domain.TransientIO(errors.WithMessage(err, "read account"))
	}
	var account domain.Account
	if err := jsoniter.Unmarshal(raw, &account); err != nil {
		return domain.Account{}, errors.WithMessage(err, "unmarshal account")
	}
	return account, nil
}

func (r *repository) PutAccount(account domain.Account) error {
	raw, err := jsoniter.Marshal(account)
	if err != nil {
		return errors.WithMessage(err, "marshal account")
	}
	if err := r.ldb.Put([]byte(accountPrefix+account.Name), raw, nil); err != nil {
		return domain.TransientIO(errors.WithMessage(err, "write account"))
	}
	return nil
}

func (r *repository) DeleteAccount(name string) error {
	if err := r.ldb.Delete([]byte(accountPrefix+name), nil); err != nil {
		return domain.TransientIO(errors.WithMessage(err, "delete account"))
	}
	return nil
}
