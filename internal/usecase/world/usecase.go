package world

import (
	"context"
	"sync"

	"github.com/kiryu-dev/worldhost/internal/config"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	sourceAdmin = "admin"
	sourceHost  = "host"
)

// pendingSave is a save staged by the host whose objects are still being
// uploaded.
type pendingSave struct {
	owner   string
	save    domain.Save
	missing map[domain.ObjectId]domain.Object
}

type useCase struct {
	store            domain.ObjectStore
	saves            domain.SaveRepository
	sync             domain.SyncUseCase
	monitor          domain.MonitorUseCase
	dir              domain.WorldDir
	sink             domain.EventSink
	current          *atomic.Pointer[domain.Save]
	pending          *pendingSave
	mu               *sync.Mutex
	writeConcurrency int
	logger           *zap.Logger
}

func New(store domain.ObjectStore, saves domain.SaveRepository, synchronizer domain.SyncUseCase,
	monitor domain.MonitorUseCase, dir domain.WorldDir, sink domain.EventSink, cfg config.StoreConfig,
	logger *zap.Logger) (*useCase, error) {
	save, err := saves.LoadSave()
	if err != nil {
		return nil, errors.WithMessage(err, "load current save")
	}
	metricSaveObjects.Set(float64(len(save)))
	logger.Info("loaded current save", zap.Int("objects", len(save)))
	return &useCase{
		store:            store,
		saves:            saves,
		sync:             synchronizer,
		monitor:          monitor,
		dir:              dir,
		sink:             sink,
		current:          atomic.NewPointer(&save),
		mu:               &sync.Mutex{},
		writeConcurrency: max(cfg.WriteConcurrency, 1),
		logger:           logger,
	}, nil
}

func (u *useCase) Save() domain.Save {
	return *u.current.Load()
}

func (u *useCase) GetUpdate(dir domain.DirContent) (domain.DirUpdate, error) {
	if err := domain.ValidateDir(dir); err != nil {
		return nil, err
	}
	return u.sync.Diff(u.Save(), dir), nil
}

func (u *useCase) GetObject(_ context.Context, id domain.ObjectId) ([]byte, error) {
	data, err := u.store.Load(id)
	if err != nil {
		return nil, errors.WithMessage(err, "load object")
	}
	return data, nil
}

// SetSave replaces the current save with the content of a local directory.
// It holds the monitor's no-host section for the whole replacement, so no
// hosting cycle can start halfway through.
func (u *useCase) SetSave(ctx context.Context, sourceDir string) error {
	return u.monitor.WithNoHost(func() error {
		content, err := u.dir.Scan(ctx, sourceDir)
		if err != nil {
			return errors.WithMessage(err, "scan source directory")
		}
		save, updates, err := u.sync.BuildNewSave(u.store, content)
		if err != nil {
			return errors.WithMessage(err, "build new save")
		}
		hashes := make(map[domain.ObjectId]string, len(save))
		for _, obj := range save {
			hashes[obj.Id] = obj.Hash
		}
		group, ctx := errgroup.WithContext(ctx)
		group.SetLimit(u.writeConcurrency)
		for _, entry := range updates {
			group.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				data, err := u.dir.ReadFile(sourceDir, entry.Path)
				if err != nil {
					return err
				}
				obj := domain.Object{Path: entry.Path, Hash: hashes[entry.Id], Id: entry.Id}
				if domain.HashBytes(data) != obj.Hash {
					return errors.WithMessagef(domain.ErrHashMismatch, "'%s' changed while saving", entry.Path)
				}
				return u.store.Store(obj, data)
			})
		}
		if err := group.Wait(); err != nil {
			return errors.WithMessage(err, "store objects")
		}
		u.logger.Info("stored objects for new save", zap.String("dir", sourceDir),
			zap.Int("objects", len(save)), zap.Int("new", len(updates)))
		return u.publish(save, sourceAdmin)
	})
}

// DumpSave writes every object of the current save to its path under an
// empty target directory.
func (u *useCase) DumpSave(ctx context.Context, targetDir string) error {
	if err := u.dir.EnsureEmpty(targetDir); err != nil {
		return err
	}
	save := u.Save()
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(u.writeConcurrency)
	for _, obj := range save {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := u.store.Load(obj.Id)
			if err != nil {
				return errors.WithMessagef(err, "load '%s'", obj.Path)
			}
			return u.dir.WriteFile(targetDir, obj.Path, data)
		})
	}
	if err := group.Wait(); err != nil {
		return errors.WithMessage(err, "dump objects")
	}
	u.logger.Info("dumped save", zap.String("dir", targetDir), zap.Int("objects", len(save)))
	return nil
}

// NewSave stages a save for the current host and returns the objects it has
// to upload before RegisterSave can publish it. A new call replaces whatever
// was staged before.
func (u *useCase) NewSave(_ context.Context, user string, dir domain.DirContent) (domain.UpdateList, error) {
	if !u.monitor.State().IsHost(user) {
		return nil, errors.WithMessage(domain.ErrUnauthorized, "only the host can upload a save")
	}
	if err := domain.ValidateDir(dir); err != nil {
		return nil, err
	}
	save, updates, err := u.sync.BuildNewSave(u.store, dir)
	if err != nil {
		return nil, errors.WithMessage(err, "build new save")
	}
	objects := make(map[domain.ObjectId]domain.Object, len(save))
	for _, obj := range save {
		objects[obj.Id] = obj
	}
	missing := make(map[domain.ObjectId]domain.Object, len(updates))
	for _, e := range updates {
		missing[e.Id] = objects[e.Id]
	}
	u.mu.Lock()
	u.pending = &pendingSave{
		owner:   user,
		save:    save,
		missing: missing,
	}
	u.mu.Unlock()
	u.logger.Info("staged host save", zap.Int("objects", len(save)), zap.Int("to upload", len(updates)))
	return updates, nil
}

func (u *useCase) PutObject(_ context.Context, user string, id domain.ObjectId, data []byte) error {
	if !u.monitor.State().IsHost(user) {
		return errors.WithMessage(domain.ErrUnauthorized, "only the host can upload objects")
	}
	u.mu.Lock()
	pending := u.pending
	var (
		obj domain.Object
		ok  bool
	)
	if pending != nil && pending.owner == user {
		obj, ok = pending.missing[id]
	}
	u.mu.Unlock()
	if !ok {
		metricUploads.WithLabelValues("unknown").Inc()
		return errors.WithMessagef(domain.ErrUnknownObject, "object %d is not awaited", id)
	}
	if domain.HashBytes(data) != obj.Hash {
		metricUploads.WithLabelValues("mismatch").Inc()
		return errors.WithMessagef(domain.ErrHashMismatch, "object %d ('%s')", id, obj.Path)
	}
	if err := u.store.Store(obj, data); err != nil {
		metricUploads.WithLabelValues("failed").Inc()
		return errors.WithMessage(err, "store object")
	}
	u.mu.Lock()
	delete(pending.missing, id)
	u.mu.Unlock()
	metricUploads.WithLabelValues("ok").Inc()
	return nil
}

func (u *useCase) RegisterSave(_ context.Context, user string) error {
	if !u.monitor.State().IsHost(user) {
		return errors.WithMessage(domain.ErrUnauthorized, "only the host can register a save")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.pending == nil || u.pending.owner != user {
		return errors.WithMessage(domain.ErrUploadIncomplete, "no save staged")
	}
	if n := len(u.pending.missing); n > 0 {
		return errors.WithMessagef(domain.ErrUploadIncomplete, "%d objects missing", n)
	}
	return u.publishLocked(u.pending.save, sourceHost)
}

func (u *useCase) publish(save domain.Save, source string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.publishLocked(save, source)
}

// publishLocked persists save and makes it current. Readers either see the
// previous save or this one, never a mix.
func (u *useCase) publishLocked(save domain.Save, source string) error {
	if err := u.saves.StoreSave(save); err != nil {
		return errors.WithMessage(err, "persist save")
	}
	u.current.Store(&save)
	u.pending = nil
	metricSavesPublished.WithLabelValues(source).Inc()
	metricSaveObjects.Set(float64(len(save)))
	u.logger.Info("published save", zap.String("source", source), zap.Int("objects", len(save)))
	u.sink.Publish(domain.BroadcastEvent{Type: domain.SaveRegistered})
	return nil
}
