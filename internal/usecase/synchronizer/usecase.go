package synchronizer

import (
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type useCase struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) useCase {
	return useCase{
		logger: logger,
	}
}

// Diff computes the actions that turn remote into save. Every path appears at
// most once in the result.
func (u useCase) Diff(save domain.Save, remote domain.DirContent) domain.DirUpdate {
	remaining := make(map[string]string, len(remote))
	for _, f := range remote {
		remaining[f.Path] = f.Hash
	}
	update := make(domain.DirUpdate, 0)
	for _, obj := range save {
		hash, ok := remaining[obj.Path]
		switch {
		case !ok:
			update = append(update, domain.SyncAction{Type: domain.AddAction, Path: obj.Path, Id: obj.Id})
		case hash != obj.Hash:
			update = append(update, domain.SyncAction{Type: domain.ReplaceAction, Path: obj.Path, Id: obj.Id})
		}
		delete(remaining, obj.Path)
	}
	/* keep remote's order for removals so the result is deterministic */
	for _, f := range remote {
		if _, ok := remaining[f.Path]; !ok {
			continue
		}
		update = append(update, domain.SyncAction{Type: domain.RemoveAction, Path: f.Path})
		delete(remaining, f.Path)
	}
	u.logger.Debug("computed dir update", zap.Int("save", len(save)),
		zap.Int("remote", len(remote)), zap.Int("actions", len(update)))
	return update
}

// BuildNewSave maps every remote file onto an object, reusing the stored one
// when (path, hash) is already known. Identical content under different paths
// is stored twice.
func (u useCase) BuildNewSave(lookup domain.ObjectLookup, remote domain.DirContent) (domain.Save, domain.UpdateList, error) {
	save := make(domain.Save, 0, len(remote))
	updates := make(domain.UpdateList, 0)
	for _, f := range remote {
		id, ok, err := lookup.Exists(f.Path, f.Hash)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "lookup object '%s'", f.Path)
		}
		if !ok {
			id, err = lookup.AllocateId()
			if err != nil {
				return nil, nil, errors.WithMessage(err, "allocate object id")
			}
			updates = append(updates, domain.UpdateEntry{Id: id, Path: f.Path})
		}
		save = append(save, domain.Object{Path: f.Path, Hash: f.Hash, Id: id})
	}
	u.logger.Debug("built new save", zap.Int("objects", len(save)), zap.Int("updates", len(updates)))
	return save, updates, nil
}
