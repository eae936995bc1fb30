package domain

import (
	"context"
)

// ObjectId is an opaque handle into the object store, stable for the lifetime
// of the blob.
type ObjectId uint64

type FileStatus struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// DirContent lists every regular file of a directory with its content hash.
type DirContent []FileStatus

type Object struct {
	Path string   `json:"path"`
	Hash string   `json:"hash"`
	Id   ObjectId `json:"id"`
}

// Save is the durable snapshot of the last known-good world content.
type Save []Object

type UpdateEntry struct {
	Id   ObjectId `json:"id"`
	Path string   `json:"path"`
}

// UpdateList holds the objects the host still has to upload.
type UpdateList []UpdateEntry

type SyncActionType string

const (
	ReplaceAction = SyncActionType("replace")
	RemoveAction  = SyncActionType("remove")
	AddAction     = SyncActionType("add")
)

type SyncAction struct {
	Type SyncActionType `json:"type"`
	Path string         `json:"path"`
	Id   ObjectId       `json:"id,omitempty"`
}

type DirUpdate []SyncAction

type ObjectLookup interface {
	Exists(path string, hash string) (ObjectId, bool, error)
	AllocateId() (ObjectId, error)
}

type ObjectStore interface {
	ObjectLookup
	Store(obj Object, data []byte) error
	Load(id ObjectId) ([]byte, error)
}

type SaveRepository interface {
	LoadSave() (Save, error)
	StoreSave(save Save) error
}

type SyncUseCase interface {
	Diff(save Save, remote DirContent) DirUpdate
	BuildNewSave(lookup ObjectLookup, remote DirContent) (Save, UpdateList, error)
}

// WorldDir is the local filesystem view used by set_save and dump_save.
type WorldDir interface {
	Scan(ctx context.Context, dir string) (DirContent, error)
	ReadFile(dir string, path string) ([]byte, error)
	WriteFile(dir string, path string, data []byte) error
	EnsureEmpty(dir string) error
}

type WorldUseCase interface {
	GetUpdate(dir DirContent) (DirUpdate, error)
	SetSave(ctx context.Context, sourceDir string) error
	DumpSave(ctx context.Context, targetDir string) error
	NewSave(ctx context.Context, user string, dir DirContent) (UpdateList, error)
	PutObject(ctx context.Context, user string, id ObjectId, data []byte) error
	RegisterSave(ctx context.Context, user string) error
	GetObject(ctx context.Context, id ObjectId) ([]byte, error)
	Save() Save
}
