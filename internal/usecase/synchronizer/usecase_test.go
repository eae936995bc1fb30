package synchronizer

import (
	"fmt"
	"testing"

	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memLookup struct {
	next    domain.ObjectId
	objects map[string]domain.ObjectId
}

func newMemLookup() *memLookup {
	return &memLookup{objects: make(map[string]domain.ObjectId)}
}

func (m *memLookup) Exists(path string, hash string) (domain.ObjectId, bool, error) {
	id, ok := m.objects[path+"\x00"+hash]
	return id, ok, nil
}

func (m *memLookup) AllocateId() (domain.ObjectId, error) {
	id := m.next
	m.next++
	return id, nil
}

func (m *memLookup) add(save domain.Save) {
	for _, obj := range save {
		m.objects[obj.Path+"\x00"+obj.Hash] = obj.Id
	}
}

func TestBuildNewSaveOnEmptyStore(t *testing.T) {
	u := New(zap.NewNop())
	for _, n := range []int{0, 1, 17} {
		remote := make(domain.DirContent, 0, n)
		for i := 0; i < n; i++ {
			remote = append(remote, domain.FileStatus{Path: fmt.Sprintf("region/r.%d.mca", i), Hash: fmt.Sprintf("h%d", i)})
		}
		save, updates, err := u.BuildNewSave(newMemLookup(), remote)
		require.NoError(t, err)
		assert.Len(t, save, n)
		assert.Len(t, updates, n)
		for i, obj := range save {
			assert.Equal(t, remote[i].Path, obj.Path)
		}
	}
}

func TestBuildNewSaveReusesKnownObjects(t *testing.T) {
	u := New(zap.NewNop())
	lookup := newMemLookup()
	first := domain.DirContent{{Path: "level.dat", Hash: "a"}, {Path: "copy.dat", Hash: "a"}}
	save, updates, err := u.BuildNewSave(lookup, first)
	require.NoError(t, err)
	/* identical content under another path is not deduplicated */
	require.Len(t, updates, 2)
	lookup.add(save)

	second := domain.DirContent{{Path: "level.dat", Hash: "a"}, {Path: "copy.dat", Hash: "b"}}
	save2, updates2, err := u.BuildNewSave(lookup, second)
	require.NoError(t, err)
	require.Len(t, save2, 2)
	assert.Equal(t, save[0].Id, save2[0].Id)
	require.Len(t, updates2, 1)
	assert.Equal(t, "copy.dat", updates2[0].Path)
	assert.Equal(t, save2[1].Id, updates2[0].Id)
}

func TestDiffIdenticalIsEmpty(t *testing.T) {
	u := New(zap.NewNop())
	remote := domain.DirContent{{Path: "a", Hash: "1"}, {Path: "b/c", Hash: "2"}}
	save, _, err := u.BuildNewSave(newMemLookup(), remote)
	require.NoError(t, err)
	assert.Empty(t, u.Diff(save, remote))
}

func TestSaveThenDiff(t *testing.T) {
	u := New(zap.NewNop())
	a := domain.DirContent{
		{Path: "applesaus", Hash: "H1"},
		{Path: "foo.txt", Hash: "H2"},
		{Path: "world1_mca.mca", Hash: "H3"},
		{Path: "missing_in_b.mca", Hash: "H4"},
	}
	save, updates, err := u.BuildNewSave(newMemLookup(), a)
	require.NoError(t, err)
	require.Len(t, save, 4)
	require.Len(t, updates, 4)
	for i, obj := range save {
		assert.Equal(t, domain.ObjectId(i), obj.Id)
	}

	b := domain.DirContent{
		{Path: "applesaus", Hash: "H1"},
		{Path: "foo.txt", Hash: "H5"},
		{Path: "world1_mca.mca", Hash: "H3"},
		{Path: "extra_file.mca", Hash: "H6"},
	}
	assert.ElementsMatch(t, domain.DirUpdate{
		{Type: domain.ReplaceAction, Path: "foo.txt", Id: save[1].Id},
		{Type: domain.AddAction, Path: "missing_in_b.mca", Id: save[3].Id},
		{Type: domain.RemoveAction, Path: "extra_file.mca"},
	}, u.Diff(save, b))
}

func TestDiffEmptySave(t *testing.T) {
	u := New(zap.NewNop())
	update := u.Diff(nil, domain.DirContent{{Path: "x", Hash: "1"}, {Path: "y", Hash: "2"}})
	assert.Equal(t, domain.DirUpdate{
		{Type: domain.RemoveAction, Path: "x"},
		{Type: domain.RemoveAction, Path: "y"},
	}, update)
}
