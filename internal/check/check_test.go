package check_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"boxstore/internal/box"
	"boxstore/internal/check"
	"boxstore/internal/testutil"
)

func run(t *testing.T, env *testutil.TestEnv, fix bool) *check.Result {
	t.Helper()
	c := check.New(env.Account, env.Locker, env.Spool, box.NewNopLogger(), check.Options{Fix: fix})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

// populate builds a small tree: /docs/a, /docs/b (deleted), /top.
func populate(t *testing.T, env *testutil.TestEnv) (docs, a, top box.ObjectID) {
	t.Helper()
	ctx := context.Background()
	s := env.Login(t, false)
	docs = testutil.AddDirectory(t, s, box.RootDirectoryID, "docs")
	a = testutil.AddFile(t, s, docs, "a", "alpha")
	testutil.AddFile(t, s, docs, "b", "bravo")
	top = testutil.AddFile(t, s, box.RootDirectoryID, "top", "top data")
	if _, err := s.DeleteFile(ctx, docs, []byte("b"), false); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if err := s.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return docs, a, top
}

func deleteObject(t *testing.T, env *testutil.TestEnv, id box.ObjectID) {
	t.Helper()
	if err := env.Store.Delete(context.Background(), box.ObjectKey(id)); err != nil {
		t.Fatalf("Delete(object %d) error = %v", id, err)
	}
}

// assertReachable fails unless every object in the store is listed by a
// directory that can itself be reached from the root.
func assertReachable(t *testing.T, env *testutil.TestEnv) {
	t.Helper()
	ctx := context.Background()
	keys, err := env.Store.List(ctx, box.ObjectKeyPrefix())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	seen := map[box.ObjectID]bool{box.RootDirectoryID: true}
	queue := []box.ObjectID{box.RootDirectoryID}
	for len(queue) > 0 {
		d := env.Directory(t, queue[0])
		queue = queue[1:]
		for _, e := range d.Entries {
			if seen[e.ObjectID] {
				continue
			}
			seen[e.ObjectID] = true
			if e.IsDir() {
				queue = append(queue, e.ObjectID)
			}
		}
	}
	for _, key := range keys {
		id, _ := box.ParseObjectKey(key)
		if !seen[id] {
			t.Errorf("object %d is not reachable from the root", id)
		}
	}
}

func TestRun_CleanStore(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	populate(t, env)

	s := env.Login(t, false)
	if err := s.SetClientStoreMarker(context.Background(), 77); err != nil {
		t.Fatalf("SetClientStoreMarker() error = %v", err)
	}
	s.Finish(context.Background())
	before := env.StoreInfo(t)

	res := run(t, env, true)
	if res.ErrorsFound != 0 {
		t.Errorf("ErrorsFound = %d, want 0", res.ErrorsFound)
	}
	if res.LostAndFound != 0 {
		t.Errorf("LostAndFound = %d, want 0", res.LostAndFound)
	}

	after := env.StoreInfo(t)
	if diffs := after.Differences(before); len(diffs) != 0 {
		t.Errorf("store info changed: %v", diffs)
	}
	if after.ClientStoreMarker != 77 {
		t.Errorf("ClientStoreMarker = %d, want 77", after.ClientStoreMarker)
	}
	if after.BlocksUsed != after.CategorySum() {
		t.Errorf("BlocksUsed = %d, category sum %d", after.BlocksUsed, after.CategorySum())
	}
}

func TestRun_MissingRoot(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	docs, a, top := populate(t, env)
	deleteObject(t, env, box.RootDirectoryID)

	res := run(t, env, true)
	if res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}
	if res.LostAndFound == 0 {
		t.Fatal("LostAndFound = 0, want a lost+found directory")
	}

	root := env.Directory(t, box.RootDirectoryID)
	lf := root.FindEntryByID(res.LostAndFound)
	if lf == nil || string(lf.Name) != "lost+found0" || !lf.IsDir() {
		t.Fatalf("root entry for lost+found = %+v", lf)
	}
	found := env.Directory(t, res.LostAndFound)
	for _, id := range []box.ObjectID{docs, top} {
		if found.FindEntryByID(id) == nil {
			t.Errorf("object %d not in lost+found", id)
		}
	}
	if env.Directory(t, docs).FindEntryByID(a) == nil {
		t.Errorf("file %d no longer in its directory", a)
	}
	if env.Directory(t, docs).ContainerID != res.LostAndFound {
		t.Errorf("docs ContainerID = %d, want %d", env.Directory(t, docs).ContainerID, res.LostAndFound)
	}
	assertReachable(t, env)

	info := env.StoreInfo(t)
	if info.ClientStoreMarker != 0 {
		t.Errorf("ClientStoreMarker = %d, want reset after errors", info.ClientStoreMarker)
	}
	if info.LastObjectIDUsed != res.LostAndFound {
		t.Errorf("LastObjectIDUsed = %d, want %d", info.LastObjectIDUsed, res.LostAndFound)
	}

	if again := run(t, env, true); again.ErrorsFound != 0 {
		t.Errorf("second Run() ErrorsFound = %d, want 0", again.ErrorsFound)
	}
}

func TestRun_RecreatesMissingDirectory(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()

	s := env.Login(t, false)
	sub := testutil.AddDirectory(t, s, box.RootDirectoryID, "sub")

	// The header names sub as the container, so the file can go home.
	var data bytes.Buffer
	hdr := box.FileHeader{ContainerID: sub, ModificationTime: 1000, MaxBlockClearSize: 4096, Name: []byte("f")}
	if err := box.WriteEncodedFile(&data, hdr, 0, []box.Block{testutil.DataBlock("content")}); err != nil {
		t.Fatalf("WriteEncodedFile() error = %v", err)
	}
	id, err := s.AddFile(ctx, &data, box.AddFileRequest{DirectoryID: sub, ModificationTime: 1000, Name: []byte("f")})
	if err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	s.Finish(ctx)
	deleteObject(t, env, sub)

	res := run(t, env, true)
	if res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}
	if res.LostAndFound != 0 {
		t.Errorf("LostAndFound = %d, want 0", res.LostAndFound)
	}
	d := env.Directory(t, sub)
	if d.ContainerID != box.RootDirectoryID {
		t.Errorf("recreated ContainerID = %d, want root", d.ContainerID)
	}
	e := d.FindEntryByID(id)
	if e == nil || string(e.Name) != "f" {
		t.Fatalf("recreated directory entry = %+v", e)
	}
	if env.Directory(t, box.RootDirectoryID).FindEntryByID(sub) == nil {
		t.Error("root lost its entry for the recreated directory")
	}
	assertReachable(t, env)
}

func TestRun_DropsEntryForLostDirectory(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	docs, a, _ := populate(t, env)
	deleteObject(t, env, docs)

	res := run(t, env, true)
	if res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}
	root := env.Directory(t, box.RootDirectoryID)
	if root.FindEntryByID(docs) != nil {
		t.Error("root still lists the lost directory")
	}
	// Test files carry no container in their header.
	if res.LostAndFound == 0 || env.Directory(t, res.LostAndFound).FindEntryByID(a) == nil {
		t.Errorf("file %d not moved to lost+found %d", a, res.LostAndFound)
	}
	assertReachable(t, env)
}

func TestRun_DeletesUnattachedPatch(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()
	_, a, _ := populate(t, env)

	patchID := env.StoreInfo(t).LastObjectIDUsed + 1
	patch := testutil.EncodedPatch(t, a, testutil.RefBlock(0))
	if _, err := env.Store.Put(ctx, box.ObjectKey(patchID), bytes.NewReader(patch)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	res := run(t, env, true)
	if res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}
	ok, err := env.Store.Exists(ctx, box.ObjectKey(patchID))
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Error("unattached patch was not deleted")
	}
	if got := env.StoreInfo(t).LastObjectIDUsed; got != patchID {
		t.Errorf("LastObjectIDUsed = %d, want %d", got, patchID)
	}
}

func TestRun_WrongContainer(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()
	s := env.Login(t, false)
	one := testutil.AddDirectory(t, s, box.RootDirectoryID, "one")
	two := testutil.AddDirectory(t, s, box.RootDirectoryID, "two")
	s.Finish(ctx)

	d := env.Directory(t, two)
	d.ContainerID = one
	if _, err := box.SaveDirectory(ctx, env.Store, d); err != nil {
		t.Fatalf("SaveDirectory() error = %v", err)
	}

	res := run(t, env, true)
	if res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}
	if got := env.Directory(t, two).ContainerID; got != box.RootDirectoryID {
		t.Errorf("ContainerID = %d, want root", got)
	}
}

func TestRun_DetachedDirectoryCycle(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()
	s := env.Login(t, false)
	one := testutil.AddDirectory(t, s, box.RootDirectoryID, "one")
	two := testutil.AddDirectory(t, s, box.RootDirectoryID, "two")
	file := testutil.AddFile(t, s, two, "f", "data")
	s.Finish(ctx)

	// one and two list each other and the root lists neither.
	root := env.Directory(t, box.RootDirectoryID)
	root.DeleteEntry(one)
	root.DeleteEntry(two)
	d1 := env.Directory(t, one)
	d1.ContainerID = two
	d1.AddEntry(box.Entry{Name: []byte("two"), ObjectID: two, Flags: box.FlagDir})
	d2 := env.Directory(t, two)
	d2.ContainerID = one
	d2.AddEntry(box.Entry{Name: []byte("one"), ObjectID: one, Flags: box.FlagDir})
	for _, d := range []*box.Directory{root, d1, d2} {
		if _, err := box.SaveDirectory(ctx, env.Store, d); err != nil {
			t.Fatalf("SaveDirectory(%d) error = %v", d.ObjectID, err)
		}
	}

	res := run(t, env, true)
	if res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}
	if res.LostAndFound == 0 {
		t.Fatal("LostAndFound = 0, want a lost+found directory")
	}
	assertReachable(t, env)
	if env.Directory(t, two).FindEntryByID(file) == nil {
		t.Error("directory two lost its file")
	}

	if again := run(t, env, true); again.ErrorsFound != 0 {
		t.Errorf("second Run() ErrorsFound = %d, want 0", again.ErrorsFound)
	}
}

func TestRun_DetachedCycleWithoutFix(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()
	s := env.Login(t, false)
	one := testutil.AddDirectory(t, s, box.RootDirectoryID, "one")
	s.Finish(ctx)

	// one lists itself through a child that the root never reaches.
	root := env.Directory(t, box.RootDirectoryID)
	root.DeleteEntry(one)
	if _, err := box.SaveDirectory(ctx, env.Store, root); err != nil {
		t.Fatalf("SaveDirectory() error = %v", err)
	}
	s = env.Login(t, false)
	child := testutil.AddDirectory(t, s, one, "child")
	s.Finish(ctx)
	d1 := env.Directory(t, one)
	d1.ContainerID = child
	d2 := env.Directory(t, child)
	d2.AddEntry(box.Entry{Name: []byte("one"), ObjectID: one, Flags: box.FlagDir})
	for _, d := range []*box.Directory{d1, d2} {
		if _, err := box.SaveDirectory(ctx, env.Store, d); err != nil {
			t.Fatalf("SaveDirectory(%d) error = %v", d.ObjectID, err)
		}
	}

	if res := run(t, env, false); res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}
	if res := run(t, env, false); res.ErrorsFound == 0 {
		t.Error("repeat ErrorsFound = 0, want errors")
	}
}

func TestRun_WrongEntrySize(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()
	docs, a, _ := populate(t, env)

	d := env.Directory(t, docs)
	d.FindEntryByID(a).SizeInBlocks += 5
	if _, err := box.SaveDirectory(ctx, env.Store, d); err != nil {
		t.Fatalf("SaveDirectory() error = %v", err)
	}

	res := run(t, env, true)
	if res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}
	want, err := env.Store.SizeInBlocks(ctx, box.ObjectKey(a))
	if err != nil {
		t.Fatalf("SizeInBlocks() error = %v", err)
	}
	if got := env.Directory(t, docs).FindEntryByID(a).SizeInBlocks; got != want {
		t.Errorf("entry SizeInBlocks = %d, want %d", got, want)
	}
}

func TestRun_RefCounts(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()
	_, a, top := populate(t, env)

	if err := env.RefCounts.AddReference(ctx, a); err != nil {
		t.Fatalf("AddReference() error = %v", err)
	}
	if _, err := env.RefCounts.RemoveReference(ctx, top); err != nil {
		t.Fatalf("RemoveReference() error = %v", err)
	}

	res := run(t, env, true)
	if res.ErrorsFound != 2 {
		t.Errorf("ErrorsFound = %d, want 2", res.ErrorsFound)
	}
	for _, id := range []box.ObjectID{a, top} {
		n, err := env.RefCounts.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if n != 1 {
			t.Errorf("refcount of %d = %d, want 1", id, n)
		}
	}
}

func TestRun_CorruptBackupsList(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()
	populate(t, env)
	if _, err := env.Store.Put(ctx, box.BackupsListKey, bytes.NewReader([]byte("junk"))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	res := run(t, env, true)
	if res.ErrorsFound != 1 {
		t.Errorf("ErrorsFound = %d, want 1", res.ErrorsFound)
	}
	list, err := box.LoadBackupsList(ctx, env.Store)
	if err != nil {
		t.Fatalf("LoadBackupsList() error = %v", err)
	}
	sessions := list.Sessions()
	if len(sessions) == 0 {
		t.Fatal("regenerated backups list is empty")
	}
	for _, s := range sessions {
		if s.EndTime <= s.StartTime {
			t.Errorf("session %d ends at %d", s.StartTime, s.EndTime)
		}
	}
}

func TestRun_NoFixLeavesStoreAlone(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	ctx := context.Background()
	docs, _, _ := populate(t, env)
	deleteObject(t, env, box.RootDirectoryID)
	deleteObject(t, env, docs)

	keysBefore, err := env.Store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	infoBefore := env.StoreInfo(t)
	refsBefore, _ := env.RefCounts.All(ctx)

	res := run(t, env, false)
	if res.ErrorsFound == 0 {
		t.Error("ErrorsFound = 0, want errors")
	}

	keysAfter, err := env.Store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keysAfter) != len(keysBefore) {
		t.Errorf("keys = %v, want %v", keysAfter, keysBefore)
	}
	if diffs := env.StoreInfo(t).Differences(infoBefore); len(diffs) != 0 {
		t.Errorf("store info changed: %v", diffs)
	}
	refsAfter, _ := env.RefCounts.All(ctx)
	if len(refsAfter) != len(refsBefore) {
		t.Errorf("refcounts = %v, want %v", refsAfter, refsBefore)
	}
}

func TestRun_Locked(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	env.Login(t, false) // holds the write lock until cleanup

	c := check.New(env.Account, env.Locker, env.Spool, box.NewNopLogger(), check.Options{Fix: true})
	_, err := c.Run(context.Background())
	if !errors.Is(err, box.ErrCannotLockForWriting) {
		t.Fatalf("Run() error = %v, want ErrCannotLockForWriting", err)
	}
	var lockErr *box.AccountLockError
	if !errors.As(err, &lockErr) || lockErr.AccountID != testutil.TestAccountID {
		t.Errorf("Run() error = %v, want AccountLockError for %08x", err, testutil.TestAccountID)
	}
}
