package protocol_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"boxstore/internal/box"
	"boxstore/internal/protocol"
	"boxstore/internal/testutil"
)

func newDispatcher(env *testutil.TestEnv) *protocol.Dispatcher {
	return protocol.NewDispatcher(env.NewContext(box.DefaultContextOptions()), box.NewNopLogger(), env.Clock)
}

// login negotiates the current version and logs in. The session is
// finished when the test completes.
func login(t *testing.T, env *testutil.TestEnv, readOnly bool) *protocol.Dispatcher {
	t.Helper()
	d := newDispatcher(env)
	mustReply[*protocol.VersionReply](t, d, &protocol.VersionCommand{Version: box.CurrentProtocolVersion})
	var flags uint32
	if readOnly {
		flags = protocol.LoginReadOnly
	}
	mustReply[*protocol.LoginConfirmedReply](t, d, &protocol.LoginCommand{ClientID: testutil.TestAccountID, Flags: flags})
	t.Cleanup(func() {
		d.Handle(context.Background(), &protocol.FinishedCommand{})
	})
	return d
}

func handle(t *testing.T, d *protocol.Dispatcher, cmd protocol.Command) *protocol.Response {
	t.Helper()
	resp, err := d.Handle(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Handle(%s) error = %v", cmd.Name(), err)
	}
	return resp
}

func mustReply[R protocol.Reply](t *testing.T, d *protocol.Dispatcher, cmd protocol.Command) R {
	t.Helper()
	resp := handle(t, d, cmd)
	r, ok := resp.Reply.(R)
	if !ok {
		t.Fatalf("Handle(%s) reply = %#v, want %T", cmd.Name(), resp.Reply, *new(R))
	}
	return r
}

func wantCode(t *testing.T, d *protocol.Dispatcher, cmd protocol.Command, code protocol.ErrorCode) {
	t.Helper()
	r := mustReply[*protocol.ErrorReply](t, d, cmd)
	if r.Code != code {
		t.Errorf("Handle(%s) code = %v, want %v", cmd.Name(), r.Code, code)
	}
}

func readStream(t *testing.T, resp *protocol.Response) []byte {
	t.Helper()
	if resp.Stream == nil {
		t.Fatal("response has no stream")
	}
	defer resp.Stream.Close()
	data, err := io.ReadAll(resp.Stream)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return data
}

func TestDispatcher_Phases(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := newDispatcher(env)

	wantCode(t, d, &protocol.ListDirectoryCommand{ObjectID: box.RootDirectoryID}, protocol.ErrNotInRightProtocolPhase)
	wantCode(t, d, &protocol.LoginCommand{ClientID: testutil.TestAccountID}, protocol.ErrNotInRightProtocolPhase)
	wantCode(t, d, &protocol.VersionCommand{Version: 9}, protocol.ErrWrongVersion)

	v := mustReply[*protocol.VersionReply](t, d, &protocol.VersionCommand{Version: box.ProtocolV1})
	if v.Version != box.ProtocolV1 {
		t.Errorf("VersionReply.Version = %d, want %d", v.Version, box.ProtocolV1)
	}
	wantCode(t, d, &protocol.GetIsAliveCommand{}, protocol.ErrNotInRightProtocolPhase)
	wantCode(t, d, &protocol.LoginCommand{ClientID: 99}, protocol.ErrBadLogin)

	lc := mustReply[*protocol.LoginConfirmedReply](t, d, &protocol.LoginCommand{ClientID: testutil.TestAccountID})
	if lc.BlocksSoftLimit != 1000 || lc.BlocksHardLimit != 2000 || lc.BlocksUsed != 1 {
		t.Errorf("LoginConfirmedReply = %+v", lc)
	}
	mustReply[*protocol.IsAliveReply](t, d, &protocol.GetIsAliveCommand{})
	mustReply[*protocol.FinishedReply](t, d, &protocol.FinishedCommand{})
}

func TestDispatcher_ReadOnlySession(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := login(t, env, true)

	writes := []protocol.Command{
		&protocol.CreateDirectoryCommand{ContainerID: box.RootDirectoryID, DirName: []byte("d")},
		&protocol.DeleteFileCommand{InDirectory: box.RootDirectoryID, Filename: []byte("f")},
		&protocol.SetClientStoreMarkerCommand{ClientStoreMarker: 5},
		&protocol.MoveObjectCommand{ObjectID: 2, MoveFromDirectory: 1, MoveToDirectory: 1, NewFilename: []byte("x")},
		&protocol.UndeleteDirectoryCommand{ObjectID: 2},
	}
	for _, cmd := range writes {
		t.Run(cmd.Name(), func(t *testing.T) {
			wantCode(t, d, cmd, protocol.ErrSessionReadOnly)
		})
	}

	resp := handle(t, d, &protocol.ListDirectoryCommand{ObjectID: box.RootDirectoryID, SendAttributes: true})
	if r, ok := resp.Reply.(*protocol.SuccessReply); !ok || r.ObjectID != box.RootDirectoryID {
		t.Fatalf("ListDirectory reply = %#v", resp.Reply)
	}
	dir, err := box.DeserializeDirectory(bytes.NewReader(readStream(t, resp)))
	if err != nil {
		t.Fatalf("DeserializeDirectory() error = %v", err)
	}
	if dir.ObjectID != box.RootDirectoryID || len(dir.Entries) != 0 {
		t.Errorf("listing = %+v", dir)
	}
}

func TestDispatcher_WriteLock(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	login(t, env, false)

	second := newDispatcher(env)
	mustReply[*protocol.VersionReply](t, second, &protocol.VersionCommand{Version: box.CurrentProtocolVersion})
	wantCode(t, second, &protocol.LoginCommand{ClientID: testutil.TestAccountID}, protocol.ErrCannotLockStoreForWriting)
	mustReply[*protocol.LoginConfirmedReply](t, second, &protocol.LoginCommand{ClientID: testutil.TestAccountID, Flags: protocol.LoginReadOnly})
}

func TestDispatcher_DisabledAccount(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	si := env.StoreInfo(t)
	si.Enabled = false
	if err := box.SaveStoreInfo(context.Background(), env.Store, si); err != nil {
		t.Fatalf("SaveStoreInfo() error = %v", err)
	}

	d := newDispatcher(env)
	mustReply[*protocol.VersionReply](t, d, &protocol.VersionCommand{Version: box.CurrentProtocolVersion})
	wantCode(t, d, &protocol.LoginCommand{ClientID: testutil.TestAccountID}, protocol.ErrDisabledAccount)
}

func TestDispatcher_Directories(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := login(t, env, false)

	created := mustReply[*protocol.SuccessReply](t, d, &protocol.CreateDirectory2Command{
		ContainerID:      box.RootDirectoryID,
		ModificationTime: 500,
		DirName:          []byte("docs"),
		Attributes:       []byte("attrs"),
	})
	if created.ObjectID == 0 {
		t.Fatal("CreateDirectory2 returned object 0")
	}

	wantCode(t, d, &protocol.CreateDirectoryCommand{ContainerID: box.RootDirectoryID, DirName: []byte("docs")}, protocol.ErrDirectoryAlreadyExists)
	wantCode(t, d, &protocol.CreateDirectoryCommand{ContainerID: 77, DirName: []byte("x")}, protocol.ErrDoesNotExist)
	wantCode(t, d, &protocol.DeleteDirectoryCommand{ObjectID: box.RootDirectoryID}, protocol.ErrCannotDeleteRoot)

	mustReply[*protocol.SuccessReply](t, d, &protocol.ChangeDirAttributes2Command{ObjectID: created.ObjectID, Attributes: []byte("new"), ModificationTime: 900})
	infos := mustReply[*protocol.ObjectInfosReply](t, d, &protocol.GetObjectInfosCommand{ObjectID: created.ObjectID})
	if !infos.IsDirectory || infos.ContainerID != box.RootDirectoryID {
		t.Errorf("ObjectInfosReply = %+v", infos)
	}

	del := mustReply[*protocol.SuccessReply](t, d, &protocol.DeleteDirectoryASAPCommand{ObjectID: created.ObjectID})
	if del.ObjectID != created.ObjectID {
		t.Errorf("DeleteDirectoryASAP reply = %d, want %d", del.ObjectID, created.ObjectID)
	}
	mustReply[*protocol.SuccessReply](t, d, &protocol.UndeleteDirectoryCommand{ObjectID: created.ObjectID})
}

func TestDispatcher_HardLimitBlocksDirectories(t *testing.T) {
	env := testutil.NewTestEnv(t, 0, 0)
	d := login(t, env, false)

	wantCode(t, d, &protocol.CreateDirectoryCommand{ContainerID: box.RootDirectoryID, DirName: []byte("d")}, protocol.ErrStorageLimitExceeded)
}

func storeFile(t *testing.T, d *protocol.Dispatcher, dirID box.ObjectID, name string, blocks ...string) box.ObjectID {
	t.Helper()
	bs := make([]box.Block, len(blocks))
	for i, s := range blocks {
		bs[i] = testutil.DataBlock(s)
	}
	r := mustReply[*protocol.SuccessReply](t, d, &protocol.StoreFileCommand{
		DirectoryID:      dirID,
		ModificationTime: 1000,
		AttributesHash:   0xabc,
		Filename:         []byte(name),
		Data:             bytes.NewReader(testutil.EncodedFile(t, bs...)),
	})
	return r.ObjectID
}

func TestDispatcher_Files(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := login(t, env, false)

	id := storeFile(t, d, box.RootDirectoryID, "notes", "hello ", "world")

	resp := handle(t, d, &protocol.GetFileCommand{InDirectory: box.RootDirectoryID, ObjectID: id})
	if got := testutil.DecodedData(t, readStream(t, resp)); got != "hello world" {
		t.Errorf("GetFile data = %q, want %q", got, "hello world")
	}

	resp = handle(t, d, &protocol.GetObjectCommand{ObjectID: id})
	if got := readStream(t, resp); !bytes.Equal(got, env.ObjectBytes(t, id)) {
		t.Error("GetObject stream differs from the stored object")
	}

	resp = handle(t, d, &protocol.GetBlockIndexByNameCommand{InDirectory: box.RootDirectoryID, Filename: []byte("notes")})
	if r := resp.Reply.(*protocol.SuccessReply); r.ObjectID != id {
		t.Errorf("GetBlockIndexByName reply = %d, want %d", r.ObjectID, id)
	}
	if idx := readStream(t, resp); len(idx) != 20+8*2 {
		t.Errorf("block index length = %d, want %d", len(idx), 20+8*2)
	}
	none := mustReply[*protocol.SuccessReply](t, d, &protocol.GetBlockIndexByNameCommand{InDirectory: box.RootDirectoryID, Filename: []byte("missing")})
	if none.ObjectID != 0 {
		t.Errorf("GetBlockIndexByName(missing) = %d, want 0", none.ObjectID)
	}

	wantCode(t, d, &protocol.GetObjectCommand{ObjectID: 99}, protocol.ErrDoesNotExist)
	wantCode(t, d, &protocol.GetFileCommand{InDirectory: box.RootDirectoryID, ObjectID: 99}, protocol.ErrDoesNotExist)
	wantCode(t, d, &protocol.StoreFileCommand{
		DirectoryID:    box.RootDirectoryID,
		DiffFromFileID: 99,
		Filename:       []byte("patch"),
		Data:           bytes.NewReader(nil),
	}, protocol.ErrDiffFromFileDoesNotExist)
	wantCode(t, d, &protocol.StoreFileCommand{
		DirectoryID: box.RootDirectoryID,
		Filename:    []byte("garbage"),
		Data:        bytes.NewReader([]byte("not an encoded file")),
	}, protocol.ErrFileDoesNotVerify)
	wantCode(t, d, &protocol.SetReplacementFileAttributesCommand{InDirectory: box.RootDirectoryID, Filename: []byte("missing")}, protocol.ErrDoesNotExist)

	attrs := mustReply[*protocol.SuccessReply](t, d, &protocol.SetReplacementFileAttributesCommand{
		InDirectory:    box.RootDirectoryID,
		AttributesHash: 0xdef,
		Filename:       []byte("notes"),
		Attributes:     []byte("new"),
	})
	if attrs.ObjectID != id {
		t.Errorf("SetReplacementFileAttributes reply = %d, want %d", attrs.ObjectID, id)
	}

	deleted := mustReply[*protocol.SuccessReply](t, d, &protocol.DeleteFileCommand{InDirectory: box.RootDirectoryID, Filename: []byte("notes")})
	if deleted.ObjectID != id {
		t.Errorf("DeleteFile reply = %d, want %d", deleted.ObjectID, id)
	}
	missing := mustReply[*protocol.SuccessReply](t, d, &protocol.DeleteFileCommand{InDirectory: box.RootDirectoryID, Filename: []byte("notes")})
	if missing.ObjectID != 0 {
		t.Errorf("second DeleteFile reply = %d, want 0", missing.ObjectID)
	}
	undeleted := mustReply[*protocol.SuccessReply](t, d, &protocol.UndeleteFileCommand{InDirectory: box.RootDirectoryID, ObjectID: id})
	if undeleted.ObjectID != id {
		t.Errorf("UndeleteFile reply = %d, want %d", undeleted.ObjectID, id)
	}
	again := mustReply[*protocol.SuccessReply](t, d, &protocol.UndeleteFileCommand{InDirectory: box.RootDirectoryID, ObjectID: id})
	if again.ObjectID != 0 {
		t.Errorf("UndeleteFile of current file = %d, want 0", again.ObjectID)
	}
}

func TestDispatcher_MoveObject(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := login(t, env, false)

	a := storeFile(t, d, box.RootDirectoryID, "a", "x")
	storeFile(t, d, box.RootDirectoryID, "b", "y")

	wantCode(t, d, &protocol.MoveObjectCommand{
		ObjectID: a, MoveFromDirectory: box.RootDirectoryID, MoveToDirectory: box.RootDirectoryID, NewFilename: []byte("b"),
	}, protocol.ErrTargetNameExists)
	wantCode(t, d, &protocol.MoveObjectCommand{
		ObjectID: 99, MoveFromDirectory: box.RootDirectoryID, MoveToDirectory: box.RootDirectoryID, NewFilename: []byte("c"),
	}, protocol.ErrDoesNotExistInDirectory)

	dir := mustReply[*protocol.SuccessReply](t, d, &protocol.CreateDirectoryCommand{ContainerID: box.RootDirectoryID, DirName: []byte("d")})
	wantCode(t, d, &protocol.MoveObjectCommand{
		ObjectID: dir.ObjectID, MoveFromDirectory: box.RootDirectoryID, MoveToDirectory: dir.ObjectID, NewFilename: []byte("d"),
	}, protocol.ErrMoveIntoItself)

	mustReply[*protocol.SuccessReply](t, d, &protocol.MoveObjectCommand{
		ObjectID: a, MoveFromDirectory: box.RootDirectoryID, MoveToDirectory: box.RootDirectoryID,
		Flags: protocol.MoveAllWithSameName, NewFilename: []byte("c"),
	})
	name := mustReply[*protocol.ObjectNameReply](t, d, &protocol.GetObjectNameCommand{ObjectID: a, ContainingDirectoryID: box.RootDirectoryID})
	if name.NumNameElements != 1 {
		t.Errorf("NumNameElements = %d, want 1", name.NumNameElements)
	}
}

func TestDispatcher_GetObjectName(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := login(t, env, false)

	sub := mustReply[*protocol.SuccessReply](t, d, &protocol.CreateDirectoryCommand{ContainerID: box.RootDirectoryID, DirName: []byte("sub")}).ObjectID
	id := storeFile(t, d, sub, "leaf", "data")

	resp := handle(t, d, &protocol.GetObjectName2Command{ObjectID: id, ContainingDirectoryID: sub})
	r, ok := resp.Reply.(*protocol.ObjectName2Reply)
	if !ok {
		t.Fatalf("reply = %#v, want ObjectName2Reply", resp.Reply)
	}
	if r.NumNameElements != 2 || r.ModificationTime != 1000 || r.AttributesHash != 0xabc || r.Flags != box.FlagFile {
		t.Errorf("ObjectName2Reply = %+v", r)
	}
	if r.BackupTime != box.TimeFromGo(env.Clock.Now()) {
		t.Errorf("BackupTime = %d, want %d", r.BackupTime, box.TimeFromGo(env.Clock.Now()))
	}

	data := readStream(t, resp)
	var names []string
	for len(data) >= 4 {
		n := binary.BigEndian.Uint32(data)
		names = append(names, string(data[4:4+n]))
		data = data[4+n:]
	}
	if fmt.Sprint(names) != "[sub leaf]" {
		t.Errorf("name elements = %v, want [sub leaf]", names)
	}

	missing := mustReply[*protocol.ObjectNameReply](t, d, &protocol.GetObjectNameCommand{ObjectID: 99, ContainingDirectoryID: sub})
	if missing.NumNameElements != protocol.NameElementsObjectDoesNotExist {
		t.Errorf("NumNameElements = %d, want %d", missing.NumNameElements, protocol.NameElementsObjectDoesNotExist)
	}

	root := handle(t, d, &protocol.GetObjectNameCommand{ObjectID: box.ObjectIDDirectoryOnly, ContainingDirectoryID: box.RootDirectoryID})
	if r := root.Reply.(*protocol.ObjectNameReply); r.NumNameElements != 0 || root.Stream != nil {
		t.Errorf("root name = %+v, stream %v", r, root.Stream)
	}
}

func TestDispatcher_AccountUsage(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := login(t, env, false)
	storeFile(t, d, box.RootDirectoryID, "f", "data")
	mustReply[*protocol.SuccessReply](t, d, &protocol.SetClientStoreMarkerCommand{ClientStoreMarker: 42})

	u := mustReply[*protocol.AccountUsageReply](t, d, &protocol.GetAccountUsageCommand{})
	if u.BlockSize != testutil.TestBlockSize || u.BlocksSoftLimit != 1000 || u.BlocksHardLimit != 2000 {
		t.Errorf("AccountUsageReply = %+v", u)
	}

	u2 := mustReply[*protocol.AccountUsage2Reply](t, d, &protocol.GetAccountUsage2Command{})
	if u2.AccountName != "test" || !u2.AccountEnabled || u2.ClientStoreMarker != 42 || u2.NumCurrentFiles != 1 {
		t.Errorf("AccountUsage2Reply = %+v", u2)
	}
	if u2.BlocksUsed != u2.BlocksInCurrentFiles+u2.BlocksInOldFiles+u2.BlocksInDeletedFiles+u2.BlocksInDirectories {
		t.Errorf("BlocksUsed = %d does not match categories in %+v", u2.BlocksUsed, u2)
	}
	if u.BlocksUsed != u2.BlocksUsed {
		t.Errorf("usage BlocksUsed = %d, usage2 = %d", u.BlocksUsed, u2.BlocksUsed)
	}
}

func TestDispatcher_ListBackups(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)

	w := newDispatcher(env)
	mustReply[*protocol.VersionReply](t, w, &protocol.VersionCommand{Version: box.CurrentProtocolVersion})
	mustReply[*protocol.LoginConfirmedReply](t, w, &protocol.LoginCommand{ClientID: testutil.TestAccountID})
	mustReply[*protocol.SuccessReply](t, w, &protocol.CreateDirectoryCommand{ContainerID: box.RootDirectoryID, DirName: []byte("d")})
	mustReply[*protocol.FinishedReply](t, w, &protocol.FinishedCommand{})

	r := login(t, env, true)
	resp := handle(t, r, &protocol.ListBackupsCommand{})
	if _, ok := resp.Reply.(*protocol.BackupsReply); !ok {
		t.Fatalf("reply = %#v, want BackupsReply", resp.Reply)
	}
	list, err := box.DeserializeBackupsList(bytes.NewReader(readStream(t, resp)))
	if err != nil {
		t.Fatalf("DeserializeBackupsList() error = %v", err)
	}
	if list.Len() != 1 || list.Sessions()[0].AddedDirs != 1 {
		t.Errorf("backups = %+v", list.Sessions())
	}
}

func TestDispatcher_TestHook(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := login(t, env, false)

	var seen []string
	d.SetTestHook(func(_ context.Context, cmd protocol.Command) protocol.Reply {
		seen = append(seen, cmd.Name())
		if _, ok := cmd.(*protocol.StoreFileCommand); ok {
			return &protocol.ErrorReply{Code: protocol.ErrStorageLimitExceeded}
		}
		return nil
	})

	wantCode(t, d, &protocol.StoreFileCommand{
		DirectoryID: box.RootDirectoryID,
		Filename:    []byte("f"),
		Data:        bytes.NewReader(testutil.EncodedFile(t, testutil.DataBlock("x"))),
	}, protocol.ErrStorageLimitExceeded)
	if got := env.Directory(t, box.RootDirectoryID); len(got.Entries) != 0 {
		t.Errorf("root has %d entries after short-circuited upload", len(got.Entries))
	}

	mustReply[*protocol.IsAliveReply](t, d, &protocol.GetIsAliveCommand{})
	if fmt.Sprint(seen) != "[StoreFile GetIsAlive]" {
		t.Errorf("hook saw %v", seen)
	}
}

type recorded struct {
	command, result string
}

type stubRecorder struct {
	calls []recorded
}

func (r *stubRecorder) CommandHandled(command, result string, _ time.Duration) {
	r.calls = append(r.calls, recorded{command, result})
}

type bogusCommand struct{}

func (*bogusCommand) Name() string { return "Bogus" }

func TestDispatcher_Recorder(t *testing.T) {
	env := testutil.NewTestEnv(t, 1000, 2000)
	d := login(t, env, false)
	rec := &stubRecorder{}
	d.SetRecorder(rec)

	mustReply[*protocol.IsAliveReply](t, d, &protocol.GetIsAliveCommand{})
	wantCode(t, d, &protocol.GetObjectCommand{ObjectID: 99}, protocol.ErrDoesNotExist)
	if _, err := d.Handle(context.Background(), &bogusCommand{}); err == nil {
		t.Fatal("Handle(unknown command) error = nil, want fatal error")
	}

	want := []recorded{
		{"GetIsAlive", "ok"},
		{"GetObject", "DoesNotExist"},
		{"Bogus", "fatal"},
	}
	if fmt.Sprint(rec.calls) != fmt.Sprint(want) {
		t.Errorf("recorded %v, want %v", rec.calls, want)
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   protocol.ErrorCode
		wantOK bool
	}{
		{"wrapped not found", fmt.Errorf("loading: %w", box.ErrDoesNotExist), protocol.ErrDoesNotExist, true},
		{"not in directory", box.ErrDoesNotExistInDirectory, protocol.ErrDoesNotExistInDirectory, true},
		{"lock error", &box.AccountLockError{AccountID: 1}, protocol.ErrCannotLockStoreForWriting, true},
		{"name collision", box.ErrNameAlreadyExists, protocol.ErrTargetNameExists, true},
		{"patch chain", box.ErrPatchChainBroken, protocol.ErrPatchConsistencyError, true},
		{"resume", box.ErrCannotResumeUpload, protocol.ErrCannotResumeUpload, true},
		{"multiply referenced", box.ErrMultiplyReferencedObject, protocol.ErrMultiplyReferencedObject, true},
		{"quota", box.ErrStorageLimitExceeded, protocol.ErrStorageLimitExceeded, true},
		{"move into itself", fmt.Errorf("moving: %w", box.ErrMoveIntoItself), protocol.ErrMoveIntoItself, true},
		{"bad directory is fatal", box.ErrBadDirectoryFormat, protocol.ErrNone, false},
		{"unrelated is fatal", errors.New("disk on fire"), protocol.ErrNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := protocol.CodeFor(tt.err)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("CodeFor() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestErrorCode_String(t *testing.T) {
	if got := protocol.ErrTargetNameExists.String(); got != "TargetNameExists" {
		t.Errorf("String() = %q", got)
	}
	if got := protocol.ErrorCode(99).String(); got != "ErrorCode(99)" {
		t.Errorf("String() = %q", got)
	}
}
