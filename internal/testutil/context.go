package testutil

import (
	"context"
	"io"
	"sync"
	"testing"

	"boxstore/internal/blobstore"
	"boxstore/internal/box"
	"boxstore/internal/spool"
)

// TestAccountID is the account created by NewTestEnv.
const TestAccountID uint32 = 0x1234

// MemoryAccounts resolves accounts from a map. Safe for concurrent use.
type MemoryAccounts struct {
	mu       sync.Mutex
	accounts map[uint32]*box.Account
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{accounts: make(map[uint32]*box.Account)}
}

// Add registers acct.
func (m *MemoryAccounts) Add(acct *box.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = acct
}

func (m *MemoryAccounts) OpenAccount(_ context.Context, id uint32) (*box.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id], nil
}

var _ box.AccountResolver = (*MemoryAccounts)(nil)

// TestEnv is an initialized account with everything a StoreContext needs,
// all held in memory.
type TestEnv struct {
	Account   *box.Account
	Store     *blobstore.MemoryStore
	RefCounts *box.MemoryRefCounts
	Spool     *spool.MemorySpool
	Locker    *box.MemoryLocker
	Clock     *StubClock
	IDs       *StubIDGenerator
	Accounts  *MemoryAccounts
}

// NewTestEnv creates an account with the given limits in blocks.
func NewTestEnv(t *testing.T, softLimit, hardLimit int64) *TestEnv {
	t.Helper()

	env := &TestEnv{
		Store:     NewTestBlobStore(),
		RefCounts: box.NewMemoryRefCounts(),
		Spool:     spool.NewMemorySpool(0),
		Locker:    box.NewMemoryLocker(),
		Clock:     FixedClock(),
		IDs:       NewStubIDGenerator(),
		Accounts:  NewMemoryAccounts(),
	}
	env.Account = &box.Account{
		ID:        TestAccountID,
		Name:      "test",
		Store:     env.Store,
		RefCounts: env.RefCounts,
	}
	if _, err := box.InitializeAccount(context.Background(), env.Account, softLimit, hardLimit); err != nil {
		t.Fatalf("InitializeAccount() error = %v", err)
	}
	env.Accounts.Add(env.Account)
	return env
}

// NewContext creates a StoreContext authenticated as the test account.
func (e *TestEnv) NewContext(opts box.ContextOptions) *box.StoreContext {
	return box.NewStoreContext(e.Accounts, e.Locker, e.Spool, e.Clock, e.IDs, box.NewNopLogger(), opts, TestAccountID)
}

// Login creates a StoreContext that has negotiated the current protocol
// and logged in. The session is finished when the test completes.
func (e *TestEnv) Login(t *testing.T, readOnly bool) *box.StoreContext {
	t.Helper()
	c := e.NewContext(box.DefaultContextOptions())
	if err := c.Version(box.CurrentProtocolVersion); err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if _, err := c.Login(context.Background(), TestAccountID, readOnly); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	t.Cleanup(func() {
		c.Finish(context.Background())
	})
	return c
}

// StoreInfo loads the account's saved store info.
func (e *TestEnv) StoreInfo(t *testing.T) *box.StoreInfo {
	t.Helper()
	si, err := box.LoadStoreInfo(context.Background(), e.Store)
	if err != nil || si == nil {
		t.Fatalf("LoadStoreInfo() = %v, %v", si, err)
	}
	return si
}

// Directory loads a directory straight from the store.
func (e *TestEnv) Directory(t *testing.T, id box.ObjectID) *box.Directory {
	t.Helper()
	d, err := box.LoadDirectory(context.Background(), e.Store, id)
	if err != nil || d == nil {
		t.Fatalf("LoadDirectory(%d) = %v, %v", id, d, err)
	}
	return d
}

// ObjectBytes returns the stored bytes of an object.
func (e *TestEnv) ObjectBytes(t *testing.T, id box.ObjectID) []byte {
	t.Helper()
	rc, err := e.Store.Get(context.Background(), box.ObjectKey(id))
	if err != nil {
		t.Fatalf("Get(object %d) error = %v", id, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading object %d: %v", id, err)
	}
	return data
}

// AddFile uploads a complete file built from data blocks.
func AddFile(t *testing.T, c *box.StoreContext, dirID box.ObjectID, name string, blocks ...string) box.ObjectID {
	t.Helper()
	bs := make([]box.Block, len(blocks))
	for i, s := range blocks {
		bs[i] = DataBlock(s)
	}
	id, err := c.AddFile(context.Background(), bytesReader(EncodedFile(t, bs...)), box.AddFileRequest{
		DirectoryID:      dirID,
		ModificationTime: 1000,
		AttributesHash:   0xabc,
		Name:             []byte(name),
		MarkSameNameOld:  true,
	})
	if err != nil {
		t.Fatalf("AddFile(%q) error = %v", name, err)
	}
	return id
}

// AddDirectory creates a directory under parentID.
func AddDirectory(t *testing.T, c *box.StoreContext, parentID box.ObjectID, name string) box.ObjectID {
	t.Helper()
	id, _, err := c.AddDirectory(context.Background(), parentID, []byte(name), nil, 0, 1000)
	if err != nil {
		t.Fatalf("AddDirectory(%q) error = %v", name, err)
	}
	return id
}

// ReadFile fetches a file through GetFile and returns its data.
func ReadFile(t *testing.T, c *box.StoreContext, dirID, id box.ObjectID) string {
	t.Helper()
	rc, err := c.GetFile(context.Background(), dirID, id)
	if err != nil {
		t.Fatalf("GetFile(%d) error = %v", id, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading file %d: %v", id, err)
	}
	return DecodedData(t, data)
}
