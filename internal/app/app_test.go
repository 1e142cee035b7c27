package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"boxstore/internal/box"
	"boxstore/internal/config"
	"boxstore/internal/housekeeping"
	"boxstore/internal/lock"
)

const testAccount = 0x1234

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("test-server", base)
	cfg.Encryption.Type = "test"
	cfg.Metrics.TextfilePath = filepath.Join(base, "boxstore.prom")
	if err := InitDatabase(cfg); err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	return cfg
}

func openApp(t *testing.T, cfg *config.Config, operation string) *BoxApp {
	t.Helper()
	a, err := NewBoxApp(context.Background(), cfg, operation, Options{Quiet: true})
	if err != nil {
		t.Fatalf("NewBoxApp() error = %v", err)
	}
	return a
}

// withApp runs fn against a fresh app and closes it afterwards.
func withApp(t *testing.T, cfg *config.Config, operation string, fn func(a *BoxApp)) {
	t.Helper()
	a := openApp(t, cfg, operation)
	fn(a)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func createAccount(t *testing.T, cfg *config.Config) {
	t.Helper()
	withApp(t, cfg, "CreateAccount", func(a *BoxApp) {
		if _, err := a.CreateAccount(context.Background(), testAccount, "alice", 1000, 2000); err != nil {
			t.Fatalf("CreateAccount() error = %v", err)
		}
	})
}

func TestNewBoxApp_UnmigratedDatabase(t *testing.T) {
	cfg := config.NewConfig("test-server", t.TempDir())
	if err := os.MkdirAll(cfg.Database.DataDir, 0700); err != nil {
		t.Fatal(err)
	}
	if _, err := NewBoxApp(context.Background(), cfg, "Info", Options{Quiet: true}); err == nil {
		t.Fatal("NewBoxApp() error = nil, want schema error")
	}
}

func TestBoxApp_CreateAccount(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)

	withApp(t, cfg, "Info", func(a *BoxApp) {
		ai, err := a.Info(context.Background(), testAccount)
		if err != nil {
			t.Fatalf("Info() error = %v", err)
		}
		if ai.Account.Name != "alice" || ai.Info.AccountName != "alice" {
			t.Errorf("names = %q/%q, want alice", ai.Account.Name, ai.Info.AccountName)
		}
		if ai.Info.BlocksSoftLimit != 1000 || ai.Info.BlocksHardLimit != 2000 {
			t.Errorf("limits = %d/%d, want 1000/2000", ai.Info.BlocksSoftLimit, ai.Info.BlocksHardLimit)
		}
		if !ai.Info.Enabled {
			t.Error("new account is disabled")
		}
		if ai.Info.NumDirectories != 1 {
			t.Errorf("NumDirectories = %d, want 1", ai.Info.NumDirectories)
		}
		if ai.BlockSize != 4096 {
			t.Errorf("BlockSize = %d, want 4096", ai.BlockSize)
		}
	})
}

func TestBoxApp_CreateAccountErrors(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)

	tests := []struct {
		name       string
		id         uint32
		acctName   string
		soft, hard int64
	}{
		{name: "duplicate id", id: testAccount, acctName: "bob", soft: 10, hard: 20},
		{name: "duplicate name", id: 0x99, acctName: "alice", soft: 10, hard: 20},
		{name: "soft over hard", id: 0x99, acctName: "bob", soft: 30, hard: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withApp(t, cfg, "CreateAccount", func(a *BoxApp) {
				if _, err := a.CreateAccount(context.Background(), tt.id, tt.acctName, tt.soft, tt.hard); err == nil {
					t.Error("CreateAccount() error = nil, want error")
				}
			})
		})
	}
}

func TestBoxApp_CreateAccountPicksNextID(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)

	withApp(t, cfg, "CreateAccount", func(a *BoxApp) {
		info, err := a.CreateAccount(context.Background(), 0, "bob", 10, 20)
		if err != nil {
			t.Fatalf("CreateAccount() error = %v", err)
		}
		if info.AccountID != testAccount+1 {
			t.Errorf("AccountID = %08x, want %08x", info.AccountID, testAccount+1)
		}
	})
}

func TestBoxApp_UpdateStoreInfo(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)
	ctx := context.Background()

	versions := uint32(3)
	snapshot := true
	withApp(t, cfg, "Update", func(a *BoxApp) {
		if err := a.SetLimits(ctx, testAccount, 500, 600); err != nil {
			t.Fatalf("SetLimits() error = %v", err)
		}
		if err := a.SetEnabled(ctx, testAccount, false); err != nil {
			t.Fatalf("SetEnabled() error = %v", err)
		}
		if err := a.SetOptions(ctx, testAccount, AccountOptions{VersionCountLimit: &versions, Snapshot: &snapshot}); err != nil {
			t.Fatalf("SetOptions() error = %v", err)
		}
		if err := a.SetName(ctx, testAccount, "carol"); err != nil {
			t.Fatalf("SetName() error = %v", err)
		}
		if err := a.SetLimits(ctx, testAccount, 700, 600); err == nil {
			t.Error("SetLimits() with soft over hard error = nil, want error")
		}
	})

	withApp(t, cfg, "Info", func(a *BoxApp) {
		ai, err := a.Info(ctx, testAccount)
		if err != nil {
			t.Fatalf("Info() error = %v", err)
		}
		info := ai.Info
		if info.BlocksSoftLimit != 500 || info.BlocksHardLimit != 600 {
			t.Errorf("limits = %d/%d, want 500/600", info.BlocksSoftLimit, info.BlocksHardLimit)
		}
		if info.Enabled {
			t.Error("Enabled = true, want false")
		}
		if info.VersionCountLimit != 3 || !info.IsSnapshotMode() {
			t.Errorf("options = versions %d snapshot %v, want 3 true", info.VersionCountLimit, info.IsSnapshotMode())
		}
		if info.AccountName != "carol" || ai.Account.Name != "carol" {
			t.Errorf("names = %q/%q, want carol", ai.Account.Name, info.AccountName)
		}
	})
}

func TestBoxApp_LockedAccount(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)

	locker, err := lock.NewFileLocker(cfg.LockDir)
	if err != nil {
		t.Fatalf("NewFileLocker() error = %v", err)
	}
	unlock, ok, err := locker.TryLock(testAccount)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer unlock()

	withApp(t, cfg, "SetEnabled", func(a *BoxApp) {
		err := a.SetEnabled(context.Background(), testAccount, false)
		var lockErr *box.AccountLockError
		if !errors.As(err, &lockErr) {
			t.Errorf("SetEnabled() error = %v, want AccountLockError", err)
		}
		if _, err := a.Check(context.Background(), testAccount, false); !errors.Is(err, box.ErrCannotLockForWriting) {
			t.Errorf("Check() error = %v, want ErrCannotLockForWriting", err)
		}
	})
}

func TestBoxApp_DeleteAccount(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)
	ctx := context.Background()

	withApp(t, cfg, "DeleteAccount", func(a *BoxApp) {
		if err := a.DeleteAccount(ctx, testAccount); err != nil {
			t.Fatalf("DeleteAccount() error = %v", err)
		}
		if _, err := a.Info(ctx, testAccount); err == nil {
			t.Error("Info() after delete error = nil, want error")
		}
		if err := a.DeleteAccount(ctx, testAccount); err == nil {
			t.Error("second DeleteAccount() error = nil, want error")
		}
	})

	entries, err := os.ReadDir(filepath.Join(cfg.BlobStore.Root, "00001234"))
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				t.Errorf("blob %s left behind", e.Name())
			}
		}
	}
}

func TestBoxApp_CheckAndHousekeep(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)
	ctx := context.Background()

	withApp(t, cfg, "Check", func(a *BoxApp) {
		res, err := a.Check(ctx, testAccount, true)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if res.ErrorsFound != 0 {
			t.Errorf("ErrorsFound = %d, want 0", res.ErrorsFound)
		}
	})

	withApp(t, cfg, "Housekeep", func(a *BoxApp) {
		res, err := a.Housekeep(ctx, testAccount, housekeeping.RemoveDeleted, nil)
		if err != nil {
			t.Fatalf("Housekeep() error = %v", err)
		}
		if res.Skipped || res.FilesDeleted != 0 {
			t.Errorf("Housekeep() = %+v, want an empty run", res)
		}

		results, err := a.HousekeepAll(ctx, 0, nil)
		if err != nil {
			t.Fatalf("HousekeepAll() error = %v", err)
		}
		if len(results) != 1 || results[0].AccountID != testAccount || results[0].Locked {
			t.Errorf("HousekeepAll() = %+v, want one run of %08x", results, testAccount)
		}

		sessions, err := a.Backups(ctx, testAccount)
		if err != nil {
			t.Fatalf("Backups() error = %v", err)
		}
		if len(sessions) != 0 {
			t.Errorf("Backups() = %d sessions, want 0", len(sessions))
		}
	})

	data, err := os.ReadFile(cfg.Metrics.TextfilePath)
	if err != nil {
		t.Fatalf("reading metrics textfile: %v", err)
	}
	if !strings.Contains(string(data), `boxstore_housekeeping_last_run_timestamp_seconds{account="00001234"}`) {
		t.Errorf("metrics textfile lacks the housekeeping run:\n%s", data)
	}
}

func TestBoxApp_HousekeepDisabledAccount(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)
	ctx := context.Background()

	withApp(t, cfg, "SetEnabled", func(a *BoxApp) {
		if err := a.SetEnabled(ctx, testAccount, false); err != nil {
			t.Fatalf("SetEnabled() error = %v", err)
		}
	})
	withApp(t, cfg, "Housekeep", func(a *BoxApp) {
		res, err := a.Housekeep(ctx, testAccount, 0, nil)
		if err != nil {
			t.Fatalf("Housekeep() error = %v", err)
		}
		if !res.Skipped {
			t.Error("Skipped = false for a disabled account")
		}
	})
}

func TestBoxApp_DiscardUpload(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)
	ctx := context.Background()

	withApp(t, cfg, "DiscardUpload", func(a *BoxApp) {
		found, err := a.DiscardUpload(ctx, testAccount)
		if err != nil || found {
			t.Fatalf("DiscardUpload() = %v, %v, want false, nil", found, err)
		}

		f, err := a.spool.Create("partial-upload")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		f.Write([]byte("half a file"))
		f.Close()
		acct, err := a.openAccount(ctx, testAccount)
		if err != nil {
			t.Fatalf("openAccount() error = %v", err)
		}
		if err := box.SaveResumeInfo(ctx, acct.Store, &box.ResumeInfo{AttributesHash: 7, SpoolName: "partial-upload"}); err != nil {
			t.Fatalf("SaveResumeInfo() error = %v", err)
		}

		found, err = a.DiscardUpload(ctx, testAccount)
		if err != nil || !found {
			t.Fatalf("DiscardUpload() = %v, %v, want true, nil", found, err)
		}
		ri, err := box.LoadResumeInfo(ctx, acct.Store)
		if err != nil || ri != nil {
			t.Errorf("LoadResumeInfo() = %+v, %v, want nil, nil", ri, err)
		}
		if _, err := a.spool.Open("partial-upload"); err == nil {
			t.Error("spool file still exists")
		}
	})
}

func TestBoxApp_History(t *testing.T) {
	cfg := newTestConfig(t)
	createAccount(t, cfg)
	ctx := context.Background()

	withApp(t, cfg, "SetLimits", func(a *BoxApp) {
		if err := a.SetLimits(ctx, 0x9999, 1, 2); err == nil {
			t.Error("SetLimits() on missing account error = nil, want error")
		}
	})
	// Read-only commands are not recorded.
	withApp(t, cfg, "Info", func(a *BoxApp) {
		if _, err := a.Info(ctx, testAccount); err != nil {
			t.Fatalf("Info() error = %v", err)
		}
	})

	if _, err := os.Stat(filepath.Join(cfg.BlobStore.Root, RegistryBackupKey)); err != nil {
		t.Errorf("registry backup not uploaded: %v", err)
	}

	withApp(t, cfg, "History", func(a *BoxApp) {
		ops, err := a.GetHistory(ctx, 10)
		if err != nil {
			t.Fatalf("GetHistory() error = %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("GetHistory() returned %d operations, want 2", len(ops))
		}
		if ops[0].Operation != "SetLimits" || ops[0].Status != StatusError {
			t.Errorf("newest operation = %s/%s, want SetLimits/error", ops[0].Operation, ops[0].Status)
		}
		if ops[1].Operation != "CreateAccount" || ops[1].Status != StatusSuccess || !ops[1].FinishedAt.Valid {
			t.Errorf("oldest operation = %+v, want finished CreateAccount", ops[1])
		}
		if !strings.HasPrefix(ops[1].Parameters, "00001234 name=alice") {
			t.Errorf("Parameters = %q", ops[1].Parameters)
		}
	})
}

func TestKeys(t *testing.T) {
	cfg := config.NewConfig("test-server", t.TempDir())

	if err := ChangeKeyPassphrase(cfg, "old", "new"); err == nil {
		t.Error("ChangeKeyPassphrase() before InitKeys error = nil")
	}
	if err := InitKeys(cfg, "old"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}
	if err := InitKeys(cfg, "again"); err == nil {
		t.Error("second InitKeys() error = nil, want already set up")
	}
	if err := ChangeKeyPassphrase(cfg, "old", "new"); err != nil {
		t.Fatalf("ChangeKeyPassphrase() error = %v", err)
	}
	key, err := PublicKey(cfg)
	if err != nil || !strings.HasPrefix(key, "age1") {
		t.Errorf("PublicKey() = %q, %v, want an age1 recipient", key, err)
	}
}
