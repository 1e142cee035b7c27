package box

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Backups list magics.
const (
	BackupsListMagic   uint32 = 0x424c5631 // "BLV1"
	BackupsRecordMagic uint32 = 0x00425631 // "\0BV1"
)

// maxBackupsRecords bounds the record count read from disk.
const maxBackupsRecords = 1 << 20

// SessionInfo is the change summary of one session. StartTime identifies the
// session.
type SessionInfo struct {
	StartTime         Time
	EndTime           Time
	AddedFiles        int64
	AddedFileBlocks   int64
	DeletedFiles      int64
	DeletedFileBlocks int64
	AddedDirs         int64
	DeletedDirs       int64
}

// HasChanges reports whether the session changed anything.
func (s *SessionInfo) HasChanges() bool {
	return s.AddedFiles != 0 || s.DeletedFiles != 0 || s.AddedDirs != 0 || s.DeletedDirs != 0 ||
		s.AddedFileBlocks != 0 || s.DeletedFileBlocks != 0
}

func (s *SessionInfo) RecordAddedFile(blocks int64) {
	s.AddedFiles++
	s.AddedFileBlocks += blocks
}

func (s *SessionInfo) RecordDeletedFile(blocks int64) {
	s.DeletedFiles++
	s.DeletedFileBlocks += blocks
}

func (s *SessionInfo) RecordAddedDir()   { s.AddedDirs++ }
func (s *SessionInfo) RecordDeletedDir() { s.DeletedDirs++ }

// merge adds other's counters into s and widens the time span.
func (s *SessionInfo) merge(other SessionInfo) {
	if other.EndTime > s.EndTime {
		s.EndTime = other.EndTime
	}
	s.AddedFiles += other.AddedFiles
	s.AddedFileBlocks += other.AddedFileBlocks
	s.DeletedFiles += other.DeletedFiles
	s.DeletedFileBlocks += other.DeletedFileBlocks
	s.AddedDirs += other.AddedDirs
	s.DeletedDirs += other.DeletedDirs
}

// BackupsList is the session history of an account, keyed by start time.
type BackupsList struct {
	sessions map[Time]*SessionInfo
}

// NewBackupsList creates an empty history.
func NewBackupsList() *BackupsList {
	return &BackupsList{sessions: make(map[Time]*SessionInfo)}
}

// Add records a session. A session with the same start time as an existing
// record is merged into it.
func (b *BackupsList) Add(s SessionInfo) {
	if cur, ok := b.sessions[s.StartTime]; ok {
		cur.merge(s)
		return
	}
	rec := s
	b.sessions[s.StartTime] = &rec
}

// Get returns the record for start, or nil.
func (b *BackupsList) Get(start Time) *SessionInfo {
	return b.sessions[start]
}

// Len returns the number of records.
func (b *BackupsList) Len() int { return len(b.sessions) }

// Sessions returns copies of all records ordered by start time.
func (b *BackupsList) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// EndTimes returns the end time of every recorded session, ascending.
func (b *BackupsList) EndTimes() []Time {
	sessions := b.Sessions()
	out := make([]Time, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.EndTime)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Serialize writes the history.
func (b *BackupsList) Serialize(w io.Writer) error {
	ww := newWireWriter(w)
	ww.u32(BackupsListMagic)
	for _, s := range b.Sessions() {
		ww.u32(BackupsRecordMagic)
		for _, v := range []int64{
			int64(s.StartTime), int64(s.EndTime),
			s.AddedFiles, s.AddedFileBlocks, s.DeletedFiles, s.DeletedFileBlocks,
			s.AddedDirs, s.DeletedDirs,
		} {
			ww.i64(v)
		}
	}
	if ww.err != nil {
		return fmt.Errorf("writing backups list: %w", ww.err)
	}
	return nil
}

// DeserializeBackupsList reads a history written by Serialize.
func DeserializeBackupsList(r io.Reader) (*BackupsList, error) {
	wr := newWireReader(r)
	if magic := wr.u32(); wr.err != nil || magic != BackupsListMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadBackupsList)
	}

	b := NewBackupsList()
	for n := 0; ; n++ {
		var p [4]byte
		k, err := io.ReadFull(r, p[:])
		if err == io.EOF {
			break
		}
		if err != nil || k != 4 {
			return nil, fmt.Errorf("%w: truncated record %d", ErrBadBackupsList, n)
		}
		if n >= maxBackupsRecords {
			return nil, fmt.Errorf("%w: too many records", ErrBadBackupsList)
		}
		if m := binary.BigEndian.Uint32(p[:]); m != BackupsRecordMagic {
			return nil, fmt.Errorf("%w: bad record magic %#08x", ErrBadBackupsList, m)
		}
		s := SessionInfo{
			StartTime:         Time(wr.i64()),
			EndTime:           Time(wr.i64()),
			AddedFiles:        wr.i64(),
			AddedFileBlocks:   wr.i64(),
			DeletedFiles:      wr.i64(),
			DeletedFileBlocks: wr.i64(),
			AddedDirs:         wr.i64(),
			DeletedDirs:       wr.i64(),
		}
		if wr.err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrBadBackupsList, n, wr.err)
		}
		b.Add(s)
	}
	return b, nil
}

// LoadBackupsList reads the account's history from bs. A missing blob is an
// empty history.
func LoadBackupsList(ctx context.Context, bs BlobStore) (*BackupsList, error) {
	rc, err := bs.Get(ctx, BackupsListKey)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return NewBackupsList(), nil
		}
		return nil, fmt.Errorf("opening backups list: %w", err)
	}
	defer rc.Close()
	return DeserializeBackupsList(rc)
}

// SaveBackupsList writes the account's history to bs.
func SaveBackupsList(ctx context.Context, bs BlobStore, b *BackupsList) error {
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		return err
	}
	if _, err := bs.Put(ctx, BackupsListKey, &buf); err != nil {
		return fmt.Errorf("saving backups list: %w", err)
	}
	return nil
}

// AppendSession merges s into the stored history.
func AppendSession(ctx context.Context, bs BlobStore, s SessionInfo) error {
	b, err := LoadBackupsList(ctx, bs)
	if err != nil {
		return err
	}
	b.Add(s)
	return SaveBackupsList(ctx, bs, b)
}
