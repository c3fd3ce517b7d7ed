package testsupport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
	"github.com/EPFL-ENAC/AddLidar/internal/statedb"
)

// MustOpenStateDB opens a statedb.Store in a temp directory and registers cleanup.
func MustOpenStateDB(t testing.TB, opts ...statedb.Option) *statedb.Store {
	t.Helper()

	store, err := statedb.Open(t.TempDir()+"/state.db", opts...)
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// Call is one recorded store invocation.
type Call struct {
	Method string
	Key    string
}

// String renders the call as Method(key).
func (c Call) String() string { return c.Method + "(" + c.Key + ")" }

// MemoryStore is an in-memory state.Store that records every call. Failures
// can be injected per method and key.
type MemoryStore struct {
	mu      sync.Mutex
	now     time.Time
	folders map[string]state.FolderRecord
	markers map[string]state.MarkerRecord
	calls   []Call
	fail    map[string]error
}

// NewMemoryStore returns an empty recording store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Unix(1_700_000_000, 0).UTC(),
		folders: make(map[string]state.FolderRecord),
		markers: make(map[string]state.MarkerRecord),
		fail:    make(map[string]error),
	}
}

// FailOn makes method fail for key with err. An empty key matches every key.
func (m *MemoryStore) FailOn(method, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[method+"|"+key] = err
}

// FailConnectivity makes method fail for key with a connectivity error.
func (m *MemoryStore) FailConnectivity(method, key string) {
	m.FailOn(method, key, fmt.Errorf("%w: injected", services.ErrConnectivity))
}

// SeedFolder stores a folder record without recording a call.
func (m *MemoryStore) SeedFolder(rec state.FolderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.MissionKey == "" {
		rec.MissionKey, _, _ = strings.Cut(rec.FolderKey, "/")
	}
	m.folders[rec.FolderKey] = rec
}

// SeedMarker stores a marker record without recording a call.
func (m *MemoryStore) SeedMarker(rec state.MarkerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[rec.MissionKey] = rec
}

// Folder returns a copy of the stored folder record.
func (m *MemoryStore) Folder(key string) (state.FolderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.folders[key]
	return rec, ok
}

// Marker returns a copy of the stored marker record.
func (m *MemoryStore) Marker(key string) (state.MarkerRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.markers[key]
	return rec, ok
}

// Calls returns all recorded calls in order.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the keys passed to method, in order.
func (m *MemoryStore) CallsTo(method string) []string {
	var keys []string
	for _, c := range m.Calls() {
		if c.Method == method {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// Mutations counts calls that would change stored state.
func (m *MemoryStore) Mutations() int {
	n := 0
	for _, c := range m.Calls() {
		switch c.Method {
		case "UpsertFolder", "TouchFolder", "UpsertMarker", "TouchMarker", "UpdateFolderStatus", "UpdateMarkerStatus":
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (m *MemoryStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// FolderKeys lists stored folder keys in sorted order.
func (m *MemoryStore) FolderKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.folders))
	for k := range m.folders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) record(method, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Key: key})
	if err, ok := m.fail[method+"|"+key]; ok {
		return err
	}
	if err, ok := m.fail[method+"|"]; ok {
		return err
	}
	return nil
}

func (m *MemoryStore) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

func (m *MemoryStore) GetFolder(_ context.Context, folderKey string) (*state.FolderRecord, error) {
	if err := m.record("GetFolder", folderKey); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.folders[folderKey]
	if !ok {
		return nil, state.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) UpsertFolder(_ context.Context, in state.FolderUpsert) error {
	if err := m.record("UpsertFolder", in.FolderKey); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.folders[in.FolderKey]
	rec.FolderKey = in.FolderKey
	rec.MissionKey = in.MissionKey
	rec.Fingerprint = in.Fingerprint
	rec.SizeKB = in.SizeKB
	rec.FileCount = in.FileCount
	rec.OutputPath = in.OutputPath
	rec.Status = state.StatusPtr(state.StatusPending)
	rec.LastChecked = m.tick()
	rec.LastProcessed = nil
	m.folders[in.FolderKey] = rec
	return nil
}

func (m *MemoryStore) TouchFolder(_ context.Context, folderKey string) error {
	if err := m.record("TouchFolder", folderKey); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.folders[folderKey]
	if !ok {
		return state.ErrNotFound
	}
	rec.LastChecked = m.tick()
	m.folders[folderKey] = rec
	return nil
}

func (m *MemoryStore) MissionHasFolders(_ context.Context, missionKey string) (bool, error) {
	if err := m.record("MissionHasFolders", missionKey); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.folders {
		if rec.MissionKey == missionKey {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetMarker(_ context.Context, missionKey string) (*state.MarkerRecord, error) {
	if err := m.record("GetMarker", missionKey); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.markers[missionKey]
	if !ok {
		return nil, state.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) UpsertMarker(_ context.Context, in state.MarkerUpsert) error {
	if err := m.record("UpsertMarker", in.MissionKey); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.markers[in.MissionKey]
	rec.MissionKey = in.MissionKey
	rec.Fingerprint = in.Fingerprint
	rec.OutputPath = in.OutputPath
	rec.Status = state.StatusPtr(state.StatusPending)
	rec.LastChecked = m.tick()
	rec.LastProcessed = nil
	m.markers[in.MissionKey] = rec
	return nil
}

func (m *MemoryStore) TouchMarker(_ context.Context, missionKey string) error {
	if err := m.record("TouchMarker", missionKey); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.markers[missionKey]
	if !ok {
		return state.ErrNotFound
	}
	rec.LastChecked = m.tick()
	m.markers[missionKey] = rec
	return nil
}

// SetFolderStatus simulates the external processor writing back a status.
func (m *MemoryStore) SetFolderStatus(key string, status state.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.folders[key]
	rec.Status = state.StatusPtr(status)
	m.folders[key] = rec
}

// SetMarkerStatus simulates the external processor writing back a status.
func (m *MemoryStore) SetMarkerStatus(key string, status state.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.markers[key]
	rec.Status = state.StatusPtr(status)
	m.markers[key] = rec
}

var _ state.Store = (*MemoryStore)(nil)
