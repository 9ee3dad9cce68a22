// Package persist keeps the durable subset of host state in sync with the
// key/value store. Three slices survive restarts: analysis results, profiles,
// and settings. Everything else in the store is session-scoped.
//
// Writes are debounced per key so a burst of updates (streaming analysis
// progress, rapid settings toggles) collapses into one write of the final
// value. A failed write is logged and dropped; the next change schedules a
// fresh attempt.
package persist

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
	"github.com/ibolton336/migrator-host/internal/state"
)

// DefaultDebounce is the write delay applied when the caller passes zero.
const DefaultDebounce = 500 * time.Millisecond

// Durable store keys.
const (
	KeyAnalysisResults = "analysisResults"
	KeyProfiles        = "profiles"
	KeySettings        = "settings"
)

// KV is the slice of the storage API the manager needs. Satisfied by
// storage.SQLiteStore.
type KV interface {
	// Get returns the blob under key and whether the key existed.
	Get(key string) ([]byte, bool, error)
	// Put stores a blob under key, replacing any previous value.
	Put(key string, value []byte) error
}

// analysisRecord is the stored shape of the analysis results key.
type analysisRecord struct {
	RuleSets          []state.RuleSet          `json:"ruleSets"`
	EnhancedIncidents []state.EnhancedIncident `json:"enhancedIncidents"`
}

// profilesRecord is the stored shape of the profiles key.
type profilesRecord struct {
	Profiles        []state.Profile `json:"profiles"`
	ActiveProfileID string          `json:"activeProfileId"`
}

// settingsRecord is the stored shape of the settings key.
type settingsRecord struct {
	SolutionServerEnabled bool             `json:"solutionServerEnabled"`
	IsAgentMode           bool             `json:"isAgentMode"`
	HubConfig             *state.HubConfig `json:"hubConfig"`
	HubForced             bool             `json:"hubForced"`
	ProfileSyncEnabled    bool             `json:"profileSyncEnabled"`
}

// Manager hydrates durable slices from the key/value store on startup and
// writes them back, debounced, as they change.
type Manager struct {
	store    *state.Store
	kv       KV
	debounce time.Duration

	mu       sync.Mutex
	timers   map[string]*time.Timer
	prev     snapshot
	disposed bool
	unsub    func()
}

// snapshot records the last observed durable values per key, used for
// change detection between store commits. Slices are compared by reference,
// which the store's copy-on-write updates make meaningful.
type snapshot struct {
	ruleSets          []state.RuleSet
	enhancedIncidents []state.EnhancedIncident
	profiles          []state.Profile
	activeProfileID   string
	settings          settingsRecord
}

// NewManager creates a persistence manager. A zero debounce selects
// DefaultDebounce. Call Hydrate before Watch so stored values do not get
// clobbered by the initial empty state.
func NewManager(store *state.Store, kv KV, debounce time.Duration) *Manager {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Manager{
		store:    store,
		kv:       kv,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}
}

// Hydrate loads every durable key from the store and applies the decoded
// values to application state. A missing key leaves the current value
// alone; a blob that fails to decode is logged and skipped, never fatal.
func (m *Manager) Hydrate() {
	if raw, ok := m.load(KeyAnalysisResults); ok {
		var rec analysisRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			m.logDecodeError(KeyAnalysisResults, err)
		} else {
			m.store.UpdateAnalysis(func(s *state.AnalysisSlice) {
				s.RuleSets = rec.RuleSets
				s.EnhancedIncidents = rec.EnhancedIncidents
			})
		}
	}

	if raw, ok := m.load(KeyProfiles); ok {
		var rec profilesRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			m.logDecodeError(KeyProfiles, err)
		} else {
			m.store.UpdateProfiles(func(s *state.ProfilesSlice) {
				s.Profiles = rec.Profiles
				s.ActiveProfileID = rec.ActiveProfileID
			})
		}
	}

	if raw, ok := m.load(KeySettings); ok {
		var rec settingsRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			m.logDecodeError(KeySettings, err)
		} else {
			m.store.UpdateSettings(func(s *state.SettingsSlice) {
				s.SolutionServerEnabled = rec.SolutionServerEnabled
				s.IsAgentMode = rec.IsAgentMode
				s.HubConfig = rec.HubConfig
				s.HubForced = rec.HubForced
				s.ProfileSyncEnabled = rec.ProfileSyncEnabled
			})
		}
	}
}

func (m *Manager) load(key string) ([]byte, bool) {
	raw, ok, err := m.kv.Get(key)
	if err != nil {
		log.Printf("persist: load %s: %v", key, err)
		return nil, false
	}
	return raw, ok
}

func (m *Manager) logDecodeError(key string, cause error) {
	err := apperrors.Wrap(apperrors.CodePersistDecodeFailed, "decode "+key, cause)
	log.Printf("persist: %v (keeping current value)", err)
}

// Watch subscribes to the store and schedules a debounced write whenever a
// durable slice changes. The current values become the change-detection
// baseline, so hydrated state does not immediately write itself back.
func (m *Manager) Watch() {
	m.mu.Lock()
	if m.unsub != nil || m.disposed {
		m.mu.Unlock()
		return
	}
	m.prev = m.snapshotOf(m.store.GetState())
	// Subscribe under the lock so a concurrent Dispose cannot land between
	// the subscription and the unsub assignment and leave it attached.
	m.unsub = m.store.Subscribe(m.onChange)
	m.mu.Unlock()
}

func (m *Manager) snapshotOf(s state.State) snapshot {
	return snapshot{
		ruleSets:          s.RuleSets,
		enhancedIncidents: s.EnhancedIncidents,
		profiles:          s.Profiles,
		activeProfileID:   s.ActiveProfileID,
		settings: settingsRecord{
			SolutionServerEnabled: s.SolutionServerEnabled,
			IsAgentMode:           s.IsAgentMode,
			HubConfig:             s.HubConfig,
			HubForced:             s.HubForced,
			ProfileSyncEnabled:    s.ProfileSyncEnabled,
		},
	}
}

// onChange runs on every store commit. Each durable key whose backing
// values changed since the last commit gets its debounce timer (re)armed;
// repeated changes inside the window collapse into one write.
func (m *Manager) onChange() {
	cur := m.snapshotOf(m.store.GetState())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}

	if !sameRef(cur.ruleSets, m.prev.ruleSets) || !sameRef(cur.enhancedIncidents, m.prev.enhancedIncidents) {
		m.armLocked(KeyAnalysisResults)
	}
	if !sameRef(cur.profiles, m.prev.profiles) || cur.activeProfileID != m.prev.activeProfileID {
		m.armLocked(KeyProfiles)
	}
	if cur.settings != m.prev.settings {
		m.armLocked(KeySettings)
	}
	m.prev = cur
}

// armLocked resets the debounce timer for one key. Caller holds m.mu.
func (m *Manager) armLocked(key string) {
	if timer, ok := m.timers[key]; ok {
		timer.Stop()
	}
	m.timers[key] = time.AfterFunc(m.debounce, func() {
		m.write(key)
	})
}

// write encodes the current value of one durable key and stores it. Runs on
// the timer goroutine after the debounce window closes.
func (m *Manager) write(key string) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	delete(m.timers, key)
	m.mu.Unlock()

	s := m.store.GetState()
	var record any
	switch key {
	case KeyAnalysisResults:
		record = analysisRecord{RuleSets: s.RuleSets, EnhancedIncidents: s.EnhancedIncidents}
	case KeyProfiles:
		record = profilesRecord{Profiles: s.Profiles, ActiveProfileID: s.ActiveProfileID}
	case KeySettings:
		record = settingsRecord{
			SolutionServerEnabled: s.SolutionServerEnabled,
			IsAgentMode:           s.IsAgentMode,
			HubConfig:             s.HubConfig,
			HubForced:             s.HubForced,
			ProfileSyncEnabled:    s.ProfileSyncEnabled,
		}
	default:
		return
	}

	raw, err := json.Marshal(record)
	if err != nil {
		log.Printf("persist: %v", apperrors.Wrap(apperrors.CodePersistEncodeFailed, "encode "+key, err))
		return
	}
	if err := m.kv.Put(key, raw); err != nil {
		// Dropped, not retried. The next change to this slice schedules a
		// fresh write of the then-current value.
		log.Printf("persist: write %s: %v", key, err)
	}
}

// Dispose cancels pending writes and stops watching. Idempotent. Writes
// already past the debounce window may still land; nothing new is armed.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	for key, timer := range m.timers {
		timer.Stop()
		delete(m.timers, key)
	}
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// sameRef reports whether two slices share the same backing header
// (identical length and first-element address).
func sameRef[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
