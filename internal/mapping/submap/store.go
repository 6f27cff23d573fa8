package submap

import (
	"fmt"
	"sort"

	"github.com/banshee-data/submap.report/internal/mapping"
)

// Store is the collection of submaps. Exactly one submap is active once the
// map is initialised; the active submap is the integration target. The store
// is not safe for concurrent use: the dispatcher serialises all access.
type Store struct {
	cfg     LayerConfig
	submaps map[ID]*Submap
	active  ID
	nextID  ID
}

// NewStore creates an empty store whose submaps use the given layer geometry.
func NewStore(cfg LayerConfig) *Store {
	return &Store{
		cfg:     cfg.withDefaults(),
		submaps: make(map[ID]*Submap),
		nextID:  1,
	}
}

// LayerConfig returns the geometry new submaps are created with.
func (st *Store) LayerConfig() LayerConfig { return st.cfg }

// Size returns the number of stored submaps.
func (st *Store) Size() int { return len(st.submaps) }

// Create allocates a new submap at the given base pose and makes it active.
func (st *Store) Create(pose mapping.Transform) *Submap {
	s := NewSubmap(st.nextID, pose, NewLayer(st.cfg))
	st.submaps[s.id] = s
	st.active = s.id
	st.nextID++
	return s
}

// ActiveID returns the active submap's ID; ok is false before the first
// submap is created.
func (st *Store) ActiveID() (ID, bool) {
	if st.active == 0 {
		return 0, false
	}
	return st.active, true
}

// Active returns the active submap, or nil before map initialisation.
func (st *Store) Active() *Submap {
	return st.submaps[st.active]
}

// Activate makes the submap with the given ID active.
func (st *Store) Activate(id ID) error {
	if _, ok := st.submaps[id]; !ok {
		return fmt.Errorf("submap %d does not exist", id)
	}
	st.active = id
	return nil
}

// ByID returns a submap by ID, or nil when it does not exist.
func (st *Store) ByID(id ID) *Submap { return st.submaps[id] }

// Exists reports whether a submap with the given ID is stored.
func (st *Store) Exists(id ID) bool {
	_, ok := st.submaps[id]
	return ok
}

// IDs returns all submap IDs in ascending order.
func (st *Store) IDs() []ID {
	ids := make([]ID, 0, len(st.submaps))
	for id := range st.submaps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Poses returns the base poses of all submaps, ordered by ID.
func (st *Store) Poses() []mapping.Transform {
	ids := st.IDs()
	poses := make([]mapping.Transform, len(ids))
	for i, id := range ids {
		poses[i] = st.submaps[id].pose
	}
	return poses
}

// Projected fuses every submap into a single world-frame layer. The result
// is a fresh layer owned by the caller; it is never stored. Used for the
// global-merge publish path.
func (st *Store) Projected() *Layer {
	merged := NewLayer(st.cfg)
	for _, id := range st.IDs() {
		s := st.submaps[id]
		pose := s.pose
		merged.Absorb(s.layer, pose.Apply)
	}
	return merged
}

// Merge fuses an inbound submap record into the store.
//
// Policy: last writer wins by ID. An unknown ID is inserted
// as-is; a known ID has its pose and layer replaced by the inbound record.
// The active submap is off limits: it is the live integration target, and
// swapping the record out from under the integrator would silently discard
// every frame integrated since. Merged submaps never steal the active slot
// either (activation changes only via Create, Activate, or Replace). The
// ID counter advances past merged IDs so locally created submaps cannot
// collide with peer IDs.
func (st *Store) Merge(rec *Submap) error {
	if rec == nil {
		return fmt.Errorf("nil submap record")
	}
	if rec.id <= 0 {
		return fmt.Errorf("cannot merge submap with reserved id %d", rec.id)
	}
	if rec.id == st.active {
		return fmt.Errorf("cannot merge over active submap %d", rec.id)
	}
	st.submaps[rec.id] = rec
	if rec.id >= st.nextID {
		st.nextID = rec.id + 1
	}
	return nil
}

// Replace swaps the store contents for the given records and active ID.
// Used by archive load. recordings and IDs are taken from the records.
func (st *Store) Replace(records []*Submap, active ID) error {
	submaps := make(map[ID]*Submap, len(records))
	next := ID(1)
	for _, rec := range records {
		if rec == nil || rec.id <= 0 {
			return fmt.Errorf("invalid submap record in replacement set")
		}
		if _, dup := submaps[rec.id]; dup {
			return fmt.Errorf("duplicate submap id %d in replacement set", rec.id)
		}
		submaps[rec.id] = rec
		if rec.id >= next {
			next = rec.id + 1
		}
	}
	if active != 0 {
		if _, ok := submaps[active]; !ok {
			return fmt.Errorf("active submap %d not in replacement set", active)
		}
	}
	st.submaps = submaps
	st.active = active
	st.nextID = next
	return nil
}
