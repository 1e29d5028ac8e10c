package simulation

import (
	"github.com/aidenletourneau/scrapyard_server/internal/models"
)

// Handle identifies a roster slot. A handle goes stale once its player is
// removed, even if the slot is reused.
type Handle struct {
	index      uint32
	generation uint32
}

type slot struct {
	player     models.Player
	generation uint32
	occupied   bool
}

// Roster owns every player on the simulation. The id index holds handles
// only, never players.
type Roster struct {
	slots []slot
	free  []uint32
	byID  map[int64]Handle
	count int
}

// NewRoster creates an empty roster
func NewRoster() *Roster {
	return &Roster{byID: make(map[int64]Handle)}
}

// Insert stores p and points the id index at it
func (r *Roster) Insert(p models.Player) Handle {
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot{})
		idx = uint32(len(r.slots) - 1)
	}

	s := &r.slots[idx]
	s.player = p
	s.occupied = true
	h := Handle{index: idx, generation: s.generation}
	r.byID[p.User.ID] = h
	r.count++
	return h
}

// Lookup finds the handle of a user's player
func (r *Roster) Lookup(userID int64) (Handle, bool) {
	h, ok := r.byID[userID]
	return h, ok
}

// Get returns the player behind h, or false if h is stale
func (r *Roster) Get(h Handle) (*models.Player, bool) {
	if int(h.index) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return nil, false
	}
	return &s.player, true
}

// Remove takes the player behind h out of the roster and drops its id
// index entry. Every outstanding copy of h becomes stale.
func (r *Roster) Remove(h Handle) (models.Player, bool) {
	p, ok := r.Get(h)
	if !ok {
		return models.Player{}, false
	}
	removed := *p

	s := &r.slots[h.index]
	s.player = models.Player{}
	s.occupied = false
	s.generation++
	r.free = append(r.free, h.index)
	r.count--

	if cur, ok := r.byID[removed.User.ID]; ok && cur == h {
		delete(r.byID, removed.User.ID)
	}
	return removed, true
}

// Unindex drops the id index entry without touching the roster
func (r *Roster) Unindex(userID int64) {
	delete(r.byID, userID)
}

// CountID returns how many roster entries belong to userID
func (r *Roster) CountID(userID int64) int {
	n := 0
	for i := range r.slots {
		if r.slots[i].occupied && r.slots[i].player.User.ID == userID {
			n++
		}
	}
	return n
}

// Len returns the number of players on the roster
func (r *Roster) Len() int {
	return r.count
}

// Each calls fn with every player, in slot order. fn may mutate the player.
func (r *Roster) Each(fn func(p *models.Player)) {
	for i := range r.slots {
		if r.slots[i].occupied {
			fn(&r.slots[i].player)
		}
	}
}

// Snapshot copies every player
func (r *Roster) Snapshot() []models.Player {
	players := make([]models.Player, 0, r.count)
	r.Each(func(p *models.Player) {
		players = append(players, *p)
	})
	return players
}
