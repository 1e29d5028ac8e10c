package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
)

// Socket is a live client connection. Send must not block.
type Socket interface {
	Send(msg []byte) error
	Close() error
	// OnClose registers a callback fired once when the socket closes
	OnClose(fn func())
}

// Registry manages live connections and channel membership.
//
// Invariants:
//   - every address in addresses has an entry in sockets, or is pruned by
//     the operation that finds it missing
//   - an address belongs to at most one user, the one recorded in owners
//   - members and subscriptions mirror each other: a user is in a channel's
//     member set iff the channel is in the user's subscription set
type Registry struct {
	mu            sync.Mutex
	sockets       map[string]Socket            // address -> socket
	addresses     map[int64][]string           // user -> addresses in registration order
	owners        map[string]int64             // address -> user
	members       map[int64]map[int64]struct{} // channel -> users
	subscriptions map[int64]map[int64]struct{} // user -> channels

	logger *slog.Logger
}

// NewRegistry creates a registry with the system and global channels in place
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		sockets:       make(map[string]Socket),
		addresses:     make(map[int64][]string),
		owners:        make(map[string]int64),
		members:       make(map[int64]map[int64]struct{}),
		subscriptions: make(map[int64]map[int64]struct{}),
		logger:        logger.With(slog.String("component", "registry")),
	}
	r.members[models.SystemChannel] = make(map[int64]struct{})
	r.members[models.GlobalChannel] = make(map[int64]struct{})
	return r
}

func isWellKnown(channelID int64) bool {
	return channelID == models.SystemChannel || channelID == models.GlobalChannel
}

// Register stores socket under address for userID. When the socket closes,
// the address is removed from the registry. An address that is already in
// use is taken from its previous owner and the socket it held is closed.
func (r *Registry) Register(userID int64, address string, socket Socket) {
	r.mu.Lock()
	var displaced Socket
	if old, exists := r.sockets[address]; exists {
		r.logger.Warn("address registered twice, replacing socket",
			slog.String("address", address), slog.Int64("userID", userID), slog.Int64("previousUserID", r.owners[address]))
		if old != socket {
			displaced = old
		}
	}
	if owner, ok := r.owners[address]; ok {
		r.removeAddressLocked(owner, address)
	}
	r.sockets[address] = socket
	r.owners[address] = userID
	r.addresses[userID] = append(r.addresses[userID], address)
	r.mu.Unlock()

	if displaced != nil {
		displaced.Close()
	}

	r.logger.Debug("connection registered", slog.Int64("userID", userID), slog.String("address", address))
	socket.OnClose(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if current, ok := r.sockets[address]; ok && current != socket {
			return
		}
		r.removeAddressLocked(userID, address)
	})
}

// removeAddressLocked drops address of userID from every index. Caller
// holds r.mu.
func (r *Registry) removeAddressLocked(userID int64, address string) {
	delete(r.sockets, address)
	if owner, ok := r.owners[address]; ok && owner == userID {
		delete(r.owners, address)
	}
	addrs, ok := r.addresses[userID]
	if !ok {
		return
	}
	addrs = slices.DeleteFunc(addrs, func(a string) bool { return a == address })
	if len(addrs) == 0 {
		delete(r.addresses, userID)
		return
	}
	r.addresses[userID] = addrs
}

// SendToUser delivers msg to every live connection of userID. Addresses
// without a socket, or whose socket fails to accept the message, are
// pruned. Returns false if the user has no live connection left.
func (r *Registry) SendToUser(userID int64, msg []byte) bool {
	r.mu.Lock()
	ok, failed := r.sendToUserLocked(userID, msg)
	r.mu.Unlock()

	closeAll(failed)
	return ok
}

// sendToUserLocked returns whether the user still has a live address and
// the sockets that failed and must be closed once r.mu is released.
func (r *Registry) sendToUserLocked(userID int64, msg []byte) (bool, []Socket) {
	addrs, ok := r.addresses[userID]
	if !ok {
		return false, nil
	}

	var stale []string
	var failed []Socket
	for _, addr := range addrs {
		sock, ok := r.sockets[addr]
		if !ok {
			stale = append(stale, addr)
			continue
		}
		if err := sock.Send(msg); err != nil {
			r.logger.Debug("send failed, pruning address", slog.Int64("userID", userID), slog.String("address", addr), slog.Any("error", err))
			stale = append(stale, addr)
			failed = append(failed, sock)
		}
	}

	for _, addr := range stale {
		r.removeAddressLocked(userID, addr)
	}
	if len(stale) > 0 {
		r.logger.Debug("pruned stale addresses", slog.Int64("userID", userID), slog.Int("count", len(stale)))
	}

	_, live := r.addresses[userID]
	return live, failed
}

// SendToChannel delivers msg to every member of channelID. Members with no
// live connection are removed from the channel. Returns false if the
// channel does not exist.
func (r *Registry) SendToChannel(channelID int64, msg []byte) bool {
	r.mu.Lock()
	users, ok := r.members[channelID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("send to unknown channel", slog.Int64("channelID", channelID))
		return false
	}

	var gone []int64
	var failed []Socket
	for userID := range users {
		live, f := r.sendToUserLocked(userID, msg)
		failed = append(failed, f...)
		if !live {
			gone = append(gone, userID)
		}
	}
	for _, userID := range gone {
		r.unsubscribeLocked(userID, channelID)
	}
	r.mu.Unlock()

	if len(gone) > 0 {
		r.logger.Debug("removed offline members", slog.Int64("channelID", channelID), slog.Int("count", len(gone)))
	}
	closeAll(failed)
	return true
}

// AddUserToChannel subscribes userID to channelID, creating the channel if needed
func (r *Registry) AddUserToChannel(userID, channelID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.members[channelID]
	if !ok {
		users = make(map[int64]struct{})
		r.members[channelID] = users
	}
	users[userID] = struct{}{}

	channels, ok := r.subscriptions[userID]
	if !ok {
		channels = make(map[int64]struct{})
		r.subscriptions[userID] = channels
	}
	channels[channelID] = struct{}{}
}

// RemoveUserFromChannel unsubscribes userID from channelID. Returns false
// and logs if the user was not a member.
func (r *Registry) RemoveUserFromChannel(userID, channelID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[channelID][userID]; !ok {
		r.logger.Error("user is not a member of channel", slog.Int64("userID", userID), slog.Int64("channelID", channelID))
		return false
	}
	r.unsubscribeLocked(userID, channelID)
	return true
}

// unsubscribeLocked removes both sides of a membership. Empty channels other
// than the well-known ones are dropped. Caller holds r.mu.
func (r *Registry) unsubscribeLocked(userID, channelID int64) {
	if users, ok := r.members[channelID]; ok {
		delete(users, userID)
		if len(users) == 0 && !isWellKnown(channelID) {
			delete(r.members, channelID)
		}
	}
	if channels, ok := r.subscriptions[userID]; ok {
		delete(channels, channelID)
		if len(channels) == 0 {
			delete(r.subscriptions, userID)
		}
	}
}

// LogoutUser removes the user from every channel and closes all of its
// connections. Calling it for a user that is already gone is a no-op.
func (r *Registry) LogoutUser(userID int64) {
	r.mu.Lock()
	for channelID := range r.subscriptions[userID] {
		r.unsubscribeLocked(userID, channelID)
	}
	delete(r.subscriptions, userID)

	var sockets []Socket
	for _, addr := range r.addresses[userID] {
		if sock, ok := r.sockets[addr]; ok {
			sockets = append(sockets, sock)
			delete(r.sockets, addr)
		}
		delete(r.owners, addr)
	}
	delete(r.addresses, userID)
	r.mu.Unlock()

	closeAll(sockets)
	r.logger.Debug("user logged out", slog.Int64("userID", userID), slog.Int("connections", len(sockets)))
}

// closeAll closes sockets outside the registry lock, since close callbacks
// re-enter the registry.
func closeAll(sockets []Socket) {
	for _, sock := range sockets {
		sock.Close()
	}
}

// Members returns the users subscribed to channelID in ascending order
func (r *Registry) Members(channelID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.members[channelID])
}

// Subscriptions returns the channels userID belongs to in ascending order
func (r *Registry) Subscriptions(userID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.subscriptions[userID])
}

// IsMember reports whether userID is subscribed to channelID
func (r *Registry) IsMember(userID, channelID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[channelID][userID]
	return ok
}

// ChannelExists reports whether channelID is known
func (r *Registry) ChannelExists(channelID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[channelID]
	return ok
}

// Addresses returns the addresses registered for userID
func (r *Registry) Addresses(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.addresses[userID])
}

// HasSocket reports whether address has a socket
func (r *Registry) HasSocket(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sockets[address]
	return ok
}

// OnlineUsers returns every user with at least one registered address
func (r *Registry) OnlineUsers() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]int64, 0, len(r.addresses))
	for userID := range r.addresses {
		users = append(users, userID)
	}
	slices.Sort(users)
	return users
}

// CheckSymmetry verifies that the two membership indices mirror each other
func (r *Registry) CheckSymmetry() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channelID, users := range r.members {
		for userID := range users {
			if _, ok := r.subscriptions[userID][channelID]; !ok {
				return fmt.Errorf("user %d is in channel %d but the channel is missing from the user's subscriptions", userID, channelID)
			}
		}
	}
	for userID, channels := range r.subscriptions {
		for channelID := range channels {
			if _, ok := r.members[channelID][userID]; !ok {
				return fmt.Errorf("user %d lists channel %d but is not among its members", userID, channelID)
			}
		}
	}
	return nil
}

// CheckAddresses verifies that every address is listed under exactly one
// user and that the user is its recorded owner
func (r *Registry) CheckAddresses() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]int64)
	for userID, addrs := range r.addresses {
		for _, addr := range addrs {
			if other, dup := seen[addr]; dup {
				return fmt.Errorf("address %s is listed under users %d and %d", addr, other, userID)
			}
			seen[addr] = userID
			if owner, ok := r.owners[addr]; !ok || owner != userID {
				return fmt.Errorf("address %s is listed under user %d but owned by %d", addr, userID, owner)
			}
		}
	}
	for addr, owner := range r.owners {
		if _, ok := seen[addr]; !ok {
			return fmt.Errorf("address %s is owned by user %d but not listed", addr, owner)
		}
	}
	for addr := range r.sockets {
		if _, ok := r.owners[addr]; !ok {
			return fmt.Errorf("socket at %s has no owner", addr)
		}
	}
	return nil
}

func sortedKeys(set map[int64]struct{}) []int64 {
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
