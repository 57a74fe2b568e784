package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/alexedwards/argon2id"
	"github.com/chatplatform/gateway/internal/permission"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/google/uuid"
)

// The argon2id parameters below mirror the teacher's first-run bootstrap defaults.
const (
	argon2Memory      = 64 * 1024
	argon2Iterations  = 3
	argon2Parallelism = 2
	argon2SaltLen     = 16
	argon2KeyLen      = 32
)

type guildRecord struct {
	ownerID uuid.UUID
	roles   map[string]protocol.Role // all roles defined in the guild, by id
}

type membershipRecord struct {
	guildID uuid.UUID
	roleIDs []string // subset of the guild's roles this member holds
}

type userRecord struct {
	profile json.RawMessage // the opaque "user" blob returned verbatim in Ready
}

// Memory is an in-process Source: guilds, channels, roles, memberships, and users held
// in maps instead of the teacher's pgx-backed tables. It exists for local runs and
// tests; a real deployment wires Source to the platform's actual data layer instead
// (spec.md's "database access layer... permission calculation" are out of this
// module's scope).
type Memory struct {
	mu sync.RWMutex

	users         map[uuid.UUID]userRecord
	passwordHashes map[uuid.UUID]string
	guilds        map[uuid.UUID]guildRecord
	memberships   map[uuid.UUID][]membershipRecord    // userID -> guilds they belong to
	channels      map[uuid.UUID][]protocol.ChannelRef // guildID -> its channels
	dmChannels    map[uuid.UUID][]protocol.ChannelRef // userID -> DM channels they're in
	relationships map[uuid.UUID]json.RawMessage       // userID -> opaque relationships blob
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[uuid.UUID]userRecord),
		passwordHashes: make(map[uuid.UUID]string),
		guilds:        make(map[uuid.UUID]guildRecord),
		memberships:   make(map[uuid.UUID][]membershipRecord),
		channels:      make(map[uuid.UUID][]protocol.ChannelRef),
		dmChannels:    make(map[uuid.UUID][]protocol.ChannelRef),
		relationships: make(map[uuid.UUID]json.RawMessage),
	}
}

// PutUser registers userID's opaque Ready "user" blob.
func (m *Memory) PutUser(userID uuid.UUID, profile json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = userRecord{profile: profile}
}

// PutPasswordHash records userID's argon2id password hash, kept separate from the
// profile blob PutUser stores — the latter is echoed to the client verbatim in Ready
// and must never carry a credential.
func (m *Memory) PutPasswordHash(userID uuid.UUID, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwordHashes[userID] = hash
}

// VerifyPassword checks password against userID's stored argon2id hash.
func (m *Memory) VerifyPassword(userID uuid.UUID, password string) (bool, error) {
	m.mu.RLock()
	hash, ok := m.passwordHashes[userID]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("directory: verify password: %w", err)
	}
	return match, nil
}

// PutRelationships sets userID's opaque Ready "relationships" blob.
func (m *Memory) PutRelationships(userID uuid.UUID, blob json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationships[userID] = blob
}

// PutGuild registers a guild's owner and full role set, replacing any prior record.
func (m *Memory) PutGuild(guildID, ownerID uuid.UUID, roles []protocol.Role) {
	byID := make(map[string]protocol.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guilds[guildID] = guildRecord{ownerID: ownerID, roles: byID}
}

// AddMember grants userID membership in guildID holding roleIDs.
func (m *Memory) AddMember(userID, guildID uuid.UUID, roleIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[userID] = append(m.memberships[userID], membershipRecord{guildID: guildID, roleIDs: roleIDs})
}

// PutChannel registers a guild channel, replacing any prior record sharing its id.
func (m *Memory) PutChannel(ch protocol.ChannelRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch.GuildID == nil {
		return
	}
	chs := m.channels[*ch.GuildID]
	for i := range chs {
		if chs[i].ID == ch.ID {
			chs[i] = ch
			m.channels[*ch.GuildID] = chs
			return
		}
	}
	m.channels[*ch.GuildID] = append(chs, ch)
}

// PutDMChannel registers a DM channel as visible to every member listed.
func (m *Memory) PutDMChannel(ch protocol.ChannelRef, members ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, userID := range members {
		m.dmChannels[userID] = append(m.dmChannels[userID], ch)
	}
}

// Guilds implements Source.
func (m *Memory) Guilds(_ context.Context, userID uuid.UUID) ([]protocol.GuildRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make([]protocol.GuildRef, 0, len(m.memberships[userID]))
	for _, mem := range m.memberships[userID] {
		g, ok := m.guilds[mem.guildID]
		if !ok {
			continue
		}
		refs = append(refs, protocol.GuildRef{
			ID:      mem.guildID,
			OwnerID: g.ownerID,
			Roles:   rolesHeld(g, mem.roleIDs),
		})
	}
	return refs, nil
}

// DMChannels implements Source.
func (m *Memory) DMChannels(_ context.Context, userID uuid.UUID) ([]protocol.ChannelRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]protocol.ChannelRef(nil), m.dmChannels[userID]...), nil
}

// ReadyPayload implements Source, returning the stored user and relationships blobs
// alongside the JSON-encoded guild and DM channel lists built by Guilds/DMChannels.
func (m *Memory) ReadyPayload(ctx context.Context, userID uuid.UUID) (user, guilds, dmChannels, relationships []byte, err error) {
	m.mu.RLock()
	u, ok := m.users[userID]
	rel := m.relationships[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, nil, nil, fmt.Errorf("directory: unknown user %s", userID)
	}

	guildRefs, err := m.Guilds(ctx, userID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dmRefs, err := m.DMChannels(ctx, userID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	guildsJSON, err := json.Marshal(guildRefs)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("directory: marshal guilds: %w", err)
	}
	dmJSON, err := json.Marshal(dmRefs)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("directory: marshal dm channels: %w", err)
	}
	if rel == nil {
		rel = json.RawMessage("[]")
	}
	return u.profile, guildsJSON, dmJSON, rel, nil
}

// Guild implements permission.Directory: guildID's owner and the roles userID holds
// in it.
func (m *Memory) Guild(_ context.Context, userID, guildID uuid.UUID) (permission.GuildInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return permission.GuildInfo{}, fmt.Errorf("directory: unknown guild %s", guildID)
	}
	for _, mem := range m.memberships[userID] {
		if mem.guildID == guildID {
			return permission.GuildInfo{OwnerID: g.ownerID, Roles: rolesHeld(g, mem.roleIDs)}, nil
		}
	}
	return permission.GuildInfo{OwnerID: g.ownerID}, nil
}

// GuildChannels implements permission.Directory: every guild channel currently
// registered for guildID.
func (m *Memory) GuildChannels(_ context.Context, guildID uuid.UUID) ([]permission.ChannelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chs := m.channels[guildID]
	infos := make([]permission.ChannelInfo, len(chs))
	for i, ch := range chs {
		infos[i] = permission.ChannelInfo{ID: ch.ID, Overwrites: ch.Overwrites}
	}
	return infos, nil
}

// Observers implements ObserverGraph: every other user sharing a guild or DM channel
// with userID, deduplicated. Presence fan-out uses this to decide who learns of
// userID's status change.
func (m *Memory) Observers(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[uuid.UUID]struct{}{}
	for _, mem := range m.memberships[userID] {
		for other, memberships := range m.memberships {
			if other == userID {
				continue
			}
			for _, om := range memberships {
				if om.guildID == mem.guildID {
					seen[other] = struct{}{}
				}
			}
		}
	}
	for _, ch := range m.dmChannels[userID] {
		for other, chs := range m.dmChannels {
			if other == userID {
				continue
			}
			for _, oc := range chs {
				if oc.ID == ch.ID {
					seen[other] = struct{}{}
				}
			}
		}
	}

	observers := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		observers = append(observers, id)
	}
	return observers, nil
}

func rolesHeld(g guildRecord, roleIDs []string) []protocol.Role {
	held := make([]protocol.Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		if r, ok := g.roles[id]; ok {
			held = append(held, r)
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].Position < held[j].Position })
	return held
}
