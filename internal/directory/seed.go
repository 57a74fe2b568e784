package directory

import (
	"encoding/json"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/google/uuid"
)

// SeedDevelopment populates m with one guild, two members, a DM channel, and the
// everyone/admin roles — enough state for a local run or an integration test to
// establish a session against. cmd/gateway seeds its in-memory directory with it at
// startup.
func SeedDevelopment(m *Memory) (owner, member uuid.UUID, err error) {
	owner, member = uuid.New(), uuid.New()

	ownerProfile, ownerHash, err := seedUserProfile(owner, "owner", "correct horse battery staple")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	memberProfile, memberHash, err := seedUserProfile(member, "member", "hunter2-but-better")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	m.PutUser(owner, ownerProfile)
	m.PutUser(member, memberProfile)
	m.PutPasswordHash(owner, ownerHash)
	m.PutPasswordHash(member, memberHash)
	m.PutRelationships(owner, json.RawMessage("[]"))
	m.PutRelationships(member, json.RawMessage("[]"))

	everyone := protocol.Role{ID: "everyone", Position: 0, Permissions: protocol.PermissionViewChannel}
	admin := protocol.Role{ID: "admin", Position: 1, Permissions: protocol.PermissionViewChannel}

	guildID := uuid.New()
	m.PutGuild(guildID, owner, []protocol.Role{everyone, admin})
	m.AddMember(owner, guildID, []string{everyone.ID, admin.ID})
	m.AddMember(member, guildID, []string{everyone.ID})

	general := uuid.New()
	m.PutChannel(protocol.ChannelRef{ID: general, Kind: protocol.ChannelKindGuild, GuildID: &guildID})
	staff := uuid.New()
	m.PutChannel(protocol.ChannelRef{
		ID: staff, Kind: protocol.ChannelKindGuild, GuildID: &guildID,
		Overwrites: []protocol.Overwrite{{ID: everyone.ID, Deny: protocol.PermissionViewChannel}},
	})

	dm := uuid.New()
	m.PutDMChannel(protocol.ChannelRef{ID: dm, Kind: protocol.ChannelKindDM}, owner, member)

	return owner, member, nil
}

// seedUserProfile hashes password with the teacher's argon2id parameters, returning
// the opaque "user" blob Ready embeds verbatim and the hash separately for
// PutPasswordHash — the profile blob is client-visible and must never carry a
// credential.
func seedUserProfile(id uuid.UUID, username, password string) (profile json.RawMessage, hash string, err error) {
	params := &argon2id.Params{
		Memory:      argon2Memory,
		Iterations:  argon2Iterations,
		Parallelism: argon2Parallelism,
		SaltLength:  argon2SaltLen,
		KeyLength:   argon2KeyLen,
	}
	hash, err = argon2id.CreateHash(password, params)
	if err != nil {
		return nil, "", fmt.Errorf("directory: seed hash password: %w", err)
	}

	blob, err := json.Marshal(struct {
		ID       uuid.UUID `json:"id"`
		Username string    `json:"username"`
	}{ID: id, Username: username})
	if err != nil {
		return nil, "", fmt.Errorf("directory: seed marshal user: %w", err)
	}
	return blob, hash, nil
}
