package directory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/google/uuid"
)

func TestSeedDevelopmentOwnerOwnsGuildAndHoldsBothRoles(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	owner, _, err := SeedDevelopment(m)
	if err != nil {
		t.Fatalf("SeedDevelopment() error = %v", err)
	}

	guilds, err := m.Guilds(context.Background(), owner)
	if err != nil {
		t.Fatalf("Guilds() error = %v", err)
	}
	if len(guilds) != 1 {
		t.Fatalf("expected 1 guild, got %d", len(guilds))
	}
	if guilds[0].OwnerID != owner {
		t.Error("expected the seeded guild to be owned by the owner user")
	}
	if len(guilds[0].Roles) != 2 {
		t.Errorf("expected owner to hold both roles, got %d", len(guilds[0].Roles))
	}
}

func TestSeedDevelopmentMemberHoldsOnlyEveryoneRole(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_, member, err := SeedDevelopment(m)
	if err != nil {
		t.Fatalf("SeedDevelopment() error = %v", err)
	}

	guilds, err := m.Guilds(context.Background(), member)
	if err != nil {
		t.Fatalf("Guilds() error = %v", err)
	}
	if len(guilds) != 1 || len(guilds[0].Roles) != 1 {
		t.Fatalf("expected member to hold exactly one role, got %+v", guilds)
	}
	if guilds[0].Roles[0].ID != "everyone" {
		t.Errorf("expected the everyone role, got %q", guilds[0].Roles[0].ID)
	}
}

func TestGuildChannelsIncludesStaffOverwrite(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_, member, err := SeedDevelopment(m)
	if err != nil {
		t.Fatalf("SeedDevelopment() error = %v", err)
	}

	guilds, err := m.Guilds(context.Background(), member)
	if err != nil {
		t.Fatalf("Guilds() error = %v", err)
	}
	channels, err := m.GuildChannels(context.Background(), guilds[0].ID)
	if err != nil {
		t.Fatalf("GuildChannels() error = %v", err)
	}

	var sawOverwrite bool
	for _, ch := range channels {
		if len(ch.Overwrites) > 0 {
			sawOverwrite = true
		}
	}
	if !sawOverwrite {
		t.Error("expected the staff channel's everyone-deny overwrite to be present")
	}
}

func TestObserversSharesGuildAndDM(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	owner, member, err := SeedDevelopment(m)
	if err != nil {
		t.Fatalf("SeedDevelopment() error = %v", err)
	}

	observers, err := m.Observers(context.Background(), owner)
	if err != nil {
		t.Fatalf("Observers() error = %v", err)
	}
	if len(observers) != 1 || observers[0] != member {
		t.Errorf("expected owner's only observer to be member, got %v", observers)
	}
}

func TestReadyPayloadUnknownUserErrors(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_, _, _, _, err := m.ReadyPayload(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected an error for an unseeded user")
	}
}

func TestReadyPayloadRoundTripsGuildsAsJSON(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	owner, _, err := SeedDevelopment(m)
	if err != nil {
		t.Fatalf("SeedDevelopment() error = %v", err)
	}

	_, guildsJSON, dmJSON, relJSON, err := m.ReadyPayload(context.Background(), owner)
	if err != nil {
		t.Fatalf("ReadyPayload() error = %v", err)
	}

	var guilds []protocol.GuildRef
	if err := json.Unmarshal(guildsJSON, &guilds); err != nil {
		t.Fatalf("unmarshal guilds: %v", err)
	}
	if len(guilds) != 1 {
		t.Errorf("expected 1 guild in the Ready payload, got %d", len(guilds))
	}

	var dm []protocol.ChannelRef
	if err := json.Unmarshal(dmJSON, &dm); err != nil {
		t.Fatalf("unmarshal dm channels: %v", err)
	}
	if len(dm) != 1 {
		t.Errorf("expected 1 dm channel in the Ready payload, got %d", len(dm))
	}

	var rel []json.RawMessage
	if err := json.Unmarshal(relJSON, &rel); err != nil {
		t.Fatalf("unmarshal relationships: %v", err)
	}
}

func TestVerifyPasswordMatchesSeededHash(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	owner, _, err := SeedDevelopment(m)
	if err != nil {
		t.Fatalf("SeedDevelopment() error = %v", err)
	}

	ok, err := m.VerifyPassword(owner, "correct horse battery staple")
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("expected the seeded password to verify")
	}

	ok, err = m.VerifyPassword(owner, "wrong password")
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if ok {
		t.Error("expected a wrong password not to verify")
	}
}

func TestVerifyPasswordUnknownUser(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ok, err := m.VerifyPassword(uuid.New(), "anything")
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if ok {
		t.Error("expected an unknown user never to verify")
	}
}
