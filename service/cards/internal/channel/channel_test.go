package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

// fakeDiscord simula le chiamate REST di discordgo.
type fakeDiscord struct {
	channels      []*discordgo.Channel
	createdData   []discordgo.GuildChannelCreateData
	categoryCalls int
	deleted       []string
	messages      map[string][]string
	listErr       error
}

func (f *fakeDiscord) GuildChannels(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels, f.listErr
}

func (f *fakeDiscord) GuildChannelCreate(guildID, name string, ctype discordgo.ChannelType, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.categoryCalls++
	ch := &discordgo.Channel{ID: "cat-" + name, GuildID: guildID, Name: name, Type: ctype}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeDiscord) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.createdData = append(f.createdData, data)
	return &discordgo.Channel{ID: "chan-" + data.Name, GuildID: guildID, Name: data.Name, Type: data.Type}, nil
}

func (f *fakeDiscord) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.deleted = append(f.deleted, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.messages == nil {
		f.messages = map[string][]string{}
	}
	f.messages[channelID] = append(f.messages[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

// La categoria viene creata una sola volta e poi riusata.
func TestDiscordEnsureCategoryCreatesOnce(t *testing.T) {
	api := &fakeDiscord{}
	p := NewDiscordProvisioner(api)
	ctx := context.Background()

	first, err := p.EnsureCategory(ctx, "g1", "Trading")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.EnsureCategory(ctx, "g1", "Trading")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected same category, got %q and %q", first, second)
	}
	if api.categoryCalls != 1 {
		t.Fatalf("expected one category creation, got %d", api.categoryCalls)
	}
}

// Un canale testuale con lo stesso nome non e' una categoria.
func TestDiscordEnsureCategoryIgnoresTextChannels(t *testing.T) {
	api := &fakeDiscord{channels: []*discordgo.Channel{{ID: "t1", Name: "Trading", Type: discordgo.ChannelTypeGuildText}}}
	p := NewDiscordProvisioner(api)

	id, err := p.EnsureCategory(context.Background(), "g1", "Trading")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "t1" || api.categoryCalls != 1 {
		t.Fatalf("expected a new category, got %q", id)
	}
}

func TestDiscordEnsureCategoryListError(t *testing.T) {
	p := NewDiscordProvisioner(&fakeDiscord{listErr: errors.New("403")})
	if _, err := p.EnsureCategory(context.Background(), "g1", "Trading"); err == nil {
		t.Fatalf("expected error")
	}
}

// Il canale nega la vista a @everyone e la concede ai due membri.
func TestDiscordCreateChannelPermissions(t *testing.T) {
	api := &fakeDiscord{}
	p := NewDiscordProvisioner(api)

	ref, err := p.CreateChannel(context.Background(), Request{GuildID: "g1", CategoryID: "cat", Name: "trade-1", Members: []string{"u1", "u2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "chan-trade-1" {
		t.Fatalf("unexpected ref %q", ref)
	}
	data := api.createdData[0]
	if data.ParentID != "cat" || data.Type != discordgo.ChannelTypeGuildText {
		t.Fatalf("unexpected create data: %+v", data)
	}
	if len(data.PermissionOverwrites) != 3 {
		t.Fatalf("expected 3 overwrites, got %d", len(data.PermissionOverwrites))
	}
	everyone := data.PermissionOverwrites[0]
	if everyone.ID != "g1" || everyone.Deny&discordgo.PermissionViewChannel == 0 {
		t.Fatalf("expected @everyone denied, got %+v", everyone)
	}
	for _, ow := range data.PermissionOverwrites[1:] {
		if ow.Type != discordgo.PermissionOverwriteTypeMember || ow.Allow&discordgo.PermissionSendMessages == 0 {
			t.Fatalf("expected member allowed to send, got %+v", ow)
		}
	}
}

func TestDiscordDeleteAndNotify(t *testing.T) {
	api := &fakeDiscord{}
	p := NewDiscordProvisioner(api)
	ctx := context.Background()
	cardID := uuid.New()

	err := p.NotifyStale(ctx, "chan-1", StaleNotice{Missing: map[string][]uuid.UUID{"u1": {cardID}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := api.messages["chan-1"][0]
	if !strings.Contains(msg, "<@u1>") || !strings.Contains(msg, cardID.String()) {
		t.Fatalf("unexpected notice %q", msg)
	}

	if err := p.DeleteChannel(ctx, "chan-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "chan-1" {
		t.Fatalf("expected chan-1 deleted, got %v", api.deleted)
	}
}

func TestLocalProvisionerLifecycle(t *testing.T) {
	p := NewLocalProvisioner()
	ctx := context.Background()

	cat1, _ := p.EnsureCategory(ctx, "g1", "Trading")
	cat2, _ := p.EnsureCategory(ctx, "g1", "Trading")
	if cat1 != cat2 || p.Categories() != 1 {
		t.Fatalf("expected a single category")
	}

	ref, err := p.CreateChannel(ctx, Request{GuildID: "g1", CategoryID: cat1, Name: "trade-x", Members: []string{"u1", "u2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req, ok := p.Channel(ref)
	if !ok || len(req.Members) != 2 {
		t.Fatalf("expected channel with 2 members, got %+v", req)
	}

	if err := p.NotifyStale(ctx, ref, StaleNotice{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Notices(ref)) != 1 {
		t.Fatalf("expected one notice")
	}

	if err := p.DeleteChannel(ctx, ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.DeleteChannel(ctx, ref); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}
