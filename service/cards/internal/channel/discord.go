package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// DiscordAPI e' il sottoinsieme di *discordgo.Session usato dal provisioner.
type DiscordAPI interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreate(guildID, name string, ctype discordgo.ChannelType, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordProvisioner crea categoria e canali privati sul server Discord.
type DiscordProvisioner struct {
	api DiscordAPI
	// Serializza EnsureCategory per non creare due categorie "Trading".
	mu sync.Mutex
}

func NewDiscordProvisioner(api DiscordAPI) *DiscordProvisioner {
	return &DiscordProvisioner{api: api}
}

// EnsureCategory cerca la categoria per nome e la crea se manca.
func (p *DiscordProvisioner) EnsureCategory(ctx context.Context, guildID, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	channels, err := p.api.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("list guild channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && ch.Name == name {
			return ch.ID, nil
		}
	}
	category, err := p.api.GuildChannelCreate(guildID, name, discordgo.ChannelTypeGuildCategory, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create category %q: %w", name, err)
	}
	return category.ID, nil
}

// CreateChannel crea un canale testuale visibile solo ai membri indicati.
func (p *DiscordProvisioner) CreateChannel(ctx context.Context, req Request) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		// @everyone ha lo stesso id del server.
		{ID: req.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
	}
	for _, member := range req.Members {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    member,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages,
		})
	}

	ch, err := p.api.GuildChannelCreateComplex(req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             req.CategoryID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create trade channel: %w", err)
	}
	return ch.ID, nil
}

func (p *DiscordProvisioner) DeleteChannel(ctx context.Context, ref string) error {
	if _, err := p.api.ChannelDelete(ref, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete trade channel: %w", err)
	}
	return nil
}

// NotifyStale avvisa nel canale quali carte non sono piu' disponibili.
func (p *DiscordProvisioner) NotifyStale(ctx context.Context, ref string, notice StaleNotice) error {
	users := make([]string, 0, len(notice.Missing))
	for userID := range notice.Missing {
		users = append(users, userID)
	}
	sort.Strings(users)

	var b strings.Builder
	b.WriteString("Trade not completed, some offered cards are no longer available:")
	for _, userID := range users {
		ids := make([]string, 0, len(notice.Missing[userID]))
		for _, id := range notice.Missing[userID] {
			ids = append(ids, "`"+id.String()+"`")
		}
		fmt.Fprintf(&b, "\n<@%s>: %s", userID, strings.Join(ids, ", "))
	}
	b.WriteString("\nBoth parties must accept again.")

	if _, err := p.api.ChannelMessageSend(ref, b.String(), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send stale notice: %w", err)
	}
	return nil
}
