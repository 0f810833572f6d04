package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"rbw-core/internal/host"
	"rbw-core/internal/models"
)

var (
	textCaps  = []host.Capability{host.CapView, host.CapSend}
	voiceCaps = []host.Capability{host.CapView, host.CapConnect, host.CapSpeak}
)

// provision creates the match rooms. Every step is best-effort: a failed
// room leaves its ref empty and the match goes ahead.
func (b *Builder) provision(ctx context.Context, m *models.Match, players map[string]*models.Player, log zerolog.Logger) *models.MatchResources {
	res := &models.MatchResources{MatchID: m.ID, CreatedAt: m.CreatedAt}

	text := host.ChannelSpec{Name: "game-" + strings.ToLower(m.ID), Kind: host.ChannelText, Category: b.cfg.GamesCategory}
	for _, id := range m.Players() {
		text.Grants = append(text.Grants, host.Grant{PlayerID: id, Allow: textCaps})
	}
	ref, err := b.platform.CreateChannel(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("create text channel")
	}
	res.TextChannelRef = ref

	res.Team1VoiceRef = b.createVoice(ctx, m, 1, m.Team1, players, log)
	res.Team2VoiceRef = b.createVoice(ctx, m, 2, m.Team2, players, log)
	return res
}

func (b *Builder) createVoice(ctx context.Context, m *models.Match, team int, members []string, players map[string]*models.Player, log zerolog.Logger) string {
	spec := host.ChannelSpec{
		Name:     fmt.Sprintf("Game %s Team %d", m.ID, team),
		Kind:     host.ChannelVoice,
		Category: b.cfg.GamesCategory,
	}
	for _, id := range members {
		g := host.Grant{PlayerID: id, Allow: voiceCaps}
		if p, ok := players[id]; ok && p.Muted {
			g.Allow = []host.Capability{host.CapView, host.CapConnect}
			g.Deny = []host.Capability{host.CapSpeak}
		}
		spec.Grants = append(spec.Grants, g)
	}
	ref, err := b.platform.CreateChannel(ctx, spec)
	if err != nil {
		log.Warn().Err(err).Int("team", team).Msg("create voice channel")
		return ""
	}
	return ref
}

func (b *Builder) movePlayers(ctx context.Context, m *models.Match, res *models.MatchResources, log zerolog.Logger) {
	move := func(ref string, ids []string) {
		if ref == "" {
			return
		}
		for _, id := range ids {
			if err := b.platform.MoveToVoice(ctx, id, ref); err != nil {
				log.Warn().Err(err).Str("player_id", id).Msg("move to team voice")
			}
		}
	}
	move(res.Team1VoiceRef, m.Team1)
	move(res.Team2VoiceRef, m.Team2)
}
