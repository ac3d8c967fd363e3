package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"checkpointfeed/internal/models"
)

const (
	discordPrefix   = "discord:"
	discordMaxLimit = 100
)

type discordAPI interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// DiscordSource reads channel history over the Discord REST API. Channels
// are configured as "discord:<channel id>".
type DiscordSource struct {
	Token  string
	Logger *zap.Logger

	mu  sync.Mutex
	api discordAPI
}

func NewDiscordSource(token string, logger *zap.Logger) *DiscordSource {
	return &DiscordSource{Token: token, Logger: logger}
}

func (s *DiscordSource) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api != nil {
		return nil
	}
	sess, err := discordgo.New("Bot " + s.Token)
	if err != nil {
		return fmt.Errorf("%w: discord: %v", ErrAuthentication, err)
	}
	return s.authenticateWith(ctx, sess)
}

func (s *DiscordSource) authenticateWith(ctx context.Context, api discordAPI) error {
	me, err := api.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: discord: %v", ErrAuthentication, err)
	}
	s.api = api
	if s.Logger != nil {
		s.Logger.Info("discord bot authenticated", zap.String("username", me.Username))
	}
	return nil
}

func (s *DiscordSource) client() (discordAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil, ErrNotStarted
	}
	return s.api, nil
}

func (s *DiscordSource) FetchRecent(ctx context.Context, channel string, limit int) ([]models.RawMessage, error) {
	api, err := s.client()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, channel, err)
	}
	if limit <= 0 || limit > discordMaxLimit {
		limit = discordMaxLimit
	}
	id := strings.TrimPrefix(channel, discordPrefix)
	msgs, err := api.ChannelMessages(id, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, channel, err)
	}
	out := make([]models.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := fromDiscord(m)
		if !ok {
			continue
		}
		raw.ChannelID = channel
		out = append(out, raw)
	}
	return out, nil
}

func fromDiscord(m *discordgo.Message) (models.RawMessage, bool) {
	if m == nil {
		return models.RawMessage{}, false
	}
	id, err := strconv.ParseInt(m.ID, 10, 64)
	if err != nil || id <= 0 {
		return models.RawMessage{}, false
	}
	return models.RawMessage{
		MessageID: id,
		Text:      m.Content,
		Date:      m.Timestamp.UTC(),
		HasMedia:  len(m.Attachments) > 0 || len(m.Embeds) > 0,
	}, true
}

func (s *DiscordSource) Probe(ctx context.Context, channel string) error {
	api, err := s.client()
	if err != nil {
		return err
	}
	if _, err := api.Channel(strings.TrimPrefix(channel, discordPrefix), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord channel %s: %w", channel, err)
	}
	return nil
}

func (s *DiscordSource) Healthy() bool {
	_, err := s.client()
	return err == nil
}

func (s *DiscordSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = nil
	return nil
}
