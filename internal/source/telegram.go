package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"checkpointfeed/internal/models"
)

// telegramAPI is the part of the Bot API the source uses.
type telegramAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	GetUpdates(ctx context.Context, params *telego.GetUpdatesParams) ([]telego.Update, error)
	GetChat(ctx context.Context, params *telego.GetChatParams) (*telego.ChatFullInfo, error)
}

// telegramBatch is the getUpdates page size; Telegram caps it at 100.
const telegramBatch = 100

// TelegramSource pulls channel posts with getUpdates on every FetchRecent.
// Telegram drops an update only once getUpdates is called with a higher
// offset, so the source keeps asking from the committed offset until Commit
// moves it. Updates fetched but never committed are served again after a
// restart. The bot must be a member of every channel it reads.
type TelegramSource struct {
	Token      string
	BufferSize int
	Logger     *zap.Logger

	mu        sync.Mutex
	api       telegramAPI
	watched   map[string]struct{}
	buf       *recentBuffer
	committed int64
	pending   int64
	lastErr   error
}

func NewTelegramSource(token string, channels []string, bufferSize int, logger *zap.Logger) *TelegramSource {
	s := &TelegramSource{
		Token:      token,
		BufferSize: bufferSize,
		Logger:     logger,
		watched:    map[string]struct{}{},
		buf:        newRecentBuffer(bufferSize),
	}
	for _, ch := range channels {
		if k := TelegramKey(ch); k != "" {
			s.watched[k] = struct{}{}
		}
	}
	return s
}

// TelegramKey reduces a channel link, @name or numeric id to a lookup key.
func TelegramKey(channel string) string {
	c := strings.ToLower(strings.TrimSpace(channel))
	for _, p := range []string{"https://", "http://"} {
		c = strings.TrimPrefix(c, p)
	}
	for _, p := range []string{"t.me/", "telegram.me/", "www.t.me/"} {
		c = strings.TrimPrefix(c, p)
	}
	c = strings.TrimRight(c, "/")
	return strings.TrimPrefix(c, "@")
}

func (s *TelegramSource) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	ready := s.api != nil
	s.mu.Unlock()
	if ready {
		return nil
	}
	bot, err := telego.NewBot(s.Token, telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("%w: telegram: %v", ErrAuthentication, err)
	}
	return s.authenticateWith(ctx, bot)
}

func (s *TelegramSource) authenticateWith(ctx context.Context, api telegramAPI) error {
	me, err := api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("%w: telegram get me: %v", ErrAuthentication, err)
	}
	s.mu.Lock()
	s.api = api
	s.mu.Unlock()
	if s.Logger != nil {
		s.Logger.Info("telegram bot authenticated", zap.String("username", me.Username), zap.Int("channels", len(s.watched)))
	}
	return nil
}

// pull reads pending updates from the committed offset without confirming
// anything past it.
func (s *TelegramSource) pull(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return ErrNotStarted
	}
	params := &telego.GetUpdatesParams{
		Limit:          telegramBatch,
		AllowedUpdates: []string{"channel_post"},
	}
	if s.committed > 0 {
		params.Offset = int(s.committed)
	}
	updates, err := s.api.GetUpdates(ctx, params)
	s.lastErr = err
	if err != nil {
		return err
	}
	for _, u := range updates {
		if next := int64(u.UpdateID) + 1; next > s.pending {
			s.pending = next
		}
		s.handleUpdate(u)
	}
	return nil
}

func (s *TelegramSource) handleUpdate(u telego.Update) {
	if u.ChannelPost == nil {
		return
	}
	key, ok := s.resolve(u.ChannelPost.Chat)
	if !ok {
		return
	}
	s.buf.add(key, fromTelegram(u.ChannelPost))
}

func (s *TelegramSource) resolve(chat telego.Chat) (string, bool) {
	if chat.Username != "" {
		k := strings.ToLower(chat.Username)
		if _, ok := s.watched[k]; ok {
			return k, true
		}
	}
	k := strconv.FormatInt(chat.ID, 10)
	if _, ok := s.watched[k]; ok {
		return k, true
	}
	return "", false
}

func fromTelegram(m *telego.Message) models.RawMessage {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	hasMedia := len(m.Photo) > 0 || m.Video != nil || m.Document != nil ||
		m.Animation != nil || m.Voice != nil || m.Audio != nil || m.Sticker != nil
	return models.RawMessage{
		MessageID: int64(m.MessageID),
		Text:      text,
		Date:      time.Unix(m.Date, 0).UTC(),
		HasMedia:  hasMedia,
	}
}

func (s *TelegramSource) FetchRecent(ctx context.Context, channel string, limit int) ([]models.RawMessage, error) {
	key := TelegramKey(channel)
	if _, ok := s.watched[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	if err := s.pull(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, channel, err)
	}
	msgs := s.buf.recent(key, limit)
	for i := range msgs {
		msgs[i].ChannelID = channel
	}
	return msgs, nil
}

// Position is the offset that confirms every update fetched so far.
func (s *TelegramSource) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending < s.committed {
		return s.committed
	}
	return s.pending
}

// Commit marks updates below pos as stored. Telegram discards them on the
// next pull. Lower values are ignored.
func (s *TelegramSource) Commit(pos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos > s.committed {
		s.committed = pos
	}
}

// Probe checks that the bot can see the channel.
func (s *TelegramSource) Probe(ctx context.Context, channel string) error {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()
	if api == nil {
		return ErrNotStarted
	}
	key := TelegramKey(channel)
	id := telego.ChatID{Username: "@" + key}
	if n, err := strconv.ParseInt(key, 10, 64); err == nil {
		id = telego.ChatID{ID: n}
	}
	if _, err := api.GetChat(ctx, &telego.GetChatParams{ChatID: id}); err != nil {
		return fmt.Errorf("telegram get chat %s: %w", channel, err)
	}
	return nil
}

func (s *TelegramSource) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api != nil && s.lastErr == nil
}

func (s *TelegramSource) Close() error {
	s.mu.Lock()
	s.api = nil
	s.mu.Unlock()
	return nil
}
