// Package bot is the Telegram front end of the booking engine.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stirka/internal/booking"
	"stirka/internal/export"
	"stirka/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// Engine runs booking dialogues.
type Engine interface {
	StartBooking(ctx context.Context, userID int64) (*booking.Prompt, error)
	StartReschedule(ctx context.Context, userID int64) (*booking.Prompt, error)
	Choose(ctx context.Context, userID int64, token string) (*booking.Outcome, error)
	Cancel(ctx context.Context, userID int64) bool
}

type Schedule interface {
	List(ctx context.Context) []model.Booking
	FindByUser(ctx context.Context, userID int64) (*model.Booking, bool)
}

type Directory interface {
	Lookup(userID int64) (string, bool)
	Authorized(userID int64) bool
}

type Options struct {
	MachineLabels map[model.Machine]string
	Admins        []int64
	Notifications NotifierConfig
	Debug         bool
}

// Bot routes Telegram updates to the booking engine.
type Bot struct {
	tg       telegramClient
	engine   Engine
	schedule Schedule
	dir      Directory
	labels   map[model.Machine]string
	admins   map[int64]struct{}
	notifier *Notifier
	prompts  *promptTracker
	logger   *zerolog.Logger
}

func New(token string, engine Engine, schedule Schedule, dir Directory, opts Options, logger *zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = opts.Debug
	return newBot(&realTelegramClient{api: api}, engine, schedule, dir, opts, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, engine Engine, schedule Schedule, dir Directory, opts Options, logger *zerolog.Logger) (*Bot, error) {
	return newBot(tg, engine, schedule, dir, opts, logger)
}

func newBot(tg telegramClient, engine Engine, schedule Schedule, dir Directory, opts Options, logger *zerolog.Logger) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	labels := make(map[model.Machine]string, len(DefaultMachineLabels))
	for m, l := range DefaultMachineLabels {
		labels[m] = l
	}
	for m, l := range opts.MachineLabels {
		if strings.TrimSpace(l) != "" {
			labels[m] = l
		}
	}
	admins := make(map[int64]struct{}, len(opts.Admins))
	for _, id := range opts.Admins {
		admins[id] = struct{}{}
	}

	b := &Bot{
		tg:       tg,
		engine:   engine,
		schedule: schedule,
		dir:      dir,
		labels:   labels,
		admins:   admins,
		prompts:  &promptTracker{ids: make(map[int64]int)},
		logger:   logger,
	}
	b.notifier = newNotifier(tg, opts.Notifications, b.machineLabel, logger)
	return b, nil
}

// Notifier sends background messages through the same Telegram client.
func (b *Bot) Notifier() *Notifier {
	return b.notifier
}

// MachineLabels returns the effective machine names.
func (b *Bot) MachineLabels() map[model.Machine]string {
	out := make(map[model.Machine]string, len(b.labels))
	for m, l := range b.labels {
		out[m] = l
	}
	return out
}

// Start polls updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("bot authorized")

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			b.handleUpdate(l.WithContext(ctx), &update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("Handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.From != nil {
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("Handling message")
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	cmd := command(msg.Text)
	if cmd == "" {
		return
	}
	chatID, userID := msg.Chat.ID, msg.From.ID

	switch cmd {
	case "start":
		b.handleStart(chatID, userID)
	case "help":
		b.reply(chatID, "Доступные команды:\n"+helpText)
	case "book", "запись":
		b.startFlow(ctx, chatID, userID, b.engine.StartBooking)
	case "reschedule", "перезапись":
		b.startFlow(ctx, chatID, userID, b.engine.StartReschedule)
	case "schedule", "расписание":
		b.handleSchedule(ctx, chatID, userID)
	case "my":
		b.handleMy(ctx, chatID, userID)
	case "cancel":
		b.handleCancel(ctx, chatID, userID)
	case "export":
		b.handleExport(ctx, chatID, userID)
	default:
		b.reply(chatID, "Неизвестная команда. Доступные команды:\n"+helpText)
	}
}

// command extracts the command name from "/name@bot args".
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

func (b *Bot) handleStart(chatID, userID int64) {
	name, ok := b.dir.Lookup(userID)
	if !ok {
		b.reply(chatID, noAccessText)
		return
	}
	b.reply(chatID, fmt.Sprintf("Здравствуйте, %s! Выберите команду:\n%s", name, helpText))
}

func (b *Bot) startFlow(ctx context.Context, chatID, userID int64, start func(context.Context, int64) (*booking.Prompt, error)) {
	prompt, err := start(ctx, userID)
	if err != nil {
		b.logFlowError(ctx, userID, err)
		b.reply(chatID, userMessage(err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, b.promptText(prompt))
	msg.ReplyMarkup = b.promptKeyboard(prompt)
	sent, err := b.tg.Send(msg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("failed to send prompt")
		return
	}
	if prev, ok := b.prompts.swap(userID, sent.MessageID); ok {
		b.deleteMessage(chatID, prev)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if err := b.answerCallback(cq.ID); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("callback_id", cq.ID).Msg("failed to answer callback")
	}
	if cq.Message == nil || cq.From == nil {
		return
	}
	chatID, userID, messageID := cq.Message.Chat.ID, cq.From.ID, cq.Message.MessageID

	switch data := cq.Data; {
	case data == cancelData:
		b.engine.Cancel(ctx, userID)
		b.prompts.forget(userID, messageID)
		b.edit(chatID, messageID, "Выбор отменён.", nil)
	case strings.HasPrefix(data, choicePrefix):
		b.handleChoice(ctx, chatID, userID, messageID, strings.TrimPrefix(data, choicePrefix))
	}
}

func (b *Bot) handleChoice(ctx context.Context, chatID, userID int64, messageID int, token string) {
	out, err := b.engine.Choose(ctx, userID, token)
	if err != nil {
		b.logFlowError(ctx, userID, err)
	}

	switch {
	case err == nil && out.Committed != nil:
		b.prompts.forget(userID, messageID)
		b.edit(chatID, messageID, b.committedText(out), nil)
		zerolog.Ctx(ctx).Info().
			Int64("user_id", userID).
			Str("date", out.Committed.Date).
			Str("slot", out.Committed.TimeSlot).
			Int("machine", int(out.Committed.Machine)).
			Msg("booking committed")
	case out != nil && out.Prompt != nil:
		text := b.promptText(out.Prompt)
		if err != nil {
			text = userMessage(err) + "\n\n" + text
		}
		kb := b.promptKeyboard(out.Prompt)
		b.edit(chatID, messageID, text, &kb)
		if prev, ok := b.prompts.swap(userID, messageID); ok {
			b.deleteMessage(chatID, prev)
		}
	default:
		b.prompts.forget(userID, messageID)
		b.edit(chatID, messageID, userMessage(err), nil)
	}
}

func (b *Bot) handleSchedule(ctx context.Context, chatID, userID int64) {
	if !b.dir.Authorized(userID) {
		b.reply(chatID, noAccessText)
		return
	}
	b.reply(chatID, b.scheduleText(b.schedule.List(ctx)))
}

func (b *Bot) handleMy(ctx context.Context, chatID, userID int64) {
	if !b.dir.Authorized(userID) {
		b.reply(chatID, noAccessText)
		return
	}
	bk, ok := b.schedule.FindByUser(ctx, userID)
	if !ok {
		b.reply(chatID, "У вас нет записи на этой неделе.")
		return
	}
	b.reply(chatID, b.bookingText(bk))
}

func (b *Bot) handleCancel(ctx context.Context, chatID, userID int64) {
	if !b.engine.Cancel(ctx, userID) {
		b.reply(chatID, "Нечего отменять.")
		return
	}
	if prev, ok := b.prompts.take(userID); ok {
		b.deleteMessage(chatID, prev)
	}
	b.reply(chatID, "Выбор отменён.")
}

func (b *Bot) handleExport(ctx context.Context, chatID, userID int64) {
	if !b.isAdmin(userID) {
		b.reply(chatID, "Команда доступна только администраторам.")
		return
	}
	wb, err := export.NewWorkbook(b.schedule.List(ctx), b.dir, b.labels)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to build export")
		b.reply(chatID, userMessage(err))
		return
	}
	defer wb.Close()

	data, err := wb.Bytes()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode export")
		b.reply(chatID, userMessage(err))
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("schedule_%s.xlsx", time.Now().Format("2006-01-02")),
		Bytes: data,
	})
	doc.Caption = fmt.Sprintf("Записей: %d", wb.Rows())
	if _, err := b.tg.Send(doc); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to send export")
	}
}

func (b *Bot) logFlowError(ctx context.Context, userID int64, err error) {
	l := zerolog.Ctx(ctx)
	ev := l.Debug()
	if !isFlowError(err) {
		ev = l.Error()
	}
	ev.Err(err).Int64("user_id", userID).Msg("flow step rejected")
}

func isFlowError(err error) bool {
	for _, target := range []error{
		booking.ErrUnauthorized, booking.ErrAlreadyBooked, booking.ErrNoExistingBooking,
		booking.ErrInvalidSelection, booking.ErrSlotNoLongerAvailable,
		booking.ErrMachineNoLongerAvailable, booking.ErrNoSlots, booking.ErrNoMachines,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (b *Bot) isAdmin(id int64) bool {
	_, ok := b.admins[id]
	return ok
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	var cfg tgbotapi.EditMessageTextConfig
	if kb != nil {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *kb)
	} else {
		cfg = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	if _, err := b.tg.Send(cfg); err != nil {
		b.logger.Debug().Err(err).Int("message_id", messageID).Msg("failed to edit message")
	}
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.tg.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Debug().Err(err).Int("message_id", messageID).Msg("failed to delete message")
	}
}

func (b *Bot) answerCallback(id string) error {
	_, err := b.tg.Request(tgbotapi.NewCallback(id, ""))
	return err
}

// promptTracker remembers the live prompt message of each user so that a
// superseded prompt can be removed from the chat.
type promptTracker struct {
	mu  sync.Mutex
	ids map[int64]int
}

func (p *promptTracker) swap(userID int64, messageID int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.ids[userID]
	p.ids[userID] = messageID
	return prev, ok && prev != messageID
}

func (p *promptTracker) take(userID int64) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.ids[userID]
	delete(p.ids, userID)
	return prev, ok
}

// forget drops the tracked prompt if it is messageID.
func (p *promptTracker) forget(userID int64, messageID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ids[userID] == messageID {
		delete(p.ids, userID)
	}
}
