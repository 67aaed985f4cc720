package bot

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"stirka/internal/booking"
	"stirka/internal/directory"
	"stirka/internal/model"
	"stirka/internal/repository"
	"stirka/internal/schedule"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTelegram struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	errs     []error
	nextID   int

	failCallbacks bool
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if _, ok := c.(tgbotapi.CallbackConfig); ok && f.failCallbacks {
		return nil, errors.New("query is too old")
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeTelegram) SelfUser() tgbotapi.User {
	return tgbotapi.User{UserName: "stirka_bot"}
}

func (f *fakeTelegram) last() tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeTelegram) lastText(t *testing.T) string {
	t.Helper()
	switch m := f.last().(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.EditMessageTextConfig:
		return m.Text
	default:
		t.Fatalf("unexpected chattable %T", m)
		return ""
	}
}

type fixture struct {
	bot   *Bot
	tg    *fakeTelegram
	store *schedule.Store
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	dir, err := directory.New([]directory.Entry{
		{UserID: 1, Name: "alice"},
		{UserID: 2, Name: "bob"},
	})
	require.NoError(t, err)

	store := schedule.NewStore(schedule.NewMemoryBackend(), &logger)
	engine := booking.NewEngine(store, dir, repository.NewMemoryFlowRepository(time.Hour), nil, time.UTC, &logger).
		WithClock(func() time.Time { return now })

	tg := &fakeTelegram{}
	b, err := NewWithTelegramClient(tg, engine, store, dir, Options{Admins: []int64{1}}, &logger)
	require.NoError(t, err)
	return &fixture{bot: b, tg: tg, store: store}
}

func (f *fixture) message(userID int64, text string) {
	f.bot.handleUpdate(context.Background(), &tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}})
}

func (f *fixture) click(userID int64, messageID int, data string) {
	f.bot.handleUpdate(context.Background(), &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: userID},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: userID},
		},
	}})
}

// button finds the callback data of the button labelled label.
func button(t *testing.T, markup any, label string) string {
	t.Helper()
	var kb tgbotapi.InlineKeyboardMarkup
	switch m := markup.(type) {
	case tgbotapi.InlineKeyboardMarkup:
		kb = m
	case *tgbotapi.InlineKeyboardMarkup:
		kb = *m
	default:
		t.Fatalf("no inline keyboard: %T", markup)
	}
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			if btn.Text == label {
				return *btn.CallbackData
			}
		}
	}
	t.Fatalf("button %q not found", label)
	return ""
}

func TestCommandParsing(t *testing.T) {
	assert.Equal(t, "book", command("/book"))
	assert.Equal(t, "запись", command("  /запись  "))
	assert.Equal(t, "schedule", command("/schedule@stirka_bot now"))
	assert.Equal(t, "", command("hello"))
}

func TestStartGreeting(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	f.message(1, "/start")
	assert.True(t, strings.HasPrefix(f.tg.lastText(t), "Здравствуйте, alice!"))

	f.message(99, "/start")
	assert.Equal(t, noAccessText, f.tg.lastText(t))
}

func TestBookThroughButtons(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	f.message(1, "/запись")
	days, ok := f.tg.last().(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "Выберите день:", days.Text)
	kb := days.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Len(t, kb.InlineKeyboard[0], 2, "days go two per row")
	promptID := f.tg.nextID

	f.click(1, promptID, button(t, days.ReplyMarkup, "Вторник, 02.01"))
	times, ok := f.tg.last().(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, "Вы выбрали 2024-01-02. Теперь выберите время:", times.Text)
	assert.Len(t, times.ReplyMarkup.InlineKeyboard[0], 3, "times go three per row")

	f.click(1, promptID, button(t, times.ReplyMarkup, "15:00"))
	machines := f.tg.last().(tgbotapi.EditMessageTextConfig)
	assert.Len(t, machines.ReplyMarkup.InlineKeyboard[0], 1, "machines go one per row")

	f.click(1, promptID, button(t, machines.ReplyMarkup, "Машинка ближе к двери"))
	assert.Equal(t, "Вы успешно записались на 2024-01-02 в 15:00.\nСтиральная машина: Машинка ближе к двери.", f.tg.lastText(t))

	assert.Equal(t, []model.Booking{{Date: "2024-01-02", TimeSlot: "15:00", Machine: model.MachineDoor, UserID: 1}}, f.store.List(ctx))

	f.message(1, "/book")
	assert.Equal(t, "Вы уже записаны на этой неделе. Вы не можете записаться повторно.", f.tg.lastText(t))
}

func TestStaleButtonReoffersPrompt(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	f.message(1, "/book")
	first := f.tg.last().(tgbotapi.MessageConfig)
	firstID := f.tg.nextID

	f.message(1, "/book")
	secondID := f.tg.nextID
	f.tg.mu.Lock()
	deleted := f.tg.requests[len(f.tg.requests)-1]
	f.tg.mu.Unlock()
	assert.Equal(t, tgbotapi.NewDeleteMessage(1, firstID), deleted, "superseded prompt is removed")

	f.click(1, firstID, button(t, first.ReplyMarkup, "Среда, 03.01"))
	edit := f.tg.last().(tgbotapi.EditMessageTextConfig)
	assert.True(t, strings.HasPrefix(edit.Text, userMessage(booking.ErrInvalidSelection)))
	assert.Contains(t, edit.Text, "Выберите день:")
	assert.NotEqual(t, secondID, edit.MessageID)
}

func TestRescheduleShowsCurrentBooking(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, f.store.Insert(context.Background(), model.Booking{Date: "2024-01-03", TimeSlot: "14:30", Machine: model.MachineWindow, UserID: 1}))

	f.message(1, "/перезапись")
	assert.Equal(t, "Ваша текущая запись: 2024-01-03 14:30, Машинка ближе к окну.\nВыберите новый день для перезаписи.", f.tg.lastText(t))

	f.message(2, "/reschedule")
	assert.Equal(t, userMessage(booking.ErrNoExistingBooking), f.tg.lastText(t))
}

func TestScheduleText(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	f.message(1, "/расписание")
	assert.Equal(t, "Расписание пусто.", f.tg.lastText(t))

	require.NoError(t, f.store.Insert(ctx, model.Booking{Date: "2024-01-03", TimeSlot: "14:30", Machine: model.MachineDoor, UserID: 2}))
	require.NoError(t, f.store.Insert(ctx, model.Booking{Date: "2024-01-02", TimeSlot: "16:00", Machine: model.MachineWindow, UserID: 1}))
	require.NoError(t, f.store.Insert(ctx, model.Booking{Date: "2024-01-02", TimeSlot: "15:00", Machine: model.MachineDoor, UserID: 77}))

	f.message(1, "/schedule")
	want := "Расписание стирок:\n" +
		"\nДата: 2024-01-02\n" +
		"- 15:00, Машинка ближе к двери: Неизвестный пользователь\n" +
		"- 16:00, Машинка ближе к окну: alice\n" +
		"\nДата: 2024-01-03\n" +
		"- 14:30, Машинка ближе к двери: bob\n"
	assert.Equal(t, want, f.tg.lastText(t))
}

func TestCancelFlow(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	f.message(1, "/cancel")
	assert.Equal(t, "Нечего отменять.", f.tg.lastText(t))

	f.message(1, "/book")
	days := f.tg.last().(tgbotapi.MessageConfig)
	promptID := f.tg.nextID
	f.click(1, promptID, cancelData)
	assert.Equal(t, "Выбор отменён.", f.tg.lastText(t))

	f.click(1, promptID, button(t, days.ReplyMarkup, "Вторник, 02.01"))
	assert.Equal(t, userMessage(booking.ErrInvalidSelection), f.tg.lastText(t))
}

func TestChoiceHandledWhenCallbackAnswerFails(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	f.tg.failCallbacks = true

	f.message(1, "/book")
	days := f.tg.last().(tgbotapi.MessageConfig)
	f.click(1, f.tg.nextID, button(t, days.ReplyMarkup, "Вторник, 02.01"))

	times, ok := f.tg.last().(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.NotEmpty(t, button(t, times.ReplyMarkup, "14:00"))
}

func TestExportIsAdminOnly(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, f.store.Insert(context.Background(), model.Booking{Date: "2024-01-02", TimeSlot: "15:00", Machine: model.MachineDoor, UserID: 2}))

	f.message(2, "/export")
	assert.Equal(t, "Команда доступна только администраторам.", f.tg.lastText(t))

	f.message(1, "/export")
	doc, ok := f.tg.last().(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, "Записей: 1", doc.Caption)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.NotEmpty(t, file.Bytes)
}

func TestMyBooking(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	f.message(1, "/my")
	assert.Equal(t, "У вас нет записи на этой неделе.", f.tg.lastText(t))

	require.NoError(t, f.store.Insert(context.Background(), model.Booking{Date: "2024-01-02", TimeSlot: "15:00", Machine: model.MachineDoor, UserID: 1}))
	f.message(1, "/my")
	assert.Equal(t, "Ваша запись: 2024-01-02 15:00 (вторник, 02.01), Машинка ближе к двери.", f.tg.lastText(t))
}

func TestMachineLabelOverride(t *testing.T) {
	logger := zerolog.New(io.Discard)
	b, err := NewWithTelegramClient(&fakeTelegram{}, nil, nil, nil, Options{
		MachineLabels: map[model.Machine]string{model.MachineDoor: "Левая"},
	}, &logger)
	require.NoError(t, err)
	assert.Equal(t, "Левая", b.machineLabel(model.MachineDoor))
	assert.Equal(t, "Машинка ближе к окну", b.machineLabel(model.MachineWindow))
}
