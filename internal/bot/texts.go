package bot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stirka/internal/booking"
	"stirka/internal/model"
	"stirka/internal/schedule"
)

// DefaultMachineLabels are the names users know the machines by.
var DefaultMachineLabels = map[model.Machine]string{
	model.MachineWindow: "Машинка ближе к окну",
	model.MachineDoor:   "Машинка ближе к двери",
}

const (
	unknownUser  = "Неизвестный пользователь"
	noAccessText = "Извините, у вас нет доступа к стиральной машине."
	helpText     = "/запись - записаться на стирку\n" +
		"/перезапись - перенести свою запись\n" +
		"/расписание - посмотреть расписание\n" +
		"/my - моя запись\n" +
		"/cancel - отменить выбор"
)

var weekdays = [...]string{"Воскресенье", "Понедельник", "Вторник", "Среда", "Четверг", "Пятница", "Суббота"}

// userMessage turns a flow error into the text shown to the user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, booking.ErrUnauthorized):
		return "У вас нет доступа к стиральной машине."
	case errors.Is(err, booking.ErrAlreadyBooked):
		return "Вы уже записаны на этой неделе. Вы не можете записаться повторно."
	case errors.Is(err, booking.ErrNoExistingBooking):
		return "У вас нет записи на этой неделе. Вы не можете выполнить перезапись."
	case errors.Is(err, booking.ErrInvalidSelection):
		return "Эта кнопка больше не действует. Выберите вариант из последнего сообщения."
	case errors.Is(err, booking.ErrSlotNoLongerAvailable):
		return "Это время уже недоступно. Выберите день заново."
	case errors.Is(err, booking.ErrMachineNoLongerAvailable):
		return "Эту машинку только что заняли. Выберите время заново."
	case errors.Is(err, booking.ErrNoSlots):
		return "На выбранный день больше нет доступного времени."
	case errors.Is(err, booking.ErrNoMachines):
		return "На это время обе стиральные машины уже заняты."
	case errors.Is(err, schedule.ErrStoreUnavailable):
		return "Не удалось сохранить запись. Попробуйте ещё раз."
	default:
		return "Произошла ошибка. Попробуйте позже."
	}
}

func (b *Bot) machineLabel(m model.Machine) string {
	if label, ok := b.labels[m]; ok {
		return label
	}
	return fmt.Sprintf("Машинка %d", m)
}

func dayLabel(date string) string {
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%s, %s", weekdays[d.Weekday()], d.Format("02.01"))
}

func (b *Bot) promptText(p *booking.Prompt) string {
	switch p.Step {
	case booking.StateAwaitingDay:
		if p.Kind == booking.KindReschedule && p.Current != nil {
			return fmt.Sprintf("Ваша текущая запись: %s %s, %s.\nВыберите новый день для перезаписи.",
				p.Current.Date, p.Current.TimeSlot, b.machineLabel(p.Current.Machine))
		}
		return "Выберите день:"
	case booking.StateAwaitingTime:
		return fmt.Sprintf("Вы выбрали %s. Теперь выберите время:", p.Date)
	case booking.StateAwaitingMachine:
		return fmt.Sprintf("Вы выбрали %s в %s. Выберите стиральную машину:", p.Date, p.Slot)
	default:
		return ""
	}
}

func (b *Bot) committedText(out *booking.Outcome) string {
	c := out.Committed
	if out.Previous != nil {
		return fmt.Sprintf("Ваша запись успешно изменена на %s в %s.\nСтиральная машина: %s.",
			c.Date, c.TimeSlot, b.machineLabel(c.Machine))
	}
	return fmt.Sprintf("Вы успешно записались на %s в %s.\nСтиральная машина: %s.",
		c.Date, c.TimeSlot, b.machineLabel(c.Machine))
}

func (b *Bot) bookingText(bk *model.Booking) string {
	return fmt.Sprintf("Ваша запись: %s %s (%s), %s.",
		bk.Date, bk.TimeSlot, strings.ToLower(dayLabel(bk.Date)), b.machineLabel(bk.Machine))
}

func (b *Bot) scheduleText(bookings []model.Booking) string {
	if len(bookings) == 0 {
		return "Расписание пусто."
	}
	sorted := append([]model.Booking(nil), bookings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date < sorted[j].Date
		}
		if sorted[i].TimeSlot != sorted[j].TimeSlot {
			return sorted[i].TimeSlot < sorted[j].TimeSlot
		}
		return sorted[i].Machine < sorted[j].Machine
	})

	var sb strings.Builder
	sb.WriteString("Расписание стирок:\n")
	date := ""
	for _, bk := range sorted {
		if bk.Date != date {
			date = bk.Date
			fmt.Fprintf(&sb, "\nДата: %s\n", date)
		}
		name, ok := b.dir.Lookup(bk.UserID)
		if !ok || name == "" {
			name = unknownUser
		}
		fmt.Fprintf(&sb, "- %s, %s: %s\n", bk.TimeSlot, b.machineLabel(bk.Machine), name)
	}
	return sb.String()
}

func reminderText(b model.Booking, minutesLeft int, machine string) string {
	return fmt.Sprintf("Напоминание: у вас стирка через %d минут.\nДата: %s, время: %s, %s.",
		minutesLeft, b.Date, b.TimeSlot, machine)
}
