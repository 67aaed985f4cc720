package bot

import (
	"stirka/internal/booking"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	choicePrefix = "c:"
	cancelData   = "cancel"
)

// promptKeyboard lays out the options of p: days two per row, times three
// per row, machines one per row.
func (b *Bot) promptKeyboard(p *booking.Prompt) tgbotapi.InlineKeyboardMarkup {
	perRow := 1
	switch p.Step {
	case booking.StateAwaitingDay:
		perRow = 2
	case booking.StateAwaitingTime:
		perRow = 3
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(p.Options)/perRow+2)
	row := make([]tgbotapi.InlineKeyboardButton, 0, perRow)
	for _, opt := range p.Options {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.optionLabel(p.Step, opt), choicePrefix+opt.Token))
		if len(row) == perRow {
			rows = append(rows, row)
			row = make([]tgbotapi.InlineKeyboardButton, 0, perRow)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Отмена", cancelData),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) optionLabel(step booking.State, opt booking.Option) string {
	switch step {
	case booking.StateAwaitingDay:
		return dayLabel(opt.Date)
	case booking.StateAwaitingTime:
		return opt.Slot
	default:
		return b.machineLabel(opt.Machine)
	}
}
