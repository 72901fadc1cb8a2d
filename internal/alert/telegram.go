package alert

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

type telegramSender struct {
	bot *tele.Bot
}

// dialTelegram builds a send-only bot; no poller is attached.
func dialTelegram(token string) (sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b}, nil
}

func (t *telegramSender) send(ctx context.Context, chatID int64, text string) error {
	_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
