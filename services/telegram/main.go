// Package telegram delivers alerts to a telegram chat and relays replies
// back into queries, so the hub can be nudged from a phone.
package telegram

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
	"github.com/tanodd/hearth/util"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Service telegram
type Service struct {
	bot sender
}

func (self *Service) ID() string {
	return "telegram"
}

func (self *Service) sendMessage(ev *pubsub.Event, remote int) {
	if filename, ok := ev.Fields["filename"].(string); ok {
		log.Printf("Sending telegram picture: %s", filename)
		msg := tgbotapi.NewPhoto(services.Config.Telegram.Chat_id, tgbotapi.FilePath(filename))
		msg.Caption = ev.StringField("message")
		if remote != 0 {
			msg.ReplyToMessageID = remote
		}
		self.bot.Send(msg)
	} else if message, ok := ev.Fields["message"].(string); ok {
		log.Printf("Sending telegram message: %s", message)
		msg := tgbotapi.NewMessage(services.Config.Telegram.Chat_id, message)
		if remote != 0 {
			msg.ReplyToMessageID = remote
		}
		self.bot.Send(msg)
	}
}

func rewriteTelegramCommands(s string) string {
	// Rewrite "/telegram_command ..." -> "telegram/command ..."
	s = strings.TrimLeft(s, "/")
	i := strings.Index(s, " ")
	if i == -1 {
		i = len(s)
	}
	return strings.Replace(s[:i], "_", "/", -1) + s[i:]
}

func (self *Service) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil {
		return
	}

	if services.Config.Telegram.Chat_id == update.Message.Chat.ID {
		remote := fmt.Sprint(update.Message.MessageID)
		text := rewriteTelegramCommands(update.Message.Text)
		services.SendQuery(text, "telegram", remote, "alert")
	} else {
		text := fmt.Sprintf("This is chat %d, configure this under telegram chat_id.", update.Message.Chat.ID)
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, text)
		self.bot.Send(msg)
	}
}

// parseRemind understands "10m put the oven on" or "sun 7pm bins out",
// returning when to deliver and the reminder text.
func parseRemind(now time.Time, args string) (time.Time, string, error) {
	parts := strings.SplitN(args, " ", 3)
	if len(parts) >= 2 {
		if at, err := util.ParseRelative(now, parts[0]+" "+parts[1]); err == nil {
			return at, strings.Join(parts[2:], " "), nil
		}
	}
	if len(parts) >= 1 && parts[0] != "" {
		if at, err := util.ParseRelative(now, parts[0]); err == nil {
			return at, strings.Join(parts[1:], " "), nil
		}
	}
	return time.Time{}, "", fmt.Errorf("when is %q?", args)
}

func (self *Service) queryRemind(q services.Question) string {
	at, message, err := parseRemind(time.Now(), q.Args)
	if err != nil {
		return "Sorry, didn't understand when that reminder is for."
	}
	if message == "" {
		message = "Reminder!"
	}
	time.AfterFunc(time.Until(at), func() {
		services.SendAlert(message, "telegram", "", 0)
	})
	return fmt.Sprintf("Reminder set for %s", at.Format("Mon Jan 2 15:04"))
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"remind": services.TextHandler(self.queryRemind),
		"help":   services.StaticHandler("remind: deliver a reminder later (remind 10m tea)"),
	}
}

func (self *Service) Run() error {
	bot, err := tgbotapi.NewBotAPI(services.Config.Telegram.Token)
	if err != nil {
		log.Fatalln(err)
	}

	self.bot = bot

	go func() {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60

		updates := bot.GetUpdatesChan(u)

		for update := range updates {
			self.handleUpdate(update)
		}
	}()

	events := services.Subscriber.Subscribe(pubsub.Prefix("alert"))
	for ev := range events {
		if ev.Target() == "telegram" {
			remote := ev.StringField("remote")
			i, _ := strconv.Atoi(remote)
			self.sendMessage(ev, i)
		}
	}
	return nil
}
