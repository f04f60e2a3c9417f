package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	tele "gopkg.in/telebot.v4"
	"urlshortener/internal/service"
)

const requestTimeout = 5 * time.Second

// UserRegistry is implemented by backends that keep a users table. Links
// created through the bot are attached to the sender when it is available.
type UserRegistry interface {
	CreateUser(ctx context.Context, telegramID int64) error
	GetUserIDByTelegramID(ctx context.Context, telegramID int64) (int64, error)
}

type TelegramBot struct {
	tgBot     *tele.Bot
	shortener *service.Shortener
	users     UserRegistry
	baseURL   string
}

func NewTelegramBot(tgToken, baseURL string, shortener *service.Shortener, users UserRegistry) (*TelegramBot, error) {
	pref := tele.Settings{
		Token:  tgToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	bot, err := tele.NewBot(pref)
	if err != nil {
		slog.Error("failed to initialize telegram bot", "error", err)
		return nil, err
	}

	b := &TelegramBot{
		tgBot:     bot,
		shortener: shortener,
		users:     users,
		baseURL:   baseURL,
	}

	return b, nil
}

func (b *TelegramBot) Start(ctx context.Context) error {
	slog.Info("Telegram bot started", "bot_username", b.tgBot.Me.Username)

	b.tgBot.Handle("/start", b.handleStart)
	b.tgBot.Handle("/stats", b.handleStats)
	b.tgBot.Handle("/search", b.handleSearch)
	b.tgBot.Handle(tele.OnText, b.handleMessage)

	go func() {
		<-ctx.Done()
		slog.Info("Telegram bot shutting down")
		b.tgBot.Stop()
	}()

	b.tgBot.Start()
	return nil
}

func (b *TelegramBot) handleStart(c tele.Context) error {
	slog.Debug("command /start received", "user_id", c.Sender().ID)
	if b.users != nil {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := b.users.CreateUser(ctx, c.Sender().ID); err != nil {
			slog.Error("failed to create user", "user_id", c.Sender().ID, "error", err)
			return c.Send("Не вдалося зареєструвати користувача, спробуйте пізніше.")
		}
	}
	return c.Send("Привіт! Я допоможу тобі скоротити довге посилання. Просто надішліть його мені.\n" +
		"/stats <код> покаже статистику, /search <посилання> знайде вже створений код.")
}

// ownerID returns the internal user id of the sender, registering them on
// first use. Links are still created without an owner if this fails.
func (b *TelegramBot) ownerID(ctx context.Context, telegramID int64) *int64 {
	if b.users == nil {
		return nil
	}
	if err := b.users.CreateUser(ctx, telegramID); err != nil {
		slog.Warn("failed to register user", "user_id", telegramID, "error", err)
		return nil
	}
	id, err := b.users.GetUserIDByTelegramID(ctx, telegramID)
	if err != nil {
		slog.Warn("failed to look up user", "user_id", telegramID, "error", err)
		return nil
	}
	return &id
}

func (b *TelegramBot) handleMessage(c tele.Context) error {
	newLink := strings.TrimSpace(c.Text())
	if err := service.ValidateOriginalURL(newLink); err != nil {
		slog.Warn("invalid url received", "url", newLink, "error", err)
		return c.Send("Посилання повинно починатися з http:// або https:// і містити домен.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	link, err := b.shortener.Create(ctx, service.CreateRequest{
		OriginalURL: newLink,
		OwnerID:     b.ownerID(ctx, c.Sender().ID),
	})
	if errors.Is(err, service.ErrDuplicateOriginalURL) {
		code, searchErr := b.shortener.SearchByOriginalURL(ctx, newLink)
		if searchErr == nil {
			return c.Send("Це посилання вже скорочене:\n" + service.ShortURL(b.baseURL, code))
		}
		err = searchErr
	}
	if err != nil {
		slog.Error("failed to create short link", "error", err)
		return c.Send("Помилка при створенні посилання. Спробуйте ще раз")
	}

	shortLink := service.ShortURL(b.baseURL, link.ShortCode)
	caption := "Ось ваше нове скорочене посилання:\n" + shortLink

	png, err := qrcode.Encode(shortLink, qrcode.Medium, 256)
	if err != nil {
		slog.Warn("failed to render qr code", "error", err)
		return c.Send(caption)
	}
	return c.Send(&tele.Photo{File: tele.FromReader(bytes.NewReader(png)), Caption: caption})
}

func (b *TelegramBot) handleStats(c tele.Context) error {
	code := strings.TrimSpace(c.Message().Payload)
	if code == "" {
		return c.Send("Використання: /stats <код>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	stats, err := b.shortener.Stats(ctx, code)
	if errors.Is(err, service.ErrNotFound) {
		return c.Send("Посилання не знайдено.")
	}
	if err != nil {
		slog.Error("failed to load stats", "short_code", code, "error", err)
		return c.Send("Не вдалося отримати статистику. Спробуйте ще раз")
	}

	return c.Send(fmt.Sprintf("%s\nПереходів: %d\nДіє до: %s",
		stats.OriginalURL, stats.VisitCount, stats.ExpiresAt.Format("2006-01-02 15:04 MST")))
}

func (b *TelegramBot) handleSearch(c tele.Context) error {
	query := strings.TrimSpace(c.Message().Payload)
	if query == "" {
		return c.Send("Використання: /search <посилання>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	code, err := b.shortener.SearchByOriginalURL(ctx, query)
	if errors.Is(err, service.ErrNotFound) {
		return c.Send("Для цього посилання ще немає короткого коду.")
	}
	if err != nil {
		slog.Error("failed to search link", "url", query, "error", err)
		return c.Send("Помилка пошуку. Спробуйте ще раз")
	}
	return c.Send(service.ShortURL(b.baseURL, code))
}
