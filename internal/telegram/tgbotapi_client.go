package telegram

import (
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers a single chat message.
type Sender interface {
	SendMessage(chatID int64, text, parseMode string) error
}

// TGBotAPIClient adapts tgbotapi.BotAPI to Sender. The bot is created on
// first use since NewBotAPI calls getMe.
type TGBotAPIClient struct {
	token    string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTGBotAPIClient creates a client for token. client may be nil.
func NewTGBotAPIClient(token string, client *http.Client) *TGBotAPIClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &TGBotAPIClient{
		token:    token,
		endpoint: tgbotapi.APIEndpoint,
		client:   client,
	}
}

func (c *TGBotAPIClient) api() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot != nil {
		return c.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(c.token, c.endpoint, c.client)
	if err != nil {
		return nil, err
	}
	c.bot = bot
	return bot, nil
}

// SendMessage sends text to chatID.
func (c *TGBotAPIClient) SendMessage(chatID int64, text, parseMode string) error {
	bot, err := c.api()
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true
	_, err = bot.Send(msg)
	return err
}

var _ Sender = (*TGBotAPIClient)(nil)
