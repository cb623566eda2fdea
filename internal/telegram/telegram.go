// Package telegram is the chat transport: it delivers watch notifications
// and handles the conversational flows for adding, pricing, and managing
// watches.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"pricewatch/internal/client"
	"pricewatch/internal/misc"
	"pricewatch/internal/model"
	"pricewatch/internal/pricesource"
	"pricewatch/internal/store"
	"pricewatch/internal/watcher"
)

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type Client struct {
	Store  *store.Store
	API    client.Client
	Prices pricesource.Source
	Logger logger

	bot *bot.Bot

	mu sync.Mutex
	// productID awaiting free-text input, per chat
	pendingThreshold map[int64]string
	pendingRename    map[int64]string
}

func New(token string, st *store.Store, api client.Client, prices pricesource.Source, l logger) (*Client, error) {
	c := &Client{
		Store:            st,
		API:              api,
		Prices:           prices,
		Logger:           l,
		pendingThreshold: map[int64]string{},
		pendingRename:    map[int64]string{},
	}
	b, err := bot.New(token, bot.WithDefaultHandler(c.handle))
	if err != nil {
		return nil, err
	}
	c.bot = b
	return c, nil
}

// Start long-polls for updates until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	c.bot.Start(ctx)
}

// Notify implements watcher.Notifier.
func (c *Client) Notify(ctx context.Context, n watcher.Notification) error {
	name := n.Name
	if name == "" {
		name = "Prodotto " + n.ProductID
	}

	var head string
	switch n.Kind {
	case model.NotificationNearThreshold:
		head = "📉 <b>Quasi in soglia!</b>"
	default:
		head = "🎉 <b>Prezzo sotto soglia!</b>"
	}
	text := fmt.Sprintf("%s\n<b>%s</b>\n💶 Ora a <b>€%s</b> (soglia €%s)\n➡️ %s",
		head, name, n.Price.StringFixed(2), n.Threshold.StringFixed(2), c.API.AffiliateLink(n.ProductID))

	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      n.ChatID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: c.kbProductActions(n.ProductID),
	})
	return err
}

func (c *Client) handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if text == "/start" || text == "/home" {
		c.sendHome(ctx, chatID)
		return
	}

	c.mu.Lock()
	thrProduct, waitingThr := c.pendingThreshold[chatID]
	renProduct, waitingRen := c.pendingRename[chatID]
	delete(c.pendingThreshold, chatID)
	delete(c.pendingRename, chatID)
	c.mu.Unlock()

	switch {
	case waitingThr:
		c.applyThresholdInput(ctx, chatID, thrProduct, text)
	case waitingRen:
		if err := c.Store.Rename(chatID, renProduct, misc.StringLimit(text, 60)); err != nil {
			c.Logger.Errorf("handleMessage: Error renaming product: %s for chat: %d, err: %v", renProduct, chatID, err)
			c.sendText(ctx, chatID, "⚠️ Non sono riuscito a rinominare il prodotto.")
			return
		}
		c.sendProductCard(ctx, chatID, renProduct)
	default:
		c.handleProductInput(ctx, chatID, text)
	}
}

// handleProductInput is the paste-a-link flow: extract the ASIN, make sure a
// watch exists (reusing a name any other chat already gave the product),
// and reply with the price card.
func (c *Client) handleProductInput(ctx context.Context, chatID int64, text string) {
	asin, productURL, ok := c.API.ExtractASIN(ctx, text)
	if !ok {
		c.sendText(ctx, chatID, "Inviami un link Amazon (o un ASIN) per iniziare a seguire un prodotto. 🙂")
		return
	}

	name := c.Store.FindNameForProduct(asin)
	if name == "" {
		name = c.API.ProductName(ctx, asin, productURL)
	}
	if _, err := c.Store.Upsert(chatID, asin, name); err != nil {
		c.Logger.Errorf("handleProductInput: Error upserting watch for chat: %d, product: %s, err: %v", chatID, asin, err)
	}
	c.sendProductCard(ctx, chatID, asin)
}

func (c *Client) applyThresholdInput(ctx context.Context, chatID int64, productID string, text string) {
	raw := strings.TrimPrefix(strings.ReplaceAll(text, ",", "."), "€")
	threshold, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || threshold.Sign() < 0 {
		c.sendText(ctx, chatID, "Non ho capito la soglia, scrivi un prezzo tipo <b>49.90</b>.")
		return
	}
	c.setThreshold(ctx, chatID, productID, threshold.Round(2))
}

func (c *Client) setThreshold(ctx context.Context, chatID int64, productID string, threshold decimal.Decimal) {
	if err := c.Store.SetThreshold(chatID, productID, threshold); err != nil {
		c.Logger.Errorf("setThreshold: Error for chat: %d, product: %s, err: %v", chatID, productID, err)
		c.sendText(ctx, chatID, "⚠️ Non sono riuscito a salvare la soglia.")
		return
	}
	c.sendText(ctx, chatID, fmt.Sprintf("✅ Soglia impostata a <b>€%s</b>. Ti avviso quando il prezzo la raggiunge.",
		threshold.StringFixed(2)))
}

func (c *Client) handleCallback(ctx context.Context, q *models.CallbackQuery) {
	if _, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: q.ID}); err != nil {
		c.Logger.Debugf("handleCallback: Error answering callback query: %s, err: %v", q.ID, err)
	}
	if q.Message.Message == nil {
		c.Logger.Warnf("handleCallback: Callback %q without an accessible message", q.Data)
		return
	}
	chatID := q.Message.Message.Chat.ID

	action, arg, _ := strings.Cut(q.Data, ":")
	switch action {
	case "home":
		c.sendHome(ctx, chatID)
	case "add":
		c.sendText(ctx, chatID, "Incolla un link Amazon (va bene anche un link corto amzn.to) o un ASIN.")
	case "list":
		c.sendWatchList(ctx, chatID)
	case "help":
		c.sendText(ctx, chatID,
			"Incolla un link Amazon per seguire un prodotto, poi imposta una soglia: "+
				"ti avviso appena il prezzo scende fin lì. Usa 📋 per rivedere i tuoi prodotti.")
	case "prod":
		c.sendProductCard(ctx, chatID, arg)
	case "thr":
		c.mu.Lock()
		c.pendingThreshold[chatID] = arg
		c.mu.Unlock()
		c.sendText(ctx, chatID, "Scrivimi la soglia in euro, ad esempio <b>49.90</b>.")
	case "ren":
		c.mu.Lock()
		c.pendingRename[chatID] = arg
		c.mu.Unlock()
		c.sendText(ctx, chatID, "Scrivimi il nuovo nome del prodotto.")
	case "del":
		if err := c.Store.Remove(chatID, arg); err != nil {
			c.Logger.Errorf("handleCallback: Error removing product: %s for chat: %d, err: %v", arg, chatID, err)
		}
		c.sendText(ctx, chatID, "🗑️ Prodotto eliminato.")
	case "sug":
		c.sendSuggestedThresholds(ctx, chatID, arg)
	case "set":
		productID, rawPrice, ok := strings.Cut(arg, ":")
		if !ok {
			c.Logger.Warnf("handleCallback: Malformed set callback: %q", q.Data)
			return
		}
		threshold, err := decimal.NewFromString(rawPrice)
		if err != nil {
			c.Logger.Warnf("handleCallback: Bad price in set callback: %q, err: %v", q.Data, err)
			return
		}
		c.setThreshold(ctx, chatID, productID, threshold)
	default:
		c.Logger.Debugf("handleCallback: Unknown callback: %q from chat: %d", q.Data, chatID)
	}
}

func (c *Client) sendHome(ctx context.Context, chatID int64) {
	kb := &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: "➕ Aggiungi prodotto", CallbackData: "add"}},
		{{Text: "📋 I miei prodotti", CallbackData: "list"}},
		{{Text: "ℹ️ Aiuto", CallbackData: "help"}},
	}}
	c.send(ctx, chatID, "👋 <b>Benvenuto!</b>\nTengo d'occhio i prezzi Amazon per te.", kb)
}

func (c *Client) kbProductActions(productID string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: "🛒 Acquista su Amazon", URL: c.API.AffiliateLink(productID)}},
		{{Text: "➕ Imposta soglia", CallbackData: "thr:" + productID}},
		{{Text: "🎯 Soglie consigliate", CallbackData: "sug:" + productID}},
		{{Text: "✍️ Rinomina", CallbackData: "ren:" + productID}},
		{{Text: "🗑️ Elimina", CallbackData: "del:" + productID}},
		{{Text: "🏠 Home", CallbackData: "home"}},
	}}
}

func (c *Client) sendProductCard(ctx context.Context, chatID int64, productID string) {
	name := c.Store.FindNameForProduct(productID)
	if w, ok := c.Store.Get(chatID, productID); ok && w.Name != "" {
		name = w.Name
	}
	if name == "" {
		name = "Prodotto " + productID
	}

	text := fmt.Sprintf("🛒 <b>%s</b>\n\n", name)
	snap, err := c.Prices.PriceData(ctx, productID)
	if err != nil {
		c.Logger.Warnf("sendProductCard: Price data unavailable for product: %s, err: %v", productID, err)
		text += "💶 Prezzo al momento non disponibile, riprova tra poco.\n"
	} else {
		text += fmt.Sprintf("💶 Prezzo attuale: <b>€%s</b>\n", snap.Current.StringFixed(2))
		if snap.Lowest90 != nil {
			text += fmt.Sprintf("📉 Minimo 90 giorni: <b>€%s</b>\n", snap.Lowest90.StringFixed(2))
		}
		if snap.Average90 != nil {
			text += fmt.Sprintf("📊 Media 90 giorni: <b>€%s</b>\n", snap.Average90.StringFixed(2))
		}
	}
	if w, ok := c.Store.Get(chatID, productID); ok && w.Threshold != nil {
		text += fmt.Sprintf("\n🔔 Soglia attiva: <b>€%s</b>\n", w.Threshold.StringFixed(2))
	}

	c.send(ctx, chatID, text, c.kbProductActions(productID))
}

// sendSuggestedThresholds offers three ready-made thresholds: -5%, -10%,
// and near the 90-day low.
func (c *Client) sendSuggestedThresholds(ctx context.Context, chatID int64, productID string) {
	snap, err := c.Prices.PriceData(ctx, productID)
	if err != nil {
		c.Logger.Warnf("sendSuggestedThresholds: Price data unavailable for product: %s, err: %v", productID, err)
		c.sendText(ctx, chatID, "⚠️ Prezzi non disponibili al momento, riprova tra poco.")
		return
	}

	s1 := snap.Current.Mul(decimal.NewFromFloat(0.95)).Round(2)
	s2 := snap.Current.Mul(decimal.NewFromFloat(0.90)).Round(2)
	s3 := snap.Current.Mul(decimal.NewFromFloat(0.88)).Round(2)
	if snap.Lowest90 != nil && snap.Lowest90.GreaterThan(s3) {
		s3 = snap.Lowest90.Round(2)
	}

	rows := [][]models.InlineKeyboardButton{
		{{Text: "−5% → €" + s1.StringFixed(2), CallbackData: fmt.Sprintf("set:%s:%s", productID, s1)}},
		{{Text: "−10% → €" + s2.StringFixed(2), CallbackData: fmt.Sprintf("set:%s:%s", productID, s2)}},
		{{Text: "Vicino al minimo → €" + s3.StringFixed(2), CallbackData: fmt.Sprintf("set:%s:%s", productID, s3)}},
		{{Text: "⬅️ Indietro", CallbackData: "prod:" + productID}},
	}
	c.send(ctx, chatID, "🎯 Scegli una soglia:", &models.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (c *Client) sendWatchList(ctx context.Context, chatID int64) {
	ws := c.Store.WatchesFor(chatID)
	if len(ws) == 0 {
		c.sendText(ctx, chatID, "Non stai ancora seguendo nessun prodotto. Incolla un link Amazon per iniziare!")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>I miei prodotti</b>\n\n")
	var rows [][]models.InlineKeyboardButton
	for _, w := range ws {
		name := w.Name
		if name == "" {
			name = "Prodotto " + w.ProductID
		}

		priceTxt := "—"
		if snap, err := c.Prices.PriceData(ctx, w.ProductID); err == nil {
			priceTxt = "€" + snap.Current.StringFixed(2)
		}
		thrTxt := "—"
		if w.Threshold != nil {
			thrTxt = "€" + w.Threshold.StringFixed(2)
		}
		sb.WriteString(fmt.Sprintf("• <b>%s</b>\n  Prezzo: <b>%s</b> · Soglia: <b>%s</b>\n", name, priceTxt, thrTxt))
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: misc.StringLimit(name, 30), CallbackData: "prod:" + w.ProductID},
		})
	}
	rows = append(rows, []models.InlineKeyboardButton{{Text: "🏠 Home", CallbackData: "home"}})

	c.send(ctx, chatID, sb.String(), &models.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (c *Client) sendText(ctx context.Context, chatID int64, text string) {
	c.send(ctx, chatID, text, nil)
}

func (c *Client) send(ctx context.Context, chatID int64, text string, kb *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if kb != nil {
		params.ReplyMarkup = kb
	}
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		c.Logger.Errorf("send: Error sending message to chat: %d, err: %v", chatID, err)
	}
}
