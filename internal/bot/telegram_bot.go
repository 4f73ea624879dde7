package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/catalog"
	"tablecrm-orders-go/internal/config"
	"tablecrm-orders-go/internal/debounce"
	"tablecrm-orders-go/internal/models"
	"tablecrm-orders-go/internal/session"
)

const listLimit = 10

// Messenger is the subset of the Telegram API used by the bot
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramOrderBot represents Telegram front-end for TableCRM orders
type TelegramOrderBot struct {
	config    *config.Config
	api       *tgbotapi.BotAPI
	bot       Messenger
	sessions  *session.Manager
	debouncer *debounce.Debouncer
	logger    *logrus.Logger
}

// NewTelegramOrderBot creates a new Telegram order bot
func NewTelegramOrderBot(cfg *config.Config, sessions *session.Manager, logger *logrus.Logger) (*TelegramOrderBot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b := newBot(cfg, api, sessions, logger)
	b.api = api
	return b, nil
}

func newBot(cfg *config.Config, messenger Messenger, sessions *session.Manager, logger *logrus.Logger) *TelegramOrderBot {
	return &TelegramOrderBot{
		config:    cfg,
		bot:       messenger,
		sessions:  sessions,
		debouncer: debounce.New(cfg.SearchDebounce),
		logger:    logger,
	}
}

// Run receives updates until ctx is cancelled
func (b *TelegramOrderBot) Run(ctx context.Context) error {
	b.logger.Info("Starting Telegram bot...")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleUpdate(ctx, update)
			}
		}
	}
}

func sessionKey(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// handleUpdate handles incoming updates
func (b *TelegramOrderBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("Panic in handleUpdate: %v", r)
		}
	}()

	// From is nil for channel posts and anonymous group admins
	if update.Message.From == nil || !b.config.IsAuthorizedUser(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "❌ У вас нет доступа к этому боту.\nОбратитесь к администратору для получения доступа.")
		return
	}

	if update.Message.IsCommand() {
		b.handleCommand(ctx, update)
	} else {
		b.handleText(ctx, update)
	}
}

// handleCommand handles bot commands
func (b *TelegramOrderBot) handleCommand(ctx context.Context, update tgbotapi.Update) {
	chatID := update.Message.Chat.ID
	args := strings.TrimSpace(update.Message.CommandArguments())

	switch update.Message.Command() {
	case "start":
		b.handleStartCommand(chatID)
	case "help":
		b.handleHelpCommand(chatID)
	case "login":
		b.handleLoginCommand(ctx, update, args)
	case "logout":
		b.handleLogoutCommand(ctx, chatID)
	case "status":
		b.handleStatusCommand(ctx, chatID)
	case "clients":
		b.withSession(ctx, chatID, func(s *session.Session) { b.searchClients(ctx, chatID, s, args) })
	case "products":
		b.withSession(ctx, chatID, func(s *session.Session) { b.searchProducts(ctx, chatID, s, args) })
	case "orders":
		b.withSession(ctx, chatID, func(s *session.Session) { b.listOrders(ctx, chatID, s, args) })
	case "categories":
		b.withSession(ctx, chatID, func(s *session.Session) { b.listCategories(ctx, chatID, s, args) })
	default:
		b.reply(chatID, "❓ Неизвестная команда. Используйте /help для получения справки.")
	}
}

// handleStartCommand handles /start command
func (b *TelegramOrderBot) handleStartCommand(chatID int64) {
	b.reply(chatID, `🤖 Добро пожаловать в бот заказов TableCRM!

📋 Что я умею:
• Искать клиентов по телефону и имени
• Искать товары из истории заказов и по категориям
• Показывать последние заказы

🔑 Для начала отправьте /login <токен API TableCRM>

ℹ️ Используйте /help для получения дополнительной информации.`)
}

// handleHelpCommand handles /help command
func (b *TelegramOrderBot) handleHelpCommand(chatID int64) {
	b.reply(chatID, `📖 Справка по использованию бота

🔧 Доступные команды:
/start - Начать работу с ботом
/help - Показать эту справку
/login <токен> - Войти с токеном API TableCRM
/logout - Выйти и забыть токен
/status - Проверить подключение к TableCRM
/clients <запрос> - Найти клиента по телефону или имени
/products <запрос> - Найти товар по названию, артикулу или SKU
/orders [all|active|completed] - Последние заказы
/categories [запрос] - Категории товаров

💬 Любой другой текст ищется среди клиентов.`)
}

// handleLoginCommand verifies the token and opens a session for the chat
func (b *TelegramOrderBot) handleLoginCommand(ctx context.Context, update tgbotapi.Update, token string) {
	chatID := update.Message.Chat.ID

	// The message carries the token; remove it from the chat history
	if _, err := b.bot.Request(tgbotapi.NewDeleteMessage(chatID, update.Message.MessageID)); err != nil {
		b.logger.Debugf("Failed to delete login message: %v", err)
	}

	if token == "" {
		b.reply(chatID, "🔑 Использование: /login <токен API TableCRM>")
		return
	}

	if _, err := b.sessions.Login(ctx, sessionKey(chatID), token); err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			b.reply(chatID, "❌ Неверный токен TableCRM. Проверьте токен и попробуйте снова.")
			return
		}
		b.logger.Errorf("Login error for chat %d: %v", chatID, err)
		b.reply(chatID, "❌ Не удалось выполнить вход. Попробуйте позже.")
		return
	}
	b.reply(chatID, "✅ Вход выполнен. Отправьте номер телефона или имя клиента для поиска.")
}

func (b *TelegramOrderBot) handleLogoutCommand(ctx context.Context, chatID int64) {
	b.debouncer.Cancel(sessionKey(chatID))
	if err := b.sessions.Logout(ctx, sessionKey(chatID)); err != nil {
		b.logger.Errorf("Logout error for chat %d: %v", chatID, err)
		b.reply(chatID, "❌ Не удалось выйти. Попробуйте позже.")
		return
	}
	b.reply(chatID, "👋 Вы вышли из TableCRM.")
}

// handleStatusCommand handles /status command
func (b *TelegramOrderBot) handleStatusCommand(ctx context.Context, chatID int64) {
	sess, err := b.sessions.Restore(ctx, sessionKey(chatID))
	if err != nil {
		b.reply(chatID, "⚠️ Вход не выполнен. Используйте /login <токен>.")
		return
	}

	sentMsg, err := b.bot.Send(tgbotapi.NewMessage(chatID, "🔄 Проверяю подключение к TableCRM..."))
	if err != nil {
		b.logger.Errorf("Failed to send status message: %v", err)
		return
	}

	var resultMessage string
	if sess.Processor.CheckConnection(ctx) {
		resultMessage = fmt.Sprintf(`✅ Статус системы: Все работает!

🔐 TableCRM API: Доступен
👥 Клиенты в кэше: %s
📦 Товаров в кэше: %d
🤖 Telegram бот: Активен`, boolToEmoji(sess.Clients.Loaded()), sess.Products.Len())
	} else {
		resultMessage = `⚠️ Статус системы: Есть проблемы

❌ TableCRM API: Недоступен
🤖 Telegram бот: Активен

💡 Рекомендации:
• Проверьте токен TableCRM API
• Выполните /login заново`
	}

	b.bot.Send(tgbotapi.NewEditMessageText(chatID, sentMsg.MessageID, resultMessage))
}

// handleText runs a debounced client search for free text
func (b *TelegramOrderBot) handleText(ctx context.Context, update tgbotapi.Update) {
	chatID := update.Message.Chat.ID
	query := strings.TrimSpace(update.Message.Text)
	if query == "" {
		return
	}
	b.debouncer.Trigger(sessionKey(chatID), func() {
		b.withSession(ctx, chatID, func(s *session.Session) { b.searchClients(ctx, chatID, s, query) })
	})
}

func (b *TelegramOrderBot) withSession(ctx context.Context, chatID int64, fn func(s *session.Session)) {
	sess, err := b.sessions.Restore(ctx, sessionKey(chatID))
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			b.logger.Errorf("Failed to restore session for chat %d: %v", chatID, err)
		}
		b.reply(chatID, "🔑 Сначала выполните вход: /login <токен API TableCRM>")
		return
	}
	fn(sess)
}

func (b *TelegramOrderBot) searchClients(ctx context.Context, chatID int64, s *session.Session, query string) {
	if query == "" {
		b.reply(chatID, "🔎 Использование: /clients <телефон или имя>")
		return
	}
	clients := s.Clients.Search(ctx, query)
	if len(clients) == 0 {
		placeholder := s.Clients.Placeholder(query)
		if strings.ContainsAny(query, "0123456789") {
			s.EditDraft(func(o *models.Order) error {
				o.Client = &placeholder
				return nil
			})
			b.reply(chatID, fmt.Sprintf("🤷 Клиент не найден.\n🆕 Для заказа будет создан новый клиент с телефоном %s.", placeholder.Phone))
			return
		}
		b.reply(chatID, "🤷 Клиенты не найдены.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 Найдено клиентов: %d\n\n", len(clients))
	for i, c := range clients {
		if i == listLimit {
			fmt.Fprintf(&sb, "… и еще %d", len(clients)-listLimit)
			break
		}
		fmt.Fprintf(&sb, "• %s", c.Name)
		if c.Phone != "" {
			fmt.Fprintf(&sb, ", %s", c.Phone)
		}
		sb.WriteString("\n")
	}
	b.reply(chatID, sb.String())
}

func (b *TelegramOrderBot) searchProducts(ctx context.Context, chatID int64, s *session.Session, query string) {
	products := s.SearchProducts(ctx, query)
	if len(products) == 0 {
		b.reply(chatID, "🤷 Товары не найдены.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 Найдено товаров: %d\n\n", len(products))
	for i, p := range products {
		if i == listLimit {
			fmt.Fprintf(&sb, "… и еще %d", len(products)-listLimit)
			break
		}
		fmt.Fprintf(&sb, "• %s", p.Name)
		if p.Article != "" {
			fmt.Fprintf(&sb, " [%s]", p.Article)
		}
		fmt.Fprintf(&sb, ": %s ₽\n", p.Price.StringFixed(2))
	}
	b.reply(chatID, sb.String())
}

func (b *TelegramOrderBot) listOrders(ctx context.Context, chatID int64, s *session.Session, filter string) {
	switch filter {
	case "":
		filter = session.FilterAll
	case session.FilterAll, session.FilterActive, session.FilterCompleted:
	default:
		b.reply(chatID, "Использование: /orders [all|active|completed]")
		return
	}

	orders := s.Orders(ctx, 0, 0, filter)
	if len(orders) == 0 {
		b.reply(chatID, "📭 Заказов нет.")
		return
	}
	var sb strings.Builder
	for i, o := range orders {
		if i == listLimit {
			break
		}
		sb.WriteString(o.Summary())
		sb.WriteString("\n\n")
	}
	b.reply(chatID, strings.TrimSpace(sb.String()))
}

func (b *TelegramOrderBot) listCategories(ctx context.Context, chatID int64, s *session.Session, query string) {
	found := s.Categories.Search(ctx, query)
	if len(found) == 0 {
		b.reply(chatID, "🤷 Категории не найдены.")
		return
	}
	var sb strings.Builder
	sb.WriteString("🗂 Категории:\n\n")
	for _, cat := range catalog.Flatten(rootsOf(found)) {
		fmt.Fprintf(&sb, "• %s", cat.Name)
		if cat.ProductCount > 0 {
			fmt.Fprintf(&sb, " (%d)", cat.ProductCount)
		}
		sb.WriteString("\n")
	}
	b.reply(chatID, sb.String())
}

// rootsOf keeps categories whose parent is not in the list, so Flatten does not repeat children
func rootsOf(list []*models.Category) []*models.Category {
	ids := make(map[string]bool, len(list))
	for _, c := range list {
		ids[c.ID] = true
	}
	out := make([]*models.Category, 0, len(list))
	for _, c := range list {
		if c.Parent == nil || !ids[*c.Parent] {
			out = append(out, c)
		}
	}
	return out
}

func (b *TelegramOrderBot) reply(chatID int64, text string) {
	if _, err := b.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Errorf("Failed to send message to chat %d: %v", chatID, err)
	}
}

// boolToEmoji converts boolean to emoji
func boolToEmoji(b bool) string {
	if b {
		return "✅"
	}
	return "❌"
}
