package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	ProviderHelloAsso = "helloasso"
	ProviderYooKassa  = "yookassa"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	API              APIHTTPConfig           `env:",prefix=API_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	DB               SQLiteConfig            `env:",prefix=DB_"`
	Gateway          GatewayConfig           `env:",prefix=GATEWAY_"`
	Reservation      ReservationConfig       `env:",prefix=RESERVATION_"`
	Workers          WorkersConfig           `env:",prefix=WORKERS_"`
	Telegram         TelegramConfig          `env:",prefix=TELEGRAM_"`
	Notifications    NotificationsConfig     `env:",prefix=NOTIFICATIONS_"`
}

type GatewayConfig struct {
	Provider        string        `env:"PROVIDER,default=helloasso"`
	RedirectBaseURL string        `env:"REDIRECT_BASE_URL,default=https://localhost:5173"`
	ItemName        string        `env:"ITEM_NAME,default=Commande"`
	Timeout         time.Duration `env:"TIMEOUT,default=30s"`
	MaxRetries      int           `env:"MAX_RETRIES,default=3"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF,default=1s"`
	RateLimit       float64       `env:"RATE_LIMIT,default=10"`
	TokenMargin     time.Duration `env:"TOKEN_MARGIN,default=5m"`

	HelloAsso HelloAssoConfig `env:",prefix=HELLOASSO_"`
	YooKassa  YooKassaConfig  `env:",prefix=YOOKASSA_"`
}

type HelloAssoConfig struct {
	BaseURL          string `env:"BASE_URL,default=https://api.helloasso.com"`
	OrganizationSlug string `env:"ORGANIZATION_SLUG"`
	ClientID         string `env:"CLIENT_ID"`
	ClientSecret     string `env:"CLIENT_SECRET"`
}

type YooKassaConfig struct {
	ShopID    string `env:"SHOP_ID"`
	SecretKey string `env:"SECRET_KEY"`
	Currency  string `env:"CURRENCY,default=EUR"`
}

type ReservationConfig struct {
	TTL          time.Duration `env:"TTL,default=1h"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS,default=3"`
	SlotCapacity int           `env:"SLOT_CAPACITY,default=30"`
	SlotsFile    string        `env:"SLOTS_FILE"`
	// OrderPrice в центах
	OrderPrice int64 `env:"ORDER_PRICE,default=1000"`
}

type WorkersConfig struct {
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL,default=3m"`
	ReconcileItemTimeout time.Duration `env:"RECONCILE_ITEM_TIMEOUT,default=10s"`
	LockSweepInterval    time.Duration `env:"LOCK_SWEEP_INTERVAL,default=10m"`
	LockTTL              time.Duration `env:"LOCK_TTL,default=1h"`
	ExpirationInterval   time.Duration `env:"EXPIRATION_INTERVAL,default=1m"`
}

// TelegramConfig is optional: without a token notifications go to the log.
type TelegramConfig struct {
	BotToken    string `env:"BOT_TOKEN"`
	StaffChatID int64  `env:"STAFF_CHAT_ID"`
}

type NotificationsConfig struct {
	Language    string        `env:"LANGUAGE,default=fr"`
	QueueSize   int           `env:"QUEUE_SIZE,default=100"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT,default=10s"`
}

type LoggerConfig struct {
	Level string `env:"LEVEL,default=debug"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type APIHTTPConfig struct {
	Host           string        `env:"HOST,default=0.0.0.0"`
	Port           uint16        `env:"PORT,default=8080"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=45s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT,default=1m"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS,default=http://localhost:5173"`
}

func (a APIHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SQLiteConfig struct {
	Path         string        `env:"PATH,default=./data/slotpay.db"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS,default=1"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS,default=1"`
	MaxLifetime  time.Duration `env:"MAX_LIFETIME,default=5m"`
	BusyTimeout  time.Duration `env:"BUSY_TIMEOUT,default=5s"`
}

// Validate checks what envconfig defaults cannot express.
func (c Config) Validate() error {
	if c.Reservation.TTL <= 0 {
		return errors.New("RESERVATION_TTL must be positive")
	}
	if c.Reservation.MaxAttempts <= 0 {
		return errors.New("RESERVATION_MAX_ATTEMPTS must be positive")
	}
	if c.Reservation.SlotCapacity <= 0 {
		return errors.New("RESERVATION_SLOT_CAPACITY must be positive")
	}
	if c.Reservation.OrderPrice <= 0 {
		return errors.New("RESERVATION_ORDER_PRICE must be positive")
	}
	if c.Telegram.BotToken != "" && c.Telegram.StaffChatID == 0 {
		return errors.New("TELEGRAM_STAFF_CHAT_ID is required with TELEGRAM_BOT_TOKEN")
	}

	redirect, err := url.Parse(c.Gateway.RedirectBaseURL)
	if err != nil || redirect.Host == "" {
		return errors.Errorf("invalid GATEWAY_REDIRECT_BASE_URL %q", c.Gateway.RedirectBaseURL)
	}

	switch c.Gateway.Provider {
	case ProviderHelloAsso:
		ha := c.Gateway.HelloAsso
		if ha.OrganizationSlug == "" || ha.ClientID == "" || ha.ClientSecret == "" {
			return errors.New("helloasso requires ORGANIZATION_SLUG, CLIENT_ID and CLIENT_SECRET")
		}
		// HelloAsso отклоняет http:// адреса возврата
		if redirect.Scheme != "https" {
			return errors.New("helloasso requires an https GATEWAY_REDIRECT_BASE_URL")
		}
	case ProviderYooKassa:
		if c.Gateway.YooKassa.ShopID == "" || c.Gateway.YooKassa.SecretKey == "" {
			return errors.New("yookassa requires SHOP_ID and SECRET_KEY")
		}
	default:
		return errors.Errorf("unknown GATEWAY_PROVIDER %q", c.Gateway.Provider)
	}

	return nil
}
