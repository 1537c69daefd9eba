// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken     = "TELEGRAM_TOKEN"
	KeyBotOwner          = "BOT_OWNER"
	KeySuperAdmins       = "SUPER_ADMINS"
	KeyStoreDriver       = "STORE_DRIVER"
	KeyMongoURI          = "MONGO_URI"
	KeyMongoDB           = "MONGO_DB"
	KeySQLitePath        = "SQLITE_PATH"
	KeyAppEnv            = "APP_ENV"
	KeyLogLevel          = "LOG_LEVEL"
	KeyHTTPPort          = "HTTP_PORT"
	KeyMuteDefault       = "MUTE_DEFAULT_MINUTES"
	KeyPageSize          = "PAGE_SIZE"
	KeyBroadcastInterval = "BROADCAST_INTERVAL"
	KeyBroadcastWorkers  = "BROADCAST_WORKERS"
	KeySessionTTL        = "SESSION_TTL"
	KeyExemptGroupAdmins = "EXEMPT_GROUP_ADMINS"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Registry backends.
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"

	// Defaults for optional settings.
	DefaultAppEnv            = EnvProduction
	DefaultLogLevel          = "info"
	DefaultHTTPPort          = 8080
	DefaultStoreDriver       = DriverMongo
	DefaultSQLitePath        = "guard.db"
	DefaultMuteMinutes       = 10
	DefaultPageSize          = 10
	DefaultBroadcastInterval = 60 * time.Millisecond
	DefaultBroadcastWorkers  = 1
	DefaultSessionTTL        = 30 * time.Minute

	// Recommended database names by environment.
	DefaultMongoDBProd = "tg_guard"
	DefaultMongoDBDev  = "tg_guard_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Primary super admin Telegram user_id with owner privileges.",
	},
	{
		Key:         KeySuperAdmins,
		Example:     "111,222",
		Description: "Additional super admin user_ids, comma separated.",
	},
	{
		Key:         KeyStoreDriver,
		Example:     DriverMongo + " / " + DriverSQLite + " / " + DriverMemory,
		Default:     DefaultStoreDriver,
		Description: "Registry backend.",
		Notes:       DriverMemory + " keeps data in process only; use it for local runs.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string.",
		Notes:       "Required when " + KeyStoreDriver + "=" + DriverMongo + ".",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Description: "MongoDB database name.",
		Notes:       "Required when " + KeyStoreDriver + "=" + DriverMongo + ". Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeySQLitePath,
		Example:     DefaultSQLitePath,
		Default:     DefaultSQLitePath,
		Description: "SQLite database file used when " + KeyStoreDriver + "=" + DriverSQLite + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/metrics port.",
	},
	{
		Key:         KeyMuteDefault,
		Example:     strconv.Itoa(DefaultMuteMinutes),
		Default:     strconv.Itoa(DefaultMuteMinutes),
		Description: "Mute duration in minutes for chats without an explicit setting (1-4320).",
	},
	{
		Key:         KeyPageSize,
		Example:     strconv.Itoa(DefaultPageSize),
		Default:     strconv.Itoa(DefaultPageSize),
		Description: "Items per page in admin chat and user lists.",
	},
	{
		Key:         KeyBroadcastInterval,
		Example:     DefaultBroadcastInterval.String(),
		Default:     DefaultBroadcastInterval.String(),
		Description: "Minimum spacing between broadcast sends.",
	},
	{
		Key:         KeyBroadcastWorkers,
		Example:     strconv.Itoa(DefaultBroadcastWorkers),
		Default:     strconv.Itoa(DefaultBroadcastWorkers),
		Description: "Concurrent broadcast senders; pacing still applies across all of them.",
	},
	{
		Key:         KeySessionTTL,
		Example:     DefaultSessionTTL.String(),
		Default:     DefaultSessionTTL.String(),
		Description: "Idle time after which an unfinished admin dialog is dropped.",
	},
	{
		Key:         KeyExemptGroupAdmins,
		Example:     "false",
		Default:     "false",
		Description: "Exempt chat administrators from the bad-word and unsafe-file filters.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken     string        `validate:"required"`
	BotOwnerID        int64         `validate:"required,gt=0"`
	SuperAdminIDs     []int64       `validate:"dive,gt=0"`
	StoreDriver       string        `validate:"oneof=mongo sqlite memory"`
	MongoURI          string        `validate:"required_if=StoreDriver mongo"`
	MongoDB           string        `validate:"required_if=StoreDriver mongo"`
	SQLitePath        string        `validate:"required_if=StoreDriver sqlite"`
	AppEnv            string        `validate:"oneof=development production"`
	LogLevel          string        `validate:"required"`
	HTTPPort          int           `validate:"min=1,max=65535"`
	MuteDefault       int           `validate:"min=1,max=4320"`
	PageSize          int           `validate:"min=1,max=50"`
	BroadcastInterval time.Duration `validate:"gte=0"`
	BroadcastWorkers  int           `validate:"min=1,max=32"`
	SessionTTL        time.Duration `validate:"gte=1m"`
	ExemptGroupAdmins bool
}

// fieldKeys maps Config fields to their environment variable for error messages.
var fieldKeys = map[string]string{
	"TelegramToken":     KeyTelegramToken,
	"BotOwnerID":        KeyBotOwner,
	"SuperAdminIDs":     KeySuperAdmins,
	"StoreDriver":       KeyStoreDriver,
	"MongoURI":          KeyMongoURI,
	"MongoDB":           KeyMongoDB,
	"SQLitePath":        KeySQLitePath,
	"AppEnv":            KeyAppEnv,
	"LogLevel":          KeyLogLevel,
	"HTTPPort":          KeyHTTPPort,
	"MuteDefault":       KeyMuteDefault,
	"PageSize":          KeyPageSize,
	"BroadcastInterval": KeyBroadcastInterval,
	"BroadcastWorkers":  KeyBroadcastWorkers,
	"SessionTTL":        KeySessionTTL,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:            firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:     strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		StoreDriver:       firstNonEmpty(normalizeEnv(os.Getenv(KeyStoreDriver)), DefaultStoreDriver),
		MongoURI:          strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:           strings.TrimSpace(os.Getenv(KeyMongoDB)),
		SQLitePath:        firstNonEmpty(os.Getenv(KeySQLitePath), DefaultSQLitePath),
		LogLevel:          firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:          DefaultHTTPPort,
		MuteDefault:       DefaultMuteMinutes,
		PageSize:          DefaultPageSize,
		BroadcastInterval: DefaultBroadcastInterval,
		BroadcastWorkers:  DefaultBroadcastWorkers,
		SessionTTL:        DefaultSessionTTL,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw == "" {
		missing = append(missing, KeyBotOwner)
	} else {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	if cfg.StoreDriver == DriverMongo {
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			missing = append(missing, KeyMongoDB)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.StoreDriver == DriverMongo {
		if err := validateMongoURI(cfg.MongoURI); err != nil {
			return Config{}, err
		}
	}

	if cfg.SuperAdminIDs, err = parseIDList(KeySuperAdmins); err != nil {
		return Config{}, err
	}
	if err := parseInt(KeyHTTPPort, &cfg.HTTPPort); err != nil {
		return Config{}, err
	}
	if err := parseInt(KeyMuteDefault, &cfg.MuteDefault); err != nil {
		return Config{}, err
	}
	if err := parseInt(KeyPageSize, &cfg.PageSize); err != nil {
		return Config{}, err
	}
	if err := parseInt(KeyBroadcastWorkers, &cfg.BroadcastWorkers); err != nil {
		return Config{}, err
	}
	if err := parseDuration(KeyBroadcastInterval, &cfg.BroadcastInterval); err != nil {
		return Config{}, err
	}
	if err := parseDuration(KeySessionTTL, &cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if err := parseBool(KeyExemptGroupAdmins, &cfg.ExemptGroupAdmins); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		key := fieldKeys[fe.StructField()]
		if key == "" {
			key = fe.StructField()
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", key, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s fails %s", key, fe.Tag()))
		}
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// SuperAdmins returns the owner plus any additional super admins, de-duplicated.
func (c Config) SuperAdmins() []int64 {
	out := make([]int64, 0, len(c.SuperAdminIDs)+1)
	seen := make(map[int64]struct{}, len(c.SuperAdminIDs)+1)
	for _, id := range append([]int64{c.BotOwnerID}, c.SuperAdminIDs...) {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// FormatRedacted renders the configuration with secrets masked, one key per line.
func FormatRedacted(c Config) string {
	admins := make([]string, 0, len(c.SuperAdminIDs))
	for _, id := range c.SuperAdminIDs {
		admins = append(admins, strconv.FormatInt(id, 10))
	}

	lines := []string{
		"telegram_token: " + redactToken(c.TelegramToken),
		"bot_owner: " + strconv.FormatInt(c.BotOwnerID, 10),
		"super_admins: " + strings.Join(admins, ","),
		"store_driver: " + c.StoreDriver,
		"mongo_uri: " + redactURI(c.MongoURI),
		"mongo_db: " + c.MongoDB,
		"sqlite_path: " + c.SQLitePath,
		"app_env: " + c.AppEnv,
		"log_level: " + c.LogLevel,
		"http_port: " + strconv.Itoa(c.HTTPPort),
		"mute_default_minutes: " + strconv.Itoa(c.MuteDefault),
		"page_size: " + strconv.Itoa(c.PageSize),
		"broadcast_interval: " + c.BroadcastInterval.String(),
		"broadcast_workers: " + strconv.Itoa(c.BroadcastWorkers),
		"session_ttl: " + c.SessionTTL.String(),
		"exempt_group_admins: " + strconv.FormatBool(c.ExemptGroupAdmins),
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "...redacted"
	}
	return token[:4] + "...redacted"
}

func redactURI(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "redacted"
	}
	u.User = nil
	return u.String()
}

func validateMongoURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", KeyMongoURI, err)
	}
	if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
		return fmt.Errorf("invalid %s: scheme must be mongodb or mongodb+srv", KeyMongoURI)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s: host is required", KeyMongoURI)
	}
	return nil
}

func parseInt(key string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func parseDuration(key string, dst *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func parseBool(key string, dst *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func parseIDList(key string) ([]int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}

	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
