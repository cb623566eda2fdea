package configuration

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"

	"pricewatch/internal/logger"
)

type Config struct {
	ServerAddress    string
	DataFilePath     string
	RedisURI         string
	TelegramBotToken string
	AffiliateTag     string
	UseMockPrices    bool
	PriceAPIURL      string
	PriceAPIKey      string
	TickBudget       int
	TickInterval     time.Duration
	FetchTimeout     time.Duration
	LogLevel         logger.Level
	LogToFile        bool
	AuthSecretKey    jwk.Key
}

type tomlConfig struct {
	ServerAddress    string `toml:"server_address"`
	DataFilePath     string `toml:"data_file_path"`
	RedisURI         string `toml:"redis_uri"`
	TelegramBotToken string `toml:"telegram_bot_token"`
	AffiliateTag     string `toml:"affiliate_tag"`
	UseMockPrices    bool   `toml:"use_mock_prices"`
	PriceAPIURL      string `toml:"price_api_url"`
	PriceAPIKey      string `toml:"price_api_key"`
	TickBudget       int    `toml:"tick_budget"`
	TickInterval     string `toml:"tick_interval"`
	FetchTimeout     string `toml:"fetch_timeout"`
	LogLevel         string `toml:"log_level"`
	LogToFile        bool   `toml:"log_to_file"`
	AuthSecretKey    string `toml:"auth_secret_key"`
}

func GetConfig(path string) (*Config, error) {
	var tc tomlConfig
	_, err := toml.DecodeFile(path, &tc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode toml file with path: %s", path)
	}

	if tc.ServerAddress == "" {
		tc.ServerAddress = "localhost:8888"
	}
	if tc.DataFilePath == "" {
		tc.DataFilePath = "data/watches.json"
	}

	if tc.TelegramBotToken == "" {
		return nil, errors.New("telegram_bot_token is not set")
	}

	if !tc.UseMockPrices {
		if tc.PriceAPIURL == "" {
			return nil, errors.New("price_api_url is not set (or set use_mock_prices = true)")
		}
		if tc.PriceAPIKey == "" {
			return nil, errors.New("price_api_key is not set (or set use_mock_prices = true)")
		}
	}

	if tc.TickBudget == 0 {
		tc.TickBudget = 25
	}
	if tc.TickBudget < 0 {
		return nil, errors.Errorf("tick_budget must be positive, got: %d", tc.TickBudget)
	}

	var tickInterval time.Duration
	if tc.TickInterval != "" {
		tickInterval, err = time.ParseDuration(tc.TickInterval)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse tick_interval: %s", tc.TickInterval)
		}
		if tickInterval > 0 && tickInterval < 15*time.Second {
			return nil, errors.Errorf("tick_interval too short (%v), minimum interval: 15s", tickInterval)
		}
	}

	fetchTimeout := 15 * time.Second
	if tc.FetchTimeout != "" {
		fetchTimeout, err = time.ParseDuration(tc.FetchTimeout)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse fetch_timeout: %s", tc.FetchTimeout)
		}
		if fetchTimeout <= 0 {
			return nil, errors.Errorf("fetch_timeout must be positive, got: %v", fetchTimeout)
		}
	}

	logLevel := logger.LevelInfo
	if tc.LogLevel != "" {
		logLevel, err = logger.ParseLevel(tc.LogLevel)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse log_level: %s", tc.LogLevel)
		}
	}

	if tc.AuthSecretKey == "" {
		return nil, errors.New("auth_secret_key is not set")
	}
	authSecretKey, err := jwk.FromRaw([]byte(tc.AuthSecretKey))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create key from auth_secret_key")
	}

	return &Config{
		ServerAddress:    tc.ServerAddress,
		DataFilePath:     tc.DataFilePath,
		RedisURI:         tc.RedisURI,
		TelegramBotToken: tc.TelegramBotToken,
		AffiliateTag:     tc.AffiliateTag,
		UseMockPrices:    tc.UseMockPrices,
		PriceAPIURL:      tc.PriceAPIURL,
		PriceAPIKey:      tc.PriceAPIKey,
		TickBudget:       tc.TickBudget,
		TickInterval:     tickInterval,
		FetchTimeout:     fetchTimeout,
		LogLevel:         logLevel,
		LogToFile:        tc.LogToFile,
		AuthSecretKey:    authSecretKey,
	}, nil
}
