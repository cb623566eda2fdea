package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v9"

	"pricewatch/internal/client"
	"pricewatch/internal/configuration"
	"pricewatch/internal/logger"
	"pricewatch/internal/pricesource"
	"pricewatch/internal/server"
	"pricewatch/internal/store"
	"pricewatch/internal/telegram"
	"pricewatch/internal/watcher"
)

func main() {
	if err := runApp(); err != nil {
		os.Exit(1)
	}
}

func runApp() error {
	appContext := context.Background()
	logOutput := io.Writer(os.Stdout)
	appLogger := logger.NewLogger(logger.LevelError, logOutput)

	defer func() {
		if r := recover(); r != nil {
			appLogger.Errorf("APPLICATION CRASHED: %+v", r)
		}
	}()

	config, err := configuration.GetConfig("config.toml")
	if err != nil {
		appLogger.Error("Error getting configuration from config.toml:", err)
		return err
	}

	if config.LogToFile {
		logFile, err := os.OpenFile("pricewatch.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			appLogger.Error("Error opening log file:", err)
			return err
		}
		defer func() {
			if err := logFile.Close(); err != nil {
				appLogger.Error("Error closing log file:", err)
			}
		}()
		logOutput = io.MultiWriter(logOutput, logFile)
	}
	appLogger = logger.NewLogger(config.LogLevel, logOutput)
	appLogger.Debugf("Config: server: %s, data file: %s, mock prices: %v, tick budget: %d, tick interval: %v",
		config.ServerAddress, config.DataFilePath, config.UseMockPrices, config.TickBudget, config.TickInterval)

	if dir := filepath.Dir(config.DataFilePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			appLogger.Error("Error creating data directory:", err)
			return err
		}
	}
	appLogger.Info("Opening watch store at", config.DataFilePath)
	st, err := store.Open(config.DataFilePath, appLogger)
	if err != nil {
		appLogger.Error("Error opening watch store:", err)
		return err
	}

	var redisClient *redis.Client
	if config.RedisURI != "" {
		opt, err := redis.ParseURL(config.RedisURI)
		if err != nil {
			appLogger.Error("Error parsing redis_uri:", err)
			return err
		}
		redisClient = redis.NewClient(opt)
	}

	apiClient := client.Client{
		Client:       &http.Client{Timeout: config.FetchTimeout},
		Redis:        redisClient,
		PriceAPIURL:  config.PriceAPIURL,
		PriceAPIKey:  config.PriceAPIKey,
		AffiliateTag: config.AffiliateTag,
		Logger:       appLogger,
	}

	// The price source strategy is chosen once here; nothing downstream
	// knows whether prices are mocked or real.
	var schedulerSource, chatSource pricesource.Source
	if config.UseMockPrices {
		appLogger.Info("Using mock price source")
		schedulerSource = pricesource.Mock{}
		chatSource = pricesource.Mock{}
	} else {
		schedulerSource = pricesource.API{Client: apiClient}
		chatSource = pricesource.API{Client: apiClient, UseCache: true}
	}
	cachedSource := pricesource.NewCache(schedulerSource, pricesource.DefaultCacheTTL)

	tg, err := telegram.New(config.TelegramBotToken, st, apiClient, chatSource, appLogger)
	if err != nil {
		appLogger.Error("Error creating Telegram client:", err)
		return err
	}
	appLogger.Info("Starting Telegram long polling")
	go tg.Start(appContext)

	w := &watcher.Watcher{
		Store:    st,
		Prices:   cachedSource,
		Notifier: tg,
		Logger:   appLogger,
		Budget:   config.TickBudget,
	}
	if config.TickInterval > 0 {
		appLogger.Info("Starting internal ticker with interval:", config.TickInterval)
		go w.RunInInterval(appContext, time.NewTicker(config.TickInterval))
	} else {
		appLogger.Info("No internal ticker configured, ticks come from POST /api/watcher/tick")
	}

	srv := server.Server{
		Store:         st,
		Watcher:       w,
		Logger:        appLogger,
		AuthSecretKey: config.AuthSecretKey,
	}
	httpSrv := &http.Server{
		Handler:      srv.Router(),
		Addr:         config.ServerAddress,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	appLogger.Info("Serving on", httpSrv.Addr)
	return httpSrv.ListenAndServe()
}
