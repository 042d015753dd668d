package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/cache"
	"github.com/iamrita-ai/Terabox-Drive/config"
	"github.com/iamrita-ai/Terabox-Drive/constant"
	"github.com/iamrita-ai/Terabox-Drive/ctxutil"
	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/leech"
	"github.com/iamrita-ai/Terabox-Drive/leech/download"
	"github.com/iamrita-ai/Terabox-Drive/log"
	"github.com/iamrita-ai/Terabox-Drive/queue"
	"github.com/iamrita-ai/Terabox-Drive/store"
	"github.com/iamrita-ai/Terabox-Drive/tgutil"
	"github.com/iamrita-ai/Terabox-Drive/waitqueue"
)

const (
	flagConfigFilePath = "config"
)

func main() {
	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     "terabox-drive",
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "Telegram Drive/Terabox Leech Bot",
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Run the bot",
				Action:  run,
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagConfigFilePath,
						Aliases:  []string{"c"},
						Usage:    "Config file path",
						Required: false,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
			logger.Fatal().Func(log.Flaw(flawErr)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

func run(cliCtx *cli.Context) (err error) {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	var (
		appHash  = os.Getenv("APP_HASH")
		cfgEnv   = os.Getenv("CONFIG")
		botToken = os.Getenv("BOT_TOKEN")
		cfg      *config.Config
	)
	cfgFilePath := cliCtx.String(flagConfigFilePath)
	switch {
	case cfgFilePath != "" && cfgEnv != "":
		return errors.New("config file path and config environment variable are both set. specify only one")
	case cfgFilePath == "" && cfgEnv == "":
		return errors.New("config file path and config environment variable are both empty. specify one")
	case cfgFilePath != "":
		logger.Debug().Str("config_file_path", cfgFilePath).Msg("Loading config from file")
		c, err := config.FromFile(cfgFilePath)
		if nil != err {
			return fmt.Errorf("failed to load config file: %v", err)
		}
		cfg = c
	default:
		logger.Debug().Msg("Loading config from environment variable")
		c, err := config.FromString(cfgEnv)
		if nil != err {
			return fmt.Errorf("failed to load config from environment variable: %v", err)
		}
		cfg = c
	}

	appID, err := strconv.Atoi(os.Getenv("APP_ID"))
	if nil != err {
		return errors.New("failed to parse APP_ID environment variable to integer")
	}

	for _, dir := range []string{cfg.SessionDir, cfg.DownloadBaseDir, thumbsDir(cfg)} {
		if _, err := os.ReadDir(dir); nil != err && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read directory %q: %v", dir, err)
		} else if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("dir", dir).Msg("Directory does not exist. Creating...")
			if err := os.MkdirAll(dir, 0o0755); nil != err {
				return fmt.Errorf("failed to create directory %q: %v", dir, err)
			}
		}
	}

	db, err := store.Open(cfg.DBPath)
	if nil != err {
		return err
	}
	defer func() {
		if closeErr := db.Close(); nil != closeErr {
			logger.Error().Func(log.Flaw(closeErr)).Msg("Failed to close user store")
		}
	}()
	logger.Debug().Str("db_path", cfg.DBPath).Msg("User store opened")

	d := tg.NewUpdateDispatcher()
	d.OnNewMessage(func(context.Context, tg.Entities, *tg.UpdateNewMessage) error { return nil })
	updateHandler := updates.New(updates.Config{Handler: d}) //nolint:exhaustruct

	client := telegram.NewClient(
		appID,
		appHash,
		//nolint:exhaustruct
		telegram.Options{
			SessionStorage: &session.FileStorage{Path: filepath.Join(cfg.SessionDir, "session.json")},
			UpdateHandler:  updateHandler,
			MaxRetries:     -1,
			AckBatchSize:   100,
			AckInterval:    10 * time.Second,
			RetryInterval:  5 * time.Second,
			DialTimeout:    10 * time.Second,
			Device:         tgutil.Device,
			Middlewares:    tgutil.DefaultMiddlewares(ctx),
		},
	)
	logger.Debug().Msg("Telegram client initialized.")

	clientCtx, cancel := ctxutil.WithDelayedTimeout(ctx, 5*time.Second)
	defer cancel()

	wq := waitqueue.New(clientCtx)
	defer wq.Close()

	c := cache.New()
	w := &Worker{
		config:    cfg,
		client:    client,
		api:       nil,
		sender:    nil,
		store:     db,
		queue:     queue.NewManager(),
		dl:        download.NewClient(c, logger.With().Str("module", "download").Logger()),
		cache:     c,
		wq:        wq,
		dlDir:     leech.DirFrom(cfg.DownloadBaseDir),
		thumbsDir: thumbsDir(cfg),
		startedAt: time.Now(),
		logger:    logger.With().Str("module", "worker").Logger(),
	}

	// Intentionally ignore client-inherited context, which is inherited from clientCtx
	// for the run function to force it to use the parent context, which is inherited
	// from cli context. This allows all Telegram messaging operations context to still
	// be active a bit more after parent context cancellation.
	return client.Run(clientCtx, func(_ context.Context) error {
		status, err := client.Auth().Status(ctx)
		if nil != err {
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			return fmt.Errorf("failed to get Telegram client auth status: %v", err)
		}
		if !status.Authorized {
			if _, authErr := client.Auth().Bot(ctx, botToken); nil != authErr {
				if errors.Is(ctx.Err(), context.Canceled) {
					return context.Canceled
				}
				return fmt.Errorf("failed to authorize Telegram bot: %v", authErr)
			}
			logger.Debug().Msg("Telegram client authorized.")
		} else {
			logger.Debug().Msg("Telegram client has already been authorized.")
		}

		w.api = tg.NewClient(client)
		w.sender = message.NewSender(w.api)

		if cfg.LogChannelID != "" {
			if _, err := w.sender.Resolve(cfg.LogChannelID).StyledText(clientCtx, styling.Italic("Bot has started!")); nil != err {
				switch {
				case errutil.IsContext(clientCtx):
					logger.Error().Msg("Failed to send bot startup message to log channel due to context cancellation")
				default:
					return fmt.Errorf("failed to send bot startup message to log channel: %v", err)
				}
			}
		}

		d.OnNewMessage(buildOnMessage(w, clientCtx, *cfg))

		logger.Info().Msg("Bot is running")
		<-ctx.Done()

		logger.Debug().Msg("Stopping bot due to received signal")
		if cfg.LogChannelID != "" {
			if _, err := w.sender.Resolve(cfg.LogChannelID).StyledText(clientCtx, styling.Italic("Bot is shutting down...")); nil != err {
				switch {
				case errors.Is(clientCtx.Err(), context.Canceled):
					logger.Error().Msg("Failed to send shutdown message to log channel due to context cancellation")
				case errors.Is(clientCtx.Err(), context.DeadlineExceeded):
					logger.Error().Msg("Failed to send shutdown message to log channel due to context deadline")
				default:
					logger.Error().Err(err).Msg("Failed to send shutdown message to log channel")
				}
			}
		}
		return nil
	})
}

func thumbsDir(cfg *config.Config) string {
	return filepath.Join(cfg.DownloadBaseDir, "thumbs")
}
