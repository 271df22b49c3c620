package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"icssync/internal/config"
	"icssync/internal/dest"
	"icssync/internal/google"
	"icssync/internal/ics"
	"icssync/internal/placeholder"
	"icssync/internal/status"
	"icssync/internal/storage/boltdb"
	"icssync/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "icssync",
		Usage: "Sync remote iCalendar feeds into a CalDAV calendar.",
		Commands: []*cli.Command{
			syncCommand(),
			calendarsCommand(),
			authCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   config.DefaultPath,
		EnvVars: []string{"ICSSYNC_CONFIG"},
		Usage:   "Path to the YAML configuration file.",
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the calendar synchronization process.",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.DurationFlag{Name: "delay", Usage: "Delay between sync cycles. Overrides service_delay."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("delay") {
				cfg.ServiceDelay = c.Duration("delay")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := buildSyncer(ctx, logger, cfg, c.Bool("dry-run"))
			if err != nil {
				return err
			}
			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			if cfg.StatusListen != "" {
				go func() {
					if err := status.Serve(ctx, logger, cfg.StatusListen, s); err != nil {
						logger.Error("Status server failed", "error", err)
					}
				}()
			}

			if c.Bool("once") {
				logger.Info("Running a single sync cycle.")
				rep := s.RunOnce(ctx)
				if abandoned := rep.Abandoned(); len(abandoned) > 0 {
					return fmt.Errorf("sources could not be synced: %s", strings.Join(abandoned, ", "))
				}
				return nil
			}

			hb, err := syncer.StartHeartbeat(logger, cfg.HeartbeatInterval, nil)
			if err != nil {
				return err
			}
			defer hb.Stop()

			s.Run(ctx, cfg.ServiceDelay)
			return nil
		},
	}
}

func buildSyncer(ctx context.Context, logger *slog.Logger, cfg *config.Config, dryRun bool) (*syncer.Syncer, error) {
	destination, err := dest.NewClient(logger, cfg.Destination.URL, cfg.Destination.Username, cfg.Destination.Password, cfg.Location())
	if err != nil {
		return nil, fmt.Errorf("failed to create destination client: %w", err)
	}

	fetchOpts := ics.FetcherOptions{Timeout: cfg.Fetch.Timeout, Dir: cfg.Fetch.Dir}
	if cfg.Fetch.CachePath != "" {
		fetchOpts.Cache = boltdb.New(cfg.Fetch.CachePath)
	}
	fetcher := ics.NewFetcher(logger, fetchOpts)

	loc := cfg.Location()
	googleClients := make(map[string]*google.CalendarClient)
	var sources []syncer.Source
	for _, sc := range cfg.Sources {
		if sc.Google == nil {
			sources = append(sources, ics.NewFeed(logger, fetcher, sc.Name, sc.URL, ics.ParseOptions{
				Location: loc,
				Group:    sc.Group,
				Logger:   logger.With("source", sc.Name),
			}))
			continue
		}

		client, ok := googleClients[sc.Google.Account]
		if !ok {
			client, err = google.NewClient(ctx, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenDir, sc.Google.Account)
			if err != nil {
				return nil, fmt.Errorf("failed to create google client for account %s: %w", sc.Google.Account, err)
			}
			googleClients[sc.Google.Account] = client
		}
		sources = append(sources, google.NewFeed(client, sc.Name, sc.Google.CalendarID, sc.Group, cfg.Google.WindowDays, loc))
	}
	logger.Info("Initialized sources.", "count", len(sources), "google_accounts", len(googleClients))

	opts := syncer.Options{
		CalendarID:      cfg.Destination.CalendarID,
		DryRun:          dryRun,
		Workers:         cfg.Workers,
		WriteTimeout:    cfg.WriteTimeout,
		PlaceholderView: cfg.Placeholders.View,
		Cleaner:         fetcher,
	}
	if cfg.Placeholders.Enabled {
		opts.Placeholders = placeholder.NewMatcher(logger, cfg.Placeholders.Marker, cfg.Placeholders.Tolerance)
	}
	return syncer.NewSyncer(logger, sources, destination, opts), nil
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars of the destination and of authorized Google accounts.",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			client, err := dest.NewClient(logger, cfg.Destination.URL, cfg.Destination.Username, cfg.Destination.Password, cfg.Location())
			if err != nil {
				return fmt.Errorf("failed to create destination client: %w", err)
			}
			calendars, err := client.Calendars(c.Context)
			if err != nil {
				return err
			}
			fmt.Println("Destination calendars:")
			for _, cal := range calendars {
				fmt.Printf("  %s\t%s\n", cal.Path, cal.Name)
			}

			accounts, err := google.GetTokenAccounts(cfg.Google.TokenDir)
			if err != nil {
				logger.Warn("Could not list google accounts", "error", err)
				return nil
			}
			for _, acc := range accounts {
				gClient, err := google.NewClient(c.Context, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenDir, acc)
				if err != nil {
					logger.Warn("Skipping google account", "account", acc, "error", err)
					continue
				}
				ids, err := gClient.DiscoverGoogleCalendars(c.Context)
				if err != nil {
					logger.Warn("Could not list google calendars", "account", acc, "error", err)
					continue
				}
				fmt.Printf("Google calendars (%s):\n", acc)
				for _, id := range ids {
					fmt.Printf("  %s\n", id)
				}
			}
			return nil
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token-dir", Value: ".", Usage: "Directory the token file is written to."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			tokenFile := google.TokenPath(c.String("token-dir"), accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
