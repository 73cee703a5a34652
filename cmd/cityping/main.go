package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cityping/cityping/internal/agent"
	"github.com/cityping/cityping/internal/app"
	"github.com/cityping/cityping/internal/auth"
	"github.com/cityping/cityping/internal/compose"
	"github.com/cityping/cityping/internal/genai"
	"github.com/cityping/cityping/internal/httpkit"
	"github.com/cityping/cityping/internal/messaging"
	"github.com/cityping/cityping/internal/models"
	"github.com/cityping/cityping/internal/scheduler"
	"github.com/cityping/cityping/internal/scout"
	"github.com/cityping/cityping/internal/store"
	"github.com/cityping/cityping/internal/util"
	"github.com/cityping/cityping/internal/weather"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for cityping state data
	DefaultStateDir = "/var/lib/cityping"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "cityping.db"
	// DefaultTickSchedule runs a send-gate check every five minutes
	DefaultTickSchedule = "*/5 * * * *"
	// DefaultTimezone is the city's local timezone
	DefaultTimezone = "Europe/Copenhagen"
	// DefaultTokenScope is the scope requested for agent backend tokens
	DefaultTokenScope = "https://ai.azure.com/.default"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("cityping failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("cityping exited successfully")
}

// Config holds environment configuration
type Config struct {
	Timezone        string
	StateDir        string
	DatabaseURL     string
	AgentEndpoint   string
	AgentAPIVersion string
	AgentID         string
	TenantID        string
	ClientID        string
	ClientSecret    string
	TokenScope      string
	OpenWeatherKey  string
	BingKey         string
	OpenAIKey       string
	Recipients      string
	Preferences     string
	SendWeekday     int
	SendHour        int
	IntervalDays    int
	WelcomeDelayMin int
	TickSchedule    string
	DryRun          bool
}

// Flags holds command line flag values
type Flags struct {
	once         *bool
	smoke        *bool
	send         *bool
	welcome      *bool
	stateDir     *string
	dbDSN        *string
	tickSchedule *string
	timezone     *string
	dryRun       *bool

	config Config
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Timezone:        util.GetEnv("TZ", DefaultTimezone),
		StateDir:        util.GetEnv("CITYPING_STATE_DIR", DefaultStateDir),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		AgentEndpoint:   os.Getenv("AGENT_ENDPOINT"),
		AgentAPIVersion: os.Getenv("AGENT_API_VERSION"),
		AgentID:         os.Getenv("AGENT_ID"),
		TenantID:        os.Getenv("AZURE_TENANT_ID"),
		ClientID:        os.Getenv("AZURE_CLIENT_ID"),
		ClientSecret:    os.Getenv("AZURE_CLIENT_SECRET"),
		TokenScope:      util.GetEnv("AZURE_TOKEN_SCOPE", DefaultTokenScope),
		OpenWeatherKey:  os.Getenv("OPENWEATHER_API_KEY"),
		BingKey:         os.Getenv("BING_SEARCH_KEY"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		Recipients:      os.Getenv("RECIPIENT_NUMBERS"),
		Preferences:     os.Getenv("EVENT_PREFERENCES"),
		SendWeekday:     util.ParseIntEnv("SEND_DAY_OF_WEEK", int(scheduler.DefaultSendWeekday)),
		SendHour:        util.ParseIntEnv("SEND_HOUR_LOCAL", scheduler.DefaultSendHour),
		IntervalDays:    util.ParseIntEnv("SEND_INTERVAL_DAYS", scheduler.DefaultIntervalDays),
		WelcomeDelayMin: util.ParseIntEnv("WELCOME_DELAY_MINUTES", int(scheduler.DefaultWelcomeDelay/time.Minute)),
		TickSchedule:    util.GetEnv("TICK_SCHEDULE", DefaultTickSchedule),
		DryRun:          util.ParseBoolEnv("DRY_RUN", false),
	}

	slog.Debug("environment variables loaded",
		"TZ", config.Timezone,
		"CITYPING_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"AGENT_ENDPOINT_SET", config.AgentEndpoint != "",
		"AGENT_ID_SET", config.AgentID != "",
		"AZURE_TENANT_ID_SET", config.TenantID != "",
		"OPENWEATHER_API_KEY_SET", config.OpenWeatherKey != "",
		"BING_SEARCH_KEY_SET", config.BingKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"RECIPIENT_NUMBERS_SET", config.Recipients != "",
		"SEND_DAY_OF_WEEK", config.SendWeekday,
		"SEND_HOUR_LOCAL", config.SendHour,
		"SEND_INTERVAL_DAYS", config.IntervalDays,
		"TICK_SCHEDULE", config.TickSchedule,
		"DRY_RUN", config.DryRun)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		once:         flag.Bool("once", false, "run a single send cycle and exit"),
		smoke:        flag.Bool("smoke", false, "run read-only connectivity checks and exit"),
		send:         flag.Bool("send", false, "with -smoke: actually send the preview SMS"),
		welcome:      flag.Bool("welcome", false, "with -smoke: format the preview as a welcome message"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for cityping data (overrides $CITYPING_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		tickSchedule: flag.String("tick-schedule", config.TickSchedule, "cron expression for send-gate checks (overrides $TICK_SCHEDULE)"),
		timezone:     flag.String("timezone", config.Timezone, "IANA timezone for send gates (overrides $TZ)"),
		dryRun:       flag.Bool("dry-run", config.DryRun, "log outbound SMS instead of sending (overrides $DRY_RUN)"),
		config:       config,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"once", *flags.once,
		"smoke", *flags.smoke,
		"send", *flags.send,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"tickSchedule", *flags.tickSchedule,
		"timezone", *flags.timezone,
		"dryRun", *flags.dryRun)

	return flags
}

func run(flags Flags) error {
	config := flags.config

	loc, err := time.LoadLocation(*flags.timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", *flags.timezone, err)
	}

	st, err := openStore(flags)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	flow, err := buildAgentFlow(config, loc)
	if err != nil {
		return err
	}

	sender, err := messaging.NewClient(messaging.WithDryRun(*flags.dryRun))
	if err != nil {
		return fmt.Errorf("configure SMS gateway: %w", err)
	}

	recipients := util.SplitList(config.Recipients)

	gates := scheduler.NewGates(st)
	gates.SendWeekday = time.Weekday(config.SendWeekday % 7)
	gates.SendHour = config.SendHour
	gates.IntervalDays = config.IntervalDays
	gates.WelcomeDelay = time.Duration(config.WelcomeDelayMin) * time.Minute

	opts := []app.Option{
		app.WithClock(func() time.Time { return time.Now().In(loc) }),
	}
	if config.OpenAIKey != "" {
		shortener, err := genai.NewClient(config.OpenAIKey)
		if err != nil {
			return fmt.Errorf("configure shortener: %w", err)
		}
		opts = append(opts, app.WithShortener(shortener))
		slog.Debug("SMS shortener enabled")
	}

	if *flags.smoke {
		return runSmoke(flags, st, flow, sender, recipients)
	}

	a, err := app.New(st, flow, sender, gates, recipients, opts...)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}

	if *flags.once {
		slog.Info("running a single send cycle")
		return a.Tick(context.Background())
	}
	return runDaemon(a, *flags.tickSchedule)
}

// openStore picks the backend from the DSN: postgres URLs get the
// Postgres store, everything else is treated as a SQLite path. An empty
// DSN defaults to SQLite in the state directory.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		slog.Debug("using Postgres store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	if dsn == "" {
		dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("no database DSN provided, defaulting to SQLite", "sqlite_path", dsn)
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildAgentFlow wires token provider, transport, protocol client and
// conversation flow.
func buildAgentFlow(config Config, loc *time.Location) (*agent.Flow, error) {
	if config.TenantID == "" || config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET are required")
	}
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", config.TenantID)
	provider, err := auth.NewTokenProvider(
		auth.WithTokenURL(tokenURL),
		auth.WithClientCredentials(config.ClientID, config.ClientSecret),
		auth.WithScope(config.TokenScope),
	)
	if err != nil {
		return nil, fmt.Errorf("configure token provider: %w", err)
	}

	transport := httpkit.NewClient(httpkit.WithTokenSource(provider))

	client, err := agent.NewClient(
		agent.WithTransport(transport),
		agent.WithEndpoint(config.AgentEndpoint),
		agent.WithAPIVersion(config.AgentAPIVersion),
		agent.WithAgentID(config.AgentID),
	)
	if err != nil {
		return nil, fmt.Errorf("configure agent client: %w", err)
	}

	flowOpts := []agent.FlowOption{
		agent.WithClient(client),
		agent.WithLocation(loc),
	}
	if config.Preferences != "" {
		flowOpts = append(flowOpts, agent.WithPreferences(config.Preferences))
	}
	flow, err := agent.NewFlow(flowOpts...)
	if err != nil {
		return nil, fmt.Errorf("configure conversation flow: %w", err)
	}
	return flow, nil
}

// runDaemon schedules send-gate checks and blocks until SIGINT/SIGTERM.
func runDaemon(a *app.App, schedule string) error {
	sched := scheduler.NewScheduler()
	defer sched.Stop()

	err := sched.AddJob(schedule, func() {
		if err := a.Tick(context.Background()); err != nil {
			slog.Error("send cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule send cycles: %w", err)
	}
	slog.Info("daemon started", "schedule", schedule)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	slog.Info("shutting down", "signal", sig.String())
	return nil
}

// runSmoke performs read-only connectivity checks: store roundtrip, a
// live agent conversation, optional weather and event-scout lookups, and
// an SMS preview. The preview is only sent with -send.
func runSmoke(flags Flags, st store.Store, flow *agent.Flow, sender messaging.Sender, recipients []string) error {
	config := flags.config
	ctx := context.Background()

	welcomeSent, err := st.Flag(store.FlagWelcome)
	if err != nil {
		return fmt.Errorf("smoke: store check failed: %w", err)
	}
	slog.Info("smoke: store reachable", "welcome_sent", welcomeSent)

	result, err := flow.FindIntroWeatherEvents(ctx, *flags.welcome)
	if err != nil {
		return fmt.Errorf("smoke: agent conversation failed: %w", err)
	}
	slog.Info("smoke: agent conversation completed",
		"intro_len", len(result.Intro),
		"forecast_days", len(result.Forecast),
		"events", len(result.Events))

	if config.OpenWeatherKey != "" {
		wc, err := weather.NewClient(httpkit.NewClient(), config.OpenWeatherKey)
		if err == nil {
			if days, err := wc.WeekForecast(ctx); err != nil {
				slog.Warn("smoke: weather lookup failed", "error", err)
			} else {
				slog.Info("smoke: weather lookup completed", "days", len(days))
			}
		}
	}

	if config.BingKey != "" {
		sc, err := scout.NewClient(httpkit.NewClient(), config.BingKey)
		if err == nil {
			if leads, err := sc.Events(ctx, "weekend"); err != nil {
				slog.Warn("smoke: event scout failed", "error", err)
			} else {
				for _, lead := range leads {
					slog.Info("smoke: event lead", "title", lead.Title, "source", lead.Source)
				}
			}
		}
	}

	pool := append(append([]models.EventIdea{}, result.Events...), compose.Evergreen...)
	ideas := compose.PickByWeather(pool, result.Forecast)
	body := compose.FormatSMS(result, ideas, *flags.welcome)
	fmt.Printf("SMS preview (%d chars):\n%s\n", len([]rune(body)), body)

	if *flags.send {
		if err := messaging.Broadcast(sender, recipients, body); err != nil {
			return fmt.Errorf("smoke: send failed: %w", err)
		}
		slog.Info("smoke: test SMS sent", "recipients", len(recipients))
	} else {
		slog.Info("smoke: preview only, pass -send to deliver")
	}

	return nil
}
