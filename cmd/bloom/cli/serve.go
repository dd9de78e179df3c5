package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bloomworks/bloom/internal/auth"
	"github.com/bloomworks/bloom/internal/deepseek"
	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/ratelimit"
	"github.com/bloomworks/bloom/internal/server"
	"github.com/bloomworks/bloom/internal/webhook"
)

const banner = `
 _     _
| |__ | | ___   ___  _ __ ___
| '_ \| |/ _ \ / _ \| '_ ' _ \
| |_) | | (_) | (_) | | | | | |
|_.__/|_|\___/ \___/|_| |_| |_|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Bloom API server",
		Long:  "Start the HTTP server that exposes the public site API and the admin CMS API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return daemonize()
			}
			// Through the pflag binding viper resolves flag > config > default.
			return runServe(viper.GetString("server.host"), viper.GetInt("server.port"), dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Run in the background, managed by 'bloom stop' and 'bloom status'")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// daemonize re-executes the current binary detached from the terminal,
// redirecting output to the log file and recording the PID.
func daemonize() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		if a != "--daemon" {
			args = append(args, a)
		}
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(os.Args[0], args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	fmt.Printf("Server started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with: bloom stop")
	return nil
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if viper.GetString("log.format") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()
	logger.Info("database ready", "driver", viper.GetString("store.driver"))

	ctx := context.Background()

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		jwtSecret = "bloom-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using development default")
	}
	sessionTTL := viper.GetDuration("auth.session_ttl")
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	authSvc := auth.NewService(st, jwtSecret, sessionTTL, logger)

	// Rate limit counter: shared Redis window when configured, otherwise
	// per-process memory.
	var counter ratelimit.Counter = ratelimit.NewMemoryCounter()
	if addr := viper.GetString("redis.addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-memory rate limiting", "addr", addr, "error", err)
		} else {
			counter = ratelimit.NewRedisCounter(rdb)
			logger.Info("rate limiting backed by redis", "addr", addr)
		}
	}

	// Chat model key: config first, settings table as fallback so it can
	// be rotated from the admin UI without a restart of the config file.
	apiKey := viper.GetString("deepseek.api_key")
	if apiKey == "" {
		if stored, err := st.GetSetting(ctx, model.SettingDeepSeekKey); err == nil {
			apiKey = stored
		}
	}
	ai := deepseek.New(apiKey)
	if !ai.Configured() {
		logger.Info("deepseek api key not set, chat and draft generation disabled")
	}

	dispatcher := webhook.NewDispatcher(st, logger)

	hasUser, err := st.HasAnyUser(ctx)
	if err != nil {
		logger.Warn("failed to check for staff accounts", "error", err)
	}
	if !hasUser {
		logger.Warn("no staff account found - run: bloom admin create")
	}

	cfg := server.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Version = versionString()
	cfg.BaseURL = viper.GetString("server.base_url")
	cfg.SessionTTL = sessionTTL
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	if rl := viper.GetInt("server.rate_limit_per_minute"); rl > 0 || viper.IsSet("server.rate_limit_per_minute") {
		cfg.GlobalRateLimit = rl
	}

	srv := server.New(cfg, server.Deps{
		Store:      st,
		Auth:       authSvc,
		Counter:    counter,
		AI:         ai,
		Dispatcher: dispatcher,
	}, logger)

	fmt.Printf("→ Bloom %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI: http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
