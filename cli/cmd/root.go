package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pushreceiver "github.com/slush-dev/push-receiver"
	"github.com/slush-dev/push-receiver/fcm"
	"github.com/slush-dev/push-receiver/store/filestore"
	"github.com/slush-dev/push-receiver/store/redisstore"
)

// config is resolved from flags, PUSH_RECEIVER_* environment variables and
// an optional config file, in that order of precedence.
var config = viper.New()

var configFile string

func defaultSessionDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".push-receiver")
}

var rootCmd = &cobra.Command{
	Use:          "push-receiver",
	Short:        "Register for FCM push notifications and listen for them",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		slog.SetDefault(newLogger(os.Stderr, config.GetString("log-level"), config.GetString("log-format"), config.GetBool("verbose")))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Optional YAML config file")
	flags.String("session-dir", defaultSessionDir(), "Directory holding the file store")
	flags.String("sender-id", "", "FCM sender ID to register for")
	flags.String("store", "file", "State store: file, redis or memory")
	flags.String("redis-addr", "localhost:6379", "Redis address for --store redis")
	flags.Int("redis-db", 0, "Redis database for --store redis")
	flags.String("redis-prefix", redisstore.DefaultPrefix, "Key prefix for --store redis")
	flags.Int("max-persistent-ids", 0, "Keep only the newest N persistent IDs (0 keeps all)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.Bool("yaml", false, "Print output in YAML format")

	if err := config.BindPFlags(flags); err != nil {
		panic(err)
	}
	config.SetEnvPrefix("PUSH_RECEIVER")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()
}

func loadConfig() error {
	if configFile == "" {
		return nil
	}
	config.SetConfigFile(configFile)
	if err := config.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", configFile, err)
	}
	return nil
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger: tint for terminals, JSON otherwise.
func newLogger(w io.Writer, level, format string, verbose bool) *slog.Logger {
	lvl := parseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		AddSource:  lvl == slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore returns the configured store and a function releasing it.
func openStore() (pushreceiver.Store, func(), error) {
	logger := slog.Default()
	switch kind := config.GetString("store"); kind {
	case "file", "":
		return filestore.New(config.GetString("session-dir"), filestore.WithLogger(logger)), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: config.GetString("redis-addr"),
			DB:   config.GetInt("redis-db"),
		})
		s := redisstore.New(client,
			redisstore.WithPrefix(config.GetString("redis-prefix")),
			redisstore.WithLogger(logger),
		)
		return s, func() { client.Close() }, nil
	case "memory":
		return pushreceiver.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want file, redis or memory)", kind)
	}
}

// senderID returns the configured sender ID or an error naming the flag.
func senderID() (string, error) {
	id := config.GetString("sender-id")
	if id == "" {
		return "", fmt.Errorf("no sender ID: pass --sender-id or set PUSH_RECEIVER_SENDER_ID")
	}
	return id, nil
}

// newController wires the configured store and the FCM transport to sink.
func newController(sink pushreceiver.Sink) (*pushreceiver.Controller, func(), error) {
	store, release, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.Default()
	ctrl := pushreceiver.NewController(store, fcm.NewTransport(fcm.WithLogger(logger)), sink,
		pushreceiver.WithLogger(logger),
		pushreceiver.WithMaxPersistentIDs(config.GetInt("max-persistent-ids")),
	)
	return ctrl, func() {
		ctrl.Close()
		release()
	}, nil
}

func useYAML() bool {
	return config.GetBool("yaml")
}
