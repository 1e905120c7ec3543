package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodibridge/internal/adapters/mqttserver"
	"github.com/mikey-austin/kodibridge/internal/daemon"
	embeddedmqtt "github.com/mikey-austin/kodibridge/internal/modules/embedded_mqtt"
	kodisession "github.com/mikey-austin/kodibridge/internal/modules/kodi_session"
	"github.com/mikey-austin/kodibridge/pkg/kb"
)

type overrides struct {
	broker    string
	identity  string
	topicBase string
	logLevel  string
	logFormat string
	logOutput string
	logSource bool
	logUTC    bool
	logColor  bool
}

func main() {
	var (
		configPath  string
		ov          overrides
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := daemon.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&ov.broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&ov.identity, "identity", "", "server identity override")
	flag.StringVar(&ov.topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&ov.logLevel, "log-level", "", "log level override")
	flag.StringVar(&ov.logFormat, "log-format", "", "log format override (text|json)")
	flag.StringVar(&ov.logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&ov.logSource, "log-source", false, "include source file in logs")
	flag.BoolVar(&ov.logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.BoolVar(&ov.logColor, "log-color", false, "enable colored log output (text only)")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module (embedded_mqtt or a kodi node id)")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, ov)

	if printConfig {
		printResolvedConfig(os.Stdout, cfg)
		return
	}
	if dryRun {
		return
	}

	logger := daemon.NewLogger(daemon.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
		Color:     cfg.Server.LogColor,
	})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	skipEmbedded := false
	if moduleOnly != "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedBrokerURL(cfg) {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			logger.Error("embedded mqtt failed", zap.Error(err))
			os.Exit(1)
		}
		skipEmbedded = true
	}

	if cfg.Server.Broker == "" && !(moduleOnly == "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled) {
		logger.Error("broker is required")
		os.Exit(1)
	}
	logger.Info("kodid starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("log_level", cfg.Server.LogLevel),
		zap.String("log_format", cfg.Server.LogFormat),
		zap.Strings("modules", enabledModules(cfg)),
	)

	modules, err := buildModules(cfg, logger, moduleOnly, skipEmbedded, func(nodeID string) (*mqttserver.Client, error) {
		return connect(cfg, logger, nodeID)
	})
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		os.Exit(1)
	}

	supervisor := daemon.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func applyOverrides(cfg *daemon.Config, ov overrides) {
	if ov.broker != "" {
		cfg.Server.Broker = ov.broker
	}
	if ov.identity != "" {
		cfg.Server.Identity = ov.identity
	}
	if ov.topicBase != "" {
		cfg.Server.TopicBase = ov.topicBase
	}
	if ov.logLevel != "" {
		cfg.Server.LogLevel = ov.logLevel
	}
	if ov.logFormat != "" {
		cfg.Server.LogFormat = ov.logFormat
	}
	if ov.logOutput != "" {
		cfg.Server.LogOutput = ov.logOutput
	}
	if ov.logSource {
		cfg.Server.LogSource = true
	}
	if ov.logUTC {
		cfg.Server.LogUTC = true
	}
	if ov.logColor {
		cfg.Server.LogColor = true
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = kb.BaseTopic
	}
	if cfg.Server.Identity == "" {
		host, _ := os.Hostname()
		cfg.Server.Identity = "kodid@" + host
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(*cfg)
	}
}

// connect opens the broker connection for one Kodi node. The will clears the
// node's retained presence if kodid disappears without a clean shutdown.
func connect(cfg daemon.Config, logger *zap.Logger, nodeID string) (*mqttserver.Client, error) {
	return mqttserver.NewClient(mqttserver.Options{
		BrokerURL:   cfg.Server.Broker,
		ClientID:    fmt.Sprintf("kodid-%s-%d", daemon.Slug(nodeID), time.Now().UnixNano()),
		Username:    cfg.Server.Auth.User,
		Password:    cfg.Server.Auth.Pass,
		TLSCA:       cfg.Server.TLS.CA,
		TLSCert:     cfg.Server.TLS.Cert,
		TLSKey:      cfg.Server.TLS.Key,
		Timeout:     2 * time.Second,
		Logger:      logger.With(zap.String("node_id", nodeID)),
		WillTopic:   kb.TopicPresence(cfg.Server.TopicBase, nodeID),
		WillPayload: []byte{},
	})
}

func buildModules(cfg daemon.Config, logger *zap.Logger, moduleOnly string, skipEmbedded bool, newClient func(nodeID string) (*mqttserver.Client, error)) ([]daemon.ModuleRunner, error) {
	modules := []daemon.ModuleRunner{}
	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded {
		if moduleOnly == "" || moduleOnly == "embedded_mqtt" {
			mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
			if err != nil {
				return nil, err
			}
			modules = append(modules, daemon.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
		}
	}

	for _, k := range cfg.Modules.Kodi {
		if moduleOnly != "" && moduleOnly != k.NodeID {
			continue
		}
		client, err := newClient(k.NodeID)
		if err != nil {
			return nil, fmt.Errorf("%s: mqtt connection failed: %w", k.NodeID, err)
		}
		mod, err := kodisession.NewModule(logger, client, kodisession.Config{
			NodeID:            k.NodeID,
			TopicBase:         cfg.Server.TopicBase,
			Name:              k.Name,
			Endpoint:          k.Endpoint(),
			ReconnectInterval: k.ReconnectInterval(),
			CallTimeout:       k.CallTimeout(),
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, daemon.ModuleRunner{
			Name: k.NodeID,
			Run: func(ctx context.Context) error {
				defer client.Disconnect(250 * time.Millisecond)
				return mod.Run(ctx)
			},
		})
	}

	if len(modules) == 0 {
		if moduleOnly != "" {
			return nil, fmt.Errorf("module %q not configured", moduleOnly)
		}
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

func enabledModules(cfg daemon.Config) []string {
	out := []string{}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	for _, k := range cfg.Modules.Kodi {
		out = append(out, k.NodeID)
	}
	return out
}

func printResolvedConfig(w io.Writer, cfg daemon.Config) {
	fmt.Fprintf(w,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s log_source=%t log_utc=%t log_color=%t\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		cfg.Server.LogSource,
		cfg.Server.LogUTC,
		cfg.Server.LogColor,
	)
	for _, k := range cfg.Modules.Kodi {
		fmt.Fprintf(w, "kodi node_id=%s name=%q endpoint=%s\n", k.NodeID, k.Name, k.Endpoint().URL())
	}
}

func embeddedConfig(cfg daemon.Config) embeddedmqtt.Config {
	e := cfg.Modules.EmbeddedMQTT
	listen := e.Listen
	if listen == "" {
		listen = embeddedmqtt.DefaultListen
	}
	return embeddedmqtt.Config{
		Listen:         listen,
		AllowAnonymous: e.AllowAnonymous,
		Username:       e.Username,
		Password:       e.Password,
		TLSCA:          e.TLSCA,
		TLSCert:        e.TLSCert,
		TLSKey:         e.TLSKey,
	}
}

func embeddedBrokerURL(cfg daemon.Config) string {
	e := embeddedConfig(cfg)
	return embeddedmqtt.BrokerURL(e.Listen, e.TLSEnabled())
}

func startEmbeddedBroker(ctx context.Context, cfg daemon.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	ecfg := embeddedConfig(cfg)
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), ecfg)
	if err != nil {
		return err
	}
	go func() {
		if err := mod.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()
	return embeddedmqtt.WaitForListen(ctx, dialAddr(ecfg.Listen), 3*time.Second)
}

// dialAddr maps wildcard listen hosts to loopback.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
