package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodibridge/internal/adapters/config"
	"github.com/mikey-austin/kodibridge/internal/adapters/idgen"
	"github.com/mikey-austin/kodibridge/internal/adapters/mqtt"
	"github.com/mikey-austin/kodibridge/internal/adapters/output"
	"github.com/mikey-austin/kodibridge/internal/core"
	"github.com/mikey-austin/kodibridge/pkg/kb"
)

type app struct {
	service  core.Service
	printer  output.Printer
	selector string
	timeout  time.Duration
	close    func()
}

func main() {
	root := rootCommand()
	err := root.Execute()
	if a := fromContext(root); a != nil && a.close != nil {
		a.close()
	}
	if err != nil {
		os.Exit(core.ExitCode(err))
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "kodictl",
		Short:         "Control Kodi through kodid",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var (
		broker    string
		topicBase string
		identity  string
		selector  string
		timeout   time.Duration
		jsonOut   bool
		tlsCA     string
		tlsCert   string
		tlsKey    string
		userOpt   string
		passOpt   string
	)

	root.PersistentFlags().StringVarP(&broker, "broker", "b", "", "MQTT broker URL")
	root.PersistentFlags().StringVar(&topicBase, "topic-base", kb.BaseTopic, "MQTT topic base")
	root.PersistentFlags().StringVarP(&identity, "identity", "i", "", "controller identity")
	root.PersistentFlags().StringVarP(&selector, "kodi", "k", "", "kodi node (name, alias or node id)")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "command timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().StringVar(&tlsCA, "tls-ca", "", "TLS CA path")
	root.PersistentFlags().StringVar(&tlsCert, "tls-cert", "", "TLS cert path")
	root.PersistentFlags().StringVar(&tlsKey, "tls-key", "", "TLS key path")
	root.PersistentFlags().StringVar(&userOpt, "user", "", "MQTT username")
	root.PersistentFlags().StringVar(&passOpt, "pass", "", "MQTT password")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return core.WrapError(core.ExitUsage, "load config", err)
		}
		identity = defaultIdentity(identity, cfg.Identity)
		broker = firstNonEmpty(broker, cfg.Broker)
		if topicBase == kb.BaseTopic && cfg.TopicBase != "" {
			topicBase = cfg.TopicBase
		}
		if broker == "" {
			return &core.CLIError{Code: core.ExitUsage, Msg: "broker is required (set --broker or config)"}
		}

		mqttClient, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: broker,
			ClientID:  fmt.Sprintf("kodictl-%d", time.Now().UnixNano()),
			Username:  firstNonEmpty(userOpt, cfg.Username),
			Password:  firstNonEmpty(passOpt, cfg.Password),
			TLSCA:     firstNonEmpty(tlsCA, cfg.TLSCA),
			TLSCert:   firstNonEmpty(tlsCert, cfg.TLSCert),
			TLSKey:    firstNonEmpty(tlsKey, cfg.TLSKey),
			TopicBase: topicBase,
			Timeout:   timeout,
		})
		if err != nil {
			return core.WrapError(core.ExitRuntime, "connect to broker", err)
		}

		coreCfg := core.Config{
			Broker:    broker,
			Identity:  identity,
			TopicBase: topicBase,
			Aliases:   cfg.Aliases,
			Defaults:  core.Defaults{Kodi: cfg.Defaults.Kodi},
		}
		service := core.Service{
			Broker:   mqttClient,
			Resolver: core.Resolver{Presence: mqttClient, Config: coreCfg},
			IDGen:    idgen.Generator{},
			Config:   coreCfg,
		}

		cmd.Root().SetContext(context.WithValue(context.Background(), appKey{}, &app{
			service:  service,
			printer:  output.New(jsonOut),
			selector: selector,
			timeout:  timeout,
			close:    mqttClient.Close,
		}))
		cmd.SetContext(cmd.Root().Context())
		return nil
	}

	root.AddCommand(lsCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(eventsCommand())
	root.AddCommand(movieCommand())
	root.AddCommand(episodeCommand())
	root.AddCommand(musicCommand())
	root.AddCommand(addonCommand())
	root.AddCommand(toggleCommand())
	root.AddCommand(stopCommand())
	root.AddCommand(nextCommand())
	root.AddCommand(prevCommand())
	root.AddCommand(volumeCommand())
	root.AddCommand(muteCommand(true))
	root.AddCommand(muteCommand(false))
	root.AddCommand(subsCommand())
	root.AddCommand(partyModeCommand())
	root.AddCommand(playingCommand())
	root.AddCommand(powerCommand())

	return root
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	val, _ := ctx.Value(appKey{}).(*app)
	return val
}

// run executes fn with a timeout-bound context and prints its result.
func run[T any](cmd *cobra.Command, fn func(ctx context.Context, a *app) (T, error)) error {
	a := fromContext(cmd)
	if a == nil {
		return errors.New("kodictl not initialised")
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	result, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return a.printer.Print(result)
}

func defaultIdentity(flagVal string, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	usr, _ := user.Current()
	host, _ := os.Hostname()
	if usr != nil && host != "" {
		return fmt.Sprintf("%s@%s", usr.Username, host)
	}
	if host != "" {
		return host
	}
	return "kodictl-unknown"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
