/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/imposter/session"
	"github.com/Seednode/imposter/transport"
)

type Config struct {
	// signal
	bind    string
	burst   int
	port    int
	prefix  string
	profile bool
	rate    float64
	tlsCert string
	tlsKey  string

	// host, join, simulate
	dialTimeout time.Duration
	iceServers  []string
	items       []string
	name        string
	players     int
	qr          string
	rounds      int
	signalURL   string

	verbose bool
}

func (c *Config) validateSignal() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.rate <= 0 || c.burst < 1 {
		return fmt.Errorf("invalid rate limit: %v/s with burst %d", c.rate, c.burst)
	}
	return nil
}

func (c *Config) validatePlayer() error {
	if strings.TrimSpace(c.name) == "" {
		return errors.New("--name is required")
	}
	return c.validateGame()
}

func (c *Config) validateGame() error {
	if c.dialTimeout <= 0 {
		return fmt.Errorf("invalid dial timeout: %s", c.dialTimeout)
	}
	for _, item := range c.items {
		if strings.TrimSpace(item) == "" {
			return errors.New("--item values must not be empty")
		}
	}
	return nil
}

func (c *Config) validateRemote() error {
	if err := c.validatePlayer(); err != nil {
		return err
	}

	u, err := url.Parse(c.signalURL)
	if err != nil {
		return fmt.Errorf("invalid signal url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signal url must use ws:// or wss://: %s", c.signalURL)
	}
	return nil
}

func (c *Config) validateSimulation() error {
	if err := c.validateGame(); err != nil {
		return err
	}
	if c.players < session.MinPlayers {
		return fmt.Errorf("--players must be at least %d", session.MinPlayers)
	}
	if c.rounds < 1 {
		return errors.New("--rounds must be at least 1")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv lets every flag in fs be set from IMPOSTER_<FLAG> unless it was
// given on the command line.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("IMPOSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

func newCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:     "imposter",
		Short:   "A peer-to-peer party game: everyone shares a secret, except the imposter.",
		Args:    cobra.ExactArgs(0),
		Version: releaseVersion,
	}

	pfs := cmd.PersistentFlags()
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: IMPOSTER_VERBOSE)")
	bindEnv(v, pfs)

	cmd.AddCommand(
		newSignalCmd(cfg),
		newHostCmd(cfg),
		newJoinCmd(cfg),
		newSimulateCmd(cfg),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("imposter v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newSignalCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Run the signaling broker that introduces peers to each other.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateSignal(); err != nil {
				return err
			}
			return ServeSignal(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: IMPOSTER_BIND)")
	fs.IntVar(&cfg.burst, "burst", 20, "signaling messages a client may send in a burst (env: IMPOSTER_BURST)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: IMPOSTER_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: IMPOSTER_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: IMPOSTER_PROFILE)")
	fs.Float64Var(&cfg.rate, "rate", 5, "signaling messages per second allowed per client (env: IMPOSTER_RATE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: IMPOSTER_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: IMPOSTER_TLS_KEY)")
	bindEnv(v, fs)

	return cmd
}

func playerFlags(cfg *Config, fs *pflag.FlagSet) {
	fs.DurationVar(&cfg.dialTimeout, "dial-timeout", 30*time.Second, "time allowed for reaching the broker or host (env: IMPOSTER_DIAL_TIMEOUT)")
	fs.StringSliceVar(&cfg.iceServers, "ice-server", transport.DefaultICEServers, "STUN/TURN server url, repeatable (env: IMPOSTER_ICE_SERVER)")
	fs.StringSliceVar(&cfg.items, "item", nil, "shared item to draw from, repeatable; defaults to the built-in catalog (env: IMPOSTER_ITEM)")
	fs.StringVarP(&cfg.name, "name", "n", "", "your display name (env: IMPOSTER_NAME)")
	fs.StringVar(&cfg.signalURL, "signal-url", "ws://localhost:8080/signal", "signaling broker websocket url (env: IMPOSTER_SIGNAL_URL)")
}

func newHostCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create a session and print its room code.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateRemote(); err != nil {
				return err
			}
			return runPlayer(cmd.Context(), cfg, "", cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	playerFlags(cfg, fs)
	fs.StringVar(&cfg.qr, "qr", "", "write the room code as a QR code PNG to this path (env: IMPOSTER_QR)")
	bindEnv(v, fs)

	return cmd
}

func newJoinCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "join <room code>",
		Short: "Join the session behind a room code.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateRemote(); err != nil {
				return err
			}
			return runPlayer(cmd.Context(), cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	playerFlags(cfg, fs)
	bindEnv(v, fs)

	return cmd
}

func newSimulateCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play rounds between in-process peers and print what each one sees.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateSimulation(); err != nil {
				return err
			}
			return runSimulation(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.DurationVar(&cfg.dialTimeout, "dial-timeout", 30*time.Second, "time allowed for each step of the simulation (env: IMPOSTER_DIAL_TIMEOUT)")
	fs.StringSliceVar(&cfg.items, "item", nil, "shared item to draw from, repeatable; defaults to the built-in catalog (env: IMPOSTER_ITEM)")
	fs.StringVarP(&cfg.name, "name", "n", "", "the host's display name, Alice if unset (env: IMPOSTER_NAME)")
	fs.IntVar(&cfg.players, "players", session.MinPlayers, "number of players including the host (env: IMPOSTER_PLAYERS)")
	fs.IntVar(&cfg.rounds, "rounds", 1, "number of rounds to play (env: IMPOSTER_ROUNDS)")
	bindEnv(v, fs)

	return cmd
}
