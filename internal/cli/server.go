// Package cli: server.go implements the "udp-portcheck server" command.
//
// The server command binds one UDP address and runs the echo responder
// until it is interrupted. Each datagram equal to --token is sent back to
// its sender; anything else is logged and ignored.
//
// With --to-port the command serves every port in [--port, --to-port],
// one responder per port, so a single process can answer a whole client
// range. All ports are checked and bound before any of them starts
// serving; if one responder's socket fails later, the others are stopped.
package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/udp-portcheck/internal/config"
	"github.com/mmr-tortoise/udp-portcheck/internal/model"
	"github.com/mmr-tortoise/udp-portcheck/internal/port"
	"github.com/mmr-tortoise/udp-portcheck/internal/responder"
)

// serverFlags holds the flag values for the server command.
type serverFlags struct {
	ip     string
	port   string
	toPort string
	token  string
}

// NewServerCommand creates the "server" cobra command.
func NewServerCommand() *cobra.Command {
	flags := &serverFlags{}
	defaults := config.Default().Server

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Echo the token back on one UDP port or a range of ports",
		Long: `Listen on a UDP address and echo the token back to every client that
sends it. Datagrams that do not match the token are logged and dropped.

The server runs until interrupted (Ctrl-C or SIGTERM).

Examples:
  udp-portcheck server --port 9000 --token ping
  udp-portcheck server --ip 10.0.0.5 --port 9000 --verbose
  udp-portcheck server --port 9000 --to-port 9100 --token ping`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.ip, "ip", defaults.IP, "IP address to listen on")
	cmd.Flags().StringVar(&flags.port, "port", "", "UDP port to listen on (1-65535)")
	cmd.Flags().StringVar(&flags.toPort, "to-port", "", "Also listen on every port up to this one (optional)")
	cmd.Flags().StringVar(&flags.token, "token", defaults.Token, "Token expected from clients")

	return cmd
}

// runServer is the main logic function for the server command.
func runServer(ctx context.Context, cmd *cobra.Command, flags *serverFlags) error {
	// Step 1: Merge config file values into flags the user did not set.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServerConfig(cmd, flags, cfg.Server)

	// Step 2: Validate.
	ip, ports, err := parseServerFlags(flags)
	if err != nil {
		return err
	}

	logger := newLogger(cmd)
	responders := make([]*responder.Responder, 0, ports.Len())
	for _, p := range ports.Ports() {
		r, err := responder.New(flags.token, logger.WithField("port", p))
		if err != nil {
			return model.WrapCLIError(model.ExitError, "invalid server arguments", err)
		}
		responders = append(responders, r)
	}

	// Step 3: For a range, report every busy port at once.
	if ports.Len() > 1 {
		if busy := port.NewScanner(ip).BusyPorts(ports); len(busy) > 0 {
			return model.WrapCLIError(model.ExitError, "failed to start server",
				fmt.Errorf("udp ports already in use on %s: %s", ip, FormatPorts(busy)))
		}
	}

	// Step 4: Bind every port. A bind failure is unrecoverable.
	conns := make([]net.PacketConn, 0, ports.Len())
	closeAll := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	for _, p := range ports.Ports() {
		logger.Debugf("begin to bind addr: %s", net.JoinHostPort(ip.String(), strconv.Itoa(int(p))))
		conn, err := responder.Listen(ctx, ip, p)
		if err != nil {
			closeAll()
			return model.WrapCLIError(model.ExitError, "failed to start server", err)
		}
		conns = append(conns, conn)
	}
	logger.Infof("serving udp %s ports %s", ip, ports)

	// Step 5: Serve until interrupted. One failing socket stops the rest.
	g, gctx := errgroup.WithContext(ctx)
	for i, conn := range conns {
		conn := conn
		r := responders[i]
		g.Go(func() error {
			return r.Serve(gctx, conn)
		})
	}

	if err := g.Wait(); err != nil {
		return model.WrapCLIError(model.ExitError, "server stopped unexpectedly", err)
	}
	return nil
}

// applyServerConfig copies config values into every flag that was not set
// explicitly.
func applyServerConfig(cmd *cobra.Command, flags *serverFlags, cfg config.ServerConfig) {
	f := cmd.Flags()
	if !f.Changed("ip") && cfg.IP != "" {
		flags.ip = cfg.IP
	}
	if !f.Changed("port") && cfg.Port != 0 {
		flags.port = strconv.Itoa(cfg.Port)
	}
	if !f.Changed("to-port") && cfg.ToPort != 0 {
		flags.toPort = strconv.Itoa(cfg.ToPort)
	}
	if !f.Changed("token") {
		flags.token = cfg.Token
	}
}

// parseServerFlags validates the listen address, port range and token.
// Without --to-port the range holds the single --port.
func parseServerFlags(flags *serverFlags) (net.IP, model.PortRange, error) {
	invalid := func(err error) (net.IP, model.PortRange, error) {
		return nil, model.PortRange{}, model.WrapCLIError(model.ExitError, "invalid server arguments", err)
	}

	ip, err := model.ParseIP(flags.ip)
	if err != nil {
		return invalid(err)
	}
	if flags.port == "" {
		return invalid(fmt.Errorf("--port is required"))
	}
	from, err := model.ParsePort(flags.port)
	if err != nil {
		return invalid(err)
	}
	to := from
	if flags.toPort != "" {
		if to, err = model.ParsePort(flags.toPort); err != nil {
			return invalid(err)
		}
	}
	ports, err := model.NewPortRange(from, to)
	if err != nil {
		return invalid(err)
	}
	if err := model.ValidateToken(flags.token); err != nil {
		return invalid(err)
	}
	return ip, ports, nil
}
