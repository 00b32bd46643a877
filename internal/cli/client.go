// Package cli: client.go implements the "udp-portcheck client" command.
//
// The client command probes every UDP port in [--from-port, --to-port] on
// --ip, sending --token and waiting up to --timeout milliseconds per port
// for it to be echoed back, with at most --max-task probes in flight. It
// prints the ports that failed. The command exits 0 whenever the run
// completes, however many ports failed.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/udp-portcheck/internal/config"
	"github.com/mmr-tortoise/udp-portcheck/internal/model"
	"github.com/mmr-tortoise/udp-portcheck/internal/probe"
)

// clientFlags holds the flag values for the client command.
// Port and IP flags are strings so that validation produces the same
// messages whether a value came from the command line or a config file.
type clientFlags struct {
	ip        string
	fromPort  string
	toPort    string
	token     string
	timeoutMS int
	maxTask   int
	acceptAny bool
}

// NewClientCommand creates the "client" cobra command.
func NewClientCommand() *cobra.Command {
	flags := &clientFlags{}
	defaults := config.Default().Client

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Probe a range of UDP ports on a server",
		Long: `Send the token to every UDP port in the range and report the ports that
did not echo it back before the timeout.

Each probe binds its own ephemeral local socket. At most --max-task probes
run at the same time. By default a reply must equal the token exactly;
--accept-any counts any reply datagram as success.

Examples:
  udp-portcheck client --ip 10.0.0.5 --from-port 9000 --to-port 9100 --token ping
  udp-portcheck client --ip 10.0.0.5 --from-port 1 --to-port 65535 --timeout 500 --max-task 200
  udp-portcheck client --config portcheck.yaml --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.ip, "ip", defaults.IP, "Server IP address to probe, for example 127.0.0.1")
	cmd.Flags().StringVar(&flags.fromPort, "from-port", "", "First UDP port to probe (1-65535)")
	cmd.Flags().StringVar(&flags.toPort, "to-port", "", "Last UDP port to probe (1-65535, >= from-port)")
	cmd.Flags().StringVar(&flags.token, "token", defaults.Token, "Token sent to the server and expected back")
	cmd.Flags().IntVar(&flags.timeoutMS, "timeout", defaults.TimeoutMS, "Timeout per port check, in milliseconds")
	cmd.Flags().IntVar(&flags.maxTask, "max-task", defaults.MaxTask, "Maximum number of concurrent probes")
	cmd.Flags().BoolVar(&flags.acceptAny, "accept-any", defaults.AcceptAny,
		"Count any reply datagram as success without comparing it to the token")

	return cmd
}

// runClient is the main logic function for the client command.
func runClient(ctx context.Context, cmd *cobra.Command, flags *clientFlags) error {
	// Step 1: Merge config file values into flags the user did not set.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyClientConfig(cmd, flags, cfg.Client)

	// Step 2: Validate everything before opening a socket.
	task, err := buildTask(flags)
	if err != nil {
		return err
	}

	// Step 3: Run the scheduler.
	logger := newLogger(cmd)
	result, err := probe.NewScheduler(logger).Run(ctx, task)
	if err != nil {
		// An interrupted run reports no partial result.
		if ctx.Err() != nil {
			return model.NewCLIError(model.ExitError, "probe run interrupted")
		}
		return model.WrapCLIError(model.ExitError, "probe run did not complete", err)
	}

	// Step 4: Output the result.
	printClientResult(cmd.OutOrStdout(), result)
	return nil
}

// applyClientConfig copies config values into every flag that was not set
// explicitly, so the precedence is flag > config file > default.
func applyClientConfig(cmd *cobra.Command, flags *clientFlags, cfg config.ClientConfig) {
	f := cmd.Flags()
	if !f.Changed("ip") && cfg.IP != "" {
		flags.ip = cfg.IP
	}
	if !f.Changed("from-port") && cfg.FromPort != 0 {
		flags.fromPort = strconv.Itoa(cfg.FromPort)
	}
	if !f.Changed("to-port") && cfg.ToPort != 0 {
		flags.toPort = strconv.Itoa(cfg.ToPort)
	}
	if !f.Changed("token") {
		flags.token = cfg.Token
	}
	if !f.Changed("timeout") {
		flags.timeoutMS = cfg.TimeoutMS
	}
	if !f.Changed("max-task") {
		flags.maxTask = cfg.MaxTask
	}
	if !f.Changed("accept-any") {
		flags.acceptAny = cfg.AcceptAny
	}
}

// buildTask validates the merged flag values and turns them into a
// probe.Task. Every validation failure is a CLIError with ExitError.
func buildTask(flags *clientFlags) (probe.Task, error) {
	invalid := func(err error) (probe.Task, error) {
		return probe.Task{}, model.WrapCLIError(model.ExitError, "invalid client arguments", err)
	}

	if flags.ip == "" {
		return invalid(fmt.Errorf("--ip is required"))
	}
	ip, err := model.ParseIP(flags.ip)
	if err != nil {
		return invalid(err)
	}

	if flags.fromPort == "" || flags.toPort == "" {
		return invalid(fmt.Errorf("--from-port and --to-port are required"))
	}
	from, err := model.ParsePort(flags.fromPort)
	if err != nil {
		return invalid(err)
	}
	to, err := model.ParsePort(flags.toPort)
	if err != nil {
		return invalid(err)
	}
	portRange, err := model.NewPortRange(from, to)
	if err != nil {
		return invalid(err)
	}

	if err := model.ValidateToken(flags.token); err != nil {
		return invalid(err)
	}
	if flags.timeoutMS <= 0 {
		return invalid(fmt.Errorf("--timeout must be > 0 ms, got %d", flags.timeoutMS))
	}
	if flags.maxTask < 1 {
		return invalid(fmt.Errorf("--max-task must be >= 1, got %d", flags.maxTask))
	}

	return probe.Task{
		IP:             ip,
		Range:          portRange,
		Token:          flags.token,
		Timeout:        time.Duration(flags.timeoutMS) * time.Millisecond,
		MaxConcurrency: flags.maxTask,
		AcceptAny:      flags.acceptAny,
	}, nil
}

// printClientResult outputs the run result in text or JSON format,
// depending on the global --json flag.
func printClientResult(w io.Writer, result *model.Result) {
	if IsJSONOutput() {
		printClientResultJSON(w, result)
	} else {
		printClientResultText(w, result)
	}
}

// clientResultJSON is the JSON output structure of the client command.
type clientResultJSON struct {
	Target          string         `json:"target"`
	FromPort        uint16         `json:"fromPort"`
	ToPort          uint16         `json:"toPort"`
	Probed          int            `json:"probed"`
	Succeeded       int            `json:"succeeded"`
	Failed          []uint16       `json:"failed"`
	Reasons         map[string]int `json:"reasons"`
	PeakConcurrency int            `json:"peakConcurrency"`
	ElapsedMs       int64          `json:"elapsedMs"`
}

// printClientResultJSON outputs the result as structured JSON.
func printClientResultJSON(w io.Writer, result *model.Result) {
	out := clientResultJSON{
		Target:          result.Target,
		FromPort:        result.Range.From,
		ToPort:          result.Range.To,
		Probed:          result.Probed,
		Succeeded:       result.Succeeded(),
		Failed:          make([]uint16, 0, len(result.Failed)),
		Reasons:         make(map[string]int, len(result.Reasons)),
		PeakConcurrency: result.PeakConcurrency,
		ElapsedMs:       result.Elapsed.Milliseconds(),
	}
	out.Failed = append(out.Failed, result.Failed...)
	for reason, n := range result.Reasons {
		out.Reasons[reason.String()] = n
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(w, string(data))
}

// printClientResultText outputs a summary line followed by the failed
// ports, for example:
//
//	127.0.0.1 ports 9000-9002: 3 probed, 1 ok, 2 failed in 512ms
//	failed ports: 9000,9002
func printClientResultText(w io.Writer, result *model.Result) {
	fmt.Fprintf(w, "%s ports %s: %d probed, %d ok, %d failed in %s\n",
		result.Target, result.Range, result.Probed, result.Succeeded(), len(result.Failed),
		result.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "failed ports: %s\n", FormatPorts(result.Failed))
}

// FormatPorts renders a sorted port list as a comma-separated string with
// consecutive runs collapsed into ranges. Returns "-" for an empty list.
//
// Example:
//
//	[9000, 9002, 9003, 9004, 9010] → "9000,9002-9004,9010"
//	[]                             → "-"
func FormatPorts(ports []uint16) string {
	if len(ports) == 0 {
		return "-"
	}

	parts := make([]string, 0, len(ports))
	start, prev := ports[0], ports[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(int(start)))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}

	for _, p := range ports[1:] {
		if int(p) == int(prev)+1 {
			prev = p
			continue
		}
		flush()
		start, prev = p, p
	}
	flush()

	return strings.Join(parts, ",")
}
