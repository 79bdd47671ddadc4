package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gridsingularity/d3a/app"
	"github.com/gridsingularity/d3a/config"
	"github.com/gridsingularity/d3a/core/protocol"
	"github.com/gridsingularity/d3a/core/transport"
)

var newTransport = app.NewTransport

var participantCmd = &cobra.Command{
	Use:   "participant",
	Short: "Act as an external participant",
}

var (
	sendDevice  string
	sendCommand string
	sendPayload string
	timeout     time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish one command and print its response",
	RunE:  runSend,
}

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a scenario of commands and print every response",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	sendCmd.Flags().StringVar(&sendDevice, "device", "", "device name")
	sendCmd.Flags().StringVar(&sendCommand, "command", "", "command name, e.g. offer or register_participant")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "{}", "JSON payload")
	_ = sendCmd.MarkFlagRequired("device")
	_ = sendCmd.MarkFlagRequired("command")
	participantCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "time to wait for each response")
	participantCmd.AddCommand(sendCmd, replayCmd)
	rootCmd.AddCommand(participantCmd)
}

// Step is one command of a replayed scenario.
type Step struct {
	Device  string `yaml:"device"`
	Command string `yaml:"command"`
	// Payload is either a JSON string or a YAML mapping.
	Payload any `yaml:"payload"`
	// WaitMS pauses before the command is sent.
	WaitMS int `yaml:"wait_ms"`
}

// Scenario is the replay file format.
type Scenario struct {
	Steps []Step `yaml:"steps"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (Scenario, error) {
	var sc Scenario
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parse scenario: %w", err)
	}
	for i, s := range sc.Steps {
		if s.Device == "" || s.Command == "" {
			return sc, fmt.Errorf("step %d: device and command required", i)
		}
	}
	return sc, nil
}

func (s Step) payload() ([]byte, error) {
	switch p := s.Payload.(type) {
	case nil:
		return []byte("{}"), nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(p)
	}
}

// responseName maps a command to the response topic suffix.
func responseName(command string) string {
	switch command {
	case protocol.RegisterCommand:
		return "register"
	case protocol.UnregisterCommand:
		return "unregister"
	}
	return command
}

func participantTransport(ctx context.Context) (transport.PubSub, string, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Transport.Backend == config.BackendMemory {
		return nil, "", fmt.Errorf("participant commands need the mqtt or redis transport")
	}
	tp, err := newTransport(ctx, cfg.Transport)
	if err != nil {
		return nil, "", fmt.Errorf("transport: %w", err)
	}
	return tp, cfg.Protocol.ChannelPrefix, nil
}

func runSend(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	tp, prefix, err := participantTransport(ctx)
	if err != nil {
		return err
	}
	defer tp.Close()
	step := Step{Device: sendDevice, Command: sendCommand, Payload: sendPayload}
	return Replay(ctx, tp, prefix, []Step{step}, timeout, cmd.OutOrStdout())
}

func runReplay(cmd *cobra.Command, args []string) error {
	sc, err := LoadScenario(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	tp, prefix, err := participantTransport(ctx)
	if err != nil {
		return err
	}
	defer tp.Close()
	return Replay(ctx, tp, prefix, sc.Steps, timeout, cmd.OutOrStdout())
}

// Replay sends every step and writes "<topic> <response>" lines to out.
// Each step waits for the response of its own command.
func Replay(ctx context.Context, tp transport.PubSub, prefix string, steps []Step, wait time.Duration, out io.Writer) error {
	for i, s := range steps {
		if s.WaitMS > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(s.WaitMS) * time.Millisecond):
			}
		}
		payload, err := s.payload()
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		topics := protocol.NewTopics(prefix, s.Device)
		respTopic := topics.Response(responseName(s.Command))
		got := make(chan []byte, 1)
		if err := tp.Subscribe(ctx, respTopic, func(_ string, p []byte) {
			select {
			case got <- p:
			default:
			}
		}); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := tp.Publish(ctx, topics.Command(s.Command), payload); err != nil {
			_ = tp.Unsubscribe(ctx, respTopic)
			return fmt.Errorf("step %d: %w", i, err)
		}
		var resp []byte
		select {
		case resp = <-got:
		case <-time.After(wait):
			err = fmt.Errorf("step %d: no response on %s within %s", i, respTopic, wait)
		case <-ctx.Done():
			err = ctx.Err()
		}
		_ = tp.Unsubscribe(ctx, respTopic)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%s %s\n", respTopic, resp); err != nil {
			return err
		}
	}
	return nil
}
