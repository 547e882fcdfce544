package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nsg-ethz/SIFT/internal/config"
	"github.com/nsg-ethz/SIFT/internal/dispatch"
	"github.com/nsg-ethz/SIFT/internal/fetch"
	"github.com/nsg-ethz/SIFT/internal/ingest"
	"github.com/nsg-ethz/SIFT/internal/store"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Consume the request queue through the fetcher transports",
	Long: `Claims open requests one at a time, fetches them through the
round-robin-next transport under the global rate floor, and ingests the
payloads. Runs until interrupted, or until the queue drains with --exit.`,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)

	dispatchCmd.Flags().Bool("local", false, "Use one in-process transport, ignore the transports file")
	dispatchCmd.Flags().Bool("exit", false, "Stop when the queue drains")
	dispatchCmd.Flags().BoolP("yes", "y", false, "Replay staged payloads without prompting")
	dispatchCmd.Flags().String("transports", "./transports.yml", "Transport descriptor file")
	dispatchCmd.Flags().String("script", "./gt-fetch", "Fetcher script for local mode")
	dispatchCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"local", "local"},
		{"exit", "exit"},
		{"yes", "yes"},
		{"transports_path", "transports"},
		{"script", "script"},
	}
	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, dispatchCmd.Flags().Lookup(bind.flagName)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if show, _ := cmd.Flags().GetBool("show-config"); show {
		return showCurrentConfig(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	transports, err := buildTransports(cfg)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	d, err := dispatch.New(st, &ingest.Pipeline{Store: st}, transports, dispatch.Options{
		ExitWhenIdle: cfg.ExitWhenIdle,
	})
	if err != nil {
		return err
	}

	confirm := promptReplay
	if cfg.AssumeYes {
		confirm = func(int) bool { return true }
	}
	if err := d.RecoverStaging(confirm); err != nil {
		return fmt.Errorf("staging recovery failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

// buildTransports realizes the transport pool: a single in-process one
// in local mode, the active descriptors from the transports file
// otherwise.
func buildTransports(cfg *config.Config) ([]fetch.Transport, error) {
	if cfg.Local {
		return []fetch.Transport{&fetch.Local{Script: cfg.Script}}, nil
	}

	descriptors, err := config.LoadTransports(cfg.TransportsPath)
	if err != nil {
		return nil, err
	}

	transports := make([]fetch.Transport, 0, len(descriptors))
	for _, d := range descriptors {
		switch d.Type {
		case config.TransportPopen:
			transports = append(transports, &fetch.Local{Script: d.Script})
		case config.TransportSudo:
			transports = append(transports, &fetch.Sudo{User: d.User, Group: d.Group, Script: d.Script})
		case config.TransportSSH:
			transports = append(transports, &fetch.SSH{User: d.User, RemoteHost: d.Host})
		}
	}
	return transports, nil
}

// promptReplay asks the operator whether staged payloads from a
// previous run should be replayed through ingestion.
func promptReplay(count int) bool {
	fmt.Fprintf(os.Stderr, "%d staged payload(s) left by a previous run. Replay through ingestion? [y/N] ", count)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func showCurrentConfig(cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Printf("# Current SIFT configuration\n")
	fmt.Printf("# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("# Config file search path: ./sift.yml; environment prefix: SIFT_\n\n")
	fmt.Print(string(data))
	return nil
}
