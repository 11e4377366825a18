// Package agentcli implements the glimmer-agent command line interface.
package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"

	"github.com/glimmerkb/glimmer-agent/internal/configsvc"
	"github.com/glimmerkb/glimmer-agent/internal/lighting"
	"github.com/glimmerkb/glimmer-agent/internal/profiles"
	"github.com/glimmerkb/glimmer-agent/pkg/agent"
	"go.uber.org/zap"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "glimmer"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:        filepath.Join(configDir, "data"),
		ProfilesConfig: filepath.Join(configDir, "config.yaml"),
		WindowPollMs:   250,
	}
	rootCmd := &cobra.Command{
		Use:   "glimmer-agent",
		Short: "Per-key RGB and macro daemon for G-series keyboards",
		Long:  `glimmer-agent drives the lighting, G-key macros and profiles of a G-series keyboard based on the foreground application.`,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.ProfilesConfig, "config", cfg.ProfilesConfig, "configuration file")
	rootCmd.PersistentFlags().BoolVar(&cfg.FullRedraw, "full-redraw", cfg.FullRedraw, "black out unassigned keys on every render")
	rootCmd.PersistentFlags().IntVar(&cfg.WindowPollMs, "window-poll-ms", cfg.WindowPollMs, "foreground window poll interval")

	var a *agent.Agent
	provider := func() *agent.Agent {
		return a
	}
	needsAgent := func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}

	runCmd := NewRun(provider)
	runCmd.PreRunE = needsAgent
	listCmd := NewListDevices(provider)
	listCmd.PreRunE = needsAgent

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(NewInitConfig(&cfg))
	rootCmd.AddCommand(NewRenderTheme(&cfg))
	return rootCmd
}

func NewRun(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent",
		Long:  `Runs the daemon: connects to the keyboard, watches the foreground window and applies profiles until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer agent().Close()
			return agent().Run(cmd.Context())
		},
	}
}

func NewListDevices(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List known keyboards",
		Long:  `Lists every keyboard this host has connected to, with firmware and last-seen data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer agent().Close()
			devices, err := agent().Devices().ListKnownDevices()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(devices, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewInitConfig(cfg *agent.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := configsvc.WriteDefault(cfg.ProfilesConfig, starterConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfg.ProfilesConfig)
			return nil
		},
	}
}

// NewRenderTheme compiles a named theme from the configuration file and
// prints the frame sequence it would send, for protocol debugging.
func NewRenderTheme(cfg *agent.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "render-theme <name>",
		Short: "Print the frames a theme compiles to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yamlB, err := os.ReadFile(cfg.ProfilesConfig)
			if err != nil {
				return err
			}
			var config profiles.Config
			if err := yaml.Unmarshal(yamlB, &config); err != nil {
				return err
			}
			if err := config.Validate(); err != nil {
				return err
			}
			theme, ok := config.Themes[args[0]]
			if !ok {
				return fmt.Errorf("theme %q is not defined", args[0])
			}
			renderer := lighting.NewRenderer(zap.NewNop(), config.Keygroups,
				lighting.WithFullRedraw(cfg.FullRedraw))
			frames, err := renderer.Render(theme)
			if err != nil {
				return err
			}
			for _, frame := range frames {
				fmt.Fprintln(cmd.OutOrStdout(), frame.String())
			}
			return nil
		},
	}
}

func starterConfig() profiles.Config {
	red, _ := lighting.ParseColor("ff0000")
	white, _ := lighting.ParseColor("ffffff")
	return profiles.Config{
		Profiles: []profiles.Profile{
			{
				ID:    profiles.DefaultProfileID,
				Theme: "plain",
			},
		},
		Themes: map[string]lighting.Theme{
			"plain": {
				Effect: &lighting.EffectConfiguration{
					Target: lighting.TargetKeys,
					Effect: lighting.EffectSolid,
					Color:  white,
				},
			},
			"alert": {
				Effect: &lighting.EffectConfiguration{
					Target:   lighting.TargetKeys,
					Effect:   lighting.EffectBreathing,
					Color:    red,
					PeriodMs: 1500,
				},
			},
		},
	}
}
