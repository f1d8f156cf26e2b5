package onboard

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/camgate/cmd/camgate/internal"
	"github.com/tinyland-inc/camgate/pkg/config"
)

func NewOnboardCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create a starter configuration",
		Args:  cobra.NoArgs,
		Example: `  camgate onboard
  camgate onboard --force`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return onboardCmd(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	return cmd
}

func onboardCmd(force bool) error {
	path := internal.GetConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.Bots = []config.BotConfig{{
		Name:    "alerts",
		Kind:    config.KindTelegram,
		Token:   "YOUR_BOT_TOKEN",
		Channel: "YOUR_CHAT_ID",
	}}
	cfg.Cameras = []config.CameraConfig{{
		Name:            "front-door",
		Host:            "192.168.1.100",
		OnvifPort:       80,
		Username:        "admin",
		Password:        "CHANGE_ME",
		Bot:             "alerts",
		CooldownSeconds: 30,
		ClipSeconds:     10,
	}}

	if err := config.SaveConfig(path, cfg); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}

	fmt.Printf("%s Config written to %s\n\n", internal.Logo, path)
	fmt.Println("Next steps:")
	fmt.Println("  1. Fill in your camera address and ONVIF credentials")
	fmt.Println("  2. Fill in your bot token and channel")
	fmt.Println("  3. Run: camgate gateway")
	return nil
}
