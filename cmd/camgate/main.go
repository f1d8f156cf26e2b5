// CamGate - ONVIF camera to chat bridge
//
// Watches camera motion events and relays captured media to Telegram,
// Slack, or Discord.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/camgate/cmd/camgate/internal"
	"github.com/tinyland-inc/camgate/cmd/camgate/internal/gateway"
	"github.com/tinyland-inc/camgate/cmd/camgate/internal/onboard"
	"github.com/tinyland-inc/camgate/cmd/camgate/internal/status"
	"github.com/tinyland-inc/camgate/cmd/camgate/internal/version"
)

func NewCamgateCommand() *cobra.Command {
	short := fmt.Sprintf("%s camgate - Camera motion alerts in your chat v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "camgate",
		Short:   short,
		Example: "camgate gateway",
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		gateway.NewGatewayCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewCamgateCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
