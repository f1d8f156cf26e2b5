package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/camgate/cmd/camgate/internal"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway and camera status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return statusCmd()
		},
	}
}

type readyResponse struct {
	Status  string `json:"status"`
	Cameras []struct {
		Camera string `json:"camera"`
		Bot    string `json:"bot"`
		State  string `json:"state"`
	} `json:"cameras"`
}

func statusCmd() error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	fmt.Printf("Config: %s\n", internal.GetConfigPath())
	fmt.Printf("  cameras: %d, bots: %d\n", len(cfg.Cameras), len(cfg.Bots))
	for _, cam := range cfg.Cameras {
		flags := ""
		if cam.NoMedia {
			flags = " (alert-only)"
		}
		fmt.Printf("  • %-20s %s:%d → %s%s\n", cam.Name, cam.Host, cam.OnvifPort, cam.Bot, flags)
	}

	url := fmt.Sprintf("http://%s:%d/ready", cfg.Gateway.Host, cfg.Gateway.Port)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("\n✗ Gateway not running (%s unreachable)\n", url)
		return nil
	}
	defer resp.Body.Close()

	var ready readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		return fmt.Errorf("error decoding status response: %w", err)
	}

	fmt.Printf("\n%s camgate %s\n", internal.Logo, ready.Status)
	for _, cam := range ready.Cameras {
		fmt.Printf("  • %-20s %-14s bot=%s\n", cam.Camera, cam.State, cam.Bot)
	}
	return nil
}
