package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vigil-agent/vigil/internal/config"
	"github.com/vigil-agent/vigil/internal/state"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷  vigil version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show controller status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 vigil status")
		fmt.Printf("Version: %s\n", version)

		cfgPath, _ := config.ConfigPath()
		if _, err := os.Stat(cfgPath); err == nil {
			fmt.Println("Config:  " + color.GreenString("✓") + " " + cfgPath)
		} else {
			fmt.Println("Config:  " + color.YellowString("–") + " not found, defaults in effect")
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("Config load error:", err)
			return
		}
		if cfg.Reasoning.APIKey != "" {
			fmt.Println("API Key: " + color.GreenString("✓") + " set")
		} else {
			fmt.Println("API Key: " + color.RedString("✗") + " missing")
		}

		stateDir, err := config.ExpandHome(cfg.Paths.StateDir)
		if err != nil {
			fmt.Println("State dir error:", err)
			return
		}

		ckpts, err := state.NewCheckpointManager(stateDir)
		if err != nil {
			fmt.Println("State dir error:", err)
			return
		}
		if ckpts.Running() {
			fmt.Println("Marker:  " + color.GreenString("●") + " running (or previous run crashed)")
		} else {
			fmt.Println("Marker:  ○ stopped")
		}

		ck, err := ckpts.Load()
		if err != nil {
			fmt.Println("Checkpoint: none")
		} else {
			fmt.Printf("Checkpoint: iteration %d, mode %s, written %s\n",
				ck.IterationID, ck.Session.Mode, ck.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Session:    %s\n", ck.Session.SessionID)
		}

		store, err := state.NewStore(filepath.Join(stateDir, "vigil.db"))
		if err != nil {
			fmt.Println("Log: unavailable:", err)
			return
		}
		defer store.Close()

		lastID, err := store.LastIterationID()
		if err == nil {
			fmt.Printf("Log:        iteration %d durable\n", lastID)
		}
		open, err := store.OpenTasks()
		if err == nil {
			fmt.Printf("Tasks:      %d open\n", len(open))
		}
	},
}
