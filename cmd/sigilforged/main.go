// Command sigilforged is the broker daemon: it loads configuration, opens
// the account registry and secret store, and serves the IPC socket until a
// termination signal arrives. See internal/daemon for the startup order.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raibid-labs/sigilforge/internal/config"
	"github.com/raibid-labs/sigilforge/internal/daemon"
	"github.com/raibid-labs/sigilforge/internal/logging"
)

func main() {
	logger := logging.New()
	sup := daemon.New(defaultConfigDir(), logger)

	if err := sup.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "sigilforged: "+err.Error())
		os.Exit(1)
	}
}

// defaultConfigDir picks the config directory sigilforged uses when
// SIGILFORGE_CONFIG_DIR is unset; LoadConfig applies that override itself,
// so this is only the fallback handed to daemon.New.
func defaultConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv(config.EnvConfigDir)); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "sigilforge")
}
