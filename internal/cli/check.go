package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"hearth/internal/config"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Fix bool // if true, write default config when missing
}

// RunCheck runs the check subcommand: checks config, gateway, and module
// paths; optionally repairs. Returns exit code.
func RunCheck(args []string, stdout, stderr io.Writer) int {
	opts := parseCheckOptions(args)
	cfgPath := config.DefaultPath()

	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}

	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			note("Config", fmt.Sprintf("No config at %s.", cfgPath))
			if opts.Fix {
				if writeErr := writeDefaultConfig(cfgPath); writeErr != nil {
					fmt.Fprintf(stderr, "  failed to write default config: %v\n", writeErr)
					return 1
				}
				note("Config", fmt.Sprintf("Wrote default config to %s.", cfgPath))
			} else {
				note("Config", "Run with --fix to create a default hearth.json.")
			}
		} else {
			note("Config", err.Error())
			return 1
		}
	} else {
		note("Config", fmt.Sprintf("Loaded %s.", cfgPath))

		// 2. Gateway
		if cfg.Gateway.Auth.AuthToken == "" {
			note("Gateway", fmt.Sprintf("port=%d auth=disabled", cfg.Gateway.Port))
			note("Gateway", "Auth is disabled. Set gateway.auth.auth_token if the device is reachable beyond your LAN.")
		} else {
			note("Gateway", fmt.Sprintf("port=%d auth=token", cfg.Gateway.Port))
		}

		// 3. Providers
		note("Providers", fmt.Sprintf("default=%s", cfg.Providers.Default))

		// 4. Paths
		if dir := cfg.Modules.DataDir; dir != "" {
			if err := ensureDir(dir, "modules.data_dir"); err != nil {
				note("Paths", err.Error())
			} else {
				note("Paths", fmt.Sprintf("modules.data_dir %s ok.", dir))
			}
		}
		if root := cfg.Modules.FilesRoot; root != "" {
			if err := ensureDir(root, "modules.files_root"); err != nil {
				note("Paths", err.Error())
			} else {
				note("Paths", fmt.Sprintf("modules.files_root %s ok.", root))
			}
		}
	}

	fmt.Fprintln(stdout, "  Check complete.")
	return 0
}

func parseCheckOptions(args []string) CheckOptions {
	var opts CheckOptions
	for _, a := range args {
		if a == "--fix" || a == "-fix" {
			opts.Fix = true
			break
		}
	}
	return opts
}

func ensureDir(dir, label string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(abs, 0755); mkErr != nil {
				return fmt.Errorf("%s %q: mkdir failed: %w", label, abs, mkErr)
			}
			return nil
		}
		return fmt.Errorf("%s %q: %w", label, abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q: not a directory", label, abs)
	}
	return nil
}

func writeDefaultConfig(path string) error {
	return config.WriteDefault(path)
}
