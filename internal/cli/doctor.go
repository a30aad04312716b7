package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hearth/internal/config"
	"hearth/internal/secrets"
)

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Fix bool // Attempt to fix issues automatically
}

// DoctorResult holds the result of a single health check.
type DoctorResult struct {
	Name    string
	Status  string // "pass", "fail", "warn"
	Message string
}

// Injectable for tests: probing Ollama, reading the thermal sensor, and
// opening the secrets store all touch the machine.
var (
	httpGetFunc = func(url string) (*http.Response, error) {
		client := &http.Client{Timeout: 2 * time.Second}
		return client.Get(url)
	}
	thermalZonePath   = "/sys/class/thermal/thermal_zone0/temp"
	newSecretsManager = func() (secrets.SecretsManager, error) { return secrets.DefaultManager() }
)

// RunDoctor runs the doctor subcommand: device health checks for the
// assistant runtime. Returns exit code (0 healthy, 1 issues found).
func RunDoctor(opts DoctorOptions, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "Running hearth health checks...\n\n")

	var results []DoctorResult

	// Check 1: config file loads.
	cfgPath := config.DefaultPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			results = append(results, DoctorResult{"Config", "fail", fmt.Sprintf("No config at %s", cfgPath)})
			if opts.Fix {
				fmt.Fprintf(stdout, "  [FIX] Writing default configuration...\n")
				if writeErr := config.WriteDefault(cfgPath); writeErr != nil {
					fmt.Fprintf(stderr, "  Error: failed to write default config: %v\n", writeErr)
				} else {
					cfg, _ = config.Load(cfgPath)
					results = append(results, DoctorResult{"Config", "pass", "Wrote default configuration"})
				}
			}
		} else {
			results = append(results, DoctorResult{"Config", "fail", fmt.Sprintf("Invalid configuration: %v", err)})
		}
	} else {
		results = append(results, DoctorResult{"Config", "pass", fmt.Sprintf("Config valid (gateway port %d)", cfg.Gateway.Port)})
	}

	if cfg != nil {
		// Check 2: data dir writable.
		if dir := cfg.Modules.DataDir; dir != "" {
			results = append(results, checkDataDir(dir, opts.Fix, stdout, stderr))
		}

		// Check 3: Ollama reachable.
		host := strings.TrimSuffix(cfg.Providers.Ollama.Host, "/")
		if host == "" {
			host = "http://localhost:11434"
		}
		if resp, err := httpGetFunc(host + "/api/tags"); err != nil {
			results = append(results, DoctorResult{"Ollama", "warn", fmt.Sprintf("Not reachable at %s (%v)", host, err)})
		} else {
			resp.Body.Close()
			results = append(results, DoctorResult{"Ollama", "pass", fmt.Sprintf("Reachable at %s", host)})
		}
	}

	// Check 4: OpenAI key present in the secrets store.
	if sm, err := newSecretsManager(); err != nil {
		results = append(results, DoctorResult{"Secrets", "warn", fmt.Sprintf("Secrets store unavailable: %v", err)})
	} else if _, err := sm.Get("openai_api_key"); err != nil {
		results = append(results, DoctorResult{"Secrets", "warn", "No openai_api_key stored; the openai provider will be unavailable"})
	} else {
		results = append(results, DoctorResult{"Secrets", "pass", "openai_api_key present"})
	}

	// Check 5: thermal sensor readable (used by get_cpu_temp).
	if _, err := os.ReadFile(thermalZonePath); err != nil {
		results = append(results, DoctorResult{"Sensors", "warn", fmt.Sprintf("Thermal zone not readable: %v", err)})
	} else {
		results = append(results, DoctorResult{"Sensors", "pass", "CPU thermal zone readable"})
	}

	// Print summary
	fmt.Fprintf(stdout, "\n--- Health Check Summary ---\n")
	passCount, failCount, warnCount := 0, 0, 0
	for _, r := range results {
		icon := "✓"
		switch r.Status {
		case "fail":
			icon = "✗"
			failCount++
		case "warn":
			icon = "⚠"
			warnCount++
		default:
			passCount++
		}
		fmt.Fprintf(stdout, "  %s %s: %s\n", icon, r.Name, r.Message)
	}

	fmt.Fprintf(stdout, "\nResults: %d passed, %d failed, %d warnings\n", passCount, failCount, warnCount)

	if failCount > 0 {
		fmt.Fprintf(stdout, "\nSome checks failed. Run with --fix to attempt automatic repairs.\n")
		return 1
	}

	fmt.Fprintf(stdout, "\nAll health checks passed!\n")
	return 0
}

func checkDataDir(dir string, fix bool, stdout, stderr io.Writer) DoctorResult {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if fix {
			fmt.Fprintf(stdout, "  [FIX] Creating data directory...\n")
			if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
				fmt.Fprintf(stderr, "  Error: failed to create data dir: %v\n", mkErr)
				return DoctorResult{"Data dir", "fail", fmt.Sprintf("Cannot create %s", dir)}
			}
		} else {
			return DoctorResult{"Data dir", "fail", fmt.Sprintf("Data directory not found: %s", dir)}
		}
	}
	probe := filepath.Join(dir, ".hearth-doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return DoctorResult{"Data dir", "fail", fmt.Sprintf("Not writable: %v", err)}
	}
	os.Remove(probe)
	return DoctorResult{"Data dir", "pass", fmt.Sprintf("Writable: %s", dir)}
}
