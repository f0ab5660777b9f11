// Package main provides the aegis CLI entry point.
// aegis is an asynchronous AI moderation pipeline for user comments.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-moderation/aegis/cmd"
	"github.com/aegis-moderation/aegis/config"
	"github.com/aegis-moderation/aegis/pkg/buildinfo"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis - asynchronous AI comment moderation",
	Long: `aegis moderates user comments with an AI classifier.

New comments are held out of public view, classified asynchronously, and
approved, marked as spam, trashed, or routed to human review based on the
classifier's verdict and confidence. A periodic sweep catches anything the
deferred dispatch missed, so no comment stays held forever.

COMMON WORKFLOWS:
  First-time setup:  aegis config init  →  aegis auth set-key  →  aegis health
  Run the service:   aegis serve
  Manual recovery:   aegis process
  Review decisions:  aegis decisions list  →  aegis decisions show <comment-id>
  Correct the AI:    aegis decisions override <comment-id> <status> --by <name>

DISCOVERY:
  aegis <command> --help    Subcommands, flags, and examples for any command
  aegis health              Preflight checks for every pipeline dependency`,
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of the aegis binary.

Examples:
  aegis version`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildinfo.Get("aegis")
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "aegis version %s\n", info.Version)
		fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
		fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
		return nil
	},
}

// configCmd manages service configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage service configuration",
	Long:  `View and modify the aegis configuration file.`,
}

// configShowCmd displays current configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after file and environment overlay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		configPath, _ := config.Path()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Config file:          %s\n", configPath)
		fmt.Fprintf(out, "  Auto-moderate:        %t\n", cfg.Moderation.AutoModerate)
		fmt.Fprintf(out, "  Confidence threshold: %.2f\n", cfg.Moderation.ConfidenceThreshold)
		fmt.Fprintf(out, "  Moderate articles:    %t\n", cfg.Moderation.ModerateArticles)
		fmt.Fprintf(out, "  Moderate pages:       %t\n", cfg.Moderation.ModeratePages)
		fmt.Fprintf(out, "  Moderate products:    %t\n", cfg.Moderation.ModerateProducts)
		fmt.Fprintf(out, "  Model:                %s\n", cfg.Classifier.Model)
		fmt.Fprintf(out, "  API base URL:         %s\n", cfg.Classifier.APIBaseURL)
		fmt.Fprintf(out, "  Dispatch backend:     %s\n", cfg.Dispatch.Backend)
		fmt.Fprintf(out, "  Schedule delay:       %s\n", cfg.Dispatch.ScheduleDelay)
		fmt.Fprintf(out, "  Sweep interval:       %s\n", cfg.Dispatch.SweepInterval)
		fmt.Fprintf(out, "  Sweep batch:          %d\n", cfg.Dispatch.SweepBatch)
		if cfg.Database.IsConfigured() {
			fmt.Fprintf(out, "  Database:             %s@%s/%s\n", cfg.Database.User, cfg.Database.Host, cfg.Database.Database)
		} else {
			fmt.Fprintf(out, "  Database:             (not configured, in-memory store)\n")
		}
		if cfg.Redis.IsConfigured() {
			fmt.Fprintf(out, "  Redis:                %s\n", cfg.Redis.Address)
		}
		fmt.Fprintf(out, "  Log level:            %s\n", cfg.Logging.Level)
		return nil
	},
}

// configInitCmd initializes configuration.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with default values if one doesn't exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := config.Path()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Configuration file already exists: %s\n", configPath)
			fmt.Println("Use 'aegis config show' to view current settings.")
			return nil
		}

		defaultCfg := config.Default()
		if err := config.Save(defaultCfg); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Printf("Created configuration file: %s\n", configPath)
		fmt.Println("\nAuto-moderation starts disabled. Enable it with:")
		fmt.Println("  aegis config set auto_moderate true")
		return nil
	},
}

// configSetCmd sets a configuration value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Available keys:
  auto_moderate         - Enable the moderation pipeline (true/false)
  confidence_threshold  - Minimum confidence to auto-apply decisions (0..1)
  moderate_articles     - Moderate article comments (true/false)
  moderate_pages        - Moderate page comments (true/false)
  moderate_products     - Moderate product comments (true/false)
  model                 - Classification model name
  api_base_url          - Classification API root URL
  reasoning_effort      - Effort for reasoning models (low, medium, high)
  dispatch_backend      - Deferred dispatch backend (queue, poll)
  schedule_delay        - Delay before a new comment is classified (e.g. 5s)
  sweep_interval        - Safety-net sweep cadence (e.g. 2m)
  sweep_batch           - Max comments per sweep
  log_level             - Log level (debug, info, warn, error)

Examples:
  aegis config set auto_moderate true
  aegis config set confidence_threshold 0.85
  aegis config set dispatch_backend queue
  aegis config set sweep_interval 5m`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		currentCfg, err := config.Load()
		if err != nil {
			currentCfg = config.Default()
		}

		switch key {
		case "auto_moderate":
			b, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("invalid auto_moderate value: %w", err)
			}
			currentCfg.Moderation.AutoModerate = b
		case "confidence_threshold":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || f < 0 || f > 1 {
				return fmt.Errorf("invalid confidence_threshold: %s (must be between 0 and 1)", value)
			}
			currentCfg.Moderation.ConfidenceThreshold = f
		case "moderate_articles":
			b, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("invalid moderate_articles value: %w", err)
			}
			currentCfg.Moderation.ModerateArticles = b
		case "moderate_pages":
			b, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("invalid moderate_pages value: %w", err)
			}
			currentCfg.Moderation.ModeratePages = b
		case "moderate_products":
			b, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("invalid moderate_products value: %w", err)
			}
			currentCfg.Moderation.ModerateProducts = b
		case "model":
			currentCfg.Classifier.Model = value
		case "api_base_url":
			currentCfg.Classifier.APIBaseURL = value
		case "reasoning_effort":
			if value != "low" && value != "medium" && value != "high" {
				return fmt.Errorf("invalid reasoning_effort: %s (must be low, medium, or high)", value)
			}
			currentCfg.Classifier.ReasoningEffort = value
		case "dispatch_backend":
			backend := config.DispatchBackend(value)
			if !backend.IsValid() {
				return fmt.Errorf("invalid dispatch_backend: %s (must be queue or poll)", value)
			}
			currentCfg.Dispatch.Backend = backend
		case "schedule_delay":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid schedule_delay: %w", err)
			}
			currentCfg.Dispatch.ScheduleDelay = d
		case "sweep_interval":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid sweep_interval: %w", err)
			}
			currentCfg.Dispatch.SweepInterval = d
		case "sweep_batch":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid sweep_batch: %s (must be a positive integer)", value)
			}
			currentCfg.Dispatch.SweepBatch = n
		case "log_level":
			currentCfg.Logging.Level = value
		default:
			return fmt.Errorf("unknown configuration key: %s", key)
		}

		if err := config.Save(currentCfg); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

// parseBool accepts the usual true/false spellings.
func parseBool(value string) (bool, error) {
	switch value {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%s (must be true or false)", value)
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for aegis.

To load completions:

Bash:
  $ source <(aegis completion bash)

Zsh:
  $ aegis completion zsh > "${fpath[1]}/_aegis"

Fish:
  $ aegis completion fish | source

PowerShell:
  PS> aegis completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "moderation", Title: "Moderation:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	// Moderation
	serveCmd := cmd.NewServeCommand(nil)
	serveCmd.GroupID = "moderation"
	rootCmd.AddCommand(serveCmd)

	processCmd := cmd.NewProcessCommand(nil)
	processCmd.GroupID = "moderation"
	rootCmd.AddCommand(processCmd)

	decisionsCmd := cmd.NewDecisionsCommand(nil)
	decisionsCmd.GroupID = "moderation"
	rootCmd.AddCommand(decisionsCmd)

	// Operations
	healthCmd := cmd.NewHealthCommand(nil)
	healthCmd.GroupID = "ops"
	rootCmd.AddCommand(healthCmd)

	// Setup
	configCmd.GroupID = "setup"
	rootCmd.AddCommand(configCmd)

	cmd.AuthCmd.GroupID = "setup"
	rootCmd.AddCommand(cmd.AuthCmd)

	completionCmd.GroupID = "setup"
	rootCmd.AddCommand(completionCmd)

	versionCmd.GroupID = "setup"
	rootCmd.AddCommand(versionCmd)

	// Config subcommands.
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
