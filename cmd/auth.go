package cmd

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aegis-moderation/aegis/credentials"
)

// Auth command flags.
var (
	authAPIKey         string
	authNonInteractive bool
)

// AuthCmd is the auth command group.
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the classification API credential",
	Long: `Manage the classification API key.

The key is stored encrypted at rest in ~/.aegis/credentials.yaml; the
encryption key lives in the system keyring. The AEGIS_API_KEY environment
variable overrides the stored key.

Examples:
  aegis auth set-key               Prompt for the key (hidden input)
  aegis auth set-key --api-key sk-...
  aegis auth show
  aegis auth clear`,
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the classification API key",
	RunE:  runSetKey,
}

var showKeyCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active credential (masked)",
	RunE:  runShowKey,
}

var clearKeyCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored API key",
	RunE:  runClearKey,
}

func init() {
	setKeyCmd.Flags().StringVar(&authAPIKey, "api-key", "", "API key (prompts when omitted)")
	setKeyCmd.Flags().BoolVar(&authNonInteractive, "non-interactive", false, "Fail instead of prompting for input")

	AuthCmd.AddCommand(setKeyCmd)
	AuthCmd.AddCommand(showKeyCmd)
	AuthCmd.AddCommand(clearKeyCmd)
}

func runSetKey(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	key := authAPIKey
	if key == "" {
		if envKey := os.Getenv(credentials.EnvAPIKey); envKey != "" {
			key = envKey
			fmt.Fprintln(cmd.OutOrStdout(), "Using API key from AEGIS_API_KEY environment variable")
		}
	}

	if key == "" {
		if authNonInteractive {
			return fmt.Errorf("no API key provided and --non-interactive flag set")
		}
		prompted, err := promptForAPIKey(cmd)
		if err != nil {
			return fmt.Errorf("reading API key: %w", err)
		}
		key = prompted
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key is empty")
	}

	if err := store.Save(key); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "API key stored.")
	fmt.Fprintf(cmd.OutOrStdout(), "  Key:     %s\n", credentials.MaskAPIKey(key))
	fmt.Fprintf(cmd.OutOrStdout(), "  Storage: encrypted, key in %s\n", store.KeyDescription())
	return nil
}

func promptForAPIKey(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Classification API key: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func runShowKey(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	key, source, err := store.ActiveKey()
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No API key configured.")
		fmt.Fprintln(cmd.OutOrStdout(), "Run 'aegis auth set-key' or set AEGIS_API_KEY.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "API key: %s\n", credentials.MaskAPIKey(key))
	fmt.Fprintf(cmd.OutOrStdout(), "Source:  %s\n", source)
	return nil
}

func runClearKey(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	if !store.Exists() {
		fmt.Fprintln(cmd.OutOrStdout(), "No stored credentials.")
		return nil
	}
	if err := store.Delete(); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Stored credentials deleted.")
	return nil
}
