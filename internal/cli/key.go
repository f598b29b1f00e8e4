package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/internal/auth"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the Gemini API key",
	Long: `Manage the Gemini API key used by the server.

The key is kept in the configured store, or in the OS keyring when
KEYRING_ENABLED is set. GEMINI_API_KEY applies while no key is saved.
Changing the key over HTTP needs an operator token from "key token".

Examples:
  omnichat key set AIza...
  omnichat key check
  omnichat key remove
  omnichat key token --ttl 1h`,
}

var keySetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Verify a key with a live request and save it",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeySet,
}

var keyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the current key with a live request",
	Args:  cobra.NoArgs,
	RunE:  runKeyCheck,
}

var keyRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete the saved key",
	Args:  cobra.NoArgs,
	RunE:  runKeyRemove,
}

var keyTokenTTL time.Duration

var keyTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an operator token for the key endpoints",
	Args:  cobra.NoArgs,
	RunE:  runKeyToken,
}

func init() {
	keyTokenCmd.Flags().DurationVar(&keyTokenTTL, "ttl", time.Hour, "token lifetime")

	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyCheckCmd)
	keyCmd.AddCommand(keyRemoveCmd)
	keyCmd.AddCommand(keyTokenCmd)
}

// runKeyToken signs with JWT_SECRET, so the token is only accepted by
// servers sharing that secret
func runKeyToken(cmd *cobra.Command, args []string) error {
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set; the server would not accept the token")
	}

	issuer, err := auth.NewIssuer(cfg.Server.JWTSecret, cfg.Server.JWTTTL)
	if err != nil {
		return err
	}
	token, expiresAt, err := issuer.GenerateOperatorToken(keyTokenTTL)
	if err != nil {
		return err
	}

	logger.Info("Operator token issued", zap.Time("expiresAt", expiresAt))
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runKeySet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.keys.SaveKey(ctx, args[0]); err != nil {
		return describeKeyError(err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "API key verified and saved.")
	return nil
}

func runKeyCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	key, err := svc.keys.APIKey(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.New("no API key configured, run: omnichat key set <key>")
	}

	if err := svc.llm.CheckKey(ctx, key); err != nil {
		return describeKeyError(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "API key %s is valid.\n", maskKey(key))
	return nil
}

func runKeyRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.keys.RemoveKey(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
	return nil
}

// describeKeyError turns a gateway classification into advice
func describeKeyError(err error) error {
	if domain.IsValidation(err) {
		return err
	}

	switch domain.KindOf(err) {
	case domain.KindAuth:
		return fmt.Errorf("the key was rejected, check that it was copied completely: %w", err)
	case domain.KindNotEnabled:
		return fmt.Errorf("the Generative Language API is not enabled for this key's project: %w", err)
	case domain.KindQuota:
		return fmt.Errorf("the key is valid but its quota is exhausted, try again later: %w", err)
	}
	return fmt.Errorf("could not verify the key: %w", err)
}

// maskKey keeps the first and last four characters
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
