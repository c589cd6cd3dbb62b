package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lessonforge/pkg/config"
)

func newSecretsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted API key file",
		Long: `API keys (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, TAVILY_API_KEY)
are read from an encrypted file next to the config, falling back to the
environment. The password is prompted for, or taken from LESSONFORGE_PASSWORD.`,
	}
	cmd.AddCommand(newSecretsSetCommand(root), newSecretsListCommand(root))
	return cmd
}

func newSecretsSetCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME=VALUE...",
		Short: "Add or replace secrets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates := make(map[string]string, len(args))
			for _, arg := range args {
				name, value, ok := strings.Cut(arg, "=")
				if !ok || strings.TrimSpace(name) == "" {
					return fmt.Errorf("expected NAME=VALUE, got %q", arg)
				}
				updates[strings.TrimSpace(name)] = value
			}

			dir := secretsDir(root.configPath)
			pw, err := config.ReadPassword("Secrets password: ", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			secrets := map[string]string{}
			if config.SecretsFileExists(dir) {
				if secrets, err = config.DecryptSecretsFile(dir, pw); err != nil {
					return err
				}
			}
			for name, value := range updates {
				if value == "" {
					delete(secrets, name)
					continue
				}
				secrets[name] = value
			}
			if err := config.EncryptSecretsFile(dir, pw, secrets); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d secret(s) in %s\n", okStyle.Render("saved"), len(secrets), config.SecretsFilePath(dir))
			return nil
		},
	}
}

func newSecretsListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := secretsDir(root.configPath)
			out := cmd.OutOrStdout()
			if !config.SecretsFileExists(dir) {
				fmt.Fprintln(out, mutedStyle.Render("no secrets file at "+config.SecretsFilePath(dir)))
				return nil
			}
			if err := config.UnlockSecrets(dir, cmd.ErrOrStderr()); err != nil {
				return err
			}
			for _, name := range config.SecretNames() {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}
