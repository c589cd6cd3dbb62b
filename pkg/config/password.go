package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PasswordEnv overrides the interactive password prompt.
const PasswordEnv = "LESSONFORGE_PASSWORD"

// ReadPassword returns the secrets password from LESSONFORGE_PASSWORD, or prompts on the terminal.
func ReadPassword(prompt string, out io.Writer) (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available and %s is not set", PasswordEnv)
	}
	fmt.Fprint(out, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(pw)), nil
}

// UnlockSecrets decrypts the secrets file under dir, if present, and loads it into memory.
// It is a no-op when no secrets file exists.
func UnlockSecrets(dir string, out io.Writer) error {
	if !SecretsFileExists(dir) {
		return nil
	}
	pw, err := ReadPassword("Secrets password: ", out)
	if err != nil {
		return err
	}
	secrets, err := DecryptSecretsFile(dir, pw)
	if err != nil {
		return err
	}
	SetDecryptedSecrets(secrets)
	return nil
}
