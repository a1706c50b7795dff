package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"quotesync/internal/app"
)

// readPassphrase prompts on the terminal without echo. QSYNC_PASSPHRASE
// takes precedence so scripts can run unattended.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("QSYNC_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; set QSYNC_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.Type != "age" {
			return fmt.Errorf("encryption type is %q; set encryption.type = \"age\" first", cfg.Encryption.Type)
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv("QSYNC_PASSPHRASE") == "" {
			confirm, err := readPassphrase("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if confirm != passphrase {
				return errors.New("passphrases do not match")
			}
		}
		if passphrase == "" {
			return errors.New("passphrase must not be empty")
		}

		if err := app.InitKeys(cfg, passphrase); err != nil {
			return err
		}
		printOK("Age keys written")
		fmt.Printf("  %s %s\n", faint("public"), cfg.Encryption.PublicKeyPath)
		fmt.Printf("  %s %s\n", faint("private"), cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Work with replicated snapshots",
}

var snapshotDecryptCmd = &cobra.Command{
	Use:   "decrypt KEY",
	Short: "Write the plaintext of a stored snapshot to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SnapshotDecrypt")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.Config().Encryption.Type == "age" {
			if passphrase, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}
		return a.DecryptSnapshot(cmd.Context(), args[0], passphrase, os.Stdout)
	},
}

func init() {
	keysCmd.AddCommand(keysInitCmd)
	snapshotCmd.AddCommand(snapshotDecryptCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
}
