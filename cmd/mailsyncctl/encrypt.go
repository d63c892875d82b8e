package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vdavid/mailsync/internal/crypto"
)

func newEncryptPasswordCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "encrypt-password [password]",
		Short: "Encrypt a mailbox password in the stored account format",
		Long: `Encrypt a mailbox password with the server's encryption key.

The password is read from the argument, or from the first line of stdin when
no argument is given. The key defaults to MAILSYNC_ENCRYPTION_KEY.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("MAILSYNC_ENCRYPTION_KEY")
			}
			encryptor, err := crypto.NewEncryptor(key)
			if err != nil {
				return err
			}

			password, err := readPassword(cmd, args)
			if err != nil {
				return err
			}

			encrypted, err := encryptor.Encrypt(password)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), encrypted)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Encryption key (default $MAILSYNC_ENCRYPTION_KEY)")
	return cmd
}

func readPassword(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return "", errors.New("password is empty")
	}
	return line, nil
}
