package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sponsorscope/pkg/auth"
)

const defaultAccount = "default"

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored credentials",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store platform and classifier credentials",
	RunE:  runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which credentials are stored",
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete stored credentials",
	RunE:  runAuthLogout,
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	token, err := promptSecret("Platform API token: ")
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("a platform API token is required")
	}

	fmt.Print("Session login (optional, enables pronoun harvesting): ")
	login, _ := reader.ReadString('\n')
	login = strings.TrimSpace(login)

	var password string
	if login != "" {
		password, err = promptSecret("Session password: ")
		if err != nil {
			return err
		}
	}

	classifierKey, err := promptSecret("Classifier API key (optional): ")
	if err != nil {
		return err
	}

	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	if err := manager.Store(&auth.Account{
		Name:          defaultAccount,
		Token:         token,
		Login:         login,
		Password:      password,
		ClassifierKey: classifierKey,
	}); err != nil {
		return err
	}

	fmt.Println("Credentials stored.")
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	account, err := manager.Retrieve(defaultAccount)
	if err != nil {
		fmt.Println("No credentials stored.")
		return nil
	}

	fmt.Println("Stored credentials:")
	fmt.Printf("  platform token:  %s\n", mask(account.Token))
	if account.Login != "" {
		fmt.Printf("  session login:   %s\n", account.Login)
	}
	if account.ClassifierKey != "" {
		fmt.Printf("  classifier key:  %s\n", mask(account.ClassifierKey))
	}
	if !account.LastModified.IsZero() {
		fmt.Printf("  last modified:   %s\n", account.LastModified.Format("2006-01-02 15:04"))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	if err := manager.Delete(defaultAccount); err != nil {
		return err
	}

	fmt.Println("Credentials deleted.")
	return nil
}

// promptSecret reads a value without echoing it
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// mask shows only the tail of a secret
func mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
