package cli

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"paklaw.com/paklaw-assist/internal/auth"
)

func init() {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long:  "Create an account. The password is read from --password or, when omitted, from the first two lines of stdin (password, confirmation).",
		Args:  cobra.NoArgs,
		RunE:  runRegister,
	}

	cmd.Flags().StringP("username", "u", "", "Display name")
	cmd.Flags().StringP("email", "e", "", "Email address")
	cmd.Flags().StringP("password", "p", "", "Password")

	RootCmd.AddCommand(cmd)
}

func runRegister(cmd *cobra.Command, _ []string) error {
	username, _ := cmd.Flags().GetString("username")
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	confirm := password

	if password == "" {
		in := bufio.NewScanner(cmd.InOrStdin())
		password = readLine(in)
		confirm = readLine(in)
	}

	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.Chat.Register(cmd.Context(), auth.RegisterRequest{
		Username:        username,
		Email:           email,
		Password:        password,
		ConfirmPassword: confirm,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s. You can now run: paklaw chat --email %s\n", username, auth.NormalizeEmail(email))
	return nil
}

func readLine(in *bufio.Scanner) string {
	if in.Scan() {
		return in.Text()
	}
	return ""
}
