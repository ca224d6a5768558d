package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"paklaw.com/paklaw-assist/internal/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Log in and chat in the terminal",
		Long: `Log in and start an interactive chat. Commands:
  /new            save the current chat and start a new one
  /chats [query]  list saved chats, optionally filtered by title
  /open <id>      save the current chat and reopen a saved one
  /quit           save and log out`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}

	cmd.Flags().StringP("email", "e", "", "Email address")
	cmd.Flags().StringP("password", "p", "", "Password (default: first line of stdin)")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")

	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	if password == "" {
		fmt.Fprint(out, "Password: ")
		password = readLine(in)
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID, user, err := a.Chat.Login(ctx, email, password)
	if err != nil {
		return err
	}
	session, err := a.Chat.Session(sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Welcome, %s. Type /quit to leave.\n", user.Username)

	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if err := handleChatLine(cmd, out, session, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}

	if err := a.Chat.Logout(ctx, sessionID); err != nil {
		return err
	}
	fmt.Fprintln(out, "Logged out.")
	return nil
}

func handleChatLine(cmd *cobra.Command, out io.Writer, session *core.SessionCoordinator, line string) error {
	ctx := cmd.Context()
	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/new":
		if err := session.NewChat(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Started a new chat.")
		return nil

	case "/chats":
		chats := session.ListChats(arg)
		if formatFlag == "json" {
			return printJSON(out, chats)
		}
		if len(chats) == 0 {
			fmt.Fprintln(out, "No saved chats.")
		}
		for _, c := range chats {
			fmt.Fprintf(out, "%s  %s  %s\n", c.ID, c.Timestamp, c.Title)
		}
		return nil

	case "/open":
		if arg == "" {
			return errors.New("usage: /open <chat id>")
		}
		if err := session.SwitchChat(ctx, arg); err != nil {
			return err
		}
		view := session.Snapshot()
		fmt.Fprintf(out, "Opened %q\n", view.Title)
		for _, m := range view.Messages {
			fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
		}
		return nil
	}

	reply, err := session.SendMessage(ctx, line)
	if err != nil {
		return err
	}
	if formatFlag == "json" {
		return printJSON(out, reply)
	}
	fmt.Fprintf(out, "[%s] %s\n", reply.Route, reply.Text)
	return nil
}
