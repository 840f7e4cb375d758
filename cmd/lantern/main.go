// Command lantern is a terminal client for LanternChat.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanternchat/lantern/client/router"
	"github.com/lanternchat/lantern/client/transport"
)

var (
	addr     string
	username string
	password string
	register bool
)

var rootCmd = &cobra.Command{
	Use:           "lantern",
	Short:         "LanternChat terminal client",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConnect,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "localhost:9500", "server address")
	rootCmd.Flags().StringVar(&username, "username", "", "account username")
	rootCmd.Flags().StringVar(&password, "password", "", "account password")
	rootCmd.Flags().BoolVar(&register, "register", false, "create the account instead of logging in")
	rootCmd.MarkFlagRequired("username")
	rootCmd.MarkFlagRequired("password")
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, err := transport.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := authenticate(client); err != nil {
		return err
	}

	go readLoop(client)
	writeLoop(client)
	return nil
}

func authenticate(client *transport.Client) error {
	envelope := map[string]any{
		"username": username,
		"password": password,
	}
	key := "Login"
	if register {
		key = "Register"
		envelope["fingerprint"] = "cli"
	}
	payload, err := json.Marshal(map[string]any{key: envelope})
	if err != nil {
		return err
	}
	return client.Send(string(payload))
}

func readLoop(client *transport.Client) {
	for {
		line, err := client.Recv()
		if err != nil {
			fmt.Fprintln(os.Stderr, "disconnected:", err)
			os.Exit(1)
		}
		render(router.Parse(line))
	}
}

func render(action router.Action) {
	switch action.Kind {
	case router.KindNone:
		return
	case router.KindDisplayMessage:
		fmt.Println(action.Text)
	case router.KindDirectMessage:
		fmt.Printf("[DM] %s: %s\n", action.Sender, action.Content)
	case router.KindDirectMessageConfirmation:
		fmt.Printf("✅ Sent to %s\n", action.Sender)
	case router.KindInvitationReceived:
		fmt.Printf("📨 %s\n", action.Text)
	case router.KindInvitationSent:
		fmt.Printf("📨 %s\n", action.Text)
	case router.KindRoomCreated:
		fmt.Printf("room created: %s\n", action.Room)
	case router.KindUpdateCurrentRoom:
		if action.Room == "" {
			fmt.Println("now in: lobby")
		} else {
			fmt.Printf("now in: %s\n", action.Room)
		}
	case router.KindError:
		if action.ErrorDetail != "" {
			fmt.Printf("error [%s]: %s\n", action.ErrorCode, action.ErrorDetail)
		} else {
			fmt.Printf("error [%s]\n", action.ErrorCode)
		}
	}
}

func writeLoop(client *transport.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := client.Send(scanner.Text()); err != nil {
			fmt.Fprintln(os.Stderr, "send error:", err)
			return
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
