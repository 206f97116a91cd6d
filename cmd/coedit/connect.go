package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coedit-dev/coedit/pkg/client"
	"github.com/coedit-dev/coedit/pkg/protocol"
)

func connectCmd() *cobra.Command {
	var (
		username string
		addr     string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a shared document from the terminal",
		Long: `Connect to a coedit server as a headless client.

Lines typed on stdin are appended to the shared document. Commands:

  :show    print the current document
  :users   list connected users and their colors
  :empty   clear the shared document
  :quit    disconnect and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := addr
			if !strings.Contains(url, "://") {
				url = "ws://" + url
			}
			if !strings.HasSuffix(url, "/ws") {
				url += "/ws"
			}

			c, err := client.Dial(&client.Config{URL: url, Username: username})
			if err != nil {
				return err
			}
			defer c.Close()

			success("connected to %s as %s", url, c.Username())
			info("%d user(s) online", len(c.Users()))

			go printEvents(c)

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				switch line {
				case ":quit":
					return nil
				case ":show":
					fmt.Println(c.Text())
				case ":users":
					for name, color := range c.Users() {
						info("%s (%s)", name, color)
					}
				case ":empty":
					if err := c.Empty(); err != nil {
						return err
					}
				default:
					c.SetText(c.Text() + line + "\n")
					if err := c.Sync(); err != nil {
						return err
					}
				}
			}

			select {
			case <-c.Done():
				return c.Err()
			default:
				return scanner.Err()
			}
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username to connect as (required)")
	cmd.MarkFlagRequired("username")
	cmd.Flags().StringVar(&addr, "addr", "localhost:9009", "Server address")

	return cmd
}

// printEvents narrates server activity until the connection ends.
func printEvents(c *client.Client) {
	for {
		select {
		case msg := <-c.Events():
			switch msg.Code {
			case protocol.NewClient:
				info("%s joined (%s)", msg.Username, msg.Color)
			case protocol.ClientDisconnect:
				info("%s left", msg.Username)
			case protocol.EmptyEditor:
				info("document emptied")
			}
		case <-c.Done():
			return
		}
	}
}
