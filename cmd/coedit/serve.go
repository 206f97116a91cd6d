package main

import (
	"github.com/spf13/cobra"

	"github.com/coedit-dev/coedit/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		file string
		addr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaborative editing server",
		Long: `Start the server for one shared document.

The document lives in the given file, created empty if it does not
exist. Clients connect over WebSocket on /ws; /healthz and /metrics are
served on the same address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.DefaultConfig()
			cfg.Address = addr
			cfg.DocumentPath = file

			s, err := server.New(cfg)
			if err != nil {
				return err
			}
			return s.Run()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path of the shared document (required)")
	cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&addr, "addr", ":9009", "Address to listen on")

	return cmd
}
