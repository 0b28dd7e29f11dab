package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand(true)
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "empathicbot",
		Short: "Stage-aware supportive dialogue service with per-user long-term memory",
		Long: strings.TrimSpace(`empathicbot is a supportive dialogue service.

It runs a staged counseling conversation over an HTTP webhook, learns
consented facts and standing instructions per user, and recalls them in
later sessions via semantic retrieval.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.empathicbot config and workspace",
		Long:    "Create default configuration and state directories for a new empathicbot installation.",
		Example: "  empathicbot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dialogue webhook and maintenance sweeper",
		Long:  "Start the HTTP webhook server, memory subsystem, and background maintenance sweeper.",
		Example: strings.Join([]string{
			"  empathicbot serve",
			"  empathicbot serve --debug",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		serverURL string
		userID    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running serve instance",
		Example: strings.Join([]string{
			"  empathicbot chat",
			"  empathicbot chat --user alice",
			"  empathicbot chat --server http://remote-host:8080",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatCmd(serverURL, userID)
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", "http://127.0.0.1:8080", "Base URL of the running service")
	cmd.Flags().StringVarP(&userID, "user", "u", "local_user", "User id to chat as")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, provider, and store readiness",
		Example: "  empathicbot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  empathicbot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
