package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ultranesh/edbase/internal/version"
)

// @title edbase API
// @version 1.0
// @description Unified inbound messaging: webhook ingestion, conversations, operator sends, media proxy.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	root := &cobra.Command{
		Use:     "edbase",
		Short:   "Unified inbound messaging service",
		Version: version.GetInfo(),
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}
