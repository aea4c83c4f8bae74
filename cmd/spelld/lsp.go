package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spelld/internal/lsp"
)

var lspCmd = &cobra.Command{
	Use:          "lsp",
	Short:        "Run the spelld language server over stdio",
	SilenceUsage: true,
	RunE:         runLSP,
}

func init() {
	lspCmd.Flags().Duration("debounce", 0, "override the pre-settings debounce delay (0=default)")
}

func runLSP(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	server := lsp.NewServer(os.Stdin, os.Stdout, lsp.ServerOptions{
		Stage1Delay: debounce,
		Logger:      newLogger(verbose),
	})
	if err := server.Run(cmd.Context()); err != nil {
		if errors.Is(err, lsp.ErrExit) {
			return nil
		}
		if errors.Is(err, lsp.ErrExitWithoutShutdown) {
			return fmt.Errorf("lsp exit without shutdown")
		}
		return err
	}
	return nil
}
