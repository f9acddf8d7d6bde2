package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, store, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		query := strings.Join(args, " ")
		result, err := a.ProcessQuery(cmd.Context(), "", query, time.Now())
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("query failed: %s", result.Err)
		}

		fmt.Println(result.Response)
		if result.Degraded {
			fmt.Println("\n(answered in degraded mode: some data sources or the language model were unavailable)")
		}
		return nil
	},
}
