package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check connectivity to the tracker, repo host, and language model",
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

		h := a.Health(cmd.Context())
		fmt.Printf("tracker:        %s\n", okString(h.TrackerOK))
		fmt.Printf("repository host: %s\n", okString(h.RepoOK))
		fmt.Printf("language model:  %s\n", okString(h.ModelOK))

		if !h.TrackerOK && !h.RepoOK {
			return fmt.Errorf("no data source is reachable")
		}
		return nil
	},
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}
