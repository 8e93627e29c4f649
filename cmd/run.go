package cmd

import (
	"log"

	"github.com/nxtlo/Fated/fated"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Fated bot and backend API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := fated.New(cfg)
			if err != nil {
				log.Fatalf("error creating fated: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running fated: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
