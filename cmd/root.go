package cmd

import (
	"github.com/MakeNowJust/heredoc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCmdRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discovery-worker <command> [flags]",
		Short: "Service provider discovery worker",
		Long:  `Discover service providers across listing sources, merge them and hand them to scoring.`,
		Example: heredoc.Doc(`
			$ discovery-worker run --query "wedding dj" --location "Madrid" --budget 900 --out results.json
			$ discovery-worker worker --workers 2
		`),
		Annotations: map[string]string{
			"versionInfo": "1.0",
		},
		SilenceUsage: true,
	}

	cmd.AddCommand(newCmdRun())
	cmd.AddCommand(newCmdWorker())
	return cmd
}

func Execute() {
	if err := newCmdRoot().Execute(); err != nil {
		log.Fatal().Err(err).Msg("Error while executing discovery-worker")
	}
}
