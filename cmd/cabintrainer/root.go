package main

import (
	"github.com/spf13/cobra"

	"github.com/zeusync/cabintrainer/internal/injector"
)

type rootOptions struct {
	configPath string
	app        *injector.App
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "cabintrainer",
		Short: "Headless runner for airline cabin safety training scenarios",
		Long: `cabintrainer builds VR safety-training scenarios (seatbelt, life vest,
oxygen mask, airsickness bag, exit route) on a headless reference world,
replays their scripted inputs and reports which procedure steps completed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			app, err := injector.InitializeApp(injector.ConfigPath(opts.configPath))
			if err != nil {
				return err
			}
			opts.app = app
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.app != nil {
				_ = opts.app.Log.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "runtime config file (yaml)")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}
