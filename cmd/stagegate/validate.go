package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/api/v1alpha1"
)

func newValidateCommand() *cobra.Command {
	var filename string
	cmd := &cobra.Command{
		Use:               "validate",
		Short:             "Validate a rollout manifest without executing it",
		DisableAutoGenTag: true,
		SilenceErrors:     true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(filename)
			if err != nil {
				return fmt.Errorf("read manifest %s: %w", filename, err)
			}
			rollout, err := v1alpha1.UnmarshalRollout(data)
			if err != nil {
				return err
			}
			fmt.Printf("rollout %q is valid\n", rollout.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(
		&filename, "filename", "f", "", "path to the rollout manifest",
	)
	_ = cmd.MarkFlagRequired("filename")
	return cmd
}
