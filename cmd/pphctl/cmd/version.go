package cmd

import (
	"fmt"

	"pph/internal/version"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	var full bool

	c := &cobra.Command{
		Use:   "version",
		Short: "Print pphctl's build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if full {
				fmt.Println(info.Full())
			} else {
				fmt.Println(info.String())
			}
			return nil
		},
	}

	c.Flags().BoolVar(&full, "full", false, "include commit and build time")
	return c
}
