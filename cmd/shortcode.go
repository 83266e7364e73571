package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/instafix/internal/shortcode"
)

func newShortcodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shortcode",
		Short: "Converts between numeric media ids and post short codes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "encode <id>",
		Short: "Prints the short code for a numeric media id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := shortcode.PostIDFromMediaID(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), code)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "decode <code>",
		Short: "Prints the numeric media id for a short code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := shortcode.Decode(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatUint(id, 10))
			return err
		},
	})
	return cmd
}
