package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"wuyrush.io/voicememo/device"
	"wuyrush.io/voicememo/gallery"
	md "wuyrush.io/voicememo/models"
)

func newListCmd() *cobra.Command {
	page := md.Page{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the recordings saved on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs := newRemoteStore()
			defer rs.Close()
			g := gallery.New(rs, device.FFPlayerFactory, page)
			if err := g.Reload(cmd.Context()); err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), g)
			return nil
		},
	}
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "number of recordings to skip")
	cmd.Flags().IntVar(&page.Limit, "limit", 0, "maximum number of recordings to list, 0 for all")
	return cmd
}

func printEntries(w io.Writer, g *gallery.Gallery) {
	for i, e := range g.Entries() {
		fmt.Fprintf(w, "%3d  %-7s  %s\n", i+1, g.State(e), e.Src)
	}
}
