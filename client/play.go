package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"wuyrush.io/voicememo/device"
	"wuyrush.io/voicememo/gallery"
	md "wuyrush.io/voicememo/models"
)

func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Browse and play the recordings saved on the server",
		Long:  "Browse the recordings saved on the server. Enter a number to play or pause it, r to reload, q to quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs := newRemoteStore()
			defer rs.Close()
			g := gallery.New(rs, device.FFPlayerFactory, md.Page{})
			defer g.Close()
			view := newTermView(cmd.OutOrStdout(), cmd.InOrStdin())
			return browse(cmd.Context(), g, view)
		},
	}
}

// browse runs the gallery prompt until quit or end of input. A failed reload leaves the gallery as it was;
// the failure is logged by the gallery.
func browse(ctx context.Context, g *gallery.Gallery, v *termView) error {
	if err := g.Reload(ctx); err != nil {
		return err
	}
	for {
		printEntries(v.out, g)
		fmt.Fprint(v.out, "> ")
		answer, err := v.readLine()
		switch answer {
		case "":
		case "q", "quit":
			return nil
		case "r", "reload":
			_ = g.Reload(ctx)
		default:
			togglePlay(v.out, g, answer)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func togglePlay(w io.Writer, g *gallery.Gallery, answer string) {
	es := g.Entries()
	i, err := strconv.Atoi(answer)
	if err != nil || i < 1 || i > len(es) {
		fmt.Fprintf(w, "no recording numbered %q\n", answer)
		return
	}
	if err := g.TogglePlay(es[i-1]); err != nil {
		fmt.Fprintf(w, "could not play recording: %v\n", err)
	}
}
