package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"wuyrush.io/voicememo/capture"
	cst "wuyrush.io/voicememo/constants"
	"wuyrush.io/voicememo/device"
	"wuyrush.io/voicememo/gallery"
	md "wuyrush.io/voicememo/models"
)

type recordOptions struct {
	duration time.Duration
	save     bool
}

func newRecordCmd() *cobra.Command {
	opts := &recordOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a memo from the microphone and save it to the server",
		Long: "Record a memo from the microphone. Press Enter to stop, then save, discard or play back the recording.\n" +
			"With --duration the recording stops by itself.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs := newRemoteStore()
			defer rs.Close()
			view := newTermView(cmd.OutOrStdout(), cmd.InOrStdin())
			mic := &device.Mic{
				InputFormat: viper.GetString(cst.EnvFFmpegInputFormat),
				InputDevice: viper.GetString(cst.EnvFFmpegInputDevice),
			}
			g := gallery.New(rs, device.FFPlayerFactory, md.Page{})
			defer g.Close()
			c := capture.NewController(mic, view, rs, capture.WithRefresher(g))
			defer c.Close()
			if err := runRecording(cmd.Context(), c, view, opts); err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), g)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "stop recording after this long instead of waiting for Enter")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the recording without asking")
	return cmd
}

func runRecording(ctx context.Context, c *capture.Controller, v *termView, opts *recordOptions) error {
	if err := c.ToggleRecord(ctx); err != nil {
		return err
	}
	if opts.duration > 0 {
		select {
		case <-time.After(opts.duration):
		case <-ctx.Done():
		}
	} else if _, err := v.readLine(); err != nil && err != io.EOF {
		return err
	}
	if err := c.ToggleRecord(ctx); err != nil {
		return err
	}
	if _, err := c.AwaitFinalize(ctx); err != nil {
		return err
	}
	if opts.save {
		return c.Save(ctx)
	}
	for {
		fmt.Fprint(v.out, "[s]ave, [d]iscard or [p]lay the recording? ")
		answer, err := v.readLine()
		switch answer {
		case "s", "save":
			return c.Save(ctx)
		case "d", "discard":
			discarded, derr := c.Discard()
			if derr != nil || discarded {
				return derr
			}
		case "p", "play":
			if perr := v.playPreview(); perr != nil {
				fmt.Fprintf(v.out, "could not play the recording: %v\n", perr)
			}
		}
		if err != nil {
			return err
		}
	}
}
