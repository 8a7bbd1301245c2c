package main

import (
	"os"

	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"wuyrush.io/voicememo/common/logging"
	cst "wuyrush.io/voicememo/constants"
	"wuyrush.io/voicememo/device"
	rst "wuyrush.io/voicememo/store"
)

const appName = "voicememo"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func setDefaults() {
	format, dev := device.DefaultInput()
	viper.SetDefault(cst.EnvServerURL, "http://localhost:3000")
	viper.SetDefault(cst.EnvFFmpegInputFormat, format)
	viper.SetDefault(cst.EnvFFmpegInputDevice, dev)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Record voice memos and play them back from a recorder server",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// logs go to stderr so that they don't mix with command output
			logging.SetupLogTo(os.Stderr, "RecorderClient", viper.GetBool(cst.EnvClientVerbose))
		},
	}
	root.Version = version.Version
	root.SetVersionTemplate(version.Print(appName) + "\n")

	viper.AutomaticEnv()
	setDefaults()
	fs := root.PersistentFlags()
	fs.String("server", viper.GetString(cst.EnvServerURL), "address of the recorder server")
	fs.BoolP("verbose", "v", false, "verbose logging")
	if err := viper.BindPFlag(cst.EnvServerURL, fs.Lookup("server")); err != nil {
		log.WithError(err).Fatal("error binding server flag")
	}
	if err := viper.BindPFlag(cst.EnvClientVerbose, fs.Lookup("verbose")); err != nil {
		log.WithError(err).Fatal("error binding verbose flag")
	}

	root.AddCommand(newRecordCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newPlayCmd())
	return root
}

func newRemoteStore() *rst.RemoteRecordingStore {
	return rst.NewRemoteRecordingStore(&rst.RemoteConfig{ServerAddr: viper.GetString(cst.EnvServerURL)})
}
