package commands

import (
	"github.com/mosaicnetworks/rendezvous/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for the rendezvous server
var RootCmd = &cobra.Command{
	Use:              "rendezvous",
	Short:            "peer discovery and signaling relay",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(
		NewRunCmd(),
		VersionCmd,
	)
}
