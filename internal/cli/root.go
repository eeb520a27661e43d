// Package cli implements the bsonmap command line tool.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bsonmap "github.com/MichaelAJay/go-bsonmap"
)

var (
	// RootCmd is the bsonmap command.
	RootCmd = &cobra.Command{
		Use:   "bsonmap",
		Short: "inspect BSON documents and binary vectors",
		Long: fmt.Sprintf(`bsonmap (%s)

Decodes BSON documents through a serialization domain and renders them as
JSON or msgpack, and converts binary vectors to and from their BSON form.`, bsonmap.Version),
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of bsonmap",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bsonmap %s\n", bsonmap.VersionString())
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(inspectCmd)
	RootCmd.AddCommand(vectorCmd)
	RootCmd.AddCommand(versionCmd)

	RootCmd.PersistentFlags().String("format", "json", wrap("output format (json, msgpack)"))
	RootCmd.PersistentFlags().Bool("indent", false, wrap("pretty print json output"))
	RootCmd.PersistentFlags().String("log-level", "warn", wrap("log level of the serialization domain (debug, info, warn, error)"))
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
