package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes the environment variables overriding flags.
const envPrefix = "REDIST"

// Version is set at build time.
var Version = "v0.0.0-dev"

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "redist",
		Short: "Redistribute containers between ranks.",
		Long: `redist moves the items held by M source ranks to N destination ranks.

Every rank runs as a goroutine of this process and talks to its peers
through in-process mailboxes, optionally encoding every message with one
of the envelope codecs used by the network transports.

Flags can also be set from the environment (REDIST_ITEMS=10) or from a
TOML configuration file given with --config.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(viper.New(), cmd.Flags())
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newRunCommand(stdin, stdout, stderr))
	rc.AddCommand(newVersionCommand(stdout))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(stdout, "redist %s\n", Version)
			return err
		},
	}
}

// setAllConfig applies, in priority order, the command line, the
// environment and the configuration file to every flag of the set. The
// environment variable of a flag is its upper-cased name with dashes
// replaced by underscores, prefixed with envPrefix and an underscore.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}
