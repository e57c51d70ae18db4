package main

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"kraina-desktop/db"
	"kraina-desktop/ipc"
	"kraina-desktop/utils"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "kraina-cli",
	Short: "Command line companion of the krAIna desktop app",
	Long:  rootDescription(),
	// no subcommand: start the app or bring it to front
	RunE: func(cmd *cobra.Command, _ []string) error {
		return sendCommand(cmd, newHostFlags(), []string{string(ipc.ShowApp)})
	},
	SilenceUsage: true,
}

func rootDescription() string {
	var b strings.Builder
	b.WriteString("krAIna chat application.\nHost commands (kraina-cli send COMMAND [ARGS...]):\n")
	for _, c := range ipc.Commands {
		fmt.Fprintf(&b, "\t%s - %s\n", c, c.Description())
	}
	b.WriteString("\tNo argument - run the GUI app. If the app is already running, show it")
	return b.String()
}

// Execute runs the root command
func Execute() {
	cobra.OnInitialize(func() {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			log.WithError(err).Fatal("cannot parse log-level")
		}
		log.SetLevel(level)
		formatter := new(log.TextFormatter)
		formatter.FullTimestamp = true
		log.SetFormatter(formatter)
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("could not execute command")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (trace,debug,info,warn,error)")
}

// dataFlags select the database of offline commands
type dataFlags struct {
	ConfigPath string
	DBPath     string
}

func newDataFlags() *dataFlags {
	return &dataFlags{}
}

func (f *dataFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", f.ConfigPath, "Path to configuration file (default: user config dir)")
	fs.StringVar(&f.DBPath, "db", f.DBPath, "Path to the database, overrides the configuration")
}

// open returns the configured database
func (f *dataFlags) open() (*db.DB, error) {
	path := f.DBPath
	if path == "" {
		configPath := f.ConfigPath
		if configPath == "" {
			var err error
			if configPath, err = utils.EnsureDefaultConfig(); err != nil {
				return nil, err
			}
		}
		cfg, err := utils.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		path = cfg.Data.DBPath
	}
	log.WithField("db", path).Debug("opening database")
	return db.New(path)
}
