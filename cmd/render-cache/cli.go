package main

import (
	"context"
	"io"
	"os"

	rendercache "github.com/always-cache/render-cache"
	"github.com/always-cache/render-cache/pkg/preferences"
	"github.com/always-cache/render-cache/pkg/records"
	"github.com/always-cache/render-cache/site"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
)

// CLI is the render-cache command line.
type CLI struct {
	rootCmd *cobra.Command
	out     io.Writer

	configFilename string
	verbosityTrace bool
	logFilename    string
	logFile        *os.File
	config         Config
}

func newCLI(out io.Writer) *CLI {
	c := &CLI{out: out}
	rootCmd := &cobra.Command{
		Use:           "render-cache",
		Short:         "Demo site rendered through a policy-driven data cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.setupLogging(); err != nil {
				return err
			}
			config, err := getConfig(c.configFilename)
			if err != nil {
				return err
			}
			c.config = config
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if c.logFile != nil {
				c.logFile.Close()
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&c.configFilename, "config", "", "Config file to use (YAML)")
	rootCmd.PersistentFlags().BoolVar(&c.verbosityTrace, "vv", false, "Verbosity: trace logging")
	rootCmd.PersistentFlags().StringVar(&c.logFilename, "log-file", "", "Log file to use (in addition to stdout)")

	c.rootCmd = rootCmd
	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newVersionCmd())
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// setupLogging logs to stdout, and also to the log file if specified.
func (c *CLI) setupLogging() error {
	logLevel := zerolog.DebugLevel
	if c.verbosityTrace {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: c.out}}
	if c.logFilename != "" {
		logFile, err := os.OpenFile(c.logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return zerr.Wrap(err, "cannot open log file")
		}
		c.logFile = logFile
		logOutputs = append(logOutputs, logFile)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
	return nil
}

// newSite wires the site from the loaded config.
// The returned close function releases the preferences store.
func (c *CLI) newSite() (*site.Site, func(), error) {
	policies, err := c.config.policies()
	if err != nil {
		return nil, nil, err
	}
	source, err := records.NewClient(records.ClientConfig{
		BaseURL: c.config.Source.BaseURL,
		Timeout: c.config.Source.Timeout,
		Logger:  &log.Logger,
	})
	if err != nil {
		return nil, nil, zerr.Wrap(err, "failed to create source client")
	}
	prefs, err := preferences.Open(c.config.dbFilename())
	if err != nil {
		return nil, nil, zerr.Wrap(err, "failed to open preferences")
	}
	engine := rendercache.New(rendercache.Config{
		Logger:             &log.Logger,
		PrewarmConcurrency: c.config.Prewarm.Concurrency,
	})
	s := site.New(site.Config{
		Source:       source,
		Engine:       engine,
		Preferences:  prefs,
		Logger:       &log.Logger,
		Policies:     &policies,
		ListSize:     c.config.Blog.ListSize,
		StaticPosts:  c.config.Blog.StaticPosts,
		StrictStatic: c.config.Blog.StrictStatic,
	})
	return s, func() { prefs.Close() }, nil
}
