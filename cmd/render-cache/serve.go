package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
)

const shutdownTimeout = 10 * time.Second

func (c *CLI) newServeCmd() *cobra.Command {
	var (
		port         int
		source       string
		db           string
		strictStatic bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the site and serve it over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("port") {
				c.config.Port = port
			}
			if flags.Changed("source") {
				c.config.Source.BaseURL = source
			}
			if flags.Changed("db") {
				c.config.Preferences.DB = db
			}
			if flags.Changed("strict-static") {
				c.config.Blog.StrictStatic = strictStatic
			}
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")
	cmd.Flags().StringVar(&source, "source", "", "Base URL of the posts API")
	cmd.Flags().StringVar(&db, "db", "preferences.db", "Preferences DB file name (use 'memory' for in-memory db)")
	cmd.Flags().BoolVar(&strictStatic, "strict-static", false, "Answer 404 for posts that were not prebuilt")
	return cmd
}

func (c *CLI) serve(ctx context.Context) error {
	s, closeSite, err := c.newSite()
	if err != nil {
		return err
	}
	defer closeSite()

	if _, err := s.Build(ctx); err != nil {
		// pages that failed to prebuild are generated on demand
		log.Warn().Err(err).Msg("Build incomplete, serving anyway")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Serving site on port %d", c.config.Port)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return zerr.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return zerr.Wrap(err, "shutdown failed")
	}
	s.Engine().Wait()
	log.Info().Msg("Background revalidations finished")
	return nil
}
