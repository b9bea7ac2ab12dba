package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zeusync/refmirror/internal/config"
	"github.com/zeusync/refmirror/internal/core/mirror"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/remote/ws"
)

// cli holds the state shared by every subcommand.
type cli struct {
	configPath string
	envFile    string
	url        string
	token      string

	cfg    config.Config
	logger log.Log
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "mirrorctl",
		Short:         "Read, write and watch a refmirror store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.out = cmd.OutOrStdout()
			return c.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "path to a .env file, loaded when present")
	root.PersistentFlags().StringVar(&c.url, "url", "", "websocket URL of the store (env REFMIRROR_CLIENT_URL)")
	root.PersistentFlags().StringVar(&c.token, "token", "", "access token (env REFMIRROR_CLIENT_TOKEN)")

	root.AddCommand(
		newGetCmd(c),
		newWatchCmd(c),
		newSetCmd(c),
		newPushCmd(c),
		newPriorityCmd(c),
		newRemoveCmd(c),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", c.envFile, err)
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("url") {
		cfg.Client.URL = c.url
	}
	if cmd.Flags().Changed("token") {
		cfg.Client.Token = c.token
	}
	if err := mirror.SetTagField(cfg.Mirror.TagField); err != nil && !errors.Is(err, mirror.ErrTagFieldFrozen) {
		return err
	}

	c.cfg = cfg
	c.logger = log.New(cfg.LogLevel()).With(log.Component("mirrorctl"))
	return nil
}

func (c *cli) dial(ctx context.Context) (*ws.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Client.DialTimeout)
	defer cancel()
	return ws.Dial(dialCtx, c.cfg.Client.URL,
		ws.WithClientLogger(c.logger),
		ws.WithSendBuffer(c.cfg.Client.SendBuffer),
		ws.WithToken(c.cfg.Client.Token),
		ws.WithErrorHandler(func(e *ws.RemoteError) {
			c.logger.Error("store rejected request", log.Error(e))
		}),
	)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	return enc.Encode(v)
}

// parseJSON reads a command-line value. Anything that is not valid JSON is
// taken as a plain string.
func parseJSON(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}
