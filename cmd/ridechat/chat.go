package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/chat/restapi"
	"github.com/zulandar/ridechat/internal/chat/wsock"
	"github.com/zulandar/ridechat/internal/config"
	"github.com/zulandar/ridechat/internal/db"
	"github.com/zulandar/ridechat/internal/logger"
	"github.com/zulandar/ridechat/internal/notify"
	"github.com/zulandar/ridechat/internal/projector"
	"github.com/zulandar/ridechat/internal/transcript"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// sessionTokenEnv overrides api.session_token when set.
const sessionTokenEnv = "RIDECHAT_SESSION_TOKEN"

func newChatCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat <booking-id>",
		Short: "Open the chat for a booking",
		Long: `Open the realtime chat for a booking. Lines typed on the terminal are sent
as messages. /reload refetches the conversation and /quit exits.

When stdin is not a terminal the chat is shown read-only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookingID, err := parseBookingID(args[0])
			if err != nil {
				return err
			}
			return runChat(cmd, configPath, bookingID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ridechat.yaml", "path to ridechat config file")
	return cmd
}

func runChat(cmd *cobra.Command, configPath string, bookingID int64) error {
	out := &lockedWriter{w: cmd.OutOrStdout()}

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	token := sessionToken(cfg, os.Getenv)
	if token == "" {
		return fmt.Errorf("no session token: set api.session_token or %s", sessionTokenEnv)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	store, err := transcript.NewStore(transcript.StoreOpts{DB: gormDB, Logger: log})
	if err != nil {
		return err
	}
	defer store.Close()

	api, err := restapi.New(restapi.Options{
		BaseURL:      cfg.API.BaseURL,
		SessionToken: token,
		Timeout:      cfg.APITimeout(),
		Logger:       log,
	})
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, err := wsock.New(wsock.Options{
		URL:                  cfg.Realtime.URL,
		Header:               header,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		Logger:               log,
	})
	if err != nil {
		return err
	}

	notifier, err := notify.New(notify.Opts{
		Command:     cfg.Notify.Command,
		LocalUserID: cfg.LocalUserID,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	defer notifier.Wait()

	engine, err := chat.NewEngine(chat.EngineOpts{
		BookingID:      bookingID,
		LocalUserID:    cfg.LocalUserID,
		API:            api,
		Confirmer:      api,
		Transport:      ws,
		Observers:      []chat.Observer{store, notifier},
		Logger:         log,
		SendTimeout:    cfg.SendTimeout(),
		JoinTimeout:    cfg.JoinTimeout(),
		ConfirmTimeout: cfg.ConfirmTimeout(),
	})
	if err != nil {
		return err
	}

	var pruner *transcript.Pruner
	if cfg.Retention.Enabled {
		pruner, err = transcript.NewPruner(transcript.PrunerOpts{
			Store:  store,
			Cron:   cfg.Retention.Cron,
			Days:   cfg.Retention.Days,
			Logger: log,
		})
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return renderLoop(gctx, out, engine, cfg.LocalUserID) })
	if cfg.Projector.Enabled {
		g.Go(func() error {
			return projector.Start(gctx, projector.StartOpts{
				Source: engine,
				Port:   cfg.Projector.Port,
				Logger: log,
				Out:    out,
			})
		})
	}
	if pruner != nil {
		g.Go(func() error { return pruner.Run(gctx) })
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		// Not part of the group: a blocked terminal read must not hold up exit.
		go readInput(gctx, os.Stdin, engine, cancel, out)
	} else {
		fmt.Fprintln(out, "stdin is not a terminal; showing the chat read-only")
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// composer is the part of the engine driven by typed input.
type composer interface {
	Submit(text string) error
	Reload() error
}

// readInput feeds terminal lines to the engine until EOF or ctx ends.
func readInput(ctx context.Context, in io.Reader, c composer, quit func(), out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !handleLine(scanner.Text(), c, quit, out) {
			return
		}
	}
}

// handleLine applies one typed line. It returns false after /quit.
func handleLine(line string, c composer, quit func(), out io.Writer) bool {
	switch strings.TrimSpace(line) {
	case "":
		return true
	case "/quit":
		quit()
		return false
	case "/reload":
		if err := c.Reload(); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
		return true
	}
	if err := c.Submit(line); err != nil {
		fmt.Fprintf(out, "! %v\n", err)
	}
	return true
}

// sessionToken prefers the environment over the config file.
func sessionToken(cfg *config.Config, getenv func(string) string) string {
	if tok := strings.TrimSpace(getenv(sessionTokenEnv)); tok != "" {
		return tok
	}
	return cfg.API.SessionToken
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	var paths []string
	if cfg.Log.File != "" {
		paths = append(paths, cfg.Log.File)
	}
	log, err := logger.New(cfg.Log.Mode, paths...)
	if err != nil {
		return nil, err
	}
	if cfg.Log.HashSalt != "" {
		log = log.WithHashSalt(cfg.Log.HashSalt)
	}
	return log, nil
}
