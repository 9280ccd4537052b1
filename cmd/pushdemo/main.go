package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/CyberwizD/expo-push/internal/background"
	"github.com/CyberwizD/expo-push/internal/config"
	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/platform/memory"
	"github.com/CyberwizD/expo-push/internal/registration"
	"github.com/CyberwizD/expo-push/internal/routes"
	"github.com/CyberwizD/expo-push/internal/screen"
	"github.com/CyberwizD/expo-push/internal/services"
	"github.com/CyberwizD/expo-push/pkg/logger"
	"github.com/CyberwizD/expo-push/pkg/metrics"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "pushdemo",
		Usage:  "register for push notifications and exercise the push service",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-format", Value: "text", Usage: "text or json"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			sendCommand(),
			reshapeCommand(),
		},
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	return logger.NewWithWriter(os.Stderr, c.String("log-level"), c.String("log-format"))
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the notification screen on a simulated device behind an HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address, defaults to :HTTP_PORT"},
			&cli.StringFlag{Name: "app-state", Value: string(background.AppStateActive)},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logr := newLogger(c)
			m := metrics.New()

			device := memory.New(memory.Options{OS: cfg.DeviceOS})
			state := background.NewStateTracker(background.AppState(c.String("app-state")), logger.Component(logr, "app"))
			handler := background.NewHandler(state.Get, logger.Component(logr, "background"))
			tasks := background.NewRegistry(logger.Component(logr, "tasks"), m)
			if err := tasks.Define(background.NotificationTask, handler.Run); err != nil {
				return err
			}

			scr := screen.New(screen.Deps{
				Platform:   device,
				Sender:     newProvider(cfg, logr),
				Background: handler,
				Metrics:    m,
				Logger:     logger.Component(logr, "screen"),
			}, screen.Options{
				ProjectID:  cfg.ProjectID,
				ForceFCMv1: cfg.ForceFCMv1,
				BufferSize: cfg.BufferSize,
			})

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := scr.Listen(); err != nil {
				return err
			}
			if err := scr.Mount(ctx); err != nil {
				return err
			}
			defer func() {
				scr.Unmount()
				scr.Wait()
			}()

			addr := c.String("addr")
			if addr == "" {
				addr = ":" + cfg.HTTPPort
			}
			srv := &http.Server{
				Addr: addr,
				Handler: routes.NewRouter(routes.Options{
					Metrics:  m,
					Started:  time.Now(),
					Logger:   logr,
					Screen:   scr,
					Device:   device,
					Tasks:    tasks,
					AppState: state,
				}),
			}
			errCh := make(chan error, 1)
			go func() {
				logr.Info("pushdemo listening", slog.String("addr", addr), slog.String("os", cfg.DeviceOS))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newProvider(cfg *config.Config, logr *slog.Logger) *services.ExpoProvider {
	return services.NewExpoProvider(services.ExpoOptions{
		AccessToken: cfg.ExpoAccessToken,
		Endpoint:    cfg.ExpoEndpoint,
		Timeout:     cfg.ProviderTimeout,
		RatePerSec:  cfg.SendRatePerSec,
	}, logger.Component(logr, "expo"))
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send one push notification and print the tickets",
		ArgsUsage: "<push token>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title"},
			&cli.StringFlag{Name: "body"},
			&cli.StringFlag{Name: "data", Usage: "JSON object attached to the message"},
			&cli.StringFlag{Name: "sound", Value: "default"},
			&cli.StringFlag{Name: "channel", Value: registration.DefaultChannelID},
			&cli.BoolFlag{Name: "fcm-v1", Usage: "ask the push service to deliver through FCM v1"},
			&cli.BoolFlag{Name: "data-only", Usage: "send only the data field"},
			&cli.StringFlag{Name: "endpoint", EnvVars: []string{"EXPO_PUSH_ENDPOINT"}, Value: services.DefaultExpoEndpoint},
			&cli.StringFlag{Name: "access-token", EnvVars: []string{"EXPO_PUBLIC_NOTIFICATIONS_AUTH_KEY"}},
		},
		Action: func(c *cli.Context) error {
			token := c.Args().First()
			if !models.IsPushToken(token) {
				return fmt.Errorf("%w: invalid push token %q", models.ErrSend, token)
			}

			msg := models.PushMessage{To: token}
			if raw := c.String("data"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &msg.Data); err != nil {
					return fmt.Errorf("parse --data: %w", err)
				}
			}
			if !c.Bool("data-only") {
				msg.Title = c.String("title")
				msg.Body = c.String("body")
				msg.Sound = c.String("sound")
				msg.ChannelID = c.String("channel")
			}

			provider := services.NewExpoProvider(services.ExpoOptions{
				AccessToken: c.String("access-token"),
				Endpoint:    c.String("endpoint"),
			}, newLogger(c))
			results, err := provider.Send(c.Context, &services.PushPayload{
				Messages: []models.PushMessage{msg},
				UseFCMv1: c.Bool("fcm-v1"),
			})
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, results)
		},
	}
}

func reshapeCommand() *cli.Command {
	return &cli.Command{
		Name:      "reshape",
		Usage:     "print the notification content a background payload turns into",
		ArgsUsage: "[payload.json]",
		Action: func(c *cli.Context) error {
			var (
				raw []byte
				err error
			)
			if path := c.Args().First(); path != "" && path != "-" {
				raw, err = os.ReadFile(path)
			} else {
				raw, err = io.ReadAll(c.App.Reader)
			}
			if err != nil {
				return err
			}

			var payload map[string]interface{}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("parse payload: %w", err)
			}
			content, err := background.Reshape(payload)
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, content)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
