package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"corecu_go/pkg/storage"
	"corecu_go/pkg/telegram/client"
	"corecu_go/pkg/telegram/core_users"
	"corecu_go/pkg/telegram/export"
	"corecu_go/pkg/telegram/scanner"

	"github.com/gin-gonic/gin"
	"github.com/gotd/td/tg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTP API поверх одного подключения к Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			e, err := newEnv(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()
			if addr == "" {
				addr = e.cfg.Server.Address
			}
			if !e.cfg.Log.Development {
				gin.SetMode(gin.ReleaseMode)
			}

			return e.withTelegram(ctx, func(ctx context.Context, c components) error {
				srv := &http.Server{
					Addr: addr,
					Handler: setupRouter(routerDeps{
						Runner:   c.manager,
						Resolver: c.resolver,
						Exporter: c.exporter,
						Metrics:  e.metrics,
						APIToken: e.cfg.Server.APIToken,
						Log:      e.log,
					}),
					ReadHeaderTimeout: 10 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() {
					e.log.Info("сервер запущен", zap.String("addr", addr))
					errCh <- srv.ListenAndServe()
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}
				e.log.Info("остановка сервера")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "адрес HTTP (по умолчанию server.address)")
	return cmd
}

func migrateCMD(cfgPath *string) *cobra.Command {
	var direction string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Миграции Postgres (engagement_runs, account_session)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnvNoStore(*cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := storage.Migrate(e.cfg.Storage.Postgres.URL, direction, steps); err != nil {
				return err
			}
			e.log.Info("миграции применены", zap.String("direction", direction), zap.Int("steps", steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "up или down")
	cmd.Flags().IntVar(&steps, "steps", 0, "число шагов (0 = все)")
	return cmd
}

func reportCMD(cfgPath *string) *cobra.Command {
	var actorID int64
	var channel, period string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Построить отчёт о ядре пользователей канала",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			e, err := newEnv(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()

			return e.withTelegram(ctx, func(ctx context.Context, c components) error {
				res, err := c.manager.Start(ctx, core_users.StartRequest{ActorID: actorID, Channel: channel, Period: period})
				var vErr *core_users.ValidationError
				if errors.As(err, &vErr) {
					return errors.New(vErr.Message)
				}
				if err != nil {
					return err
				}
				if res.Outcome != core_users.OutcomeSuccess {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Message)
					return nil
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res.Report)
			})
		},
	}
	cmd.Flags().Int64Var(&actorID, "actor", 0, "ID пользователя, для которого считается лимит")
	cmd.Flags().StringVar(&channel, "channel", "", "@username канала")
	cmd.Flags().StringVar(&period, "period", "14d", "период, например 14d или 90d")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func exportCMD(cfgPath *string) *cobra.Command {
	var channel, out string
	var days int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Выгрузить посты канала с деревьями комментариев в JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			e, err := newEnv(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()
			if out == "" {
				out = e.cfg.Export.Dir
			}

			return e.withTelegram(ctx, func(ctx context.Context, c components) error {
				info, err := c.resolver.ResolvePeer(ctx, channel)
				if err != nil {
					return err
				}
				exp, err := c.exporter.Export(ctx, info, scanner.LastDays(time.Now(), days))
				if err != nil {
					return err
				}
				path, err := export.WriteFile(out, exp)
				if err != nil {
					return err
				}
				e.log.Info("выгрузка сохранена", zap.String("path", path), zap.Int("posts", len(exp.Posts)))
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "@username канала")
	cmd.Flags().IntVar(&days, "days", 90, "глубина выгрузки в днях")
	cmd.Flags().StringVar(&out, "out", "", "каталог выгрузки (по умолчанию export.dir)")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func loginCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Интерактивный вход в Telegram с сохранением сессии",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			e, err := newEnv(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()

			tgc, err := e.telegramClient()
			if err != nil {
				return err
			}
			reader := bufio.NewReader(cmd.InOrStdin())
			prompt := func(ctx context.Context, sent *tg.AuthSentCode) (string, error) {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), "Код из Telegram: ")
				code, err := reader.ReadString('\n')
				if err != nil {
					return "", err
				}
				return strings.TrimSpace(code), nil
			}
			if err := client.Login(ctx, tgc, e.cfg.Telegram.Phone, e.cfg.Telegram.Password, prompt); err != nil {
				return err
			}
			e.log.Info("авторизация прошла успешно", zap.String("phone", e.cfg.Telegram.Phone))
			return nil
		},
	}
}
