// Package client создаёт MTProto-клиент gotd: хранилище сессии, SOCKS5-прокси,
// проверка авторизации и интерактивный вход.
package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

var ErrNotAuthorized = errors.New("аккаунт не авторизован, выполните login")

type Proxy struct {
	Addr     string
	Login    string
	Password string
}

type Options struct {
	APIID   int
	APIHash string
	Phone   string
	Proxy   *Proxy
	// SessionDB задаёт хранение сессии в Postgres, иначе SessionFile, иначе память.
	SessionDB   *sql.DB
	SessionFile string
	Logger      *zap.Logger
}

func sessionStorage(opts Options) session.Storage {
	switch {
	case opts.SessionDB != nil:
		return &DBSessionStorage{DB: opts.SessionDB, Account: opts.Phone}
	case opts.SessionFile != "":
		return &session.FileStorage{Path: opts.SessionFile}
	default:
		return &session.StorageMemory{}
	}
}

// New создаёт клиент, но не подключается: соединение живёт внутри Run.
func New(opts Options) (*telegram.Client, error) {
	if opts.APIID == 0 || opts.APIHash == "" {
		return nil, fmt.Errorf("не заданы api_id/api_hash")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	topts := telegram.Options{
		SessionStorage: sessionStorage(opts),
		Logger:         log.Named("mtproto"),
	}
	if opts.Proxy != nil && opts.Proxy.Addr != "" {
		var pauth *proxy.Auth
		if opts.Proxy.Login != "" || opts.Proxy.Password != "" {
			pauth = &proxy.Auth{User: opts.Proxy.Login, Password: opts.Proxy.Password}
		}
		d, err := proxy.SOCKS5("tcp", opts.Proxy.Addr, pauth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("proxy dialer: %w", err)
		}
		dc, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy dialer missing context")
		}
		topts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dc.DialContext})
		log.Info("подключение через прокси", zap.String("phone", opts.Phone), zap.String("proxy", opts.Proxy.Addr))
	}
	return telegram.NewClient(opts.APIID, opts.APIHash, topts), nil
}

// Run подключается, проверяет авторизацию и вызывает fn с API-клиентом.
func Run(ctx context.Context, c *telegram.Client, fn func(ctx context.Context, api *tg.Client) error) error {
	return c.Run(ctx, func(ctx context.Context) error {
		status, err := c.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("статус авторизации: %w", err)
		}
		if !status.Authorized {
			return ErrNotAuthorized
		}
		return fn(ctx, c.API())
	})
}

// CodePrompt запрашивает у оператора код из Telegram.
type CodePrompt func(ctx context.Context, sent *tg.AuthSentCode) (string, error)

// Login проходит вход по коду, с паролем 2FA, если он задан. Сессия
// сохраняется в хранилище клиента.
func Login(ctx context.Context, c *telegram.Client, phone, password string, prompt CodePrompt) error {
	return c.Run(ctx, func(ctx context.Context) error {
		codeAuth := auth.CodeAuthenticatorFunc(prompt)
		var ua auth.UserAuthenticator = auth.CodeOnly(phone, codeAuth)
		if password != "" {
			ua = auth.Constant(phone, password, codeAuth)
		}
		flow := auth.NewFlow(ua, auth.SendCodeOptions{})
		if err := c.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("авторизация %s: %w", phone, err)
		}
		return nil
	})
}
