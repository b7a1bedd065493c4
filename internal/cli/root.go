// Package cli 实现 chat 终端客户端的命令。
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/IqraKhanZ/ChatNest/internal/client"
	clog "github.com/IqraKhanZ/ChatNest/internal/log"
	"github.com/IqraKhanZ/ChatNest/internal/session"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultServer = "http://localhost:8080"

type app struct {
	v    *viper.Viper
	sess *session.Session
	in   *bufio.Reader
	out  io.Writer

	cfgPath string
	c       *client.Client
}

// NewRootCmd 构建命令树。in/out 在测试中替换为内存缓冲。
func NewRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), sess: session.New(), in: bufio.NewReader(in), out: out}

	root := &cobra.Command{
		Use:           "chat",
		Short:         "ChatNest terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			clog.InitTo("dev", os.Stderr)
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.WarnLevel)
			}
			return a.load(cmd)
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default $HOME/.chatnest.yaml)")
	pf.String("server", defaultServer, "ChatNest server URL")
	pf.BoolP("verbose", "v", false, "debug logging on stderr")
	_ = a.v.BindPFlag("server", pf.Lookup("server"))

	root.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.deleteAccountCmd(),
		a.roomsCmd(),
		a.createCmd(),
		a.joinCmd(),
		a.membersCmd(),
		a.openCmd(),
	)
	return root
}

// Execute 运行命令行，ctx 取消时正在进行的请求随之结束。
func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx)
}

// load 读取配置文件与 CHATNEST_* 环境变量，恢复上次保存的登录身份，
// 之后每次登录状态变化都写回配置文件。
func (a *app) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("locate home dir: %w", err)
		}
		path = filepath.Join(home, ".chatnest.yaml")
	}
	a.cfgPath = path

	a.v.SetConfigFile(path)
	a.v.SetConfigType("yaml")
	a.v.SetEnvPrefix("chatnest")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()
	a.v.SetDefault("server", defaultServer)
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var id session.Identity
	if err := a.v.UnmarshalKey("session", &id); err != nil {
		return fmt.Errorf("read saved session: %w", err)
	}
	if id.AccessToken != "" {
		a.sess.SignIn(id)
	}
	a.sess.Subscribe(a.persist)

	a.c = client.New(a.v.GetString("server"), a.sess)
	log.Debug().Str("config", path).Str("server", a.v.GetString("server")).Msg("cli ready")
	return nil
}

// persist 用一个只含 server 与当前 session 的新 viper 重写配置文件，
// 登出后文件里不再留有 token。
func (a *app) persist(st session.State) {
	out := viper.New()
	out.SetConfigType("yaml")
	out.Set("server", a.v.GetString("server"))
	if st.SignedIn {
		id := st.Identity
		out.Set("session", map[string]any{
			"user_id":       id.UserID,
			"username":      id.Username,
			"email":         id.Email,
			"access_token":  id.AccessToken,
			"refresh_token": id.RefreshToken,
		})
	}
	if err := os.MkdirAll(filepath.Dir(a.cfgPath), 0o700); err != nil {
		log.Error().Err(err).Str("config", a.cfgPath).Msg("save session")
		return
	}
	if err := out.WriteConfigAs(a.cfgPath); err != nil {
		log.Error().Err(err).Str("config", a.cfgPath).Msg("save session")
		return
	}
	_ = os.Chmod(a.cfgPath, 0o600)
}

var (
	errNotSignedIn   = errors.New("not signed in, run `chat login` first")
	errDeleteAborted = errors.New("account not deleted")
)

func (a *app) requireSession() error {
	if _, ok := a.sess.Current(); !ok {
		return errNotSignedIn
	}
	return nil
}

// authed 执行需要登录的调用；access token 过期时刷新一次后重试。
func (a *app) authed(ctx context.Context, call func() error) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	err := call()
	if !errors.Is(err, client.ErrUnauthorized) {
		return err
	}
	if _, rerr := a.c.Refresh(ctx); rerr != nil {
		log.Debug().Err(rerr).Msg("token refresh")
		if !errors.Is(rerr, client.ErrUnauthorized) {
			return rerr
		}
		a.sess.SignOut()
		return errNotSignedIn
	}
	return call()
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
