package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) registerCmd() *cobra.Command {
	var email, username, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				var err error
				if password, err = a.prompt("password: "); err != nil {
					return err
				}
			}
			p, err := a.c.Register(cmd.Context(), email, username, password)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Fprintf(a.out, "registered %s <%s>, now run `chat login`\n", p.Username, p.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&username, "username", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				var err error
				if password, err = a.prompt("password: "); err != nil {
					return err
				}
			}
			id, err := a.c.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			a.sess.SignIn(id)
			fmt.Fprintf(a.out, "signed in as %s\n", id.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a.sess.SignOut()
			fmt.Fprintln(a.out, "signed out")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.authed(cmd.Context(), func() error {
				p, err := a.c.Me(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s <%s> %s\n", p.Username, p.Email, p.ID)
				return nil
			})
		},
	}
}

// deleteAccountCmd 删除服务端账号并清除本地 session。未加 --yes 时需要
// 输入用户名确认。
func (a *app) deleteAccountCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Delete your account (your messages stay, without an author)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, ok := a.sess.Current()
			if !ok {
				return errNotSignedIn
			}
			if !yes {
				answer, err := a.prompt(fmt.Sprintf("type %q to delete this account: ", id.Username))
				if err != nil {
					return err
				}
				if !strings.EqualFold(answer, id.Username) {
					return errDeleteAborted
				}
			}
			if err := a.authed(cmd.Context(), func() error { return a.c.DeleteAccount(cmd.Context()) }); err != nil {
				return fmt.Errorf("delete account: %w", err)
			}
			fmt.Fprintf(a.out, "deleted account %s\n", id.Username)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
