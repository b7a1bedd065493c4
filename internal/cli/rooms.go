package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/IqraKhanZ/ChatNest/internal/client"
	"github.com/IqraKhanZ/ChatNest/internal/roomsync"

	"github.com/spf13/cobra"
)

func (a *app) roomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms you belong to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rooms []client.Room
			err := a.authed(cmd.Context(), func() (err error) {
				rooms, err = a.c.Rooms(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Fprintln(a.out, "no rooms yet, try `chat create` or `chat join`")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TITLE\tPASSKEY\tROLE\tMEMBERS\tONLINE\tID")
			for _, r := range rooms {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", r.Title, r.Passkey, r.YouAre, r.Members, r.Online, r.ID)
			}
			return tw.Flush()
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <title>",
		Short: "Create a room",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			var room client.Room
			err := a.authed(cmd.Context(), func() (err error) {
				room, err = a.c.CreateRoom(cmd.Context(), title)
				return err
			})
			if err != nil {
				return fmt.Errorf("create room: %w", err)
			}
			fmt.Fprintf(a.out, "created %q, share passkey %s\n", room.Title, room.Passkey)
			return nil
		},
	}
}

func (a *app) joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <passkey>",
		Short: "Join a room by passkey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				room    client.Room
				already bool
			)
			err := a.authed(cmd.Context(), func() (err error) {
				room, already, err = a.c.JoinRoom(cmd.Context(), args[0])
				return err
			})
			if err != nil {
				return fmt.Errorf("join room: %w", err)
			}
			if already {
				fmt.Fprintf(a.out, "already a member of %q\n", room.Title)
				return nil
			}
			fmt.Fprintf(a.out, "joined %q\n", room.Title)
			return nil
		},
	}
}

func (a *app) membersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <room>",
		Short: "List the members of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.authed(cmd.Context(), func() error {
				room, err := a.findRoom(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				members, err := a.c.Members(cmd.Context(), room.ID)
				if err != nil {
					return err
				}
				for _, m := range members {
					fmt.Fprintf(a.out, "%s <%s>\n", m.Username, m.Email)
				}
				return nil
			})
		},
	}
}

// findRoom 按 id、标题（忽略大小写）或口令在已加入的房间里查找。
func (a *app) findRoom(ctx context.Context, ref string) (client.Room, error) {
	rooms, err := a.c.Rooms(ctx)
	if err != nil {
		return client.Room{}, err
	}
	for _, r := range rooms {
		if r.ID == ref || strings.EqualFold(r.Title, ref) || strings.EqualFold(r.Passkey, ref) {
			return r, nil
		}
	}
	return client.Room{}, fmt.Errorf("room %q: %w", ref, roomsync.ErrNotFound)
}
