package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/client"
	"github.com/IqraKhanZ/ChatNest/internal/roomsync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) openCmd() *cobra.Command {
	var (
		noAI    bool
		history int
	)
	cmd := &cobra.Command{
		Use:   "open <room>",
		Short: "Open a room and chat (type /quit to leave)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var room client.Room
			err := a.authed(cmd.Context(), func() (err error) {
				room, err = a.findRoom(cmd.Context(), args[0])
				return err
			})
			if err != nil {
				return err
			}
			return a.chat(cmd.Context(), room, roomsync.WithAIReplies(!noAI), roomsync.WithHistoryLimit(history))
		},
	}
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "do not ask the AI to reply to your messages")
	cmd.Flags().IntVar(&history, "history", roomsync.DefaultHistoryLimit, "number of past messages to load")
	return cmd
}

// sendQueue 是等待发送的输入行上限，超出的行直接丢弃并提示。
const sendQueue = 64

// chat 把终端输入接到房间视图上：历史加载完再读输入，每行输入按顺序
// 交给唯一的发送协程，列表变化时输出新条目。
func (a *app) chat(ctx context.Context, room client.Room, opts ...roomsync.Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := roomsync.NewView(room.ID, a.sess, roomsync.Deps{Store: a.c, Profiles: a.c, Feed: a.c, Completer: a.c}, opts...)
	defer view.Close()
	if err := view.Enter(ctx); err != nil {
		return fmt.Errorf("open room: %w", err)
	}
	fmt.Fprintf(a.out, "-- %s (passkey %s), /quit to leave --\n", room.Title, room.Passkey)

	r := newRenderer(a.out)
	select {
	case <-view.Loaded():
	case <-ctx.Done():
		return nil
	}
	r.render(view.Messages())

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	// SetDraft 与 Send 必须在同一个协程里成对执行，否则后一行会覆盖前一行的草稿。
	pending := make(chan string, sendQueue)
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for line := range pending {
			view.SetDraft(line)
			if err := view.Send(ctx); err != nil && !errors.Is(err, roomsync.ErrEmptyDraft) {
				log.Debug().Err(err).Str("room_id", room.ID).Msg("send")
			}
		}
	}()

	// finish 等待队列中的消息发完，期间照常输出列表变化与提示。
	finish := func() {
		close(pending)
		for {
			select {
			case <-sent:
				r.render(view.Messages())
				for {
					select {
					case n := <-view.Notices():
						fmt.Fprintf(a.out, "! %s\n", n)
					default:
						return
					}
				}
			case <-view.Changes():
				r.render(view.Messages())
			case n := <-view.Notices():
				fmt.Fprintf(a.out, "! %s\n", n)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			finish()
			return nil
		case <-view.Changes():
			r.render(view.Messages())
		case n := <-view.Notices():
			fmt.Fprintf(a.out, "! %s\n", n)
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				finish()
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case pending <- line:
			default:
				fmt.Fprintf(a.out, "! too many messages waiting to send, dropped %q\n", line)
			}
		}
	}
}

// renderer 以追加方式输出消息列表。provisional 条目与其确认后的记录共用
// 一个 key（client tag），所以每条消息只输出一次。
type renderer struct {
	w       io.Writer
	printed map[string]bool
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w, printed: make(map[string]bool)}
}

func entryKey(m roomsync.Message) string {
	if m.ClientTag != "" {
		return m.ClientTag
	}
	return m.ID
}

func (r *renderer) render(msgs []roomsync.Message) {
	for _, m := range msgs {
		key := entryKey(m)
		if r.printed[key] {
			continue
		}
		r.printed[key] = true
		fmt.Fprintln(r.w, formatEntry(m))
	}
}

func formatEntry(m roomsync.Message) string {
	switch {
	case m.Transient:
		return fmt.Sprintf("  * %s: %s", m.Author, m.Content)
	case m.Provisional:
		return fmt.Sprintf("[%s] %s: %s (sending)", m.CreatedAt.Local().Format(time.Kitchen), m.Author, m.Content)
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format(time.Kitchen), m.Author, m.Content)
}
