package roomsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Send 发送当前草稿。草稿立即作为临时条目显示并被清空，随后阻塞到消息
// 写入完成，以及（开启时）AI 回复处理完毕。每个视图同时只有一个发送。
//
// 写入失败会移除临时条目、恢复草稿并返回错误。AI 失败只留下错误条目和
// Notice，不算发送失败。Close 不会取消 Send，由 ctx 控制；视图关闭后不再请求 AI 回复。
func (v *View) Send(ctx context.Context) error {
	ident, signedIn := v.sess.Current()

	var (
		prov  Message
		draft string
		err   error
	)
	ran := v.query(func() {
		switch {
		case v.closed.Load():
			err = ErrClosed
		case !signedIn || v.signedOut:
			err = ErrNoSession
		case v.roomID == "":
			err = ErrNoRoom
		case strings.TrimSpace(v.draft) == "":
			err = ErrEmptyDraft
		case v.sending:
			err = ErrSendInFlight
		}
		if err != nil {
			return
		}
		now := v.now()
		author := ident.Username
		if author == "" {
			author = Anonymous
		}
		draft = v.draft
		prov = Message{
			ID:          provisionalID(now),
			AuthorID:    ident.UserID,
			Author:      author,
			Content:     strings.TrimSpace(draft),
			Origin:      Human,
			CreatedAt:   now,
			Provisional: true,
		}
		v.list = append(v.list, prov)
		v.draft = ""
		v.sending = true
		v.changed()
	})
	if !ran {
		return ErrClosed
	}
	switch {
	case errors.Is(err, ErrNoSession):
		v.notify(Notice{Kind: KindAuthorization, Title: "sign in to send messages", Err: err})
	case errors.Is(err, ErrNoRoom):
		v.notify(Notice{Kind: KindValidation, Title: "no room selected", Err: err})
	case errors.Is(err, ErrSendInFlight):
		v.notify(Notice{Kind: KindValidation, Title: "wait for the previous message to finish sending", Err: err})
	}
	if err != nil {
		return err
	}

	v.authors.Remember(ident.UserID, ident.Username)
	rec, err := v.store.InsertMessage(ctx, NewMessage{
		RoomID:    v.roomID,
		AuthorID:  ident.UserID,
		Content:   prov.Content,
		ClientTag: prov.ID,
	})
	if err != nil {
		v.post(func() {
			v.remove(prov.ID)
			if v.draft == "" {
				v.draft = draft
			}
			v.sending = false
			v.notify(Notice{Kind: kindOf(err), Title: "failed to send message", Err: err})
		})
		return fmt.Errorf("send message: %w", err)
	}

	if rec.ClientTag == "" {
		rec.ClientTag = prov.ID
	}
	confirmed := fromRecord(rec, prov.Author)
	v.post(func() { v.ingest(confirmed) })

	if v.aiReplies && v.ai != nil && !v.closed.Load() {
		v.replyWithAI(ctx, prov.Content)
	}
	v.post(func() { v.sending = false })
	return nil
}

// replyWithAI 在请求期间显示 typing 占位，并在回复或错误条目出现前移除它。
func (v *View) replyWithAI(ctx context.Context, content string) {
	now := v.now()
	typing := Message{ID: typingID(now), Author: AIAuthor, Content: typingText, Origin: AI, CreatedAt: now, Transient: true}
	v.post(func() {
		v.list = append(v.list, typing)
		v.changed()
	})

	reply, err := v.ai.Complete(ctx, content)
	if err != nil {
		v.post(func() {
			v.remove(typing.ID)
			v.appendAIError()
			v.notify(Notice{Kind: KindAI, Title: "AI reply failed", Err: err})
		})
		return
	}
	v.post(func() { v.remove(typing.ID) })

	rec, err := v.store.InsertMessage(ctx, NewMessage{RoomID: v.roomID, Content: reply, IsAI: true})
	if err != nil {
		v.post(func() {
			v.appendAIError()
			v.notify(Notice{Kind: kindOf(err), Title: "failed to store AI reply", Err: err})
		})
		return
	}
	m := fromRecord(rec, AIAuthor)
	v.post(func() { v.ingest(m) })
}

func (v *View) appendAIError() {
	now := v.now()
	v.list = append(v.list, Message{ID: errorID(now), Author: AIErrorAuthor, Content: aiErrorText, Origin: AI, CreatedAt: now, Transient: true})
	v.changed()
}
