package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/models"
)

func TestRenderMessage_PerRecipient(t *testing.T) {
	v := newView(roomA, bob, "thanks!")
	v.CreatedAt = time.Date(2024, 3, 1, 9, 30, 0, 123000000, time.FixedZone("CET", 3600))
	v.ReplyTo = &models.ReplyContext{ID: "parent", AuthorID: alice.ID, AuthorName: "Alice", ContentSnippet: "hi"}
	v.LikesCount = 2
	ev := messageEvent(EventNewMessage, v)

	tests := []struct {
		name        string
		viewer      models.Principal
		isOwn       bool
		isReplyToMe bool
	}{
		{name: "Author", viewer: bob, isOwn: true},
		{name: "RepliedTo", viewer: alice, isReplyToMe: true},
		{name: "Bystander", viewer: mod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encodeEvent(ev, tt.viewer)
			if err != nil {
				t.Fatal(err)
			}
			var f MessageFrame
			if typ := decodeReply(t, data, &f); typ != "newMessage" {
				t.Errorf("type = %q, want newMessage", typ)
			}
			want := MessageFrame{
				ID:          v.ID,
				Content:     "thanks!",
				AuthorName:  "bob",
				AuthorRole:  "member",
				CreatedAt:   "2024-03-01T08:30:00.123Z",
				IsOwn:       tt.isOwn,
				ReplyTo:     &ReplyFrame{ID: "parent", AuthorName: "Alice", ContentSnippet: "hi"},
				IsReplyToMe: tt.isReplyToMe,
				LikesCount:  2,
			}
			if diff := cmp.Diff(want, f); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenderMessage_DeletedHidesContent(t *testing.T) {
	v := newView(roomA, alice, "regrettable")
	v.IsDeleted = true
	f := RenderMessage(v, "", alice)
	if f.Content != "" || !f.IsDeleted {
		t.Errorf("deleted message rendered content=%q deleted=%v", f.Content, f.IsDeleted)
	}
	if f.ReplyTo != nil {
		t.Errorf("replyTo = %+v, want null", f.ReplyTo)
	}
}

func TestEvent_SurvivesRelayEncoding(t *testing.T) {
	v := newView(roomA, bob, "over the wire")
	v.ReplyTo = &models.ReplyContext{ID: "parent", AuthorID: alice.ID, AuthorName: "Alice"}
	data, err := json.Marshal(messageEvent(EventNewMessage, v))
	if err != nil {
		t.Fatal(err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if f := RenderMessage(ev.Message, ev.ReplyToAuthorID, alice); !f.IsReplyToMe {
		t.Error("isReplyToMe lost after relay encoding")
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantType    string
		wantMessage string
	}{
		{name: "Nested", data: `{"type":"message","payload":{"message":"a"}}`, wantType: "message", wantMessage: "a"},
		{name: "Flat", data: `{"type":"message","message":"b"}`, wantType: "message", wantMessage: "b"},
		{name: "NullPayload", data: `{"type":"message","payload":null,"message":"c"}`, wantType: "message", wantMessage: "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeFrame([]byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			var p SendMessagePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				t.Fatal(err)
			}
			if msg.Type != tt.wantType || p.Message != tt.wantMessage {
				t.Errorf("decodeFrame() = %q/%q, want %q/%q", msg.Type, p.Message, tt.wantType, tt.wantMessage)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		wantKind Kind
		wantCode string
	}{
		{err: fmt.Errorf("wrapped: %w", database.ErrEmptyContent), wantKind: KindValidation, wantCode: "EMPTY_CONTENT"},
		{err: database.ErrInvalidParent, wantKind: KindValidation, wantCode: "INVALID_REPLY"},
		{err: database.ErrMessageDeleted, wantKind: KindValidation, wantCode: "MESSAGE_DELETED"},
		{err: errRateLimited, wantKind: KindRateLimit, wantCode: "RATE_LIMITED"},
		{err: errNotModerator, wantKind: KindPermission, wantCode: "FORBIDDEN"},
		{err: errors.New("pq: deadlock detected"), wantKind: KindStore, wantCode: "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			ce := classify(tt.err)
			if ce.Kind != tt.wantKind || ce.Code != tt.wantCode {
				t.Errorf("classify(%v) = %s/%s, want %s/%s", tt.err, ce.Kind, ce.Code, tt.wantKind, tt.wantCode)
			}
		})
	}
}
