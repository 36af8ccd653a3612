package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/umar/roomchat/internal/models"
	"github.com/umar/roomchat/internal/readpos"
)

var (
	alice = models.Principal{ID: "u-alice", Username: "alice", DisplayName: "Alice", Role: "member", RoleIcon: "leaf"}
	bob   = models.Principal{ID: "u-bob", Username: "bob", Role: "member"}
	mod   = models.Principal{ID: "u-mod", Username: "mod", DisplayName: "Mod", Role: "moderator", RoleIcon: "shield"}
)

var errUnexpectedCall = errors.New("unexpected call")

type testStore struct {
	T              *testing.T
	postMessage    func(t *testing.T, roomID, authorID, content string, parentID *string) (*models.MessageView, error)
	getMessage     func(t *testing.T, id string) (*models.MessageView, error)
	getHistory     func(t *testing.T, roomID string, limit int) ([]models.MessageView, error)
	editMessage    func(t *testing.T, id, editorID, content string) (*models.MessageView, error)
	softDelete     func(t *testing.T, id, actorID string) (*models.MessageView, error)
	setPinned      func(t *testing.T, id, actorID string, pinned bool) (*models.MessageView, error)
	react          func(t *testing.T, messageID, userID string, kind models.ReactionType) (*models.Reaction, error)
	reactionCounts func(t *testing.T, messageID string) (int, int, error)
	getRoomByName  func(t *testing.T, name string) (*models.Room, error)
	forwardMessage func(t *testing.T, originalID, targetRoomID, actorID string) (*models.MessageView, error)
}

func (s *testStore) unexpected(name string) error {
	s.T.Errorf("unexpected call to %s", name)
	return errUnexpectedCall
}

func (s *testStore) PostMessage(_ context.Context, roomID, authorID, content string, parentID *string) (*models.MessageView, error) {
	if s.postMessage == nil {
		return nil, s.unexpected("PostMessage")
	}
	return s.postMessage(s.T, roomID, authorID, content, parentID)
}

func (s *testStore) GetMessage(_ context.Context, id string) (*models.MessageView, error) {
	if s.getMessage == nil {
		return nil, s.unexpected("GetMessage")
	}
	return s.getMessage(s.T, id)
}

func (s *testStore) GetHistory(_ context.Context, roomID string, limit int) ([]models.MessageView, error) {
	if s.getHistory == nil {
		return nil, s.unexpected("GetHistory")
	}
	return s.getHistory(s.T, roomID, limit)
}

func (s *testStore) EditMessage(_ context.Context, id, editorID, content string) (*models.MessageView, error) {
	if s.editMessage == nil {
		return nil, s.unexpected("EditMessage")
	}
	return s.editMessage(s.T, id, editorID, content)
}

func (s *testStore) SoftDeleteMessage(_ context.Context, id, actorID string) (*models.MessageView, error) {
	if s.softDelete == nil {
		return nil, s.unexpected("SoftDeleteMessage")
	}
	return s.softDelete(s.T, id, actorID)
}

func (s *testStore) PinMessage(_ context.Context, id, actorID string) (*models.MessageView, error) {
	if s.setPinned == nil {
		return nil, s.unexpected("PinMessage")
	}
	return s.setPinned(s.T, id, actorID, true)
}

func (s *testStore) UnpinMessage(_ context.Context, id, actorID string) (*models.MessageView, error) {
	if s.setPinned == nil {
		return nil, s.unexpected("UnpinMessage")
	}
	return s.setPinned(s.T, id, actorID, false)
}

func (s *testStore) React(_ context.Context, messageID, userID string, kind models.ReactionType) (*models.Reaction, error) {
	if s.react == nil {
		return nil, s.unexpected("React")
	}
	return s.react(s.T, messageID, userID, kind)
}

func (s *testStore) ReactionCounts(_ context.Context, messageID string) (int, int, error) {
	if s.reactionCounts == nil {
		return 0, 0, s.unexpected("ReactionCounts")
	}
	return s.reactionCounts(s.T, messageID)
}

func (s *testStore) GetRoomByName(_ context.Context, name string) (*models.Room, error) {
	if s.getRoomByName == nil {
		return nil, s.unexpected("GetRoomByName")
	}
	return s.getRoomByName(s.T, name)
}

func (s *testStore) ForwardMessage(_ context.Context, originalID, targetRoomID, actorID string) (*models.MessageView, error) {
	if s.forwardMessage == nil {
		return nil, s.unexpected("ForwardMessage")
	}
	return s.forwardMessage(s.T, originalID, targetRoomID, actorID)
}

type testTracker struct {
	status      func(userID, roomID string) (*readpos.Status, error)
	firstUnread func(userID, roomID string) (*models.MessageView, error)
	markAsRead  func(userID, roomID string, mark readpos.Mark) (*readpos.Status, error)
}

func (tr *testTracker) Status(_ context.Context, userID, roomID string) (*readpos.Status, error) {
	if tr.status == nil {
		return &readpos.Status{
			Position: models.ReadPosition{UserID: userID, RoomID: roomID},
			State:    models.StateNeverVisited,
		}, nil
	}
	return tr.status(userID, roomID)
}

func (tr *testTracker) FirstUnread(_ context.Context, userID, roomID string) (*models.MessageView, error) {
	if tr.firstUnread == nil {
		return nil, nil
	}
	return tr.firstUnread(userID, roomID)
}

func (tr *testTracker) MarkAsRead(_ context.Context, userID, roomID string, mark readpos.Mark) (*readpos.Status, error) {
	if tr.markAsRead == nil {
		return nil, errors.New("markAsRead not configured")
	}
	return tr.markAsRead(userID, roomID, mark)
}

func newTestRouter(t *testing.T, store Store, tracker Tracker) (*Router, *Bus) {
	t.Helper()
	if tracker == nil {
		tracker = &testTracker{}
	}
	bus := NewBus(slogt.New(t), NewMetrics(nil))
	r := NewRouter(store, tracker, bus, slogt.New(t), RouterConfig{
		HistoryLimit:   50,
		ModeratorRoles: []string{"admin", "moderator"},
	})
	return r, bus
}

func newView(roomID string, author models.Principal, content string) *models.MessageView {
	return &models.MessageView{
		Message: models.Message{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			AuthorID:  author.ID,
			Content:   content,
			CreatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		Author: author,
	}
}

func frame(t *testing.T, typ string, payload interface{}) []byte {
	t.Helper()
	data, err := NewWSMessage(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func decodeReply(t *testing.T, data []byte, payload interface{}) string {
	t.Helper()
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("reply is not a frame: %v: %s", err, data)
	}
	if payload != nil {
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			t.Fatalf("reply payload: %v: %s", err, msg.Payload)
		}
	}
	return msg.Type
}

// drain returns the events currently buffered for s.
func drain(s *Subscriber) []Event {
	var out []Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
