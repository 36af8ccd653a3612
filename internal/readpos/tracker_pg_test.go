package readpos

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/models"
)

// TestTracker_Postgres runs the tracker on the real store so the SQL the
// in-memory store mirrors is checked too. It needs
// ROOMCHAT_TEST_DATABASE_URL.
func TestTracker_Postgres(t *testing.T) {
	url := os.Getenv("ROOMCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ROOMCHAT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.InitDB(url)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := database.RunMigrations(ctx, db); err != nil {
		t.Fatal(err)
	}
	store := database.NewStore(db)
	tr := New(store, slogt.New(t))

	room, err := store.CreateOrGetRoom(ctx, "test-"+uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	author := models.Principal{ID: uuid.NewString(), Username: "author"}
	reader := models.Principal{ID: uuid.NewString(), Username: "reader"}
	for _, p := range []models.Principal{author, reader} {
		if err := store.UpsertUser(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	var msgs []*models.MessageView
	for _, c := range []string{"one", "two", "three"} {
		v, err := store.PostMessage(ctx, room.ID, author.ID, c, nil)
		if err != nil {
			t.Fatal(err)
		}
		msgs = append(msgs, v)
	}

	if n, _ := tr.UnreadCount(ctx, reader.ID, room.ID); n != 0 {
		t.Fatalf("never visited UnreadCount = %d, want 0", n)
	}

	st, err := tr.MarkAsRead(ctx, reader.ID, room.ID, Now())
	if err != nil {
		t.Fatal(err)
	}
	if st.State != models.StateCaughtUp || *st.Position.LastMessageID != msgs[2].ID {
		t.Fatalf("after now: state=%s last=%v", st.State, st.Position.LastMessageID)
	}

	st, err = tr.MarkAsRead(ctx, reader.ID, room.ID, UpToTime(msgs[0].CreatedAt))
	if err != nil {
		t.Fatal(err)
	}
	if st.UnreadCount != 2 || st.State != models.StateBehind {
		t.Errorf("after marking back to the first message: unread=%d state=%s, want 2 BEHIND", st.UnreadCount, st.State)
	}
	first, err := tr.FirstUnread(ctx, reader.ID, room.ID)
	if err != nil || first == nil || first.ID != msgs[1].ID {
		t.Errorf("FirstUnread() = %v, %v; want %s", first, err, msgs[1].ID)
	}

	if _, err := store.SoftDeleteMessage(ctx, msgs[1].ID, author.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := tr.UnreadCount(ctx, reader.ID, room.ID); n != 1 {
		t.Errorf("UnreadCount after delete = %d, want 1", n)
	}

	st, err = tr.MarkAsRead(ctx, reader.ID, room.ID, UpToMessage(msgs[2].ID))
	if err != nil {
		t.Fatal(err)
	}
	if st.UnreadCount != 0 {
		t.Errorf("after marking the last message: unread=%d, want 0", st.UnreadCount)
	}
}
