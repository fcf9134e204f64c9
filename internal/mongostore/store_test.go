package mongostore

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/evcraddock/incident-board/internal/post"
	"github.com/evcraddock/incident-board/internal/user"
)

// testStore connects to the server in IB_TEST_MONGO_URI using a throwaway
// database. Tests skip when the variable is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("IB_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("IB_TEST_MONGO_URI not set; MongoDB store tests need a live server")
	}

	name := "ib_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s, err := Open(context.Background(), uri, name)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		if err := s.Drop(ctx); err != nil {
			t.Errorf("drop: %v", err)
		}
		if err := s.Close(ctx); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return s
}

func mustUser(t *testing.T, users *Users, name string) *user.User {
	t.Helper()
	u, err := users.Create(context.Background(), name, "hash-"+name)
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func TestUsersCreateAndGet(t *testing.T) {
	users := testStore(t).Users()
	ctx := context.Background()

	u := mustUser(t, users, "alice")

	byName, err := users.GetByName(ctx, "alice")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if byName.ID != u.ID || byName.PasswordHash != "hash-alice" {
		t.Errorf("got %+v, want %+v", byName, u)
	}

	byID, err := users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Name != "alice" {
		t.Errorf("name = %q, want alice", byID.Name)
	}

	if _, err := users.GetByName(ctx, "Alice"); !errors.Is(err, user.ErrNotFound) {
		t.Errorf("case-folded lookup: err = %v, want ErrNotFound", err)
	}
}

func TestUsersDuplicateName(t *testing.T) {
	users := testStore(t).Users()
	mustUser(t, users, "alice")

	if _, err := users.Create(context.Background(), "alice", "x"); !errors.Is(err, user.ErrNameTaken) {
		t.Errorf("err = %v, want ErrNameTaken", err)
	}
	if _, err := users.Create(context.Background(), "", "x"); !errors.Is(err, user.ErrNameRequired) {
		t.Errorf("err = %v, want ErrNameRequired", err)
	}
}

func TestUsersList(t *testing.T) {
	users := testStore(t).Users()
	mustUser(t, users, "carol")
	mustUser(t, users, "alice")
	mustUser(t, users, "bob")

	list, err := users.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, u := range list {
		names = append(names, u.Name)
	}
	if strings.Join(names, ",") != "alice,bob,carol" {
		t.Errorf("names = %v", names)
	}
}

func TestPostsListPopulated(t *testing.T) {
	s := testStore(t)
	users, posts := s.Users(), s.Posts()
	ctx := context.Background()

	alice := mustUser(t, users, "alice")
	bob := mustUser(t, users, "bob")

	first, err := posts.Create(ctx, alice.ID, "outage", "db down")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := posts.Create(ctx, bob.ID, "latency", "slow api"); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := posts.Comment(ctx, first.ID, bob.ID, "on it"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	list, err := posts.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d posts, want 2", len(list))
	}
	if list[0].Incident != "outage" || list[1].Incident != "latency" {
		t.Errorf("order = %q, %q", list[0].Incident, list[1].Incident)
	}
	if list[0].Author == nil || list[0].Author.Name != "alice" {
		t.Errorf("author = %+v, want alice", list[0].Author)
	}
	if list[0].Author != nil && list[0].Author.PasswordHash != "" {
		t.Error("populated author must not carry the password hash")
	}
	if len(list[0].Comments) != 1 || list[0].Comments[0].Author == nil || list[0].Comments[0].Author.Name != "bob" {
		t.Errorf("comments = %+v", list[0].Comments)
	}
}

func TestPostsLike(t *testing.T) {
	s := testStore(t)
	users, posts := s.Users(), s.Posts()
	ctx := context.Background()

	alice := mustUser(t, users, "alice")
	p, err := posts.Create(ctx, alice.ID, "i", "p")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	liked, err := posts.Like(ctx, p.ID, alice.ID)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if !liked.LikedBy(alice.ID) || len(liked.Likes) != 1 {
		t.Errorf("likes = %v", liked.Likes)
	}

	if _, err := posts.Like(ctx, p.ID, alice.ID); !errors.Is(err, post.ErrAlreadyLiked) {
		t.Errorf("second like: err = %v, want ErrAlreadyLiked", err)
	}
	if _, err := posts.Like(ctx, "missing", alice.ID); !errors.Is(err, post.ErrNotFound) {
		t.Errorf("missing post: err = %v, want ErrNotFound", err)
	}
}

func TestPostsConcurrentLikes(t *testing.T) {
	s := testStore(t)
	users, posts := s.Users(), s.Posts()
	ctx := context.Background()

	owner := mustUser(t, users, "owner")
	p, err := posts.Create(ctx, owner.ID, "i", "p")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 10
	likers := make([]*user.User, n)
	for i := range likers {
		likers[i] = mustUser(t, users, "liker"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for _, u := range likers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := posts.Like(ctx, p.ID, id); err != nil {
				t.Errorf("like: %v", err)
			}
		}(u.ID)
	}
	wg.Wait()

	got, err := posts.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Likes) != n {
		t.Errorf("likes = %d, want %d", len(got.Likes), n)
	}
}

func TestPostsComment(t *testing.T) {
	s := testStore(t)
	users, posts := s.Users(), s.Posts()
	ctx := context.Background()

	alice := mustUser(t, users, "alice")
	p, err := posts.Create(ctx, alice.ID, "i", "p")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, text := range []string{"one", "two"} {
		if _, err := posts.Comment(ctx, p.ID, alice.ID, text); err != nil {
			t.Fatalf("comment %q: %v", text, err)
		}
	}
	got, err := posts.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Comments) != 2 || got.Comments[0].Text != "one" || got.Comments[1].Text != "two" {
		t.Errorf("comments = %+v", got.Comments)
	}

	if _, err := posts.Comment(ctx, p.ID, alice.ID, "  "); !errors.Is(err, post.ErrEmptyComment) {
		t.Errorf("blank: err = %v, want ErrEmptyComment", err)
	}
	if _, err := posts.Comment(ctx, "missing", alice.ID, "x"); !errors.Is(err, post.ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}
}

func TestPostsDelete(t *testing.T) {
	s := testStore(t)
	users, posts := s.Users(), s.Posts()
	ctx := context.Background()

	alice := mustUser(t, users, "alice")
	bob := mustUser(t, users, "bob")
	p, err := posts.Create(ctx, alice.ID, "i", "p")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := posts.Delete(ctx, p.ID, bob.ID); !errors.Is(err, post.ErrForbidden) {
		t.Errorf("non-owner: err = %v, want ErrForbidden", err)
	}
	if err := posts.Delete(ctx, p.ID, alice.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if err := posts.Delete(ctx, p.ID, alice.ID); !errors.Is(err, post.ErrNotFound) {
		t.Errorf("again: err = %v, want ErrNotFound", err)
	}
}

func TestPostsCounts(t *testing.T) {
	s := testStore(t)
	users, posts := s.Users(), s.Posts()
	ctx := context.Background()

	alice := mustUser(t, users, "alice")
	bob := mustUser(t, users, "bob")

	p1, err := posts.Create(ctx, alice.ID, "a", "1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := posts.Create(ctx, alice.ID, "a", "2"); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := posts.Comment(ctx, p1.ID, bob.ID, "c"); err != nil {
			t.Fatalf("comment: %v", err)
		}
	}

	n, err := posts.CountByUser(ctx, alice.ID)
	if err != nil || n != 2 {
		t.Errorf("CountByUser = %d, %v; want 2", n, err)
	}
	n, err = posts.CountCommentsByUser(ctx, bob.ID)
	if err != nil || n != 1 {
		t.Errorf("CountCommentsByUser = %d, %v; want 1", n, err)
	}
}
