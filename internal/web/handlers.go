package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/evcraddock/incident-board/internal/auth"
	"github.com/evcraddock/incident-board/internal/post"
	"github.com/evcraddock/incident-board/internal/user"
)

type homeData struct {
	User  *user.User
	Posts []*post.Post
}

type profileData struct {
	User          *user.User
	TotalPosts    int
	TotalComments int
	Passkeys      []passkeyItem
	HasPasskeys   bool
}

type passkeyItem struct {
	ID   string
	Name string
}

// handleHome lists every post with its author and comments.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	posts, err := s.posts.ListAll(r.Context())
	if err != nil {
		slog.Error("listing posts", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.render(w, "home.html", homeData{
		User:  auth.UserFromContext(r.Context()),
		Posts: posts,
	})
}

func (s *Server) handleAddPostPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "add_post.html", homeData{User: auth.UserFromContext(r.Context())})
}

// handleAddPostSubmit creates a post authored by the current user.
func (s *Server) handleAddPostSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	u := auth.UserFromContext(r.Context())
	incident := strings.TrimSpace(r.FormValue("incident"))
	problem := strings.TrimSpace(r.FormValue("problem"))

	if _, err := s.posts.Create(r.Context(), u.ID, incident, problem); err != nil {
		slog.Error("adding post", "user", u.Name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLike records the current user's like on a post.
func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	postID := mux.Vars(r)["postId"]

	_, err := s.posts.Like(r.Context(), postID, u.ID)
	switch {
	case errors.Is(err, post.ErrNotFound):
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	case errors.Is(err, post.ErrAlreadyLiked):
		http.Error(w, "You have already liked this post", http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("liking post", "post_id", postID, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleComment appends a comment by the current user.
func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	u := auth.UserFromContext(r.Context())
	postID := mux.Vars(r)["postId"]

	_, err := s.posts.Comment(r.Context(), postID, u.ID, r.FormValue("comment"))
	switch {
	case errors.Is(err, post.ErrNotFound):
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	case errors.Is(err, post.ErrEmptyComment):
		http.Error(w, "Comment text is required", http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("submitting comment", "post_id", postID, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleDeletePost deletes a post owned by the current user.
func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	postID := mux.Vars(r)["postId"]

	err := s.posts.Delete(r.Context(), postID, u.ID)
	switch {
	case errors.Is(err, post.ErrNotFound):
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	case errors.Is(err, post.ErrForbidden):
		http.Error(w, "You are not authorized to delete this post", http.StatusForbidden)
		return
	case err != nil:
		slog.Error("deleting post", "post_id", postID, "err", err)
		http.Error(w, "Internal Server Error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("post deleted", "post_id", postID, "user", u.Name)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleProfile shows the current user's activity counts and, when
// enabled, their registered passkeys.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFromContext(ctx)

	totalPosts, err := s.posts.CountByUser(ctx, u.ID)
	if err != nil {
		slog.Error("fetching profile data", "user", u.Name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	totalComments, err := s.posts.CountCommentsByUser(ctx, u.ID)
	if err != nil {
		slog.Error("fetching profile data", "user", u.Name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := profileData{
		User:          u,
		TotalPosts:    totalPosts,
		TotalComments: totalComments,
		HasPasskeys:   s.passkeys != nil,
	}

	if s.passkeys != nil {
		stored, err := s.passkeys.store.ListByUser(ctx, u.ID)
		if err != nil {
			slog.Error("loading passkeys", "user", u.Name, "err", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		for _, sc := range stored {
			data.Passkeys = append(data.Passkeys, passkeyItem{ID: sc.ID, Name: sc.Name})
		}
	}

	s.render(w, "profile.html", data)
}
