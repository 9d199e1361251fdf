package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/audit"
	"inkwell.org/internal/auth"
	"inkwell.org/internal/content"
	"inkwell.org/internal/ids"
)

const (
	ActionPostCreated    = "POST_CREATED"
	ActionPostUpdated    = "POST_UPDATED"
	ActionPostDeleted    = "POST_DELETED"
	ActionCommentCreated = "COMMENT_CREATED"
	ActionCommentUpdated = "COMMENT_UPDATED"
	ActionCommentDeleted = "COMMENT_DELETED"

	entityPost    = "Post"
	entityComment = "Comment"
)

var postAuditFields = []string{"title", "excerpt", "status", "tags"}

func (a *API) listPosts(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	opts := content.ListOptions{Limit: p.Limit, Offset: p.Offset, Status: content.PostStatus(strings.ToUpper(r.URL.Query().Get("status")))}
	list, total, err := a.content.ListPosts(r.Context(), opts)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	writeList(w, list, total, p)
}

func (a *API) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := a.content.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": post})
}

func (a *API) createPost(w http.ResponseWriter, r *http.Request) {
	var in content.PostInput
	if err := decodeJSON(r, &in); err != nil {
		apierr.Write(w, r, err)
		return
	}
	in.ID = ids.New()
	var post *content.Post
	ok := a.mutate(w, r, entityPost, in.ID, func(ctx context.Context) (audit.Change, error) {
		var err error
		post, err = a.content.CreatePost(ctx, actorID(r), in)
		if err != nil {
			return audit.Change{}, err
		}
		return audit.Change{
			Action:    ActionPostCreated,
			ActorID:   actorID(r),
			NewValues: audit.Pick(post.Snapshot(), postAuditFields...),
		}, nil
	})
	if !ok {
		return
	}
	w.Header().Set("Location", "/api/v1/posts/"+post.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"post": post})
}

func (a *API) updatePost(w http.ResponseWriter, r *http.Request) {
	var upd content.PostUpdate
	if err := decodeJSON(r, &upd); err != nil {
		apierr.Write(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	var after *content.Post
	ok := a.mutate(w, r, entityPost, id, func(ctx context.Context) (audit.Change, error) {
		before, updated, err := a.content.UpdatePost(ctx, id, upd)
		if err != nil {
			return audit.Change{}, err
		}
		after = updated
		return audit.Change{
			Action:    ActionPostUpdated,
			ActorID:   actorID(r),
			OldValues: audit.Pick(before.Snapshot(), postAuditFields...),
			NewValues: audit.Pick(after.Snapshot(), postAuditFields...),
		}, nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": after})
}

func (a *API) deletePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok := a.mutate(w, r, entityPost, id, func(ctx context.Context) (audit.Change, error) {
		before, err := a.content.DeletePost(ctx, id)
		if err != nil {
			return audit.Change{}, err
		}
		return audit.Change{
			Action:    ActionPostDeleted,
			ActorID:   actorID(r),
			OldValues: audit.Pick(before.Snapshot(), "title", "authorId"),
		}, nil
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listComments(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	list, total, err := a.content.ListComments(r.Context(), chi.URLParam(r, "id"), content.ListOptions{Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	writeList(w, list, total, p)
}

func (a *API) createComment(w http.ResponseWriter, r *http.Request) {
	var in content.CommentInput
	if err := decodeJSON(r, &in); err != nil {
		apierr.Write(w, r, err)
		return
	}
	in.ID = ids.New()
	postID := chi.URLParam(r, "id")
	var c *content.Comment
	ok := a.mutate(w, r, entityComment, in.ID, func(ctx context.Context) (audit.Change, error) {
		var err error
		c, err = a.content.CreateComment(ctx, postID, actorID(r), in)
		if err != nil {
			return audit.Change{}, err
		}
		return audit.Change{
			Action:    ActionCommentCreated,
			ActorID:   actorID(r),
			NewValues: audit.Pick(c.Snapshot(), "postId", "parentId", "content"),
		}, nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": c})
}

type updateCommentRequest struct {
	Content string `json:"content"`
}

// updateComment is limited to the author.
func (a *API) updateComment(w http.ResponseWriter, r *http.Request) {
	var req updateCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	var after *content.Comment
	ok := a.mutate(w, r, entityComment, id, func(ctx context.Context) (audit.Change, error) {
		current, err := a.content.GetComment(ctx, id)
		if err != nil {
			return audit.Change{}, err
		}
		if current.AuthorID != actorID(r) {
			return audit.Change{}, apierr.Forbidden()
		}
		before, updated, err := a.content.UpdateComment(ctx, id, req.Content)
		if err != nil {
			return audit.Change{}, err
		}
		after = updated
		return audit.Change{
			Action:    ActionCommentUpdated,
			ActorID:   actorID(r),
			OldValues: audit.Pick(before.Snapshot(), "content"),
			NewValues: audit.Pick(after.Snapshot(), "content"),
		}, nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": after})
}

// deleteComment is allowed for the author and for editors and admins.
func (a *API) deleteComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ident, _ := auth.IdentityFromContext(r.Context())
	ok := a.mutate(w, r, entityComment, id, func(ctx context.Context) (audit.Change, error) {
		current, err := a.content.GetComment(ctx, id)
		if err != nil {
			return audit.Change{}, err
		}
		if current.AuthorID != ident.ID {
			if err := auth.Authorize(ident, auth.RoleAdmin, auth.RoleEditor); err != nil {
				return audit.Change{}, err
			}
		}
		before, err := a.content.DeleteComment(ctx, id)
		if err != nil {
			return audit.Change{}, err
		}
		return audit.Change{
			Action:    ActionCommentDeleted,
			ActorID:   ident.ID,
			OldValues: audit.Pick(before.Snapshot(), "postId", "authorId", "content"),
		}, nil
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
