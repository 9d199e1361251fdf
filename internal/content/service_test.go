package content

import (
	"context"
	"strings"
	"testing"

	"inkwell.org/internal/apierr"
)

func TestPostLifecycle(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	p, err := svc.CreatePost(ctx, "author-1", PostInput{Title: "  Hello  ", Content: "body", Tags: []string{"go"}})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if p.ID == "" || p.Title != "Hello" || p.Status != StatusDraft {
		t.Fatalf("unexpected post: %+v", p)
	}

	status := StatusPublished
	before, after, err := svc.UpdatePost(ctx, p.ID, PostUpdate{Status: &status})
	if err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}
	if before.Status != StatusDraft || after.Status != StatusPublished || after.Title != "Hello" {
		t.Fatalf("unexpected update: before=%s after=%+v", before.Status, after)
	}

	list, total, err := svc.ListPosts(ctx, ListOptions{Status: StatusPublished})
	if err != nil || total != 1 || len(list) != 1 {
		t.Fatalf("ListPosts: %v total=%d", err, total)
	}

	if _, err := svc.DeletePost(ctx, p.ID); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if _, err := svc.GetPost(ctx, p.ID); apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.CreatePost(context.Background(), "a", PostInput{
		Title:   strings.Repeat("x", maxTitle+1),
		Content: " ",
		Status:  "LIVE",
		Tags:    make([]string, maxTags+1),
	})
	e := apierr.From(err)
	if e.Kind != apierr.KindInvalidInput || len(e.Details) != 4 {
		t.Fatalf("expected four validation details, got %v (%v)", err, e.Details)
	}
	if _, _, err := svc.UpdatePost(context.Background(), "x", PostUpdate{}); apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("empty update should be rejected, got %v", err)
	}
}

func TestComments(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	p, err := svc.CreatePost(ctx, "a", PostInput{Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	if _, err := svc.CreateComment(ctx, "missing", "u", CommentInput{Content: "hi"}); apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("comment on missing post: %v", err)
	}
	root, err := svc.CreateComment(ctx, p.ID, "u", CommentInput{Content: "first"})
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if _, err := svc.CreateComment(ctx, p.ID, "u", CommentInput{Content: "reply", ParentID: "nope"}); apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("reply to unknown parent: %v", err)
	}
	if _, err := svc.CreateComment(ctx, p.ID, "v", CommentInput{Content: "reply", ParentID: root.ID}); err != nil {
		t.Fatalf("reply: %v", err)
	}

	before, after, err := svc.UpdateComment(ctx, root.ID, "edited")
	if err != nil || before.Content != "first" || after.Content != "edited" {
		t.Fatalf("UpdateComment: %v %+v", err, after)
	}

	list, total, err := svc.ListComments(ctx, p.ID, ListOptions{Limit: 1})
	if err != nil || total != 2 || len(list) != 1 {
		t.Fatalf("ListComments: %v total=%d len=%d", err, total, len(list))
	}

	if _, err := svc.DeletePost(ctx, p.ID); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if _, err := svc.GetComment(ctx, root.ID); apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("comments should go with their post, got %v", err)
	}
}
