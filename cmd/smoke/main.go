package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"time"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

func (c *client) call(method, path string, body, out any) int {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, payload)
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID string `json:"id"`
	} `json:"user"`
}

func main() {
	base := os.Getenv("INKWELL_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	adminEmail := envOr("INKWELL_SMOKE_ADMIN_EMAIL", "admin@inkwell.local")
	adminPassword := envOr("INKWELL_SMOKE_ADMIN_PASSWORD", "ChangeMe123!")

	c := &client{base: base + "/api/v1", http: &http.Client{Timeout: 30 * time.Second}}

	if code := c.call(http.MethodGet, "/health", nil, nil); code != http.StatusOK {
		log.Fatalf("health: status %d", code)
	}

	name := fmt.Sprintf("smoke%d", rand.IntN(1_000_000))
	var reg session
	code := c.call(http.MethodPost, "/auth/register", map[string]string{
		"email":    name + "@example.com",
		"username": name,
		"password": "Smoke-pass1!",
	}, &reg)
	if code != http.StatusCreated || reg.Token == "" {
		log.Fatalf("register: status %d", code)
	}

	var admin session
	if code := c.call(http.MethodPost, "/auth/login", map[string]string{
		"email":    adminEmail,
		"password": adminPassword,
	}, &admin); code != http.StatusOK {
		log.Fatalf("admin login: status %d", code)
	}
	c.token = admin.Token

	var created struct {
		Post struct {
			ID string `json:"id"`
		} `json:"post"`
	}
	if code := c.call(http.MethodPost, "/posts", map[string]any{
		"title":   "Smoke " + name,
		"content": "Created by the smoke client.",
		"status":  "PUBLISHED",
	}, &created); code != http.StatusCreated {
		log.Fatalf("create post: status %d", code)
	}

	// The default audit policy writes asynchronously.
	var trail struct {
		Total int `json:"total"`
		Data  []struct {
			Action string `json:"action"`
		} `json:"data"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if code := c.call(http.MethodGet, "/audit/entity/Post/"+created.Post.ID, nil, &trail); code != http.StatusOK {
			log.Fatalf("audit query: status %d", code)
		}
		if trail.Total > 0 {
			break
		}
		if time.Now().After(deadline) {
			log.Fatalf("audit trail for post %s never appeared", created.Post.ID)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if trail.Data[0].Action != "POST_CREATED" {
		log.Fatalf("unexpected audit action %q", trail.Data[0].Action)
	}

	c.token = ""
	if code := c.call(http.MethodPost, "/posts", map[string]any{"title": "x", "content": "y"}, nil); code != http.StatusUnauthorized {
		log.Fatalf("anonymous create: expected 401, got %d", code)
	}

	fmt.Printf("inkwell smoke test passed: user=%s post=%s\n", reg.User.ID, created.Post.ID)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
