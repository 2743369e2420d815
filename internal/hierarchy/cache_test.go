package hierarchy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"accounting/internal/model"
)

type fakeKV struct {
	data    map[string]string
	getErr  error
	setTTLs map[string]time.Duration
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}, setTTLs: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.setTTLs[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

type countingDirectory struct {
	Directory
	ancestorCalls int
	roleCalls     int
}

func (d *countingDirectory) Ancestors(ctx context.Context, id string) ([]string, error) {
	d.ancestorCalls++
	return d.Directory.Ancestors(ctx, id)
}

func (d *countingDirectory) MemberRole(ctx context.Context, id, username string) (model.ProjectRole, error) {
	d.roleCalls++
	return d.Directory.MemberRole(ctx, id, username)
}

func TestCache_AncestorsServedFromRedisAfterFirstLoad(t *testing.T) {
	dir := &countingDirectory{Directory: testTree(t)}
	kv := newFakeKV()
	cache := NewCache(dir, kv, time.Minute, nil)

	for i := 0; i < 3; i++ {
		got, err := cache.Ancestors(context.Background(), "lab")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"root", "dept", "lab"}) {
			t.Fatalf("unexpected ancestors %v", got)
		}
	}

	if dir.ancestorCalls != 1 {
		t.Errorf("expected 1 directory call, got %d", dir.ancestorCalls)
	}
	if kv.setTTLs["hierarchy:ancestors:lab"] != time.Minute {
		t.Errorf("expected entry written with ttl, got %v", kv.setTTLs)
	}
}

func TestCache_RedisFailureFallsBackToDirectory(t *testing.T) {
	dir := &countingDirectory{Directory: testTree(t)}
	kv := newFakeKV()
	kv.getErr = errors.New("connection refused")
	var logs bytes.Buffer
	cache := NewCache(dir, kv, time.Minute, slog.New(slog.NewJSONHandler(&logs, nil)))

	if _, err := cache.Ancestors(context.Background(), "dept"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Ancestors(context.Background(), "dept"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.ancestorCalls != 2 {
		t.Errorf("expected every call to reach the directory, got %d", dir.ancestorCalls)
	}
	if n := strings.Count(logs.String(), "hierarchy cache: read failed"); n != 2 {
		t.Errorf("expected 2 read failures on the injected logger, got %d in %q", n, logs.String())
	}
}

func TestCache_RolesAreNotCached(t *testing.T) {
	tree := testTree(t)
	tree.SetRole("lab", "bob", model.ProjectRoleAdmin)
	dir := &countingDirectory{Directory: tree}
	cache := NewCache(dir, newFakeKV(), time.Minute, nil)

	for i := 0; i < 2; i++ {
		if _, err := cache.MemberRole(context.Background(), "lab", "bob"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if dir.roleCalls != 2 {
		t.Errorf("expected 2 role lookups, got %d", dir.roleCalls)
	}
}
