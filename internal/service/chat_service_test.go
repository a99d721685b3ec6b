package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zaliubovskiy/chatrelay/internal/auth"
	"github.com/zaliubovskiy/chatrelay/internal/cache"
	"github.com/zaliubovskiy/chatrelay/internal/config"
	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/internal/hub"
	"github.com/zaliubovskiy/chatrelay/internal/repository"
)

// fakeUsers is an in-memory UserRepository.
type fakeUsers struct {
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
	tokens  map[string]string // key -> user id
}

func newFakeUsers(users ...*domain.User) *fakeUsers {
	f := &fakeUsers{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]*domain.User),
		tokens:  make(map[string]string),
	}
	for _, u := range users {
		f.byID[u.ID] = u
		f.byEmail[u.Email] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeUsers) ResolveToken(_ context.Context, key string) (*domain.User, error) {
	id, ok := f.tokens[key]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

// fakeChats is an in-memory ChatRepository.
type fakeChats struct {
	chats  map[string]*domain.Chat // room id -> chat
	nextID uint
}

func newFakeChats(chats ...*domain.Chat) *fakeChats {
	f := &fakeChats{chats: make(map[string]*domain.Chat), nextID: 100}
	for _, c := range chats {
		f.chats[c.RoomID] = c
	}
	return f
}

func (f *fakeChats) GetByRoomID(_ context.Context, roomID string) (*domain.Chat, error) {
	if c, ok := f.chats[roomID]; ok {
		return c, nil
	}
	return nil, repository.ErrChatNotFound
}

func (f *fakeChats) GetByID(_ context.Context, id uint) (*domain.Chat, error) {
	for _, c := range f.chats {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrChatNotFound
}

func (f *fakeChats) GetOrCreate(_ context.Context, userID, otherID string) (*domain.Chat, error) {
	for _, c := range f.chats {
		ids := map[string]bool{}
		for _, p := range c.Participants {
			ids[p.ID] = true
		}
		if ids[userID] && ids[otherID] {
			return c, nil
		}
	}
	f.nextID++
	c := &domain.Chat{
		ID:     f.nextID,
		RoomID: fmt.Sprintf("room-%d", f.nextID),
		Participants: []domain.User{
			{ID: userID},
			{ID: otherID},
		},
		CreatedAt: time.Now(),
	}
	f.chats[c.RoomID] = c
	return c, nil
}

func (f *fakeChats) ListForUser(_ context.Context, userID string, archived bool) ([]repository.ChatSummary, error) {
	var out []repository.ChatSummary
	for _, c := range f.chats {
		if c.IsDeleted != archived {
			continue
		}
		for _, p := range c.Participants {
			if p.ID == userID {
				out = append(out, repository.ChatSummary{Chat: *c})
				break
			}
		}
	}
	return out, nil
}

func (f *fakeChats) SoftDelete(_ context.Context, id uint) error {
	for _, c := range f.chats {
		if c.ID == id {
			c.IsDeleted = true
			return nil
		}
	}
	return repository.ErrChatNotFound
}

// fakeMessages is an in-memory MessageRepository. Messages are stored
// oldest first; ListPage serves them newest first. afterListPage, when
// set, runs after a page is computed but before it is returned, so
// tests can interleave a commit with a fetch.
type fakeMessages struct {
	mu            sync.Mutex
	messages      []domain.Message
	users         *fakeUsers
	nextID        uint
	failNext      error
	afterListPage func()
}

func newFakeMessages(users *fakeUsers) *fakeMessages {
	return &fakeMessages{users: users}
}

func (f *fakeMessages) Create(_ context.Context, chat *domain.Chat, authorID, text string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	f.nextID++
	msg := domain.Message{
		ID:        f.nextID,
		ChatID:    chat.ID,
		RoomID:    chat.RoomID,
		Author:    *f.users.byID[authorID],
		Text:      text,
		CreatedAt: time.Now(),
	}
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeMessages) CreateWithAttachment(
	ctx context.Context,
	chat *domain.Chat,
	authorID, text string,
	att *domain.Attachment,
	store func(ctx context.Context) error,
) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := store(ctx); err != nil {
		return nil, err
	}
	f.nextID++
	msg := domain.Message{
		ID:         f.nextID,
		ChatID:     chat.ID,
		RoomID:     chat.RoomID,
		Author:     *f.users.byID[authorID],
		Text:       text,
		CreatedAt:  time.Now(),
		Attachment: att,
	}
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeMessages) ListPage(_ context.Context, chat *domain.Chat, page, pageSize int) ([]domain.Message, int64, error) {
	f.mu.Lock()

	var all []domain.Message
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].ChatID == chat.ID {
			all = append(all, f.messages[i])
		}
	}
	f.mu.Unlock()

	if f.afterListPage != nil {
		f.afterListPage()
	}

	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, int64(len(all)), nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (f *fakeMessages) MarkViewed(_ context.Context, chatID uint, excludeAuthorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ChatID == chatID && f.messages[i].Author.ID != excludeAuthorID {
			f.messages[i].Viewed = true
		}
	}
	return nil
}

func (f *fakeMessages) ListAttachments(_ context.Context, chatID uint) ([]domain.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Attachment
	for _, m := range f.messages {
		if m.ChatID == chatID && m.Attachment != nil {
			out = append(out, *m.Attachment)
		}
	}
	return out, nil
}

// fakeRegistry records broadcasts in order.
type fakeRegistry struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	roomID string
	frame  interface{}
}

func (f *fakeRegistry) Join(string, *hub.Client) hub.MembershipToken { return hub.MembershipToken{} }
func (f *fakeRegistry) Leave(hub.MembershipToken)                    {}

func (f *fakeRegistry) Broadcast(roomID string, frame interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, broadcastEvent{roomID: roomID, frame: frame})
}

func (f *fakeRegistry) broadcasts() []broadcastEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastEvent(nil), f.events...)
}

// fakeBlobs is an in-memory blob store.
type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failWrite error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Write(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Read(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobs) GetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "/files/" + key, nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// fakeHistoryCache is an in-memory HistoryCache.
type fakeHistoryCache struct {
	mu      sync.Mutex
	entries map[string]*cache.HistoryPage
	sets    int
}

func newFakeHistoryCache() *fakeHistoryCache {
	return &fakeHistoryCache{entries: make(map[string]*cache.HistoryPage)}
}

func (f *fakeHistoryCache) BuildKey(roomID string, page, pageSize int) string {
	return fmt.Sprintf("room:%s:page:%d:size:%d", roomID, page, pageSize)
}

func (f *fakeHistoryCache) Get(_ context.Context, key string) (*cache.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.entries[key]; ok {
		return p, nil
	}
	return nil, cache.ErrCacheMiss
}

func (f *fakeHistoryCache) Set(_ context.Context, key string, page *cache.HistoryPage, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = page
	f.sets++
	return nil
}

func (f *fakeHistoryCache) InvalidateRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := fmt.Sprintf("room:%s:page:", roomID)
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
		}
	}
	return nil
}

func (f *fakeHistoryCache) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

type fixture struct {
	users    *fakeUsers
	chats    *fakeChats
	messages *fakeMessages
	registry *fakeRegistry
	blobs    *fakeBlobs
	service  ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCache(t, nil)
}

func newFixtureWithCache(t *testing.T, history cache.HistoryCache) *fixture {
	t.Helper()
	alice := &domain.User{ID: "u-alice", Email: "alice@example.com"}
	bob := &domain.User{ID: "u-bob", Email: "bob@example.com"}

	users := newFakeUsers(alice, bob)
	users.tokens["tok-alice"] = alice.ID

	chats := newFakeChats(&domain.Chat{
		ID:           1,
		RoomID:       "room-1",
		Participants: []domain.User{*alice, *bob},
		CreatedAt:    time.Now().Add(-time.Hour),
	})
	messages := newFakeMessages(users)
	registry := &fakeRegistry{}
	blobs := newFakeBlobs()

	svc := NewChatService(
		users, chats, messages,
		registry, blobs,
		auth.NewTokenValidator(users),
		history,
		config.ChatConfig{PageSize: 3, AllowedExtensions: []string{".png", ".txt"}},
		time.Minute, time.Hour,
	)

	return &fixture{
		users:    users,
		chats:    chats,
		messages: messages,
		registry: registry,
		blobs:    blobs,
		service:  svc,
	}
}

func TestAuthenticate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	user, err := fx.service.Authenticate(ctx, "tok-alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "u-alice" {
		t.Errorf("user = %q", user.ID)
	}

	if _, err := fx.service.Authenticate(ctx, "garbage"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestNewMessagePersistsThenBroadcasts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	msg, err := fx.service.NewMessage(ctx, "u-alice", "room-1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Text != "hello" || msg.RoomID != "room-1" {
		t.Errorf("got %+v", msg)
	}

	events := fx.registry.broadcasts()
	if len(events) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(events))
	}
	if events[0].roomID != "room-1" {
		t.Errorf("broadcast room = %q", events[0].roomID)
	}
	frame, ok := events[0].frame.(*domain.NewMessageFrame)
	if !ok {
		t.Fatalf("frame type = %T", events[0].frame)
	}
	if frame.Message.Author != "alice@example.com" || frame.Message.Content != "hello" {
		t.Errorf("frame message = %+v", frame.Message)
	}

	if len(fx.messages.messages) != 1 {
		t.Fatalf("stored messages = %d, want 1", len(fx.messages.messages))
	}
	if fx.messages.messages[0].Viewed {
		t.Error("a fresh message must be stored unviewed")
	}
}

func TestNewMessageBroadcastsFollowCommitOrder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	const senders = 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", fmt.Sprintf("c%d", i)); err != nil {
				t.Errorf("send %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	events := fx.registry.broadcasts()
	if len(events) != senders {
		t.Fatalf("broadcasts = %d, want %d", len(events), senders)
	}

	// Within a room, broadcasts follow commit order: message ids in the
	// observed frames must be strictly increasing.
	var last uint
	for i, ev := range events {
		frame, ok := ev.frame.(*domain.NewMessageFrame)
		if !ok {
			t.Fatalf("frame %d type = %T", i, ev.frame)
		}
		if frame.Message.ID <= last {
			t.Fatalf("broadcast %d carries message id %d after id %d", i, frame.Message.ID, last)
		}
		last = frame.Message.ID
	}
}

func TestNewMessageUnknownAuthor(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.NewMessage(context.Background(), "u-ghost", "room-1", "hi")
	if !errors.Is(err, ErrAuthorNotFound) {
		t.Errorf("err = %v, want ErrAuthorNotFound", err)
	}
	if len(fx.registry.broadcasts()) != 0 {
		t.Error("failed send must not broadcast")
	}
}

func TestNewMessageUnknownRoom(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.NewMessage(context.Background(), "u-alice", "room-404", "hi")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestNewMessagePersistFailureSuppressesBroadcast(t *testing.T) {
	fx := newFixture(t)
	fx.messages.failNext = errors.New("disk full")

	if _, err := fx.service.NewMessage(context.Background(), "u-alice", "room-1", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if len(fx.registry.broadcasts()) != 0 {
		t.Error("failed persist must not broadcast")
	}
}

func TestShareFileStoresBlobAndBroadcasts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	msg, err := fx.service.ShareFile(ctx, domain.ShareFileCommand{
		From:     "u-alice",
		RoomID:   "room-1",
		Filename: "cat.png",
		Size:     5,
		Data:     []byte("bytes"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Text != "File: cat.png" {
		t.Errorf("text = %q", msg.Text)
	}
	if msg.Attachment == nil {
		t.Fatal("message has no attachment")
	}
	if msg.Attachment.Extension != "png" {
		t.Errorf("extension = %q, want png without dot", msg.Attachment.Extension)
	}
	if fx.blobs.count() != 1 {
		t.Errorf("blob count = %d, want 1", fx.blobs.count())
	}

	events := fx.registry.broadcasts()
	if len(events) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(events))
	}
	frame := events[0].frame.(*domain.NewMessageFrame)
	if frame.Message.Attachment == nil {
		t.Fatal("broadcast frame has no attachment view")
	}
	if frame.Message.Attachment.Filename != "cat.png" || frame.Message.Attachment.URL == "" {
		t.Errorf("attachment view = %+v", frame.Message.Attachment)
	}
}

func TestShareFileRejectsBadExtension(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.ShareFile(context.Background(), domain.ShareFileCommand{
		From:     "u-alice",
		RoomID:   "room-1",
		Filename: "payload.exe",
		Data:     []byte("x"),
	})
	if !errors.Is(err, ErrUnsupportedExtension) {
		t.Errorf("err = %v, want ErrUnsupportedExtension", err)
	}
	if fx.blobs.count() != 0 {
		t.Error("rejected file must not reach storage")
	}
}

func TestShareFileBlobFailureLeavesNothingBehind(t *testing.T) {
	fx := newFixture(t)
	fx.blobs.failWrite = errors.New("bucket unreachable")

	_, err := fx.service.ShareFile(context.Background(), domain.ShareFileCommand{
		From:     "u-alice",
		RoomID:   "room-1",
		Filename: "cat.png",
		Data:     []byte("bytes"),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(fx.messages.messages) != 0 {
		t.Error("failed blob write must roll the message back")
	}
	if fx.blobs.count() != 0 {
		t.Error("no blob may survive a failed share")
	}
	if len(fx.registry.broadcasts()) != 0 {
		t.Error("failed share must not broadcast")
	}
}

func TestFetchMessagesPagination(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	// Page size is 3: seven messages make three pages.
	page, err := fx.service.FetchMessages(ctx, "room-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.MaxPages != 3 {
		t.Errorf("max_pages = %d, want 3", page.MaxPages)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("page 1 length = %d, want 3", len(page.Messages))
	}
	if page.Messages[0].Content != "m7" || page.Messages[2].Content != "m5" {
		t.Errorf("page 1 not newest first: %v, %v", page.Messages[0].Content, page.Messages[2].Content)
	}

	page, err = fx.service.FetchMessages(ctx, "room-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Content != "m1" {
		t.Errorf("page 3 = %+v", page.Messages)
	}
}

func TestFetchMessagesOutOfRangePageIsEmpty(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", "only"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	page, err := fx.service.FetchMessages(ctx, "room-1", 99)
	if err != nil {
		t.Fatalf("out-of-range page must not error: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Errorf("page length = %d, want 0", len(page.Messages))
	}
	if page.MaxPages != 1 {
		t.Errorf("max_pages = %d, want 1", page.MaxPages)
	}
}

func TestFetchMessagesEmptyRoom(t *testing.T) {
	fx := newFixture(t)

	page, err := fx.service.FetchMessages(context.Background(), "room-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Messages) != 0 || page.MaxPages != 0 {
		t.Errorf("got %d messages, max_pages %d; want empty, 0", len(page.Messages), page.MaxPages)
	}
}

func TestFetchMessagesCachesPages(t *testing.T) {
	hist := newFakeHistoryCache()
	fx := newFixtureWithCache(t, hist)
	ctx := context.Background()

	if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", "m1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	page, err := fx.service.FetchMessages(ctx, "room-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("page length = %d, want 1", len(page.Messages))
	}
	if hist.setCount() != 1 {
		t.Errorf("cache sets = %d, want 1", hist.setCount())
	}

	// Second fetch is served from the cache.
	if _, err := fx.service.FetchMessages(ctx, "room-1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hist.setCount() != 1 {
		t.Errorf("cache sets after hit = %d, want 1", hist.setCount())
	}

	// A commit invalidates the room and the next fetch sees it.
	if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", "m2"); err != nil {
		t.Fatalf("send: %v", err)
	}
	page, err = fx.service.FetchMessages(ctx, "room-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Messages) != 2 {
		t.Errorf("page length after commit = %d, want 2", len(page.Messages))
	}
}

func TestFetchMessagesSkipsCachingPagesFetchedMidCommit(t *testing.T) {
	hist := newFakeHistoryCache()
	fx := newFixtureWithCache(t, hist)
	ctx := context.Background()

	if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", "m1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Commit a second message after the page is read but before the
	// fetcher can cache it.
	raced := false
	fx.messages.afterListPage = func() {
		if raced {
			return
		}
		raced = true
		if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", "m2"); err != nil {
			t.Errorf("concurrent send: %v", err)
		}
	}

	page, err := fx.service.FetchMessages(ctx, "room-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("raced page length = %d, want the pre-commit 1", len(page.Messages))
	}
	if hist.setCount() != 0 {
		t.Error("a page fetched across a commit must not be cached")
	}

	fx.messages.afterListPage = nil
	page, err = fx.service.FetchMessages(ctx, "room-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Messages) != 2 {
		t.Errorf("follow-up page length = %d, want 2", len(page.Messages))
	}
}

func TestFetchMessagesUnknownRoom(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.service.FetchMessages(context.Background(), "room-404", 1); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestFetchMessagesServesDeletedRoomHistory(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", "kept"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := fx.service.DeleteChat(ctx, 1, "u-alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	page, err := fx.service.FetchMessages(ctx, "room-1", 1)
	if err != nil {
		t.Fatalf("deleted room history must stay readable: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(page.Messages))
	}
}

func TestGetRoom(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	chat, err := fx.service.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.RoomID != "room-1" {
		t.Errorf("room = %q", chat.RoomID)
	}

	if _, err := fx.service.GetRoom(ctx, "room-404"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}

	if err := fx.service.DeleteChat(ctx, 1, "u-alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := fx.service.GetRoom(ctx, "room-1"); !errors.Is(err, ErrRoomDeleted) {
		t.Errorf("err = %v, want ErrRoomDeleted", err)
	}
}

func TestCreateChatDedupes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	chat, err := fx.service.CreateChat(ctx, "u-alice", "bob@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.ID != 1 {
		t.Errorf("expected the existing chat, got id %d", chat.ID)
	}

	if _, err := fx.service.CreateChat(ctx, "u-alice", "nobody@example.com"); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("err = %v, want ErrContactNotFound", err)
	}
}

func TestMarkViewedExcludesCaller(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.service.NewMessage(ctx, "u-alice", "room-1", "from alice"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := fx.service.NewMessage(ctx, "u-bob", "room-1", "from bob"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := fx.service.MarkViewed(ctx, 1, "u-alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, m := range fx.messages.messages {
		want := m.Author.ID != "u-alice"
		if m.Viewed != want {
			t.Errorf("message %q viewed = %v, want %v", m.Text, m.Viewed, want)
		}
	}
}

func TestMemberChecksRejectOutsiders(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.service.MarkViewed(ctx, 1, "u-ghost"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("MarkViewed err = %v, want ErrNotParticipant", err)
	}
	if _, err := fx.service.GetContact(ctx, 1, "u-ghost"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("GetContact err = %v, want ErrNotParticipant", err)
	}
	if _, err := fx.service.ListAttachments(ctx, 99, "u-alice"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("ListAttachments err = %v, want ErrRoomNotFound", err)
	}
}

func TestGetContact(t *testing.T) {
	fx := newFixture(t)

	contact, err := fx.service.GetContact(context.Background(), 1, "u-alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contact.ID != "u-bob" {
		t.Errorf("contact = %q, want u-bob", contact.ID)
	}
}

func TestListAttachments(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.service.ShareFile(ctx, domain.ShareFileCommand{
		From: "u-alice", RoomID: "room-1", Filename: "notes.txt", Size: 2, Data: []byte("ok"),
	}); err != nil {
		t.Fatalf("share: %v", err)
	}

	views, err := fx.service.ListAttachments(ctx, 1, "u-bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("attachments = %d, want 1", len(views))
	}
	if views[0].Filename != "notes.txt" || views[0].URL == "" {
		t.Errorf("view = %+v", views[0])
	}
}

func TestListChatsContactAndArchived(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	entries, err := fx.service.ListChats(ctx, "u-alice", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Contact == nil || entries[0].Contact.ID != "u-bob" {
		t.Errorf("contact = %+v", entries[0].Contact)
	}

	if err := fx.service.DeleteChat(ctx, 1, "u-alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	entries, err = fx.service.ListChats(ctx, "u-alice", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("active entries after delete = %d, want 0", len(entries))
	}

	entries, err = fx.service.ListChats(ctx, "u-alice", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("archived entries = %d, want 1", len(entries))
	}
}
