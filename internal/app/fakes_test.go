package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/email"
	"contentflow/internal/search"
	"contentflow/internal/session"
	"contentflow/internal/social"
	"contentflow/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "secret"

// fakeDirectory is an in-memory directory. The Fn fields override the
// default behaviour of the matching method.
type fakeDirectory struct {
	users     map[string]store.User
	sites     map[string]store.Site
	roles     map[string]map[string]string
	groups    map[string]store.Group
	nodes     map[string]store.Node
	workItems map[string]store.WorkItem
	seq       int

	mu               sync.Mutex
	getUserCalls     int
	createWorkItemFn func(context.Context, store.WorkItem) (store.WorkItem, error)
	completeStepFn   func(context.Context, string, string, string) (store.WorkItem, error)
}

func newFakeDirectory(t *testing.T) *fakeDirectory {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	d := &fakeDirectory{
		users:     map[string]store.User{},
		sites:     map[string]store.Site{},
		roles:     map[string]map[string]string{},
		groups:    map[string]store.Group{},
		nodes:     map[string]store.Node{},
		workItems: map[string]store.WorkItem{},
	}
	for _, id := range []string{"alice", "bob", "carol", "dave", "erin@example.com"} {
		d.users[id] = store.User{ID: id, DisplayName: id, Email: id + "@mail.test", PasswordHash: string(hash)}
	}
	d.sites["engineering"] = store.Site{ID: "engineering", Title: "Engineering", Visibility: "PUBLIC"}
	d.roles["engineering"] = map[string]string{
		"alice": "collaborator",
		"bob":   "contributor",
		"carol": "collaborator",
		"dave":  "consumer",
	}
	d.groups["reviewers"] = store.Group{Name: "reviewers", DisplayName: "Reviewers", Members: []string{"bob", "carol"}}
	d.groups["empty"] = store.Group{Name: "empty"}

	for _, name := range []string{"report.txt", "plan.doc", "notes"} {
		d.addNode(store.Node{SiteID: "engineering", Name: name, Kind: store.NodeDocument})
	}
	d.addNode(store.Node{Name: "readme.md", Path: "/Company Home/Shared/readme.md", Kind: store.NodeDocument})
	return d
}

func (d *fakeDirectory) addNode(node store.Node) store.Node {
	d.seq++
	node.ID = fmt.Sprintf("node_%d", d.seq)
	if node.SiteID != "" {
		node.Path = store.SitePath(node.SiteID) + "/" + node.Name
	}
	d.nodes[node.Path] = node
	return node
}

func (d *fakeDirectory) node(t *testing.T, path string) store.Node {
	t.Helper()
	node, ok := d.nodes[path]
	require.True(t, ok, "no node at %s", path)
	return node
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (store.User, error) {
	d.mu.Lock()
	d.getUserCalls++
	d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		return store.User{}, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return user, nil
}

func (d *fakeDirectory) GetSite(_ context.Context, id string) (store.Site, error) {
	site, ok := d.sites[id]
	if !ok {
		return store.Site{}, fmt.Errorf("site %s: %w", id, store.ErrNotFound)
	}
	return site, nil
}

func (d *fakeDirectory) SiteRole(_ context.Context, siteID, userID string) (string, error) {
	return d.roles[siteID][userID], nil
}

func (d *fakeDirectory) GetGroup(_ context.Context, name string) (store.Group, error) {
	group, ok := d.groups[name]
	if !ok {
		return store.Group{}, fmt.Errorf("group %s: %w", name, store.ErrNotFound)
	}
	return group, nil
}

func (d *fakeDirectory) GetNodeByPath(_ context.Context, path string) (store.Node, error) {
	node, ok := d.nodes[path]
	if !ok {
		return store.Node{}, fmt.Errorf("node %s: %w", path, store.ErrNotFound)
	}
	return node, nil
}

func (d *fakeDirectory) CreateWorkItem(ctx context.Context, item store.WorkItem) (store.WorkItem, error) {
	if d.createWorkItemFn != nil {
		return d.createWorkItemFn(ctx, item)
	}
	if item.Kind != store.KindPooledReview {
		for _, slot := range item.Slots {
			if _, ok := d.users[slot.Assignee]; !ok {
				return store.WorkItem{}, fmt.Errorf("unknown workflow participant %s: %w", slot.Assignee, store.ErrRejected)
			}
		}
	}
	d.seq++
	item.ID = fmt.Sprintf("wi_%d", d.seq)
	item.Status = store.StatusPending
	item.CreatedAt = time.Now().UTC()
	d.workItems[item.ID] = cloneWorkItem(item)
	return cloneWorkItem(item), nil
}

func (d *fakeDirectory) CompleteWorkItemStep(ctx context.Context, id, assignee, completedBy string) (store.WorkItem, error) {
	if d.completeStepFn != nil {
		return d.completeStepFn(ctx, id, assignee, completedBy)
	}
	item, ok := d.workItems[id]
	if !ok {
		return store.WorkItem{}, fmt.Errorf("work item %s: %w", id, store.ErrNotFound)
	}
	found := false
	for i := range item.Slots {
		if item.Slots[i].Assignee != assignee {
			continue
		}
		found = true
		if item.Slots[i].Status == store.StatusPending {
			now := time.Now().UTC()
			item.Slots[i].Status = store.StatusCompleted
			item.Slots[i].CompletedBy = completedBy
			item.Slots[i].CompletedAt = &now
		}
	}
	if !found {
		return store.WorkItem{}, fmt.Errorf("slot %s on work item %s: %w", assignee, id, store.ErrNotFound)
	}
	if item.Done() {
		item.Status = store.StatusCompleted
	}
	d.workItems[id] = item
	return cloneWorkItem(item), nil
}

func (d *fakeDirectory) GetWorkItem(_ context.Context, id string) (store.WorkItem, error) {
	item, ok := d.workItems[id]
	if !ok {
		return store.WorkItem{}, fmt.Errorf("work item %s: %w", id, store.ErrNotFound)
	}
	return cloneWorkItem(item), nil
}

func (d *fakeDirectory) Ping(context.Context) error { return nil }

func cloneWorkItem(item store.WorkItem) store.WorkItem {
	item.Nodes = append([]store.Node(nil), item.Nodes...)
	item.Slots = append([]store.Slot(nil), item.Slots...)
	return item
}

// fakeSearch matches queries against indexed tags. nodes backs LoadNodes.
type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.NodeRecord
	queries []search.Query
	nodes   []search.NodeRecord
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var results []search.Result
	ids := make([]string, 0, len(f.indexed))
	for id := range f.indexed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := f.indexed[id]
		for _, tag := range rec.Tags {
			if tag == q.Text {
				results = append(results, search.Result{ID: rec.ID, Name: rec.Name, Path: rec.Path, SiteID: rec.SiteID})
				break
			}
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexNode(rec search.NodeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexed == nil {
		f.indexed = map[string]search.NodeRecord{}
	}
	f.indexed[rec.ID] = rec
}

func (f *fakeSearch) LoadNodes(context.Context) ([]search.NodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]search.NodeRecord(nil), f.nodes...), nil
}

func (f *fakeSearch) IndexNodes(records []search.NodeRecord) error {
	for _, rec := range records {
		f.IndexNode(rec)
	}
	return nil
}

// reset drops every indexed record, as a fresh Meilisearch index would.
func (f *fakeSearch) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = nil
}

type fakeNotifier struct {
	configured bool
	sent       [][]string
	data       []email.WorkItemData
	err        error
}

func (f *fakeNotifier) IsConfigured() bool { return f.configured }

func (f *fakeNotifier) NotifyWorkItem(to []string, data email.WorkItemData) error {
	f.sent = append(f.sent, to)
	f.data = append(f.data, data)
	return f.err
}

type testEnv struct {
	svc    *Service
	dir    *fakeDirectory
	search *fakeSearch
	mailer *fakeNotifier
	redis  *miniredis.Miniredis
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		dir:    newFakeDirectory(t),
		search: &fakeSearch{},
		mailer: &fakeNotifier{configured: true},
		redis:  mr,
	}
	for _, node := range env.dir.nodes {
		env.search.nodes = append(env.search.nodes, search.NodeRecord{
			ID: node.ID, SiteID: node.SiteID, Name: node.Name, Path: node.Path, Kind: node.Kind,
		})
	}
	sort.Slice(env.search.nodes, func(i, j int) bool { return env.search.nodes[i].Path < env.search.nodes[j].Path })

	env.svc = &Service{
		cfg:     config.Config{TicketSecret: "test-secret", TicketTTL: time.Hour},
		dir:     env.dir,
		social:  social.NewRedisStoreWithClient(client),
		tickets: session.NewRedisStoreWithClient(client),
		search:  env.search,
		mailer:  env.mailer,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	return env
}

func as(principal string) AuthContext {
	return AuthContext{Principal: principal, Credential: testPassword}
}

func siteDoc(name string) NodeRef {
	return NodeRef{Site: "engineering", Name: name}
}
