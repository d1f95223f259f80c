/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"chainguard.dev/vibepr/agents/driver"
	"chainguard.dev/vibepr/agents/executor/retry"
	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
	"chainguard.dev/vibepr/vm"
)

var (
	shopRepo = codehost.Repo{Owner: "acme", Name: "shop"}
	testNow  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeHost struct {
	mu sync.Mutex

	pr       codehost.PullRequest
	prErr    error
	files    []codehost.ChangedFile
	filesErr error
	tree     string
	contents map[string]string
	vars     []codehost.Variable
	varsErr  error
	refs     []string

	createErr   error
	editErr     error
	comments    map[int64]string
	createCalls int
	edits       int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		pr: codehost.PullRequest{
			Number:  7,
			Title:   "Add cart badge",
			Body:    "Shows the item count on the cart icon.",
			HeadRef: "feature/badge",
			HeadSHA: "0123456789abcdef",
			BaseRef: "main",
			RepoID:  42,
		},
		files: []codehost.ChangedFile{
			{Filename: "src/Cart.tsx", Status: "modified", Additions: 12, Deletions: 2, Changes: 14, Patch: "@@ -1 +1 @@\n-old\n+new"},
			{Filename: "src/Badge.tsx", Status: "added", Additions: 30, Changes: 30, Patch: "@@ -0,0 +1 @@\n+badge"},
		},
		tree: "📄 package.json\n📁 src/\n  📄 Cart.tsx\n  📄 missing.ts",
		contents: map[string]string{
			"README.md":    "# Shop\n\nRun npm ci then npm run dev.",
			"src/Cart.tsx": "export function Cart() {}",
		},
		vars:     []codehost.Variable{{Name: "API_URL", Value: "http://localhost:4000"}},
		comments: map[int64]string{},
	}
}

func (f *fakeHost) PullRequest(context.Context, codehost.Repo, int) (codehost.PullRequest, error) {
	return f.pr, f.prErr
}

func (f *fakeHost) ChangedFiles(context.Context, codehost.Repo, int) ([]codehost.ChangedFile, error) {
	return f.files, f.filesErr
}

func (f *fakeHost) FileContent(_ context.Context, _ codehost.Repo, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	if c, ok := f.contents[path]; ok {
		return c, nil
	}
	return "", &codehost.APIError{Operation: "reading " + path, StatusCode: http.StatusNotFound, Body: "Not Found"}
}

func (f *fakeHost) Tree(_ context.Context, _ codehost.Repo, ref string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	return f.tree, nil
}

func (f *fakeHost) Variables(context.Context, codehost.Repo) ([]codehost.Variable, error) {
	return f.vars, f.varsErr
}

func (f *fakeHost) CreateComment(_ context.Context, _ codehost.Repo, _ int, body string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return 0, f.createErr
	}
	id := int64(1000 + len(f.comments))
	f.comments[id] = body
	return id, nil
}

func (f *fakeHost) EditComment(_ context.Context, _ codehost.Repo, id int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	if _, ok := f.comments[id]; !ok {
		return &codehost.APIError{Operation: "editing comment", StatusCode: http.StatusNotFound, Body: "Not Found"}
	}
	f.edits++
	f.comments[id] = body
	return nil
}

// comment returns the only comment, failing the test if there is not
// exactly one.
func (f *fakeHost) comment(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.comments) != 1 {
		t.Fatalf("comments: got = %d, wanted = 1", len(f.comments))
	}
	for _, body := range f.comments {
		return body
	}
	return ""
}

type fakeCompleter struct {
	mu         sync.Mutex
	analysis   string
	plan       string
	planErr    error
	calls      int
	planPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, _, _, system, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	switch {
	case system == summarizeFileSystem:
		return "Summary of file.", nil
	case strings.Contains(system, "most important files"):
		return f.analysis, nil
	}
	f.planPrompt = prompt
	return f.plan, f.planErr
}

type fakeHandle struct {
	mu    sync.Mutex
	cmds  []string
	files map[string]string
	env   map[string]string
	fail  map[string]vm.CommandResult
	stops int
}

func (h *fakeHandle) ID() string        { return "vm-1" }
func (h *fakeHandle) StreamURL() string { return "https://stream.example.test/vm-1" }

func (h *fakeHandle) Bash(_ context.Context, cmd string) (vm.CommandResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmd)
	for substr, res := range h.fail {
		if strings.Contains(cmd, substr) {
			return res, nil
		}
	}
	return vm.CommandResult{Stdout: "ok\n"}, nil
}

func (h *fakeHandle) SetEnv(_ context.Context, vars map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.env == nil {
		h.env = map[string]string{}
	}
	for k, v := range vars {
		h.env[k] = v
	}
	return nil
}

func (h *fakeHandle) WriteFile(_ context.Context, path, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.files == nil {
		h.files = map[string]string{}
	}
	h.files[path] = content
	return nil
}

func (h *fakeHandle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return nil
}

type fakeProvisioner struct {
	h          *fakeHandle
	err        error
	calls      int
	released   []string
	releaseErr error
}

func (p *fakeProvisioner) Provision(context.Context, vm.Request) (vm.Handle, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.h, nil
}

func (p *fakeProvisioner) Release(_ context.Context, id string) error {
	p.released = append(p.released, id)
	return p.releaseErr
}

type agentReply struct {
	steps []string
	res   driver.Result
	err   error
	panic bool
}

// fakeAgent answers tasks by name. Unscripted tasks succeed without steps.
type fakeAgent struct {
	mu      sync.Mutex
	replies map[string]agentReply
	tasks   []string
	prompts map[string]string
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{replies: map[string]agentReply{}, prompts: map[string]string{}}
}

func (a *fakeAgent) Run(_ context.Context, task driver.Task, _ vm.Handle, onStep func(driver.TimestampedStep)) (driver.Result, error) {
	a.mu.Lock()
	a.tasks = append(a.tasks, task.Name)
	a.prompts[task.Name] = task.Prompt
	reply, ok := a.replies[task.Name]
	a.mu.Unlock()
	if !ok {
		reply = agentReply{res: driver.Result{Success: true}}
	}
	if reply.panic {
		panic("agent exploded")
	}
	res := reply.res
	for i, text := range reply.steps {
		s := driver.TimestampedStep{
			Text:      text,
			Timestamp: time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC),
			ToolCalls: []driver.ToolCallRecord{{Name: driver.ToolBash, Args: map[string]any{"command": "true"}}},
			Action:    driver.ToolBash,
		}
		res.Steps = append(res.Steps, s)
		onStep(s)
	}
	return res, reply.err
}

// memStore keeps JSON snapshots so later mutation of a saved review does
// not leak into the store.
type memStore struct {
	mu       sync.Mutex
	reviews  map[string][]byte
	history  []*Review
	failWhen func(*Review) bool
}

func newMemStore() *memStore { return &memStore{reviews: map[string][]byte{}} }

func (s *memStore) Save(_ context.Context, r *Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWhen != nil && s.failWhen(r) {
		return errors.New("database is locked")
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.reviews[r.ID] = b
	var snap Review
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	s.history = append(s.history, &snap)
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	var r Review
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *fakeNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

// fixture is an orchestrator over fakes that reviews acme/shop#7.
type fixture struct {
	host      *fakeHost
	completer *fakeCompleter
	handle    *fakeHandle
	prov      *fakeProvisioner
	agent     *fakeAgent
	store     *memStore
	notifier  *fakeNotifier
	sleeps    []time.Duration
	o         *Orchestrator
}

func newFixture(t *testing.T, tests int, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		host: newFakeHost(),
		completer: &fakeCompleter{
			analysis: `{"files":[{"path":"src/Cart.tsx","reason":"cart UI"},{"path":"src/missing.ts","reason":"gone"}]}`,
			plan:     planJSON(t, tests),
		},
		handle:   &fakeHandle{},
		agent:    newFakeAgent(),
		store:    newMemStore(),
		notifier: &fakeNotifier{},
	}
	f.prov = &fakeProvisioner{h: f.handle}
	o, err := New(f.host, f.completer, f.prov, f.agent, f.store, append([]Option{
		WithNotifier(f.notifier),
		WithProgressInterval(0),
		WithRetry(retry.Config{MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	}, opts...)...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	f.o = o
	f.o.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func planJSON(t *testing.T, n int) string {
	t.Helper()
	plan := TestPlan{
		CodebaseSummary:   "A storefront.",
		PRChanges:         "Adds a badge to the cart icon.",
		SetupInstructions: "npm ci && npm run dev",
		Tests:             []TestCase{},
	}
	for i := 1; i <= n; i++ {
		plan.Tests = append(plan.Tests, TestCase{
			Name:           fmt.Sprintf("Scenario %d", i),
			Description:    "Cart badge behavior",
			Steps:          []string{"Open the shop", "Add an item to the cart"},
			ExpectedResult: "The badge shows the item count",
			Priority:       "Medium",
		})
	}
	b, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("json.Marshal() = %v", err)
	}
	return "Here is the plan:\n```json\n" + string(b) + "\n```"
}

// assertTransitionsOrdered checks every persisted snapshot: a phase only
// starts once its predecessor is persisted complete, and a terminal status
// never changes.
func assertTransitionsOrdered(t *testing.T, history []*Review) {
	t.Helper()
	var terminal Status
	for i, r := range history {
		for j := 1; j < len(Phases); j++ {
			if r.Phase(Phases[j]).Status != StatusPending && r.Phase(Phases[j-1]).Status != StatusComplete {
				t.Errorf("snapshot %d: %s is %s while %s is %s", i, Phases[j], r.Phase(Phases[j]).Status, Phases[j-1], r.Phase(Phases[j-1]).Status)
			}
		}
		if terminal != "" && r.Status != terminal {
			t.Errorf("snapshot %d: status got = %s, wanted = %s", i, r.Status, terminal)
		}
		if r.Status.Terminal() {
			terminal = r.Status
		}
	}
}
