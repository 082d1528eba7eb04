package executor_test

import (
	"context"
	"sync"

	"github.com/delinoio/delidev/internal/domain"
)

// fakeStore is a minimal in-memory domain.Store double used to exercise the
// Executor without a real Postgres connection, in the spirit of the
// in-memory fakes used elsewhere in this codebase for concurrent/streaming
// code (see internal/runner's fakeProcess/fakeRunner).
type fakeStore struct {
	mu sync.Mutex

	repos       map[string]*domain.Repository
	groups      map[string]*domain.RepositoryGroup
	agentTasks  map[string]*domain.AgentTask
	sessions    map[string]*domain.AgentSession
	unitTasks   map[string]*domain.UnitTask
	composites  map[string]*domain.CompositeTask
	logs        []*domain.ExecutionLog
	streamMsgs  []*domain.StreamMessage
	usages      map[string]*domain.SessionUsage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		repos:      make(map[string]*domain.Repository),
		groups:     make(map[string]*domain.RepositoryGroup),
		agentTasks: make(map[string]*domain.AgentTask),
		sessions:   make(map[string]*domain.AgentSession),
		unitTasks:  make(map[string]*domain.UnitTask),
		composites: make(map[string]*domain.CompositeTask),
		usages:     make(map[string]*domain.SessionUsage),
	}
}

func (s *fakeStore) Close() {}

func (s *fakeStore) Repositories() domain.RepositoryRepo           { return (*fakeRepositoryRepo)(s) }
func (s *fakeStore) RepositoryGroups() domain.RepositoryGroupRepo  { return (*fakeRepoGroupRepo)(s) }
func (s *fakeStore) AgentTasks() domain.AgentTaskRepo              { return (*fakeAgentTaskRepo)(s) }
func (s *fakeStore) AgentSessions() domain.AgentSessionRepo        { return (*fakeAgentSessionRepo)(s) }
func (s *fakeStore) UnitTasks() domain.UnitTaskRepo                { return (*fakeUnitTaskRepo)(s) }
func (s *fakeStore) CompositeTasks() domain.CompositeTaskRepo      { return (*fakeCompositeTaskRepo)(s) }
func (s *fakeStore) ExecutionLogs() domain.ExecutionLogRepo        { return (*fakeExecutionLogRepo)(s) }
func (s *fakeStore) StreamMessages() domain.StreamMessageRepo      { return (*fakeStreamMessageRepo)(s) }
func (s *fakeStore) SessionUsages() domain.SessionUsageRepo        { return (*fakeSessionUsageRepo)(s) }

type fakeRepositoryRepo fakeStore

func (r *fakeRepositoryRepo) Create(_ context.Context, repo *domain.Repository) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[repo.ID] = repo
	return nil
}

func (r *fakeRepositoryRepo) GetByID(_ context.Context, id string) (*domain.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, ok := r.repos[id]
	if !ok {
		return nil, domain.NewNotFound("repository", id)
	}
	return repo, nil
}

func (r *fakeRepositoryRepo) List(_ context.Context) ([]*domain.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Repository, 0, len(r.repos))
	for _, repo := range r.repos {
		out = append(out, repo)
	}
	return out, nil
}

func (r *fakeRepositoryRepo) Update(_ context.Context, repo *domain.Repository) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[repo.ID] = repo
	return nil
}

func (r *fakeRepositoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.repos, id)
	return nil
}

type fakeRepoGroupRepo fakeStore

func (r *fakeRepoGroupRepo) Create(_ context.Context, g *domain.RepositoryGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID] = g
	return nil
}

func (r *fakeRepoGroupRepo) GetByID(_ context.Context, id string) (*domain.RepositoryGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, domain.NewNotFound("repository_group", id)
	}
	return g, nil
}

func (r *fakeRepoGroupRepo) List(_ context.Context, workspaceID string) ([]*domain.RepositoryGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.RepositoryGroup, 0)
	for _, g := range r.groups {
		if g.WorkspaceID == workspaceID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeRepoGroupRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, id)
	return nil
}

type fakeAgentTaskRepo fakeStore

func (r *fakeAgentTaskRepo) Create(_ context.Context, t *domain.AgentTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentTasks[t.ID] = t
	return nil
}

func (r *fakeAgentTaskRepo) GetByID(_ context.Context, id string) (*domain.AgentTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.agentTasks[id]
	if !ok {
		return nil, domain.NewNotFound("agent_task", id)
	}
	return t, nil
}

func (r *fakeAgentTaskRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agentTasks, id)
	return nil
}

type fakeAgentSessionRepo fakeStore

func (r *fakeAgentSessionRepo) Create(_ context.Context, s *domain.AgentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *fakeAgentSessionRepo) GetByID(_ context.Context, id string) (*domain.AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.NewNotFound("agent_session", id)
	}
	return s, nil
}

func (r *fakeAgentSessionRepo) ListByAgentTask(_ context.Context, agentTaskID string) ([]*domain.AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AgentSession, 0)
	for _, s := range r.sessions {
		if s.AgentTaskID == agentTaskID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeAgentSessionRepo) UpdateStatus(_ context.Context, id string, status domain.AgentSessionStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.NewNotFound("agent_session", id)
	}
	s.Status = status
	s.Error = errMsg
	return nil
}

func (r *fakeAgentSessionRepo) SetContainerID(_ context.Context, id, containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.NewNotFound("agent_session", id)
	}
	s.ContainerID = containerID
	return nil
}

type fakeUnitTaskRepo fakeStore

func (r *fakeUnitTaskRepo) Create(_ context.Context, t *domain.UnitTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unitTasks[t.ID] = t
	return nil
}

func (r *fakeUnitTaskRepo) GetByID(_ context.Context, id string) (*domain.UnitTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.unitTasks[id]
	if !ok {
		return nil, domain.NewNotFound("unit_task", id)
	}
	cp := *t
	return &cp, nil
}

func (r *fakeUnitTaskRepo) List(_ context.Context, filter domain.UnitTaskFilter) ([]*domain.UnitTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.UnitTask, 0)
	for _, t := range r.unitTasks {
		if filter.RepositoryGroupID != "" && t.RepositoryGroupID != filter.RepositoryGroupID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeUnitTaskRepo) ListByStatus(_ context.Context, status domain.UnitTaskStatus) ([]*domain.UnitTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.UnitTask, 0)
	for _, t := range r.unitTasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeUnitTaskRepo) Update(_ context.Context, t *domain.UnitTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unitTasks[t.ID] = t
	return nil
}

func (r *fakeUnitTaskRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unitTasks, id)
	return nil
}

func (r *fakeUnitTaskRepo) SetStatus(_ context.Context, id string, expectedCurrent, newStatus domain.UnitTaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.unitTasks[id]
	if !ok {
		return domain.NewNotFound("unit_task", id)
	}
	if t.Status != expectedCurrent {
		return domain.NewPrecondition("unit task is not in expected status")
	}
	t.Status = newStatus
	return nil
}

func (r *fakeUnitTaskRepo) SetBranchName(_ context.Context, id, branchName string) error {
	return r.mutate(id, func(t *domain.UnitTask) { t.BranchName = branchName })
}

func (r *fakeUnitTaskRepo) SetBaseCommit(_ context.Context, id, baseCommit string) error {
	return r.mutate(id, func(t *domain.UnitTask) { t.BaseCommit = baseCommit })
}

func (r *fakeUnitTaskRepo) SetEndCommit(_ context.Context, id, endCommit string) error {
	return r.mutate(id, func(t *domain.UnitTask) { t.EndCommit = endCommit })
}

func (r *fakeUnitTaskRepo) SetPRURL(_ context.Context, id, url string) error {
	return r.mutate(id, func(t *domain.UnitTask) { t.LinkedPRURL = url })
}

func (r *fakeUnitTaskRepo) SetPrompt(_ context.Context, id, prompt string) error {
	return r.mutate(id, func(t *domain.UnitTask) { t.Prompt = prompt })
}

func (r *fakeUnitTaskRepo) SetLastExecutionFailed(_ context.Context, id string, failed bool) error {
	return r.mutate(id, func(t *domain.UnitTask) { t.LastExecutionFailed = failed })
}

func (r *fakeUnitTaskRepo) AddAutoFixTask(_ context.Context, unitTaskID, agentTaskID string) error {
	return r.mutate(unitTaskID, func(t *domain.UnitTask) {
		t.AutoFixTaskIDs = append(t.AutoFixTaskIDs, agentTaskID)
	})
}

func (r *fakeUnitTaskRepo) mutate(id string, fn func(*domain.UnitTask)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.unitTasks[id]
	if !ok {
		return domain.NewNotFound("unit_task", id)
	}
	fn(t)
	return nil
}

type fakeCompositeTaskRepo fakeStore

func (r *fakeCompositeTaskRepo) Create(_ context.Context, t *domain.CompositeTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.composites[t.ID] = t
	return nil
}

func (r *fakeCompositeTaskRepo) GetByID(_ context.Context, id string) (*domain.CompositeTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.composites[id]
	if !ok {
		return nil, domain.NewNotFound("composite_task", id)
	}
	return t, nil
}

func (r *fakeCompositeTaskRepo) List(_ context.Context, _ domain.CompositeTaskFilter) ([]*domain.CompositeTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.CompositeTask, 0, len(r.composites))
	for _, t := range r.composites {
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeCompositeTaskRepo) Update(_ context.Context, t *domain.CompositeTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.composites[t.ID] = t
	return nil
}

func (r *fakeCompositeTaskRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.composites, id)
	return nil
}

func (r *fakeCompositeTaskRepo) SetStatus(_ context.Context, id string, expectedCurrent, newStatus domain.CompositeTaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.composites[id]
	if !ok {
		return domain.NewNotFound("composite_task", id)
	}
	if t.Status != expectedCurrent {
		return domain.NewPrecondition("composite task is not in expected status")
	}
	t.Status = newStatus
	return nil
}

func (r *fakeCompositeTaskRepo) SetPlanPath(_ context.Context, id, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.composites[id]
	if !ok {
		return domain.NewNotFound("composite_task", id)
	}
	t.PlanFilePath = path
	return nil
}

func (r *fakeCompositeTaskRepo) SetPlanContent(_ context.Context, id, yamlContent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.composites[id]
	if !ok {
		return domain.NewNotFound("composite_task", id)
	}
	t.PlanYAMLContent = yamlContent
	return nil
}

func (r *fakeCompositeTaskRepo) AddNode(_ context.Context, compositeTaskID string, node domain.CompositeTaskNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.composites[compositeTaskID]
	if !ok {
		return domain.NewNotFound("composite_task", compositeTaskID)
	}
	t.Nodes = append(t.Nodes, node)
	return nil
}

func (r *fakeCompositeTaskRepo) AreAllNodesDone(_ context.Context, compositeTaskID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.composites[compositeTaskID]
	if !ok || len(t.Nodes) == 0 {
		return false, nil
	}
	for _, n := range t.Nodes {
		ut, ok := r.unitTasks[n.UnitTaskID]
		if !ok || ut.Status != domain.UnitDone {
			return false, nil
		}
	}
	return true, nil
}

func (r *fakeCompositeTaskRepo) GetReadyDependents(_ context.Context, doneUnitTaskID string) ([]string, error) {
	return nil, nil
}

func (r *fakeCompositeTaskRepo) GetBlockedUnitTaskIDs(_ context.Context) ([]string, error) {
	return nil, nil
}

func (r *fakeCompositeTaskRepo) FindOwningComposite(_ context.Context, unitTaskID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.composites {
		if _, ok := t.Node(unitTaskID); ok {
			return t.ID, nil
		}
	}
	return "", nil
}

type fakeExecutionLogRepo fakeStore

func (r *fakeExecutionLogRepo) Append(_ context.Context, e *domain.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, e)
	return nil
}

func (r *fakeExecutionLogRepo) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]*domain.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ExecutionLog, 0)
	for _, l := range r.logs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeStreamMessageRepo fakeStore

func (r *fakeStreamMessageRepo) Append(_ context.Context, m *domain.StreamMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamMsgs = append(r.streamMsgs, m)
	return nil
}

func (r *fakeStreamMessageRepo) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]*domain.StreamMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.StreamMessage, 0)
	for _, m := range r.streamMsgs {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeSessionUsageRepo fakeStore

func (r *fakeSessionUsageRepo) Create(_ context.Context, u *domain.SessionUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usages[u.SessionID] = u
	return nil
}

func (r *fakeSessionUsageRepo) GetBySession(_ context.Context, sessionID string) (*domain.SessionUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usages[sessionID]
	if !ok {
		return nil, domain.NewNotFound("session_usage", sessionID)
	}
	return u, nil
}

var _ domain.Store = (*fakeStore)(nil)
