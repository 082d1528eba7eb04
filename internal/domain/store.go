package domain

// Store is the narrow persistence port (C1) the rest of the core depends on.
// Any relational-style backend can implement it; internal/store/postgres is
// the one concrete adapter this repository ships.
type Store interface {
	Repositories() RepositoryRepo
	RepositoryGroups() RepositoryGroupRepo
	AgentTasks() AgentTaskRepo
	AgentSessions() AgentSessionRepo
	UnitTasks() UnitTaskRepo
	CompositeTasks() CompositeTaskRepo
	ExecutionLogs() ExecutionLogRepo
	StreamMessages() StreamMessageRepo
	SessionUsages() SessionUsageRepo

	Close()
}
