package service

// SyncState is the step a sync is in.
type SyncState int

const (
	SyncStateStart SyncState = iota
	SyncStateValidate
	SyncStateExport
	SyncStateRepoOpenOrInit
	SyncStateStage
	SyncStateCommit
	SyncStatePush
	SyncStateDone
	SyncStateFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncStateStart:
		return "start"
	case SyncStateValidate:
		return "validate"
	case SyncStateExport:
		return "export"
	case SyncStateRepoOpenOrInit:
		return "repo_open_or_init"
	case SyncStateStage:
		return "stage"
	case SyncStateCommit:
		return "commit_or_skip"
	case SyncStatePush:
		return "push"
	case SyncStateDone:
		return "done"
	case SyncStateFailed:
		return "failed"
	}
	return "unknown"
}

// Category returns the error category of a failure in state s.
func (s SyncState) Category() Category {
	switch s {
	case SyncStateStart, SyncStateValidate:
		return CategoryValidation
	case SyncStateExport:
		return CategoryExport
	case SyncStatePush:
		return CategoryPush
	default:
		return CategoryRepository
	}
}

// Category classifies failed syncs.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryExport     Category = "export"
	CategoryRepository Category = "repository"
	CategoryPush       Category = "push"
)

// Prefix is the leading part of failure messages of the category.
func (c Category) Prefix() string {
	switch c {
	case CategoryValidation:
		return "validation failed"
	case CategoryExport:
		return "export failed"
	case CategoryPush:
		return "git push failed"
	default:
		return "repository operation failed"
	}
}

// Result is the outcome of a sync, serialized verbatim as the response body.
type Result struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	ErrorType Category `json:"error_type,omitempty"`
	Commit    string   `json:"commit,omitempty"`
}
