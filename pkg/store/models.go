package store

import "time"

// Article is a stored news item after deduplication.
type Article struct {
	ID          int64
	IdentityKey string
	EntityID    string
	URL         string
	Title       string
	Description string
	ImageURL    string
	Source      string
	PublishedAt time.Time
	CollectedAt time.Time
}

// CycleStatus describes the outcome of a fetch cycle.
type CycleStatus string

const (
	// CycleSuccess means the cycle completed and all fetched items were handled.
	CycleSuccess CycleStatus = "success"
	// CycleFailed means no items could be fetched or ingested.
	CycleFailed CycleStatus = "failed"
	// CyclePartial means the cycle produced items but some were lost to errors.
	CyclePartial CycleStatus = "partial"
)

// FetchLog is one immutable audit record per fetch cycle.
type FetchLog struct {
	ID            string
	FetchedAt     time.Time
	NextDueAt     time.Time
	Status        CycleStatus
	Duration      time.Duration
	APICalls      int
	Duplicates    int
	NewItems      int
	Error         string
	RateRemaining *int
	RateResetAt   *time.Time
}

// Statistics summarizes the article store and audit log.
type Statistics struct {
	TotalArticles int
	TotalCycles   int
	SuccessCycles int
	FailedCycles  int
	AvgDuration   time.Duration
	TotalAPICalls int
	LastFetchedAt *time.Time
}
