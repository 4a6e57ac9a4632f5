package domain

import "fmt"

// CriteriaKind selects which matching rule an intent carries.
type CriteriaKind string

const (
	CriteriaImageRepo     CriteriaKind = "image-repo"
	CriteriaStackService  CriteriaKind = "stack-service"
	CriteriaContainerName CriteriaKind = "container-name"
)

// Criteria is the matching rule embedded in an intent. Exactly one variant is
// populated; use the New* constructors so the invariant holds at construction
// time rather than being inferred from whichever fields happen to be set.
type Criteria struct {
	Kind          CriteriaKind `json:"kind" enum:"image-repo,stack-service,container-name"`
	ImageRepo     string       `json:"image_repo,omitempty"`
	StackName     string       `json:"stack_name,omitempty"`
	ServiceName   string       `json:"service_name,omitempty"`
	ContainerName string       `json:"container_name,omitempty"`
}

func NewImageRepoCriteria(repo string) (Criteria, error) {
	if repo == "" {
		return Criteria{}, ValidationError{Field: "image_repo", Reason: "must not be empty"}
	}
	return Criteria{Kind: CriteriaImageRepo, ImageRepo: repo}, nil
}

func NewStackServiceCriteria(stack, service string) (Criteria, error) {
	if stack == "" {
		return Criteria{}, ValidationError{Field: "stack_name", Reason: "must not be empty"}
	}
	if service == "" {
		return Criteria{}, ValidationError{Field: "service_name", Reason: "must not be empty"}
	}
	return Criteria{Kind: CriteriaStackService, StackName: stack, ServiceName: service}, nil
}

func NewContainerNameCriteria(name string) (Criteria, error) {
	if name == "" {
		return Criteria{}, ValidationError{Field: "container_name", Reason: "must not be empty"}
	}
	return Criteria{Kind: CriteriaContainerName, ContainerName: name}, nil
}

// Validate checks the exactly-one-variant invariant on a criteria value that
// did not come through a constructor (decoded from the API or the database).
func (c Criteria) Validate() error {
	switch c.Kind {
	case CriteriaImageRepo:
		if c.ImageRepo == "" {
			return ValidationError{Field: "image_repo", Reason: "must not be empty"}
		}
		if c.StackName != "" || c.ServiceName != "" || c.ContainerName != "" {
			return ValidationError{Field: "criteria", Reason: "image-repo criteria must not carry other fields"}
		}
	case CriteriaStackService:
		if c.StackName == "" || c.ServiceName == "" {
			return ValidationError{Field: "criteria", Reason: "stack-service criteria requires stack_name and service_name"}
		}
		if c.ImageRepo != "" || c.ContainerName != "" {
			return ValidationError{Field: "criteria", Reason: "stack-service criteria must not carry other fields"}
		}
	case CriteriaContainerName:
		if c.ContainerName == "" {
			return ValidationError{Field: "container_name", Reason: "must not be empty"}
		}
		if c.ImageRepo != "" || c.StackName != "" || c.ServiceName != "" {
			return ValidationError{Field: "criteria", Reason: "container-name criteria must not carry other fields"}
		}
	default:
		return ValidationError{Field: "criteria", Reason: fmt.Sprintf("unknown criteria kind %q", c.Kind)}
	}
	return nil
}

// Intent is a persisted rule describing which containers to keep up to date.
type Intent struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Criteria    Criteria `json:"criteria"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

// ContainerSnapshot is a read-only projection of a container as seen at
// evaluation time, tagged with the endpoint it came from. The core never
// mutates it.
type ContainerSnapshot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ImageRepo    string `json:"image_repo"`
	ImageTag     string `json:"image_tag,omitempty"`
	ImageDigest  string `json:"image_digest,omitempty"`
	StackName    string `json:"stack_name,omitempty"`
	ServiceName  string `json:"service_name,omitempty"`
	EndpointID   string `json:"endpoint_id"`
	EndpointName string `json:"endpoint_name"`
}

// VersionRecord is the outcome of a version-source lookup for one image repo.
// HasUpdate is derived; absence of either side always yields false.
type VersionRecord struct {
	Current     *string `json:"current_version,omitempty"`
	Latest      *string `json:"latest_version,omitempty"`
	HasUpdate   bool    `json:"has_update"`
	PublishedAt *string `json:"published_at,omitempty" format:"date-time"`
}

// MatchedContainer is one row of a MatchResult.
type MatchedContainer struct {
	ContainerID     string `json:"container_id"`
	Name            string `json:"name"`
	ImageRepo       string `json:"image_repo"`
	EndpointName    string `json:"endpoint_name"`
	HasUpdate       bool   `json:"has_update"`
	UpdateAvailable string `json:"update_available,omitempty"`
}

// MatchResult is the evaluator's output for one intent. It is recomputed on
// every evaluation and never persisted.
type MatchResult struct {
	IntentID         string             `json:"intent_id"`
	MatchedCount     int                `json:"matched_count"`
	WithUpdatesCount int                `json:"with_updates_count"`
	Matches          []MatchedContainer `json:"matched_containers"`
}

const (
	UpgradeSuccess = "success"
	UpgradeFailed  = "failed"
)

// UpgradeRecord is one row of the append-only upgrade ledger. Once appended
// it is never mutated or deleted; corrections are new records.
type UpgradeRecord struct {
	ID            string `json:"id"`
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	EndpointName  string `json:"endpoint_name"`
	OldImage      string `json:"old_image,omitempty"`
	OldVersion    string `json:"old_version,omitempty"`
	NewImage      string `json:"new_image,omitempty"`
	NewVersion    string `json:"new_version,omitempty"`
	Status        string `json:"status" enum:"success,failed"`
	StartedAt     string `json:"started_at" format:"date-time"`
	EndedAt       string `json:"ended_at" format:"date-time"`
	DurationMs    int64  `json:"duration_ms"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Event is one row of the operational event log (intent lifecycle, pass
// start/completion, upgrade outcomes).
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// ValidationError reports malformed input (criteria invariant violations,
// empty required fields). Surfaced to callers as a 4xx; never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
