package server

import "updock/internal/domain"

// Request payloads

// CreateIntentRequest carries exactly one criteria variant; which one is
// chosen by which fields are populated, and the criteria invariant is
// enforced before anything is persisted.
type CreateIntentRequest struct {
	ImageRepo     *string `json:"image_repo,omitempty"`
	StackName     *string `json:"stack_name,omitempty"`
	ServiceName   *string `json:"service_name,omitempty"`
	ContainerName *string `json:"container_name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

func criteriaFromRequest(req CreateIntentRequest) (domain.Criteria, error) {
	c := domain.Criteria{}
	populated := 0
	if req.ImageRepo != nil {
		c.Kind = domain.CriteriaImageRepo
		c.ImageRepo = *req.ImageRepo
		populated++
	}
	if req.StackName != nil || req.ServiceName != nil {
		c.Kind = domain.CriteriaStackService
		if req.StackName != nil {
			c.StackName = *req.StackName
		}
		if req.ServiceName != nil {
			c.ServiceName = *req.ServiceName
		}
		populated++
	}
	if req.ContainerName != nil {
		c.Kind = domain.CriteriaContainerName
		c.ContainerName = *req.ContainerName
		populated++
	}
	if populated != 1 {
		return domain.Criteria{}, domain.ValidationError{Field: "criteria", Reason: "exactly one criteria variant must be provided"}
	}
	if err := c.Validate(); err != nil {
		return domain.Criteria{}, err
	}
	return c, nil
}

// Response payloads

type IntentListResponse struct {
	Intents []domain.Intent `json:"intents"`
}

type HistoryListResponse struct {
	History []domain.UpgradeRecord `json:"history"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}
