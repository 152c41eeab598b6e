package store

import "time"

// Questionnaire statuses. Archived is terminal for the presentation path;
// the builder may still edit archived questionnaires.
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

type Questionnaire struct {
	ID          int64
	ServiceID   int64
	Title       string
	Description string
	Status      string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Group is a named section of a questionnaire. Fixed groups are structurally
// required (contact fields and the like) and are read-only to the builder.
type Group struct {
	ID              int64
	QuestionnaireID int64
	Name            string
	Description     string
	SortOrder       int
	IsFixed         bool
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Question struct {
	ID          int64
	Text        string
	Type        string
	Options     []string
	Placeholder string
	HelpText    string
	IsRequired  bool
	IsFixed     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership links a question into a questionnaire, optionally into a group.
// A nil GroupID means the question sits in the ungrouped bucket. SortOrder is
// scoped to the group, or to the ungrouped bucket when GroupID is nil.
type Membership struct {
	QuestionnaireID int64
	QuestionID      int64
	GroupID         *int64
	SortOrder       int
}

// MembershipRow is the canonical join the resolver consumes: a membership
// with its question and, when grouped, its group metadata attached.
type MembershipRow struct {
	Membership
	Question Question
	Group    *Group
}

type Editor struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
