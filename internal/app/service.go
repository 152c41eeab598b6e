package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"stepform/api/internal/auth"
	"stepform/api/internal/authpw"
	"stepform/api/internal/compose"
	"stepform/api/internal/config"
	"stepform/api/internal/snapshot"
	"stepform/api/internal/store"
	"stepform/api/internal/util"
)

// Editor is the authenticated identity a mutation acts under. The transport
// layer builds it from the request token; the engine never sees raw tokens.
type Editor struct {
	ID   int64
	Name string
	Role string
}

var allowedQuestionTypes = map[string]struct{}{
	"text":     {},
	"email":    {},
	"tel":      {},
	"textarea": {},
	"select":   {},
	"radio":    {},
	"checkbox": {},
	"number":   {},
	"date":     {},
}

var choiceQuestionTypes = map[string]struct{}{
	"select":   {},
	"radio":    {},
	"checkbox": {},
}

// questionTypeAliases maps legacy type names still found in imported data to
// the canonical form stored in the database.
var questionTypeAliases = map[string]string{
	"phone": "tel",
}

func canonicalQuestionType(questionType string) string {
	if canonical, ok := questionTypeAliases[questionType]; ok {
		return canonical
	}
	return questionType
}

// statusTransitions is the questionnaire lifecycle: a draft goes live, a
// live questionnaire gets archived. Archived is terminal.
var statusTransitions = map[string][]string{
	store.StatusDraft:     {store.StatusActive, store.StatusPublished},
	store.StatusActive:    {store.StatusArchived},
	store.StatusPublished: {store.StatusArchived},
	store.StatusArchived:  {},
}

type QuestionInput struct {
	Text        string   `json:"text"`
	Type        string   `json:"type"`
	Options     []string `json:"options"`
	Placeholder string   `json:"placeholder"`
	HelpText    string   `json:"helpText"`
	IsRequired  bool     `json:"isRequired"`
}

// QuestionEdit carries the optional fields of an edit; nil means unchanged.
type QuestionEdit struct {
	Text        *string   `json:"text"`
	Type        *string   `json:"type"`
	Options     *[]string `json:"options"`
	Placeholder *string   `json:"placeholder"`
	HelpText    *string   `json:"helpText"`
	IsRequired  *bool     `json:"isRequired"`
}

type dataStore interface {
	Ping(ctx context.Context) error

	EnsureEditor(ctx context.Context, email, displayName, passwordHash string) (store.Editor, error)

	CreateQuestionnaire(ctx context.Context, item store.Questionnaire) (store.Questionnaire, error)
	GetQuestionnaire(ctx context.Context, questionnaireID int64) (store.Questionnaire, error)
	GetActiveQuestionnaireForService(ctx context.Context, serviceID int64) (store.Questionnaire, error)
	ListQuestionnairesByService(ctx context.Context, serviceID int64) ([]store.Questionnaire, error)
	UpdateQuestionnaireStatus(ctx context.Context, questionnaireID int64, status string) error

	GetGroup(ctx context.Context, groupID int64) (store.Group, error)
	ListGroups(ctx context.Context, questionnaireID int64) ([]store.Group, error)
	UpsertGroup(ctx context.Context, item store.Group) (store.Group, error)
	UpdateGroupMetadata(ctx context.Context, groupID int64, name, description string) error

	GetQuestion(ctx context.Context, questionID int64) (store.Question, error)
	ListQuestions(ctx context.Context, limit int) ([]store.Question, error)
	UpsertQuestion(ctx context.Context, item store.Question) (store.Question, error)
	ListQuestionnairesForQuestion(ctx context.Context, questionID int64) ([]int64, error)

	ListMembership(ctx context.Context, questionnaireID int64) ([]store.MembershipRow, error)
	GetMembership(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error)
	UpsertMembership(ctx context.Context, item store.Membership) error
	MoveMembership(ctx context.Context, questionnaireID, questionID int64, targetGroupID *int64, targetIndex int) error
	CreateGroupWithQuestions(ctx context.Context, questionnaireID int64, name string, questionIDs []int64) (store.Group, error)
	DeleteGroupDetachMembers(ctx context.Context, questionnaireID, groupID int64) error
	DeleteQuestionMembership(ctx context.Context, questionnaireID, questionID int64) (bool, error)
}

type planCache interface {
	Get(ctx context.Context, questionnaireID int64) (compose.Plan, bool, error)
	Set(ctx context.Context, plan compose.Plan) error
	Invalidate(ctx context.Context, questionnaireID int64) error
}

type snapshotRecorder interface {
	Record(questionnaireID int64, composition compose.Composition, author, message string) error
	History(questionnaireID int64, limit int) ([]snapshot.Revision, error)
	GetRevision(questionnaireID int64, hash string) (compose.Composition, error)
}

type questionIndexer interface {
	IndexQuestion(question store.Question)
	RemoveQuestion(questionID int64)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	plans     planCache
	snapshots snapshotRecorder
	index     questionIndexer
	authpw    *authpw.Service
}

// New wires the service. plans, snapshots and index may each be nil when the
// backing system is not configured; the engine degrades to uncached,
// unrecorded, unindexed operation.
func New(cfg config.Config, dataStore *store.PostgresStore, plans planCache, snapshots snapshotRecorder, index questionIndexer) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		plans:     plans,
		snapshots: snapshots,
		index:     index,
		authpw:    authpw.NewService(dataStore),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// LoginResult is what a successful editor sign-in returns to the transport.
type LoginResult struct {
	Token     string `json:"token"`
	CSRF      string `json:"csrf"`
	EditorID  int64  `json:"editorId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"expiresAt"`
}

// SignIn verifies editor credentials and issues a signed token carrying a
// fresh CSRF value. Mutating requests must echo it in X-CSRF-Token.
func (s *Service) SignIn(ctx context.Context, email, password string) (LoginResult, error) {
	editor, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	csrf := util.NewToken()
	expiresAt := time.Now().Add(s.cfg.AccessTTL).Unix()
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.EditorClaims{
		EditorID: editor.ID,
		Name:     editor.DisplayName,
		Role:     editor.Role,
		CSRF:     csrf,
		Exp:      expiresAt,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{
		Token:     token,
		CSRF:      csrf,
		EditorID:  editor.ID,
		Name:      editor.DisplayName,
		Role:      editor.Role,
		ExpiresAt: expiresAt,
	}, nil
}

// EditorFromToken validates a bearer token against the signing secret.
func (s *Service) EditorFromToken(token string) (auth.EditorClaims, error) {
	return auth.ParseToken([]byte(s.cfg.JWTSecret), token)
}

// ---- read path ----

// ResolvePlan builds the steppable presentation of a questionnaire,
// regardless of its status. Editors use it to preview drafts.
func (s *Service) ResolvePlan(ctx context.Context, questionnaireID int64) (compose.Plan, error) {
	if _, err := s.store.GetQuestionnaire(ctx, questionnaireID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return compose.Plan{}, notFound("Questionnaire not found")
		}
		return compose.Plan{}, fmt.Errorf("load questionnaire: %w", err)
	}

	if s.plans != nil {
		if plan, found, err := s.plans.Get(ctx, questionnaireID); err == nil && found {
			return plan, nil
		} else if err != nil {
			log.Printf("plancache: read %d: %v", questionnaireID, err)
		}
	}

	rows, err := s.store.ListMembership(ctx, questionnaireID)
	if err != nil {
		return compose.Plan{}, fmt.Errorf("list membership: %w", err)
	}
	plan := compose.BuildPlan(questionnaireID, compose.Resolve(rows))

	if s.plans != nil {
		if err := s.plans.Set(ctx, plan); err != nil {
			log.Printf("plancache: write %d: %v", questionnaireID, err)
		}
	}
	return plan, nil
}

// ResolveForService is the public read path: the service's live
// questionnaire (active or published, most recently created) as steps.
func (s *Service) ResolveForService(ctx context.Context, serviceID int64) (store.Questionnaire, compose.Plan, error) {
	questionnaire, err := s.store.GetActiveQuestionnaireForService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Questionnaire{}, compose.Plan{}, notFound("No active questionnaire for this service")
		}
		return store.Questionnaire{}, compose.Plan{}, fmt.Errorf("load active questionnaire: %w", err)
	}
	plan, err := s.ResolvePlan(ctx, questionnaire.ID)
	if err != nil {
		return store.Questionnaire{}, compose.Plan{}, err
	}
	return questionnaire, plan, nil
}

func (s *Service) History(ctx context.Context, questionnaireID int64, limit int) ([]snapshot.Revision, error) {
	if _, err := s.store.GetQuestionnaire(ctx, questionnaireID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Questionnaire not found")
		}
		return nil, fmt.Errorf("load questionnaire: %w", err)
	}
	if s.snapshots == nil {
		return []snapshot.Revision{}, nil
	}
	return s.snapshots.History(questionnaireID, limit)
}

// RevisionComposition returns the composition as it was at a recorded
// snapshot revision.
func (s *Service) RevisionComposition(ctx context.Context, questionnaireID int64, hash string) (compose.Composition, error) {
	if _, err := s.store.GetQuestionnaire(ctx, questionnaireID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return compose.Composition{}, notFound("Questionnaire not found")
		}
		return compose.Composition{}, fmt.Errorf("load questionnaire: %w", err)
	}
	if s.snapshots == nil {
		return compose.Composition{}, notFound("Revision not found")
	}
	composition, err := s.snapshots.GetRevision(questionnaireID, hash)
	if err != nil {
		return compose.Composition{}, notFound("Revision not found")
	}
	return composition, nil
}

// ---- questionnaires ----

func (s *Service) CreateQuestionnaire(ctx context.Context, editor Editor, serviceID int64, title, description string) (store.Questionnaire, error) {
	if strings.TrimSpace(title) == "" {
		return store.Questionnaire{}, validation("Title must not be empty", nil)
	}
	if serviceID <= 0 {
		return store.Questionnaire{}, validation("A service reference is required", nil)
	}
	return s.store.CreateQuestionnaire(ctx, store.Questionnaire{
		ServiceID:   serviceID,
		Title:       strings.TrimSpace(title),
		Description: description,
		Status:      store.StatusDraft,
		CreatedBy:   editor.Name,
	})
}

func (s *Service) ListQuestionnaires(ctx context.Context, serviceID int64) ([]store.Questionnaire, error) {
	return s.store.ListQuestionnairesByService(ctx, serviceID)
}

// ChangeQuestionnaireStatus enforces the lifecycle state machine.
func (s *Service) ChangeQuestionnaireStatus(ctx context.Context, editor Editor, questionnaireID int64, status string) error {
	questionnaire, err := s.store.GetQuestionnaire(ctx, questionnaireID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Questionnaire not found")
		}
		return fmt.Errorf("load questionnaire: %w", err)
	}

	allowed := false
	for _, next := range statusTransitions[questionnaire.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return validation(
			fmt.Sprintf("Cannot change status from %s to %s", questionnaire.Status, status),
			map[string]any{"from": questionnaire.Status, "to": status},
		)
	}

	if err := s.store.UpdateQuestionnaireStatus(ctx, questionnaireID, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	s.afterMutation(ctx, editor, questionnaireID, fmt.Sprintf("Set status to %s", status))
	return nil
}

// ---- questions ----

func (s *Service) CreateQuestion(ctx context.Context, editor Editor, input QuestionInput) (store.Question, error) {
	question := store.Question{
		Text:        strings.TrimSpace(input.Text),
		Type:        input.Type,
		Options:     input.Options,
		Placeholder: input.Placeholder,
		HelpText:    input.HelpText,
		IsRequired:  input.IsRequired,
	}
	if err := validateQuestion(question); err != nil {
		return store.Question{}, err
	}
	question = normalizeQuestion(question)

	created, err := s.store.UpsertQuestion(ctx, question)
	if err != nil {
		return store.Question{}, fmt.Errorf("create question: %w", err)
	}
	if s.index != nil {
		s.index.IndexQuestion(created)
	}
	return created, nil
}

func (s *Service) ListQuestions(ctx context.Context, limit int) ([]store.Question, error) {
	return s.store.ListQuestions(ctx, limit)
}

// EditQuestionMetadata updates a question definition. The question is shared
// across questionnaires, so every plan that contains it is invalidated.
func (s *Service) EditQuestionMetadata(ctx context.Context, editor Editor, questionID int64, edit QuestionEdit) (store.Question, error) {
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Question{}, notFound("Question not found")
		}
		return store.Question{}, fmt.Errorf("load question: %w", err)
	}
	if question.IsFixed {
		return store.Question{}, fixedElement("Question is fixed and cannot be edited")
	}

	if edit.Text != nil {
		question.Text = strings.TrimSpace(*edit.Text)
	}
	if edit.Type != nil {
		question.Type = *edit.Type
	}
	if edit.Options != nil {
		question.Options = *edit.Options
	}
	if edit.Placeholder != nil {
		question.Placeholder = *edit.Placeholder
	}
	if edit.HelpText != nil {
		question.HelpText = *edit.HelpText
	}
	if edit.IsRequired != nil {
		question.IsRequired = *edit.IsRequired
	}
	if err := validateQuestion(question); err != nil {
		return store.Question{}, err
	}
	question = normalizeQuestion(question)

	updated, err := s.store.UpsertQuestion(ctx, question)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Question{}, notFound("Question not found")
		}
		return store.Question{}, fmt.Errorf("update question: %w", err)
	}
	if s.index != nil {
		s.index.IndexQuestion(updated)
	}
	s.invalidatePlansForQuestion(ctx, questionID)
	return updated, nil
}

// ---- membership ----

// AttachQuestion adds a question to a questionnaire, at the end of the given
// group or of the ungrouped bucket. Attaching a question that is already part
// of the questionnaire moves it, so the move rules apply: a fixed question, or
// one sitting in a fixed group, stays where it is.
func (s *Service) AttachQuestion(ctx context.Context, editor Editor, questionnaireID, questionID int64, groupID *int64) error {
	if _, err := s.store.GetQuestionnaire(ctx, questionnaireID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Questionnaire not found")
		}
		return fmt.Errorf("load questionnaire: %w", err)
	}
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Question not found")
		}
		return fmt.Errorf("load question: %w", err)
	}

	existing, err := s.store.GetMembership(ctx, questionnaireID, questionID)
	switch {
	case err == nil:
		if question.IsFixed {
			return fixedElement("Question is fixed and cannot be moved")
		}
		if existing.GroupID != nil {
			source, err := s.store.GetGroup(ctx, *existing.GroupID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("load source group: %w", err)
			}
			if err == nil && source.IsFixed {
				return fixedElement("Source group is fixed and cannot be reordered")
			}
		}
	case errors.Is(err, sql.ErrNoRows):
		// Fresh attach.
	default:
		return fmt.Errorf("load membership: %w", err)
	}

	if groupID != nil {
		group, err := s.loadTargetGroup(ctx, questionnaireID, *groupID)
		if err != nil {
			return err
		}
		if group.IsFixed {
			return fixedElement("Group is fixed and cannot receive questions")
		}
	}

	if err := s.store.UpsertMembership(ctx, store.Membership{
		QuestionnaireID: questionnaireID,
		QuestionID:      questionID,
		GroupID:         groupID,
	}); err != nil {
		return fmt.Errorf("attach question: %w", err)
	}
	s.afterMutation(ctx, editor, questionnaireID, fmt.Sprintf("Attach question %q", question.Text))
	return nil
}

// ReorderMembership moves a question to a new group and position. Fixed
// questions, fixed source groups and fixed destination groups all reject the
// move before anything is written.
func (s *Service) ReorderMembership(ctx context.Context, editor Editor, questionnaireID, questionID int64, targetGroupID *int64, targetIndex int) error {
	if targetIndex < 0 {
		return validation("Target index must not be negative", nil)
	}

	membership, err := s.store.GetMembership(ctx, questionnaireID, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Question is not part of this questionnaire")
		}
		return fmt.Errorf("load membership: %w", err)
	}

	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Question not found")
		}
		return fmt.Errorf("load question: %w", err)
	}
	if question.IsFixed {
		return fixedElement("Question is fixed and cannot be moved")
	}

	if membership.GroupID != nil {
		source, err := s.store.GetGroup(ctx, *membership.GroupID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load source group: %w", err)
		}
		if err == nil && source.IsFixed {
			return fixedElement("Source group is fixed and cannot be reordered")
		}
	}

	if targetGroupID != nil {
		target, err := s.loadTargetGroup(ctx, questionnaireID, *targetGroupID)
		if err != nil {
			return err
		}
		if target.IsFixed {
			return fixedElement("Destination group is fixed and cannot be reordered")
		}
	}

	if err := s.store.MoveMembership(ctx, questionnaireID, questionID, targetGroupID, targetIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Question is not part of this questionnaire")
		}
		return fmt.Errorf("move membership: %w", err)
	}
	s.afterMutation(ctx, editor, questionnaireID, fmt.Sprintf("Reorder question %q", question.Text))
	return nil
}

// CreateGroupFromQuestions combines two or more loose questions into a new
// section appended after all existing groups.
func (s *Service) CreateGroupFromQuestions(ctx context.Context, editor Editor, questionnaireID int64, questionIDs []int64, name string) (store.Group, error) {
	if strings.TrimSpace(name) == "" {
		return store.Group{}, validation("Group name must not be empty", nil)
	}
	unique := dedupeIDs(questionIDs)
	if len(unique) < 2 {
		return store.Group{}, validation("At least two questions are required to form a group", nil)
	}
	if _, err := s.store.GetQuestionnaire(ctx, questionnaireID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Group{}, notFound("Questionnaire not found")
		}
		return store.Group{}, fmt.Errorf("load questionnaire: %w", err)
	}

	for _, questionID := range unique {
		membership, err := s.store.GetMembership(ctx, questionnaireID, questionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Group{}, notFound(fmt.Sprintf("Question %d is not part of this questionnaire", questionID))
			}
			return store.Group{}, fmt.Errorf("load membership: %w", err)
		}
		question, err := s.store.GetQuestion(ctx, questionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Group{}, notFound(fmt.Sprintf("Question %d not found", questionID))
			}
			return store.Group{}, fmt.Errorf("load question: %w", err)
		}
		if question.IsFixed {
			return store.Group{}, fixedElement(fmt.Sprintf("Question %d is fixed and cannot be grouped", questionID))
		}
		if membership.GroupID != nil {
			current, err := s.store.GetGroup(ctx, *membership.GroupID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return store.Group{}, fmt.Errorf("load current group: %w", err)
			}
			if err == nil && current.IsFixed {
				return store.Group{}, fixedElement(fmt.Sprintf("Question %d belongs to a fixed group", questionID))
			}
		}
	}

	group, err := s.store.CreateGroupWithQuestions(ctx, questionnaireID, strings.TrimSpace(name), unique)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Group{}, notFound("A question left the questionnaire during the operation")
		}
		return store.Group{}, fmt.Errorf("create group from questions: %w", err)
	}
	s.afterMutation(ctx, editor, questionnaireID, fmt.Sprintf("Create group %q from %d questions", group.Name, len(unique)))
	return group, nil
}

// DeleteGroup detaches all member questions to the ungrouped bucket and
// removes the group. Member questions are never deleted.
func (s *Service) DeleteGroup(ctx context.Context, editor Editor, groupID int64) error {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Group not found")
		}
		return fmt.Errorf("load group: %w", err)
	}
	if group.IsFixed {
		return fixedElement("Group is fixed and cannot be deleted")
	}

	if err := s.store.DeleteGroupDetachMembers(ctx, group.QuestionnaireID, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Group not found")
		}
		return fmt.Errorf("delete group: %w", err)
	}
	s.afterMutation(ctx, editor, group.QuestionnaireID, fmt.Sprintf("Delete group %q", group.Name))
	return nil
}

// DeleteQuestion removes a question from a questionnaire. The question
// definition itself is deleted only when no other questionnaire uses it.
func (s *Service) DeleteQuestion(ctx context.Context, editor Editor, questionnaireID, questionID int64) error {
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Question not found")
		}
		return fmt.Errorf("load question: %w", err)
	}
	if question.IsFixed {
		return fixedElement("Question is fixed and cannot be deleted")
	}

	orphanDeleted, err := s.store.DeleteQuestionMembership(ctx, questionnaireID, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Question is not part of this questionnaire")
		}
		return fmt.Errorf("delete question membership: %w", err)
	}
	if orphanDeleted && s.index != nil {
		s.index.RemoveQuestion(questionID)
	}
	s.afterMutation(ctx, editor, questionnaireID, fmt.Sprintf("Delete question %q", question.Text))
	return nil
}

// EditGroupMetadata renames or re-describes a group; nil fields are kept.
func (s *Service) EditGroupMetadata(ctx context.Context, editor Editor, groupID int64, name, description *string) (store.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Group{}, notFound("Group not found")
		}
		return store.Group{}, fmt.Errorf("load group: %w", err)
	}
	if group.IsFixed {
		return store.Group{}, fixedElement("Group is fixed and cannot be edited")
	}

	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return store.Group{}, validation("Group name must not be empty", nil)
		}
		group.Name = trimmed
	}
	if description != nil {
		group.Description = *description
	}

	if err := s.store.UpdateGroupMetadata(ctx, groupID, group.Name, group.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Group{}, notFound("Group not found")
		}
		return store.Group{}, fmt.Errorf("update group metadata: %w", err)
	}
	s.afterMutation(ctx, editor, group.QuestionnaireID, fmt.Sprintf("Edit group %q", group.Name))
	return group, nil
}

// Bootstrap seeds a demo editor and a first questionnaire so a fresh
// install has something to edit. It is a no-op once data exists.
func (s *Service) Bootstrap(ctx context.Context) error {
	passwordHash, err := authpw.HashPassword("stepform-dev")
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}
	if _, err := s.store.EnsureEditor(ctx, "owner@stepform.local", "Stepform Owner", passwordHash); err != nil {
		return fmt.Errorf("ensure bootstrap editor: %w", err)
	}

	existing, err := s.store.ListQuestionnairesByService(ctx, 1)
	if err != nil {
		return fmt.Errorf("list questionnaires: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	questionnaire, err := s.store.CreateQuestionnaire(ctx, store.Questionnaire{
		ServiceID:   1,
		Title:       "General Intake",
		Description: "Default intake questionnaire for new enquiries.",
		Status:      store.StatusDraft,
		CreatedBy:   "Stepform Owner",
	})
	if err != nil {
		return fmt.Errorf("create bootstrap questionnaire: %w", err)
	}

	contact, err := s.store.UpsertGroup(ctx, store.Group{
		QuestionnaireID: questionnaire.ID,
		Name:            "Contact details",
		Description:     "How we reach you about your enquiry.",
		SortOrder:       0,
		IsFixed:         true,
		IsActive:        true,
	})
	if err != nil {
		return fmt.Errorf("create contact group: %w", err)
	}

	fixedSeeds := []store.Question{
		{Text: "What is your name?", Type: "text", IsRequired: true, IsFixed: true},
		{Text: "What is your email address?", Type: "email", IsRequired: true, IsFixed: true},
		{Text: "What is your phone number?", Type: "tel", IsFixed: true},
	}
	for _, seed := range fixedSeeds {
		question, err := s.store.UpsertQuestion(ctx, seed)
		if err != nil {
			return fmt.Errorf("seed question %q: %w", seed.Text, err)
		}
		if err := s.store.UpsertMembership(ctx, store.Membership{
			QuestionnaireID: questionnaire.ID,
			QuestionID:      question.ID,
			GroupID:         &contact.ID,
		}); err != nil {
			return fmt.Errorf("attach seed question %q: %w", seed.Text, err)
		}
		if s.index != nil {
			s.index.IndexQuestion(question)
		}
	}

	looseSeeds := []store.Question{
		{Text: "How did you hear about us?", Type: "select", Options: []string{"Search engine", "Word of mouth", "Social media", "Other"}},
		{Text: "Anything else we should know?", Type: "textarea"},
	}
	for _, seed := range looseSeeds {
		question, err := s.store.UpsertQuestion(ctx, seed)
		if err != nil {
			return fmt.Errorf("seed question %q: %w", seed.Text, err)
		}
		if err := s.store.UpsertMembership(ctx, store.Membership{
			QuestionnaireID: questionnaire.ID,
			QuestionID:      question.ID,
		}); err != nil {
			return fmt.Errorf("attach seed question %q: %w", seed.Text, err)
		}
		if s.index != nil {
			s.index.IndexQuestion(question)
		}
	}

	if err := s.store.UpdateQuestionnaireStatus(ctx, questionnaire.ID, store.StatusActive); err != nil {
		return fmt.Errorf("activate bootstrap questionnaire: %w", err)
	}
	return nil
}

// ---- helpers ----

func (s *Service) loadTargetGroup(ctx context.Context, questionnaireID, groupID int64) (store.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Group{}, notFound("Group not found")
		}
		return store.Group{}, fmt.Errorf("load group: %w", err)
	}
	if group.QuestionnaireID != questionnaireID {
		return store.Group{}, validation("Group belongs to another questionnaire", nil)
	}
	if !group.IsActive {
		return store.Group{}, validation("Group is not active", nil)
	}
	return group, nil
}

// afterMutation invalidates the plan cache and records a composition
// snapshot. Both are best-effort: the mutation itself already committed.
func (s *Service) afterMutation(ctx context.Context, editor Editor, questionnaireID int64, message string) {
	if s.plans != nil {
		if err := s.plans.Invalidate(ctx, questionnaireID); err != nil {
			log.Printf("plancache: invalidate %d: %v", questionnaireID, err)
		}
	}
	if s.snapshots == nil {
		return
	}
	rows, err := s.store.ListMembership(ctx, questionnaireID)
	if err != nil {
		log.Printf("snapshot: list membership %d: %v", questionnaireID, err)
		return
	}
	if err := s.snapshots.Record(questionnaireID, compose.Resolve(rows), editor.Name, message); err != nil {
		log.Printf("snapshot: record %d: %v", questionnaireID, err)
	}
}

func (s *Service) invalidatePlansForQuestion(ctx context.Context, questionID int64) {
	if s.plans == nil {
		return
	}
	questionnaireIDs, err := s.store.ListQuestionnairesForQuestion(ctx, questionID)
	if err != nil {
		log.Printf("plancache: list questionnaires for question %d: %v", questionID, err)
		return
	}
	for _, questionnaireID := range questionnaireIDs {
		if err := s.plans.Invalidate(ctx, questionnaireID); err != nil {
			log.Printf("plancache: invalidate %d: %v", questionnaireID, err)
		}
	}
}

func validateQuestion(question store.Question) error {
	if question.Text == "" {
		return validation("Question text must not be empty", nil)
	}
	questionType := canonicalQuestionType(question.Type)
	if _, ok := allowedQuestionTypes[questionType]; !ok {
		return validation("Unsupported question type", map[string]any{"type": question.Type})
	}
	if _, choice := choiceQuestionTypes[questionType]; choice && len(question.Options) == 0 {
		return validation("Choice questions need at least one option", nil)
	}
	return nil
}

// normalizeQuestion rewrites legacy type aliases to their canonical form and
// clears options on non-choice types; they carry none.
func normalizeQuestion(question store.Question) store.Question {
	question.Type = canonicalQuestionType(question.Type)
	if _, choice := choiceQuestionTypes[question.Type]; !choice {
		question.Options = nil
	}
	return question
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
