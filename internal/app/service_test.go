package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"stepform/api/internal/authpw"
	"stepform/api/internal/compose"
	"stepform/api/internal/config"
	"stepform/api/internal/snapshot"
	"stepform/api/internal/store"
)

type fakeStore struct {
	getEditorByEmailFn          func(context.Context, string) (store.Editor, error)
	getQuestionnaireFn          func(context.Context, int64) (store.Questionnaire, error)
	getActiveQuestionnaireFn    func(context.Context, int64) (store.Questionnaire, error)
	listQuestionnairesFn        func(context.Context, int64) ([]store.Questionnaire, error)
	updateQuestionnaireStatusFn func(context.Context, int64, string) error
	getGroupFn                  func(context.Context, int64) (store.Group, error)
	updateGroupMetadataFn       func(context.Context, int64, string, string) error
	getQuestionFn               func(context.Context, int64) (store.Question, error)
	upsertQuestionFn            func(context.Context, store.Question) (store.Question, error)
	listQuestionnairesForQnFn   func(context.Context, int64) ([]int64, error)
	listMembershipFn            func(context.Context, int64) ([]store.MembershipRow, error)
	getMembershipFn             func(context.Context, int64, int64) (store.Membership, error)
	upsertMembershipFn          func(context.Context, store.Membership) error
	moveMembershipFn            func(context.Context, int64, int64, *int64, int) error
	createGroupWithQuestionsFn  func(context.Context, int64, string, []int64) (store.Group, error)
	deleteGroupDetachMembersFn  func(context.Context, int64, int64) error
	deleteQuestionMembershipFn  func(context.Context, int64, int64) (bool, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) EnsureEditor(context.Context, string, string, string) (store.Editor, error) {
	return store.Editor{}, nil
}
func (f *fakeStore) GetEditorByEmail(ctx context.Context, email string) (store.Editor, error) {
	if f.getEditorByEmailFn != nil {
		return f.getEditorByEmailFn(ctx, email)
	}
	return store.Editor{}, sql.ErrNoRows
}
func (f *fakeStore) CreateQuestionnaire(ctx context.Context, item store.Questionnaire) (store.Questionnaire, error) {
	item.ID = 1
	return item, nil
}
func (f *fakeStore) GetQuestionnaire(ctx context.Context, questionnaireID int64) (store.Questionnaire, error) {
	if f.getQuestionnaireFn != nil {
		return f.getQuestionnaireFn(ctx, questionnaireID)
	}
	return store.Questionnaire{ID: questionnaireID, ServiceID: 1, Title: "Intake", Status: store.StatusDraft}, nil
}
func (f *fakeStore) GetActiveQuestionnaireForService(ctx context.Context, serviceID int64) (store.Questionnaire, error) {
	if f.getActiveQuestionnaireFn != nil {
		return f.getActiveQuestionnaireFn(ctx, serviceID)
	}
	return store.Questionnaire{}, sql.ErrNoRows
}
func (f *fakeStore) ListQuestionnairesByService(ctx context.Context, serviceID int64) ([]store.Questionnaire, error) {
	if f.listQuestionnairesFn != nil {
		return f.listQuestionnairesFn(ctx, serviceID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateQuestionnaireStatus(ctx context.Context, questionnaireID int64, status string) error {
	if f.updateQuestionnaireStatusFn != nil {
		return f.updateQuestionnaireStatusFn(ctx, questionnaireID, status)
	}
	return nil
}
func (f *fakeStore) GetGroup(ctx context.Context, groupID int64) (store.Group, error) {
	if f.getGroupFn != nil {
		return f.getGroupFn(ctx, groupID)
	}
	return store.Group{}, sql.ErrNoRows
}
func (f *fakeStore) ListGroups(context.Context, int64) ([]store.Group, error) { return nil, nil }
func (f *fakeStore) UpsertGroup(ctx context.Context, item store.Group) (store.Group, error) {
	return item, nil
}
func (f *fakeStore) UpdateGroupMetadata(ctx context.Context, groupID int64, name, description string) error {
	if f.updateGroupMetadataFn != nil {
		return f.updateGroupMetadataFn(ctx, groupID, name, description)
	}
	return nil
}
func (f *fakeStore) GetQuestion(ctx context.Context, questionID int64) (store.Question, error) {
	if f.getQuestionFn != nil {
		return f.getQuestionFn(ctx, questionID)
	}
	return store.Question{}, sql.ErrNoRows
}
func (f *fakeStore) ListQuestions(context.Context, int) ([]store.Question, error) { return nil, nil }
func (f *fakeStore) UpsertQuestion(ctx context.Context, item store.Question) (store.Question, error) {
	if f.upsertQuestionFn != nil {
		return f.upsertQuestionFn(ctx, item)
	}
	if item.ID == 0 {
		item.ID = 1
	}
	return item, nil
}
func (f *fakeStore) ListQuestionnairesForQuestion(ctx context.Context, questionID int64) ([]int64, error) {
	if f.listQuestionnairesForQnFn != nil {
		return f.listQuestionnairesForQnFn(ctx, questionID)
	}
	return nil, nil
}
func (f *fakeStore) ListMembership(ctx context.Context, questionnaireID int64) ([]store.MembershipRow, error) {
	if f.listMembershipFn != nil {
		return f.listMembershipFn(ctx, questionnaireID)
	}
	return nil, nil
}
func (f *fakeStore) GetMembership(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
	if f.getMembershipFn != nil {
		return f.getMembershipFn(ctx, questionnaireID, questionID)
	}
	return store.Membership{}, sql.ErrNoRows
}
func (f *fakeStore) UpsertMembership(ctx context.Context, item store.Membership) error {
	if f.upsertMembershipFn != nil {
		return f.upsertMembershipFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) MoveMembership(ctx context.Context, questionnaireID, questionID int64, targetGroupID *int64, targetIndex int) error {
	if f.moveMembershipFn != nil {
		return f.moveMembershipFn(ctx, questionnaireID, questionID, targetGroupID, targetIndex)
	}
	return nil
}
func (f *fakeStore) CreateGroupWithQuestions(ctx context.Context, questionnaireID int64, name string, questionIDs []int64) (store.Group, error) {
	if f.createGroupWithQuestionsFn != nil {
		return f.createGroupWithQuestionsFn(ctx, questionnaireID, name, questionIDs)
	}
	return store.Group{ID: 99, QuestionnaireID: questionnaireID, Name: name, IsActive: true}, nil
}
func (f *fakeStore) DeleteGroupDetachMembers(ctx context.Context, questionnaireID, groupID int64) error {
	if f.deleteGroupDetachMembersFn != nil {
		return f.deleteGroupDetachMembersFn(ctx, questionnaireID, groupID)
	}
	return nil
}
func (f *fakeStore) DeleteQuestionMembership(ctx context.Context, questionnaireID, questionID int64) (bool, error) {
	if f.deleteQuestionMembershipFn != nil {
		return f.deleteQuestionMembershipFn(ctx, questionnaireID, questionID)
	}
	return false, nil
}

type fakePlans struct {
	plans       map[int64]compose.Plan
	sets        int
	invalidated []int64
}

func newFakePlans() *fakePlans {
	return &fakePlans{plans: map[int64]compose.Plan{}}
}

func (f *fakePlans) Get(ctx context.Context, questionnaireID int64) (compose.Plan, bool, error) {
	plan, found := f.plans[questionnaireID]
	return plan, found, nil
}
func (f *fakePlans) Set(ctx context.Context, plan compose.Plan) error {
	f.sets++
	f.plans[plan.QuestionnaireID] = plan
	return nil
}
func (f *fakePlans) Invalidate(ctx context.Context, questionnaireID int64) error {
	f.invalidated = append(f.invalidated, questionnaireID)
	delete(f.plans, questionnaireID)
	return nil
}

type fakeSnapshots struct {
	messages []string
}

func (f *fakeSnapshots) Record(questionnaireID int64, composition compose.Composition, author, message string) error {
	f.messages = append(f.messages, message)
	return nil
}
func (f *fakeSnapshots) History(questionnaireID int64, limit int) ([]snapshot.Revision, error) {
	return []snapshot.Revision{}, nil
}
func (f *fakeSnapshots) GetRevision(questionnaireID int64, hash string) (compose.Composition, error) {
	return compose.Composition{}, errors.New("unknown revision")
}

type fakeIndex struct {
	indexed []int64
	removed []int64
}

func (f *fakeIndex) IndexQuestion(question store.Question) {
	f.indexed = append(f.indexed, question.ID)
}
func (f *fakeIndex) RemoveQuestion(questionID int64) {
	f.removed = append(f.removed, questionID)
}

func newTestService(fs *fakeStore) (*Service, *fakePlans, *fakeSnapshots, *fakeIndex) {
	plans := newFakePlans()
	snapshots := &fakeSnapshots{}
	index := &fakeIndex{}
	service := &Service{
		cfg:       config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour},
		store:     fs,
		plans:     plans,
		snapshots: snapshots,
		index:     index,
	}
	return service, plans, snapshots, index
}

func wantDomainError(t *testing.T, err error, code string, status int) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, domainErr.Code)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d", status, domainErr.Status)
	}
}

func intPtr(v int64) *int64 { return &v }

var testEditor = Editor{ID: 7, Name: "Avery", Role: "owner"}

func TestReorderRejectsFixedQuestion(t *testing.T) {
	moved := false
	fs := &fakeStore{
		getMembershipFn: func(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
			return store.Membership{QuestionnaireID: questionnaireID, QuestionID: questionID}, nil
		},
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Name?", Type: "text", IsFixed: true}, nil
		},
		moveMembershipFn: func(context.Context, int64, int64, *int64, int) error {
			moved = true
			return nil
		},
	}
	service, plans, snapshots, _ := newTestService(fs)

	err := service.ReorderMembership(context.Background(), testEditor, 1, 10, nil, 0)
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
	if moved {
		t.Fatal("fixed question must not reach the storage layer")
	}
	if len(plans.invalidated) != 0 || len(snapshots.messages) != 0 {
		t.Fatal("rejected mutation must not invalidate caches or record snapshots")
	}
}

func TestReorderRejectsFixedDestinationGroup(t *testing.T) {
	fs := &fakeStore{
		getMembershipFn: func(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
			return store.Membership{QuestionnaireID: questionnaireID, QuestionID: questionID}, nil
		},
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Budget?", Type: "number"}, nil
		},
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 1, Name: "Contact", IsFixed: true, IsActive: true}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	err := service.ReorderMembership(context.Background(), testEditor, 1, 10, intPtr(3), 0)
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
}

func TestReorderRejectsNegativeIndex(t *testing.T) {
	service, _, _, _ := newTestService(&fakeStore{})
	err := service.ReorderMembership(context.Background(), testEditor, 1, 10, nil, -1)
	wantDomainError(t, err, "VALIDATION_ERROR", 400)
}

func TestReorderInvalidatesAndSnapshots(t *testing.T) {
	fs := &fakeStore{
		getMembershipFn: func(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
			return store.Membership{QuestionnaireID: questionnaireID, QuestionID: questionID, GroupID: intPtr(3)}, nil
		},
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Budget?", Type: "number"}, nil
		},
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 1, Name: "Details", IsActive: true}, nil
		},
	}
	service, plans, snapshots, _ := newTestService(fs)

	if err := service.ReorderMembership(context.Background(), testEditor, 1, 10, intPtr(3), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plans.invalidated) != 1 || plans.invalidated[0] != 1 {
		t.Fatalf("expected plan 1 invalidated, got %v", plans.invalidated)
	}
	if len(snapshots.messages) != 1 {
		t.Fatalf("expected one snapshot, got %v", snapshots.messages)
	}
}

func TestCreateGroupRequiresTwoDistinctQuestions(t *testing.T) {
	service, _, _, _ := newTestService(&fakeStore{})

	_, err := service.CreateGroupFromQuestions(context.Background(), testEditor, 1, []int64{10, 10}, "Details")
	wantDomainError(t, err, "VALIDATION_ERROR", 400)

	_, err = service.CreateGroupFromQuestions(context.Background(), testEditor, 1, []int64{10, 11}, "   ")
	wantDomainError(t, err, "VALIDATION_ERROR", 400)
}

func TestCreateGroupRejectsFixedMember(t *testing.T) {
	created := false
	fs := &fakeStore{
		getMembershipFn: func(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
			return store.Membership{QuestionnaireID: questionnaireID, QuestionID: questionID}, nil
		},
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Email?", Type: "email", IsFixed: questionID == 11}, nil
		},
		createGroupWithQuestionsFn: func(context.Context, int64, string, []int64) (store.Group, error) {
			created = true
			return store.Group{}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	_, err := service.CreateGroupFromQuestions(context.Background(), testEditor, 1, []int64{10, 11}, "Details")
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
	if created {
		t.Fatal("fixed member must not reach the storage layer")
	}
}

func TestCreateGroupFromQuestions(t *testing.T) {
	var gotIDs []int64
	fs := &fakeStore{
		getMembershipFn: func(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
			return store.Membership{QuestionnaireID: questionnaireID, QuestionID: questionID}, nil
		},
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Q", Type: "text"}, nil
		},
		createGroupWithQuestionsFn: func(ctx context.Context, questionnaireID int64, name string, questionIDs []int64) (store.Group, error) {
			gotIDs = questionIDs
			return store.Group{ID: 5, QuestionnaireID: questionnaireID, Name: name, IsActive: true}, nil
		},
	}
	service, plans, snapshots, _ := newTestService(fs)

	group, err := service.CreateGroupFromQuestions(context.Background(), testEditor, 1, []int64{10, 11, 10}, " Details ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.Name != "Details" {
		t.Fatalf("expected trimmed name, got %q", group.Name)
	}
	if len(gotIDs) != 2 || gotIDs[0] != 10 || gotIDs[1] != 11 {
		t.Fatalf("expected deduped ids [10 11], got %v", gotIDs)
	}
	if len(plans.invalidated) != 1 || len(snapshots.messages) != 1 {
		t.Fatal("expected cache invalidation and snapshot after group creation")
	}
}

func TestDeleteGroupRejectsFixed(t *testing.T) {
	deleted := false
	fs := &fakeStore{
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 1, Name: "Contact", IsFixed: true, IsActive: true}, nil
		},
		deleteGroupDetachMembersFn: func(context.Context, int64, int64) error {
			deleted = true
			return nil
		},
	}
	service, _, _, _ := newTestService(fs)

	err := service.DeleteGroup(context.Background(), testEditor, 3)
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
	if deleted {
		t.Fatal("fixed group must not reach the storage layer")
	}
}

func TestDeleteGroupDetachesMembers(t *testing.T) {
	var gotQuestionnaire, gotGroup int64
	fs := &fakeStore{
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 4, Name: "Details", IsActive: true}, nil
		},
		deleteGroupDetachMembersFn: func(ctx context.Context, questionnaireID, groupID int64) error {
			gotQuestionnaire = questionnaireID
			gotGroup = groupID
			return nil
		},
	}
	service, plans, _, _ := newTestService(fs)

	if err := service.DeleteGroup(context.Background(), testEditor, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuestionnaire != 4 || gotGroup != 3 {
		t.Fatalf("expected delete of group 3 in questionnaire 4, got %d/%d", gotGroup, gotQuestionnaire)
	}
	if len(plans.invalidated) != 1 || plans.invalidated[0] != 4 {
		t.Fatalf("expected plan 4 invalidated, got %v", plans.invalidated)
	}
}

func TestDeleteQuestionRemovesOrphanFromIndex(t *testing.T) {
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Budget?", Type: "number"}, nil
		},
		deleteQuestionMembershipFn: func(context.Context, int64, int64) (bool, error) {
			return true, nil
		},
	}
	service, _, _, index := newTestService(fs)

	if err := service.DeleteQuestion(context.Background(), testEditor, 1, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(index.removed) != 1 || index.removed[0] != 10 {
		t.Fatalf("expected question 10 removed from index, got %v", index.removed)
	}
}

func TestDeleteQuestionKeepsSharedDefinition(t *testing.T) {
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Budget?", Type: "number"}, nil
		},
		deleteQuestionMembershipFn: func(context.Context, int64, int64) (bool, error) {
			return false, nil
		},
	}
	service, _, _, index := newTestService(fs)

	if err := service.DeleteQuestion(context.Background(), testEditor, 1, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(index.removed) != 0 {
		t.Fatalf("shared question must stay indexed, got removals %v", index.removed)
	}
}

func TestDeleteQuestionRejectsFixed(t *testing.T) {
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Name?", Type: "text", IsFixed: true}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	err := service.DeleteQuestion(context.Background(), testEditor, 1, 10)
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{store.StatusDraft, store.StatusActive, true},
		{store.StatusDraft, store.StatusPublished, true},
		{store.StatusDraft, store.StatusArchived, false},
		{store.StatusActive, store.StatusArchived, true},
		{store.StatusActive, store.StatusDraft, false},
		{store.StatusPublished, store.StatusArchived, true},
		{store.StatusArchived, store.StatusActive, false},
		{store.StatusArchived, store.StatusDraft, false},
	}
	for _, tc := range cases {
		fs := &fakeStore{
			getQuestionnaireFn: func(ctx context.Context, questionnaireID int64) (store.Questionnaire, error) {
				return store.Questionnaire{ID: questionnaireID, ServiceID: 1, Title: "Intake", Status: tc.from}, nil
			},
		}
		service, _, _, _ := newTestService(fs)
		err := service.ChangeQuestionnaireStatus(context.Background(), testEditor, 1, tc.to)
		if tc.allowed && err != nil {
			t.Fatalf("%s -> %s should be allowed, got %v", tc.from, tc.to, err)
		}
		if !tc.allowed {
			wantDomainError(t, err, "VALIDATION_ERROR", 400)
		}
	}
}

func TestCreateQuestionValidation(t *testing.T) {
	service, _, _, _ := newTestService(&fakeStore{})

	_, err := service.CreateQuestion(context.Background(), testEditor, QuestionInput{Text: "  ", Type: "text"})
	wantDomainError(t, err, "VALIDATION_ERROR", 400)

	_, err = service.CreateQuestion(context.Background(), testEditor, QuestionInput{Text: "Color?", Type: "dropdown"})
	wantDomainError(t, err, "VALIDATION_ERROR", 400)

	_, err = service.CreateQuestion(context.Background(), testEditor, QuestionInput{Text: "Color?", Type: "select"})
	wantDomainError(t, err, "VALIDATION_ERROR", 400)
}

func TestCreateQuestionIndexesAndNormalizes(t *testing.T) {
	var stored store.Question
	fs := &fakeStore{
		upsertQuestionFn: func(ctx context.Context, item store.Question) (store.Question, error) {
			item.ID = 42
			stored = item
			return item, nil
		},
	}
	service, _, _, index := newTestService(fs)

	question, err := service.CreateQuestion(context.Background(), testEditor, QuestionInput{
		Text:    "  Anything else?  ",
		Type:    "textarea",
		Options: []string{"should", "be", "dropped"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Text != "Anything else?" {
		t.Fatalf("expected trimmed text, got %q", stored.Text)
	}
	if len(stored.Options) != 0 {
		t.Fatalf("non-choice question must not carry options, got %v", stored.Options)
	}
	if len(index.indexed) != 1 || index.indexed[0] != question.ID {
		t.Fatalf("expected question %d indexed, got %v", question.ID, index.indexed)
	}
}

func TestCreateQuestionAcceptsPhoneAlias(t *testing.T) {
	var stored store.Question
	fs := &fakeStore{
		upsertQuestionFn: func(ctx context.Context, item store.Question) (store.Question, error) {
			item.ID = 42
			stored = item
			return item, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	if _, err := service.CreateQuestion(context.Background(), testEditor, QuestionInput{
		Text: "Best number to reach you?",
		Type: "phone",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Type != "tel" {
		t.Fatalf("expected legacy phone type stored as tel, got %q", stored.Type)
	}
}

func TestEditQuestionRejectsFixed(t *testing.T) {
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Name?", Type: "text", IsFixed: true}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	text := "Full name?"
	_, err := service.EditQuestionMetadata(context.Background(), testEditor, 10, QuestionEdit{Text: &text})
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
}

func TestEditQuestionInvalidatesEveryQuestionnaire(t *testing.T) {
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Color?", Type: "select", Options: []string{"Red", "Blue"}}, nil
		},
		listQuestionnairesForQnFn: func(context.Context, int64) ([]int64, error) {
			return []int64{1, 2, 5}, nil
		},
	}
	service, plans, _, _ := newTestService(fs)

	newType := "text"
	updated, err := service.EditQuestionMetadata(context.Background(), testEditor, 10, QuestionEdit{Type: &newType})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Options) != 0 {
		t.Fatalf("switching to a non-choice type must drop options, got %v", updated.Options)
	}
	if len(plans.invalidated) != 3 {
		t.Fatalf("expected three plan invalidations, got %v", plans.invalidated)
	}
}

func TestAttachQuestionRejectsFixedGroup(t *testing.T) {
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Budget?", Type: "number"}, nil
		},
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 1, Name: "Contact", IsFixed: true, IsActive: true}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	err := service.AttachQuestion(context.Background(), testEditor, 1, 10, intPtr(3))
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
}

func TestAttachQuestionRejectsForeignGroup(t *testing.T) {
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Budget?", Type: "number"}, nil
		},
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 99, Name: "Other", IsActive: true}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	err := service.AttachQuestion(context.Background(), testEditor, 1, 10, intPtr(3))
	wantDomainError(t, err, "VALIDATION_ERROR", 400)
}

func TestAttachRejectsFixedQuestionReattach(t *testing.T) {
	written := false
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Name?", Type: "text", IsFixed: true}, nil
		},
		getMembershipFn: func(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
			return store.Membership{QuestionnaireID: questionnaireID, QuestionID: questionID, GroupID: intPtr(3)}, nil
		},
		upsertMembershipFn: func(context.Context, store.Membership) error {
			written = true
			return nil
		},
	}
	service, plans, snapshots, _ := newTestService(fs)

	err := service.AttachQuestion(context.Background(), testEditor, 1, 10, nil)
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
	if written {
		t.Fatal("fixed question membership must not be rewritten")
	}
	if len(plans.invalidated) != 0 || len(snapshots.messages) != 0 {
		t.Fatal("rejected mutation must not invalidate caches or record snapshots")
	}
}

func TestAttachRejectsFixedSourceGroupReattach(t *testing.T) {
	written := false
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Budget?", Type: "number"}, nil
		},
		getMembershipFn: func(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
			return store.Membership{QuestionnaireID: questionnaireID, QuestionID: questionID, GroupID: intPtr(3)}, nil
		},
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 1, Name: "Contact", IsFixed: true, IsActive: true}, nil
		},
		upsertMembershipFn: func(context.Context, store.Membership) error {
			written = true
			return nil
		},
	}
	service, _, _, _ := newTestService(fs)

	err := service.AttachQuestion(context.Background(), testEditor, 1, 10, nil)
	wantDomainError(t, err, "FIXED_ELEMENT", 409)
	if written {
		t.Fatal("member of a fixed group must not be rewritten")
	}
}

func TestAttachMovesExistingMembership(t *testing.T) {
	var got store.Membership
	fs := &fakeStore{
		getQuestionFn: func(ctx context.Context, questionID int64) (store.Question, error) {
			return store.Question{ID: questionID, Text: "Budget?", Type: "number"}, nil
		},
		getMembershipFn: func(ctx context.Context, questionnaireID, questionID int64) (store.Membership, error) {
			return store.Membership{QuestionnaireID: questionnaireID, QuestionID: questionID}, nil
		},
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 1, Name: "Details", IsActive: true}, nil
		},
		upsertMembershipFn: func(ctx context.Context, item store.Membership) error {
			got = item
			return nil
		},
	}
	service, _, _, _ := newTestService(fs)

	if err := service.AttachQuestion(context.Background(), testEditor, 1, 10, intPtr(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.GroupID == nil || *got.GroupID != 3 {
		t.Fatalf("expected membership moved to group 3, got %+v", got)
	}
}

func TestEditGroupMetadataKeepsUnsetFields(t *testing.T) {
	var gotName, gotDescription string
	fs := &fakeStore{
		getGroupFn: func(ctx context.Context, groupID int64) (store.Group, error) {
			return store.Group{ID: groupID, QuestionnaireID: 1, Name: "Details", Description: "About the job", IsActive: true}, nil
		},
		updateGroupMetadataFn: func(ctx context.Context, groupID int64, name, description string) error {
			gotName = name
			gotDescription = description
			return nil
		},
	}
	service, _, _, _ := newTestService(fs)

	name := "Project details"
	if _, err := service.EditGroupMetadata(context.Background(), testEditor, 3, &name, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "Project details" || gotDescription != "About the job" {
		t.Fatalf("expected name updated and description kept, got %q / %q", gotName, gotDescription)
	}
}

func TestResolvePlanUsesCache(t *testing.T) {
	listCalls := 0
	fs := &fakeStore{
		listMembershipFn: func(ctx context.Context, questionnaireID int64) ([]store.MembershipRow, error) {
			listCalls++
			return []store.MembershipRow{
				{
					Membership: store.Membership{QuestionnaireID: questionnaireID, QuestionID: 10},
					Question:   store.Question{ID: 10, Text: "Name?", Type: "text"},
				},
			}, nil
		},
	}
	service, plans, _, _ := newTestService(fs)

	first, err := service.ResolvePlan(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.ResolvePlan(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listCalls != 1 {
		t.Fatalf("expected a single storage read, got %d", listCalls)
	}
	if plans.sets != 1 {
		t.Fatalf("expected a single cache write, got %d", plans.sets)
	}
	if first.TotalSteps != second.TotalSteps || first.TotalSteps != 2 {
		t.Fatalf("expected identical two-step plans, got %d and %d", first.TotalSteps, second.TotalSteps)
	}
}

func TestResolvePlanUnknownQuestionnaire(t *testing.T) {
	fs := &fakeStore{
		getQuestionnaireFn: func(context.Context, int64) (store.Questionnaire, error) {
			return store.Questionnaire{}, sql.ErrNoRows
		},
	}
	service, _, _, _ := newTestService(fs)

	_, err := service.ResolvePlan(context.Background(), 404)
	wantDomainError(t, err, "NOT_FOUND", 404)
}

func TestResolveForService(t *testing.T) {
	fs := &fakeStore{
		getActiveQuestionnaireFn: func(ctx context.Context, serviceID int64) (store.Questionnaire, error) {
			return store.Questionnaire{ID: 2, ServiceID: serviceID, Title: "Intake", Status: store.StatusActive}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	questionnaire, plan, err := service.ResolveForService(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if questionnaire.ID != 2 || plan.QuestionnaireID != 2 {
		t.Fatalf("expected questionnaire 2 resolved, got %d / %d", questionnaire.ID, plan.QuestionnaireID)
	}
}

func TestResolveForServiceWithoutActive(t *testing.T) {
	service, _, _, _ := newTestService(&fakeStore{})
	_, _, err := service.ResolveForService(context.Background(), 1)
	wantDomainError(t, err, "NOT_FOUND", 404)
}

func TestCreateQuestionnaireValidation(t *testing.T) {
	service, _, _, _ := newTestService(&fakeStore{})

	_, err := service.CreateQuestionnaire(context.Background(), testEditor, 1, "  ", "")
	wantDomainError(t, err, "VALIDATION_ERROR", 400)

	_, err = service.CreateQuestionnaire(context.Background(), testEditor, 0, "Intake", "")
	wantDomainError(t, err, "VALIDATION_ERROR", 400)

	questionnaire, err := service.CreateQuestionnaire(context.Background(), testEditor, 1, " Intake ", "desc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if questionnaire.Title != "Intake" || questionnaire.Status != store.StatusDraft {
		t.Fatalf("expected trimmed draft questionnaire, got %+v", questionnaire)
	}
}

func TestSignInIssuesTokenWithCSRF(t *testing.T) {
	passwordHash, err := authpw.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	fs := &fakeStore{
		getEditorByEmailFn: func(ctx context.Context, email string) (store.Editor, error) {
			return store.Editor{ID: 7, Email: email, DisplayName: "Avery", Role: "owner", PasswordHash: passwordHash}, nil
		},
	}
	service, _, _, _ := newTestService(fs)
	service.authpw = authpw.NewService(fs)

	result, err := service.SignIn(context.Background(), "avery@example.com", "hunter2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Token == "" || result.CSRF == "" {
		t.Fatal("expected token and csrf to be issued")
	}
	claims, err := service.EditorFromToken(result.Token)
	if err != nil {
		t.Fatalf("issued token failed to parse: %v", err)
	}
	if claims.EditorID != 7 || claims.CSRF != result.CSRF {
		t.Fatalf("claims do not match login result: %+v", claims)
	}
}
