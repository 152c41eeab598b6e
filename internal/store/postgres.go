package store

import (
	"context"
	"database/sql"
	"fmt"

	"stepform/api/internal/options"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- editors ----

func (s *PostgresStore) GetEditorByEmail(ctx context.Context, email string) (Editor, error) {
	var editor Editor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at
		FROM editors
		WHERE email = LOWER($1)
	`, email).Scan(&editor.ID, &editor.Email, &editor.DisplayName, &editor.PasswordHash, &editor.Role, &editor.CreatedAt)
	if err != nil {
		return Editor{}, err
	}
	return editor, nil
}

func (s *PostgresStore) EnsureEditor(ctx context.Context, email, displayName, passwordHash string) (Editor, error) {
	var editor Editor
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO editors (email, display_name, password_hash)
		VALUES (LOWER($1), $2, $3)
		ON CONFLICT (email) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, email, display_name, password_hash, role, created_at
	`, email, displayName, passwordHash).Scan(&editor.ID, &editor.Email, &editor.DisplayName, &editor.PasswordHash, &editor.Role, &editor.CreatedAt)
	if err != nil {
		return Editor{}, fmt.Errorf("ensure editor: %w", err)
	}
	return editor, nil
}

// ---- questionnaires ----

func (s *PostgresStore) CreateQuestionnaire(ctx context.Context, item Questionnaire) (Questionnaire, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO questionnaires (service_id, title, description, status, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, item.ServiceID, item.Title, item.Description, item.Status, item.CreatedBy).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Questionnaire{}, fmt.Errorf("create questionnaire: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetQuestionnaire(ctx context.Context, questionnaireID int64) (Questionnaire, error) {
	var item Questionnaire
	err := s.db.QueryRowContext(ctx, `
		SELECT id, service_id, title, description, status, created_by, created_at, updated_at
		FROM questionnaires
		WHERE id=$1
	`, questionnaireID).Scan(&item.ID, &item.ServiceID, &item.Title, &item.Description, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Questionnaire{}, err
	}
	return item, nil
}

// GetActiveQuestionnaireForService returns the questionnaire the public
// presentation uses. One active questionnaire per service is assumed; when
// several qualify the most recently created wins.
func (s *PostgresStore) GetActiveQuestionnaireForService(ctx context.Context, serviceID int64) (Questionnaire, error) {
	var item Questionnaire
	err := s.db.QueryRowContext(ctx, `
		SELECT id, service_id, title, description, status, created_by, created_at, updated_at
		FROM questionnaires
		WHERE service_id=$1 AND status IN ('active', 'published')
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, serviceID).Scan(&item.ID, &item.ServiceID, &item.Title, &item.Description, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Questionnaire{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListQuestionnairesByService(ctx context.Context, serviceID int64) ([]Questionnaire, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, title, description, status, created_by, created_at, updated_at
		FROM questionnaires
		WHERE service_id=$1
		ORDER BY created_at DESC, id DESC
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list questionnaires: %w", err)
	}
	defer rows.Close()

	items := make([]Questionnaire, 0)
	for rows.Next() {
		var item Questionnaire
		if err := rows.Scan(&item.ID, &item.ServiceID, &item.Title, &item.Description, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan questionnaire: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questionnaires: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateQuestionnaireStatus(ctx context.Context, questionnaireID int64, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE questionnaires SET status=$2, updated_at=NOW() WHERE id=$1
	`, questionnaireID, status)
	if err != nil {
		return fmt.Errorf("update questionnaire status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- groups ----

func (s *PostgresStore) GetGroup(ctx context.Context, groupID int64) (Group, error) {
	var item Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, questionnaire_id, name, description, sort_order, is_fixed, is_active, created_at, updated_at
		FROM questionnaire_groups
		WHERE id=$1
	`, groupID).Scan(&item.ID, &item.QuestionnaireID, &item.Name, &item.Description, &item.SortOrder, &item.IsFixed, &item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context, questionnaireID int64) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, questionnaire_id, name, description, sort_order, is_fixed, is_active, created_at, updated_at
		FROM questionnaire_groups
		WHERE questionnaire_id=$1
		ORDER BY sort_order, id
	`, questionnaireID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	items := make([]Group, 0)
	for rows.Next() {
		var item Group
		if err := rows.Scan(&item.ID, &item.QuestionnaireID, &item.Name, &item.Description, &item.SortOrder, &item.IsFixed, &item.IsActive, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertGroup(ctx context.Context, item Group) (Group, error) {
	if item.ID == 0 {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO questionnaire_groups (questionnaire_id, name, description, sort_order, is_fixed, is_active)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`, item.QuestionnaireID, item.Name, item.Description, item.SortOrder, item.IsFixed, item.IsActive).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return Group{}, fmt.Errorf("insert group: %w", err)
		}
		return item, nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE questionnaire_groups
		SET name=$2, description=$3, sort_order=$4, is_fixed=$5, is_active=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.Description, item.SortOrder, item.IsFixed, item.IsActive)
	if err != nil {
		return Group{}, fmt.Errorf("update group: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateGroupMetadata(ctx context.Context, groupID int64, name, description string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE questionnaire_groups SET name=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, groupID, name, description)
	if err != nil {
		return fmt.Errorf("update group metadata: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- questions ----

const questionColumns = `id, question_text, question_type, options, placeholder_text, help_text, is_required, is_fixed, created_at, updated_at`

func scanQuestion(row interface{ Scan(...any) error }) (Question, error) {
	var item Question
	var rawOptions string
	err := row.Scan(&item.ID, &item.Text, &item.Type, &rawOptions, &item.Placeholder, &item.HelpText, &item.IsRequired, &item.IsFixed, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Question{}, err
	}
	item.Options = options.DecodeString(rawOptions)
	return item, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, questionID int64) (Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=$1`, questionID)
	return scanQuestion(row)
}

func (s *PostgresStore) ListQuestions(ctx context.Context, limit int) ([]Question, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+` FROM questions ORDER BY id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

// UpsertQuestion inserts when ID is zero, otherwise updates the full row.
// Options are stored in the codec's canonical form.
func (s *PostgresStore) UpsertQuestion(ctx context.Context, item Question) (Question, error) {
	encoded := options.Encode(item.Options)
	if item.ID == 0 {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO questions (question_text, question_type, options, placeholder_text, help_text, is_required, is_fixed)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`, item.Text, item.Type, encoded, item.Placeholder, item.HelpText, item.IsRequired, item.IsFixed).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return Question{}, fmt.Errorf("insert question: %w", err)
		}
		return item, nil
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE questions
		SET question_text=$2, question_type=$3, options=$4, placeholder_text=$5, help_text=$6, is_required=$7, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Text, item.Type, encoded, item.Placeholder, item.HelpText, item.IsRequired)
	if err != nil {
		return Question{}, fmt.Errorf("update question: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Question{}, sql.ErrNoRows
	}
	return item, nil
}

// ListQuestionnairesForQuestion returns the ids of every questionnaire the
// question currently appears in.
func (s *PostgresStore) ListQuestionnairesForQuestion(ctx context.Context, questionID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT questionnaire_id FROM questionnaire_questions WHERE question_id=$1 ORDER BY questionnaire_id
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list questionnaires for question: %w", err)
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan questionnaire id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---- membership ----

// ListMembership is the canonical storage-order query: group sort order
// first (ungrouped rows last), then membership sort order, then question id.
func (s *PostgresStore) ListMembership(ctx context.Context, questionnaireID int64) ([]MembershipRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.questionnaire_id, m.question_id, m.group_id, m.sort_order,
			q.id, q.question_text, q.question_type, q.options, q.placeholder_text, q.help_text, q.is_required, q.is_fixed, q.created_at, q.updated_at,
			g.id, g.questionnaire_id, g.name, g.description, g.sort_order, g.is_fixed, g.is_active, g.created_at, g.updated_at
		FROM questionnaire_questions m
		JOIN questions q ON q.id = m.question_id
		LEFT JOIN questionnaire_groups g ON g.id = m.group_id AND g.is_active
		WHERE m.questionnaire_id=$1
		ORDER BY g.sort_order ASC NULLS LAST, g.id ASC NULLS LAST, m.sort_order ASC, m.question_id ASC
	`, questionnaireID)
	if err != nil {
		return nil, fmt.Errorf("list membership: %w", err)
	}
	defer rows.Close()

	items := make([]MembershipRow, 0)
	for rows.Next() {
		var item MembershipRow
		var rawOptions string
		var groupID sql.NullInt64
		var g struct {
			id              sql.NullInt64
			questionnaireID sql.NullInt64
			name            sql.NullString
			description     sql.NullString
			sortOrder       sql.NullInt64
			isFixed         sql.NullBool
			isActive        sql.NullBool
			createdAt       sql.NullTime
			updatedAt       sql.NullTime
		}
		if err := rows.Scan(
			&item.QuestionnaireID, &item.QuestionID, &groupID, &item.SortOrder,
			&item.Question.ID, &item.Question.Text, &item.Question.Type, &rawOptions, &item.Question.Placeholder, &item.Question.HelpText, &item.Question.IsRequired, &item.Question.IsFixed, &item.Question.CreatedAt, &item.Question.UpdatedAt,
			&g.id, &g.questionnaireID, &g.name, &g.description, &g.sortOrder, &g.isFixed, &g.isActive, &g.createdAt, &g.updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		item.Question.Options = options.DecodeString(rawOptions)
		if groupID.Valid {
			id := groupID.Int64
			item.GroupID = &id
		}
		if g.id.Valid {
			item.Group = &Group{
				ID:              g.id.Int64,
				QuestionnaireID: g.questionnaireID.Int64,
				Name:            g.name.String,
				Description:     g.description.String,
				SortOrder:       int(g.sortOrder.Int64),
				IsFixed:         g.isFixed.Bool,
				IsActive:        g.isActive.Bool,
				CreatedAt:       g.createdAt.Time,
				UpdatedAt:       g.updatedAt.Time,
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate membership rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, questionnaireID, questionID int64) (Membership, error) {
	var item Membership
	var groupID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT questionnaire_id, question_id, group_id, sort_order
		FROM questionnaire_questions
		WHERE questionnaire_id=$1 AND question_id=$2
	`, questionnaireID, questionID).Scan(&item.QuestionnaireID, &item.QuestionID, &groupID, &item.SortOrder)
	if err != nil {
		return Membership{}, err
	}
	if groupID.Valid {
		id := groupID.Int64
		item.GroupID = &id
	}
	return item, nil
}

// UpsertMembership attaches a question to a questionnaire at the end of its
// scope. Re-attaching an existing membership moves it to the given scope.
func (s *PostgresStore) UpsertMembership(ctx context.Context, item Membership) error {
	return s.inQuestionnaireTx(ctx, item.QuestionnaireID, func(tx *sql.Tx) error {
		var next int
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sort_order), -1) + 1
			FROM questionnaire_questions
			WHERE questionnaire_id=$1 AND group_id IS NOT DISTINCT FROM $2
		`, item.QuestionnaireID, item.GroupID).Scan(&next)
		if err != nil {
			return fmt.Errorf("next sort order: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO questionnaire_questions (questionnaire_id, question_id, group_id, sort_order)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (questionnaire_id, question_id)
			DO UPDATE SET group_id=EXCLUDED.group_id, sort_order=EXCLUDED.sort_order
		`, item.QuestionnaireID, item.QuestionID, item.GroupID, next)
		if err != nil {
			return fmt.Errorf("upsert membership: %w", err)
		}
		return nil
	})
}

// MoveMembership moves a question to targetGroupID (nil for ungrouped) at
// targetIndex and renumbers both touched scopes to contiguous 0..n-1.
func (s *PostgresStore) MoveMembership(ctx context.Context, questionnaireID, questionID int64, targetGroupID *int64, targetIndex int) error {
	return s.inQuestionnaireTx(ctx, questionnaireID, func(tx *sql.Tx) error {
		var sourceGroupID sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT group_id FROM questionnaire_questions
			WHERE questionnaire_id=$1 AND question_id=$2
			FOR UPDATE
		`, questionnaireID, questionID).Scan(&sourceGroupID)
		if err != nil {
			return err
		}

		var targetCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM questionnaire_questions
			WHERE questionnaire_id=$1 AND group_id IS NOT DISTINCT FROM $2 AND question_id <> $3
		`, questionnaireID, targetGroupID, questionID).Scan(&targetCount); err != nil {
			return fmt.Errorf("count target scope: %w", err)
		}
		if targetIndex < 0 {
			targetIndex = 0
		}
		if targetIndex > targetCount {
			targetIndex = targetCount
		}

		// Renumber the target scope as if the moving row were already gone,
		// leaving a hole at the target index, then drop the row in. Ranking
		// without the moving row keeps same-scope moves exact: the index is
		// a position in the post-removal sequence, matching the clamp above.
		if _, err := tx.ExecContext(ctx, `
			WITH others AS (
				SELECT question_id, ROW_NUMBER() OVER (ORDER BY sort_order, question_id) - 1 AS rn
				FROM questionnaire_questions
				WHERE questionnaire_id=$1 AND group_id IS NOT DISTINCT FROM $2 AND question_id <> $3
			)
			UPDATE questionnaire_questions m
			SET sort_order = others.rn + CASE WHEN others.rn >= $4 THEN 1 ELSE 0 END
			FROM others
			WHERE m.questionnaire_id=$1 AND m.question_id = others.question_id
		`, questionnaireID, targetGroupID, questionID, targetIndex); err != nil {
			return fmt.Errorf("shift target scope: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE questionnaire_questions SET group_id=$3, sort_order=$4
			WHERE questionnaire_id=$1 AND question_id=$2
		`, questionnaireID, questionID, targetGroupID, targetIndex); err != nil {
			return fmt.Errorf("move membership: %w", err)
		}

		var sourcePtr *int64
		if sourceGroupID.Valid {
			sourcePtr = &sourceGroupID.Int64
		}
		if !sameScope(sourcePtr, targetGroupID) {
			return resequenceScope(ctx, tx, questionnaireID, sourcePtr)
		}
		return nil
	})
}

// CreateGroupWithQuestions creates a group after all existing groups and
// moves the given questions into it in the order given.
func (s *PostgresStore) CreateGroupWithQuestions(ctx context.Context, questionnaireID int64, name string, questionIDs []int64) (Group, error) {
	var created Group
	err := s.inQuestionnaireTx(ctx, questionnaireID, func(tx *sql.Tx) error {
		var nextSort int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sort_order), -1) + 1 FROM questionnaire_groups WHERE questionnaire_id=$1
		`, questionnaireID).Scan(&nextSort); err != nil {
			return fmt.Errorf("next group sort order: %w", err)
		}

		created = Group{
			QuestionnaireID: questionnaireID,
			Name:            name,
			SortOrder:       nextSort,
			IsActive:        true,
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO questionnaire_groups (questionnaire_id, name, sort_order, is_fixed, is_active)
			VALUES ($1, $2, $3, FALSE, TRUE)
			RETURNING id, created_at, updated_at
		`, questionnaireID, name, nextSort).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}

		previousScopes := make([]*int64, 0, len(questionIDs))
		for index, questionID := range questionIDs {
			var previous sql.NullInt64
			err := tx.QueryRowContext(ctx, `
				SELECT group_id FROM questionnaire_questions
				WHERE questionnaire_id=$1 AND question_id=$2
				FOR UPDATE
			`, questionnaireID, questionID).Scan(&previous)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE questionnaire_questions
				SET group_id=$3, sort_order=$4
				WHERE questionnaire_id=$1 AND question_id=$2
			`, questionnaireID, questionID, created.ID, index); err != nil {
				return fmt.Errorf("assign question %d to group: %w", questionID, err)
			}
			var previousPtr *int64
			if previous.Valid {
				previousPtr = &previous.Int64
			}
			previousScopes = append(previousScopes, previousPtr)
		}

		for _, scope := range dedupeScopes(previousScopes) {
			if err := resequenceScope(ctx, tx, questionnaireID, scope); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Group{}, err
	}
	return created, nil
}

// DeleteGroupDetachMembers detaches every member question to the end of the
// ungrouped bucket, then deletes the group row, in one transaction.
func (s *PostgresStore) DeleteGroupDetachMembers(ctx context.Context, questionnaireID, groupID int64) error {
	return s.inQuestionnaireTx(ctx, questionnaireID, func(tx *sql.Tx) error {
		var base int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sort_order), -1) + 1
			FROM questionnaire_questions
			WHERE questionnaire_id=$1 AND group_id IS NULL
		`, questionnaireID).Scan(&base); err != nil {
			return fmt.Errorf("next ungrouped sort order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			WITH ranked AS (
				SELECT question_id, ROW_NUMBER() OVER (ORDER BY sort_order, question_id) - 1 AS rn
				FROM questionnaire_questions
				WHERE questionnaire_id=$1 AND group_id=$2
			)
			UPDATE questionnaire_questions m
			SET group_id=NULL, sort_order=$3 + ranked.rn
			FROM ranked
			WHERE m.questionnaire_id=$1 AND m.question_id=ranked.question_id
		`, questionnaireID, groupID, base); err != nil {
			return fmt.Errorf("detach group members: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			DELETE FROM questionnaire_groups WHERE id=$1 AND questionnaire_id=$2
		`, groupID, questionnaireID)
		if err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// DeleteQuestionMembership removes the membership row and, when the question
// is not referenced by any other questionnaire, the question row as well.
// Reports whether the question row was deleted.
func (s *PostgresStore) DeleteQuestionMembership(ctx context.Context, questionnaireID, questionID int64) (bool, error) {
	var orphanDeleted bool
	err := s.inQuestionnaireTx(ctx, questionnaireID, func(tx *sql.Tx) error {
		var scope sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			DELETE FROM questionnaire_questions
			WHERE questionnaire_id=$1 AND question_id=$2
			RETURNING group_id
		`, questionnaireID, questionID).Scan(&scope)
		if err != nil {
			return err
		}

		var scopePtr *int64
		if scope.Valid {
			scopePtr = &scope.Int64
		}
		if err := resequenceScope(ctx, tx, questionnaireID, scopePtr); err != nil {
			return err
		}

		var references int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM questionnaire_questions WHERE question_id=$1
		`, questionID).Scan(&references); err != nil {
			return fmt.Errorf("count question references: %w", err)
		}
		if references == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, questionID); err != nil {
				return fmt.Errorf("delete orphaned question: %w", err)
			}
			orphanDeleted = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return orphanDeleted, nil
}

// inQuestionnaireTx runs fn inside a transaction holding the advisory lock
// for the questionnaire, serializing writers that touch its sort_order space.
func (s *PostgresStore) inQuestionnaireTx(ctx context.Context, questionnaireID int64, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, questionnaireID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock questionnaire: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// resequenceScope rewrites a scope's sort_order values to contiguous 0..n-1,
// keeping the current order with question id as the tie-break.
func resequenceScope(ctx context.Context, tx *sql.Tx, questionnaireID int64, groupID *int64) error {
	_, err := tx.ExecContext(ctx, `
		WITH ranked AS (
			SELECT question_id, ROW_NUMBER() OVER (ORDER BY sort_order, question_id) - 1 AS rn
			FROM questionnaire_questions
			WHERE questionnaire_id=$1 AND group_id IS NOT DISTINCT FROM $2
		)
		UPDATE questionnaire_questions m
		SET sort_order = ranked.rn
		FROM ranked
		WHERE m.questionnaire_id=$1 AND m.question_id = ranked.question_id
	`, questionnaireID, groupID)
	if err != nil {
		return fmt.Errorf("resequence scope: %w", err)
	}
	return nil
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func dedupeScopes(scopes []*int64) []*int64 {
	out := make([]*int64, 0, len(scopes))
	for _, scope := range scopes {
		found := false
		for _, existing := range out {
			if sameScope(existing, scope) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, scope)
		}
	}
	return out
}
