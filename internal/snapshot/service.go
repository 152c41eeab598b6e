// Package snapshot keeps a git-backed revision history of each
// questionnaire's resolved composition. Every successful builder mutation
// records a new revision, giving editors an audit trail of structural edits.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"stepform/api/internal/compose"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const compositionFile = "composition.json"

// Revision describes one recorded composition state.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Record commits the questionnaire's current composition. The repository is
// initialized on first use. Identical consecutive compositions are skipped.
func (s *Service) Record(questionnaireID int64, composition compose.Composition, author, message string) error {
	lock := s.questionnaireLock(questionnaireID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(questionnaireID)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(composition, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal composition: %w", err)
	}
	path := filepath.Join(worktree.Filesystem.Root(), compositionFile)
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write composition: %w", err)
	}

	if _, err := worktree.Add(compositionFile); err != nil {
		return fmt.Errorf("git add composition: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	if _, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.stepform.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	}); err != nil {
		return fmt.Errorf("commit composition: %w", err)
	}
	return nil
}

// History lists revisions, newest first.
func (s *Service) History(questionnaireID int64, limit int) ([]Revision, error) {
	lock := s.questionnaireLock(questionnaireID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(questionnaireID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Revision{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, Revision{
			Hash:      commitObj.Hash.String(),
			Message:   commitObj.Message,
			Author:    commitObj.Author.Name,
			CreatedAt: commitObj.Author.When,
		})
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetRevision reads the composition recorded at a given commit hash.
func (s *Service) GetRevision(questionnaireID int64, hash string) (compose.Composition, error) {
	lock := s.questionnaireLock(questionnaireID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(questionnaireID))
	if err != nil {
		return compose.Composition{}, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := repo.ResolveRevision(plumbingRevision(hash))
	if err != nil {
		return compose.Composition{}, fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return compose.Composition{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(compositionFile)
	if err != nil {
		return compose.Composition{}, fmt.Errorf("load composition from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return compose.Composition{}, fmt.Errorf("open composition reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return compose.Composition{}, fmt.Errorf("read composition bytes: %w", err)
	}

	var composition compose.Composition
	if err := json.Unmarshal(raw, &composition); err != nil {
		return compose.Composition{}, fmt.Errorf("decode composition: %w", err)
	}
	return composition, nil
}

func (s *Service) openOrInit(questionnaireID int64) (*git.Repository, error) {
	path := s.repoPath(questionnaireID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(questionnaireID int64) string {
	return filepath.Join(s.baseDir, strconv.FormatInt(questionnaireID, 10))
}

func (s *Service) questionnaireLock(questionnaireID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[questionnaireID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[questionnaireID] = lock
	return lock
}

func plumbingRevision(hash string) plumbing.Revision {
	return plumbing.Revision(hash)
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "editor"
	}
	return string(runes)
}
