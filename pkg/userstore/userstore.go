// Package userstore implements the credential storage collaborator
// spec.md §1 and §6 describe as external to the engine: username→UserID
// lookup and registration, backed by the flat-file format spec.md §6
// mandates (`username:password:registration_ms:last_login_ms`, `#`-comment
// lines allowed). It is a stand-in the engine depends on only through the
// pkg/session Users interface — never directly.
package userstore

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shiv248/quillsync/pkg/document"
)

// UserID identifies an authenticated user, stable across restarts for a
// given username (assigned by file position at load time, then by append
// order for newly registered users). It is an alias for document.UserID:
// the store's UserIds are the same identifiers the engine and router use.
type UserID = document.UserID

var (
	// ErrUnknownUser is returned by Verify for a username with no record.
	ErrUnknownUser = fmt.Errorf("unknown user")
	// ErrBadCredentials is returned by Verify on a password mismatch.
	ErrBadCredentials = fmt.Errorf("bad credentials")
	// ErrUserExists is returned by Register for a username already taken.
	ErrUserExists = fmt.Errorf("user already exists")
)

type record struct {
	id               UserID
	username         string
	passwordHash     string
	registrationMs   int64
	lastLoginMs      int64
}

// Store is a file-backed user credential store. All operations are
// serialized by mu; the backing file is rewritten on every mutation, which
// is acceptable for the expected scale (tens to low hundreds of accounts).
type Store struct {
	mu         sync.Mutex
	path       string
	bcryptCost int
	byName     map[string]*record
	byID       map[UserID]*record
	nextID     UserID
}

// Open loads (or creates) the user store at path.
func Open(path string, bcryptCost int) (*Store, error) {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	s := &Store{
		path:       path,
		bcryptCost: bcryptCost,
		byName:     make(map[string]*record),
		byID:       make(map[UserID]*record),
		nextID:     1,
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, ":", 4)
		if len(fields) != 4 {
			continue
		}
		regMs, _ := strconv.ParseInt(fields[2], 10, 64)
		lastMs, _ := strconv.ParseInt(fields[3], 10, 64)
		rec := &record{
			id:             s.nextID,
			username:       fields[0],
			passwordHash:   fields[1],
			registrationMs: regMs,
			lastLoginMs:    lastMs,
		}
		s.byName[rec.username] = rec
		s.byID[rec.id] = rec
		s.nextID++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read user store: %w", err)
	}
	return s, nil
}

// Register creates a new account, returning its UserID.
func (s *Store) Register(username, password string) (UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return 0, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UnixMilli()
	rec := &record{
		id:             s.nextID,
		username:       username,
		passwordHash:   string(hash),
		registrationMs: now,
		lastLoginMs:    now,
	}
	s.byName[username] = rec
	s.byID[rec.id] = rec
	s.nextID++

	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return rec.id, nil
}

// Verify checks a username/password pair, updating last_login_ms on
// success, and returns the matching UserID.
func (s *Store) Verify(username, password string) (UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byName[username]
	if !ok {
		return 0, ErrUnknownUser
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.passwordHash), []byte(password)); err != nil {
		return 0, ErrBadCredentials
	}

	rec.lastLoginMs = time.Now().UnixMilli()
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return rec.id, nil
}

// Username resolves a UserID back to its username, for display purposes.
func (s *Store) Username(id UserID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return "", false
	}
	return rec.username, true
}

// persistLocked rewrites the backing file in insertion (UserID) order.
// Caller must hold mu.
func (s *Store) persistLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write user store: %w", err)
	}

	ids := make([]UserID, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w := bufio.NewWriter(f)
	for _, id := range ids {
		rec := s.byID[id]
		fmt.Fprintf(w, "%s:%s:%d:%d\n", rec.username, rec.passwordHash, rec.registrationMs, rec.lastLoginMs)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush user store: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close user store: %w", err)
	}
	return os.Rename(tmp, s.path)
}
