package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Message is a single persisted conversation turn.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry is a message together with its session key.
type Entry struct {
	SessionKey string  `json:"sessionKey"`
	Message    Message `json:"message"`
}

// Manager persists conversation transcripts as JSONL files, one per session.
// The append-only format stays readable after a crash: a torn final line is
// skipped on load instead of poisoning the whole transcript.
type Manager struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a transcript manager rooted at dir.
func New(dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("transcript directory is required")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Transcript manager initialized")

	return &Manager{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func validateSessionKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (m *Manager) path(key string) string {
	return filepath.Join(m.dir, key+".jsonl")
}

func (m *Manager) writeLock(key string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, ok := m.writeLocks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.writeLocks[key] = lock
	return lock
}

// Append adds a message to a session transcript, creating it if needed.
func (m *Manager) Append(key string, message Message) error {
	if err := validateSessionKey(key); err != nil {
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	lock := m.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(m.path(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	entry := Entry{SessionKey: key, Message: message}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript entry: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write transcript entry: %w", err)
	}

	return nil
}

// Load reads all entries of a session. A missing transcript is an empty one.
func (m *Manager) Load(key string) ([]Entry, error) {
	if err := validateSessionKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			log.Warn().Str("session", key).Err(err).Msg("Skipping malformed transcript line")
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	return entries, nil
}

// List returns the known session keys.
func (m *Manager) List() ([]string, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	keys := []string{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(f.Name(), ".jsonl"))
	}

	return keys, nil
}

// Delete removes a session transcript. Deleting a missing session is not an
// error.
func (m *Manager) Delete(key string) error {
	if err := validateSessionKey(key); err != nil {
		return err
	}

	lock := m.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(m.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	log.Info().Str("session", key).Msg("Transcript deleted")

	return nil
}
