package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Skill is one named instruction template mixed into the system prompt.
type Skill struct {
	Name string
	Body string
}

// SkillSet holds the loaded skill templates and keeps them fresh when a
// directory watcher is attached. All methods are safe for concurrent use.
type SkillSet struct {
	mu     sync.RWMutex
	dir    string
	skills []Skill

	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// LoadSkills reads every *.md file under dir, sorted by filename so the
// rendered order is stable. A missing directory yields an empty set.
func LoadSkills(dir string) (*SkillSet, error) {
	set := &SkillSet{dir: dir}
	if err := set.reload(); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *SkillSet) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.skills = nil
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read skills dir %s: %w", s.dir, err)
	}

	var skills []Skill
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read skill %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		skills = append(skills, Skill{Name: name, Body: strings.TrimSpace(string(body))})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })

	s.mu.Lock()
	s.skills = skills
	s.mu.Unlock()
	return nil
}

// Skills returns a copy of the current templates.
func (s *SkillSet) Skills() []Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Skill, len(s.skills))
	copy(out, s.skills)
	return out
}

// Render joins all skills into one prompt section.
func (s *SkillSet) Render() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.skills) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, skill := range s.skills {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "### %s\n\n%s", skill.Name, skill.Body)
	}
	return sb.String()
}

// Watch starts a background goroutine that reloads the set whenever a file
// in the skills directory changes. Events are debounced because editors
// write several events per save.
func (s *SkillSet) Watch(logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch skills dir %s: %w", s.dir, err)
	}

	s.watcher = watcher
	s.logger = logger
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
	return nil
}

func (s *SkillSet) run() {
	defer close(s.doneCh)

	var pending bool
	debounce := time.NewTicker(250 * time.Millisecond)
	defer debounce.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(event.Name, ".md") {
				pending = true
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("skills watcher error", zap.Error(err))
		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := s.reload(); err != nil {
				s.logger.Warn("skills reload failed", zap.Error(err))
				continue
			}
			s.logger.Info("skills reloaded", zap.Int("count", len(s.Skills())))
		}
	}
}

// Close stops the watcher, if one was started.
func (s *SkillSet) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh
	return s.watcher.Close()
}
