package persistence

import (
	"path/filepath"
)

// BreakpointSpec is the on-disk shape of one breakpoint, mirroring the
// relay's in-memory breakpoint spec.
type BreakpointSpec struct {
	SourcePath   string `json:"source_path"`
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hit_condition,omitempty"`
	LogMessage   string `json:"log_message,omitempty"`
	Enabled      bool   `json:"enabled"`
}

type breakpointFile struct {
	ProjectRoot string                      `json:"project_root"`
	Breakpoints map[string][]BreakpointSpec `json:"breakpoints"`
}

// BreakpointStore persists the per-project breakpoint set at
// <dataDir>/breakpoints/<project_key>.json.
type BreakpointStore struct {
	dataDir string
}

// NewBreakpointStore creates a store rooted at dataDir.
func NewBreakpointStore(dataDir string) *BreakpointStore {
	return &BreakpointStore{dataDir: dataDir}
}

func (s *BreakpointStore) path(projectRoot string) (string, error) {
	key, err := ProjectKey(projectRoot)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dataDir, "breakpoints", key+".json"), nil
}

// Load returns the file-path-to-specs mapping for projectRoot, or an
// empty mapping if none has been persisted yet.
func (s *BreakpointStore) Load(projectRoot string) (map[string][]BreakpointSpec, error) {
	path, err := s.path(projectRoot)
	if err != nil {
		return nil, err
	}
	var file breakpointFile
	ok, err := SafeRead(path, &file)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string][]BreakpointSpec{}, nil
	}
	if file.Breakpoints == nil {
		file.Breakpoints = map[string][]BreakpointSpec{}
	}
	return file.Breakpoints, nil
}

// Save replaces the full breakpoint set for projectRoot.
func (s *BreakpointStore) Save(projectRoot string, breakpoints map[string][]BreakpointSpec) error {
	path, err := s.path(projectRoot)
	if err != nil {
		return err
	}
	return AtomicWrite(path, breakpointFile{ProjectRoot: projectRoot, Breakpoints: breakpoints})
}

// UpdateFile replaces the breakpoint set for one source file within
// projectRoot's set. Passing empty specs removes the file's entry.
func (s *BreakpointStore) UpdateFile(projectRoot, sourcePath string, specs []BreakpointSpec) error {
	current, err := s.Load(projectRoot)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		delete(current, sourcePath)
	} else {
		current[sourcePath] = specs
	}
	return s.Save(projectRoot, current)
}

// Clear removes the persisted breakpoint file for projectRoot entirely.
func (s *BreakpointStore) Clear(projectRoot string) error {
	path, err := s.path(projectRoot)
	if err != nil {
		return err
	}
	_, err = SafeDelete(path)
	return err
}
