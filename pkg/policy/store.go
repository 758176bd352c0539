/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package policy

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Loader loads the policy document and individual waivers. The engine is
// agnostic to storage; FileLoader is the default, file-backed
// implementation (spec.md §6).
type Loader interface {
	LoadPolicy() (*Policy, error)
	LoadWaiver(id string) (*Waiver, error)
}

// FileLoader reads <projectRoot>/.caws/policy.yaml and
// <projectRoot>/.caws/waivers/<id>.yaml.
type FileLoader struct {
	ProjectRoot string
}

func (f *FileLoader) policyPath() string {
	return filepath.Join(f.ProjectRoot, ".caws", "policy.yaml")
}

func (f *FileLoader) waiverPath(id string) string {
	return filepath.Join(f.ProjectRoot, ".caws", "waivers", id+".yaml")
}

func (f *FileLoader) LoadPolicy() (*Policy, error) {
	data, err := os.ReadFile(f.policyPath())
	if err != nil {
		return nil, err
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "POLICY_LOAD_ERROR")
	}
	return &p, nil
}

func (f *FileLoader) LoadWaiver(id string) (*Waiver, error) {
	data, err := os.ReadFile(f.waiverPath(id))
	if err != nil {
		return nil, err
	}
	var w Waiver
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "POLICY_LOAD_ERROR").WithDetailsf("waiver=%s", id)
	}
	return &w, nil
}

// DefaultPolicy is the baked-in fallback used when no policy file is
// found, with all three risk tiers populated.
func DefaultPolicy() *Policy {
	return &Policy{
		Version: "default",
		RiskTiers: map[int]RiskTier{
			1: {MaxFiles: 3, MaxLoc: 150, CoverageThreshold: 0.90, MutationThreshold: 0.70, ContractsRequired: true, ManualReviewRequired: false},
			2: {MaxFiles: 8, MaxLoc: 400, CoverageThreshold: 0.80, MutationThreshold: 0.60, ContractsRequired: true, ManualReviewRequired: false},
			3: {MaxFiles: 20, MaxLoc: 1000, CoverageThreshold: 0.70, MutationThreshold: 0.50, ContractsRequired: false, ManualReviewRequired: true},
		},
	}
}

// Store caches the parsed policy document for up to ttl and exposes
// reloadPolicy() for forced refresh. A file-system watcher, when
// started, invalidates the cache on change.
type Store struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	log    *logrus.Logger

	mu       sync.RWMutex
	cached   *Policy
	cachedAt time.Time

	watcher *fsnotify.Watcher
}

// NewStore returns a store backed by loader with the given cache TTL.
func NewStore(loader Loader, ttl time.Duration) *Store {
	return &Store{loader: loader, ttl: ttl, now: time.Now, log: logrus.StandardLogger()}
}

// Policy returns the cached policy, loading (or falling back to
// DefaultPolicy) if the cache is stale or empty.
func (s *Store) Policy() (*Policy, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < s.ttl {
		p := s.cached
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()
	return s.ReloadPolicy()
}

// ReloadPolicy forces a reload, bypassing the cache TTL.
func (s *Store) ReloadPolicy() (*Policy, error) {
	p, err := s.loader.LoadPolicy()
	if err != nil {
		if os.IsNotExist(err) {
			p = DefaultPolicy()
		} else {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "POLICY_LOAD_ERROR")
		}
	}
	if verr := validatePolicy(p); verr != nil {
		return nil, verr
	}

	s.mu.Lock()
	s.cached = p
	s.cachedAt = s.now()
	s.mu.Unlock()
	return p, nil
}

func validatePolicy(p *Policy) error {
	for _, tier := range []int{1, 2, 3} {
		t, ok := p.RiskTiers[tier]
		if !ok {
			return apperrors.New(apperrors.ErrorTypeValidation, "POLICY_LOAD_ERROR").WithDetailsf("missing risk tier %d", tier)
		}
		if t.MaxFiles < 0 || t.MaxLoc < 0 {
			return apperrors.New(apperrors.ErrorTypeValidation, "POLICY_LOAD_ERROR").WithDetailsf("risk tier %d has negative budget", tier)
		}
	}
	return nil
}

// Watch starts an fsnotify watcher on dir (typically
// <projectRoot>/.caws) that invalidates the cache on any write or
// create event, so the next Policy() call reloads from disk. Watch is a
// no-op once a watcher is already running.
func (s *Store) Watch(dir string) error {
	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.watcher = watcher
	s.mu.Unlock()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
					s.invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.WithError(err).Warn("policy watcher error")
			}
		}
	}()
	return nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Close stops the filesystem watcher, if one is running.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

// LoadWaiver delegates to the underlying loader.
func (s *Store) LoadWaiver(id string) (*Waiver, error) {
	return s.loader.LoadWaiver(id)
}
