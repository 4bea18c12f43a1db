package profile

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cludelabs/clude/internal/event"
	"github.com/cludelabs/clude/internal/intent"
)

// Registry file names under <workspace>/.clude/registry/.
const (
	profilesFile = "prompt_profiles.yaml"
	intentsFile  = "intents.yaml"
)

// profilesDoc is the on-disk shape of prompt_profiles.yaml.
type profilesDoc struct {
	Profiles map[string]struct {
		RiskLevel string `yaml:"risk_level"`
		Planning  *bool  `yaml:"planning"`
		Prompts   struct {
			System     SystemRefs `yaml:"system"`
			UserPrompt string     `yaml:"user_prompt"`
		} `yaml:"prompts"`
	} `yaml:"profiles"`
}

// intentsDoc is the on-disk shape of intents.yaml.
type intentsDoc struct {
	Intents map[string]string `yaml:"intents"`
}

// Registry resolves intent to profile. Project files override the builtin
// defaults and are hot-reloaded on change; a malformed file logs a warning
// and leaves the previous (or builtin) state in place.
type Registry struct {
	dir    string // .clude/registry under the workspace; may not exist
	assets *Assets

	mu        sync.RWMutex
	profiles  map[string]Profile
	intentMap map[intent.Category]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry creates a registry rooted at the workspace and loads project
// overrides when present.
func NewRegistry(workspace string, assets *Assets) *Registry {
	r := &Registry{
		dir:       filepath.Join(workspace, ".clude", "registry"),
		assets:    assets,
		profiles:  builtinProfiles(),
		intentMap: builtinIntentMap(),
		done:      make(chan struct{}),
	}
	r.reload()
	return r
}

// Assets exposes the underlying asset loader.
func (r *Registry) Assets() *Assets { return r.assets }

// Select resolves an intent to its profile. Chat-like intents have planning
// forced off.
func (r *Registry) Select(cat intent.Category, bus *event.Bus) Profile {
	r.mu.RLock()
	name, ok := r.intentMap[cat]
	if !ok {
		name = r.intentMap[intent.Uncertain]
	}
	p, ok := r.profiles[name]
	r.mu.RUnlock()
	if !ok {
		p = builtinProfiles()[ProfileConsulting]
		log.Printf("[Profiles] Intent %s maps to unknown profile %q, using %s", cat, name, p.Name)
	}
	if chatLikeIntents[cat] {
		p.PlanningEnabled = false
	}
	if bus != nil {
		bus.Emit(event.KindProfileSelected, map[string]any{
			"profile":    p.Name,
			"risk_level": string(p.RiskLevel),
			"planning":   p.PlanningEnabled,
		})
	}
	return p
}

// Get returns a profile by name.
func (r *Registry) Get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// reload re-reads both registry files. Each file fails independently; a
// broken profiles file does not lose a good intents file and vice versa.
func (r *Registry) reload() {
	profiles := builtinProfiles()
	if loaded, err := r.loadProfiles(); err != nil {
		log.Printf("[Profiles] %v; keeping defaults", err)
	} else {
		for k, v := range loaded {
			profiles[k] = v
		}
	}

	intentMap := builtinIntentMap()
	if loaded, err := r.loadIntents(profiles); err != nil {
		log.Printf("[Profiles] %v; keeping default intent map", err)
	} else {
		for k, v := range loaded {
			intentMap[k] = v
		}
	}

	r.mu.Lock()
	r.profiles = profiles
	r.intentMap = intentMap
	r.mu.Unlock()
}

func (r *Registry) loadProfiles() (map[string]Profile, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, profilesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", profilesFile, err)
	}
	var doc profilesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", profilesFile, err)
	}

	out := make(map[string]Profile, len(doc.Profiles))
	for name, raw := range doc.Profiles {
		if !ValidRisk(raw.RiskLevel) {
			return nil, fmt.Errorf("profile %q has unknown risk_level %q", name, raw.RiskLevel)
		}
		p := Profile{
			Name:            name,
			RiskLevel:       RiskLevel(raw.RiskLevel),
			System:          raw.Prompts.System,
			UserTemplateRef: raw.Prompts.UserPrompt,
			PlanningEnabled: true,
		}
		if raw.Planning != nil {
			p.PlanningEnabled = *raw.Planning
		}
		out[name] = p
	}
	return out, nil
}

func (r *Registry) loadIntents(profiles map[string]Profile) (map[intent.Category]string, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, intentsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", intentsFile, err)
	}
	var doc intentsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", intentsFile, err)
	}

	out := make(map[intent.Category]string, len(doc.Intents))
	for label, profileName := range doc.Intents {
		cat := intent.Category(label)
		if !intent.Known(cat) {
			return nil, fmt.Errorf("intents file references unknown intent %q", label)
		}
		if _, ok := profiles[profileName]; !ok {
			return nil, fmt.Errorf("intent %q maps to unknown profile %q", label, profileName)
		}
		out[cat] = profileName
	}
	return out, nil
}

// Watch starts hot reload on the registry directory and the prompt assets
// directory. Safe to call when either directory is missing.
func (r *Registry) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	r.watcher = w

	watched := false
	if _, err := os.Stat(r.dir); err == nil {
		if err := w.Add(r.dir); err == nil {
			watched = true
		}
	}
	if r.assets != nil && r.assets.dir != "" {
		if _, err := os.Stat(r.assets.dir); err == nil {
			if err := w.Add(r.assets.dir); err == nil {
				watched = true
			}
		}
	}
	if !watched {
		w.Close()
		r.watcher = nil
		return nil
	}

	go r.watchLoop()
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			log.Printf("[Profiles] %s changed, reloading", filepath.Base(ev.Name))
			r.reload()
			if r.assets != nil {
				r.assets.Invalidate()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Profiles] Watcher error: %v", err)
		case <-r.done:
			return
		}
	}
}

// Close stops the watcher.
func (r *Registry) Close() {
	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
	}
}
