// Package plugin implements the agent's plugin lifecycle: loading Go
// plugin objects, running their init/quit/registration entry points,
// and tracking which are loaded versus enabled. A plugin's contract is
// a single exported symbol in place of a C dlopen/dlsym ABI, resolved
// through Go's standard library plugin package.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	goplugin "plugin"

	"github.com/Masterminds/semver/v3"

	"github.com/fenmoor/agentcore/command"
	"github.com/fenmoor/agentcore/dispatch"
	"github.com/fenmoor/agentcore/event"
	"github.com/fenmoor/agentcore/logging"
)

// BadID is returned by Load on any failure; it is never a valid plugin
// identifier.
const BadID = ""

// Symbol is the name every plugin object must export.
const Symbol = "AgentPluginInfo"

// Host is the subset of the agent a plugin's entry points may act on:
// push events, (un)subscribe handlers, and register commands. Kept as
// an interface for the same reason command.Host and dispatch.TimerFirer
// are: it lets plugin avoid importing agent, which imports plugin.
type Host interface {
	PushEvent(e event.Event)
	Subscribe(topic event.Topic, fn dispatch.HandlerFunc)
	Unsubscribe(topic event.Topic)
	RegisterCommand(cmd *command.Command) error
	Log() logging.Logger
}

// InitFunc runs once when a plugin is enabled. It returns the plugin's
// private state, threaded back into every later call for this plugin.
type InitFunc func(host Host) (localEnv any, err error)

// QuitFunc runs once when a plugin is disabled.
type QuitFunc func(host Host, localEnv any) error

// RegistrationFunc covers AddInputDevices, AddOutputDevices, and
// AddAgentProps: side-effecting calls made once at enable time, none of
// which return a value beyond success/failure.
type RegistrationFunc func(host Host, localEnv any) error

// AddCommandsFunc lets a plugin contribute commands to the command
// registry at enable time.
type AddCommandsFunc func(host Host, localEnv any) ([]*command.Command, error)

// FunctionTable holds a plugin's optional entry points. Any field may
// be nil; Enable/Disable skip nil entries.
type FunctionTable struct {
	Init             InitFunc
	Quit             QuitFunc
	AddInputDevices  RegistrationFunc
	AddOutputDevices RegistrationFunc
	AddAgentProps    RegistrationFunc
	AddCommands      AddCommandsFunc
}

// Info is the record a plugin object exports under Symbol.
type Info struct {
	Name      string
	Version   *semver.Version
	Functions *FunctionTable
}

// AuditSink records plugin lifecycle transitions. The no-op
// implementation lives in package audit; Manager treats a nil sink as
// "auditing disabled".
type AuditSink interface {
	Record(pluginID, transition, detail string)
}

type entry struct {
	info     *Info
	localEnv any
	commands []string // names registered by AddCommands, for clean Disable bookkeeping
	handle   *goplugin.Plugin
}

// Manager is the plugin lifecycle table: one
// instance per agent, tracking the loaded set and its enabled subset.
type Manager struct {
	mu      sync.RWMutex
	loaded  map[string]*entry
	enabled map[string]bool

	host  Host
	cmds  *command.Registry
	log   logging.Logger
	audit AuditSink
}

// NewManager creates an empty plugin manager bound to host, the command
// registry commands that feed from AddCommands, and an optional audit
// sink (nil disables auditing).
func NewManager(host Host, commands *command.Registry, log logging.Logger, audit AuditSink) *Manager {
	if log == nil {
		log = logging.NewStdLogger()
	}
	return &Manager{
		loaded:  make(map[string]*entry),
		enabled: make(map[string]bool),
		host:    host,
		cmds:    commands,
		log:     log,
		audit:   audit,
	}
}

func (m *Manager) record(id, transition, detail string) {
	if m.audit != nil {
		m.audit.Record(id, transition, detail)
	}
}

// Load opens the plugin object at path, validates its exported Info,
// and stores it under its declared name. It returns BadID and a
// descriptive error on any failure; Go's plugin package
// supports no "close" operation, so a failed load never holds anything
// open beyond what plugin.Open itself cached.
func (m *Manager) Load(path string) (string, error) {
	m.log.Info("loading plugin library %s", path)
	handle, err := goplugin.Open(path)
	if err != nil {
		m.log.Error("opening plugin %s failed: %v", path, err)
		return BadID, fmt.Errorf("opening plugin: %w", err)
	}

	sym, err := handle.Lookup(Symbol)
	if err != nil {
		m.log.Error("plugin %s has no %s symbol", path, Symbol)
		return BadID, fmt.Errorf("looking up %s: %w", Symbol, err)
	}
	info, ok := sym.(*Info)
	if !ok || info == nil {
		m.log.Error("plugin %s's %s symbol is not a *plugin.Info", path, Symbol)
		return BadID, fmt.Errorf("%s is not a *plugin.Info", Symbol)
	}
	if info.Name == "" {
		return BadID, fmt.Errorf("plugin at %s declares an empty name", path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.loaded[info.Name]; exists {
		m.log.Warn("plugin ID is already loaded: %s", info.Name)
		return BadID, fmt.Errorf("plugin already loaded: %s", info.Name)
	}
	m.loaded[info.Name] = &entry{info: info, handle: handle}
	m.log.Info("loaded plugin with ID: %s", info.Name)
	m.record(info.Name, "loaded", path)
	return info.Name, nil
}

// Unload disables id first if enabled, then removes its bookkeeping
// entry. It does not and cannot release the underlying shared object;
// see Load's doc for why.
func (m *Manager) Unload(id string) error {
	if m.IsEnabled(id) {
		if err := m.Disable(id); err != nil {
			m.log.Error("disabling plugin %s during unload failed: %v", id, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loaded[id]; !ok {
		m.log.Warn("no plugin with ID; not unloading: %s", id)
		return fmt.Errorf("plugin not loaded: %s", id)
	}
	delete(m.loaded, id)
	m.log.Info("successfully unloaded plugin %s", id)
	m.record(id, "unloaded", "")
	return nil
}

// Enable runs id's Init function (if any), then its registration
// functions in the order Init, AddInputDevices, AddOutputDevices,
// AddAgentProps, AddCommands. An error returned by Init aborts enable
// and is logged, leaving the plugin loaded; an error returned by any
// later registration function, or a panic from any entry point, unloads
// the plugin entirely, a guiding policy that a plugin must never take
// down the agent.
func (m *Manager) Enable(id string) error {
	m.mu.Lock()
	e, ok := m.loaded[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("plugin not loaded: %s", id)
	}
	if m.enabled[id] {
		m.mu.Unlock()
		return fmt.Errorf("plugin already enabled: %s", id)
	}
	m.mu.Unlock()

	m.log.Info("enabling plugin %s", id)
	funcs := e.info.Functions

	if funcs != nil && funcs.Init != nil {
		localEnv, err, panicked := m.callInit(funcs.Init)
		if panicked {
			m.log.Error("plugin %s Init panicked; unloading", id)
			m.record(id, "failed", "Init panicked")
			_ = m.Unload(id)
			return fmt.Errorf("plugin %s Init panicked", id)
		}
		if err != nil {
			m.log.Error("plugin %s Init failed: %v", id, err)
			m.record(id, "failed", err.Error())
			return err
		}
		e.localEnv = localEnv
	} else {
		m.log.Warn("plugin %s does not define Init; skipping", id)
	}

	m.mu.Lock()
	m.enabled[id] = true
	m.mu.Unlock()
	m.log.Info("enabled plugin %s", id)
	m.record(id, "enabled", "")

	if funcs == nil {
		return nil
	}
	if !m.runRegistration(id, e, "AddInputDevices", funcs.AddInputDevices) {
		return fmt.Errorf("plugin %s: AddInputDevices failed, unloaded", id)
	}
	if !m.runRegistration(id, e, "AddOutputDevices", funcs.AddOutputDevices) {
		return fmt.Errorf("plugin %s: AddOutputDevices failed, unloaded", id)
	}
	if !m.runRegistration(id, e, "AddAgentProps", funcs.AddAgentProps) {
		return fmt.Errorf("plugin %s: AddAgentProps failed, unloaded", id)
	}
	if funcs.AddCommands != nil {
		if !m.runAddCommands(id, e, funcs.AddCommands) {
			return fmt.Errorf("plugin %s: AddCommands failed, unloaded", id)
		}
	} else {
		m.log.Info("plugin %s does not define AddCommands; skipping", id)
	}
	return nil
}

func (m *Manager) callInit(fn InitFunc) (localEnv any, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
		}
	}()
	localEnv, err = fn(m.host)
	return
}

// runRegistration invokes one of the three void registration funcs and
// unloads the plugin on panic or error, returning false in either case.
func (m *Manager) runRegistration(id string, e *entry, name string, fn RegistrationFunc) bool {
	if fn == nil {
		m.log.Warn("plugin %s does not define %s; skipping", id, name)
		return true
	}
	ok, err := m.guardedCall(id, name, func() error { return fn(m.host, e.localEnv) })
	if !ok {
		return false
	}
	if err != nil {
		m.log.Error("plugin %s: %s failed: %v", id, name, err)
		_ = m.Unload(id)
		return false
	}
	return true
}

func (m *Manager) runAddCommands(id string, e *entry, fn AddCommandsFunc) bool {
	var cmds []*command.Command
	ok, err := m.guardedCall(id, "AddCommands", func() error {
		var innerErr error
		cmds, innerErr = fn(m.host, e.localEnv)
		return innerErr
	})
	if !ok {
		return false
	}
	if err != nil {
		m.log.Error("plugin %s: AddCommands failed: %v", id, err)
		_ = m.Unload(id)
		return false
	}
	for _, c := range cmds {
		if m.cmds == nil {
			continue
		}
		if err := m.cmds.Register(c); err != nil {
			m.log.Error("plugin %s: registering command %s failed: %v", id, c.Name, err)
			continue
		}
		e.commands = append(e.commands, c.Name)
	}
	return true
}

// guardedCall runs body with panic recovery, logging and unloading id
// on panic. ok is false whenever the plugin must be treated as already
// unloaded (panicked); err carries a returned (non-panic) failure.
func (m *Manager) guardedCall(id, name string, body func() error) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("plugin %s %s threw; plugin will be unloaded: %v", id, name, r)
			m.record(id, "failed", fmt.Sprintf("%s panicked: %v", name, r))
			_ = m.Unload(id)
			ok = false
		}
	}()
	err = body()
	return true, err
}

// Disable removes id from the enabled set and runs its Quit function,
// if any. A failing or panicking Quit unloads the plugin, matching
// the policy that a misbehaving quit still removes the plugin for
// good.
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	e, ok := m.loaded[id]
	if !ok || !m.enabled[id] {
		m.mu.Unlock()
		return nil
	}
	delete(m.enabled, id)
	m.mu.Unlock()

	m.log.Info("disabling plugin %s", id)
	for _, name := range e.commands {
		if m.cmds != nil {
			m.cmds.Unregister(name)
		}
	}
	e.commands = nil

	funcs := e.info.Functions
	if funcs == nil || funcs.Quit == nil {
		m.log.Info("plugin %s does not define Quit; skipping", id)
		m.record(id, "disabled", "")
		return nil
	}

	ok2, err := m.guardedCall(id, "Quit", func() error { return funcs.Quit(m.host, e.localEnv) })
	if !ok2 {
		return fmt.Errorf("plugin %s Quit panicked, unloaded", id)
	}
	if err != nil {
		m.log.Error("plugin %s: Quit failed: %v", id, err)
		_ = m.Unload(id)
		return err
	}
	m.record(id, "disabled", "")
	return nil
}

// IsLoaded reports whether id has a loaded entry.
func (m *Manager) IsLoaded(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.loaded[id]
	return ok
}

// IsEnabled reports whether id is currently enabled.
func (m *Manager) IsEnabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[id]
}

// GetLoaded returns every loaded plugin id, sorted by semantic version
// ascending (ties broken by name) so callers get a stable, meaningful
// order rather than map iteration order.
func (m *Manager) GetLoaded() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return versionLess(m.loaded[ids[i]], m.loaded[ids[j]])
	})
	return ids
}

// Snapshot describes one loaded plugin for external introspection.
type Snapshot struct {
	ID      string
	Version string
	Enabled bool
}

// Snapshots returns a point-in-time view of every loaded plugin, sorted
// the same way GetLoaded is.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return versionLess(m.loaded[ids[i]], m.loaded[ids[j]])
	})
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		ver := ""
		if v := m.loaded[id].info.Version; v != nil {
			ver = v.String()
		}
		out = append(out, Snapshot{ID: id, Version: ver, Enabled: m.enabled[id]})
	}
	return out
}

func versionLess(a, b *entry) bool {
	if a.info.Version == nil || b.info.Version == nil || a.info.Version.Equal(b.info.Version) {
		return a.info.Name < b.info.Name
	}
	return a.info.Version.LessThan(b.info.Version)
}

// Autoload scans dir (non-recursively) and Loads every file ending in
// ".so". It logs and continues past
// any individual load failure rather than aborting the scan.
func (m *Manager) Autoload(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing plugin directory: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".so") {
			continue
		}
		path := filepath.Join(dir, de.Name())
		if _, err := m.Load(path); err != nil {
			m.log.Error("autoload: %v", err)
		}
	}
	return nil
}
