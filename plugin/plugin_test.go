package plugin

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Masterminds/semver/v3"

	"github.com/fenmoor/agentcore/command"
	"github.com/fenmoor/agentcore/dispatch"
	"github.com/fenmoor/agentcore/event"
	"github.com/fenmoor/agentcore/logging"
)

type fakeHost struct {
	commands *command.Registry
}

func (h *fakeHost) PushEvent(e event.Event)                              {}
func (h *fakeHost) Subscribe(topic event.Topic, fn dispatch.HandlerFunc) {}
func (h *fakeHost) Unsubscribe(topic event.Topic)                        {}
func (h *fakeHost) Log() logging.Logger                                  { return logging.Nop{} }
func (h *fakeHost) RegisterCommand(cmd *command.Command) error {
	return h.commands.Register(cmd)
}

func mustVersion(v string) *semver.Version {
	ver, err := semver.NewVersion(v)
	Expect(err).NotTo(HaveOccurred())
	return ver
}

// inject bypasses Load (which needs a real .so on disk) and installs a
// loaded entry directly, mirroring what Load would have produced.
func (m *Manager) inject(name string, version string, funcs *FunctionTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded[name] = &entry{info: &Info{Name: name, Version: mustVersion(version), Functions: funcs}}
}

var _ = Describe("Manager", func() {
	var (
		cmds *command.Registry
		host *fakeHost
		mgr  *Manager
	)

	BeforeEach(func() {
		cmds = command.NewRegistry()
		host = &fakeHost{commands: cmds}
		mgr = NewManager(host, cmds, logging.Nop{}, nil)
	})

	It("reports loaded and enabled state through the lifecycle", func() {
		mgr.inject("alpha", "1.0.0", nil)
		Expect(mgr.IsLoaded("alpha")).To(BeTrue())
		Expect(mgr.IsEnabled("alpha")).To(BeFalse())

		Expect(mgr.Enable("alpha")).To(Succeed())
		Expect(mgr.IsEnabled("alpha")).To(BeTrue())

		Expect(mgr.Disable("alpha")).To(Succeed())
		Expect(mgr.IsEnabled("alpha")).To(BeFalse())
		Expect(mgr.IsLoaded("alpha")).To(BeTrue())

		Expect(mgr.Unload("alpha")).To(Succeed())
		Expect(mgr.IsLoaded("alpha")).To(BeFalse())
	})

	It("rejects enabling an already-enabled plugin", func() {
		mgr.inject("alpha", "1.0.0", nil)
		Expect(mgr.Enable("alpha")).To(Succeed())
		err := mgr.Enable("alpha")
		Expect(err).To(HaveOccurred())
	})

	It("runs Init and threads its local env into AddCommands", func() {
		var seenEnv any
		funcs := &FunctionTable{
			Init: func(h Host) (any, error) { return "alpha-state", nil },
			AddCommands: func(h Host, localEnv any) ([]*command.Command, error) {
				seenEnv = localEnv
				return []*command.Command{{Name: "ALPHACMD", Func: func(command.Host, command.ParamList, *dispatch.HandlerSync) {}}}, nil
			},
		}
		mgr.inject("alpha", "1.0.0", funcs)

		Expect(mgr.Enable("alpha")).To(Succeed())
		Expect(seenEnv).To(Equal("alpha-state"))

		_, ok := cmds.Lookup("ALPHACMD")
		Expect(ok).To(BeTrue())
	})

	It("unregisters a plugin's commands on Disable", func() {
		funcs := &FunctionTable{
			AddCommands: func(h Host, localEnv any) ([]*command.Command, error) {
				return []*command.Command{{Name: "ALPHACMD", Func: func(command.Host, command.ParamList, *dispatch.HandlerSync) {}}}, nil
			},
		}
		mgr.inject("alpha", "1.0.0", funcs)
		Expect(mgr.Enable("alpha")).To(Succeed())

		Expect(mgr.Disable("alpha")).To(Succeed())
		_, ok := cmds.Lookup("ALPHACMD")
		Expect(ok).To(BeFalse())
	})

	It("does not enable a plugin whose Init returns an error", func() {
		funcs := &FunctionTable{
			Init: func(h Host) (any, error) { return nil, errors.New("boom") },
		}
		mgr.inject("alpha", "1.0.0", funcs)

		err := mgr.Enable("alpha")
		Expect(err).To(HaveOccurred())
		Expect(mgr.IsEnabled("alpha")).To(BeFalse())
	})

	It("unloads a plugin whose Init panics", func() {
		funcs := &FunctionTable{
			Init: func(h Host) (any, error) { panic("kaboom") },
		}
		mgr.inject("alpha", "1.0.0", funcs)

		err := mgr.Enable("alpha")
		Expect(err).To(HaveOccurred())
		Expect(mgr.IsLoaded("alpha")).To(BeFalse())
	})

	It("unloads a plugin whose AddCommands panics mid-enable", func() {
		funcs := &FunctionTable{
			AddCommands: func(h Host, localEnv any) ([]*command.Command, error) { panic("kaboom") },
		}
		mgr.inject("alpha", "1.0.0", funcs)

		err := mgr.Enable("alpha")
		Expect(err).To(HaveOccurred())
		Expect(mgr.IsLoaded("alpha")).To(BeFalse())
	})

	It("unloads a plugin whose Quit panics", func() {
		funcs := &FunctionTable{
			Quit: func(h Host, localEnv any) error { panic("kaboom") },
		}
		mgr.inject("alpha", "1.0.0", funcs)
		Expect(mgr.Enable("alpha")).To(Succeed())

		err := mgr.Disable("alpha")
		Expect(err).To(HaveOccurred())
		Expect(mgr.IsLoaded("alpha")).To(BeFalse())
	})

	It("Disable is a no-op on a plugin that isn't enabled", func() {
		mgr.inject("alpha", "1.0.0", nil)
		Expect(mgr.Disable("alpha")).To(Succeed())
	})

	It("Autoload skips non-.so files and logs past a failed load", func() {
		dir, err := os.MkdirTemp("", "plugins")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		Expect(os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a plugin"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "broken.so"), []byte("not an elf"), 0o644)).To(Succeed())

		Expect(mgr.Autoload(dir)).To(Succeed())
		Expect(mgr.GetLoaded()).To(BeEmpty())
	})

	It("GetLoaded sorts by version ascending", func() {
		mgr.inject("beta", "2.0.0", nil)
		mgr.inject("alpha", "1.0.0", nil)
		mgr.inject("gamma", "1.5.0", nil)

		Expect(mgr.GetLoaded()).To(Equal([]string{"alpha", "gamma", "beta"}))
	})
})
