// Package monitor implements the agent runtime's optional HTTP
// introspection surface: snapshots of dispatcher, timer, and plugin
// state, process resource usage, a pprof mount for deeper profiling,
// and the plugin/timer write endpoints the agentcore CLI drives
// remotely. It never reaches into dispatcher or timer internals
// directly, and never holds their locks while formatting a response.
package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	pprofruntime "runtime/pprof"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/fenmoor/agentcore/dispatch"
	"github.com/fenmoor/agentcore/event"
	"github.com/fenmoor/agentcore/plugin"
	"github.com/fenmoor/agentcore/timer"
)

// Dispatcher is the subset of *dispatch.Dispatcher the monitor reads.
type Dispatcher interface {
	Snapshot() []dispatch.HandlerSnapshot
}

// Timers is the subset of *timer.Table the monitor reads and drives on
// behalf of a remote CLI (agentcore timer add/rm).
type Timers interface {
	Snapshots() []timer.Snapshot
	Delay(period time.Duration, topic event.Topic, args event.Args) int16
	AddRecurring(period time.Duration, topic event.Topic, args event.Args) int16
	Remove(id int16) error
}

// Plugins is the subset of *plugin.Manager the monitor reads and drives
// on behalf of a remote CLI (agentcore plugin load/enable/disable/unload).
type Plugins interface {
	Snapshots() []plugin.Snapshot
	Load(path string) (string, error)
	Enable(id string) error
	Disable(id string) error
	Unload(id string) error
}

// Monitor serves an HTTP view of a single agent's live state, plus the
// plugin and timer write endpoints that call through to the plugin
// manager and timer table.
type Monitor struct {
	dispatcher Dispatcher
	timers     Timers
	plugins    Plugins

	portNumber int
	openOnRun  bool
}

// New creates a Monitor observing the given components. Any of them may
// be nil, in which case the corresponding endpoint reports an empty
// snapshot.
func New(d Dispatcher, t Timers, p Plugins) *Monitor {
	return &Monitor{dispatcher: d, timers: t, plugins: p}
}

// WithPortNumber sets the port the monitor listens on; ports below 1000
// are rejected in favor of a random port, since those are reserved for
// well-known services.
func (m *Monitor) WithPortNumber(port int) *Monitor {
	if port < 1000 {
		fmt.Fprintf(os.Stderr,
			"monitor: port %d is not allowed, using a random port instead\n", port)
		port = 0
	}
	m.portNumber = port
	return m
}

// WithBrowserOnStart makes StartServer open the dashboard in the user's
// default browser once the listener is up.
func (m *Monitor) WithBrowserOnStart() *Monitor {
	m.openOnRun = true
	return m
}

// StartServer starts the monitor as a background HTTP server and
// returns the address it bound to.
func (m *Monitor) StartServer() (string, error) {
	r := mux.NewRouter()
	r.HandleFunc("/status", m.status)
	r.HandleFunc("/handlers", m.handlersList)
	r.HandleFunc("/plugins", m.pluginsList).Methods(http.MethodGet)
	r.HandleFunc("/plugins/load", m.pluginLoad).Methods(http.MethodPost)
	r.HandleFunc("/plugins/{id}/enable", m.pluginEnable).Methods(http.MethodPost)
	r.HandleFunc("/plugins/{id}/disable", m.pluginDisable).Methods(http.MethodPost)
	r.HandleFunc("/plugins/{id}/unload", m.pluginUnload).Methods(http.MethodPost)
	r.HandleFunc("/timers", m.timersList).Methods(http.MethodGet)
	r.HandleFunc("/timers", m.timerAdd).Methods(http.MethodPost)
	r.HandleFunc("/timers/{id}", m.timerRemove).Methods(http.MethodDelete)
	r.HandleFunc("/profile", m.collectProfile)
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	r.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	r.Handle("/debug/pprof/block", pprof.Handler("block"))

	actualPort := ":0"
	if m.portNumber >= 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("monitor: listen: %w", err)
	}

	addr := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "monitor: serving at %s (pprof under /debug/pprof/)\n", addr)

	go func() {
		if err := http.Serve(listener, r); err != nil {
			log.Printf("monitor: server stopped: %v", err)
		}
	}()

	if m.openOnRun {
		if err := browser.OpenURL(addr); err != nil {
			log.Printf("monitor: could not open browser: %v", err)
		}
	}

	return addr, nil
}

type statusPayload struct {
	HandlersRunning int
	TimersActive    int
	PluginsLoaded   int
	PluginsEnabled  int
	CPUPercent      float64
	MemoryRSS       uint64
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	payload := statusPayload{}
	if m.dispatcher != nil {
		payload.HandlersRunning = len(m.dispatcher.Snapshot())
	}
	if m.timers != nil {
		payload.TimersActive = len(m.timers.Snapshots())
	}
	if m.plugins != nil {
		for _, p := range m.plugins.Snapshots() {
			payload.PluginsLoaded++
			if p.Enabled {
				payload.PluginsEnabled++
			}
		}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			payload.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			payload.MemoryRSS = mem.RSS
		}
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&payload)
	serializer.SetMaxDepth(1)
	if err := serializer.Serialize(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type timerView struct {
	ID        int16  `json:"id"`
	Topic     string `json:"topic"`
	PeriodMS  int64  `json:"period_ms"`
	Recurring bool   `json:"recurring"`
	NextFire  string `json:"next_fire"`
}

func (m *Monitor) timersList(w http.ResponseWriter, _ *http.Request) {
	var out []timerView
	if m.timers != nil {
		for _, s := range m.timers.Snapshots() {
			out = append(out, timerView{
				ID:        s.ID,
				Topic:     string(s.Topic),
				PeriodMS:  s.Period.Milliseconds(),
				Recurring: s.Recurring,
				NextFire:  s.NextFire.Format(time.RFC3339),
			})
		}
	}
	writeJSON(w, out)
}

type handlerView struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Suspended bool   `json:"suspended"`
}

func (m *Monitor) handlersList(w http.ResponseWriter, _ *http.Request) {
	var out []handlerView
	if m.dispatcher != nil {
		for _, s := range m.dispatcher.Snapshot() {
			out = append(out, handlerView{ID: s.ID, Topic: string(s.Topic), Suspended: s.Suspended})
		}
	}
	writeJSON(w, out)
}

func (m *Monitor) pluginsList(w http.ResponseWriter, _ *http.Request) {
	var out []plugin.Snapshot
	if m.plugins != nil {
		out = m.plugins.Snapshots()
	}
	writeJSON(w, out)
}

type loadPluginRequest struct {
	Path string `json:"path"`
}

type loadPluginResponse struct {
	ID string `json:"id"`
}

func (m *Monitor) pluginLoad(w http.ResponseWriter, r *http.Request) {
	if m.plugins == nil {
		http.Error(w, "no plugin manager attached", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req loadPluginRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Path == "" {
		http.Error(w, "request body must be {\"path\": \"...\"}", http.StatusBadRequest)
		return
	}
	id, err := m.plugins.Load(req.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, loadPluginResponse{ID: id})
}

func (m *Monitor) pluginEnable(w http.ResponseWriter, r *http.Request) {
	if m.plugins == nil {
		http.Error(w, "no plugin manager attached", http.StatusServiceUnavailable)
		return
	}
	m.pluginTransition(w, r, m.plugins.Enable)
}

func (m *Monitor) pluginDisable(w http.ResponseWriter, r *http.Request) {
	if m.plugins == nil {
		http.Error(w, "no plugin manager attached", http.StatusServiceUnavailable)
		return
	}
	m.pluginTransition(w, r, m.plugins.Disable)
}

func (m *Monitor) pluginUnload(w http.ResponseWriter, r *http.Request) {
	if m.plugins == nil {
		http.Error(w, "no plugin manager attached", http.StatusServiceUnavailable)
		return
	}
	m.pluginTransition(w, r, m.plugins.Unload)
}

func (m *Monitor) pluginTransition(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id := mux.Vars(r)["id"]
	if err := fn(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

type addTimerRequest struct {
	PeriodMS  int64  `json:"period_ms"`
	Topic     string `json:"topic"`
	Value     string `json:"value"`
	Recurring bool   `json:"recurring"`
}

type addTimerResponse struct {
	ID int16 `json:"id"`
}

func (m *Monitor) timerAdd(w http.ResponseWriter, r *http.Request) {
	if m.timers == nil {
		http.Error(w, "no timer table attached", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req addTimerRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Topic == "" || req.PeriodMS <= 0 {
		http.Error(w, "request body must be {\"period_ms\": N, \"topic\": \"...\", \"recurring\": bool}", http.StatusBadRequest)
		return
	}

	period := time.Duration(req.PeriodMS) * time.Millisecond
	topic := event.Topic(req.Topic)
	args := event.Args(event.NoArgs{})
	if req.Value != "" {
		args = event.StringArgs{Value: req.Value}
	}

	var id int16
	if req.Recurring {
		id = m.timers.AddRecurring(period, topic, args)
	} else {
		id = m.timers.Delay(period, topic, args)
	}
	writeJSON(w, addTimerResponse{ID: id})
}

func (m *Monitor) timerRemove(w http.ResponseWriter, r *http.Request) {
	if m.timers == nil {
		http.Error(w, "no timer table attached", http.StatusServiceUnavailable)
		return
	}
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 16)
	if err != nil {
		http.Error(w, "id must be an integer", http.StatusBadRequest)
		return
	}
	if err := m.timers.Remove(int16(id)); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"id": idStr})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)
	if err := pprofruntime.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	time.Sleep(time.Second)
	pprofruntime.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
