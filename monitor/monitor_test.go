package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenmoor/agentcore/dispatch"
	"github.com/fenmoor/agentcore/event"
	"github.com/fenmoor/agentcore/plugin"
	"github.com/fenmoor/agentcore/timer"
)

type fakeDispatcher struct {
	snap []dispatch.HandlerSnapshot
}

func (f fakeDispatcher) Snapshot() []dispatch.HandlerSnapshot { return f.snap }

type fakeTimers struct {
	snap       []timer.Snapshot
	nextID     int16
	removed    []int16
	addedOneOf []bool
}

func (f fakeTimers) Snapshots() []timer.Snapshot { return f.snap }

func (f *fakeTimers) Delay(time.Duration, event.Topic, event.Args) int16 {
	f.addedOneOf = append(f.addedOneOf, false)
	f.nextID++
	return f.nextID
}

func (f *fakeTimers) AddRecurring(time.Duration, event.Topic, event.Args) int16 {
	f.addedOneOf = append(f.addedOneOf, true)
	f.nextID++
	return f.nextID
}

func (f *fakeTimers) Remove(id int16) error {
	f.removed = append(f.removed, id)
	return nil
}

type fakePlugins struct {
	snap     []plugin.Snapshot
	loaded   []string
	enabled  []string
	disabled []string
	unloaded []string
}

func (f fakePlugins) Snapshots() []plugin.Snapshot { return f.snap }

func (f *fakePlugins) Load(path string) (string, error) {
	f.loaded = append(f.loaded, path)
	return "loaded-plugin", nil
}

func (f *fakePlugins) Enable(id string) error {
	f.enabled = append(f.enabled, id)
	return nil
}

func (f *fakePlugins) Disable(id string) error {
	f.disabled = append(f.disabled, id)
	return nil
}

func (f *fakePlugins) Unload(id string) error {
	f.unloaded = append(f.unloaded, id)
	return nil
}

func newTestRouter(m *Monitor) *mux.Router {
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
	return r
}

func TestHandlersListReflectsSnapshot(t *testing.T) {
	d := fakeDispatcher{snap: []dispatch.HandlerSnapshot{
		{ID: "h1", Topic: event.TextInput},
		{ID: "h2", Topic: event.Topic("custom"), Suspended: true},
	}}
	m := New(d, nil, nil)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/handlers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []handlerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "h1", got[0].ID)
	assert.True(t, got[1].Suspended)
}

func TestTimersListReflectsSnapshot(t *testing.T) {
	next := time.Now().Add(5 * time.Second)
	ti := &fakeTimers{snap: []timer.Snapshot{
		{ID: 3, Topic: event.TextInput, Period: 5 * time.Second, Recurring: true, NextFire: next},
	}}
	m := New(nil, ti, nil)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/timers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var got []timerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int16(3), got[0].ID)
	assert.True(t, got[0].Recurring)
	assert.EqualValues(t, 5000, got[0].PeriodMS)
}

func TestPluginsListReflectsSnapshot(t *testing.T) {
	p := &fakePlugins{snap: []plugin.Snapshot{{ID: "alpha", Version: "1.0.0", Enabled: true}}}
	m := New(nil, nil, p)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/plugins", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var got []plugin.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].ID)
	assert.True(t, got[0].Enabled)
}

func TestEmptyMonitorReturnsEmptyLists(t *testing.T) {
	m := New(nil, nil, nil)
	router := newTestRouter(m)

	for _, path := range []string{"/timers", "/handlers", "/plugins"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.JSONEq(t, "null", string(body))
	}
}

func TestWithPortNumberRejectsReservedPorts(t *testing.T) {
	m := New(nil, nil, nil).WithPortNumber(80)
	assert.Equal(t, 0, m.portNumber)
}

func TestPluginLoadCallsThrough(t *testing.T) {
	p := &fakePlugins{}
	m := New(nil, nil, p)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/plugins/load", strings.NewReader(`{"path": "./alpha.so"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"./alpha.so"}, p.loaded)
	var got loadPluginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "loaded-plugin", got.ID)
}

func TestPluginLoadRejectsMissingPath(t *testing.T) {
	p := &fakePlugins{}
	m := New(nil, nil, p)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/plugins/load", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, p.loaded)
}

func TestPluginTransitionsCallThrough(t *testing.T) {
	p := &fakePlugins{}
	m := New(nil, nil, p)
	router := newTestRouter(m)

	for path, got := range map[string]*[]string{
		"/plugins/alpha/enable":  &p.enabled,
		"/plugins/alpha/disable": &p.disabled,
		"/plugins/alpha/unload":  &p.unloaded,
	} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"alpha"}, *got)
	}
}

func TestTimerAddCreatesRecurringTimer(t *testing.T) {
	ti := &fakeTimers{}
	m := New(nil, ti, nil)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/timers",
		strings.NewReader(`{"period_ms": 1000, "topic": "PING", "recurring": true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ti.addedOneOf, 1)
	assert.True(t, ti.addedOneOf[0])

	var got addTimerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int16(1), got.ID)
}

func TestTimerAddRejectsMissingTopic(t *testing.T) {
	ti := &fakeTimers{}
	m := New(nil, ti, nil)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/timers", strings.NewReader(`{"period_ms": 1000}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ti.addedOneOf)
}

func TestTimerRemoveCallsThrough(t *testing.T) {
	ti := &fakeTimers{}
	m := New(nil, ti, nil)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodDelete, "/timers/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int16{7}, ti.removed)
}

func TestWriteEndpointsReportUnavailableWithoutBackingComponent(t *testing.T) {
	m := New(nil, nil, nil)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/plugins/load", strings.NewReader(`{"path": "x"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
