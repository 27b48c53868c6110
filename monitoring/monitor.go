// Package monitoring turns a simulation into a web server, so that its state
// can be watched and accesses can be issued while it runs.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/monitoring/web"
	"github.com/sarchlab/vmsim/sim"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor can turn a simulation into a server and allows external monitoring
// and controlling of the simulation.
type Monitor struct {
	portNumber  int
	openBrowser bool
	ids         sim.IDGenerator

	mmusLock sync.Mutex
	mmus     []*mmu.Comp

	recorderLock sync.Mutex
	recorder     datarecording.DataRecorder

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{ids: sim.NewParallelIDGenerator()}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes the monitor open its page in a browser once the server is
// up.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterMMU registers an MMU to be monitored.
func (m *Monitor) RegisterMMU(c *mmu.Comp) {
	m.mmusLock.Lock()
	defer m.mmusLock.Unlock()

	m.mmus = append(m.mmus, c)
}

// RegisterRecorder makes the tables of the recorder queryable.
func (m *Monitor) RegisterRecorder(recorder datarecording.DataRecorder) {
	m.recorderLock.Lock()
	defer m.recorderLock.Unlock()

	m.recorder = recorder
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.ids.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of all the monitoring pages and APIs.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_mmus", m.listMMUs).Methods(http.MethodGet)
	r.HandleFunc("/api/state/{name}", m.state).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot/{name}", m.snapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/{name}", m.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/dump/{name}", m.dump).Methods(http.MethodGet)
	r.HandleFunc("/api/access/{name}", m.access).Methods(http.MethodPost)
	r.HandleFunc("/api/list_tables", m.listTables).Methods(http.MethodGet)
	r.HandleFunc("/api/records/{table}", m.records).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns the address it
// listens to.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		dieOnErr(err)
	}()

	if m.openBrowser {
		err = browser.OpenURL(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open browser: %v\n", err)
		}
	}

	return url
}

func (m *Monitor) listMMUs(w http.ResponseWriter, _ *http.Request) {
	m.mmusLock.Lock()
	defer m.mmusLock.Unlock()

	names := make([]string, 0, len(m.mmus))
	for _, c := range m.mmus {
		names = append(names, c.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) findMMUOr404(w http.ResponseWriter, r *http.Request) *mmu.Comp {
	name := mux.Vars(r)["name"]

	m.mmusLock.Lock()
	for _, c := range m.mmus {
		if c.Name() == name {
			m.mmusLock.Unlock()
			return c
		}
	}
	m.mmusLock.Unlock()

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("MMU not found"))
	dieOnErr(err)

	return nil
}

// state serializes the full snapshot with type information, the way the
// component inspector expects it.
func (m *Monitor) state(w http.ResponseWriter, r *http.Request) {
	c := m.findMMUOr404(w, r)
	if c == nil {
		return
	}

	depth := 3
	if d := r.URL.Query().Get("depth"); d != "" {
		var err error

		depth, err = strconv.Atoi(d)
		if err != nil || depth < 1 {
			http.Error(w, "invalid depth "+d, http.StatusBadRequest)
			return
		}
	}

	snapshot := c.Snapshot()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(depth)

	err := serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) snapshot(w http.ResponseWriter, r *http.Request) {
	c := m.findMMUOr404(w, r)
	if c == nil {
		return
	}

	writeJSON(w, c.Snapshot())
}

func (m *Monitor) stats(w http.ResponseWriter, r *http.Request) {
	c := m.findMMUOr404(w, r)
	if c == nil {
		return
	}

	writeJSON(w, c.Stats())
}

func (m *Monitor) dump(w http.ResponseWriter, r *http.Request) {
	c := m.findMMUOr404(w, r)
	if c == nil {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	err := mmu.Dump(w, c.Snapshot())
	dieOnErr(err)
}

type accessReq struct {
	PID   vm.PID `json:"pid"`
	Op    string `json:"op"`
	VAddr uint64 `json:"vaddr"`
}

type evictionRsp struct {
	PID       vm.PID `json:"pid"`
	Page      uint64 `json:"page"`
	Frame     uint64 `json:"frame"`
	WriteBack bool   `json:"write_back"`
}

type accessRsp struct {
	Seq       uint64       `json:"seq"`
	Page      uint64       `json:"page"`
	Offset    uint64       `json:"offset"`
	Frame     uint64       `json:"frame"`
	PAddr     uint64       `json:"paddr"`
	Fault     bool         `json:"fault"`
	Eviction  *evictionRsp `json:"eviction,omitempty"`
	Refreshed bool         `json:"refreshed"`
}

// access issues one access to an MMU. Concurrent requests are serialized by
// the MMU itself.
func (m *Monitor) access(w http.ResponseWriter, r *http.Request) {
	c := m.findMMUOr404(w, r)
	if c == nil {
		return
	}

	req := accessReq{}

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	a := vm.Access{PID: req.PID, VAddr: req.VAddr}

	switch req.Op {
	case "r":
		a.Op = vm.Read
	case "w":
		a.Op = vm.Write
	default:
		http.Error(w, fmt.Sprintf("invalid operation %q", req.Op),
			http.StatusBadRequest)
		return
	}

	t, err := c.Access(a)

	switch {
	case errors.Is(err, vm.ErrOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, toAccessRsp(t))
}

func toAccessRsp(t mmu.Translation) accessRsp {
	rsp := accessRsp{
		Seq:       t.Seq,
		Page:      t.Page,
		Offset:    t.Offset,
		Frame:     t.Frame,
		PAddr:     t.PAddr,
		Fault:     t.Fault,
		Refreshed: t.Refreshed,
	}

	if t.Eviction != nil {
		rsp.Eviction = &evictionRsp{
			PID:       t.Eviction.PID,
			Page:      t.Eviction.Page,
			Frame:     t.Eviction.Frame,
			WriteBack: t.Eviction.WriteBack,
		}
	}

	return rsp
}

func (m *Monitor) currentRecorder() datarecording.DataRecorder {
	m.recorderLock.Lock()
	defer m.recorderLock.Unlock()

	return m.recorder
}

func (m *Monitor) listTables(w http.ResponseWriter, _ *http.Request) {
	tables := []string{}
	if recorder := m.currentRecorder(); recorder != nil {
		tables = append(tables, recorder.ListTables()...)
	}

	writeJSON(w, tables)
}

type recordsRsp struct {
	Total   int   `json:"total"`
	Records []any `json:"records"`
}

// records queries a recorded table. Query parameters limit, offset, order and
// desc page and sort the rows. Every other parameter filters on the column of
// the same name, for example ?PID=1&Fault=true.
func (m *Monitor) records(w http.ResponseWriter, r *http.Request) {
	recorder := m.currentRecorder()
	if recorder == nil {
		http.Error(w, "recording is disabled", http.StatusNotFound)
		return
	}

	params, err := recordQueryParams(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	recorder.Flush()

	results, total, err := recorder.Reader().Query(
		r.Context(), mux.Vars(r)["table"], params)

	switch {
	case errors.Is(err, datarecording.ErrUnknownTable):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, datarecording.ErrBadQuery):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, recordsRsp{Total: total, Records: results})
}

func recordQueryParams(values url.Values) (datarecording.QueryParams, error) {
	params := datarecording.QueryParams{}

	columns := make([]string, 0, len(values))
	for key := range values {
		columns = append(columns, key)
	}

	sort.Strings(columns)

	for _, key := range columns {
		var err error

		value := values.Get(key)

		switch key {
		case "limit":
			params.Limit, err = strconv.Atoi(value)
		case "offset":
			params.Offset, err = strconv.Atoi(value)
		case "order":
			params.OrderBy = value
		case "desc":
			params.Descending, err = strconv.ParseBool(value)
		default:
			for _, v := range values[key] {
				params.Filters = append(params.Filters,
					datarecording.Filter{Column: key, Value: v})
			}
		}

		if err != nil {
			return params, fmt.Errorf("invalid %s %q", key, value)
		}
	}

	return params, nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.rsp())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("seconds"); s != "" {
		sec, err := strconv.ParseFloat(s, 64)
		if err != nil || sec <= 0 {
			http.Error(w, "invalid seconds "+s, http.StatusBadRequest)
			return
		}

		duration = time.Duration(sec * float64(time.Second))
	}

	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
