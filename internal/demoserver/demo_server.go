package demoserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DemoServer emulates the slice of the ZAP JSON API that scanqueue drives.
// Sites are synthetic: every accessed host gets the same small page tree and
// alert catalog, which makes it useful both for local demos and for tests.
type DemoServer struct {
	cfg Config

	mu      sync.Mutex
	nextID  int
	spiders map[string]*scanState
	scans   map[string]*scanState
	// alerts holds findings per page URL, populated when an active scan
	// starts on a site.
	alerts map[string][]Alert
	sites  map[string]bool
}

type scanState struct {
	ID       string `json:"id"`
	Target   string `json:"target"`
	Progress int    `json:"progress"`
	Stopped  bool   `json:"stopped"`
}

// Alert mirrors one entry of core/view/alerts.
type Alert struct {
	Alert       string `json:"alert"`
	Name        string `json:"name"`
	Risk        string `json:"risk"`
	Confidence  string `json:"confidence"`
	URL         string `json:"url"`
	Param       string `json:"param"`
	Evidence    string `json:"evidence"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
	CWEID       string `json:"cweid"`
	PluginID    string `json:"pluginId"`
}

// NewDemoServer creates a new demo engine instance.
func NewDemoServer(cfg Config) *DemoServer {
	if cfg.SpiderStep <= 0 {
		cfg.SpiderStep = 25
	}
	if cfg.ScanStep <= 0 {
		cfg.ScanStep = 20
	}
	if cfg.Version == "" {
		cfg.Version = "2.15.0"
	}
	return &DemoServer{
		cfg:     cfg,
		spiders: make(map[string]*scanState),
		scans:   make(map[string]*scanState),
		alerts:  make(map[string][]Alert),
		sites:   make(map[string]bool),
	}
}

// Handler returns the HTTP handler serving the emulated API.
func (s *DemoServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/JSON/core/view/version/", s.versionHandler)
	mux.HandleFunc("/JSON/core/action/accessUrl/", s.accessURLHandler)
	mux.HandleFunc("/JSON/core/view/alerts/", s.alertsHandler)
	mux.HandleFunc("/JSON/spider/action/scan/", s.startHandler(false))
	mux.HandleFunc("/JSON/spider/view/status/", s.statusHandler(s.spiders, true))
	mux.HandleFunc("/JSON/spider/view/results/", s.spiderResultsHandler)
	mux.HandleFunc("/JSON/spider/action/stop/", s.stopHandler(s.spiders))
	mux.HandleFunc("/JSON/ascan/action/scan/", s.startHandler(true))
	mux.HandleFunc("/JSON/ascan/view/status/", s.statusHandler(s.scans, false))
	mux.HandleFunc("/JSON/ascan/action/stop/", s.stopHandler(s.scans))
	mux.HandleFunc("/demo/state", s.stateHandler)
	return s.apiKeyMiddleware(mux)
}

// Start starts the demo engine.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo engine starting on http://localhost%s\n", addr)
	fmt.Printf("State at http://localhost%s/demo/state\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *DemoServer) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && strings.HasPrefix(r.URL.Path, "/JSON/") && r.URL.Query().Get("apikey") != s.cfg.APIKey {
			writeAPIError(w, http.StatusBadRequest, "bad_api_key", "Provided API key is invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *DemoServer) versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"version": s.cfg.Version})
}

func (s *DemoServer) accessURLHandler(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		writeAPIError(w, http.StatusBadRequest, "url_not_found", "URL Not Found in the Scan Tree")
		return
	}
	if strings.HasSuffix(u.Hostname(), ".invalid") {
		writeAPIError(w, http.StatusBadRequest, "does_not_exist", "Does Not Exist")
		return
	}
	s.mu.Lock()
	s.sites[siteRoot(u)] = true
	s.mu.Unlock()
	writeJSON(w, map[string]any{"accessUrl": []string{target}})
}

func (s *DemoServer) startHandler(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			writeAPIError(w, http.StatusBadRequest, "url_not_found", "URL Not Found in the Scan Tree")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.sites[siteRoot(u)] {
			writeAPIError(w, http.StatusBadRequest, "url_not_found", "URL Not Found in the Scan Tree")
			return
		}
		// scan ids start at 1
		s.nextID++
		id := strconv.Itoa(s.nextID)
		st := &scanState{ID: id, Target: target}
		if !active {
			s.spiders[id] = st
			writeJSON(w, map[string]string{"scan": id})
			return
		}
		s.scans[id] = st
		for _, a := range catalog(siteRoot(u)) {
			s.alerts[a.URL] = appendUnique(s.alerts[a.URL], a)
		}
		writeJSON(w, map[string]string{"scan": id})
	}
}

func (s *DemoServer) statusHandler(states map[string]*scanState, spider bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		st, ok := states[r.URL.Query().Get("scanId")]
		if !ok {
			writeAPIError(w, http.StatusBadRequest, "does_not_exist", "Does Not Exist")
			return
		}
		if !st.Stopped {
			step := s.cfg.ScanStep
			if spider {
				step = s.cfg.SpiderStep
			}
			st.Progress = min(100, st.Progress+step)
			if spider && s.cfg.StallSpiderAt > 0 {
				st.Progress = min(st.Progress, s.cfg.StallSpiderAt)
			}
		}
		writeJSON(w, map[string]string{"status": strconv.Itoa(st.Progress)})
	}
}

func (s *DemoServer) stopHandler(states map[string]*scanState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		st, ok := states[r.URL.Query().Get("scanId")]
		if !ok {
			writeAPIError(w, http.StatusBadRequest, "does_not_exist", "Does Not Exist")
			return
		}
		st.Stopped = true
		writeJSON(w, map[string]string{"Result": "OK"})
	}
}

// spiderResultsHandler returns the share of the site tree matching the
// spider's progress, always including the seed.
func (s *DemoServer) spiderResultsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.spiders[r.URL.Query().Get("scanId")]
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "does_not_exist", "Does Not Exist")
		return
	}
	u, _ := url.Parse(st.Target)
	tree := siteTree(siteRoot(u))
	n := max(1, len(tree)*st.Progress/100)
	results := append([]string{st.Target}, tree[:n]...)
	writeJSON(w, map[string][]string{"results": results})
}

func (s *DemoServer) alertsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base := q.Get("baseurl")
	start, _ := strconv.Atoi(q.Get("start"))
	count, _ := strconv.Atoi(q.Get("count"))

	s.mu.Lock()
	var all []Alert
	for u, list := range s.alerts {
		if strings.HasPrefix(u, base) {
			all = append(all, list...)
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].URL != all[j].URL {
			return all[i].URL < all[j].URL
		}
		return all[i].Alert < all[j].Alert
	})
	if start > len(all) {
		start = len(all)
	}
	all = all[start:]
	if count > 0 && count < len(all) {
		all = all[:count]
	}
	writeJSON(w, map[string][]Alert{"alerts": all})
}

// stateHandler dumps the emulator state for debugging.
func (s *DemoServer) stateHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sites := make([]string, 0, len(s.sites))
	for site := range s.sites {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	writeJSON(w, map[string]any{
		"sites":   sites,
		"spiders": s.spiders,
		"scans":   s.scans,
	})
}

func appendUnique(list []Alert, a Alert) []Alert {
	for _, existing := range list {
		if existing.Alert == a.Alert {
			return list
		}
	}
	return append(list, a)
}

func siteRoot(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
