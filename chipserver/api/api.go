// Package api exposes one chip over HTTP. Requests are JSON; register values
// travel as the display strings of the chip.
package api

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

type API struct {
	mux *http.ServeMux

	mu   sync.Mutex
	chip *chip.Chip
}

const (
	ctJSON string = "application/json"
	ctYAML string = "application/x-yaml"

	maxBody = 1 << 20
)

// Request selects the registers an endpoint works on. An empty register and
// block selects the whole chip.
type Request struct {
	Space     string         `json:"space,omitempty"`
	Block     string         `json:"block,omitempty"`
	Register  string         `json:"register,omitempty"`
	Field     string         `json:"field,omitempty"`
	FullArray bool           `json:"full_array,omitempty"`
	Verify    bool           `json:"verify,omitempty"`
	Value     string         `json:"value,omitempty"`
	Indexers  map[string]int `json:"indexers,omitempty"`
}

type Response struct {
	Value    string            `json:"value,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
	Modified map[string]string `json:"modified,omitempty"`
}

type ErrorResponse struct {
	Kind      string   `json:"kind"`
	Error     string   `json:"error"`
	Addresses []uint32 `json:"addresses,omitempty"`
}

type InfoResponse struct {
	chip.Info
	Indexers map[string]int `json:"indexers"`
}

func New(c *chip.Chip) (*API, error) {
	if c == nil {
		return nil, errors.New("no chip")
	}

	mux := &http.ServeMux{}
	s := &API{
		mux:  mux,
		chip: c,
	}

	mux.HandleFunc("/info", s.method("GET", ScopeRead, s.infoHandler))
	mux.HandleFunc("/read", s.method("POST", ScopeRead, s.readHandler))
	mux.HandleFunc("/write", s.method("POST", ScopeWrite, s.writeHandler))
	mux.HandleFunc("/display", s.method("POST", ScopeRead, s.displayHandler))
	mux.HandleFunc("/field", s.method("POST", ScopeRead, s.fieldHandler))
	mux.HandleFunc("/modified", s.method("GET", ScopeRead, s.modifiedHandler))
	mux.HandleFunc("/config", s.configHandler)
	mux.HandleFunc("/reset", s.method("POST", ScopeWrite, func(w http.ResponseWriter, r *http.Request) {
		s.chip.ResetConfig()
		s.sendJSON(w, &Response{})
	}))
	mux.HandleFunc("/revert", s.method("POST", ScopeWrite, func(w http.ResponseWriter, r *http.Request) {
		s.chip.RevertConfig()
		s.sendJSON(w, &Response{})
	}))

	return s, nil
}

// method rejects other HTTP methods and users below scope, then runs
// handler with the chip locked.
func (s *API) method(m string, scope Scope, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(w, r, scope) {
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		handler(w, r)
	}
}

func (s *API) sendJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ctJSON)
	w.Write(data)
}

// StatusOf maps an engine error to an HTTP status code.
func StatusOf(err error) int {
	cause := errors.Cause(err)
	if errors.IsUnauthorized(cause) {
		return http.StatusForbidden
	}
	if errors.IsNotFound(cause) {
		return http.StatusNotFound
	}
	if errors.IsNotValid(cause) {
		return http.StatusBadRequest
	}
	switch regerr.KindOf(err) {
	case regerr.KindUnbound:
		return http.StatusConflict
	case regerr.KindTransport, regerr.KindVerifyMismatch:
		return http.StatusBadGateway
	case regerr.KindReadOnly:
		return http.StatusForbidden
	case regerr.KindInvalidValue, regerr.KindInvalidIndexer:
		return http.StatusBadRequest
	case regerr.KindUnknownChipOrVersion:
		return http.StatusUnprocessableEntity
	case regerr.KindNotSupported:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (s *API) sendError(w http.ResponseWriter, err error) {
	glog.V(1).Infof("api: %v", errors.ErrorStack(err))

	kind := regerr.KindOf(err).String()
	if errors.IsUnauthorized(errors.Cause(err)) {
		kind = "forbidden"
	}
	data, _ := json.Marshal(&ErrorResponse{
		Kind:      kind,
		Error:     err.Error(),
		Addresses: regerr.VerifyAddresses(err),
	})
	w.Header().Set("Content-Type", ctJSON)
	w.WriteHeader(StatusOf(err))
	w.Write(data)
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := ioutil.ReadAll(io.LimitReader(r.Body, maxBody))
	return data, errors.Trace(err)
}

// request decodes the body and applies its indexers.
func (s *API) request(w http.ResponseWriter, r *http.Request) (*Request, bool) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	req := &Request{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, false
		}
	}

	for name, v := range req.Indexers {
		if err := s.chip.SetIndexer(name, v); err != nil {
			s.sendError(w, err)
			return nil, false
		}
	}
	return req, true
}

func (s *API) infoHandler(w http.ResponseWriter, r *http.Request) {
	info := &InfoResponse{Info: s.chip.Info(), Indexers: make(map[string]int)}
	for _, ix := range s.chip.Indexers() {
		info.Indexers[ix.Name], _ = s.chip.Indexer(ix.Name)
	}
	s.sendJSON(w, info)
}

// blockValues returns the display strings of every register of a block.
func (s *API) blockValues(req *Request) (map[string]string, error) {
	sp, err := s.chip.Space(req.Space)
	if err != nil {
		return nil, err
	}
	ref, err := s.chip.Resolve(req.Space, req.Block, req.FullArray)
	if err != nil {
		return nil, err
	}
	addrs, err := sp.Addresses(ref)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for _, a := range addrs {
		v, err := sp.DisplayAt(a)
		if err != nil {
			return nil, err
		}
		values[sp.RegisterName(a)] = v.Format(sp.Frame())
	}
	return values, nil
}

func (s *API) respond(w http.ResponseWriter, req *Request, opErr error) {
	rsp := &Response{}
	var err error
	switch {
	case req.Register != "":
		rsp.Value, err = s.chip.DisplayString(req.Space, req.Block, req.Register)
	case req.Block != "":
		rsp.Values, err = s.blockValues(req)
	}

	if opErr != nil {
		s.sendError(w, opErr)
		return
	}
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, rsp)
}

func (s *API) readHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}

	var err error
	switch {
	case req.Register != "":
		err = s.chip.ReadRegister(req.Space, req.Block, req.Register)
	case req.Block != "":
		err = s.chip.ReadBlock(req.Space, req.Block, req.FullArray)
	default:
		err = s.chip.ReadAll()
	}
	s.respond(w, req, err)
}

// writeHandler stages an optional value and writes the selection.
func (s *API) writeHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}

	var err error
	switch {
	case req.Field != "":
		if req.Block == "" {
			err = errors.NotValidf("field write without block")
			break
		}
		if req.Value != "" {
			err = s.chip.SetFieldString(req.Space, req.Block, req.Field, req.Value)
		}
		if err == nil {
			err = s.chip.WriteBlock(req.Space, req.Block, false, req.Verify)
		}
		if err == nil {
			var v string
			v, err = s.chip.FieldString(req.Space, req.Block, req.Field)
			if err == nil {
				s.sendJSON(w, &Response{Value: v})
				return
			}
		}
		s.sendError(w, err)
		return

	case req.Register != "":
		if req.Value != "" {
			err = s.chip.SetDisplayString(req.Space, req.Block, req.Register, req.Value)
		}
		if err == nil {
			err = s.chip.WriteRegister(req.Space, req.Block, req.Register, req.Verify)
		}
	case req.Block != "":
		err = s.chip.WriteBlock(req.Space, req.Block, req.FullArray, req.Verify)
	default:
		err = s.chip.WriteAll(req.Verify)
	}
	s.respond(w, req, err)
}

// displayHandler reads or edits a display value without bus traffic.
func (s *API) displayHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	if req.Block == "" {
		s.sendError(w, errors.NotValidf("display request without block"))
		return
	}

	var err error
	if req.Register != "" && req.Value != "" {
		if !s.allowed(w, r, ScopeWrite) {
			return
		}
		err = s.chip.SetDisplayString(req.Space, req.Block, req.Register, req.Value)
	}
	s.respond(w, req, err)
}

func (s *API) fieldHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	if req.Block == "" || req.Field == "" {
		s.sendError(w, errors.NotValidf("field request without block and field"))
		return
	}

	if req.Value != "" {
		if !s.allowed(w, r, ScopeWrite) {
			return
		}
		if err := s.chip.SetFieldString(req.Space, req.Block, req.Field, req.Value); err != nil {
			s.sendError(w, err)
			return
		}
	}
	v, err := s.chip.FieldString(req.Space, req.Block, req.Field)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, &Response{Value: v})
}

func (s *API) modifiedHandler(w http.ResponseWriter, r *http.Request) {
	spaces := s.chip.Spaces()
	if q := r.URL.Query().Get("space"); q != "" {
		spaces = []string{q}
	}
	s.sendModified(w, spaces)
}

func wantsJSON(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return strings.EqualFold(f, "json")
	}
	return strings.Contains(r.Header.Get("Content-Type"), "json") || strings.Contains(r.Header.Get("Accept"), "json")
}

// configHandler returns the display configuration on GET and applies a
// posted one. ?write=1 also writes it to the device.
func (s *API) configHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asJSON := wantsJSON(r)

	switch r.Method {
	case "GET":
		data, err := chip.MarshalConfig(s.chip.Config(), asJSON)
		if err != nil {
			s.sendError(w, err)
			return
		}
		if asJSON {
			w.Header().Set("Content-Type", ctJSON)
		} else {
			w.Header().Set("Content-Type", ctYAML)
		}
		w.Write(data)

	case "POST":
		if !s.allowed(w, r, ScopeWrite) {
			return
		}
		body, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg, err := chip.UnmarshalConfig(body, asJSON)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.chip.ApplyConfig(cfg); err != nil {
			s.sendError(w, err)
			return
		}
		if r.URL.Query().Get("write") != "" {
			if err := s.chip.WriteAll(r.URL.Query().Get("verify") != ""); err != nil {
				s.sendError(w, err)
				return
			}
		}
		s.sendModified(w, s.chip.Spaces())

	default:
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
	}
}

func (s *API) sendModified(w http.ResponseWriter, spaces []string) {
	rsp := &Response{Modified: make(map[string]string)}
	for _, name := range spaces {
		state, err := s.chip.IsModified(name)
		if err != nil {
			s.sendError(w, err)
			return
		}
		rsp.Modified[name] = state.String()
	}
	s.sendJSON(w, rsp)
}

func (s *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
