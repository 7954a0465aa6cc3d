package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/coral-mesh/stacksampler/internal/config"
	"github.com/coral-mesh/stacksampler/pkg/sampler"
)

// Result codes reported for control actions.
const (
	CodeStarted   = 1
	CodeStopped   = 2
	CodeSuspended = 3

	CodeUnknownTarget = 10000
	CodeMissingAction = 10001
	CodeUnknownFormat = 10002
	CodeUnknownAction = 10004
	CodeFailure       = 10005
)

// Action names.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionSuspend = "suspend"
)

// Action is one control request.
type Action struct {
	Name      string
	Interval  time.Duration // zero selects the default
	Depth     int           // zero selects the default
	Format    string        // stop only; empty selects the default
	Directory string        // stop only; empty keeps the current directory
	Process   string        // stop only; empty selects the executable name
}

// Result reports the outcome of an Action.
type Result struct {
	Code  int    `json:"code"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handle executes a control action and reports a result code.
func (c *Controller) Handle(a Action) Result {
	switch a.Name {
	case "":
		c.logger.Error().Msg("Please provide an action")
		return Result{Code: CodeMissingAction, Error: "missing action"}

	case ActionStart:
		if err := c.Start(a.Interval, a.Depth); err != nil {
			return failure(err)
		}
		return Result{Code: CodeStarted}

	case ActionStop:
		if a.Format != "" {
			if err := config.ValidateFormat(a.Format); err != nil {
				c.logger.Error().Str("format", a.Format).Msg("Unknown format")
				return Result{Code: CodeUnknownFormat, Error: err.Error()}
			}
		}
		if a.Directory != "" {
			c.SetStorageDirectory(a.Directory)
		}
		path, err := c.Stop(a.Process, a.Format)
		if err != nil {
			return failure(err)
		}
		return Result{Code: CodeStopped, Data: path}

	case ActionSuspend:
		c.Suspend()
		return Result{Code: CodeSuspended}

	default:
		c.logger.Error().Str("action", a.Name).Msg("Unknown action")
		return Result{Code: CodeUnknownAction, Error: fmt.Sprintf("unknown action %q", a.Name)}
	}
}

func failure(err error) Result {
	return Result{Code: CodeFailure, Error: err.Error()}
}

// RegisterRoutes mounts the control endpoints on r:
//
//	POST /profiler            -> missing action
//	POST /profiler/{action}   -> start | stop | suspend
//	GET  /profiler            -> session status
func (c *Controller) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/profiler", c.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/profiler", c.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/profiler/{action}", c.handleAction).Methods(http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeResult(w, http.StatusNotFound, Result{Code: CodeUnknownTarget, Error: "unknown target " + req.URL.Path})
	})
}

// Router returns a router serving only the control endpoints.
func (c *Controller) Router() *mux.Router {
	r := mux.NewRouter()
	c.RegisterRoutes(r)
	return r
}

func (c *Controller) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    c.Active(),
		"directory": c.StorageDirectory(),
	})
}

func (c *Controller) handleAction(w http.ResponseWriter, req *http.Request) {
	action, err := parseAction(req)
	if err != nil {
		writeResult(w, http.StatusBadRequest, failure(err))
		return
	}
	res := c.Handle(action)
	writeResult(w, statusFor(res.Code), res)
}

func parseAction(req *http.Request) (Action, error) {
	q := req.URL.Query()
	a := Action{
		Name:      mux.Vars(req)["action"],
		Format:    q.Get("format"),
		Directory: q.Get("directory"),
		Process:   q.Get("process"),
	}

	if v := q.Get("interval"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return Action{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		if d < 0 {
			return Action{}, fmt.Errorf("%w: got %q", sampler.ErrInvalidInterval, v)
		}
		a.Interval = d
	}
	if v := q.Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Action{}, fmt.Errorf("invalid depth %q: %w", v, err)
		}
		if n < 0 {
			return Action{}, fmt.Errorf("%w: got %q", sampler.ErrInvalidDepth, v)
		}
		a.Depth = n
	}
	return a, nil
}

// parseInterval accepts milliseconds or a Go duration string.
func parseInterval(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func statusFor(code int) int {
	switch code {
	case CodeStarted, CodeStopped, CodeSuspended:
		return http.StatusOK
	case CodeFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeResult(w http.ResponseWriter, status int, res Result) {
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
