package features

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/apperr"
	"github.com/trackshift/platform/docgateway/internal/flags"
	"github.com/trackshift/platform/docgateway/internal/ledger"
	"github.com/trackshift/platform/docgateway/internal/upload"
)

// State is where the loader is in its walk over the registrations.
type State int

const (
	Idle State = iota
	Scanning
	Validating
	Mounting
	Skipping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Validating:
		return "validating"
	case Mounting:
		return "mounting"
	case Skipping:
		return "skipping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Mounted describes a feature that is being served.
type Mounted struct {
	Name       string      `json:"name"`
	MountPath  string      `json:"mount_path"`
	UploadKind upload.Kind `json:"upload_kind"`
	Fields     []string    `json:"fields,omitempty"`
	FlagSource string      `json:"flag_source"`
}

// Loader mounts registrations onto a router once, at startup.
type Loader struct {
	regs     []Registration
	ctx      Context
	stager   *upload.Stager
	recorder ledger.Recorder
	logger   zerolog.Logger

	state   State
	mounted []Mounted
	skipped []*apperr.LoaderError
	paths   map[string]string

	// OnTransition, when set, observes every state change.
	OnTransition func(source string, from, to State)
}

// NewLoader prepares a loader. A nil recorder disables the ledger.
func NewLoader(regs []Registration, ctx Context, stager *upload.Stager, recorder ledger.Recorder) *Loader {
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	if ctx.Policies == nil {
		ctx.Policies = upload.DefaultRegistry()
	}
	if ctx.Flags == nil {
		ctx.Flags = flags.NewResolver(flags.Empty(), false)
	}
	return &Loader{
		regs:     regs,
		ctx:      ctx,
		stager:   stager,
		recorder: recorder,
		logger:   ctx.Logger.With().Str("component", "features").Logger(),
		paths:    map[string]string{},
	}
}

// State is the current loader state; Idle before and after Load.
func (l *Loader) State() State { return l.state }

// Mounted lists what Load mounted, in registration order.
func (l *Loader) Mounted() []Mounted {
	return append([]Mounted(nil), l.mounted...)
}

// Skipped lists why registrations were not mounted.
func (l *Loader) Skipped() []*apperr.LoaderError {
	return append([]*apperr.LoaderError(nil), l.skipped...)
}

func (l *Loader) transition(source string, to State) {
	if l.OnTransition != nil {
		l.OnTransition(source, l.state, to)
	}
	l.state = to
}

// Load walks every registration. A registration that fails in any way is
// logged and skipped; the others still load.
func (l *Loader) Load(r chi.Router) []Mounted {
	l.transition("", Scanning)
	for _, reg := range l.regs {
		l.transition(reg.Source, Validating)
		m, lerr := l.loadOne(r, reg)
		if lerr != nil {
			l.transition(reg.Source, Skipping)
			l.skipped = append(l.skipped, lerr)
			ev := l.logger.Warn()
			if lerr.Err != nil && !errors.Is(lerr.Err, errDisabled) {
				ev = l.logger.Error()
			}
			ev.Err(lerr).Str("source", reg.Source).Msg("feature skipped")
			l.transition(reg.Source, Scanning)
			continue
		}
		l.transition(reg.Source, Mounting)
		l.mounted = append(l.mounted, m)
		l.logger.Info().
			Str("feature", m.Name).
			Str("path", m.MountPath).
			Str("upload_kind", string(m.UploadKind)).
			Str("flag_source", m.FlagSource).
			Msg("feature mounted")
		l.transition(reg.Source, Scanning)
	}
	l.transition("", Idle)
	return l.Mounted()
}

var errDisabled = errors.New("disabled")

func (l *Loader) loadOne(r chi.Router, reg Registration) (m Mounted, lerr *apperr.LoaderError) {
	defer func() {
		if rec := recover(); rec != nil {
			lerr = &apperr.LoaderError{Source: reg.Source, Reason: "panic while loading", Err: fmt.Errorf("%v", rec)}
		}
	}()

	if reg.Factory == nil {
		return m, &apperr.LoaderError{Source: reg.Source, Reason: "no factory"}
	}
	d, err := reg.Factory(l.ctx)
	if err != nil {
		return m, &apperr.LoaderError{Source: reg.Source, Reason: "factory failed", Err: err}
	}
	if d == nil {
		return m, &apperr.LoaderError{Source: reg.Source, Reason: "factory returned no descriptor"}
	}
	if d.MountPath == "" || missingHandler(d.Handler) {
		return m, &apperr.LoaderError{Source: reg.Source, Reason: "descriptor needs a mount path and a handler"}
	}
	name := d.Name
	if name == "" {
		name = reg.Source
	}
	policy, err := l.ctx.Policies.PolicyFor(d.UploadKind)
	if err != nil {
		return m, &apperr.LoaderError{Source: reg.Source, Reason: "bad upload kind", Err: err}
	}
	if owner, dup := l.paths[d.MountPath]; dup {
		return m, &apperr.LoaderError{Source: reg.Source, Reason: fmt.Sprintf("mount path %s already served by %s", d.MountPath, owner)}
	}
	decision := l.ctx.Flags.Resolve(name)
	if !decision.Enabled {
		reason := "off by default in production"
		if decision.Key != "" {
			reason = fmt.Sprintf("turned off by %s %s", decision.Source, decision.Key)
		}
		return m, &apperr.LoaderError{Source: reg.Source, Reason: reason, Err: errDisabled}
	}

	sub := chi.NewRouter()
	sub.With(
		ledger.Middleware(l.recorder, name, l.logger),
		l.stager.Middleware(policy, d.Fields),
	).Post("/", d.Handler.ServeHTTP)
	r.Mount(d.MountPath, sub)
	l.paths[d.MountPath] = name

	return Mounted{
		Name:       name,
		MountPath:  d.MountPath,
		UploadKind: policy.Kind,
		Fields:     d.Fields,
		FlagSource: decision.Source,
	}, nil
}

// missingHandler also catches a nil func wrapped in a non-nil interface.
func missingHandler(h http.Handler) bool {
	switch fn := h.(type) {
	case nil:
		return true
	case http.HandlerFunc:
		return fn == nil
	}
	return false
}

// ListHandler serves the mounted features as JSON.
func (l *Loader) ListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apperr.WriteJSON(w, http.StatusOK, map[string]any{"features": l.Mounted()})
	}
}
