package middleware

import (
	"net/http"
	"net/http/pprof"
)

// ProfilingPrefix is where the pprof handlers are mounted.
const ProfilingPrefix = "/debug/pprof/"

// RegisterProfiling mounts the pprof handlers on mux. The endpoints expose
// process memory and must stay off in production.
func RegisterProfiling(mux *http.ServeMux) {
	mux.HandleFunc("GET "+ProfilingPrefix, pprof.Index)
	mux.HandleFunc("GET "+ProfilingPrefix+"cmdline", pprof.Cmdline)
	mux.HandleFunc("GET "+ProfilingPrefix+"profile", pprof.Profile)
	mux.HandleFunc("GET "+ProfilingPrefix+"symbol", pprof.Symbol)
	mux.HandleFunc("POST "+ProfilingPrefix+"symbol", pprof.Symbol)
	mux.HandleFunc("GET "+ProfilingPrefix+"trace", pprof.Trace)
}
