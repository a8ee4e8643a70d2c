// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// mountPprof exposes the pprof endpoints on the main router under
// /debug. Enable only on trusted networks.
func mountPprof(r chi.Router) {
	log.Info().Msg("pprof profiling endpoints enabled at /debug/pprof")
	r.Mount("/debug", chimiddleware.Profiler())
}
