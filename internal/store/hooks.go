// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"time"

	"github.com/gasmesh/gateway/pkg/log"
)

type hookKey struct{}

// Hooks satisfies the sqlhooks.Hooks interface, logging query timing at
// debug level. It carries no state of its own.
type Hooks struct{}

// Before stashes the start time on the context and logs the query.
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("store: query %s %q", query, args)
	return context.WithValue(ctx, hookKey{}, time.Now()), nil
}

// After logs the elapsed time recorded by Before.
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin, _ := ctx.Value(hookKey{}).(time.Time)
	log.Debugf("store: query took %s", time.Since(begin))
	return ctx, nil
}
