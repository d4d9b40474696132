// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks instance (a raw config file's JSON bytes) against
// schema, catching config typos - an unknown link role, a missing
// device path - before any hardware I/O is attempted.
func Validate(schema string, instance []byte) error {
	sch, err := jsonschema.CompileString("gateway-config.json", schema)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}
