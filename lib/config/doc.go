// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads runwatch configuration.
//
// Configuration comes from at most one file, named by the --config
// flag (via [LoadFile]) or the RUNWATCH_CONFIG environment variable
// (via [Load]). There is no discovery. YAML is the primary format;
// files ending in .json or .jsonc are accepted as JSON with comments
// and trailing commas.
//
// Matrix credentials the file leaves empty fall back to the
// RUNWATCH_MATRIX_TOKEN, RUNWATCH_MATRIX_ROOM and RUNWATCH_HOMESERVER
// environment variables. Command-line flags are applied by the caller
// after loading and win over everything. ${HOME} and ${VAR:-default}
// patterns are expanded in work_dir and matrix.token_file.
package config
