// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/runwatch/lib/action"
	"github.com/bureau-foundation/runwatch/lib/clock"
	"github.com/bureau-foundation/runwatch/lib/workdir"
	"github.com/bureau-foundation/runwatch/transport"
)

// listNameWidth is the display width of file names in listings.
const listNameWidth = 20

// FilesConfig configures a Files service.
type FilesConfig struct {
	Dir       *workdir.Dir
	Transport transport.Transport
	// Host appears in upload captions.
	Host string
	// Token appears in the download hint of listings.
	Token string
	// Limit caps the listing; below 1 selects workdir.DefaultListLimit.
	Limit int
	// CompressThreshold is passed to workdir.Dir.Prepare.
	CompressThreshold int64
	Clock             clock.Clock
	Logger            *slog.Logger
}

// Files answers list and download actions by posting to the transport.
// Problems the viewer caused (a missing file, a bad name) are reported
// back as notices rather than returned.
type Files struct {
	dir       *workdir.Dir
	transport transport.Transport
	host      string
	token     string
	limit     int
	threshold int64
	clock     clock.Clock
	logger    *slog.Logger
}

var _ action.FileService = (*Files)(nil)

// NewFiles validates config.
func NewFiles(config FilesConfig) (*Files, error) {
	if config.Dir == nil {
		return nil, fmt.Errorf("watch: Dir is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("watch: Transport is required")
	}
	files := &Files{
		dir:       config.Dir,
		transport: config.Transport,
		host:      config.Host,
		token:     config.Token,
		limit:     config.Limit,
		threshold: config.CompressThreshold,
		clock:     config.Clock,
		logger:    config.Logger,
	}
	if files.limit < 1 {
		files.limit = workdir.DefaultListLimit
	}
	if files.clock == nil {
		files.clock = clock.Real()
	}
	if files.logger == nil {
		files.logger = slog.Default()
	}
	return files, nil
}

// ListFiles posts the most recently modified files.
func (f *Files) ListFiles(ctx context.Context) error {
	entries, err := f.dir.List(f.limit)
	if err != nil {
		f.logger.Warn("listing working directory failed", "error", err)
		return f.transport.Notify(ctx, "Could not list files in "+f.dir.Path()+".")
	}
	if len(entries) == 0 {
		return f.transport.Notify(ctx, "No files in "+f.dir.Path()+".")
	}

	now := f.clock.Now()
	var builder strings.Builder
	fmt.Fprintf(&builder, "Recent files in %s:\n", f.dir.Path())
	for _, entry := range entries {
		fmt.Fprintf(&builder, "- %s (%s, %s ago)\n",
			workdir.ShortName(entry.Name, listNameWidth),
			workdir.FormatSize(entry.Size),
			FormatAge(now.Sub(entry.ModTime)))
	}
	fmt.Fprintf(&builder, "Download with: !download %s <name>", f.token)
	return f.transport.Notify(ctx, builder.String())
}

// SendFile uploads one file from the working directory.
func (f *Files) SendFile(ctx context.Context, name string) error {
	upload, err := f.dir.Prepare(name, f.threshold)
	switch {
	case errors.Is(err, workdir.ErrNotFound):
		return f.transport.Notify(ctx, fmt.Sprintf("File not found: %s", name))
	case errors.Is(err, workdir.ErrOutsideRoot):
		return f.transport.Notify(ctx, fmt.Sprintf("Refusing to send %s: only files directly in the working directory can be downloaded.", name))
	case err != nil:
		f.logger.Warn("preparing upload failed", "name", name, "error", err)
		return f.transport.Notify(ctx, fmt.Sprintf("Could not read %s.", name))
	}
	defer upload.Close()

	f.logger.Info("sending file",
		"name", upload.Name,
		"size", upload.Size,
		"compressed", upload.Compressed,
	)
	err = f.transport.SendFile(ctx, transport.FileUpload{
		Name:        upload.Name,
		ContentType: upload.ContentType,
		Size:        upload.Size,
		Caption:     upload.Caption(f.host),
		Open:        upload.Open,
	})
	if err != nil {
		if notifyErr := f.transport.Notify(ctx, fmt.Sprintf("Could not send %s.", name)); notifyErr != nil {
			f.logger.Warn("posting notice failed", "error", notifyErr)
		}
		return fmt.Errorf("watch: sending %s: %w", name, err)
	}
	return nil
}

// FormatAge renders a duration coarsely: seconds, minutes, hours, then
// days.
func FormatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", max(0, int(age/time.Second)))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age/time.Minute))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(age/(24*time.Hour)))
	}
}
