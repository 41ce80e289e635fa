// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/runwatch/lib/clock"
	"github.com/bureau-foundation/runwatch/lib/workdir"
	"github.com/bureau-foundation/runwatch/transport"
)

func newFiles(t *testing.T, root string) (*Files, *transport.Memory) {
	t.Helper()
	dir, err := workdir.Open(root)
	if err != nil {
		t.Fatalf("workdir.Open: %v", err)
	}
	memory := transport.NewMemory()
	files, err := NewFiles(FilesConfig{
		Dir:       dir,
		Transport: memory,
		Host:      "gpu-box",
		Token:     "a1b2c3d4",
		Clock:     clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("NewFiles: %v", err)
	}
	return files, memory
}

func writeFile(t *testing.T, root, name, content string, modified time.Time) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modified, modified); err != nil {
		t.Fatal(err)
	}
}

func TestListFilesPostsNewestFirst(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "old.log", "x", epoch.Add(-3*time.Hour))
	writeFile(t, root, "checkpoint-final.pt", strings.Repeat("w", 2048), epoch.Add(-90*time.Second))
	writeFile(t, root, ".hidden", "secret", epoch)
	files, memory := newFiles(t, root)

	if err := files.ListFiles(context.Background()); err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	notices := memory.Notices()
	if len(notices) != 1 {
		t.Fatalf("notices = %q, want one", notices)
	}
	notice := notices[0]
	for _, want := range []string{
		"- checkpoint-final.pt (2.0 KiB, 1m ago)",
		"- old.log (1 B, 3h ago)",
		"Download with: !download a1b2c3d4 <name>",
	} {
		if !strings.Contains(notice, want) {
			t.Errorf("notice missing %q:\n%s", want, notice)
		}
	}
	if strings.Contains(notice, ".hidden") {
		t.Errorf("notice lists a hidden file:\n%s", notice)
	}
	if strings.Index(notice, "checkpoint") > strings.Index(notice, "old.log") {
		t.Errorf("files not newest first:\n%s", notice)
	}
}

func TestListFilesEmptyDirectory(t *testing.T) {
	t.Parallel()
	files, memory := newFiles(t, t.TempDir())
	if err := files.ListFiles(context.Background()); err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	notices := memory.Notices()
	if len(notices) != 1 || !strings.HasPrefix(notices[0], "No files in ") {
		t.Errorf("notices = %q", notices)
	}
}

func TestSendFileUploadsContent(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "result.json", `{"loss": 0.25}`, epoch)
	files, memory := newFiles(t, root)

	if err := files.SendFile(context.Background(), "result.json"); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	sent := memory.Files()
	if len(sent) != 1 {
		t.Fatalf("files sent = %d, want 1", len(sent))
	}
	upload := sent[0].Upload
	if upload.Name != "result.json" || upload.ContentType != "application/json" {
		t.Errorf("upload = %+v", upload)
	}
	if string(sent[0].Content) != `{"loss": 0.25}` {
		t.Errorf("content = %q", sent[0].Content)
	}
	if !strings.HasPrefix(upload.Caption, "File from gpu-box: result.json (") {
		t.Errorf("caption = %q", upload.Caption)
	}
}

// failingUploads is a Memory transport whose uploads fail.
type failingUploads struct {
	*transport.Memory
}

func (failingUploads) SendFile(context.Context, transport.FileUpload) error {
	return errors.New("upload rejected: M_TOO_LARGE")
}

func TestSendFileNotifiesOnUploadFailure(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "model.bin", "weights", epoch)
	dir, err := workdir.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	sink := failingUploads{Memory: transport.NewMemory()}
	files, err := NewFiles(FilesConfig{Dir: dir, Transport: sink, Host: "gpu-box", Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatal(err)
	}

	if err := files.SendFile(context.Background(), "model.bin"); err == nil {
		t.Fatal("SendFile succeeded with a failing transport")
	}
	if notices := sink.Notices(); !slices.Equal(notices, []string{"Could not send model.bin."}) {
		t.Errorf("notices = %q", notices)
	}
}

func TestSendFileReportsViewerMistakes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		file   string
		notice string
	}{
		{"missing", "nope.txt", "File not found: nope.txt"},
		{"hidden", ".env", "File not found: .env"},
		{"escape", "../etc/passwd", "Refusing to send ../etc/passwd"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			files, memory := newFiles(t, t.TempDir())
			if err := files.SendFile(context.Background(), test.file); err != nil {
				t.Fatalf("SendFile: %v", err)
			}
			notices := memory.Notices()
			if len(notices) != 1 || !strings.HasPrefix(notices[0], test.notice) {
				t.Errorf("notices = %q, want prefix %q", notices, test.notice)
			}
			if len(memory.Files()) != 0 {
				t.Error("a file was sent")
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	t.Parallel()
	tests := []struct {
		age  time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{time.Minute, "1m"},
		{59*time.Minute + 59*time.Second, "59m"},
		{5 * time.Hour, "5h"},
		{49 * time.Hour, "2d"},
	}
	for _, test := range tests {
		if got := FormatAge(test.age); got != test.want {
			t.Errorf("FormatAge(%v) = %q, want %q", test.age, got, test.want)
		}
	}
}
