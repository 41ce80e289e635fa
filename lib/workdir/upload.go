// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workdir

import (
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// DefaultCompressThreshold is the file size above which Prepare tries
// zstd compression.
const DefaultCompressThreshold = 1 << 20

// Upload is a file ready to send. It holds the file opened inside the
// root, and Open serves exactly the bytes that were hashed, so a later
// rename, symlink swap or append does not change what is sent. Close
// it when done.
type Upload struct {
	// Name is the name presented to the viewer ("x.log.zst" when
	// compressed).
	Name        string
	ContentType string
	// Size is the number of bytes Open yields.
	Size int64
	// Source describes the original file.
	Source File
	// Digest is the BLAKE3-256 of the original content, hex encoded.
	Digest     string
	Compressed bool

	// file is the original, kept open when sent uncompressed.
	file *os.File
	// path is the temporary compressed copy.
	path      string
	temporary bool
}

// Open returns a reader over the upload content, exactly Size bytes
// long. Each call starts from the beginning.
func (upload *Upload) Open() (io.ReadCloser, error) {
	if upload.temporary {
		return os.Open(upload.path)
	}
	if upload.file == nil {
		return nil, fmt.Errorf("workdir: upload %s is closed", upload.Name)
	}
	return io.NopCloser(io.NewSectionReader(upload.file, 0, upload.Size)), nil
}

// Close releases the original file and removes the temporary
// compressed copy, if any.
func (upload *Upload) Close() error {
	var err error
	if upload.file != nil {
		err = upload.file.Close()
		upload.file = nil
	}
	if upload.temporary {
		upload.temporary = false
		if removeErr := os.Remove(upload.path); removeErr != nil && err == nil {
			err = removeErr
		}
	}
	return err
}

// Caption is the message accompanying the file.
func (upload *Upload) Caption(host string) string {
	caption := fmt.Sprintf("File from %s: %s (%s, blake3 %s)",
		host, upload.Source.Name, FormatSize(upload.Source.Size), upload.Digest[:16])
	if upload.Compressed {
		caption += fmt.Sprintf(", zstd %s", FormatSize(upload.Size))
	}
	return caption
}

// Prepare hashes the named file and, when it is larger than threshold
// (DefaultCompressThreshold if threshold is 0; negative disables),
// compresses it with zstd. The compressed copy is used only if it is
// smaller than the original.
func (dir *Dir) Prepare(name string, threshold int64) (*Upload, error) {
	file, info, err := dir.OpenFile(name)
	if err != nil {
		return nil, err
	}
	keep := false
	defer func() {
		if !keep {
			file.Close()
		}
	}()

	if threshold == 0 {
		threshold = DefaultCompressThreshold
	}
	upload := &Upload{
		Name:        info.Name,
		ContentType: contentType(info.Name),
		Size:        info.Size,
		Source:      info,
	}

	// Only the bytes present at Stat time are hashed and sent; a file
	// still being written keeps growing past that snapshot.
	snapshot := io.LimitReader(file, info.Size)
	hasher := blake3.New()
	if threshold < 0 || info.Size <= threshold {
		hashed, err := io.Copy(hasher, snapshot)
		if err != nil {
			return nil, fmt.Errorf("workdir: hashing %s: %w", name, err)
		}
		// Truncated since Stat: send what is there.
		upload.Size = hashed
		upload.Source.Size = hashed
		upload.Digest = hex.EncodeToString(hasher.Sum(nil))
		upload.file = file
		keep = true
		return upload, nil
	}

	counter := &countingReader{reader: snapshot}
	compressedPath, compressedSize, err := compress(io.TeeReader(counter, hasher))
	if err != nil {
		return nil, fmt.Errorf("workdir: compressing %s: %w", name, err)
	}
	upload.Digest = hex.EncodeToString(hasher.Sum(nil))
	upload.Size = counter.count
	upload.Source.Size = counter.count
	if compressedSize >= counter.count {
		os.Remove(compressedPath)
		upload.file = file
		keep = true
		return upload, nil
	}

	upload.Name = info.Name + ".zst"
	upload.ContentType = "application/zstd"
	upload.Size = compressedSize
	upload.Compressed = true
	upload.path = compressedPath
	upload.temporary = true
	return upload, nil
}

type countingReader struct {
	reader io.Reader
	count  int64
}

func (counter *countingReader) Read(buffer []byte) (int, error) {
	n, err := counter.reader.Read(buffer)
	counter.count += int64(n)
	return n, err
}

// compress writes a zstd stream of source to a temporary file and
// returns its path and size.
func compress(source io.Reader) (string, int64, error) {
	output, err := os.CreateTemp("", "runwatch-upload-*.zst")
	if err != nil {
		return "", 0, err
	}
	path := output.Name()
	fail := func(err error) (string, int64, error) {
		output.Close()
		os.Remove(path)
		return "", 0, err
	}

	encoder, err := zstd.NewWriter(output, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fail(err)
	}
	if _, err := io.Copy(encoder, source); err != nil {
		encoder.Close()
		return fail(err)
	}
	if err := encoder.Close(); err != nil {
		return fail(err)
	}
	info, err := output.Stat()
	if err != nil {
		return fail(err)
	}
	if err := output.Close(); err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, info.Size(), nil
}

func contentType(name string) string {
	if byExtension := mime.TypeByExtension(filepath.Ext(name)); byExtension != "" {
		return byExtension
	}
	return "application/octet-stream"
}
