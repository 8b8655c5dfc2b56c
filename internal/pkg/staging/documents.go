package staging

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ManuelReschke/PropServe/internal/pkg/upload"
)

var dataURIPrefix = regexp.MustCompile(`^data:[a-zA-Z0-9.+/-]+;base64,`)

// Documents stores identity documents on local disk below root. Every staging
// record owns the directory <root>/documents/<stagingID>.
type Documents struct {
	root string
}

func NewDocuments(root string) *Documents {
	if root == "" {
		root = "uploads"
	}
	return &Documents{root: root}
}

func (d *Documents) dir(stagingID string) string {
	return filepath.Join(d.root, "documents", stagingID)
}

// Save validates and writes an uploaded document under a collision-resistant
// name. The file is synced before Save returns.
func (d *Documents) Save(stagingID string, docType DocumentType, filename string, r io.Reader) (ArtifactRef, error) {
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return ArtifactRef{}, fmt.Errorf("read %s: %w", docType, err)
	}
	mime, err := upload.ValidateDocumentBySniff(filename, head)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("%w: %s: %v", ErrValidation, docType, err)
	}

	name := fmt.Sprintf("%s-%s%s", docType, uuid.New().String(), upload.ExtensionFor(mime))
	path := filepath.Join(d.dir(stagingID), name)
	size, err := writeFileSync(path, io.LimitReader(br, upload.MaxDocumentBytes+1))
	if err != nil {
		return ArtifactRef{}, err
	}
	if size > upload.MaxDocumentBytes {
		_ = os.Remove(path)
		return ArtifactRef{}, fmt.Errorf("%w: %s: %v", ErrValidation, docType, upload.ErrTooLarge)
	}

	return ArtifactRef{Type: docType, Path: path, ContentType: mime, Size: size}, nil
}

// SaveLate writes a document captured after staging (base64, optionally as a
// data URI). The target name is derived from the staging id and type, so
// repeating the call overwrites instead of adding files.
func (d *Documents) SaveLate(stagingID string, docType DocumentType, encoded string) (ArtifactRef, error) {
	raw := dataURIPrefix.ReplaceAllString(strings.TrimSpace(encoded), "")
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("%w: %s is not valid base64", ErrValidation, docType)
	}
	mime, ext, err := upload.ValidateDocumentBytes(data)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("%w: %s: %v", ErrValidation, docType, err)
	}

	path := filepath.Join(d.dir(stagingID), fmt.Sprintf("%s-late%s", docType, ext))
	size, err := writeFileSync(path, bytes.NewReader(data))
	if err != nil {
		return ArtifactRef{}, err
	}
	return ArtifactRef{Type: docType, Path: path, ContentType: mime, Size: size}, nil
}

// Remove deletes individual documents. Missing files are ignored.
func (d *Documents) Remove(refs ...ArtifactRef) error {
	var errs []error
	for _, ref := range refs {
		if err := os.Remove(ref.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveAll deletes every document stored for a staging id.
func (d *Documents) RemoveAll(stagingID string) error {
	if stagingID == "" || strings.ContainsAny(stagingID, `/\.`) {
		return fmt.Errorf("refusing to remove documents for staging id %q", stagingID)
	}
	return os.RemoveAll(d.dir(stagingID))
}

// writeFileSync writes via a temp file, fsyncs and renames into place.
func writeFileSync(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("create document dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp document: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("move document into place: %w", err)
	}
	return n, nil
}
