// Package vectorindex keeps, per user, an embedding matrix and the parallel
// metadata list describing each row. Both are loaded in full on every
// operation and persisted together.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/larder/internal/atomicfile"
	"github.com/felixgeelhaar/larder/internal/entry"
	"github.com/felixgeelhaar/larder/internal/ledger"
)

const (
	vectorsFile  = "vectors.bin"
	metadataFile = "metadata.json"
)

var (
	ErrCorrupt   = errors.New("vector index corrupt")
	ErrDimension = errors.New("vector dimension mismatch")
)

// Embedder produces the vector stored for a searchable text.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Data is one user's index. Vectors[i] always belongs to Metadata[i].
type Data struct {
	Vectors  [][]float32
	Metadata []entry.Metadata
}

// Len returns the number of indexed entries.
func (d *Data) Len() int {
	return len(d.Metadata)
}

// Find returns the row holding id, or -1.
func (d *Data) Find(id string) int {
	for i, m := range d.Metadata {
		if m.EntryID == id {
			return i
		}
	}
	return -1
}

// Index stores user indexes under <data>/vectors.
type Index struct {
	root     string
	embedder Embedder
}

// New returns an Index rooted at dataDir/vectors.
func New(dataDir string, embedder Embedder) *Index {
	return &Index{
		root:     filepath.Join(dataDir, "vectors"),
		embedder: embedder,
	}
}

func (x *Index) dir(user string) string {
	return filepath.Join(x.root, user)
}

// Load reads the index for user. A user without files has an empty index.
func (x *Index) Load(user string) (*Data, error) {
	if err := ledger.ValidateUser(user); err != nil {
		return nil, err
	}
	dir := x.dir(user)
	d := &Data{}

	raw, err := os.ReadFile(filepath.Join(dir, vectorsFile)) // #nosec G304
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	default:
		if d.Vectors, err = decodeVectors(raw); err != nil {
			return nil, fmt.Errorf("user %s: %w", user, err)
		}
	}

	raw, err = os.ReadFile(filepath.Join(dir, metadataFile)) // #nosec G304
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	default:
		if err := json.Unmarshal(raw, &d.Metadata); err != nil {
			return nil, fmt.Errorf("%w: user %s: invalid metadata: %v", ErrCorrupt, user, err)
		}
	}

	if len(d.Vectors) != len(d.Metadata) {
		return nil, fmt.Errorf("%w: user %s has %d vectors but %d metadata records",
			ErrCorrupt, user, len(d.Vectors), len(d.Metadata))
	}
	return d, nil
}

// Save persists d for user. Both files are staged before either replaces
// its predecessor.
func (x *Index) Save(user string, d *Data) error {
	if err := ledger.ValidateUser(user); err != nil {
		return err
	}
	if len(d.Vectors) != len(d.Metadata) {
		return fmt.Errorf("%w: refusing to save %d vectors with %d metadata records",
			ErrCorrupt, len(d.Vectors), len(d.Metadata))
	}

	vecData, err := encodeVectors(d.Vectors)
	if err != nil {
		return err
	}
	meta := d.Metadata
	if meta == nil {
		meta = []entry.Metadata{}
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	dir := x.dir(user)
	vecPath := filepath.Join(dir, vectorsFile)
	metaPath := filepath.Join(dir, metadataFile)

	vecTmp, err := atomicfile.Stage(vecPath, vecData)
	if err != nil {
		return err
	}
	metaTmp, err := atomicfile.Stage(metaPath, metaData)
	if err != nil {
		os.Remove(vecTmp)
		return err
	}
	if err := atomicfile.Commit(vecTmp, vecPath); err != nil {
		os.Remove(metaTmp)
		return err
	}
	return atomicfile.Commit(metaTmp, metaPath)
}

// Append embeds e and adds it to the user's index. e must carry its ID and
// Date, as assigned by the ledger.
func (x *Index) Append(ctx context.Context, user string, e entry.Entry) (string, error) {
	day, err := e.Day()
	if err != nil {
		return "", fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if e.ID == "" {
		return "", fmt.Errorf("%w: entry id is required for indexing", entry.ErrInvalid)
	}

	d, err := x.Load(user)
	if err != nil {
		return "", err
	}

	text := e.SearchableText(day)
	vec := x.embedder.Embed(ctx, text)
	if len(d.Vectors) > 0 && len(vec) != len(d.Vectors[0]) {
		return "", fmt.Errorf("%w: got %d values, index holds %d", ErrDimension, len(vec), len(d.Vectors[0]))
	}

	d.Vectors = append(d.Vectors, vec)
	d.Metadata = append(d.Metadata, e.Project(text))
	if err := x.Save(user, d); err != nil {
		return "", err
	}
	return e.ID, nil
}

// Find locates id in the user's index.
func (x *Index) Find(user, id string) (entry.Metadata, bool, error) {
	d, err := x.Load(user)
	if err != nil {
		return entry.Metadata{}, false, err
	}
	i := d.Find(id)
	if i < 0 {
		return entry.Metadata{}, false, nil
	}
	return d.Metadata[i], true, nil
}

// RemoveAt deletes row i from both arrays and persists the result.
func (x *Index) RemoveAt(user string, i int) (entry.Metadata, error) {
	d, err := x.Load(user)
	if err != nil {
		return entry.Metadata{}, err
	}
	return x.removeAt(user, d, i)
}

// Remove deletes the row holding id. It reports false when id is not
// indexed, in which case nothing is written.
func (x *Index) Remove(user, id string) (entry.Metadata, bool, error) {
	d, err := x.Load(user)
	if err != nil {
		return entry.Metadata{}, false, err
	}
	i := d.Find(id)
	if i < 0 {
		return entry.Metadata{}, false, nil
	}
	m, err := x.removeAt(user, d, i)
	if err != nil {
		return entry.Metadata{}, false, err
	}
	return m, true, nil
}

func (x *Index) removeAt(user string, d *Data, i int) (entry.Metadata, error) {
	if i < 0 || i >= d.Len() {
		return entry.Metadata{}, fmt.Errorf("index %d out of range [0,%d)", i, d.Len())
	}
	m := d.Metadata[i]
	d.Vectors = append(d.Vectors[:i], d.Vectors[i+1:]...)
	d.Metadata = append(d.Metadata[:i], d.Metadata[i+1:]...)
	if err := x.Save(user, d); err != nil {
		return entry.Metadata{}, err
	}
	return m, nil
}

// Users lists every user with an index directory.
func (x *Index) Users() ([]string, error) {
	dirs, err := os.ReadDir(x.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed users: %w", err)
	}
	var users []string
	for _, d := range dirs {
		if d.IsDir() {
			users = append(users, d.Name())
		}
	}
	return users, nil
}
