package resultentry

import (
	"os"

	"github.com/pkg/errors"
)

// FileNames maps each FileType present in a Result to the destination
// path it should be materialized to (spec.md §4.5: "materialize each
// part into a named file in the current directory, using file_type to
// choose the filename (object -> output_obj, dependency -> depfile, ...)").
type FileNames map[FileType]string

// Materialize writes every part of r for which FileNames has an entry to
// that path, with 0o644 permissions. Parts without a destination entry
// are skipped (e.g. stderr_output is usually consumed in memory by the
// engine rather than written to disk).
func Materialize(r *Result, names FileNames) error {
	for _, p := range r.Parts {
		path, ok := names[p.Type]
		if !ok || path == "" {
			continue
		}
		if err := os.WriteFile(path, p.Payload, 0o644); err != nil {
			return errors.Wrapf(err, "materialize %s to %q", p.Type, path)
		}
	}
	return nil
}
