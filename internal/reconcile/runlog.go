package reconcile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
)

// WriteRunLog writes entry to upload-YYYY-MM-DD.json in dir, replacing an
// earlier log of the same day, and returns the path.
func WriteRunLog(dir string, entry model.RunLog) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "runlog: create dir %s", dir)
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "runlog: marshal")
	}
	p := filepath.Join(dir, "upload-"+entry.Timestamp.UTC().Format(time.DateOnly)+".json")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return "", eris.Wrapf(err, "runlog: write %s", p)
	}
	return p, nil
}
