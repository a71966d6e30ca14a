package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/enrich"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
)

// Importer drives one whole archive import: manifest, every individual
// message file, then every group file, then finalization. Progress is
// observable from other goroutines while Run is working.
type Importer struct {
	root   string
	st     store.Store
	source enrich.Source
	logger *slog.Logger

	mu          sync.Mutex
	currentFile string
	current     *Stream
	ing         *Ingester
}

func NewImporter(root string, st store.Store, source enrich.Source, logger *slog.Logger) *Importer {
	return &Importer{root: root, st: st, source: source, logger: logger}
}

// Progress reports the file in flight, how far through it the decoder is,
// and how many events have been ingested overall.
func (imp *Importer) Progress() (file string, pct float64, events int64) {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	if imp.current != nil {
		file = imp.currentFile
		pct = imp.current.Progress()
	}
	if imp.ing != nil {
		events = imp.ing.EventsIngested()
	}
	return file, pct, events
}

func (imp *Importer) Run(ctx context.Context) error {
	manifestPath := filepath.Join(imp.root, "data", "manifest.js")
	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return err
	}
	owner := manifest.UserInfo.AccountID
	imp.logger.Info("import_starting",
		"account", manifest.UserInfo.UserName,
		"owner_id", owner,
		"individual_files", len(manifest.DataTypes.DirectMessages.Files),
		"group_files", len(manifest.DataTypes.DirectMessagesGroup.Files),
	)

	importTx, err := imp.st.BeginImport(ctx, owner)
	if err != nil {
		return err
	}
	client := enrich.NewClient(imp.source, imp.logger)
	ing := NewIngester(importTx, client, owner, imp.logger)
	imp.mu.Lock()
	imp.ing = ing
	imp.mu.Unlock()

	fail := func(err error) error {
		if rbErr := importTx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			imp.logger.Error("rollback_failed", "error", rbErr)
		}
		return err
	}

	for _, group := range []bool{false, true} {
		files := manifest.DataTypes.DirectMessages.Files
		if group {
			files = manifest.DataTypes.DirectMessagesGroup.Files
		}
		for _, f := range files {
			if err := imp.ingestFile(ctx, ing, f.FileName, group); err != nil {
				return fail(err)
			}
		}
	}

	if err := ing.Finalize(ctx); err != nil {
		return fail(err)
	}
	return nil
}

func (imp *Importer) ingestFile(ctx context.Context, ing *Ingester, name string, group bool) error {
	path := filepath.Join(imp.root, filepath.FromSlash(name))
	if _, err := os.Stat(path); err != nil {
		// some archives list files relative to the data directory instead
		alt := filepath.Join(imp.root, "data", filepath.Base(name))
		if _, altErr := os.Stat(alt); altErr != nil {
			return fmt.Errorf("archive: listed file %s not found: %w", name, err)
		}
		path = alt
	}

	stream, err := NewStream(path)
	if err != nil {
		return err
	}
	imp.mu.Lock()
	imp.currentFile = name
	imp.current = stream
	imp.mu.Unlock()

	logged := int64(0)
	err = stream.Each(func(ev Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ing.AddEvent(ctx, ev, group); err != nil {
			return err
		}
		if n := ing.EventsIngested(); n-logged >= 1000 {
			logged = n
			imp.logger.Info("import_progress",
				"file", name,
				"percent", fmt.Sprintf("%.1f", stream.Progress()*100),
				"events", n,
			)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive: ingesting %s: %w", name, err)
	}
	return nil
}
